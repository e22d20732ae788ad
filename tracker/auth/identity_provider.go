package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithEmail = errors.New("no user found for given email")
	ErrInvalidCredentials    = errors.New("invalid login credentials")
	ErrGeneratingJwt         = errors.New("error generating jwt")
	ErrEmailAlreadyInUse     = errors.New("email is already in use")
	ErrUserInactive          = errors.New("user account is deactivated")
)

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	AllowDirectSignup() bool

	LoginWithEmail(email, password string) (LoginResult, error)

	LoginWithToken(accessToken string) (LoginResult, error)

	CreateUser(email, password, firstName, lastName string) (uuid.UUID, error)

	VerifyUser(userId uuid.UUID) error

	DeleteUser(userId uuid.UUID) error

	GetTokenExpiration(r *http.Request) (time.Time, error)
}

// addInitialAdminToDb creates the bootstrap user and grants it the
// super_admin role. Safe to call on every boot.
func addInitialAdminToDb(db *gorm.DB, userId uuid.UUID, email string, password []byte) error {
	user := schema.User{
		Id:         userId,
		Email:      email,
		FirstName:  "Platform",
		LastName:   "Admin",
		IsActive:   true,
		IsVerified: true,
		Theme:      "system",
	}
	if password != nil {
		user.Password = password
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or email = ?", userId, email)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			if result := txn.Create(&user); result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			existingUser = user
		}

		superAdmin, err := schema.GetRoleByName(string(RoleSuperAdmin), txn)
		if err != nil {
			return fmt.Errorf("super_admin role missing, catalog must be synced before provider setup: %w", err)
		}
		if err := txn.Model(&existingUser).Association("Roles").Append(&superAdmin); err != nil {
			slog.Error("sql error assigning super_admin role to initial admin", "error", err)
			return schema.ErrDbAccessFailed
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const (
	userRequestContextKey requestContextKey = "user"
	projectRoleContextKey requestContextKey = "project_role"
)
