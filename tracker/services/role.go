package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/auth"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RoleService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *RoleService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Get("/permissions", s.PermissionCatalog)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.UserManageRoles))

		r.Post("/create", s.CreateRole)
		r.Post("/{role_name}/users/{user_id}", s.AssignRole)
		r.Delete("/{role_name}/users/{user_id}", s.RevokeRole)
		r.Post("/{role_name}/permissions", s.GrantPermission)
		r.Delete("/{role_name}/permissions/{permission_name}", s.RevokePermission)
	})

	return r
}

type RoleInfo struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions"`
}

func (s *RoleService) List(w http.ResponseWriter, r *http.Request) {
	var roles []schema.Role
	result := s.db.Preload("Permissions").Where("is_active = ?", true).Find(&roles)
	if result.Error != nil {
		slog.Error("sql error listing roles", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing roles: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		perms := make([]string, 0, len(role.Permissions))
		for _, perm := range role.Permissions {
			perms = append(perms, perm.Name)
		}
		infos = append(infos, RoleInfo{
			Id:          role.Id,
			Name:        role.Name,
			Description: role.Description,
			IsSystem:    role.IsSystem,
			Permissions: perms,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

type PermissionInfo struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (s *RoleService) PermissionCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := auth.AllPermissions()

	infos := make([]PermissionInfo, 0, len(catalog))
	for _, perm := range catalog {
		infos = append(infos, PermissionInfo{
			Name:     string(perm),
			Resource: perm.Resource(),
			Action:   perm.Action(),
		})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *RoleService) AssignRole(w http.ResponseWriter, r *http.Request) {
	roleName, err := utils.URLParam(r, "role_name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		role, err := schema.GetRoleByName(roleName, txn)
		if err != nil {
			if errors.Is(err, schema.ErrRoleNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := txn.Model(&user).Association("Roles").Append(&role); err != nil {
			slog.Error("sql error assigning role to user", "user_id", userId, "role", roleName, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error assigning role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *RoleService) RevokeRole(w http.ResponseWriter, r *http.Request) {
	roleName, err := utils.URLParam(r, "role_name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		role, err := schema.GetRoleByName(roleName, txn)
		if err != nil {
			if errors.Is(err, schema.ErrRoleNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if roleName == string(auth.RoleSuperAdmin) {
			count := txn.Model(&role).Association("Users").Count()
			if count < 2 {
				return CodedError(fmt.Errorf("cannot revoke %v from user %v since no holders would be left", roleName, userId), http.StatusUnprocessableEntity)
			}
		}

		if err := txn.Model(&user).Association("Roles").Delete(&role); err != nil {
			slog.Error("sql error revoking role from user", "user_id", userId, "role", roleName, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error revoking role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type createRoleArgs struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type createRoleResponse struct {
	RoleId uuid.UUID `json:"role_id"`
}

// CreateRole adds a custom role. Custom roles are never system roles, so they
// can be edited or removed later without disturbing the seeded catalog.
func (s *RoleService) CreateRole(w http.ResponseWriter, r *http.Request) {
	var args createRoleArgs
	if !utils.ParseRequestBody(w, r, &args) {
		return
	}

	if args.Name == "" {
		http.Error(w, "role name must be specified", http.StatusUnprocessableEntity)
		return
	}

	newRole := schema.Role{
		Id:          uuid.New(),
		Name:        args.Name,
		Description: args.Description,
		IsActive:    true,
		IsSystem:    false,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Role
		result := txn.Limit(1).Find(&existing, "name = ?", args.Name)
		if result.Error != nil {
			slog.Error("sql error checking for existing role", "name", args.Name, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected > 0 {
			return CodedError(fmt.Errorf("role %v already exists", args.Name), http.StatusConflict)
		}

		perms, err := loadPermissions(txn, args.Permissions)
		if err != nil {
			return err
		}
		newRole.Permissions = perms

		if err := txn.Create(&newRole).Error; err != nil {
			slog.Error("sql error creating role", "name", args.Name, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createRoleResponse{RoleId: newRole.Id})
}

func loadPermissions(txn *gorm.DB, names []string) ([]schema.Permission, error) {
	perms := make([]schema.Permission, 0, len(names))
	for _, name := range names {
		var perm schema.Permission
		result := txn.Limit(1).Find(&perm, "name = ?", name)
		if result.Error != nil {
			slog.Error("sql error loading permission", "name", name, "error", result.Error)
			return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return nil, CodedError(fmt.Errorf("unknown permission %v", name), http.StatusUnprocessableEntity)
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

// loadEditableRole returns the named role, rejecting system roles since their
// permission sets come from the seeded catalog.
func loadEditableRole(txn *gorm.DB, name string) (schema.Role, error) {
	role, err := schema.GetRoleByName(name, txn)
	if err != nil {
		if errors.Is(err, schema.ErrRoleNotFound) {
			return role, CodedError(err, http.StatusNotFound)
		}
		return role, CodedError(err, http.StatusInternalServerError)
	}
	if role.IsSystem {
		return role, CodedError(fmt.Errorf("permissions of system role %v cannot be changed", name), http.StatusUnprocessableEntity)
	}
	return role, nil
}

type grantPermissionArgs struct {
	Permission string `json:"permission"`
}

func (s *RoleService) GrantPermission(w http.ResponseWriter, r *http.Request) {
	roleName, err := utils.URLParam(r, "role_name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var args grantPermissionArgs
	if !utils.ParseRequestBody(w, r, &args) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		role, err := loadEditableRole(txn, roleName)
		if err != nil {
			return err
		}

		perms, err := loadPermissions(txn, []string{args.Permission})
		if err != nil {
			return err
		}

		if err := txn.Model(&role).Association("Permissions").Append(&perms[0]); err != nil {
			slog.Error("sql error granting permission", "role", roleName, "permission", args.Permission, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error granting permission: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *RoleService) RevokePermission(w http.ResponseWriter, r *http.Request) {
	roleName, err := utils.URLParam(r, "role_name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	permissionName, err := utils.URLParam(r, "permission_name")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		role, err := loadEditableRole(txn, roleName)
		if err != nil {
			return err
		}

		perms, err := loadPermissions(txn, []string{permissionName})
		if err != nil {
			return err
		}

		if err := txn.Model(&role).Association("Permissions").Delete(&perms[0]); err != nil {
			slog.Error("sql error revoking permission", "role", roleName, "permission", permissionName, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error revoking permission: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
