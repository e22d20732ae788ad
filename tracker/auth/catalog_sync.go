package auth

import (
	"fmt"
	"log/slog"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncCatalog mirrors the static permission catalog into the Permission and
// Role tables so that role permission sets can be eagerly loaded with each
// user. It runs once at startup; the persisted rows are never mutated at
// runtime. Existing rows are matched by name, so repeated boots are
// idempotent.
func SyncCatalog(db *gorm.DB) error {
	return db.Transaction(func(txn *gorm.DB) error {
		permsByName := make(map[Permission]schema.Permission)

		for _, perm := range AllPermissions() {
			var existing schema.Permission
			result := txn.Limit(1).Find(&existing, "name = ?", string(perm))
			if result.Error != nil {
				slog.Error("sql error checking for existing permission", "name", perm, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			if result.RowsAffected == 0 {
				existing = schema.Permission{
					Id:       uuid.New(),
					Name:     string(perm),
					Resource: perm.Resource(),
					Action:   perm.Action(),
				}
				if err := txn.Create(&existing).Error; err != nil {
					slog.Error("sql error creating permission", "name", perm, "error", err)
					return schema.ErrDbAccessFailed
				}
			}
			permsByName[perm] = existing
		}

		for _, role := range AllRoles() {
			var existing schema.Role
			result := txn.Limit(1).Find(&existing, "name = ?", string(role))
			if result.Error != nil {
				slog.Error("sql error checking for existing role", "name", role, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			if result.RowsAffected == 0 {
				existing = schema.Role{
					Id:       uuid.New(),
					Name:     string(role),
					IsActive: true,
					IsSystem: true,
				}
				if err := txn.Create(&existing).Error; err != nil {
					slog.Error("sql error creating role", "name", role, "error", err)
					return schema.ErrDbAccessFailed
				}
			}

			rolePerms := make([]schema.Permission, 0)
			for _, perm := range GlobalRolePermissions(role).Sorted() {
				rolePerms = append(rolePerms, permsByName[perm])
			}
			if err := txn.Model(&existing).Association("Permissions").Replace(rolePerms); err != nil {
				slog.Error("sql error assigning role permissions", "name", role, "error", err)
				return fmt.Errorf("error assigning permissions to role %v: %w", role, err)
			}
		}

		return nil
	})
}
