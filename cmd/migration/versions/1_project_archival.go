package versions

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Adds the archival columns to projects and folds the old boolean flag into
// the status column. Databases created before archival was introduced carried
// an is_archived column instead.
func Migration_1_project_archival(txn *gorm.DB) error {
	type Project struct {
		ArchivedAt    *time.Time
		ArchivedBy    *uuid.UUID `gorm:"type:uuid"`
		ArchiveReason string
	}

	if err := txn.Migrator().AddColumn(&Project{}, "ArchivedAt"); err != nil {
		return err
	}
	if err := txn.Migrator().AddColumn(&Project{}, "ArchivedBy"); err != nil {
		return err
	}
	if err := txn.Migrator().AddColumn(&Project{}, "ArchiveReason"); err != nil {
		return err
	}

	if txn.Migrator().HasColumn(&Project{}, "is_archived") {
		err := txn.Model(&Project{}).Where("is_archived = ?", true).
			Updates(map[string]interface{}{"status": "archived", "archived_at": time.Now().UTC()}).Error
		if err != nil {
			return err
		}

		if err := txn.Migrator().DropColumn(&Project{}, "is_archived"); err != nil {
			return err
		}
	}

	return nil
}

func Rollback_1_project_archival(txn *gorm.DB) error {
	type Project struct {
		ArchivedAt    *time.Time
		ArchivedBy    *uuid.UUID `gorm:"type:uuid"`
		ArchiveReason string
	}

	for _, col := range []string{"ArchivedAt", "ArchivedBy", "ArchiveReason"} {
		if err := txn.Migrator().DropColumn(&Project{}, col); err != nil {
			return err
		}
	}
	return nil
}
