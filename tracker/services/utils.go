package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

func checkUserExists(txn *gorm.DB, userId uuid.UUID) error {
	if _, err := schema.GetUser(userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkProjectExists(txn *gorm.DB, projectId uuid.UUID) error {
	if _, err := schema.GetProject(projectId, txn); err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkGroupExists(txn *gorm.DB, groupId uuid.UUID) error {
	if _, err := schema.GetGroup(groupId, txn); err != nil {
		if errors.Is(err, schema.ErrGroupNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkProjectMember(txn *gorm.DB, projectId, userId uuid.UUID) error {
	if _, err := schema.GetProjectMember(projectId, userId, txn); err != nil {
		if errors.Is(err, schema.ErrProjectMemberNotFound) {
			return CodedError(errors.New("user is not a member of project"), http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkForDuplicateProjectKey(txn *gorm.DB, key string) error {
	var duplicate schema.Project
	result := txn.Limit(1).Find(&duplicate, "key = ?", key)
	if result.Error != nil {
		slog.Error("sql error checking for duplicate project key", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected != 0 {
		return CodedError(fmt.Errorf("a project with key %v already exists", key), http.StatusConflict)
	}
	return nil
}

// nextTaskKey reserves the next task key for a project. The project row is
// locked and its counter incremented within the caller's transaction so
// concurrent task creation cannot produce duplicate keys.
func nextTaskKey(txn *gorm.DB, projectId uuid.UUID) (string, error) {
	var project schema.Project
	result := txn.First(&project, "id = ?", projectId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", CodedError(schema.ErrProjectNotFound, http.StatusNotFound)
		}
		slog.Error("sql error loading project for task key generation", "project_id", projectId, "error", result.Error)
		return "", CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	key := fmt.Sprintf("%v-%d", project.Key, project.NextTaskNumber)

	update := txn.Model(&schema.Project{Id: projectId}).
		Where("next_task_number = ?", project.NextTaskNumber).
		Update("next_task_number", project.NextTaskNumber+1)
	if update.Error != nil {
		slog.Error("sql error incrementing task counter", "project_id", projectId, "error", update.Error)
		return "", CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if update.RowsAffected != 1 {
		return "", CodedError(errors.New("conflict generating task key, please retry"), http.StatusConflict)
	}

	return key, nil
}

// checkNoTaskCycle verifies that assigning newParentId as the parent of taskId
// would not create a cycle in the subtask tree. It walks up from the proposed
// parent until the root, failing if taskId is encountered along the way.
func checkNoTaskCycle(txn *gorm.DB, taskId, newParentId uuid.UUID) error {
	if taskId == newParentId {
		return CodedError(errors.New("a task cannot be its own parent"), http.StatusUnprocessableEntity)
	}

	visited := map[uuid.UUID]struct{}{taskId: {}}
	current := newParentId

	for {
		if _, seen := visited[current]; seen {
			return CodedError(fmt.Errorf("assigning parent %v would create a cycle in the subtask tree", newParentId), http.StatusUnprocessableEntity)
		}
		visited[current] = struct{}{}

		task, err := schema.GetTask(current, txn)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if task.ParentId == nil {
			return nil
		}
		current = *task.ParentId
	}
}

// recordActivity appends an entry to the activity feed. Failures are logged
// but never fail the surrounding operation.
func recordActivity(db *gorm.DB, entityType string, entityId, userId uuid.UUID, action string, details map[string]interface{}) {
	activity := schema.Activity{
		Id:         uuid.New(),
		EntityType: entityType,
		EntityId:   entityId,
		UserId:     userId,
		Action:     action,
		Details:    details,
	}
	result := db.Create(&activity)
	if result.Error != nil {
		slog.Error("sql error recording activity", "entity_type", entityType, "entity_id", entityId, "action", action, "error", result.Error)
	}
}

// queueNotification creates an unsent notification row. The dispatch loop
// marks it sent later.
func queueNotification(txn *gorm.DB, userId uuid.UUID, notifyType, title, message, actionUrl string) error {
	notification := schema.Notification{
		Id:        uuid.New(),
		UserId:    userId,
		Type:      notifyType,
		Title:     title,
		Message:   message,
		ActionUrl: actionUrl,
	}
	result := txn.Create(&notification)
	if result.Error != nil {
		slog.Error("sql error creating notification", "user_id", userId, "type", notifyType, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

func checkDiskUsage(storage storage.Storage) error {
	stats, err := storage.Usage()
	if err != nil {
		slog.Error("unable to get disk usage from storage", "error", err)
		return CodedError(errors.New("unable to get disk usage"), http.StatusInternalServerError)
	}
	oneMib := uint64(1024 * 1024)
	// Either 20% disk needs to be free or 20Gb (in case the disk is very large)
	threshold := min(stats.TotalBytes/5, 20*1024*oneMib)
	if stats.FreeBytes < threshold {
		used := (stats.TotalBytes - stats.FreeBytes) / oneMib
		total := stats.TotalBytes / oneMib
		delta := (threshold - stats.FreeBytes) / oneMib
		return CodedError(fmt.Errorf("insufficient disk space available, usage: %d/%d Mib, please clear %d Mib", used, total, delta), http.StatusInsufficientStorage)
	}
	return nil
}

func checkSufficientStorage(storage storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if err := checkDiskUsage(storage); err != nil {
				slog.Error(err.Error())
				http.Error(w, err.Error(), GetResponseCode(err))
				return
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(handler)
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
