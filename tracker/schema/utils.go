package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrRoleNotFound          = errors.New("role not found")
	ErrGroupNotFound         = errors.New("group not found")
	ErrProjectNotFound       = errors.New("project not found")
	ErrProjectMemberNotFound = errors.New("project membership not found")
	ErrSprintNotFound        = errors.New("sprint not found")
	ErrTaskNotFound          = errors.New("task not found")
	ErrCommentNotFound       = errors.New("comment not found")
	ErrAttachmentNotFound    = errors.New("attachment not found")
	ErrDbAccessFailed        = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

// GetUserWithRoles loads a user along with their roles and each role's
// permission set. Permission checks operate on this fully resolved value and
// never trigger further queries.
func GetUserWithRoles(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.Preload("Roles").Preload("Roles.Permissions").First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user with roles", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetRoleByName(name string, db *gorm.DB) (Role, error) {
	var role Role

	result := db.Preload("Permissions").First(&role, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return role, ErrRoleNotFound
		}
		slog.Error("sql error in get role by name", "name", name, "error", result.Error)
		return role, ErrDbAccessFailed
	}

	return role, nil
}

func GetGroup(groupId uuid.UUID, db *gorm.DB) (Group, error) {
	var group Group

	result := db.First(&group, "id = ?", groupId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return group, ErrGroupNotFound
		}
		slog.Error("sql error in get group", "group_id", groupId, "error", result.Error)
		return group, ErrDbAccessFailed
	}

	return group, nil
}

func GetProject(projectId uuid.UUID, db *gorm.DB) (Project, error) {
	var project Project

	result := db.First(&project, "id = ?", projectId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return project, ErrProjectNotFound
		}
		slog.Error("sql error in get project", "project_id", projectId, "error", result.Error)
		return project, ErrDbAccessFailed
	}

	return project, nil
}

func GetProjectMember(projectId, userId uuid.UUID, db *gorm.DB) (ProjectMember, error) {
	var member ProjectMember

	result := db.First(&member, "project_id = ? and user_id = ?", projectId, userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return member, ErrProjectMemberNotFound
		}
		slog.Error("sql error in get project member", "project_id", projectId, "user_id", userId, "error", result.Error)
		return member, ErrDbAccessFailed
	}

	return member, nil
}

func GetProjectIdsForUser(userId uuid.UUID, db *gorm.DB) ([]uuid.UUID, error) {
	var members []ProjectMember
	result := db.Find(&members, "user_id = ? and is_active = ?", userId, true)
	if result.Error != nil {
		slog.Error("sql error in get project ids for user", "user_id", userId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ProjectId)
	}
	return ids, nil
}

func GetSprint(sprintId uuid.UUID, db *gorm.DB) (Sprint, error) {
	var sprint Sprint

	result := db.First(&sprint, "id = ?", sprintId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return sprint, ErrSprintNotFound
		}
		slog.Error("sql error in get sprint", "sprint_id", sprintId, "error", result.Error)
		return sprint, ErrDbAccessFailed
	}

	return sprint, nil
}

func GetTask(taskId uuid.UUID, db *gorm.DB) (Task, error) {
	var task Task

	result := db.First(&task, "id = ?", taskId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return task, ErrTaskNotFound
		}
		slog.Error("sql error in get task", "task_id", taskId, "error", result.Error)
		return task, ErrDbAccessFailed
	}

	return task, nil
}

func GetComment(commentId uuid.UUID, db *gorm.DB) (Comment, error) {
	var comment Comment

	result := db.First(&comment, "id = ?", commentId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return comment, ErrCommentNotFound
		}
		slog.Error("sql error in get comment", "comment_id", commentId, "error", result.Error)
		return comment, ErrDbAccessFailed
	}

	return comment, nil
}

func GetAttachment(attachmentId uuid.UUID, db *gorm.DB) (Attachment, error) {
	var attachment Attachment

	result := db.First(&attachment, "id = ?", attachmentId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return attachment, ErrAttachmentNotFound
		}
		slog.Error("sql error in get attachment", "attachment_id", attachmentId, "error", result.Error)
		return attachment, ErrDbAccessFailed
	}

	return attachment, nil
}
