package services

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/auth"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/storage"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type ProjectService struct {
	db       *gorm.DB
	storage  storage.Storage
	userAuth auth.IdentityProvider
}

func (s *ProjectService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.RequirePermission(auth.ProjectCreate)).Post("/create", s.CreateProject)

	r.Get("/list", s.List)

	r.Route("/{project_id}", func(r chi.Router) {
		r.With(auth.ProjectLevelOnly(s.db, auth.ViewerLevel)).Get("/", s.GetProject)

		r.Group(func(r chi.Router) {
			r.Use(auth.ProjectLevelOnly(s.db, auth.AdminLevel))

			r.Post("/update", s.UpdateProject)
			r.Post("/archive", s.ArchiveProject)
			r.Post("/unarchive", s.UnarchiveProject)
			r.Post("/metrics/refresh", s.RefreshMetrics)
			r.Get("/export", s.ExportProject)

			r.Post("/members/{user_id}", s.AddMember)
			r.Post("/members/{user_id}/role", s.UpdateMemberRole)
			r.Delete("/members/{user_id}", s.RemoveMember)
		})

		r.With(auth.ProjectLevelOnly(s.db, auth.ViewerLevel)).Get("/members", s.ListMembers)

		r.With(auth.ProjectLevelOnly(s.db, auth.OwnerLevel)).Delete("/", s.DeleteProject)
	})

	return r
}

type createProjectRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`

	Settings *schema.ProjectSettings `json:"settings"`
}

type createProjectResponse struct {
	ProjectId uuid.UUID `json:"project_id"`
}

func validProjectKey(key string) bool {
	if len(key) < 2 || len(key) > 10 {
		return false
	}
	for _, c := range key {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func (s *ProjectService) CreateProject(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createProjectRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	params.Key = strings.ToUpper(params.Key)

	if params.Name == "" {
		http.Error(w, "project name must be specified", http.StatusBadRequest)
		return
	}
	if !validProjectKey(params.Key) {
		http.Error(w, fmt.Sprintf("invalid project key '%v', must be 2-10 uppercase letters or digits", params.Key), http.StatusUnprocessableEntity)
		return
	}
	if params.Visibility == "" {
		params.Visibility = schema.VisibilityPrivate
	}

	settings := schema.DefaultProjectSettings()
	if params.Settings != nil {
		settings = *params.Settings
	}

	newProject := schema.Project{
		Id:          uuid.New(),
		Key:         params.Key,
		Name:        params.Name,
		Description: params.Description,
		Status:      schema.ProjectPlanning,
		Visibility:  params.Visibility,
		OwnerId:     user.Id,
		Settings:    settings,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkForDuplicateProjectKey(txn, params.Key); err != nil {
			return err
		}

		result := txn.Create(&newProject)
		if result.Error != nil {
			slog.Error("sql error creating new project", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		member := schema.ProjectMember{
			ProjectId: newProject.Id,
			UserId:    user.Id,
			Role:      schema.ProjectRoleOwner,
			IsActive:  true,
			JoinedAt:  time.Now().UTC(),
		}
		result = txn.Create(&member)
		if result.Error != nil {
			slog.Error("sql error creating owner membership for new project", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating project: %v", err), GetResponseCode(err))
		return
	}

	recordActivity(s.db, "project", newProject.Id, user.Id, "created", map[string]interface{}{"key": newProject.Key})

	utils.WriteJsonResponse(w, createProjectResponse{ProjectId: newProject.Id})
}

type ProjectInfo struct {
	Id          uuid.UUID `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Visibility  string    `json:"visibility"`
	OwnerId     uuid.UUID `json:"owner_id"`

	Settings schema.ProjectSettings `json:"settings"`
	Metrics  schema.ProjectMetrics  `json:"metrics"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func convertToProjectInfo(project *schema.Project) ProjectInfo {
	return ProjectInfo{
		Id:          project.Id,
		Key:         project.Key,
		Name:        project.Name,
		Description: project.Description,
		Status:      project.Status,
		Visibility:  project.Visibility,
		OwnerId:     project.OwnerId,
		Settings:    project.Settings,
		Metrics:     project.Metrics,
		ArchivedAt:  project.ArchivedAt,
		CreatedAt:   project.CreatedAt,
	}
}

func (s *ProjectService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	principal := auth.NewPrincipal(user)

	var projects []schema.Project
	var result *gorm.DB
	if principal.HasAnyRole(auth.RoleSuperAdmin, auth.RoleAdmin) {
		result = s.db.Find(&projects)
	} else {
		memberProjects, err := schema.GetProjectIdsForUser(user.Id, s.db)
		if err != nil {
			http.Error(w, "error loading user projects", http.StatusInternalServerError)
			return
		}
		result = s.db.
			Where("id IN ?", memberProjects).
			Or("visibility = ?", schema.VisibilityPublic).
			Or("owner_id = ?", user.Id).
			Find(&projects)
	}

	if result.Error != nil {
		slog.Error("sql error listing accessible projects", "user_id", user.Id, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing projects: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ProjectInfo, 0, len(projects))
	for _, project := range projects {
		infos = append(infos, convertToProjectInfo(&project))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *ProjectService) GetProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	project, err := schema.GetProject(projectId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting project: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToProjectInfo(&project))
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Visibility  *string `json:"visibility"`

	Settings *schema.ProjectSettings `json:"settings"`
}

func (s *ProjectService) UpdateProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateProjectRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		project, err := schema.GetProject(projectId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if project.Status == schema.ProjectArchived {
			return CodedError(errors.New("archived projects cannot be updated, unarchive first"), http.StatusUnprocessableEntity)
		}

		if params.Name != nil {
			project.Name = *params.Name
		}
		if params.Description != nil {
			project.Description = *params.Description
		}
		if params.Status != nil {
			switch *params.Status {
			case schema.ProjectPlanning, schema.ProjectActive, schema.ProjectOnHold, schema.ProjectCompleted:
			default:
				return CodedError(fmt.Errorf("invalid project status '%v'", *params.Status), http.StatusUnprocessableEntity)
			}
			project.Status = *params.Status
		}
		if params.Visibility != nil {
			switch *params.Visibility {
			case schema.VisibilityPrivate, schema.VisibilityTeam, schema.VisibilityPublic:
			default:
				return CodedError(fmt.Errorf("invalid project visibility '%v'", *params.Visibility), http.StatusUnprocessableEntity)
			}
			project.Visibility = *params.Visibility
		}
		if params.Settings != nil {
			project.Settings = *params.Settings
		}

		result := txn.Save(&project)
		if result.Error != nil {
			slog.Error("sql error updating project", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating project: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type archiveProjectRequest struct {
	Reason string `json:"reason"`
}

func (s *ProjectService) ArchiveProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params archiveProjectRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		project, err := schema.GetProject(projectId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if project.Status == schema.ProjectArchived {
			return CodedError(errors.New("project is already archived"), http.StatusUnprocessableEntity)
		}

		now := time.Now().UTC()
		project.Status = schema.ProjectArchived
		project.ArchivedAt = &now
		project.ArchivedBy = &user.Id
		project.ArchiveReason = params.Reason

		result := txn.Save(&project)
		if result.Error != nil {
			slog.Error("sql error archiving project", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error archiving project: %v", err), GetResponseCode(err))
		return
	}

	recordActivity(s.db, "project", projectId, user.Id, "archived", map[string]interface{}{"reason": params.Reason})

	utils.WriteSuccess(w)
}

func (s *ProjectService) UnarchiveProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		project, err := schema.GetProject(projectId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if project.Status != schema.ProjectArchived {
			return CodedError(errors.New("project is not archived"), http.StatusUnprocessableEntity)
		}

		result := txn.Model(&project).Updates(map[string]interface{}{
			"status":         schema.ProjectActive,
			"archived_at":    nil,
			"archived_by":    nil,
			"archive_reason": "",
		})
		if result.Error != nil {
			slog.Error("sql error unarchiving project", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error unarchiving project: %v", err), GetResponseCode(err))
		return
	}

	recordActivity(s.db, "project", projectId, user.Id, "unarchived", nil)

	utils.WriteSuccess(w)
}

func (s *ProjectService) DeleteProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkProjectExists(txn, projectId); err != nil {
			return err
		}

		for _, model := range []interface{}{
			&schema.Comment{}, &schema.Attachment{},
		} {
			result := txn.Where("task_id IN (?)", txn.Model(&schema.Task{}).Select("id").Where("project_id = ?", projectId)).Delete(model)
			if result.Error != nil {
				slog.Error("sql error deleting project task data", "project_id", projectId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		for _, deletion := range []struct {
			model interface{}
			query string
		}{
			{&schema.Task{}, "project_id = ?"},
			{&schema.Sprint{}, "project_id = ?"},
			{&schema.ProjectMember{}, "project_id = ?"},
		} {
			result := txn.Where(deletion.query, projectId).Delete(deletion.model)
			if result.Error != nil {
				slog.Error("sql error deleting project data", "project_id", projectId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		result := txn.Delete(&schema.Project{Id: projectId})
		if result.Error != nil {
			slog.Error("sql error deleting project", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting project: %v", err), GetResponseCode(err))
		return
	}

	if err := s.storage.Delete(projectPath(projectId)); err != nil {
		slog.Error("error deleting project storage", "project_id", projectId, "error", err)
	}

	utils.WriteSuccess(w)
}

type MemberInfo struct {
	UserId    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	JoinedAt  time.Time `json:"joined_at"`
}

func (s *ProjectService) ListMembers(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var members []schema.ProjectMember
	result := s.db.Preload("User").Where("project_id = ?", projectId).Find(&members)
	if result.Error != nil {
		slog.Error("sql error listing project members", "project_id", projectId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing project members: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]MemberInfo, 0, len(members))
	for _, member := range members {
		info := MemberInfo{
			UserId:   member.UserId,
			Role:     member.Role,
			IsActive: member.IsActive,
			JoinedAt: member.JoinedAt,
		}
		if member.User != nil {
			info.Email = member.User.Email
			info.FirstName = member.User.FirstName
			info.LastName = member.User.LastName
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}

type addMemberRequest struct {
	Role string `json:"role"`
}

func (s *ProjectService) AddMember(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params addMemberRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Role == "" {
		params.Role = schema.ProjectRoleMember
	}
	if err := schema.CheckValidProjectRole(params.Role); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var project schema.Project

	err = s.db.Transaction(func(txn *gorm.DB) error {
		project, err = schema.GetProject(projectId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		var existing schema.ProjectMember
		result := txn.Limit(1).Find(&existing, "project_id = ? AND user_id = ?", projectId, userId)
		if result.Error != nil {
			slog.Error("sql error checking for existing project member", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("user %v is already a member of project %v", userId, projectId), http.StatusConflict)
		}

		now := time.Now().UTC()
		member := schema.ProjectMember{
			ProjectId: projectId,
			UserId:    userId,
			Role:      params.Role,
			IsActive:  true,
			InvitedBy: &actor.Id,
			InvitedAt: &now,
			JoinedAt:  now,
		}
		result = txn.Create(&member)
		if result.Error != nil {
			slog.Error("sql error creating new project member", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return queueNotification(
			txn, userId, schema.NotifyProjectInvite,
			fmt.Sprintf("Added to project %v", project.Name),
			fmt.Sprintf("You were added to project %v as %v", project.Name, params.Role),
			fmt.Sprintf("/projects/%v", projectId),
		)
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error adding member to project: %v", err), GetResponseCode(err))
		return
	}

	recordActivity(s.db, "project", projectId, actor.Id, "member_added", map[string]interface{}{"user_id": userId.String(), "role": params.Role})

	utils.WriteSuccess(w)
}

// checkNotLastOwner blocks demoting or removing the only remaining active
// owner of a project.
func checkNotLastOwner(txn *gorm.DB, projectId, userId uuid.UUID) error {
	member, err := schema.GetProjectMember(projectId, userId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrProjectMemberNotFound) {
			return CodedError(errors.New("user is not a member of project"), http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}

	if member.Role != schema.ProjectRoleOwner {
		return nil
	}

	var owners int64
	result := txn.Model(&schema.ProjectMember{}).
		Where("project_id = ? AND role = ? AND is_active = ?", projectId, schema.ProjectRoleOwner, true).
		Count(&owners)
	if result.Error != nil {
		slog.Error("sql error counting project owners", "project_id", projectId, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	if owners < 2 {
		return CodedError(errors.New("project must have at least one owner"), http.StatusUnprocessableEntity)
	}

	return nil
}

func (s *ProjectService) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params addMemberRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidProjectRole(params.Role); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if params.Role != schema.ProjectRoleOwner {
			if err := checkNotLastOwner(txn, projectId, userId); err != nil {
				return err
			}
		} else if err := checkProjectMember(txn, projectId, userId); err != nil {
			return err
		}

		result := txn.Model(&schema.ProjectMember{ProjectId: projectId, UserId: userId}).Update("role", params.Role)
		if result.Error != nil {
			slog.Error("sql error updating project member role", "project_id", projectId, "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating member role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ProjectService) RemoveMember(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
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
		if err := checkNotLastOwner(txn, projectId, userId); err != nil {
			return err
		}

		result := txn.Delete(&schema.ProjectMember{ProjectId: projectId, UserId: userId})
		if result.Error != nil {
			slog.Error("sql error removing project member", "project_id", projectId, "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		// Tasks assigned to the removed member go back to the pool.
		result = txn.Model(&schema.Task{}).
			Where("project_id = ? AND assignee_id = ?", projectId, userId).
			Update("assignee_id", nil)
		if result.Error != nil {
			slog.Error("sql error unassigning tasks after removing member", "project_id", projectId, "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error removing member from project: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func computeProjectMetrics(txn *gorm.DB, projectId uuid.UUID) (schema.ProjectMetrics, error) {
	var tasks []schema.Task
	result := txn.Where("project_id = ?", projectId).Find(&tasks)
	if result.Error != nil {
		slog.Error("sql error loading tasks for metrics", "project_id", projectId, "error", result.Error)
		return schema.ProjectMetrics{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	var metrics schema.ProjectMetrics
	for _, task := range tasks {
		metrics.TotalTasks++
		points := 0
		if task.StoryPoints != nil {
			points = *task.StoryPoints
		}
		metrics.TotalPoints += points
		if task.Status == schema.TaskDone {
			metrics.CompletedTasks++
			metrics.CompletedPoints += points
		}
	}

	var sprints []schema.Sprint
	result = txn.Where("project_id = ? AND status = ?", projectId, schema.SprintCompleted).Find(&sprints)
	if result.Error != nil {
		slog.Error("sql error loading sprints for metrics", "project_id", projectId, "error", result.Error)
		return schema.ProjectMetrics{}, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	if len(sprints) > 0 {
		total := 0.0
		for _, sprint := range sprints {
			total += float64(sprint.CompletedPoints)
		}
		metrics.Velocity = total / float64(len(sprints))
	}

	return metrics, nil
}

func (s *ProjectService) RefreshMetrics(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var metrics schema.ProjectMetrics

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkProjectExists(txn, projectId); err != nil {
			return err
		}

		metrics, err = computeProjectMetrics(txn, projectId)
		if err != nil {
			return err
		}

		result := txn.Model(&schema.Project{Id: projectId}).Update("metrics", metrics)
		if result.Error != nil {
			slog.Error("sql error saving project metrics", "project_id", projectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error refreshing project metrics: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, metrics)
}

func projectPath(projectId uuid.UUID) string {
	return filepath.Join("projects", projectId.String())
}

type projectExport struct {
	Project ProjectInfo  `yaml:"project"`
	Members []MemberInfo `yaml:"members"`
	Sprints []SprintInfo `yaml:"sprints"`
	Tasks   []TaskInfo   `yaml:"tasks"`
}

type exportResponse struct {
	Path string `json:"path"`
}

// ExportProject writes a YAML snapshot of the project and its sprints, tasks,
// and members to storage and zips it for download.
func (s *ProjectService) ExportProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.URLParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	project, err := schema.GetProject(projectId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error exporting project: %v", err), http.StatusInternalServerError)
		return
	}

	export := projectExport{Project: convertToProjectInfo(&project)}

	var members []schema.ProjectMember
	if result := s.db.Preload("User").Where("project_id = ?", projectId).Find(&members); result.Error != nil {
		slog.Error("sql error loading members for export", "project_id", projectId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error exporting project: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}
	for _, member := range members {
		info := MemberInfo{UserId: member.UserId, Role: member.Role, IsActive: member.IsActive, JoinedAt: member.JoinedAt}
		if member.User != nil {
			info.Email = member.User.Email
		}
		export.Members = append(export.Members, info)
	}

	var sprints []schema.Sprint
	if result := s.db.Where("project_id = ?", projectId).Find(&sprints); result.Error != nil {
		slog.Error("sql error loading sprints for export", "project_id", projectId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error exporting project: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}
	for _, sprint := range sprints {
		export.Sprints = append(export.Sprints, convertToSprintInfo(&sprint))
	}

	var tasks []schema.Task
	if result := s.db.Where("project_id = ?", projectId).Find(&tasks); result.Error != nil {
		slog.Error("sql error loading tasks for export", "project_id", projectId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error exporting project: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}
	for _, task := range tasks {
		export.Tasks = append(export.Tasks, convertToTaskInfo(&task))
	}

	data, err := yaml.Marshal(&export)
	if err != nil {
		slog.Error("error encoding project export", "project_id", projectId, "error", err)
		http.Error(w, "error encoding project export", http.StatusInternalServerError)
		return
	}

	exportDir := filepath.Join(projectPath(projectId), "export")
	if err := s.storage.Write(filepath.Join(exportDir, "project.yaml"), bytes.NewReader(data)); err != nil {
		slog.Error("error saving project export", "project_id", projectId, "error", err)
		http.Error(w, "error saving project export", http.StatusInternalServerError)
		return
	}

	if err := s.storage.Zip(exportDir); err != nil {
		slog.Error("error archiving project export", "project_id", projectId, "error", err)
		http.Error(w, "error archiving project export", http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, exportResponse{Path: exportDir + ".zip"})
}
