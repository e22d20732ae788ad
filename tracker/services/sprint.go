package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/auth"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SprintService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *SprintService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.CreateSprint)
	r.Get("/list", s.List)

	r.Route("/{sprint_id}", func(r chi.Router) {
		r.Get("/", s.GetSprint)
		r.Post("/update", s.UpdateSprint)
		r.Post("/start", s.StartSprint)
		r.Post("/complete", s.CompleteSprint)
		r.Post("/cancel", s.CancelSprint)
		r.Post("/burndown", s.RecordBurndown)
		r.Post("/retrospective", s.SaveRetrospective)
		r.Get("/retrospective", s.GetRetrospective)
		r.Delete("/", s.DeleteSprint)
	})

	return r
}

// loadSprintChecked loads a sprint and verifies the caller's standing in its
// project before any mutation.
func (s *SprintService) loadSprintChecked(r *http.Request, sprintId uuid.UUID, admin bool) (schema.Sprint, error) {
	sprint, err := schema.GetSprint(sprintId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrSprintNotFound) {
			return sprint, CodedError(err, http.StatusNotFound)
		}
		return sprint, CodedError(err, http.StatusInternalServerError)
	}

	if admin {
		err = auth.CheckMemberLevel(r, s.db, sprint.ProjectId, auth.AdminLevel)
	} else {
		err = auth.CheckMemberLevel(r, s.db, sprint.ProjectId, auth.ViewerLevel)
	}
	if err != nil {
		if errors.Is(err, schema.ErrDbAccessFailed) {
			return sprint, CodedError(err, http.StatusInternalServerError)
		}
		return sprint, CodedError(err, http.StatusForbidden)
	}

	return sprint, nil
}

type createSprintRequest struct {
	ProjectId uuid.UUID `json:"project_id"`

	Name string `json:"name"`
	Goal string `json:"goal"`

	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

type createSprintResponse struct {
	SprintId uuid.UUID `json:"sprint_id"`
}

func (s *SprintService) CreateSprint(w http.ResponseWriter, r *http.Request) {
	var params createSprintRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "sprint name must be specified", http.StatusBadRequest)
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, params.ProjectId, auth.AdminLevel); err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	newSprint := schema.Sprint{
		Id:        uuid.New(),
		ProjectId: params.ProjectId,
		Name:      params.Name,
		Goal:      params.Goal,
		Status:    schema.SprintPlanning,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		project, err := schema.GetProject(params.ProjectId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if project.Status == schema.ProjectArchived {
			return CodedError(errors.New("cannot create sprints in an archived project"), http.StatusUnprocessableEntity)
		}

		// The default sprint window comes from the project settings.
		if params.StartDate != nil {
			newSprint.StartDate = *params.StartDate
		} else {
			newSprint.StartDate = time.Now().UTC()
		}
		if params.EndDate != nil {
			newSprint.EndDate = *params.EndDate
		} else {
			weeks := project.Settings.SprintDurationWeeks
			if weeks <= 0 {
				weeks = 2
			}
			newSprint.EndDate = newSprint.StartDate.AddDate(0, 0, 7*weeks)
		}

		if !newSprint.EndDate.After(newSprint.StartDate) {
			return CodedError(errors.New("sprint end date must be after start date"), http.StatusUnprocessableEntity)
		}

		result := txn.Create(&newSprint)
		if result.Error != nil {
			slog.Error("sql error creating new sprint", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating sprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createSprintResponse{SprintId: newSprint.Id})
}

type SprintInfo struct {
	Id        uuid.UUID `json:"id" yaml:"id"`
	ProjectId uuid.UUID `json:"project_id" yaml:"project_id"`

	Name string `json:"name" yaml:"name"`
	Goal string `json:"goal" yaml:"goal"`

	StartDate time.Time `json:"start_date" yaml:"start_date"`
	EndDate   time.Time `json:"end_date" yaml:"end_date"`

	Status string `json:"status" yaml:"status"`

	PlannedPoints   int     `json:"planned_points" yaml:"planned_points"`
	CompletedPoints int     `json:"completed_points" yaml:"completed_points"`
	Velocity        float64 `json:"velocity" yaml:"velocity"`

	Burndown      []schema.BurndownPoint `json:"burndown,omitempty" yaml:"burndown,omitempty"`
	Retrospective *schema.Retrospective  `json:"retrospective,omitempty" yaml:"retrospective,omitempty"`
}

func convertToSprintInfo(sprint *schema.Sprint) SprintInfo {
	return SprintInfo{
		Id:              sprint.Id,
		ProjectId:       sprint.ProjectId,
		Name:            sprint.Name,
		Goal:            sprint.Goal,
		StartDate:       sprint.StartDate,
		EndDate:         sprint.EndDate,
		Status:          sprint.Status,
		PlannedPoints:   sprint.PlannedPoints,
		CompletedPoints: sprint.CompletedPoints,
		Velocity:        sprint.Velocity,
		Burndown:        sprint.Burndown,
		Retrospective:   sprint.Retrospective,
	}
}

func (s *SprintService) List(w http.ResponseWriter, r *http.Request) {
	projectId, err := utils.QueryParamUUID(r, "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, projectId, auth.ViewerLevel); err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var sprints []schema.Sprint
	result := s.db.Where("project_id = ?", projectId).Order("start_date").Find(&sprints)
	if result.Error != nil {
		slog.Error("sql error listing sprints", "project_id", projectId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing sprints: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]SprintInfo, 0, len(sprints))
	for _, sprint := range sprints {
		infos = append(infos, convertToSprintInfo(&sprint))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *SprintService) GetSprint(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, false)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting sprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToSprintInfo(&sprint))
}

type updateSprintRequest struct {
	Name *string `json:"name"`
	Goal *string `json:"goal"`

	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

func (s *SprintService) UpdateSprint(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateSprintRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating sprint: %v", err), GetResponseCode(err))
		return
	}

	if sprint.Status == schema.SprintCompleted || sprint.Status == schema.SprintCancelled {
		http.Error(w, "completed or cancelled sprints cannot be updated", http.StatusUnprocessableEntity)
		return
	}

	if params.Name != nil {
		sprint.Name = *params.Name
	}
	if params.Goal != nil {
		sprint.Goal = *params.Goal
	}
	if params.StartDate != nil {
		sprint.StartDate = *params.StartDate
	}
	if params.EndDate != nil {
		sprint.EndDate = *params.EndDate
	}

	if !sprint.EndDate.After(sprint.StartDate) {
		http.Error(w, "sprint end date must be after start date", http.StatusUnprocessableEntity)
		return
	}

	result := s.db.Save(&sprint)
	if result.Error != nil {
		slog.Error("sql error updating sprint", "sprint_id", sprintId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error updating sprint: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func sumSprintPoints(txn *gorm.DB, sprintId uuid.UUID, doneOnly bool) (int, error) {
	query := txn.Where("sprint_id = ?", sprintId)
	if doneOnly {
		query = query.Where("status = ?", schema.TaskDone)
	}

	var tasks []schema.Task
	result := query.Find(&tasks)
	if result.Error != nil {
		slog.Error("sql error summing sprint points", "sprint_id", sprintId, "error", result.Error)
		return 0, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	points := 0
	for _, task := range tasks {
		if task.StoryPoints != nil {
			points += *task.StoryPoints
		}
	}
	return points, nil
}

func (s *SprintService) StartSprint(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error starting sprint: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if sprint.Status != schema.SprintPlanning {
			return CodedError(fmt.Errorf("sprint cannot be started from status '%v'", sprint.Status), http.StatusUnprocessableEntity)
		}

		var active int64
		result := txn.Model(&schema.Sprint{}).
			Where("project_id = ? AND status = ?", sprint.ProjectId, schema.SprintActive).
			Count(&active)
		if result.Error != nil {
			slog.Error("sql error counting active sprints", "project_id", sprint.ProjectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if active > 0 {
			return CodedError(errors.New("project already has an active sprint"), http.StatusConflict)
		}

		planned, err := sumSprintPoints(txn, sprintId, false)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		sprint.Status = schema.SprintActive
		sprint.StartDate = now
		sprint.PlannedPoints = planned
		sprint.Burndown = []schema.BurndownPoint{{Date: now, RemainingPoints: planned}}

		result = txn.Save(&sprint)
		if result.Error != nil {
			slog.Error("sql error starting sprint", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		// Queued tasks move out of the backlog when the sprint begins.
		result = txn.Model(&schema.Task{}).
			Where("sprint_id = ? AND status = ?", sprintId, schema.TaskBacklog).
			Update("status", schema.TaskTodo)
		if result.Error != nil {
			slog.Error("sql error moving sprint tasks to todo", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		var members []schema.ProjectMember
		result = txn.Where("project_id = ? AND is_active = ?", sprint.ProjectId, true).Find(&members)
		if result.Error != nil {
			slog.Error("sql error listing members for sprint notification", "project_id", sprint.ProjectId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		for _, member := range members {
			err := queueNotification(
				txn, member.UserId, schema.NotifySprintStarted,
				fmt.Sprintf("Sprint %v started", sprint.Name),
				fmt.Sprintf("Sprint %v is now active with %d planned points", sprint.Name, planned),
				fmt.Sprintf("/projects/%v/sprints/%v", sprint.ProjectId, sprintId),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error starting sprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *SprintService) CompleteSprint(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error completing sprint: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if sprint.Status != schema.SprintActive && sprint.Status != schema.SprintReview {
			return CodedError(fmt.Errorf("sprint cannot be completed from status '%v'", sprint.Status), http.StatusUnprocessableEntity)
		}

		completed, err := sumSprintPoints(txn, sprintId, true)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		sprint.Status = schema.SprintCompleted
		sprint.EndDate = now
		sprint.CompletedPoints = completed
		sprint.Velocity = float64(completed)
		sprint.Burndown = append(sprint.Burndown, schema.BurndownPoint{Date: now, RemainingPoints: sprint.PlannedPoints - completed})

		result := txn.Save(&sprint)
		if result.Error != nil {
			slog.Error("sql error completing sprint", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		// Unfinished work returns to the backlog.
		result = txn.Model(&schema.Task{}).
			Where("sprint_id = ? AND status NOT IN ?", sprintId, []string{schema.TaskDone, schema.TaskCancelled}).
			Updates(map[string]interface{}{"sprint_id": nil, "status": schema.TaskBacklog})
		if result.Error != nil {
			slog.Error("sql error returning unfinished tasks to backlog", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error completing sprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// CancelSprint abandons a sprint without recording velocity. Tasks return to
// the backlog as in completion, but nothing counts toward metrics.
func (s *SprintService) CancelSprint(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error cancelling sprint: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if sprint.Status == schema.SprintCompleted || sprint.Status == schema.SprintCancelled {
			return CodedError(fmt.Errorf("sprint cannot be cancelled from status '%v'", sprint.Status), http.StatusUnprocessableEntity)
		}

		sprint.Status = schema.SprintCancelled
		sprint.EndDate = time.Now().UTC()

		result := txn.Save(&sprint)
		if result.Error != nil {
			slog.Error("sql error cancelling sprint", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Model(&schema.Task{}).
			Where("sprint_id = ? AND status NOT IN ?", sprintId, []string{schema.TaskDone, schema.TaskCancelled}).
			Updates(map[string]interface{}{"sprint_id": nil, "status": schema.TaskBacklog})
		if result.Error != nil {
			slog.Error("sql error returning tasks to backlog after cancel", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error cancelling sprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// RecordBurndown appends a burndown point computed from the sprint's current
// remaining points. Intended to be hit daily.
func (s *SprintService) RecordBurndown(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error recording burndown: %v", err), GetResponseCode(err))
		return
	}

	if sprint.Status != schema.SprintActive {
		http.Error(w, "burndown can only be recorded for active sprints", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		completed, err := sumSprintPoints(txn, sprintId, true)
		if err != nil {
			return err
		}

		sprint.Burndown = append(sprint.Burndown, schema.BurndownPoint{
			Date:            time.Now().UTC(),
			RemainingPoints: sprint.PlannedPoints - completed,
		})

		result := txn.Model(&sprint).Update("burndown", sprint.Burndown)
		if result.Error != nil {
			slog.Error("sql error recording burndown point", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error recording burndown: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *SprintService) SaveRetrospective(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params schema.Retrospective
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error saving retrospective: %v", err), GetResponseCode(err))
		return
	}

	if sprint.Status != schema.SprintReview && sprint.Status != schema.SprintCompleted {
		http.Error(w, "retrospectives can only be recorded once the sprint is in review or completed", http.StatusUnprocessableEntity)
		return
	}

	result := s.db.Model(&sprint).Update("retrospective", &params)
	if result.Error != nil {
		slog.Error("sql error saving sprint retrospective", "sprint_id", sprintId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error saving retrospective: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *SprintService) GetRetrospective(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, false)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting retrospective: %v", err), GetResponseCode(err))
		return
	}

	if sprint.Retrospective == nil {
		http.Error(w, "sprint has no retrospective", http.StatusNotFound)
		return
	}

	utils.WriteJsonResponse(w, sprint.Retrospective)
}

func (s *SprintService) DeleteSprint(w http.ResponseWriter, r *http.Request) {
	sprintId, err := utils.URLParamUUID(r, "sprint_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sprint, err := s.loadSprintChecked(r, sprintId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting sprint: %v", err), GetResponseCode(err))
		return
	}

	if sprint.Status == schema.SprintActive {
		http.Error(w, "active sprints cannot be deleted, complete or cancel first", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Model(&schema.Task{}).Where("sprint_id = ?", sprintId).Update("sprint_id", nil)
		if result.Error != nil {
			slog.Error("sql error detaching tasks from sprint", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Sprint{Id: sprintId})
		if result.Error != nil {
			slog.Error("sql error deleting sprint", "sprint_id", sprintId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting sprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
