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

type TaskService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *TaskService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.CreateTask)
	r.Get("/list", s.List)

	r.Route("/{task_id}", func(r chi.Router) {
		r.Get("/", s.GetTask)
		r.Post("/update", s.UpdateTask)
		r.Post("/status", s.UpdateStatus)
		r.Post("/assign", s.AssignTask)
		r.Post("/sprint", s.MoveToSprint)
		r.Post("/parent", s.SetParent)
		r.Post("/dependencies", s.AddDependency)
		r.Delete("/dependencies/{dep_task_id}", s.RemoveDependency)
		r.Post("/watch", s.Watch)
		r.Delete("/watch", s.Unwatch)
		r.Delete("/", s.DeleteTask)
	})

	return r
}

// loadTaskChecked loads a task and verifies the caller's standing in its
// project. Mutations require member standing, reads viewer standing.
func (s *TaskService) loadTaskChecked(r *http.Request, taskId uuid.UUID, write bool) (schema.Task, error) {
	task, err := schema.GetTask(taskId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrTaskNotFound) {
			return task, CodedError(err, http.StatusNotFound)
		}
		return task, CodedError(err, http.StatusInternalServerError)
	}

	if write {
		err = auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.MemberLevel)
	} else {
		err = auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.ViewerLevel)
	}
	if err != nil {
		if errors.Is(err, schema.ErrDbAccessFailed) {
			return task, CodedError(err, http.StatusInternalServerError)
		}
		return task, CodedError(err, http.StatusForbidden)
	}

	return task, nil
}

type createTaskRequest struct {
	ProjectId uuid.UUID `json:"project_id"`

	Title       string `json:"title"`
	Description string `json:"description"`

	Type     string `json:"type"`
	Priority string `json:"priority"`

	SprintId   *uuid.UUID `json:"sprint_id"`
	ParentId   *uuid.UUID `json:"parent_id"`
	AssigneeId *uuid.UUID `json:"assignee_id"`

	StoryPoints *int       `json:"story_points"`
	DueDate     *time.Time `json:"due_date"`

	Labels []string `json:"labels"`
}

type createTaskResponse struct {
	TaskId uuid.UUID `json:"task_id"`
	Key    string    `json:"key"`
}

func checkValidTaskType(taskType string) error {
	switch taskType {
	case schema.TaskTypeStory, schema.TaskTypeBug, schema.TaskTypeTask, schema.TaskTypeEpic, schema.TaskTypeSubtask:
		return nil
	}
	return fmt.Errorf("invalid task type '%v'", taskType)
}

func checkValidPriority(priority string) error {
	switch priority {
	case schema.PriorityLow, schema.PriorityMedium, schema.PriorityHigh, schema.PriorityCritical:
		return nil
	}
	return fmt.Errorf("invalid task priority '%v'", priority)
}

func (s *TaskService) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createTaskRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Title == "" {
		http.Error(w, "task title must be specified", http.StatusBadRequest)
		return
	}
	if params.Type == "" {
		params.Type = schema.TaskTypeTask
	}
	if err := checkValidTaskType(params.Type); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if params.Priority == "" {
		params.Priority = schema.PriorityMedium
	}
	if err := checkValidPriority(params.Priority); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, params.ProjectId, auth.MemberLevel); err != nil {
		if errors.Is(err, schema.ErrProjectNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	newTask := schema.Task{
		Id:          uuid.New(),
		ProjectId:   params.ProjectId,
		Title:       params.Title,
		Description: params.Description,
		Type:        params.Type,
		Priority:    params.Priority,
		Status:      schema.TaskBacklog,
		ReporterId:  user.Id,
		StoryPoints: params.StoryPoints,
		DueDate:     params.DueDate,
		Labels:      params.Labels,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		project, err := schema.GetProject(params.ProjectId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrProjectNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if project.Status == schema.ProjectArchived {
			return CodedError(fmt.Errorf("project %v is archived", project.Key), http.StatusUnprocessableEntity)
		}

		key, err := nextTaskKey(txn, params.ProjectId)
		if err != nil {
			return err
		}
		newTask.Key = key

		if params.SprintId != nil {
			sprint, err := schema.GetSprint(*params.SprintId, txn)
			if err != nil {
				if errors.Is(err, schema.ErrSprintNotFound) {
					return CodedError(err, http.StatusNotFound)
				}
				return CodedError(err, http.StatusInternalServerError)
			}
			if sprint.ProjectId != params.ProjectId {
				return CodedError(errors.New("sprint does not belong to the task's project"), http.StatusUnprocessableEntity)
			}
			newTask.SprintId = params.SprintId
		}

		if params.ParentId != nil {
			parent, err := schema.GetTask(*params.ParentId, txn)
			if err != nil {
				if errors.Is(err, schema.ErrTaskNotFound) {
					return CodedError(err, http.StatusNotFound)
				}
				return CodedError(err, http.StatusInternalServerError)
			}
			if parent.ProjectId != params.ProjectId {
				return CodedError(errors.New("parent task does not belong to the task's project"), http.StatusUnprocessableEntity)
			}
			newTask.ParentId = params.ParentId
		}

		if params.AssigneeId != nil {
			if err := checkProjectMember(txn, params.ProjectId, *params.AssigneeId); err != nil {
				return err
			}
			newTask.AssigneeId = params.AssigneeId
		}

		result := txn.Create(&newTask)
		if result.Error != nil {
			slog.Error("sql error creating new task", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if newTask.AssigneeId != nil && *newTask.AssigneeId != user.Id {
			err := queueNotification(
				txn, *newTask.AssigneeId, schema.NotifyTaskAssigned,
				fmt.Sprintf("Task %v assigned to you", newTask.Key),
				newTask.Title,
				fmt.Sprintf("/projects/%v/tasks/%v", params.ProjectId, newTask.Id),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating task: %v", err), GetResponseCode(err))
		return
	}

	recordActivity(s.db, "task", newTask.Id, user.Id, "created", map[string]interface{}{"key": newTask.Key})

	utils.WriteJsonResponse(w, createTaskResponse{TaskId: newTask.Id, Key: newTask.Key})
}

type TaskInfo struct {
	Id        uuid.UUID  `json:"id" yaml:"id"`
	ProjectId uuid.UUID  `json:"project_id" yaml:"project_id"`
	SprintId  *uuid.UUID `json:"sprint_id,omitempty" yaml:"sprint_id,omitempty"`

	Key         string `json:"key" yaml:"key"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`

	Type     string `json:"type" yaml:"type"`
	Priority string `json:"priority" yaml:"priority"`
	Status   string `json:"status" yaml:"status"`

	AssigneeId *uuid.UUID `json:"assignee_id,omitempty" yaml:"assignee_id,omitempty"`
	ReporterId uuid.UUID  `json:"reporter_id" yaml:"reporter_id"`
	ParentId   *uuid.UUID `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`

	StoryPoints *int       `json:"story_points,omitempty" yaml:"story_points,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty" yaml:"due_date,omitempty"`

	Labels       []string                `json:"labels,omitempty" yaml:"labels,omitempty"`
	Dependencies []schema.TaskDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Watchers     []uuid.UUID             `json:"watchers,omitempty" yaml:"watchers,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func convertToTaskInfo(task *schema.Task) TaskInfo {
	return TaskInfo{
		Id:           task.Id,
		ProjectId:    task.ProjectId,
		SprintId:     task.SprintId,
		Key:          task.Key,
		Title:        task.Title,
		Description:  task.Description,
		Type:         task.Type,
		Priority:     task.Priority,
		Status:       task.Status,
		AssigneeId:   task.AssigneeId,
		ReporterId:   task.ReporterId,
		ParentId:     task.ParentId,
		StoryPoints:  task.StoryPoints,
		DueDate:      task.DueDate,
		Labels:       task.Labels,
		Dependencies: task.Dependencies,
		Watchers:     task.Watchers,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}

func (s *TaskService) List(w http.ResponseWriter, r *http.Request) {
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

	query := s.db.Where("project_id = ?", projectId)

	if status := r.URL.Query().Get("status"); status != "" {
		if err := schema.CheckValidTaskStatus(status); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("status = ?", status)
	}
	if assignee := r.URL.Query().Get("assignee_id"); assignee != "" {
		assigneeId, err := uuid.Parse(assignee)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid uuid '%v' provided: %v", assignee, err), http.StatusBadRequest)
			return
		}
		query = query.Where("assignee_id = ?", assigneeId)
	}
	if sprint := r.URL.Query().Get("sprint_id"); sprint != "" {
		sprintId, err := uuid.Parse(sprint)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid uuid '%v' provided: %v", sprint, err), http.StatusBadRequest)
			return
		}
		query = query.Where("sprint_id = ?", sprintId)
	}

	var tasks []schema.Task
	result := query.Order("key").Find(&tasks)
	if result.Error != nil {
		slog.Error("sql error listing tasks", "project_id", projectId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing tasks: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, convertToTaskInfo(&task))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *TaskService) GetTask(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := s.loadTaskChecked(r, taskId, false)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting task: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToTaskInfo(&task))
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`

	Type     *string `json:"type"`
	Priority *string `json:"priority"`

	StoryPoints *int       `json:"story_points"`
	DueDate     *time.Time `json:"due_date"`

	Labels []string `json:"labels"`
}

func (s *TaskService) UpdateTask(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateTaskRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating task: %v", err), GetResponseCode(err))
		return
	}

	if params.Title != nil {
		if *params.Title == "" {
			http.Error(w, "task title cannot be empty", http.StatusUnprocessableEntity)
			return
		}
		task.Title = *params.Title
	}
	if params.Description != nil {
		task.Description = *params.Description
	}
	if params.Type != nil {
		if err := checkValidTaskType(*params.Type); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		task.Type = *params.Type
	}
	if params.Priority != nil {
		if err := checkValidPriority(*params.Priority); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		task.Priority = *params.Priority
	}
	if params.StoryPoints != nil {
		task.StoryPoints = params.StoryPoints
	}
	if params.DueDate != nil {
		task.DueDate = params.DueDate
	}
	if params.Labels != nil {
		task.Labels = params.Labels
	}

	result := s.db.Save(&task)
	if result.Error != nil {
		slog.Error("sql error updating task", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error updating task: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *TaskService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidTaskStatus(params.Status); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating task status: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if params.Status == schema.TaskDone {
			// Subtasks must be finished before the parent can be closed.
			var open int64
			result := txn.Model(&schema.Task{}).
				Where("parent_id = ? AND status NOT IN ?", taskId, []string{schema.TaskDone, schema.TaskCancelled}).
				Count(&open)
			if result.Error != nil {
				slog.Error("sql error counting open subtasks", "task_id", taskId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if open > 0 {
				return CodedError(fmt.Errorf("task %v has %d open subtasks", task.Key, open), http.StatusUnprocessableEntity)
			}
		}

		previous := task.Status
		result := txn.Model(&task).Update("status", params.Status)
		if result.Error != nil {
			slog.Error("sql error updating task status", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		recordActivity(txn, "task", taskId, user.Id, "status_changed", map[string]interface{}{"from": previous, "to": params.Status})
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating task status: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type assignTaskRequest struct {
	AssigneeId *uuid.UUID `json:"assignee_id"`
}

func (s *TaskService) AssignTask(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params assignTaskRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error assigning task: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if params.AssigneeId != nil {
			if err := checkProjectMember(txn, task.ProjectId, *params.AssigneeId); err != nil {
				return err
			}
		}

		result := txn.Model(&task).Update("assignee_id", params.AssigneeId)
		if result.Error != nil {
			slog.Error("sql error assigning task", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if params.AssigneeId != nil && *params.AssigneeId != user.Id {
			return queueNotification(
				txn, *params.AssigneeId, schema.NotifyTaskAssigned,
				fmt.Sprintf("Task %v assigned to you", task.Key),
				task.Title,
				fmt.Sprintf("/projects/%v/tasks/%v", task.ProjectId, taskId),
			)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error assigning task: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type moveToSprintRequest struct {
	SprintId *uuid.UUID `json:"sprint_id"`
}

func (s *TaskService) MoveToSprint(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params moveToSprintRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error moving task to sprint: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if params.SprintId != nil {
			sprint, err := schema.GetSprint(*params.SprintId, txn)
			if err != nil {
				if errors.Is(err, schema.ErrSprintNotFound) {
					return CodedError(err, http.StatusNotFound)
				}
				return CodedError(err, http.StatusInternalServerError)
			}
			if sprint.ProjectId != task.ProjectId {
				return CodedError(errors.New("sprint does not belong to the task's project"), http.StatusUnprocessableEntity)
			}
			if sprint.Status == schema.SprintCompleted || sprint.Status == schema.SprintCancelled {
				return CodedError(errors.New("tasks cannot be added to a finished sprint"), http.StatusUnprocessableEntity)
			}
		}

		result := txn.Model(&task).Update("sprint_id", params.SprintId)
		if result.Error != nil {
			slog.Error("sql error moving task to sprint", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error moving task to sprint: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type setParentRequest struct {
	ParentId *uuid.UUID `json:"parent_id"`
}

func (s *TaskService) SetParent(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params setParentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error setting task parent: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if params.ParentId != nil {
			parent, err := schema.GetTask(*params.ParentId, txn)
			if err != nil {
				if errors.Is(err, schema.ErrTaskNotFound) {
					return CodedError(err, http.StatusNotFound)
				}
				return CodedError(err, http.StatusInternalServerError)
			}
			if parent.ProjectId != task.ProjectId {
				return CodedError(errors.New("parent task does not belong to the task's project"), http.StatusUnprocessableEntity)
			}

			if err := checkNoTaskCycle(txn, taskId, *params.ParentId); err != nil {
				return err
			}
		}

		result := txn.Model(&task).Update("parent_id", params.ParentId)
		if result.Error != nil {
			slog.Error("sql error setting task parent", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error setting task parent: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type addDependencyRequest struct {
	TaskId uuid.UUID `json:"task_id"`
	Type   string    `json:"type"`
}

func (s *TaskService) AddDependency(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params addDependencyRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidDependencyType(params.Type); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if params.TaskId == taskId {
		http.Error(w, "a task cannot depend on itself", http.StatusUnprocessableEntity)
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error adding dependency: %v", err), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		other, err := schema.GetTask(params.TaskId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if other.ProjectId != task.ProjectId {
			return CodedError(errors.New("dependencies must stay within one project"), http.StatusUnprocessableEntity)
		}

		for _, dep := range task.Dependencies {
			if dep.TaskId == params.TaskId {
				return CodedError(fmt.Errorf("task %v already has a dependency on %v", task.Key, other.Key), http.StatusConflict)
			}
		}

		task.Dependencies = append(task.Dependencies, schema.TaskDependency{TaskId: params.TaskId, Type: params.Type})

		result := txn.Model(&task).Update("dependencies", task.Dependencies)
		if result.Error != nil {
			slog.Error("sql error adding task dependency", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error adding dependency: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *TaskService) RemoveDependency(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	depTaskId, err := utils.URLParamUUID(r, "dep_task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error removing dependency: %v", err), GetResponseCode(err))
		return
	}

	deps := make([]schema.TaskDependency, 0, len(task.Dependencies))
	found := false
	for _, dep := range task.Dependencies {
		if dep.TaskId == depTaskId {
			found = true
			continue
		}
		deps = append(deps, dep)
	}

	if !found {
		http.Error(w, fmt.Sprintf("task %v has no dependency on %v", task.Key, depTaskId), http.StatusNotFound)
		return
	}

	result := s.db.Model(&task).Update("dependencies", deps)
	if result.Error != nil {
		slog.Error("sql error removing task dependency", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error removing dependency: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *TaskService) Watch(w http.ResponseWriter, r *http.Request) {
	s.setWatching(w, r, true)
}

func (s *TaskService) Unwatch(w http.ResponseWriter, r *http.Request) {
	s.setWatching(w, r, false)
}

func (s *TaskService) setWatching(w http.ResponseWriter, r *http.Request, watch bool) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	task, err := s.loadTaskChecked(r, taskId, false)
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating watchers: %v", err), GetResponseCode(err))
		return
	}

	watchers := make([]uuid.UUID, 0, len(task.Watchers)+1)
	for _, watcher := range task.Watchers {
		if watcher != user.Id {
			watchers = append(watchers, watcher)
		}
	}
	if watch {
		watchers = append(watchers, user.Id)
	}

	result := s.db.Model(&task).Update("watchers", watchers)
	if result.Error != nil {
		slog.Error("sql error updating task watchers", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error updating watchers: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *TaskService) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := s.loadTaskChecked(r, taskId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting task: %v", err), GetResponseCode(err))
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.AdminLevel); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		// Subtasks are promoted rather than deleted with their parent.
		result := txn.Model(&schema.Task{}).Where("parent_id = ?", taskId).Update("parent_id", task.ParentId)
		if result.Error != nil {
			slog.Error("sql error promoting subtasks before deletion", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Where("task_id = ?", taskId).Delete(&schema.Comment{})
		if result.Error != nil {
			slog.Error("sql error deleting task comments", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Where("task_id = ?", taskId).Delete(&schema.Attachment{})
		if result.Error != nil {
			slog.Error("sql error deleting task attachments", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Task{Id: taskId})
		if result.Error != nil {
			slog.Error("sql error deleting task", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting task: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
