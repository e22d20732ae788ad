package client

import (
	"fmt"
	"time"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/services"

	"github.com/google/uuid"
)

// TrackerClient is a typed client for the tracker HTTP API. The zero auth
// token is valid for the login call only.
type TrackerClient struct {
	base BaseClient
}

func NewTrackerClient(baseUrl string) *TrackerClient {
	return &TrackerClient{base: NewBaseClient(baseUrl, "")}
}

type LoginResult struct {
	UserId      uuid.UUID `json:"user_id"`
	AccessToken string    `json:"access_token"`
}

// Login authenticates with email and password and stores the returned token
// for subsequent calls.
func (c *TrackerClient) Login(email, password string) (LoginResult, error) {
	var result LoginResult
	err := c.base.Get("/api/v1/user/login").Login(email, password).Do(&result)
	if err != nil {
		return LoginResult{}, err
	}
	c.base.authToken = result.AccessToken
	return result, nil
}

type CreateProjectArgs struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Visibility  string                 `json:"visibility"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

func (c *TrackerClient) CreateProject(args CreateProjectArgs) (uuid.UUID, error) {
	var result struct {
		ProjectId uuid.UUID `json:"project_id"`
	}
	err := c.base.Post("/api/v1/project/create").Json(args).Do(&result)
	if err != nil {
		return uuid.Nil, err
	}
	return result.ProjectId, nil
}

func (c *TrackerClient) ListProjects() ([]services.ProjectInfo, error) {
	var projects []services.ProjectInfo
	err := c.base.Get("/api/v1/project/list").Do(&projects)
	return projects, err
}

func (c *TrackerClient) GetProject(projectId uuid.UUID) (services.ProjectInfo, error) {
	var project services.ProjectInfo
	err := c.base.Get(fmt.Sprintf("/api/v1/project/%v", projectId)).Do(&project)
	return project, err
}

type CreateTaskArgs struct {
	ProjectId uuid.UUID `json:"project_id"`

	Title       string `json:"title"`
	Description string `json:"description"`

	Type     string `json:"type,omitempty"`
	Priority string `json:"priority,omitempty"`

	SprintId   *uuid.UUID `json:"sprint_id,omitempty"`
	ParentId   *uuid.UUID `json:"parent_id,omitempty"`
	AssigneeId *uuid.UUID `json:"assignee_id,omitempty"`
}

func (c *TrackerClient) CreateTask(args CreateTaskArgs) (uuid.UUID, error) {
	var result struct {
		TaskId uuid.UUID `json:"task_id"`
	}
	err := c.base.Post("/api/v1/task/create").Json(args).Do(&result)
	if err != nil {
		return uuid.Nil, err
	}
	return result.TaskId, nil
}

func (c *TrackerClient) ListTasks(projectId uuid.UUID) ([]services.TaskInfo, error) {
	var tasks []services.TaskInfo
	err := c.base.Get("/api/v1/task/list").Param("project_id", projectId.String()).Do(&tasks)
	return tasks, err
}

func (c *TrackerClient) UpdateTaskStatus(taskId uuid.UUID, status string) error {
	body := map[string]string{"status": status}
	return c.base.Post(fmt.Sprintf("/api/v1/task/%v/status", taskId)).Json(body).Do(nil)
}

func (c *TrackerClient) ListNotifications(unreadOnly bool) ([]services.NotificationInfo, error) {
	req := c.base.Get("/api/v1/notification/list")
	if unreadOnly {
		req = req.Param("unread", "true")
	}
	var notifications []services.NotificationInfo
	err := req.Do(&notifications)
	return notifications, err
}

func (c *TrackerClient) MarkNotificationRead(notificationId uuid.UUID) error {
	return c.base.Post(fmt.Sprintf("/api/v1/notification/%v/read", notificationId)).Do(nil)
}

// AwaitSprintComplete polls the sprint until it reaches the completed status
// or the timeout elapses.
func (c *TrackerClient) AwaitSprintComplete(sprintId uuid.UUID, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var sprint services.SprintInfo
		err := c.base.Get(fmt.Sprintf("/api/v1/sprint/%v", sprintId)).Do(&sprint)
		if err != nil {
			return err
		}
		if sprint.Status == "completed" {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("sprint %v did not complete within %v", sprintId, timeout)
}
