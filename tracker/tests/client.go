package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(email, password string) *httpTestRequest {
	r.login = &loginInfo{Email: email, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

var ErrUnauthorized = errors.New("unauthorized")

type client struct {
	api       chi.Router
	authToken string
	userId    uuid.UUID
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(email, password, name string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "password": password, "first_name": name, "last_name": "test",
	}

	err := c.Post("/user/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res struct {
		UserId      uuid.UUID `json:"user_id"`
		AccessToken string    `json:"access_token"`
	}
	err := c.Get("/user/login").Login(login.Email, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res.AccessToken
	c.userId = res.UserId

	return nil
}

func (c *client) addUser(email, password, name string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "password": password, "first_name": name, "last_name": "test",
	}

	err := c.Post("/user/create").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) deleteUser(userId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/user/%v", userId)).Do(nil)
}

func (c *client) listUsers() ([]services.UserInfo, error) {
	var res []services.UserInfo
	err := c.Get("/user/list").Do(&res)
	return res, err
}

func (c *client) userInfo() (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Get("/user/info").Do(&res)
	return res, err
}

func (c *client) assignRole(roleName string, userId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/role/%v/users/%v", roleName, userId)).Do(nil)
}

func (c *client) revokeRole(roleName string, userId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/role/%v/users/%v", roleName, userId)).Do(nil)
}

func (c *client) listRoles() ([]services.RoleInfo, error) {
	var res []services.RoleInfo
	err := c.Get("/role/list").Do(&res)
	return res, err
}

func (c *client) createRole(name string, permissions []string) error {
	body := map[string]interface{}{"name": name, "permissions": permissions}
	return c.Post("/role/create").Json(body).Do(nil)
}

func (c *client) grantPermission(roleName, permission string) error {
	body := map[string]string{"permission": permission}
	return c.Post(fmt.Sprintf("/role/%v/permissions", roleName)).Json(body).Do(nil)
}

func (c *client) revokePermission(roleName, permission string) error {
	return c.Delete(fmt.Sprintf("/role/%v/permissions/%v", roleName, permission)).Do(nil)
}

func (c *client) createProject(key, name string) (uuid.UUID, error) {
	body := map[string]string{"key": key, "name": name}

	var res map[string]uuid.UUID
	err := c.Post("/project/create").Json(body).Do(&res)
	return res["project_id"], err
}

func (c *client) projectInfo(projectId uuid.UUID) (services.ProjectInfo, error) {
	var res services.ProjectInfo
	err := c.Get(fmt.Sprintf("/project/%v", projectId)).Do(&res)
	return res, err
}

func (c *client) listProjects() ([]services.ProjectInfo, error) {
	var res []services.ProjectInfo
	err := c.Get("/project/list").Do(&res)
	return res, err
}

func (c *client) deleteProject(projectId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/project/%v", projectId)).Do(nil)
}

func (c *client) archiveProject(projectId uuid.UUID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.Post(fmt.Sprintf("/project/%v/archive", projectId)).Json(body).Do(nil)
}

func (c *client) unarchiveProject(projectId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/project/%v/unarchive", projectId)).Do(nil)
}

func (c *client) addMember(projectId, userId uuid.UUID, role string) error {
	body := map[string]string{"role": role}
	return c.Post(fmt.Sprintf("/project/%v/members/%v", projectId, userId)).Json(body).Do(nil)
}

func (c *client) updateMemberRole(projectId, userId uuid.UUID, role string) error {
	body := map[string]string{"role": role}
	return c.Post(fmt.Sprintf("/project/%v/members/%v/role", projectId, userId)).Json(body).Do(nil)
}

func (c *client) removeMember(projectId, userId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/project/%v/members/%v", projectId, userId)).Do(nil)
}

func (c *client) listMembers(projectId uuid.UUID) ([]services.MemberInfo, error) {
	var res []services.MemberInfo
	err := c.Get(fmt.Sprintf("/project/%v/members", projectId)).Do(&res)
	return res, err
}

func (c *client) createSprint(projectId uuid.UUID, name string) (uuid.UUID, error) {
	body := map[string]interface{}{"project_id": projectId, "name": name}

	var res map[string]uuid.UUID
	err := c.Post("/sprint/create").Json(body).Do(&res)
	return res["sprint_id"], err
}

func (c *client) sprintInfo(sprintId uuid.UUID) (services.SprintInfo, error) {
	var res services.SprintInfo
	err := c.Get(fmt.Sprintf("/sprint/%v", sprintId)).Do(&res)
	return res, err
}

func (c *client) startSprint(sprintId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/sprint/%v/start", sprintId)).Do(nil)
}

func (c *client) completeSprint(sprintId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/sprint/%v/complete", sprintId)).Do(nil)
}

func (c *client) cancelSprint(sprintId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/sprint/%v/cancel", sprintId)).Do(nil)
}

func (c *client) saveRetrospective(sprintId uuid.UUID, wentWell, wentWrong []string) error {
	body := map[string]interface{}{"went_well": wentWell, "went_wrong": wentWrong}
	return c.Post(fmt.Sprintf("/sprint/%v/retrospective", sprintId)).Json(body).Do(nil)
}

func (c *client) getRetrospective(sprintId uuid.UUID) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Get(fmt.Sprintf("/sprint/%v/retrospective", sprintId)).Do(&res)
	return res, err
}

func (c *client) createTask(projectId uuid.UUID, title string, extra map[string]interface{}) (uuid.UUID, error) {
	body := map[string]interface{}{"project_id": projectId, "title": title}
	for k, v := range extra {
		body[k] = v
	}

	var res struct {
		TaskId uuid.UUID `json:"task_id"`
	}
	err := c.Post("/task/create").Json(body).Do(&res)
	return res.TaskId, err
}

func (c *client) taskInfo(taskId uuid.UUID) (services.TaskInfo, error) {
	var res services.TaskInfo
	err := c.Get(fmt.Sprintf("/task/%v", taskId)).Do(&res)
	return res, err
}

func (c *client) listTasks(projectId uuid.UUID) ([]services.TaskInfo, error) {
	var res []services.TaskInfo
	err := c.Get(fmt.Sprintf("/task/list?project_id=%v", projectId)).Do(&res)
	return res, err
}

func (c *client) updateTaskStatus(taskId uuid.UUID, status string) error {
	body := map[string]string{"status": status}
	return c.Post(fmt.Sprintf("/task/%v/status", taskId)).Json(body).Do(nil)
}

func (c *client) assignTask(taskId, userId uuid.UUID) error {
	body := map[string]uuid.UUID{"assignee_id": userId}
	return c.Post(fmt.Sprintf("/task/%v/assign", taskId)).Json(body).Do(nil)
}

func (c *client) moveTaskToSprint(taskId uuid.UUID, sprintId *uuid.UUID) error {
	body := map[string]*uuid.UUID{"sprint_id": sprintId}
	return c.Post(fmt.Sprintf("/task/%v/sprint", taskId)).Json(body).Do(nil)
}

func (c *client) setTaskParent(taskId uuid.UUID, parentId *uuid.UUID) error {
	body := map[string]*uuid.UUID{"parent_id": parentId}
	return c.Post(fmt.Sprintf("/task/%v/parent", taskId)).Json(body).Do(nil)
}

func (c *client) addDependency(taskId, dependsOn uuid.UUID, depType string) error {
	body := map[string]interface{}{"task_id": dependsOn, "type": depType}
	return c.Post(fmt.Sprintf("/task/%v/dependencies", taskId)).Json(body).Do(nil)
}

func (c *client) deleteTask(taskId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/task/%v", taskId)).Do(nil)
}

func (c *client) createComment(taskId uuid.UUID, content string, parentId *uuid.UUID) (uuid.UUID, error) {
	body := map[string]interface{}{"task_id": taskId, "content": content}
	if parentId != nil {
		body["parent_id"] = parentId
	}

	var res map[string]uuid.UUID
	err := c.Post("/comment/create").Json(body).Do(&res)
	return res["comment_id"], err
}

func (c *client) listComments(taskId uuid.UUID) ([]services.CommentInfo, error) {
	var res []services.CommentInfo
	err := c.Get(fmt.Sprintf("/comment/list?task_id=%v", taskId)).Do(&res)
	return res, err
}

func (c *client) deleteComment(commentId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/comment/%v", commentId)).Do(nil)
}

func (c *client) listNotifications(unreadOnly bool) ([]services.NotificationInfo, error) {
	endpoint := "/notification/list"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var res []services.NotificationInfo
	err := c.Get(endpoint).Do(&res)
	return res, err
}

func (c *client) markNotificationRead(notificationId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/notification/%v/read", notificationId)).Do(nil)
}

func (c *client) uploadAttachment(taskId uuid.UUID, filename string, content []byte) (uuid.UUID, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("task_id", taskId.String()); err != nil {
		return uuid.Nil, err
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := part.Write(content); err != nil {
		return uuid.Nil, err
	}
	if err := writer.Close(); err != nil {
		return uuid.Nil, err
	}

	var res map[string]uuid.UUID
	err = c.Post("/attachment/upload").
		Header("Content-Type", writer.FormDataContentType()).
		Body(body).
		Do(&res)
	return res["attachment_id"], err
}

func (c *client) downloadAttachment(attachmentId uuid.UUID) ([]byte, error) {
	endpoint := fmt.Sprintf("/attachment/%v/download", attachmentId)
	req := httptest.NewRequest("GET", endpoint, nil)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %v", c.authToken))
	w := httptest.NewRecorder()
	c.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("get %v failed with status %d and res '%v'", endpoint, res.StatusCode, w.Body.String())
	}

	return io.ReadAll(res.Body)
}

func (c *client) listActivity(entityType string, entityId uuid.UUID) ([]services.ActivityInfo, error) {
	endpoint := fmt.Sprintf("/audit/activity?entity_type=%v&entity_id=%v", entityType, entityId)
	var res []services.ActivityInfo
	err := c.Get(endpoint).Do(&res)
	return res, err
}

func (c *client) createGroup(name, joinPolicy string) (uuid.UUID, error) {
	body := map[string]string{"name": name, "join_policy": joinPolicy}

	var res map[string]uuid.UUID
	err := c.Post("/group/create").Json(body).Do(&res)
	return res["group_id"], err
}

func (c *client) listGroups() ([]services.GroupInfo, error) {
	var res []services.GroupInfo
	err := c.Get("/group/list").Do(&res)
	return res, err
}

func (c *client) groupUsers(groupId uuid.UUID) ([]services.GroupUserInfo, error) {
	var res []services.GroupUserInfo
	err := c.Get(fmt.Sprintf("/group/%v/users", groupId)).Do(&res)
	return res, err
}

func (c *client) addUserToGroup(groupId, userId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/group/%v/users/%v", groupId, userId)).Do(nil)
}

func (c *client) removeUserFromGroup(groupId, userId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/group/%v/users/%v", groupId, userId)).Do(nil)
}

func (c *client) joinGroup(groupId uuid.UUID) error {
	return c.Post(fmt.Sprintf("/group/%v/join", groupId)).Do(nil)
}

func (c *client) deleteGroup(groupId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/group/%v", groupId)).Do(nil)
}
