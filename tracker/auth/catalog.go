package auth

import (
	"sort"
	"strings"
)

// RoleName identifies a platform wide role. Global roles grant a fixed
// permission set everywhere; project roles (schema.ProjectRole*) grant
// permissions only within one project membership.
type RoleName string

const (
	RoleSuperAdmin   RoleName = "super_admin"
	RoleAdmin        RoleName = "admin"
	RoleProjectOwner RoleName = "project_owner"
	RoleTeamMember   RoleName = "team_member"
	RoleViewer       RoleName = "viewer"
)

// Permission is a "resource:action" token identifying one allowed operation.
type Permission string

const (
	ProjectView           Permission = "project:view"
	ProjectCreate         Permission = "project:create"
	ProjectUpdate         Permission = "project:update"
	ProjectDelete         Permission = "project:delete"
	ProjectArchive        Permission = "project:archive"
	ProjectManageMembers  Permission = "project:manage_members"
	ProjectManageSettings Permission = "project:manage_settings"

	SprintView     Permission = "sprint:view"
	SprintCreate   Permission = "sprint:create"
	SprintUpdate   Permission = "sprint:update"
	SprintDelete   Permission = "sprint:delete"
	SprintStart    Permission = "sprint:start"
	SprintComplete Permission = "sprint:complete"

	TaskView       Permission = "task:view"
	TaskCreate     Permission = "task:create"
	TaskUpdate     Permission = "task:update"
	TaskDelete     Permission = "task:delete"
	TaskAssign     Permission = "task:assign"
	TaskTransition Permission = "task:transition"
	TaskComment    Permission = "task:comment"

	UserView        Permission = "user:view"
	UserCreate      Permission = "user:create"
	UserUpdate      Permission = "user:update"
	UserDelete      Permission = "user:delete"
	UserManageRoles Permission = "user:manage_roles"
	UserImpersonate Permission = "user:impersonate"

	AdminAccessPanel   Permission = "admin:access_panel"
	AdminManageSystem  Permission = "admin:manage_system"
	AdminViewAuditLogs Permission = "admin:view_audit_logs"

	ReportView   Permission = "report:view"
	ReportCreate Permission = "report:create"
	ReportExport Permission = "report:export"

	AiUseAssistant    Permission = "ai:use_assistant"
	AiGenerateReports Permission = "ai:generate_reports"

	NotificationView   Permission = "notification:view"
	NotificationManage Permission = "notification:manage"
)

// Resource returns the "resource" half of the permission token.
func (p Permission) Resource() string {
	if i := strings.IndexByte(string(p), ':'); i >= 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Action returns the "action" half of the permission token.
func (p Permission) Action() string {
	if i := strings.IndexByte(string(p), ':'); i >= 0 {
		return string(p)[i+1:]
	}
	return ""
}

type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s PermissionSet) Add(perms ...Permission) PermissionSet {
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	for p := range other {
		s[p] = struct{}{}
	}
	return s
}

// Sorted returns the permissions in lexical order, for stable API responses.
func (s PermissionSet) Sorted() []Permission {
	perms := make([]Permission, 0, len(s))
	for p := range s {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

var projectPermissions = []Permission{
	ProjectView, ProjectCreate, ProjectUpdate, ProjectDelete,
	ProjectArchive, ProjectManageMembers, ProjectManageSettings,
}

var sprintPermissions = []Permission{
	SprintView, SprintCreate, SprintUpdate, SprintDelete, SprintStart, SprintComplete,
}

var taskPermissions = []Permission{
	TaskView, TaskCreate, TaskUpdate, TaskDelete, TaskAssign, TaskTransition, TaskComment,
}

var userPermissions = []Permission{
	UserView, UserCreate, UserUpdate, UserDelete, UserManageRoles, UserImpersonate,
}

var adminPermissions = []Permission{
	AdminAccessPanel, AdminManageSystem, AdminViewAuditLogs,
}

var reportPermissions = []Permission{ReportView, ReportCreate, ReportExport}

var aiPermissions = []Permission{AiUseAssistant, AiGenerateReports}

var notificationPermissions = []Permission{NotificationView, NotificationManage}

// AllPermissions returns the closed catalog grouped in resource order.
func AllPermissions() []Permission {
	var all []Permission
	for _, group := range [][]Permission{
		projectPermissions, sprintPermissions, taskPermissions,
		userPermissions, adminPermissions, reportPermissions,
		aiPermissions, notificationPermissions,
	} {
		all = append(all, group...)
	}
	return all
}

// rolePermissions maps each global role to its permission set. The tables are
// built once at package load and must never be mutated afterwards; every
// lookup goes through PermissionsFor which copies.
var rolePermissions = map[RoleName]PermissionSet{
	RoleSuperAdmin: NewPermissionSet(AllPermissions()...),

	RoleAdmin: NewPermissionSet(projectPermissions...).
		Add(sprintPermissions...).
		Add(taskPermissions...).
		Add(UserView, UserCreate, UserUpdate, UserDelete, UserManageRoles).
		Add(reportPermissions...).
		Add(aiPermissions...).
		Add(adminPermissions...).
		Add(notificationPermissions...),

	RoleProjectOwner: NewPermissionSet(
		ProjectView, ProjectCreate, ProjectUpdate, ProjectArchive,
		ProjectManageMembers, ProjectManageSettings,
	).
		Add(sprintPermissions...).
		Add(taskPermissions...).
		Add(reportPermissions...).
		Add(aiPermissions...).
		Add(NotificationView),

	RoleTeamMember: NewPermissionSet(
		ProjectView,
		SprintView, SprintUpdate,
		TaskView, TaskCreate, TaskUpdate, TaskTransition, TaskComment,
		ReportView,
		NotificationView,
	),

	RoleViewer: NewPermissionSet(
		ProjectView, SprintView, TaskView, ReportView,
	),
}

// projectRolePermissions maps project membership roles (schema.ProjectRole*)
// to project scoped permission sets. These are distinct from the global role
// sets: a principal's effective permissions for a project are the union of
// the two.
var projectRolePermissions = map[string]PermissionSet{
	"owner": NewPermissionSet(projectPermissions...).
		Add(sprintPermissions...).
		Add(taskPermissions...).
		Add(reportPermissions...).
		Add(aiPermissions...),

	"admin": NewPermissionSet(
		ProjectView, ProjectUpdate, ProjectManageMembers, ProjectManageSettings,
	).
		Add(sprintPermissions...).
		Add(taskPermissions...).
		Add(reportPermissions...),

	"member": NewPermissionSet(
		ProjectView,
		SprintView,
		TaskView, TaskCreate, TaskUpdate, TaskTransition, TaskComment,
		ReportView,
	),

	"viewer": NewPermissionSet(
		ProjectView, SprintView, TaskView, ReportView,
	),
}

// PermissionsFor computes the effective permission set for a principal
// holding the given global roles, optionally within the context of a project
// membership role (empty string means no project context). Pure function:
// same inputs always produce the same set, input order is irrelevant, and
// adding a role can only grow the result.
func PermissionsFor(globalRoles []RoleName, projectRole string) PermissionSet {
	effective := NewPermissionSet()
	for _, role := range globalRoles {
		if set, ok := rolePermissions[role]; ok {
			effective.Union(set)
		}
	}
	if set, ok := projectRolePermissions[projectRole]; ok {
		effective.Union(set)
	}
	return effective
}

// GlobalRolePermissions returns a copy of the permission set for one global
// role, or an empty set for unknown roles.
func GlobalRolePermissions(role RoleName) PermissionSet {
	return PermissionsFor([]RoleName{role}, "")
}

// AllRoles lists the built in global roles.
func AllRoles() []RoleName {
	return []RoleName{RoleSuperAdmin, RoleAdmin, RoleProjectOwner, RoleTeamMember, RoleViewer}
}
