package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Project status values.
const (
	ProjectPlanning  = "planning"
	ProjectActive    = "active"
	ProjectOnHold    = "on_hold"
	ProjectCompleted = "completed"
	ProjectArchived  = "archived"
)

// Project visibility values.
const (
	VisibilityPrivate = "private"
	VisibilityTeam    = "team"
	VisibilityPublic  = "public"
)

// Project membership roles. These are scoped to a single project and are
// distinct from the global roles defined in the auth catalog.
const (
	ProjectRoleOwner  = "owner"
	ProjectRoleAdmin  = "admin"
	ProjectRoleMember = "member"
	ProjectRoleViewer = "viewer"
)

// Sprint status values.
const (
	SprintPlanning  = "planning"
	SprintActive    = "active"
	SprintReview    = "review"
	SprintCompleted = "completed"
	SprintCancelled = "cancelled"
)

// Task type values.
const (
	TaskTypeStory   = "story"
	TaskTypeBug     = "bug"
	TaskTypeTask    = "task"
	TaskTypeEpic    = "epic"
	TaskTypeSubtask = "subtask"
)

// Task priority values.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Task status values.
const (
	TaskBacklog    = "backlog"
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskInReview   = "in_review"
	TaskDone       = "done"
	TaskCancelled  = "cancelled"
)

// Task dependency types.
const (
	DepBlocks      = "blocks"
	DepIsBlockedBy = "is_blocked_by"
	DepRelatesTo   = "relates_to"
)

// Group visibility and join policy values.
const (
	GroupVisible = "visible"
	GroupHidden  = "hidden"

	JoinOpen     = "open"
	JoinApproval = "approval"
	JoinInvite   = "invite"
)

// Notification types.
const (
	NotifyTaskAssigned   = "task_assigned"
	NotifyMention        = "mention"
	NotifySprintStarted  = "sprint_started"
	NotifyProjectInvite  = "project_invite"
	NotifyCommentReply   = "comment_reply"
	NotifySystemMessage  = "system_message"
)

func CheckValidTaskStatus(status string) error {
	switch status {
	case TaskBacklog, TaskTodo, TaskInProgress, TaskInReview, TaskDone, TaskCancelled:
		return nil
	}
	return fmt.Errorf("invalid task status '%v'", status)
}

func CheckValidProjectRole(role string) error {
	switch role {
	case ProjectRoleOwner, ProjectRoleAdmin, ProjectRoleMember, ProjectRoleViewer:
		return nil
	}
	return fmt.Errorf("invalid project role '%v'", role)
}

func CheckValidDependencyType(dep string) error {
	switch dep {
	case DepBlocks, DepIsBlockedBy, DepRelatesTo:
		return nil
	}
	return fmt.Errorf("invalid dependency type '%v'", dep)
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	FirstName string `gorm:"size:100"`
	LastName  string `gorm:"size:100"`

	IsActive   bool `gorm:"not null;default:true"`
	IsVerified bool `gorm:"not null;default:false"`

	Theme              string `gorm:"size:50;not null;default:'system'"`
	EmailNotifications bool   `gorm:"not null;default:true"`
	PushNotifications  bool   `gorm:"not null;default:true"`

	Roles  []Role  `gorm:"many2many:user_roles;"`
	Groups []Group `gorm:"many2many:group_members;"`

	OwnedProjects []Project `gorm:"foreignKey:OwnerId"`
	AssignedTasks []Task    `gorm:"foreignKey:AssigneeId"`
	ReportedTasks []Task    `gorm:"foreignKey:ReporterId"`
	Comments      []Comment `gorm:"foreignKey:AuthorId"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"unique;size:100;not null"`
	Description string `gorm:"size:500"`

	IsActive bool `gorm:"not null;default:true"`
	IsSystem bool `gorm:"not null;default:false"`

	Permissions []Permission `gorm:"many2many:role_permissions;"`
	Users       []User       `gorm:"many2many:user_roles;"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Permission struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name     string `gorm:"unique;size:100;not null"`
	Resource string `gorm:"size:50;not null"`
	Action   string `gorm:"size:50;not null"`

	Conditions map[string]interface{} `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Group struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"size:100;not null"`
	Description string `gorm:"size:500"`

	OwnerId uuid.UUID `gorm:"type:uuid;not null"`
	Owner   *User     `gorm:"foreignKey:OwnerId"`

	Members []User `gorm:"many2many:group_members;"`

	Visibility string `gorm:"size:50;not null;default:'visible'"`
	JoinPolicy string `gorm:"size:50;not null;default:'invite'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomField is a user defined field attached to all tasks of a project.
type CustomField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ProjectSettings struct {
	SprintDurationWeeks int           `json:"sprint_duration_weeks"`
	StoryPointScale     []int         `json:"story_point_scale"`
	CustomFields        []CustomField `json:"custom_fields"`
}

func DefaultProjectSettings() ProjectSettings {
	return ProjectSettings{
		SprintDurationWeeks: 2,
		StoryPointScale:     []int{1, 2, 3, 5, 8, 13, 21},
	}
}

type ProjectMetrics struct {
	TotalTasks      int     `json:"total_tasks"`
	CompletedTasks  int     `json:"completed_tasks"`
	TotalPoints     int     `json:"total_points"`
	CompletedPoints int     `json:"completed_points"`
	Velocity        float64 `json:"velocity"`
}

type Project struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Key         string `gorm:"unique;size:20;not null"`
	Name        string `gorm:"size:200;not null"`
	Description string

	Status     string `gorm:"size:50;not null;default:'planning'"`
	Visibility string `gorm:"size:50;not null;default:'private'"`

	OwnerId uuid.UUID `gorm:"type:uuid;not null"`
	Owner   *User     `gorm:"foreignKey:OwnerId"`

	Members []ProjectMember `gorm:"constraint:OnDelete:CASCADE"`
	Sprints []Sprint        `gorm:"constraint:OnDelete:CASCADE"`
	Tasks   []Task          `gorm:"constraint:OnDelete:CASCADE"`

	Settings ProjectSettings `gorm:"serializer:json"`
	Metrics  ProjectMetrics  `gorm:"serializer:json"`

	// Counter used to generate task keys of the form <KEY>-<n>.
	NextTaskNumber int `gorm:"not null;default:1"`

	ArchivedAt    *time.Time
	ArchivedBy    *uuid.UUID `gorm:"type:uuid"`
	ArchiveReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProjectMember struct {
	ProjectId uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId    uuid.UUID `gorm:"type:uuid;primaryKey"`

	Role string `gorm:"size:50;not null;default:'member'"`

	// Explicit permission-string grants on top of what Role implies.
	ExtraPermissions []string `gorm:"serializer:json"`

	IsActive bool `gorm:"not null;default:true"`

	InvitedBy *uuid.UUID `gorm:"type:uuid"`
	InvitedAt *time.Time
	JoinedAt  time.Time

	Project *Project `gorm:"constraint:OnDelete:CASCADE"`
	User    *User    `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type BurndownPoint struct {
	Date            time.Time `json:"date"`
	RemainingPoints int       `json:"remaining_points"`
}

type Retrospective struct {
	WentWell    []string `json:"went_well"`
	WentWrong   []string `json:"went_wrong"`
	ActionItems []string `json:"action_items"`
	TeamMood    string   `json:"team_mood"`
}

type Sprint struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId uuid.UUID `gorm:"type:uuid;not null;index"`
	Project   *Project  `gorm:"constraint:OnDelete:CASCADE"`

	Name string `gorm:"size:200;not null"`
	Goal string

	StartDate time.Time
	EndDate   time.Time

	Status string `gorm:"size:50;not null;default:'planning'"`

	PlannedPoints   int `gorm:"not null;default:0"`
	CompletedPoints int `gorm:"not null;default:0"`
	Velocity        float64

	Burndown      []BurndownPoint `gorm:"serializer:json"`
	Retrospective *Retrospective  `gorm:"serializer:json"`

	Tasks []Task `gorm:"foreignKey:SprintId"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type TaskDependency struct {
	TaskId uuid.UUID `json:"task_id"`
	Type   string    `json:"type"`
}

type Task struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId uuid.UUID `gorm:"type:uuid;not null;index"`
	Project   *Project  `gorm:"constraint:OnDelete:CASCADE"`

	SprintId *uuid.UUID `gorm:"type:uuid;index"`
	Sprint   *Sprint    `gorm:"constraint:OnDelete:SET NULL"`

	Key         string `gorm:"unique;size:30;not null"`
	Title       string `gorm:"size:300;not null"`
	Description string

	Type     string `gorm:"size:50;not null;default:'task'"`
	Priority string `gorm:"size:50;not null;default:'medium'"`
	Status   string `gorm:"size:50;not null;default:'backlog'"`

	AssigneeId *uuid.UUID `gorm:"type:uuid"`
	Assignee   *User      `gorm:"foreignKey:AssigneeId"`

	ReporterId uuid.UUID `gorm:"type:uuid;not null"`
	Reporter   *User     `gorm:"foreignKey:ReporterId"`

	// Self reference forming the subtask tree. Acyclicity is enforced by the
	// task service on every reparent, not by the schema.
	ParentId *uuid.UUID `gorm:"type:uuid"`
	Parent   *Task      `gorm:"foreignKey:ParentId"`
	Subtasks []Task     `gorm:"foreignKey:ParentId"`

	StoryPoints *int
	DueDate     *time.Time

	Labels       []string         `gorm:"serializer:json"`
	Dependencies []TaskDependency `gorm:"serializer:json"`
	Watchers     []uuid.UUID      `gorm:"serializer:json"`

	Comments    []Comment    `gorm:"constraint:OnDelete:CASCADE"`
	Attachments []Attachment `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Reaction struct {
	UserId uuid.UUID `json:"user_id"`
	Emoji  string    `json:"emoji"`
}

type Comment struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	TaskId uuid.UUID `gorm:"type:uuid;not null;index"`
	Task   *Task     `gorm:"constraint:OnDelete:CASCADE"`

	AuthorId uuid.UUID `gorm:"type:uuid;not null"`
	Author   *User     `gorm:"foreignKey:AuthorId"`

	// Threaded replies. The parent must belong to the same task.
	ParentId *uuid.UUID `gorm:"type:uuid"`
	Parent   *Comment   `gorm:"foreignKey:ParentId"`
	Replies  []Comment  `gorm:"foreignKey:ParentId"`

	Content string `gorm:"not null"`

	Mentions  []uuid.UUID `gorm:"serializer:json"`
	Reactions []Reaction  `gorm:"serializer:json"`

	Edited   bool `gorm:"not null;default:false"`
	EditedAt *time.Time

	Attachments []Attachment `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type MediaInfo struct {
	Width      int   `json:"width,omitempty"`
	Height     int   `json:"height,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty"`
}

type Attachment struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	TaskId *uuid.UUID `gorm:"type:uuid;index"`
	Task   *Task      `gorm:"constraint:OnDelete:CASCADE"`

	CommentId *uuid.UUID `gorm:"type:uuid;index"`
	Comment   *Comment   `gorm:"constraint:OnDelete:CASCADE"`

	UploaderId uuid.UUID `gorm:"type:uuid;not null"`
	Uploader   *User     `gorm:"foreignKey:UploaderId"`

	FileName    string `gorm:"size:300;not null"`
	MimeType    string `gorm:"size:100;not null"`
	SizeBytes   int64  `gorm:"not null"`
	StoragePath string `gorm:"size:500;not null"`

	Media *MediaInfo `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Notification struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null;index"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE"`

	Type    string `gorm:"size:50;not null"`
	Title   string `gorm:"size:200;not null"`
	Message string

	Read   bool `gorm:"not null;default:false"`
	ReadAt *time.Time

	Sent   bool `gorm:"not null;default:false"`
	SentAt *time.Time

	ActionUrl string `gorm:"size:500"`
	ExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Activity rows are append only. They are created by the services when an
// entity is mutated and never updated afterwards.
type Activity struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	EntityType string    `gorm:"size:50;not null;index:idx_activity_entity"`
	EntityId   uuid.UUID `gorm:"type:uuid;not null;index:idx_activity_entity"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	Action string    `gorm:"size:100;not null"`

	Details map[string]interface{} `gorm:"serializer:json"`

	CreatedAt time.Time
}

// AuditLog rows are append only, used for compliance trails.
type AuditLog struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null;index:idx_audit_user_time"`

	Action     string `gorm:"size:100;not null"`
	EntityType string `gorm:"size:50"`
	EntityId   *uuid.UUID `gorm:"type:uuid"`

	OldValues string
	NewValues string

	Success    bool `gorm:"not null;default:true"`
	Error      string
	DurationMs int64

	ClientIp string `gorm:"size:50"`

	CreatedAt time.Time `gorm:"index:idx_audit_user_time"`
}

// AllModels lists every schema type in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{}, &Role{}, &Permission{}, &Group{},
		&Project{}, &ProjectMember{}, &Sprint{}, &Task{},
		&Comment{}, &Attachment{}, &Notification{},
		&Activity{}, &AuditLog{},
	}
}
