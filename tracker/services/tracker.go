package services

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/auth"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/storage"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

// Tracker composes the individual services into one router.
type Tracker struct {
	user         UserService
	role         RoleService
	group        GroupService
	project      ProjectService
	sprint       SprintService
	task         TaskService
	comment      CommentService
	attachment   AttachmentService
	notification NotificationService
	audit        AuditService

	db   *gorm.DB
	stop chan bool
}

func NewTracker(db *gorm.DB, store storage.Storage, userAuth auth.IdentityProvider) Tracker {
	return Tracker{
		user:         UserService{db: db, userAuth: userAuth},
		role:         RoleService{db: db, userAuth: userAuth},
		group:        GroupService{db: db, userAuth: userAuth},
		project:      ProjectService{db: db, storage: store, userAuth: userAuth},
		sprint:       SprintService{db: db, userAuth: userAuth},
		task:         TaskService{db: db, userAuth: userAuth},
		comment:      CommentService{db: db, userAuth: userAuth},
		attachment:   AttachmentService{db: db, storage: store, userAuth: userAuth},
		notification: NotificationService{db: db, userAuth: userAuth},
		audit:        AuditService{db: db, userAuth: userAuth},
		db:           db,
		stop:         make(chan bool, 1),
	}
}

func (t *Tracker) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", t.user.Routes())
	r.Mount("/role", t.role.Routes())
	r.Mount("/group", t.group.Routes())
	r.Mount("/project", t.project.Routes())
	r.Mount("/sprint", t.sprint.Routes())
	r.Mount("/task", t.task.Routes())
	r.Mount("/comment", t.comment.Routes())
	r.Mount("/attachment", t.attachment.Routes())
	r.Mount("/notification", t.notification.Routes())
	r.Mount("/audit", t.audit.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}

// dispatchPending marks queued notifications as sent and prunes expired rows.
// Delivery over email/push would hook in here; marking sent keeps retries
// possible if the process dies mid batch.
func (t *Tracker) dispatchPending() {
	now := time.Now().UTC()

	result := t.db.Model(&schema.Notification{}).
		Where("sent = ?", false).
		Updates(map[string]interface{}{"sent": true, "sent_at": &now})
	if result.Error != nil {
		slog.Error("notification dispatch: sql error marking notifications sent", "error", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		slog.Info("notification dispatch: delivered pending notifications", "count", result.RowsAffected)
	}

	pruned := t.db.Where("expires_at IS NOT NULL AND expires_at < ?", now).Delete(&schema.Notification{})
	if pruned.Error != nil {
		slog.Error("notification dispatch: sql error pruning expired notifications", "error", pruned.Error)
		return
	}
	if pruned.RowsAffected > 0 {
		slog.Info("notification dispatch: pruned expired notifications", "count", pruned.RowsAffected)
	}
}

func (t *Tracker) NotificationDispatch(interval time.Duration) {
	slog.Info("notification dispatch: starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.dispatchPending()
		case <-t.stop:
			slog.Info("notification dispatch: process stopped")
			return
		}
	}
}

func (t *Tracker) StopNotificationDispatch() {
	close(t.stop)
}
