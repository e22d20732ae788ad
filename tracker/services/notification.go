package services

import (
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

type NotificationService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *NotificationService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)
	r.Post("/read-all", s.MarkAllRead)

	r.Route("/{notification_id}", func(r chi.Router) {
		r.Post("/read", s.MarkRead)
		r.Delete("/", s.DeleteNotification)
	})

	return r
}

type NotificationInfo struct {
	Id uuid.UUID `json:"id"`

	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`

	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	ActionUrl string `json:"action_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (s *NotificationService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	limit, err := utils.QueryParamInt(r, "limit", 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query := s.db.Where("user_id = ?", user.Id)
	if r.URL.Query().Get("unread") == "true" {
		query = query.Where("read = ?", false)
	}
	// Expired notifications are hidden but remain until the dispatch loop
	// prunes them.
	query = query.Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC())

	var notifications []schema.Notification
	result := query.Order("created_at DESC").Limit(limit).Find(&notifications)
	if result.Error != nil {
		slog.Error("sql error listing notifications", "user_id", user.Id, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing notifications: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]NotificationInfo, 0, len(notifications))
	for _, notification := range notifications {
		infos = append(infos, NotificationInfo{
			Id:        notification.Id,
			Type:      notification.Type,
			Title:     notification.Title,
			Message:   notification.Message,
			Read:      notification.Read,
			ReadAt:    notification.ReadAt,
			ActionUrl: notification.ActionUrl,
			CreatedAt: notification.CreatedAt,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *NotificationService) MarkRead(w http.ResponseWriter, r *http.Request) {
	notificationId, err := utils.URLParamUUID(r, "notification_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	result := s.db.Model(&schema.Notification{}).
		Where("id = ? AND user_id = ?", notificationId, user.Id).
		Updates(map[string]interface{}{"read": true, "read_at": &now})
	if result.Error != nil {
		slog.Error("sql error marking notification read", "notification_id", notificationId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error marking notification read: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}
	if result.RowsAffected != 1 {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}

	utils.WriteSuccess(w)
}

func (s *NotificationService) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	result := s.db.Model(&schema.Notification{}).
		Where("user_id = ? AND read = ?", user.Id, false).
		Updates(map[string]interface{}{"read": true, "read_at": &now})
	if result.Error != nil {
		slog.Error("sql error marking all notifications read", "user_id", user.Id, "error", result.Error)
		http.Error(w, fmt.Sprintf("error marking notifications read: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *NotificationService) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	notificationId, err := utils.URLParamUUID(r, "notification_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := s.db.Where("id = ? AND user_id = ?", notificationId, user.Id).Delete(&schema.Notification{})
	if result.Error != nil {
		slog.Error("sql error deleting notification", "notification_id", notificationId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error deleting notification: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}
	if result.RowsAffected != 1 {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}

	utils.WriteSuccess(w)
}
