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

type AuditService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *AuditService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/activity", s.ListActivity)

	r.With(auth.RequirePermission(auth.AdminViewAuditLogs)).Get("/logs", s.ListAuditLogs)

	return r
}

type ActivityInfo struct {
	Id uuid.UUID `json:"id"`

	EntityType string    `json:"entity_type"`
	EntityId   uuid.UUID `json:"entity_id"`

	UserId uuid.UUID `json:"user_id"`
	Action string    `json:"action"`

	Details map[string]interface{} `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ListActivity returns the activity feed for one entity, newest first.
func (s *AuditService) ListActivity(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if entityType == "" {
		http.Error(w, "missing entity_type query parameter", http.StatusBadRequest)
		return
	}

	entityId, err := utils.QueryParamUUID(r, "entity_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit, err := utils.QueryParamInt(r, "limit", 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var activities []schema.Activity
	result := s.db.
		Where("entity_type = ? AND entity_id = ?", entityType, entityId).
		Order("created_at DESC").
		Limit(limit).
		Find(&activities)
	if result.Error != nil {
		slog.Error("sql error listing activity", "entity_type", entityType, "entity_id", entityId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing activity: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ActivityInfo, 0, len(activities))
	for _, activity := range activities {
		infos = append(infos, ActivityInfo{
			Id:         activity.Id,
			EntityType: activity.EntityType,
			EntityId:   activity.EntityId,
			UserId:     activity.UserId,
			Action:     activity.Action,
			Details:    activity.Details,
			CreatedAt:  activity.CreatedAt,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

type AuditLogInfo struct {
	Id uuid.UUID `json:"id"`

	UserId uuid.UUID `json:"user_id"`

	Action     string     `json:"action"`
	EntityType string     `json:"entity_type,omitempty"`
	EntityId   *uuid.UUID `json:"entity_id,omitempty"`

	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`

	ClientIp string `json:"client_ip"`

	CreatedAt time.Time `json:"created_at"`
}

func (s *AuditService) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryParamInt(r, "limit", 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := utils.QueryParamInt(r, "offset", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query := s.db.Model(&schema.AuditLog{})

	if value := r.URL.Query().Get("user_id"); value != "" {
		userId, err := uuid.Parse(value)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid uuid '%v' provided: %v", value, err), http.StatusBadRequest)
			return
		}
		query = query.Where("user_id = ?", userId)
	}

	if value := r.URL.Query().Get("since"); value != "" {
		since, err := time.Parse(time.RFC3339, value)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid timestamp '%v' provided: %v", value, err), http.StatusBadRequest)
			return
		}
		query = query.Where("created_at >= ?", since)
	}

	if value := r.URL.Query().Get("until"); value != "" {
		until, err := time.Parse(time.RFC3339, value)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid timestamp '%v' provided: %v", value, err), http.StatusBadRequest)
			return
		}
		query = query.Where("created_at < ?", until)
	}

	var logs []schema.AuditLog
	result := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&logs)
	if result.Error != nil {
		slog.Error("sql error listing audit logs", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing audit logs: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]AuditLogInfo, 0, len(logs))
	for _, log := range logs {
		infos = append(infos, AuditLogInfo{
			Id:         log.Id,
			UserId:     log.UserId,
			Action:     log.Action,
			EntityType: log.EntityType,
			EntityId:   log.EntityId,
			Success:    log.Success,
			Error:      log.Error,
			DurationMs: log.DurationMs,
			ClientIp:   log.ClientIp,
			CreatedAt:  log.CreatedAt,
		})
	}

	utils.WriteJsonResponse(w, infos)
}
