package services

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/auth"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/storage"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxAttachmentBytes = 50 * 1024 * 1024

type AttachmentService struct {
	db       *gorm.DB
	storage  storage.Storage
	userAuth auth.IdentityProvider
}

func (s *AttachmentService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(checkSufficientStorage(s.storage)).Post("/upload", s.Upload)

	r.Get("/list", s.List)

	r.Route("/{attachment_id}", func(r chi.Router) {
		r.Get("/download", s.Download)
		r.Delete("/", s.DeleteAttachment)
	})

	return r
}

func attachmentPath(projectId, attachmentId uuid.UUID) string {
	return filepath.Join(projectPath(projectId), "attachments", attachmentId.String())
}

type uploadResponse struct {
	AttachmentId uuid.UUID `json:"attachment_id"`
}

// Upload stores a file sent as multipart form data. The "task_id" form value
// is required, "comment_id" optionally attaches the file to a comment on that
// task.
func (s *AttachmentService) Upload(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		http.Error(w, fmt.Sprintf("error parsing multipart request: %v", err), http.StatusBadRequest)
		return
	}

	taskId, err := uuid.Parse(r.FormValue("task_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid task_id form value: %v", err), http.StatusBadRequest)
		return
	}

	task, err := schema.GetTask(taskId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrTaskNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error uploading attachment: %v", err), http.StatusInternalServerError)
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.MemberLevel); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var commentId *uuid.UUID
	if value := r.FormValue("comment_id"); value != "" {
		id, err := uuid.Parse(value)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid comment_id form value: %v", err), http.StatusBadRequest)
			return
		}
		comment, err := schema.GetComment(id, s.db)
		if err != nil {
			if errors.Is(err, schema.ErrCommentNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, fmt.Sprintf("error uploading attachment: %v", err), http.StatusInternalServerError)
			return
		}
		if comment.TaskId != taskId {
			http.Error(w, "comment does not belong to the given task", http.StatusUnprocessableEntity)
			return
		}
		commentId = &id
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading file from request: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > maxAttachmentBytes {
		http.Error(w, fmt.Sprintf("attachment exceeds the %d byte limit", maxAttachmentBytes), http.StatusRequestEntityTooLarge)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	attachment := schema.Attachment{
		Id:         uuid.New(),
		TaskId:     &taskId,
		CommentId:  commentId,
		UploaderId: user.Id,
		FileName:   header.Filename,
		MimeType:   mimeType,
		SizeBytes:  header.Size,
	}
	attachment.StoragePath = attachmentPath(task.ProjectId, attachment.Id)

	if err := s.storage.Write(attachment.StoragePath, file); err != nil {
		slog.Error("error writing attachment to storage", "attachment_id", attachment.Id, "error", err)
		http.Error(w, "error saving attachment", http.StatusInternalServerError)
		return
	}

	result := s.db.Create(&attachment)
	if result.Error != nil {
		slog.Error("sql error creating attachment entry", "error", result.Error)
		if err := s.storage.Delete(attachment.StoragePath); err != nil {
			slog.Error("error removing orphaned attachment file", "attachment_id", attachment.Id, "error", err)
		}
		http.Error(w, fmt.Sprintf("error saving attachment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	recordActivity(s.db, "task", taskId, user.Id, "attachment_added", map[string]interface{}{"file_name": header.Filename})

	utils.WriteJsonResponse(w, uploadResponse{AttachmentId: attachment.Id})
}

type AttachmentInfo struct {
	Id         uuid.UUID  `json:"id"`
	TaskId     *uuid.UUID `json:"task_id,omitempty"`
	CommentId  *uuid.UUID `json:"comment_id,omitempty"`
	UploaderId uuid.UUID  `json:"uploader_id"`

	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`

	Media *schema.MediaInfo `json:"media,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func convertToAttachmentInfo(attachment *schema.Attachment) AttachmentInfo {
	return AttachmentInfo{
		Id:         attachment.Id,
		TaskId:     attachment.TaskId,
		CommentId:  attachment.CommentId,
		UploaderId: attachment.UploaderId,
		FileName:   attachment.FileName,
		MimeType:   attachment.MimeType,
		SizeBytes:  attachment.SizeBytes,
		Media:      attachment.Media,
		CreatedAt:  attachment.CreatedAt,
	}
}

func (s *AttachmentService) List(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.QueryParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := schema.GetTask(taskId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrTaskNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error listing attachments: %v", err), http.StatusInternalServerError)
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.ViewerLevel); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var attachments []schema.Attachment
	result := s.db.Where("task_id = ?", taskId).Find(&attachments)
	if result.Error != nil {
		slog.Error("sql error listing attachments", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing attachments: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]AttachmentInfo, 0, len(attachments))
	for _, attachment := range attachments {
		infos = append(infos, convertToAttachmentInfo(&attachment))
	}

	utils.WriteJsonResponse(w, infos)
}

// loadAttachmentChecked loads an attachment and verifies access through the
// task it belongs to.
func (s *AttachmentService) loadAttachmentChecked(r *http.Request, attachmentId uuid.UUID, write bool) (schema.Attachment, error) {
	attachment, err := schema.GetAttachment(attachmentId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrAttachmentNotFound) {
			return attachment, CodedError(err, http.StatusNotFound)
		}
		return attachment, CodedError(err, http.StatusInternalServerError)
	}

	if attachment.TaskId == nil {
		return attachment, nil
	}

	task, err := schema.GetTask(*attachment.TaskId, s.db)
	if err != nil {
		return attachment, CodedError(err, http.StatusInternalServerError)
	}

	if write {
		err = auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.MemberLevel)
	} else {
		err = auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.ViewerLevel)
	}
	if err != nil {
		if errors.Is(err, schema.ErrDbAccessFailed) {
			return attachment, CodedError(err, http.StatusInternalServerError)
		}
		return attachment, CodedError(err, http.StatusForbidden)
	}

	return attachment, nil
}

func (s *AttachmentService) Download(w http.ResponseWriter, r *http.Request) {
	attachmentId, err := utils.URLParamUUID(r, "attachment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	attachment, err := s.loadAttachmentChecked(r, attachmentId, false)
	if err != nil {
		http.Error(w, fmt.Sprintf("error downloading attachment: %v", err), GetResponseCode(err))
		return
	}

	exists, err := s.storage.Exists(attachment.StoragePath)
	if err != nil {
		slog.Error("error checking attachment in storage", "attachment_id", attachmentId, "error", err)
		http.Error(w, "error reading attachment", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "attachment content not found", http.StatusNotFound)
		return
	}

	size, err := s.storage.Size(attachment.StoragePath)
	if err != nil {
		slog.Error("error getting attachment size", "attachment_id", attachmentId, "error", err)
		http.Error(w, "error reading attachment", http.StatusInternalServerError)
		return
	}

	file, err := s.storage.Read(attachment.StoragePath)
	if err != nil {
		slog.Error("error reading attachment from storage", "attachment_id", attachmentId, "error", err)
		http.Error(w, "error reading attachment", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", attachment.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.FileName))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))

	if _, err := io.Copy(w, file); err != nil {
		slog.Error("error streaming attachment", "attachment_id", attachmentId, "error", err)
	}
}

func (s *AttachmentService) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentId, err := utils.URLParamUUID(r, "attachment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	attachment, err := s.loadAttachmentChecked(r, attachmentId, true)
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting attachment: %v", err), GetResponseCode(err))
		return
	}

	// Uploaders delete their own files, otherwise project admin standing is
	// required.
	if attachment.UploaderId != user.Id && attachment.TaskId != nil {
		task, err := schema.GetTask(*attachment.TaskId, s.db)
		if err != nil {
			http.Error(w, fmt.Sprintf("error deleting attachment: %v", err), http.StatusInternalServerError)
			return
		}
		if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.AdminLevel); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	result := s.db.Delete(&schema.Attachment{Id: attachmentId})
	if result.Error != nil {
		slog.Error("sql error deleting attachment", "attachment_id", attachmentId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error deleting attachment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	if err := s.storage.Delete(attachment.StoragePath); err != nil {
		slog.Error("error deleting attachment from storage", "attachment_id", attachmentId, "error", err)
	}

	utils.WriteSuccess(w)
}
