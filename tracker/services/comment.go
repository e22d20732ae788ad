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

type CommentService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *CommentService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.CreateComment)
	r.Get("/list", s.List)

	r.Route("/{comment_id}", func(r chi.Router) {
		r.Post("/update", s.UpdateComment)
		r.Delete("/", s.DeleteComment)

		r.Post("/reactions", s.AddReaction)
		r.Delete("/reactions", s.RemoveReaction)
	})

	return r
}

type createCommentRequest struct {
	TaskId   uuid.UUID  `json:"task_id"`
	ParentId *uuid.UUID `json:"parent_id"`

	Content  string      `json:"content"`
	Mentions []uuid.UUID `json:"mentions"`
}

type createCommentResponse struct {
	CommentId uuid.UUID `json:"comment_id"`
}

func (s *CommentService) CreateComment(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createCommentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Content == "" {
		http.Error(w, "comment content must be specified", http.StatusBadRequest)
		return
	}

	task, err := schema.GetTask(params.TaskId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrTaskNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error creating comment: %v", err), http.StatusInternalServerError)
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.MemberLevel); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	newComment := schema.Comment{
		Id:       uuid.New(),
		TaskId:   params.TaskId,
		AuthorId: user.Id,
		Content:  params.Content,
		Mentions: params.Mentions,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if params.ParentId != nil {
			parent, err := schema.GetComment(*params.ParentId, txn)
			if err != nil {
				if errors.Is(err, schema.ErrCommentNotFound) {
					return CodedError(err, http.StatusNotFound)
				}
				return CodedError(err, http.StatusInternalServerError)
			}
			if parent.TaskId != params.TaskId {
				return CodedError(errors.New("reply must belong to the same task as its parent"), http.StatusUnprocessableEntity)
			}
			newComment.ParentId = params.ParentId

			if parent.AuthorId != user.Id {
				err := queueNotification(
					txn, parent.AuthorId, schema.NotifyCommentReply,
					fmt.Sprintf("New reply on %v", task.Key),
					params.Content,
					fmt.Sprintf("/projects/%v/tasks/%v", task.ProjectId, task.Id),
				)
				if err != nil {
					return err
				}
			}
		}

		result := txn.Create(&newComment)
		if result.Error != nil {
			slog.Error("sql error creating new comment", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for _, mentioned := range params.Mentions {
			if mentioned == user.Id {
				continue
			}
			if err := checkUserExists(txn, mentioned); err != nil {
				return err
			}
			err := queueNotification(
				txn, mentioned, schema.NotifyMention,
				fmt.Sprintf("You were mentioned on %v", task.Key),
				params.Content,
				fmt.Sprintf("/projects/%v/tasks/%v", task.ProjectId, task.Id),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating comment: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createCommentResponse{CommentId: newComment.Id})
}

type CommentInfo struct {
	Id       uuid.UUID  `json:"id"`
	TaskId   uuid.UUID  `json:"task_id"`
	AuthorId uuid.UUID  `json:"author_id"`
	ParentId *uuid.UUID `json:"parent_id,omitempty"`

	Content string `json:"content"`

	Mentions  []uuid.UUID       `json:"mentions,omitempty"`
	Reactions []schema.Reaction `json:"reactions,omitempty"`

	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func convertToCommentInfo(comment *schema.Comment) CommentInfo {
	return CommentInfo{
		Id:        comment.Id,
		TaskId:    comment.TaskId,
		AuthorId:  comment.AuthorId,
		ParentId:  comment.ParentId,
		Content:   comment.Content,
		Mentions:  comment.Mentions,
		Reactions: comment.Reactions,
		Edited:    comment.Edited,
		EditedAt:  comment.EditedAt,
		CreatedAt: comment.CreatedAt,
	}
}

func (s *CommentService) List(w http.ResponseWriter, r *http.Request) {
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
		http.Error(w, fmt.Sprintf("error listing comments: %v", err), http.StatusInternalServerError)
		return
	}

	if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.ViewerLevel); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var comments []schema.Comment
	result := s.db.Where("task_id = ?", taskId).Order("created_at").Find(&comments)
	if result.Error != nil {
		slog.Error("sql error listing comments", "task_id", taskId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing comments: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]CommentInfo, 0, len(comments))
	for _, comment := range comments {
		infos = append(infos, convertToCommentInfo(&comment))
	}

	utils.WriteJsonResponse(w, infos)
}

type updateCommentRequest struct {
	Content string `json:"content"`
}

func (s *CommentService) UpdateComment(w http.ResponseWriter, r *http.Request) {
	commentId, err := utils.URLParamUUID(r, "comment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateCommentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Content == "" {
		http.Error(w, "comment content must be specified", http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	comment, err := schema.GetComment(commentId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrCommentNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error updating comment: %v", err), http.StatusInternalServerError)
		return
	}

	// Only the author can edit the text of a comment.
	if comment.AuthorId != user.Id {
		http.Error(w, "only the comment author can edit a comment", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	result := s.db.Model(&comment).Updates(map[string]interface{}{
		"content":   params.Content,
		"edited":    true,
		"edited_at": &now,
	})
	if result.Error != nil {
		slog.Error("sql error updating comment", "comment_id", commentId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error updating comment: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *CommentService) DeleteComment(w http.ResponseWriter, r *http.Request) {
	commentId, err := utils.URLParamUUID(r, "comment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	comment, err := schema.GetComment(commentId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrCommentNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error deleting comment: %v", err), http.StatusInternalServerError)
		return
	}

	// Authors delete their own comments, project admins anyone's.
	if comment.AuthorId != user.Id {
		task, err := schema.GetTask(comment.TaskId, s.db)
		if err != nil {
			http.Error(w, fmt.Sprintf("error deleting comment: %v", err), http.StatusInternalServerError)
			return
		}
		if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.AdminLevel); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Where("parent_id = ?", commentId).Delete(&schema.Comment{})
		if result.Error != nil {
			slog.Error("sql error deleting comment replies", "comment_id", commentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Comment{Id: commentId})
		if result.Error != nil {
			slog.Error("sql error deleting comment", "comment_id", commentId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting comment: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (s *CommentService) AddReaction(w http.ResponseWriter, r *http.Request) {
	s.updateReaction(w, r, true)
}

func (s *CommentService) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	s.updateReaction(w, r, false)
}

func (s *CommentService) updateReaction(w http.ResponseWriter, r *http.Request, add bool) {
	commentId, err := utils.URLParamUUID(r, "comment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params reactionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Emoji == "" {
		http.Error(w, "emoji must be specified", http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	comment, err := schema.GetComment(commentId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrCommentNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error updating reactions: %v", err), http.StatusInternalServerError)
		return
	}

	task, err := schema.GetTask(comment.TaskId, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating reactions: %v", err), http.StatusInternalServerError)
		return
	}
	if err := auth.CheckMemberLevel(r, s.db, task.ProjectId, auth.ViewerLevel); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	// A user holds at most one reaction with a given emoji per comment.
	reactions := make([]schema.Reaction, 0, len(comment.Reactions)+1)
	for _, reaction := range comment.Reactions {
		if reaction.UserId == user.Id && reaction.Emoji == params.Emoji {
			continue
		}
		reactions = append(reactions, reaction)
	}
	if add {
		reactions = append(reactions, schema.Reaction{UserId: user.Id, Emoji: params.Emoji})
	}

	result := s.db.Model(&comment).Update("reactions", reactions)
	if result.Error != nil {
		slog.Error("sql error updating comment reactions", "comment_id", commentId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error updating reactions: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}
