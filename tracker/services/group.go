package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/auth"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GroupService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *GroupService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/create", s.CreateGroup)
	r.Get("/list", s.List)

	r.Route("/{group_id}", func(r chi.Router) {
		r.Delete("/", s.DeleteGroup)

		r.Get("/users", s.GroupUsers)

		r.Post("/users/{user_id}", s.AddUserToGroup)
		r.Delete("/users/{user_id}", s.RemoveUserFromGroup)

		r.Post("/join", s.JoinGroup)
	})

	return r
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	JoinPolicy  string `json:"join_policy"`
}

type createGroupResponse struct {
	GroupId uuid.UUID `json:"group_id"`
}

func (s *GroupService) CreateGroup(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createGroupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "group name must be specified", http.StatusBadRequest)
		return
	}
	if params.Visibility == "" {
		params.Visibility = schema.GroupVisible
	}
	if params.JoinPolicy == "" {
		params.JoinPolicy = schema.JoinInvite
	}

	newGroup := schema.Group{
		Id:          uuid.New(),
		Name:        params.Name,
		Description: params.Description,
		OwnerId:     user.Id,
		Visibility:  params.Visibility,
		JoinPolicy:  params.JoinPolicy,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Group
		result := txn.Limit(1).Find(&existing, "name = ? AND owner_id = ?", params.Name, user.Id)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate group name", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("group with name %v already exists", params.Name), http.StatusConflict)
		}

		result = txn.Create(&newGroup)
		if result.Error != nil {
			slog.Error("sql error creating new group", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if err := txn.Model(&newGroup).Association("Members").Append(&schema.User{Id: user.Id}); err != nil {
			slog.Error("sql error adding owner to new group", "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating group: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createGroupResponse{GroupId: newGroup.Id})
}

// checkGroupOwnerOrAdmin allows either the group's owner or a user holding a
// global admin role to manage membership.
func checkGroupOwnerOrAdmin(txn *gorm.DB, groupId uuid.UUID, user schema.User) error {
	group, err := schema.GetGroup(groupId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrGroupNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}

	if group.OwnerId == user.Id {
		return nil
	}

	principal := auth.NewPrincipal(user)
	if principal.HasAnyRole(auth.RoleSuperAdmin, auth.RoleAdmin) {
		return nil
	}

	return CodedError(errors.New("only the group owner or an admin can manage group membership"), http.StatusForbidden)
}

func (s *GroupService) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupId, err := utils.URLParamUUID(r, "group_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkGroupOwnerOrAdmin(txn, groupId, user); err != nil {
			return err
		}

		group := schema.Group{Id: groupId}

		if err := txn.Model(&group).Association("Members").Clear(); err != nil {
			slog.Error("sql error clearing group members", "group_id", groupId, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result := txn.Delete(&group)
		if result.Error != nil {
			slog.Error("sql error deleting group", "group_id", groupId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting group: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type GroupInfo struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerId     uuid.UUID `json:"owner_id"`
	Visibility  string    `json:"visibility"`
	JoinPolicy  string    `json:"join_policy"`
}

func convertToGroupInfo(group *schema.Group) GroupInfo {
	return GroupInfo{
		Id:          group.Id,
		Name:        group.Name,
		Description: group.Description,
		OwnerId:     group.OwnerId,
		Visibility:  group.Visibility,
		JoinPolicy:  group.JoinPolicy,
	}
}

func (s *GroupService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	principal := auth.NewPrincipal(user)

	var groups []schema.Group
	var result *gorm.DB
	if principal.HasAnyRole(auth.RoleSuperAdmin, auth.RoleAdmin) {
		result = s.db.Find(&groups)
	} else {
		// Hidden groups are only listed for their members.
		result = s.db.
			Joins("LEFT JOIN group_members ON group_members.group_id = groups.id AND group_members.user_id = ?", user.Id).
			Where("groups.visibility = ? OR groups.owner_id = ? OR group_members.user_id IS NOT NULL", schema.GroupVisible, user.Id).
			Distinct().
			Find(&groups)
	}

	if result.Error != nil {
		slog.Error("sql error listing groups", "user_id", user.Id, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing groups: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]GroupInfo, 0, len(groups))
	for _, group := range groups {
		infos = append(infos, convertToGroupInfo(&group))
	}

	utils.WriteJsonResponse(w, infos)
}

type GroupUserInfo struct {
	UserId    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

func (s *GroupService) GroupUsers(w http.ResponseWriter, r *http.Request) {
	groupId, err := utils.URLParamUUID(r, "group_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkGroupExists(s.db, groupId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var group schema.Group
	result := s.db.Preload("Members").First(&group, "id = ?", groupId)
	if result.Error != nil {
		slog.Error("sql error listing group users", "group_id", groupId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing group users: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]GroupUserInfo, 0, len(group.Members))
	for _, member := range group.Members {
		infos = append(infos, GroupUserInfo{
			UserId:    member.Id,
			Email:     member.Email,
			FirstName: member.FirstName,
			LastName:  member.LastName,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *GroupService) AddUserToGroup(w http.ResponseWriter, r *http.Request) {
	groupId, err := utils.URLParamUUID(r, "group_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkGroupOwnerOrAdmin(txn, groupId, actor); err != nil {
			return err
		}

		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		if err := txn.Model(&schema.Group{Id: groupId}).Association("Members").Append(&schema.User{Id: userId}); err != nil {
			slog.Error("sql error adding user to group", "group_id", groupId, "user_id", userId, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error adding user to group: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *GroupService) RemoveUserFromGroup(w http.ResponseWriter, r *http.Request) {
	groupId, err := utils.URLParamUUID(r, "group_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		// Members can always leave on their own.
		if actor.Id != userId {
			if err := checkGroupOwnerOrAdmin(txn, groupId, actor); err != nil {
				return err
			}
		} else if err := checkGroupExists(txn, groupId); err != nil {
			return err
		}

		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		if err := txn.Model(&schema.Group{Id: groupId}).Association("Members").Delete(&schema.User{Id: userId}); err != nil {
			slog.Error("sql error removing user from group", "group_id", groupId, "user_id", userId, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error removing user from group: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *GroupService) JoinGroup(w http.ResponseWriter, r *http.Request) {
	groupId, err := utils.URLParamUUID(r, "group_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		group, err := schema.GetGroup(groupId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrGroupNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if group.JoinPolicy != schema.JoinOpen {
			return CodedError(fmt.Errorf("group %v does not allow self joining", groupId), http.StatusForbidden)
		}

		if err := txn.Model(&group).Association("Members").Append(&schema.User{Id: user.Id}); err != nil {
			slog.Error("sql error joining group", "group_id", groupId, "user_id", user.Id, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error joining group: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
