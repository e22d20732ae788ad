package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/Yoshikemolo/scrum-project-manager-sub002/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func writeRedirect(w http.ResponseWriter, status int, redirect *Redirect) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(redirect); err != nil {
		http.Error(w, "error serializing redirect directive", http.StatusInternalServerError)
	}
}

// rejectUnauthenticated answers a request that carries no valid credentials
// with the login redirect directive, preserving the attempted location so the
// frontend can return the user there after login.
func rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	attempted := AttemptedLocation(r.URL.Path, r.URL.RawQuery)
	decision := Evaluate(Principal{}, Route{}, attempted)
	writeRedirect(w, http.StatusUnauthorized, decision.Redirect)
}

// RequireRoles guards a route with a required role list, OR semantics. An
// empty list means any authenticated principal. Denials carry the redirect
// directive in the response body: 401 with a login redirect preserving the
// attempted location, 403 with a dashboard redirect and denial notice.
func RequireRoles(roles ...RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			attempted := AttemptedLocation(r.URL.Path, r.URL.RawQuery)

			principal, err := PrincipalFromContext(r)
			if err != nil {
				decision := Evaluate(Principal{}, Route{RequiredRoles: roles}, attempted)
				writeRedirect(w, http.StatusUnauthorized, decision.Redirect)
				return
			}

			decision := Evaluate(principal, Route{RequiredRoles: roles}, attempted)
			if !decision.Allowed {
				writeRedirect(w, http.StatusForbidden, decision.Redirect)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// AdminOnly restricts a route to principals holding an administrative role.
func AdminOnly() func(http.Handler) http.Handler {
	return RequireRoles(RoleSuperAdmin, RoleAdmin)
}

// RequirePermission guards a route with one permission string, evaluated
// against the principal's effective set (global roles plus any resolved
// project role).
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !principal.Permissions().Has(perm) {
				writeRedirect(w, http.StatusForbidden, &Redirect{To: dashboardPath, Toast: accessDeniedToast})
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

type memberLevel int // Private so that no other levels can be defined

const (
	NotMember   memberLevel = 0
	ViewerLevel memberLevel = 1
	MemberLevel memberLevel = 2
	AdminLevel  memberLevel = 3
	OwnerLevel  memberLevel = 4
)

func memberLevelToString(level memberLevel) string {
	switch level {
	case NotMember:
		return "none"
	case ViewerLevel:
		return schema.ProjectRoleViewer
	case MemberLevel:
		return schema.ProjectRoleMember
	case AdminLevel:
		return schema.ProjectRoleAdmin
	case OwnerLevel:
		return schema.ProjectRoleOwner
	default:
		return "invalid level"
	}
}

func roleToLevel(role string) memberLevel {
	switch role {
	case schema.ProjectRoleViewer:
		return ViewerLevel
	case schema.ProjectRoleMember:
		return MemberLevel
	case schema.ProjectRoleAdmin:
		return AdminLevel
	case schema.ProjectRoleOwner:
		return OwnerLevel
	default:
		return NotMember
	}
}

// GetMemberLevel resolves the principal's standing within a project.
// Administrators act as owners everywhere. Public projects grant viewer
// standing to any authenticated principal.
func GetMemberLevel(projectId uuid.UUID, principal Principal, db *gorm.DB) (memberLevel, error) {
	if principal.HasAnyRole(RoleSuperAdmin, RoleAdmin) {
		return OwnerLevel, nil
	}

	project, err := schema.GetProject(projectId, db)
	if err != nil {
		return NotMember, err
	}

	if project.OwnerId == principal.UserId {
		return OwnerLevel, nil
	}

	member, err := schema.GetProjectMember(projectId, principal.UserId, db)
	if err != nil {
		if errors.Is(err, schema.ErrProjectMemberNotFound) {
			if project.Visibility == schema.VisibilityPublic {
				return ViewerLevel, nil
			}
			return NotMember, nil
		}
		return NotMember, err
	}

	if !member.IsActive {
		return NotMember, nil
	}

	return roleToLevel(member.Role), nil
}

// ResolveProjectRole stores the principal's membership role for the
// {project_id} route in the request context so permission checks can union
// in the project scoped set. Missing membership is not an error here; the
// level guards decide.
func ResolveProjectRole(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			projectId, err := utils.URLParamUUID(r, "project_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			principal, err := PrincipalFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			member, err := schema.GetProjectMember(projectId, principal.UserId, db)
			if err == nil && member.IsActive {
				reqCtx := context.WithValue(r.Context(), projectRoleContextKey, member.Role)
				r = r.WithContext(reqCtx)
			} else if err != nil && !errors.Is(err, schema.ErrProjectMemberNotFound) {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// CheckMemberLevel verifies that the request's principal holds at least
// minLevel standing in a project. Used by handlers whose routes are keyed on
// something other than {project_id}.
func CheckMemberLevel(r *http.Request, db *gorm.DB, projectId uuid.UUID, minLevel memberLevel) error {
	principal, err := PrincipalFromContext(r)
	if err != nil {
		return err
	}

	level, err := GetMemberLevel(projectId, principal, db)
	if err != nil {
		return err
	}

	if level >= minLevel {
		return nil
	}

	required, actual := memberLevelToString(minLevel), memberLevelToString(level)
	return fmt.Errorf("user %v does not have required standing for project %v (required=%v, actual=%v)", principal.UserId, projectId, required, actual)
}

// ProjectLevelOnly rejects requests whose principal does not hold at least
// minLevel standing in the {project_id} project.
func ProjectLevelOnly(db *gorm.DB, minLevel memberLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			projectId, err := utils.URLParamUUID(r, "project_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			principal, err := PrincipalFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			level, err := GetMemberLevel(projectId, principal, db)
			if err != nil {
				if errors.Is(err, schema.ErrProjectNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if level >= minLevel {
				next.ServeHTTP(w, r)
				return
			}

			required, actual := memberLevelToString(minLevel), memberLevelToString(level)
			http.Error(w, fmt.Sprintf("user %v does not have required standing for project %v (required=%v, actual=%v)", principal.UserId, projectId, required, actual), http.StatusForbidden)
		}
		return http.HandlerFunc(hfn)
	}
}
