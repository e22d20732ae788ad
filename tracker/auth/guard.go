package auth

import (
	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"
	"github.com/google/uuid"
)

// Principal is the resolved actor whose access is being evaluated. It is
// assembled once at authentication time from the user's eagerly loaded roles,
// so evaluation never needs another fetch.
type Principal struct {
	Authenticated bool
	UserId        uuid.UUID
	Email         string
	Roles         []RoleName

	// ProjectRole is the principal's membership role for the project in the
	// current request context, if one has been resolved. Empty otherwise.
	ProjectRole string

	// granted holds permissions from custom roles, which are stored in the
	// db rather than in the static catalog.
	granted PermissionSet
}

// NewPrincipal builds a Principal from a user loaded with GetUserWithRoles.
func NewPrincipal(user schema.User) Principal {
	roles := make([]RoleName, 0, len(user.Roles))
	granted := NewPermissionSet()
	for _, role := range user.Roles {
		if !role.IsActive {
			continue
		}
		roles = append(roles, RoleName(role.Name))
		if !role.IsSystem {
			for _, perm := range role.Permissions {
				granted.Add(Permission(perm.Name))
			}
		}
	}
	return Principal{
		Authenticated: true,
		UserId:        user.Id,
		Email:         user.Email,
		Roles:         roles,
		granted:       granted,
	}
}

func (p Principal) HasRole(role RoleName) bool {
	for _, held := range p.Roles {
		if held == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of the given
// roles. An empty argument list means no restriction and always passes.
func (p Principal) HasAnyRole(roles ...RoleName) bool {
	if len(roles) == 0 {
		return true
	}
	for _, required := range roles {
		if p.HasRole(required) {
			return true
		}
	}
	return false
}

// Permissions returns the principal's effective permission set: the union of
// their global role permissions, any custom role grants, and, if a project
// role has been resolved for this request, the project scoped permissions of
// that role.
func (p Principal) Permissions() PermissionSet {
	return PermissionsFor(p.Roles, p.ProjectRole).Union(p.granted)
}

// Route describes the access requirement a route declares. An empty or
// absent RequiredRoles list means any authenticated principal is allowed;
// it is never interpreted as "must hold zero roles".
type Route struct {
	RequiredRoles []RoleName
}

// Redirect is the directive returned to the client on a denied navigation.
type Redirect struct {
	To        string `json:"to"`
	ReturnUrl string `json:"returnUrl,omitempty"`
	Toast     string `json:"toast,omitempty"`
}

type Decision struct {
	Allowed  bool
	Redirect *Redirect
}

const (
	loginPath     = "/auth/login"
	dashboardPath = "/dashboard"

	accessDeniedToast = "Access Denied"
)

// Evaluate decides whether the principal may proceed to the route. Two
// failure paths exist and they are distinct: an anonymous principal is sent
// to the login page with the attempted location (path plus query) preserved
// so navigation can resume after login, while an authenticated principal
// lacking every required role is sent to the dashboard with a denial notice.
// Role matching is OR semantics across the declared list.
func Evaluate(p Principal, route Route, attempted string) Decision {
	if !p.Authenticated {
		return Decision{
			Allowed:  false,
			Redirect: &Redirect{To: loginPath, ReturnUrl: attempted},
		}
	}

	if p.HasAnyRole(route.RequiredRoles...) {
		return Decision{Allowed: true}
	}

	return Decision{
		Allowed:  false,
		Redirect: &Redirect{To: dashboardPath, Toast: accessDeniedToast},
	}
}

// AttemptedLocation reconstructs the full attempted location from a request
// path and raw query string.
func AttemptedLocation(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}
