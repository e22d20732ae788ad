package auth

import (
	"testing"

	"github.com/Yoshikemolo/scrum-project-manager-sub002/tracker/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymousRedirectsToLogin(t *testing.T) {
	decision := Evaluate(Principal{}, Route{}, "/projects/42?tab=board")

	assert.False(t, decision.Allowed)
	require.NotNil(t, decision.Redirect)
	assert.Equal(t, "/auth/login", decision.Redirect.To)
	assert.Equal(t, "/projects/42?tab=board", decision.Redirect.ReturnUrl)
	assert.Empty(t, decision.Redirect.Toast)
}

func TestMissingRoleRedirectsToDashboard(t *testing.T) {
	p := Principal{Authenticated: true, Roles: []RoleName{RoleViewer}}

	decision := Evaluate(p, Route{RequiredRoles: []RoleName{RoleAdmin, RoleSuperAdmin}}, "/admin")

	assert.False(t, decision.Allowed)
	require.NotNil(t, decision.Redirect)
	assert.Equal(t, "/dashboard", decision.Redirect.To)
	assert.Equal(t, "Access Denied", decision.Redirect.Toast)
	assert.Empty(t, decision.Redirect.ReturnUrl, "denied principals do not get a return url")
}

func TestRoleMatchingIsOrSemantics(t *testing.T) {
	route := Route{RequiredRoles: []RoleName{RoleAdmin, RoleProjectOwner}}

	owner := Principal{Authenticated: true, Roles: []RoleName{RoleProjectOwner}}
	assert.True(t, Evaluate(owner, route, "/x").Allowed)

	admin := Principal{Authenticated: true, Roles: []RoleName{RoleAdmin}}
	assert.True(t, Evaluate(admin, route, "/x").Allowed)

	both := Principal{Authenticated: true, Roles: []RoleName{RoleAdmin, RoleProjectOwner}}
	assert.True(t, Evaluate(both, route, "/x").Allowed)

	neither := Principal{Authenticated: true, Roles: []RoleName{RoleTeamMember}}
	assert.False(t, Evaluate(neither, route, "/x").Allowed)
}

func TestEmptyRequiredRolesMeansUnrestricted(t *testing.T) {
	p := Principal{Authenticated: true}

	assert.True(t, Evaluate(p, Route{}, "/x").Allowed)
	assert.True(t, Evaluate(p, Route{RequiredRoles: []RoleName{}}, "/x").Allowed)
}

func TestAttemptedLocation(t *testing.T) {
	assert.Equal(t, "/projects", AttemptedLocation("/projects", ""))
	assert.Equal(t, "/projects?page=2", AttemptedLocation("/projects", "page=2"))
}

func TestNewPrincipalSkipsInactiveRoles(t *testing.T) {
	user := schema.User{
		Id:    uuid.New(),
		Email: "p@mail.com",
		Roles: []schema.Role{
			{Name: "admin", IsActive: true},
			{Name: "viewer", IsActive: false},
		},
	}

	p := NewPrincipal(user)

	assert.True(t, p.Authenticated)
	assert.Equal(t, []RoleName{RoleAdmin}, p.Roles)
	assert.True(t, p.HasRole(RoleAdmin))
	assert.False(t, p.HasRole(RoleViewer))
}

func TestPrincipalPermissionsFollowProjectRole(t *testing.T) {
	p := Principal{Authenticated: true, Roles: []RoleName{RoleViewer}}
	assert.False(t, p.Permissions().Has(TaskCreate))

	p.ProjectRole = schema.ProjectRoleMember
	assert.True(t, p.Permissions().Has(TaskCreate))
}
