package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogIsStable(t *testing.T) {
	first := AllPermissions()
	second := AllPermissions()

	require.Equal(t, first, second, "catalog order must be deterministic")

	seen := map[Permission]bool{}
	for _, p := range first {
		assert.False(t, seen[p], "duplicate permission %v in catalog", p)
		seen[p] = true
	}
}

func TestSuperAdminHoldsEveryPermission(t *testing.T) {
	perms := PermissionsFor([]RoleName{RoleSuperAdmin}, "")

	for _, p := range AllPermissions() {
		assert.True(t, perms.Has(p), "super_admin missing %v", p)
	}
	assert.Len(t, perms, len(AllPermissions()))
}

func TestRolePermissionBoundaries(t *testing.T) {
	viewer := PermissionsFor([]RoleName{RoleViewer}, "")
	assert.True(t, viewer.Has(ProjectView))
	assert.True(t, viewer.Has(TaskView))
	assert.False(t, viewer.Has(TaskCreate))
	assert.False(t, viewer.Has(ProjectCreate))

	member := PermissionsFor([]RoleName{RoleTeamMember}, "")
	assert.True(t, member.Has(TaskCreate))
	assert.True(t, member.Has(TaskTransition))
	assert.False(t, member.Has(ProjectCreate))
	assert.False(t, member.Has(UserManageRoles))

	owner := PermissionsFor([]RoleName{RoleProjectOwner}, "")
	assert.True(t, owner.Has(ProjectCreate))
	assert.True(t, owner.Has(SprintStart))
	assert.False(t, owner.Has(AdminViewAuditLogs))

	admin := PermissionsFor([]RoleName{RoleAdmin}, "")
	assert.True(t, admin.Has(AdminViewAuditLogs))
	assert.False(t, admin.Has(UserImpersonate), "impersonation is reserved for super_admin")
}

func TestDualScopeUnion(t *testing.T) {
	// A global viewer who is a project admin gains the project scoped
	// permissions without gaining global ones.
	perms := PermissionsFor([]RoleName{RoleViewer}, "admin")

	assert.True(t, perms.Has(SprintStart))
	assert.True(t, perms.Has(ProjectManageMembers))
	assert.False(t, perms.Has(UserManageRoles))
	assert.False(t, perms.Has(ProjectDelete), "project admins cannot delete the project")

	// The union never subtracts: global grants survive a lowly project role.
	perms = PermissionsFor([]RoleName{RoleProjectOwner}, "viewer")
	assert.True(t, perms.Has(ProjectCreate))
}

func TestPermissionsForUnknownRole(t *testing.T) {
	perms := PermissionsFor([]RoleName{"made_up_role"}, "also_made_up")
	assert.Empty(t, perms)
}

func TestSortedIsLexical(t *testing.T) {
	set := NewPermissionSet(TaskView, ProjectCreate, AdminAccessPanel)
	sorted := set.Sorted()

	require.Len(t, sorted, 3)
	for i := 1; i < len(sorted); i++ {
		assert.Less(t, string(sorted[i-1]), string(sorted[i]))
	}
}

func TestPermissionResourceAction(t *testing.T) {
	assert.Equal(t, "project", ProjectCreate.Resource())
	assert.Equal(t, "create", ProjectCreate.Action())
	assert.Equal(t, "admin", AdminViewAuditLogs.Resource())
}
