package tests

import (
	"errors"
	"testing"
)

func TestSignupAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	info, err := user.userInfo()
	if err != nil {
		t.Fatal(err)
	}

	if info["email"] != "abc@mail.com" {
		t.Fatalf("wrong email in user info: %v", info["email"])
	}

	roles, ok := info["roles"].([]interface{})
	if !ok || len(roles) != 1 || roles[0] != "team_member" {
		t.Fatalf("new users should have the team_member role, got %v", info["roles"])
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	login, err := c.signup("xyz@mail.com", "good_password", "xyz")
	if err != nil {
		t.Fatal(err)
	}

	err = c.login(loginInfo{Email: login.Email, Password: "bad_password"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("login with wrong password should fail")
	}

	err = c.login(login)
	if err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateSignupRejected(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	_, err := c.signup("dup@mail.com", "password123", "dup")
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.signup("dup@mail.com", "password456", "dup2")
	if err == nil {
		t.Fatal("duplicate signup should be rejected")
	}
}

func TestEndpointsRequireAuth(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()

	_, err := c.listUsers()
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("list users should require auth")
	}

	_, err = c.listProjects()
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("list projects should require auth")
	}
}

func TestAdminOnlyUserManagement(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("regular")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.addUser("other@mail.com", "password123", "other")
	if err == nil {
		t.Fatal("regular users cannot create users")
	}

	login, err := admin.addUser("other@mail.com", "password123", "other")
	if err != nil {
		t.Fatal(err)
	}

	other := env.newClient()
	if err := other.login(login); err != nil {
		t.Fatal(err)
	}

	err = user.deleteUser(other.userId)
	if err == nil {
		t.Fatal("regular users cannot delete users")
	}

	err = admin.deleteUser(other.userId)
	if err != nil {
		t.Fatal(err)
	}

	err = other.login(login)
	if err == nil {
		t.Fatal("deleted user should not be able to login")
	}
}

func TestDeactivateBlocksLogin(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	c := env.newClient()
	login, err := c.signup("inactive@mail.com", "password123", "inactive")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.login(login); err != nil {
		t.Fatal(err)
	}

	err = admin.Post("/user/" + c.userId.String() + "/deactivate").Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	err = c.login(login)
	if err == nil {
		t.Fatal("deactivated user should not be able to login")
	}

	err = admin.Post("/user/" + c.userId.String() + "/activate").Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.login(login); err != nil {
		t.Fatal(err)
	}
}

func TestRoleAssignment(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("promotee")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createProject("PRJ", "some project")
	if err == nil {
		t.Fatal("team members cannot create projects")
	}

	err = user.assignRole("project_owner", user.userId)
	if err == nil {
		t.Fatal("regular users cannot assign roles")
	}

	err = admin.assignRole("project_owner", user.userId)
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createProject("PRJ", "some project")
	if err != nil {
		t.Fatal(err)
	}

	err = admin.revokeRole("project_owner", user.userId)
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createProject("PRJ2", "another project")
	if err == nil {
		t.Fatal("revoked role should remove project creation rights")
	}
}

func TestLastSuperAdminCannotBeRevoked(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	err = admin.revokeRole("super_admin", admin.userId)
	if err == nil {
		t.Fatal("revoking the last super_admin must be rejected")
	}
}

func TestCustomRolePermissions(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("customrole1")
	if err != nil {
		t.Fatal(err)
	}

	err = user.createRole("reporter", []string{"project:create"})
	if err == nil {
		t.Fatal("regular users should not be able to create roles")
	}

	err = admin.createRole("reporter", []string{"not:a-permission"})
	if err == nil {
		t.Fatal("roles cannot reference unknown permissions")
	}

	err = admin.createRole("reporter", []string{"project:create"})
	if err != nil {
		t.Fatal(err)
	}

	err = admin.createRole("reporter", nil)
	if err == nil {
		t.Fatal("duplicate role names should be rejected")
	}

	if err := admin.assignRole("reporter", user.userId); err != nil {
		t.Fatal(err)
	}

	if _, err := user.createProject("CUS", "custom role project"); err != nil {
		t.Fatal(err)
	}

	err = admin.grantPermission("super_admin", "project:create")
	if err == nil {
		t.Fatal("system role permission sets must not be editable")
	}

	if err := admin.revokePermission("reporter", "project:create"); err != nil {
		t.Fatal(err)
	}

	_, err = user.createProject("CUS2", "after revoke")
	if err == nil {
		t.Fatal("revoking the permission should block project creation")
	}
}
