package tests

import (
	"testing"
)

func TestCreateProjectValidation(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("owner1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = owner.createProject("x", "bad key")
	if err == nil {
		t.Fatal("single character keys should be rejected")
	}

	_, err = owner.createProject("KEY-1", "bad key")
	if err == nil {
		t.Fatal("keys with punctuation should be rejected")
	}

	_, err = owner.createProject("GOOD1", "")
	if err == nil {
		t.Fatal("missing project name should be rejected")
	}

	projectId, err := owner.createProject("good1", "lowercase key")
	if err != nil {
		t.Fatal("lowercase keys should be normalized, not rejected")
	}

	info, err := owner.projectInfo(projectId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Key != "GOOD1" {
		t.Fatalf("expected normalized key GOOD1, got %v", info.Key)
	}
	if info.Status != "planning" {
		t.Fatalf("new projects should start in planning, got %v", info.Status)
	}

	_, err = owner.createProject("GOOD1", "duplicate key")
	if err == nil {
		t.Fatal("duplicate project keys should be rejected")
	}
}

func TestProjectVisibility(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("owner2")
	if err != nil {
		t.Fatal(err)
	}

	privateId, err := owner.createProject("PRIV", "private project")
	if err != nil {
		t.Fatal(err)
	}

	var res map[string]interface{}
	err = owner.Post("/project/create").Json(map[string]string{
		"key": "PUB", "name": "public project", "visibility": "public",
	}).Do(&res)
	if err != nil {
		t.Fatal(err)
	}

	outsider, err := env.newUser("outsider")
	if err != nil {
		t.Fatal(err)
	}

	projects, err := outsider.listProjects()
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || projects[0].Key != "PUB" {
		t.Fatalf("outsider should only see the public project, got %v projects", len(projects))
	}

	_, err = outsider.projectInfo(privateId)
	if err == nil {
		t.Fatal("outsider should not be able to view a private project")
	}

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	projects, err = admin.listProjects()
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 {
		t.Fatal("admins should see all projects")
	}
}

func TestProjectMembers(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("owner3")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("TEAM", "team project")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("member1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = member.projectInfo(projectId)
	if err == nil {
		t.Fatal("non-members cannot view private projects")
	}

	err = member.addMember(projectId, member.userId, "member")
	if err == nil {
		t.Fatal("non-admin members cannot add members")
	}

	err = owner.addMember(projectId, member.userId, "member")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.addMember(projectId, member.userId, "member")
	if err == nil {
		t.Fatal("adding the same member twice should be rejected")
	}

	info, err := member.projectInfo(projectId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Key != "TEAM" {
		t.Fatal("member should see project info")
	}

	members, err := member.listMembers(projectId)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	err = member.archiveProject(projectId, "nope")
	if err == nil {
		t.Fatal("regular members cannot archive projects")
	}

	err = owner.updateMemberRole(projectId, member.userId, "admin")
	if err != nil {
		t.Fatal(err)
	}

	err = member.archiveProject(projectId, "cleanup")
	if err != nil {
		t.Fatal("project admins can archive projects")
	}

	err = owner.unarchiveProject(projectId)
	if err != nil {
		t.Fatal(err)
	}

	err = owner.removeMember(projectId, member.userId)
	if err != nil {
		t.Fatal(err)
	}

	_, err = member.projectInfo(projectId)
	if err == nil {
		t.Fatal("removed member should lose access")
	}
}

func TestLastOwnerGuard(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("owner4")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("SOLO", "single owner")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.removeMember(projectId, owner.userId)
	if err == nil {
		t.Fatal("removing the only owner must be rejected")
	}

	err = owner.updateMemberRole(projectId, owner.userId, "member")
	if err == nil {
		t.Fatal("demoting the only owner must be rejected")
	}

	second, err := env.newUser("coowner")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.addMember(projectId, second.userId, "owner")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.updateMemberRole(projectId, owner.userId, "member")
	if err != nil {
		t.Fatal("demotion is allowed once another owner exists")
	}
}

func TestArchivedProjectRejectsWrites(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("owner5")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("ARCH", "to archive")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.archiveProject(projectId, "done with it")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.Post("/project/"+projectId.String()+"/update").Json(map[string]string{
		"name": "renamed",
	}).Do(nil)
	if err == nil {
		t.Fatal("archived projects cannot be updated")
	}

	_, err = owner.createTask(projectId, "new task", nil)
	if err == nil {
		t.Fatal("archived projects cannot accept tasks")
	}

	info, err := owner.projectInfo(projectId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "archived" || info.ArchivedAt == nil {
		t.Fatal("archive metadata missing")
	}
}

func TestDeleteProject(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("owner6")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("DEL", "to delete")
	if err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "some task", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := owner.createComment(taskId, "a comment", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.uploadAttachment(taskId, "notes.txt", []byte("notes")); err != nil {
		t.Fatal(err)
	}

	projectAdmin, err := env.newUser("padmin")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, projectAdmin.userId, "admin"); err != nil {
		t.Fatal(err)
	}

	err = projectAdmin.deleteProject(projectId)
	if err == nil {
		t.Fatal("only owners can delete projects")
	}

	err = owner.deleteProject(projectId)
	if err != nil {
		t.Fatal(err)
	}

	_, err = owner.taskInfo(taskId)
	if err == nil {
		t.Fatal("tasks should be deleted with their project")
	}

	for _, table := range []string{"tasks", "comments", "attachments", "project_members"} {
		var count int64
		if err := env.db.Table(table).Count(&count).Error; err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Fatalf("expected no orphaned rows in %v, found %v", table, count)
		}
	}
}
