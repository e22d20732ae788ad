package tests

import (
	"fmt"
	"testing"
)

func TestTaskKeysSequential(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner1")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("KEYS", "task keys")
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		taskId, err := owner.createTask(projectId, fmt.Sprintf("task %d", i), nil)
		if err != nil {
			t.Fatal(err)
		}

		info, err := owner.taskInfo(taskId)
		if err != nil {
			t.Fatal(err)
		}
		if info.Key != fmt.Sprintf("KEYS-%d", i) {
			t.Fatalf("expected key KEYS-%d, got %v", i, info.Key)
		}
	}
}

func TestTaskDefaults(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner2")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("DEF", "task defaults")
	if err != nil {
		t.Fatal(err)
	}

	_, err = owner.createTask(projectId, "", nil)
	if err == nil {
		t.Fatal("task title is required")
	}

	taskId, err := owner.createTask(projectId, "plain task", nil)
	if err != nil {
		t.Fatal(err)
	}

	info, err := owner.taskInfo(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Type != "task" || info.Priority != "medium" || info.Status != "backlog" {
		t.Fatalf("unexpected defaults: type=%v priority=%v status=%v", info.Type, info.Priority, info.Status)
	}
	if info.ReporterId != owner.userId {
		t.Fatal("reporter should be the creating user")
	}

	_, err = owner.createTask(projectId, "bad type", map[string]interface{}{"type": "epic2"})
	if err == nil {
		t.Fatal("invalid task type should be rejected")
	}
}

func TestSubtaskCyclePrevention(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner3")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("CYC", "cycle checks")
	if err != nil {
		t.Fatal(err)
	}

	a, err := owner.createTask(projectId, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := owner.createTask(projectId, "b", map[string]interface{}{"parent_id": a})
	if err != nil {
		t.Fatal(err)
	}
	c, err := owner.createTask(projectId, "c", map[string]interface{}{"parent_id": b})
	if err != nil {
		t.Fatal(err)
	}

	err = owner.setTaskParent(a, &c)
	if err == nil {
		t.Fatal("reparenting a under its descendant c must be rejected")
	}

	err = owner.setTaskParent(a, &a)
	if err == nil {
		t.Fatal("a task cannot be its own parent")
	}

	// Moving c directly under a is fine.
	err = owner.setTaskParent(c, &a)
	if err != nil {
		t.Fatal(err)
	}
}

func TestDoneBlockedByOpenSubtasks(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner4")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("SUB", "subtask completion")
	if err != nil {
		t.Fatal(err)
	}

	parent, err := owner.createTask(projectId, "parent", nil)
	if err != nil {
		t.Fatal(err)
	}
	child, err := owner.createTask(projectId, "child", map[string]interface{}{"parent_id": parent})
	if err != nil {
		t.Fatal(err)
	}

	err = owner.updateTaskStatus(parent, "done")
	if err == nil {
		t.Fatal("parent cannot be done while subtasks are open")
	}

	if err := owner.updateTaskStatus(child, "done"); err != nil {
		t.Fatal(err)
	}

	if err := owner.updateTaskStatus(parent, "done"); err != nil {
		t.Fatal(err)
	}
}

func TestTaskDependencies(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner5")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("DEP", "dependencies")
	if err != nil {
		t.Fatal(err)
	}

	a, err := owner.createTask(projectId, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := owner.createTask(projectId, "b", nil)
	if err != nil {
		t.Fatal(err)
	}

	err = owner.addDependency(a, b, "not_a_type")
	if err == nil {
		t.Fatal("invalid dependency type should be rejected")
	}

	err = owner.addDependency(a, b, "blocks")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.addDependency(a, b, "blocks")
	if err == nil {
		t.Fatal("duplicate dependency should be rejected")
	}

	info, err := owner.taskInfo(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Dependencies) != 1 {
		t.Fatalf("expected 1 dependency, got %d", len(info.Dependencies))
	}

	err = owner.Delete(fmt.Sprintf("/task/%v/dependencies/%v", a, b)).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	info, err = owner.taskInfo(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Dependencies) != 0 {
		t.Fatal("dependency should be removed")
	}
}

func TestTaskAssignment(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner6")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("ASGN", "assignment")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("assignee")
	if err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "assigned work", nil)
	if err != nil {
		t.Fatal(err)
	}

	err = owner.assignTask(taskId, member.userId)
	if err == nil {
		t.Fatal("cannot assign a task to a non-member")
	}

	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	if err := owner.assignTask(taskId, member.userId); err != nil {
		t.Fatal(err)
	}

	info, err := member.taskInfo(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if info.AssigneeId == nil || *info.AssigneeId != member.userId {
		t.Fatal("assignee not recorded")
	}

	// Assignment queues a notification in addition to the membership invite.
	notifications, err := member.listNotifications(true)
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, n := range notifications {
		types[n.Type] = true
	}
	if !types["task_assigned"] || !types["project_invite"] {
		t.Fatalf("expected task_assigned and project_invite notifications, got %v", types)
	}
}

func TestDeleteTaskPromotesSubtasks(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner7")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("TDEL", "task delete")
	if err != nil {
		t.Fatal(err)
	}

	grandparent, err := owner.createTask(projectId, "grandparent", nil)
	if err != nil {
		t.Fatal(err)
	}
	parent, err := owner.createTask(projectId, "parent", map[string]interface{}{"parent_id": grandparent})
	if err != nil {
		t.Fatal(err)
	}
	child, err := owner.createTask(projectId, "child", map[string]interface{}{"parent_id": parent})
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("tmember")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	err = member.deleteTask(parent)
	if err == nil {
		t.Fatal("regular members cannot delete tasks")
	}

	err = owner.deleteTask(parent)
	if err != nil {
		t.Fatal(err)
	}

	// The orphaned child moves up to the deleted task's parent.
	info, err := owner.taskInfo(child)
	if err != nil {
		t.Fatal(err)
	}
	if info.ParentId == nil || *info.ParentId != grandparent {
		t.Fatal("subtask should be promoted to the deleted task's parent")
	}
}

func TestTaskActivityRecorded(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("towner8")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("ACT", "activity")
	if err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "tracked task", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.updateTaskStatus(taskId, "todo"); err != nil {
		t.Fatal(err)
	}

	activity, err := owner.listActivity("task", taskId)
	if err != nil {
		t.Fatal(err)
	}
	if len(activity) < 2 {
		t.Fatalf("expected create and status activity entries, got %d", len(activity))
	}
}
