package tests

import (
	"testing"
)

func TestSprintLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("sowner1")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("SPR", "sprint project")
	if err != nil {
		t.Fatal(err)
	}

	sprintId, err := owner.createSprint(projectId, "sprint 1")
	if err != nil {
		t.Fatal(err)
	}

	task1, err := owner.createTask(projectId, "task one", map[string]interface{}{
		"sprint_id": sprintId, "story_points": 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	task2, err := owner.createTask(projectId, "task two", map[string]interface{}{
		"sprint_id": sprintId, "story_points": 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	info, err := owner.sprintInfo(sprintId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "planning" {
		t.Fatalf("new sprints should start in planning, got %v", info.Status)
	}

	err = owner.completeSprint(sprintId)
	if err == nil {
		t.Fatal("cannot complete a sprint that was never started")
	}

	err = owner.startSprint(sprintId)
	if err != nil {
		t.Fatal(err)
	}

	info, err = owner.sprintInfo(sprintId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "active" {
		t.Fatalf("expected active sprint, got %v", info.Status)
	}
	if info.PlannedPoints != 8 {
		t.Fatalf("expected 8 planned points, got %v", info.PlannedPoints)
	}

	tasks, err := owner.listTasks(projectId)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if task.Status != "todo" {
			t.Fatalf("starting a sprint should move backlog tasks to todo, got %v", task.Status)
		}
	}

	if err := owner.updateTaskStatus(task1, "in_progress"); err != nil {
		t.Fatal(err)
	}
	if err := owner.updateTaskStatus(task1, "done"); err != nil {
		t.Fatal(err)
	}

	err = owner.completeSprint(sprintId)
	if err != nil {
		t.Fatal(err)
	}

	info, err = owner.sprintInfo(sprintId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "completed" {
		t.Fatalf("expected completed sprint, got %v", info.Status)
	}
	if info.CompletedPoints != 3 {
		t.Fatalf("expected 3 completed points, got %v", info.CompletedPoints)
	}

	// Unfinished tasks return to the backlog.
	unfinished, err := owner.taskInfo(task2)
	if err != nil {
		t.Fatal(err)
	}
	if unfinished.SprintId != nil || unfinished.Status != "backlog" {
		t.Fatal("unfinished tasks should be detached and moved back to the backlog")
	}
}

func TestSingleActiveSprint(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("sowner2")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("ONE", "single active sprint")
	if err != nil {
		t.Fatal(err)
	}

	first, err := owner.createSprint(projectId, "first")
	if err != nil {
		t.Fatal(err)
	}
	second, err := owner.createSprint(projectId, "second")
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.startSprint(first); err != nil {
		t.Fatal(err)
	}

	err = owner.startSprint(second)
	if err == nil {
		t.Fatal("only one sprint can be active per project")
	}

	if err := owner.completeSprint(first); err != nil {
		t.Fatal(err)
	}

	if err := owner.startSprint(second); err != nil {
		t.Fatal(err)
	}
}

func TestSprintPermissions(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("sowner3")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("SPERM", "sprint permissions")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("smember")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	_, err = member.createSprint(projectId, "not allowed")
	if err == nil {
		t.Fatal("regular members cannot create sprints")
	}

	sprintId, err := owner.createSprint(projectId, "allowed")
	if err != nil {
		t.Fatal(err)
	}

	// Members can read sprints.
	if _, err := member.sprintInfo(sprintId); err != nil {
		t.Fatal(err)
	}

	err = member.startSprint(sprintId)
	if err == nil {
		t.Fatal("regular members cannot start sprints")
	}
}

func TestDeleteSprint(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("sowner4")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("SDEL", "sprint delete")
	if err != nil {
		t.Fatal(err)
	}

	sprintId, err := owner.createSprint(projectId, "to delete")
	if err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "in sprint", map[string]interface{}{"sprint_id": sprintId})
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.startSprint(sprintId); err != nil {
		t.Fatal(err)
	}

	err = owner.Delete("/sprint/" + sprintId.String()).Do(nil)
	if err == nil {
		t.Fatal("active sprints cannot be deleted")
	}

	if err := owner.completeSprint(sprintId); err != nil {
		t.Fatal(err)
	}

	err = owner.Delete("/sprint/" + sprintId.String()).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	// Tasks survive the sprint and are detached.
	task, err := owner.taskInfo(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if task.SprintId != nil {
		t.Fatal("deleting a sprint should detach its tasks")
	}

	if _, err := owner.sprintInfo(sprintId); err == nil {
		t.Fatal("deleted sprint should not be found")
	}
}

func TestCancelSprint(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("scancel1")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("CAN", "cancel project")
	if err != nil {
		t.Fatal(err)
	}

	sprintId, err := owner.createSprint(projectId, "doomed sprint")
	if err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "unfinished work", map[string]interface{}{
		"sprint_id": sprintId, "story_points": 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.startSprint(sprintId); err != nil {
		t.Fatal(err)
	}

	if err := owner.cancelSprint(sprintId); err != nil {
		t.Fatal(err)
	}

	info, err := owner.sprintInfo(sprintId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "cancelled" {
		t.Fatalf("expected cancelled sprint, got %v", info.Status)
	}
	if info.CompletedPoints != 0 || info.Velocity != 0 {
		t.Fatal("cancelled sprints should not record velocity")
	}

	task, err := owner.taskInfo(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if task.SprintId != nil {
		t.Fatal("tasks should return to the backlog when the sprint is cancelled")
	}
	if task.Status != "backlog" {
		t.Fatalf("expected task back in backlog, got %v", task.Status)
	}

	err = owner.cancelSprint(sprintId)
	if err == nil {
		t.Fatal("cancelling twice should fail")
	}
}

func TestSprintRetrospective(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("sretro1")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("RET", "retro project")
	if err != nil {
		t.Fatal(err)
	}

	sprintId, err := owner.createSprint(projectId, "sprint 1")
	if err != nil {
		t.Fatal(err)
	}

	err = owner.saveRetrospective(sprintId, []string{"pairing"}, []string{"scope creep"})
	if err == nil {
		t.Fatal("retrospectives should be rejected before the sprint ends")
	}

	if _, err := owner.getRetrospective(sprintId); err == nil {
		t.Fatal("expected no retrospective for a new sprint")
	}

	if err := owner.startSprint(sprintId); err != nil {
		t.Fatal(err)
	}
	if err := owner.completeSprint(sprintId); err != nil {
		t.Fatal(err)
	}

	err = owner.saveRetrospective(sprintId, []string{"pairing"}, []string{"scope creep"})
	if err != nil {
		t.Fatal(err)
	}

	retro, err := owner.getRetrospective(sprintId)
	if err != nil {
		t.Fatal(err)
	}

	wentWell, ok := retro["went_well"].([]interface{})
	if !ok || len(wentWell) != 1 || wentWell[0] != "pairing" {
		t.Fatalf("unexpected retrospective contents: %v", retro)
	}
}
