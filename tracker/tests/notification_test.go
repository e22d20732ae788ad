package tests

import (
	"bytes"
	"testing"
	"time"
)

func TestNotificationReadFlow(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("nowner")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("NTF", "notifications")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("nmember")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	unread, err := member.listNotifications(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread notification, got %d", len(unread))
	}

	// Users cannot read each other's notifications.
	err = owner.markNotificationRead(unread[0].Id)
	if err == nil {
		t.Fatal("marking another user's notification should fail")
	}

	if err := member.markNotificationRead(unread[0].Id); err != nil {
		t.Fatal(err)
	}

	unread, err = member.listNotifications(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 0 {
		t.Fatal("notification should be marked read")
	}

	all, err := member.listNotifications(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || !all[0].Read || all[0].ReadAt == nil {
		t.Fatal("read notification should still be listed with read metadata")
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("nowner2")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("NTF2", "notifications")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("nmember2")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "work", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.assignTask(taskId, member.userId); err != nil {
		t.Fatal(err)
	}

	unread, err := member.listNotifications(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 2 {
		t.Fatalf("expected 2 unread notifications, got %d", len(unread))
	}

	if err := member.Post("/notification/read-all").Do(nil); err != nil {
		t.Fatal(err)
	}

	unread, err = member.listNotifications(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 0 {
		t.Fatal("all notifications should be read")
	}
}

func TestUploadDownloadAttachment(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("aowner")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("FILE", "attachments")
	if err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "task with file", nil)
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("design notes for the task")

	attachmentId, err := owner.uploadAttachment(taskId, "notes.txt", content)
	if err != nil {
		t.Fatal(err)
	}

	downloaded, err := owner.downloadAttachment(attachmentId)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(content, downloaded) {
		t.Fatal("downloaded content does not match upload")
	}

	outsider, err := env.newUser("aoutsider")
	if err != nil {
		t.Fatal(err)
	}
	_, err = outsider.downloadAttachment(attachmentId)
	if err == nil {
		t.Fatal("non-members cannot download attachments")
	}

	member, err := env.newUser("amember")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	err = member.Delete("/attachment/" + attachmentId.String()).Do(nil)
	if err == nil {
		t.Fatal("only the uploader or a project admin can delete attachments")
	}

	err = owner.Delete("/attachment/" + attachmentId.String()).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = owner.downloadAttachment(attachmentId)
	if err == nil {
		t.Fatal("deleted attachment should not be downloadable")
	}
}

func TestNotificationDispatchMarksSent(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newProjectOwner("downer")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("DSP", "dispatch")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("dmember")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	go env.tracker.NotificationDispatch(10 * time.Millisecond)
	defer env.tracker.StopNotificationDispatch()

	deadline := time.Now().Add(5 * time.Second)
	for {
		var count int64
		err := env.db.Table("notifications").Where("sent = ?", true).Count(&count).Error
		if err != nil {
			t.Fatal(err)
		}
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dispatch loop did not mark the notification sent")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
