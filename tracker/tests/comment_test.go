package tests

import (
	"testing"

	"github.com/google/uuid"
)

func commentTestProject(t *testing.T, env *testEnv) (client, client, uuid.UUID, uuid.UUID) {
	owner, err := env.newProjectOwner("cowner")
	if err != nil {
		t.Fatal(err)
	}

	projectId, err := owner.createProject("CMT", "comment project")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("cmember")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(projectId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	taskId, err := owner.createTask(projectId, "discussed task", nil)
	if err != nil {
		t.Fatal(err)
	}

	return owner, member, projectId, taskId
}

func TestCommentThread(t *testing.T) {
	env := setupTestEnv(t)
	owner, member, projectId, taskId := commentTestProject(t, env)

	_, err := owner.createComment(taskId, "", nil)
	if err == nil {
		t.Fatal("empty comments should be rejected")
	}

	root, err := owner.createComment(taskId, "first comment", nil)
	if err != nil {
		t.Fatal(err)
	}

	reply, err := member.createComment(taskId, "a reply", &root)
	if err != nil {
		t.Fatal(err)
	}

	comments, err := member.listComments(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}

	// Replies notify the parent comment's author.
	notifications, err := owner.listNotifications(true)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range notifications {
		if n.Type == "comment_reply" {
			found = true
		}
	}
	if !found {
		t.Fatal("reply should notify the parent author")
	}

	// A reply must belong to the same task as its parent.
	otherTask, err := owner.createTask(projectId, "another task", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = owner.createComment(otherTask, "cross-task reply", &reply)
	if err == nil {
		t.Fatal("replies to comments on another task should be rejected")
	}
}

func TestCommentEditAndDelete(t *testing.T) {
	env := setupTestEnv(t)
	owner, member, _, taskId := commentTestProject(t, env)

	commentId, err := member.createComment(taskId, "original", nil)
	if err != nil {
		t.Fatal(err)
	}

	err = owner.Post("/comment/"+commentId.String()+"/update").Json(map[string]string{
		"content": "hijacked",
	}).Do(nil)
	if err == nil {
		t.Fatal("only the author can edit a comment")
	}

	err = member.Post("/comment/"+commentId.String()+"/update").Json(map[string]string{
		"content": "edited",
	}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	comments, err := member.listComments(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if comments[0].Content != "edited" || !comments[0].Edited {
		t.Fatal("edit not recorded")
	}

	// Project admins can delete comments they did not write.
	if err := owner.deleteComment(commentId); err != nil {
		t.Fatal(err)
	}

	comments, err = member.listComments(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 0 {
		t.Fatal("comment should be deleted")
	}
}

func TestCommentReactions(t *testing.T) {
	env := setupTestEnv(t)
	owner, member, _, taskId := commentTestProject(t, env)

	commentId, err := owner.createComment(taskId, "react to me", nil)
	if err != nil {
		t.Fatal(err)
	}

	react := func(c client, emoji string) error {
		return c.Post("/comment/"+commentId.String()+"/reactions").Json(map[string]string{"emoji": emoji}).Do(nil)
	}

	if err := react(owner, "thumbsup"); err != nil {
		t.Fatal(err)
	}
	if err := react(member, "thumbsup"); err != nil {
		t.Fatal(err)
	}

	// Reacting twice with the same emoji is a no-op.
	if err := react(member, "thumbsup"); err != nil {
		t.Fatal(err)
	}

	comments, err := owner.listComments(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments[0].Reactions) != 2 {
		t.Fatalf("expected 2 reactions, got %d", len(comments[0].Reactions))
	}

	err = member.Delete("/comment/" + commentId.String() + "/reactions").Json(map[string]string{"emoji": "thumbsup"}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	comments, err = owner.listComments(taskId)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments[0].Reactions) != 1 {
		t.Fatalf("expected 1 reaction after removal, got %d", len(comments[0].Reactions))
	}
}

func TestCommentMentions(t *testing.T) {
	env := setupTestEnv(t)
	owner, member, _, taskId := commentTestProject(t, env)

	var res map[string]uuid.UUID
	err := owner.Post("/comment/create").Json(map[string]interface{}{
		"task_id":  taskId,
		"content":  "ping",
		"mentions": []uuid.UUID{member.userId},
	}).Do(&res)
	if err != nil {
		t.Fatal(err)
	}

	notifications, err := member.listNotifications(true)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range notifications {
		if n.Type == "mention" {
			found = true
		}
	}
	if !found {
		t.Fatal("mentioned user should be notified")
	}
}
