package tests

import (
	"testing"
)

func TestGroupMembership(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("gowner1")
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("gmember1")
	if err != nil {
		t.Fatal(err)
	}

	groupId, err := owner.createGroup("backend team", "invite")
	if err != nil {
		t.Fatal(err)
	}

	_, err = owner.createGroup("backend team", "invite")
	if err == nil {
		t.Fatal("duplicate group names for the same owner should be rejected")
	}

	users, err := owner.groupUsers(groupId)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].UserId != owner.userId {
		t.Fatalf("new groups should contain only their owner, got %v members", len(users))
	}

	err = member.joinGroup(groupId)
	if err == nil {
		t.Fatal("invite-only groups should reject self joins")
	}

	err = member.addUserToGroup(groupId, member.userId)
	if err == nil {
		t.Fatal("only the group owner or an admin can add members")
	}

	if err := owner.addUserToGroup(groupId, member.userId); err != nil {
		t.Fatal(err)
	}

	users, err = owner.groupUsers(groupId)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 members after add, got %v", len(users))
	}

	// Members can leave without the owner's involvement.
	if err := member.removeUserFromGroup(groupId, member.userId); err != nil {
		t.Fatal(err)
	}

	users, err = owner.groupUsers(groupId)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 member after leave, got %v", len(users))
	}
}

func TestOpenGroupSelfJoin(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("gopen1")
	if err != nil {
		t.Fatal(err)
	}

	joiner, err := env.newUser("gjoiner1")
	if err != nil {
		t.Fatal(err)
	}

	groupId, err := owner.createGroup("open group", "open")
	if err != nil {
		t.Fatal(err)
	}

	if err := joiner.joinGroup(groupId); err != nil {
		t.Fatal(err)
	}

	users, err := owner.groupUsers(groupId)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected owner and joiner, got %v members", len(users))
	}

	err = joiner.deleteGroup(groupId)
	if err == nil {
		t.Fatal("only the owner or an admin can delete a group")
	}

	if err := owner.deleteGroup(groupId); err != nil {
		t.Fatal(err)
	}

	groups, err := owner.listGroups()
	if err != nil {
		t.Fatal(err)
	}
	for _, group := range groups {
		if group.Id == groupId {
			t.Fatal("deleted group still listed")
		}
	}
}
