package store

import (
	"context"
	"testing"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

func TestUserRepo_CreateWorkspaceAndUser_RoundTrip(t *testing.T) {
	pool := getTestDB(t)
	users := NewUserRepo(pool)

	wsID, ownerID := mustCreateWorkspaceAndOwner(t, users)

	ws, err := users.WorkspaceByName(context.Background(), "acme")
	if err != nil {
		t.Fatalf("WorkspaceByName: %v", err)
	}
	if ws == nil || ws.ID != wsID {
		t.Fatalf("expected to find the created workspace, got %+v", ws)
	}
	if ws.OwnerUserID != ownerID {
		t.Errorf("expected workspace owner to be %v, got %v", ownerID, ws.OwnerUserID)
	}

	owner, err := users.ByID(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if owner.Email != "owner@acme.test" {
		t.Errorf("unexpected owner email: %q", owner.Email)
	}
}

func TestUserRepo_WorkspaceByName_MissingReturnsNilNotError(t *testing.T) {
	pool := getTestDB(t)
	users := NewUserRepo(pool)

	ws, err := users.WorkspaceByName(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("WorkspaceByName: %v", err)
	}
	if ws != nil {
		t.Errorf("expected nil workspace for an unknown name, got %+v", ws)
	}
}

func TestUserRepo_CreateUser_DuplicateEmailRejected(t *testing.T) {
	pool := getTestDB(t)
	users := NewUserRepo(pool)
	ctx := context.Background()

	wsID, _ := mustCreateWorkspaceAndOwner(t, users)

	tx, err := users.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback(ctx)
	_, err = users.CreateUser(ctx, tx, "owner@acme.test", "Duplicate", "hash", wsID)
	if apperr.KindOf(err) != apperr.KindEmailTaken {
		t.Fatalf("expected KindEmailTaken for a duplicate email, got %v (%v)", apperr.KindOf(err), err)
	}
}

func TestUserRepo_WorkspaceUsers_ListsEveryMember(t *testing.T) {
	pool := getTestDB(t)
	users := NewUserRepo(pool)

	wsID, ownerID := mustCreateWorkspaceAndOwner(t, users)
	memberID := mustCreateUser(t, users, wsID, "member@acme.test")

	list, err := users.WorkspaceUsers(context.Background(), wsID)
	if err != nil {
		t.Fatalf("WorkspaceUsers: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 workspace users, got %d", len(list))
	}
	seen := map[int64]bool{}
	for _, u := range list {
		seen[int64(u.ID)] = true
	}
	if !seen[int64(ownerID)] || !seen[int64(memberID)] {
		t.Errorf("expected both owner and member in the listing, got %+v", list)
	}
}

func TestUserRepo_ByEmail_UnknownReturnsUserNotFound(t *testing.T) {
	pool := getTestDB(t)
	users := NewUserRepo(pool)

	_, err := users.ByEmail(context.Background(), "nobody@acme.test")
	if apperr.KindOf(err) != apperr.KindUserNotFound {
		t.Fatalf("expected KindUserNotFound, got %v (%v)", apperr.KindOf(err), err)
	}
}
