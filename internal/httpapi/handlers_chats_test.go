package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

// createWorkspaceMembers signs up an owner and count-1 additional members,
// all joining the same workspace, and returns their access tokens and
// user ids in signup order (owner first).
func createWorkspaceMembers(t *testing.T, ts *testServer, wsName string, count int) (tokens []string, userIDs []int64, workspaceID int64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		name := wsName
		email := fmt.Sprintf("user%d@%s.test", i, wsName)
		tok, user, err := ts.auth.Signup(ctx, email, "correcthorsebatterystaple1", &name, fmt.Sprintf("User %d", i))
		if err != nil {
			t.Fatalf("Signup(%d): %v", i, err)
		}
		tokens = append(tokens, tok.AccessToken)
		userIDs = append(userIDs, int64(user.ID))
		workspaceID = int64(user.WorkspaceID)
	}
	return tokens, userIDs, workspaceID
}

func TestHandleCreateChat_GroupRequiresThreeDistinctParticipants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, userIDs, wsID := createWorkspaceMembers(t, ts, "acme", 3)

	var chat chatView
	w := ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/chats", wsID), tokens[0], createChatRequest{
		Kind:    "group",
		Name:    strPtr("Engineering"),
		Members: []int64{userIDs[1], userIDs[2]},
	}, &chat)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if chat.Type != "group" {
		t.Errorf("expected a group chat, got %+v", chat)
	}

	// A group chat with just one other member (two distinct participants)
	// should be rejected.
	w = ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/chats", wsID), tokens[0], createChatRequest{
		Kind:    "group",
		Members: []int64{userIDs[1]},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an under-sized group chat, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleCreateChat_WorkspaceMismatchRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, _, wsID := createWorkspaceMembers(t, ts, "acme", 1)

	w := ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/chats", wsID+1), tokens[0], createChatRequest{
		Kind: "public_channel",
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a workspace-id mismatch, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleChatMembership_AddRemoveAndRoleGuard(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, userIDs, wsID := createWorkspaceMembers(t, ts, "acme", 3)

	var chat chatView
	w := ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/chats", wsID), tokens[0], createChatRequest{
		Kind:    "group",
		Members: []int64{userIDs[1], userIDs[2]},
	}, &chat)
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// A plain member cannot remove anyone.
	w = ts.doJSON(t, http.MethodDelete, fmt.Sprintf("/v1/chats/%d/members", chat.ID), tokens[1], membersRequest{
		UserIDs: []int64{userIDs[2]},
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when a non-owner/admin removes a member, got %d: %s", w.Code, w.Body.String())
	}

	// The owner can.
	w = ts.doJSON(t, http.MethodDelete, fmt.Sprintf("/v1/chats/%d/members", chat.ID), tokens[0], membersRequest{
		UserIDs: []int64{userIDs[2]},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when the owner removes a member, got %d: %s", w.Code, w.Body.String())
	}

	// Once removed, that caller is no longer a chat member.
	w = ts.doJSON(t, http.MethodGet, fmt.Sprintf("/v1/chats/%d", chat.ID), tokens[2], nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a removed member, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleJoinAndLeaveChat_PublicChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, _, wsID := createWorkspaceMembers(t, ts, "acme", 2)

	var chat chatView
	w := ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/chats", wsID), tokens[0], createChatRequest{
		Kind: "public_channel",
	}, &chat)
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/chats/%d/join", chat.ID), tokens[1], nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected a non-member to self-join a public channel, got %d: %s", w.Code, w.Body.String())
	}

	// Now a member: the membership-guarded GET should succeed.
	w = ts.doJSON(t, http.MethodGet, fmt.Sprintf("/v1/chats/%d", chat.ID), tokens[1], nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected the joined caller to pass the membership check, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/chats/%d/leave", chat.ID), tokens[1], nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected leave to succeed, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.doJSON(t, http.MethodGet, fmt.Sprintf("/v1/chats/%d", chat.ID), tokens[1], nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected the caller to lose access after leaving, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleTransferOwnership_MovesOwnerRole(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, userIDs, wsID := createWorkspaceMembers(t, ts, "acme", 2)

	var chat chatView
	w := ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/chats", wsID), tokens[0], createChatRequest{
		Kind:    "single",
		Members: []int64{userIDs[1]},
	}, &chat)
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/chats/%d/owner/%d", chat.ID, userIDs[1]), tokens[0], nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 transferring ownership, got %d: %s", w.Code, w.Body.String())
	}

	// The old owner can no longer act as owner (e.g. transfer again).
	w = ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/chats/%d/owner/%d", chat.ID, userIDs[0]), tokens[0], nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for the now-demoted former owner, got %d: %s", w.Code, w.Body.String())
	}
}
