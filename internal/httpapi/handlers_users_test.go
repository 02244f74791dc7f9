package httpapi

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHandleWorkspaceUsers_ListsEveryMember(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, userIDs, wsID := createWorkspaceMembers(t, ts, "acme", 2)

	var users []userView
	w := ts.doJSON(t, http.MethodGet, fmt.Sprintf("/v1/workspaces/%d/users", wsID), tokens[0], nil, &users)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 workspace users, got %d", len(users))
	}
	seen := map[int64]bool{}
	for _, u := range users {
		seen[u.ID] = true
	}
	if !seen[userIDs[0]] || !seen[userIDs[1]] {
		t.Errorf("expected both signed-up users in the listing, got %+v", users)
	}
}

func TestHandleWorkspaceUsers_RejectsForeignWorkspace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, _, wsID := createWorkspaceMembers(t, ts, "acme", 1)

	w := ts.doJSON(t, http.MethodGet, fmt.Sprintf("/v1/workspaces/%d/users", wsID+1), tokens[0], nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a workspace-id mismatch, got %d: %s", w.Code, w.Body.String())
	}
}
