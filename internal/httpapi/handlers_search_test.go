package httpapi

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHandleSearchMessages_UnavailableWithoutIndexer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	tokens, userIDs, wsID := createWorkspaceMembers(t, ts, "acme", 2)
	chat := createTestChat(t, ts, tokens[0], wsID, "single", []int64{userIDs[1]})

	w := ts.doJSON(t, http.MethodPost, fmt.Sprintf("/v1/chats/%d/messages/search", chat.ID), tokens[0], searchRequest{
		Query: "hello",
	}, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no search indexer is configured, got %d: %s", w.Code, w.Body.String())
	}
}
