package httpapi

import (
	"net/http"
	"testing"
)

func TestHandleLive_AlwaysOK(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	var status healthStatus
	w := ts.doJSON(t, http.MethodGet, "/health/live", "", nil, &status)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if status.Status != "ok" {
		t.Errorf("expected status ok, got %+v", status)
	}
}

func TestHandleReady_ReportsDatabaseHealth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := getTestDB(t)
	ts := newTestServer(t, pool)

	var status healthStatus
	w := ts.doJSON(t, http.MethodGet, "/health/ready", "", nil, &status)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with a reachable database, got %d: %s", w.Code, w.Body.String())
	}
	if status.Dependencies["database"] != "ok" {
		t.Errorf("expected database dependency to report ok, got %+v", status.Dependencies)
	}
}
