package httpapi

import (
	"context"
	"net/http"
	"time"
)

type healthStatus struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// handleLive answers the liveness probe unconditionally: the process is
// up and able to serve HTTP.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthStatus{Status: "ok"})
}

// handleReady pings the database and the cache within a 1 s budget. An
// unreachable database marks the process not-ready without taking it
// down, so orchestrators stop routing traffic but the outbox/indexer
// workers keep draining once the dependency recovers; an unreachable
// cache is reported as degraded and does not affect readiness. The bus
// and search entries are not probed: they read "ok" whenever a publisher
// or indexer is configured, and their reachability does not affect
// readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	deps := map[string]string{}
	ready := true

	if s.chats != nil {
		if err := s.chats.Ping(ctx); err != nil {
			deps["database"] = "unavailable"
			ready = false
		} else {
			deps["database"] = "ok"
		}
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			deps["cache"] = "degraded"
		} else {
			deps["cache"] = "ok"
		}
	}
	if s.publisher != nil {
		deps["bus"] = "ok"
	}
	if s.search != nil {
		deps["search"] = "ok"
	}

	status := http.StatusOK
	statusText := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		statusText = "not_ready"
	}
	writeJSON(w, r, status, healthStatus{Status: statusText, Dependencies: deps})
}
