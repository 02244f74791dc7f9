package httpapi

import (
	"net/http"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/auth"
	"github.com/fechatter/fechatter-go/internal/bus"
	"github.com/fechatter/fechatter-go/internal/cache"
	"github.com/fechatter/fechatter-go/internal/observability"
	"github.com/fechatter/fechatter-go/internal/realtime"
	"github.com/fechatter/fechatter-go/internal/search"
	"github.com/fechatter/fechatter-go/internal/store"
)

// Server holds every dependency the handler files close over. It has no
// behavior of its own beyond grouping; each route's logic lives in its
// own handlers_*.go file.
type Server struct {
	mw *Middleware

	auth     *auth.Service
	users    *store.UserRepo
	chats    *store.ChatRepo
	messages *store.MessageRepo

	cache     *cache.Cache
	publisher *bus.Publisher
	search    *search.Indexer
	realtime  *realtime.Server

	metrics *observability.Metrics
}

// Deps collects the constructed dependencies cmd/server wires together.
// Search, publisher, cache, and realtime are optional: a nil value
// disables the corresponding routes' side effects without failing
// startup, matching the ambient "degrade, don't crash" posture used
// throughout the cache and bus packages.
type Deps struct {
	Middleware *Middleware
	Auth       *auth.Service
	Users      *store.UserRepo
	Chats      *store.ChatRepo
	Messages   *store.MessageRepo
	Cache      *cache.Cache
	Publisher  *bus.Publisher
	Search     *search.Indexer
	Realtime   *realtime.Server
	Metrics    *observability.Metrics
}

func NewServer(d Deps) *Server {
	return &Server{
		mw: d.Middleware, auth: d.Auth, users: d.Users, chats: d.Chats, messages: d.Messages,
		cache: d.Cache, publisher: d.Publisher, search: d.Search, realtime: d.Realtime, metrics: d.Metrics,
	}
}

// handleEvents bridges the authentication stages to the SSE server,
// which is otherwise middleware-free: long-lived connections don't
// go through the request-deadline stage.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerUserID(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}
	if s.realtime == nil {
		writeError(w, r, apperr.New(apperr.KindBusUnavailable, "real-time delivery is not configured"))
		return
	}
	s.realtime.ServeHTTP(w, r, userID)
}
