package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the pieces Routes needs beyond what's already on
// Server: the middleware chain and an optional rate limiter.
type RouterConfig struct {
	Middleware  *Middleware
	RateLimiter *RateLimiter
}

// Routes assembles the full chi route tree, applying the 5-stage
// middleware chain to every authenticated group and skipping the
// request-deadline stage for the SSE endpoint (a long-lived stream would
// otherwise be killed by it).
func (s *Server) Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metricsMiddleware)
	}

	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}
		r.Post("/v1/auth/signup", s.handleSignup)
		r.Post("/v1/auth/signin", s.handleSignin)
		r.Post("/v1/auth/refresh", s.handleRefresh)
	})

	r.Group(func(r chi.Router) {
		r.Use(cfg.Middleware.Deadline)
		r.Use(cfg.Middleware.Authenticate)
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}

		r.Post("/v1/auth/logout", s.handleLogout)
		r.Post("/v1/auth/logout-all", s.handleLogoutAll)
		r.Get("/v1/users/me", s.handleMe)

		r.Route("/v1/workspaces/{workspace_id}", func(r chi.Router) {
			r.Use(WorkspaceScope)
			r.Get("/users", s.handleWorkspaceUsers)
			r.Get("/chats", s.handleListUserChats)
			r.Post("/chats", s.handleCreateChat)
		})

		// /join is deliberately outside the ChatMembership-guarded group
		// below: a non-member self-joining a public channel is the one
		// route where prior membership is not the precondition.
		// handleJoinChat enforces workspace scope and channel type itself.
		r.Post("/v1/chats/{chat_id}/join", s.handleJoinChat)

		r.Route("/v1/chats/{chat_id}", func(r chi.Router) {
			r.Use(cfg.Middleware.ChatMembership)

			r.Get("/", s.handleGetChat)
			r.Post("/members", s.handleAddMembers)
			r.Delete("/members", s.handleRemoveMembers)
			r.Post("/leave", s.handleLeaveChat)
			r.Post("/owner/{user_id}", s.handleTransferOwnership)

			r.Post("/messages", s.handleSendMessage)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages/search", s.handleSearchMessages)
		})

		r.Patch("/v1/messages/{message_id}", s.handleEditMessage)
		r.Delete("/v1/messages/{message_id}", s.handleDeleteMessage)
	})

	// SSE: authenticated, but outside the request-deadline stage since the
	// connection is meant to stay open for the session's lifetime.
	r.Group(func(r chi.Router) {
		r.Use(cfg.Middleware.Authenticate)
		r.Get("/v1/events", s.handleEvents)
	})

	return r
}

// metricsMiddleware records request counts and latencies against the
// shared registry, labeling by chi's matched route pattern rather than
// the raw path so per-id URLs don't explode the cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		s.metrics.Observe(r.Method, pattern, strconv.Itoa(sw.status), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
