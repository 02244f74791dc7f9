package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/auth"
	"github.com/fechatter/fechatter-go/internal/cache"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

const refreshCookieName = "fechatter_refresh"

// Middleware bundles the dependencies the middleware chain's stages need: the
// token engine for verification/silent refresh and the chat store for
// membership lookups (cache-through).
type Middleware struct {
	auth    *auth.Service
	chats   *store.ChatRepo
	cache   *cache.Cache
	timeout time.Duration
}

func NewMiddleware(authSvc *auth.Service, chats *store.ChatRepo, c *cache.Cache, requestTimeout time.Duration) *Middleware {
	return &Middleware{auth: authSvc, chats: chats, cache: c, timeout: requestTimeout}
}

// RequestID is stage 1: assign or forward a request id, propagated in the
// X-Request-Id response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Deadline wraps the request with the configured request_timeout_ms
// budget. Not applied to the SSE endpoint.
func (m *Middleware) Deadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), m.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate is stages 2 and 3: bearer extraction and access
// verification, with silent refresh on expiry.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing bearer token"))
			return
		}

		claims, err := m.auth.VerifyAccess(token)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindExpiredToken {
				writeError(w, r, err)
				return
			}
			claims, err = m.silentRefresh(w, r)
			if err != nil {
				writeError(w, r, apperr.New(apperr.KindUnauthenticated, "session expired"))
				return
			}
		}

		ctx := withClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) silentRefresh(w http.ResponseWriter, r *http.Request) (*auth.Claims, error) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return nil, apperr.New(apperr.KindUnauthenticated, "no refresh cookie")
	}
	fp := auth.DeviceFingerprint{UserAgent: r.UserAgent(), IP: clientIP(r)}
	tokens, err := m.auth.Refresh(r.Context(), cookie.Value, fp)
	if err != nil {
		return nil, err
	}
	setRefreshCookie(w, tokens.RefreshToken, tokens.RefreshTokenExpiresAt)
	w.Header().Set("X-New-Access-Token", tokens.AccessToken)
	return m.auth.VerifyAccess(tokens.AccessToken)
}

func setRefreshCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// The SSE endpoint accepts the token as a query parameter, since
	// browser EventSource implementations cannot set request headers.
	return r.URL.Query().Get("access_token")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// WorkspaceScope is stage 4: when the route carries a workspace_id path
// parameter, require it to match the caller's claimed workspace.
func WorkspaceScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		param := chi.URLParam(r, "workspace_id")
		if param == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := Authenticated(r)
		if !ok {
			writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
			return
		}
		wsID, err := strconv.ParseInt(param, 10, 64)
		if err != nil || ids.WorkspaceId(wsID) != claims.WorkspaceID {
			writeError(w, r, apperr.New(apperr.KindWorkspaceMismatch, "workspace mismatch"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ChatMembership is stage 5: when the route carries a chat_id, require
// the caller to be a current member (cache-through), projecting their
// role into the context.
func (m *Middleware) ChatMembership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		param := chi.URLParam(r, "chat_id")
		if param == "" {
			next.ServeHTTP(w, r)
			return
		}
		chatIDRaw, err := strconv.ParseInt(param, 10, 64)
		if err != nil {
			writeError(w, r, apperr.New(apperr.KindChatNotFound, "invalid chat id"))
			return
		}
		chatID := ids.ChatId(chatIDRaw)

		userID, ok := callerUserID(r)
		if !ok {
			writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
			return
		}

		members, err := m.loadMembers(r.Context(), chatID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var role store.MemberRole
		isMember := false
		for _, mem := range members {
			if mem.UserID == userID {
				role, isMember = mem.Role, true
				break
			}
		}
		if !isMember {
			writeError(w, r, apperr.New(apperr.KindNotMember, "caller is not a member of this chat"))
			return
		}

		ctx := withChatRole(r.Context(), role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loadMembers is the cache-through path backing both the membership
// middleware and list_user_chats-adjacent reads.
func (m *Middleware) loadMembers(ctx context.Context, chatID ids.ChatId) ([]store.ChatMember, error) {
	var cached []store.ChatMember
	if m.cache != nil && m.cache.GetChatMembers(ctx, chatID, &cached) {
		return cached, nil
	}
	members, err := m.chats.Members(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.SetChatMembers(ctx, chatID, members)
	}
	return members, nil
}
