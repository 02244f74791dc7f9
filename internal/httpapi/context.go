package httpapi

import (
	"context"
	"net/http"

	"github.com/fechatter/fechatter-go/internal/auth"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyClaims
	ctxKeyChatRole
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// requestID reads the id assigned by the request-identification stage,
// propagated in the X-Request-Id response header.
func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// Authenticated projects the verified claims out of the request context;
// handlers behind the access-verification stage may call this
// unconditionally.
func Authenticated(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims)
	return claims, ok
}

// callerUserID is a convenience projection over Authenticated.
func callerUserID(r *http.Request) (ids.UserId, bool) {
	claims, ok := Authenticated(r)
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}

func withChatRole(ctx context.Context, role store.MemberRole) context.Context {
	return context.WithValue(ctx, ctxKeyChatRole, role)
}

// WithChat projects the caller's resolved role in the route's chat_id,
// set by the chat-membership stage.
func WithChat(r *http.Request) (store.MemberRole, bool) {
	role, ok := r.Context().Value(ctxKeyChatRole).(store.MemberRole)
	return role, ok
}
