// Package apperr defines the error taxonomy shared across the core: a
// closed set of Kinds that every component returns instead of raw errors,
// and the mapping from Kind to HTTP status and response envelope error
// code. Handlers are the only layer that renders these to JSON.
package apperr

import "fmt"

// Kind is one of the closed set of error kinds every component returns.
type Kind string

const (
	// Input
	KindValidation   Kind = "VALIDATION_ERROR"
	KindMissingField Kind = "MISSING_FIELD"
	KindOutOfRange   Kind = "OUT_OF_RANGE"

	// Auth
	KindUnauthenticated      Kind = "UNAUTHENTICATED"
	KindInvalidToken         Kind = "INVALID_TOKEN"
	KindExpiredToken         Kind = "EXPIRED_TOKEN"
	KindRefreshReuseDetected Kind = "REFRESH_REUSE_DETECTED"
	KindAccountSuspended     Kind = "ACCOUNT_SUSPENDED"

	// Authorization
	KindNotMember         Kind = "NOT_MEMBER"
	KindRoleInsufficient  Kind = "ROLE_INSUFFICIENT"
	KindWorkspaceMismatch Kind = "WORKSPACE_MISMATCH"

	// Conflict
	KindDuplicateSingleChat Kind = "DUPLICATE_SINGLE_CHAT"
	KindEmailTaken          Kind = "EMAIL_TAKEN"

	// Not found
	KindChatNotFound    Kind = "CHAT_NOT_FOUND"
	KindMessageNotFound Kind = "MESSAGE_NOT_FOUND"
	KindUserNotFound    Kind = "USER_NOT_FOUND"

	// Dependency
	KindDatabaseUnavailable Kind = "DATABASE_UNAVAILABLE"
	KindBusUnavailable      Kind = "BUS_UNAVAILABLE"
	KindSearchUnavailable   Kind = "SEARCH_UNAVAILABLE"
	KindCacheUnavailable    Kind = "CACHE_UNAVAILABLE"

	// Policy
	KindRateLimited    Kind = "RATE_LIMIT_EXCEEDED"
	KindPayloadTooLarge Kind = "PAYLOAD_TOO_LARGE"
	KindSlowConsumer   Kind = "SLOW_CONSUMER"

	// Internal
	KindInternal Kind = "INTERNAL_ERROR"
)

// Error is the common error type every component returns.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details (e.g. field-level validation
// errors) to the error and returns it for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if e, ok := err.(*Error); ok {
			return e, true
		}
	}
	return target, false
}

// KindOf returns the Kind of err, defaulting to KindInternal when err does
// not carry one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation, KindMissingField, KindOutOfRange, KindPayloadTooLarge:
		return 400
	case KindUnauthenticated, KindInvalidToken, KindExpiredToken, KindRefreshReuseDetected, KindAccountSuspended:
		return 401
	case KindNotMember, KindRoleInsufficient, KindWorkspaceMismatch:
		return 403
	case KindChatNotFound, KindMessageNotFound, KindUserNotFound:
		return 404
	case KindDuplicateSingleChat, KindEmailTaken:
		return 409
	case KindRateLimited:
		return 429
	case KindDatabaseUnavailable, KindBusUnavailable, KindSearchUnavailable, KindCacheUnavailable, KindSlowConsumer:
		return 503
	case KindInternal:
		return 500
	default:
		return 500
	}
}

// Code returns the canonical response-envelope error code for a Kind. Most
// kinds already are the canonical code; a handful collapse onto a shared,
// more general code.
func Code(k Kind) string {
	switch k {
	case KindInvalidToken, KindExpiredToken, KindUnauthenticated, KindRefreshReuseDetected, KindAccountSuspended:
		return "INVALID_TOKEN"
	case KindNotMember, KindRoleInsufficient, KindWorkspaceMismatch:
		return "PERMISSION_DENIED"
	case KindChatNotFound, KindMessageNotFound, KindUserNotFound:
		return "NOT_FOUND"
	case KindDuplicateSingleChat, KindEmailTaken:
		return "CONFLICT"
	case KindDatabaseUnavailable, KindBusUnavailable, KindSearchUnavailable, KindCacheUnavailable, KindSlowConsumer:
		return "SERVICE_UNAVAILABLE"
	case KindRateLimited:
		return "RATE_LIMIT_EXCEEDED"
	case KindValidation, KindMissingField, KindOutOfRange, KindPayloadTooLarge:
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
