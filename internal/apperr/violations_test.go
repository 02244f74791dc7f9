package apperr

import (
	"errors"
	"testing"
)

func TestViolations_NoneRecordedReturnsNilError(t *testing.T) {
	var v Violations
	if v.Any() {
		t.Fatal("expected Any() to be false for a fresh Violations")
	}
	if err := v.Err(); err != nil {
		t.Fatalf("expected nil error with no violations, got %v", err)
	}
}

func TestViolations_RequireAccumulatesAndShortCircuitsNothing(t *testing.T) {
	var v Violations
	okA := v.Require(true, "name", "must not be empty")
	okB := v.Require(false, "email", "must be a valid address")
	okC := v.Require(false, "age", "must be positive")

	if !okA || okB || okC {
		t.Fatalf("Require should return the passed ok value verbatim, got %v %v %v", okA, okB, okC)
	}
	if len(v.Items()) != 2 {
		t.Fatalf("expected 2 violations accumulated, got %d: %+v", len(v.Items()), v.Items())
	}

	err := v.Err()
	if err == nil {
		t.Fatal("expected a non-nil error once violations were recorded")
	}
	appErr, ok := As(err)
	if !ok {
		t.Fatal("expected Err() to return an *Error")
	}
	if appErr.Kind != KindValidation {
		t.Errorf("expected KindValidation, got %v", appErr.Kind)
	}
	if len(appErr.Details) != 2 {
		t.Errorf("expected 2 detail entries, got %d: %+v", len(appErr.Details), appErr.Details)
	}
	if appErr.Details["email"] != "must be a valid address" || appErr.Details["age"] != "must be positive" {
		t.Errorf("unexpected details: %+v", appErr.Details)
	}
}

func TestViolations_AddDirectly(t *testing.T) {
	var v Violations
	v.Add("idempotency_key", "must be a UUID v4")
	if !v.Any() {
		t.Fatal("expected Any() true after Add")
	}
	if v.Items()[0].Field != "idempotency_key" {
		t.Errorf("unexpected field: %+v", v.Items()[0])
	}
}

func TestHTTPStatusAndCode_CoverEveryKind(t *testing.T) {
	kinds := []Kind{
		KindValidation, KindMissingField, KindOutOfRange,
		KindUnauthenticated, KindInvalidToken, KindExpiredToken, KindRefreshReuseDetected, KindAccountSuspended,
		KindNotMember, KindRoleInsufficient, KindWorkspaceMismatch,
		KindDuplicateSingleChat, KindEmailTaken,
		KindChatNotFound, KindMessageNotFound, KindUserNotFound,
		KindDatabaseUnavailable, KindBusUnavailable, KindSearchUnavailable, KindCacheUnavailable,
		KindRateLimited, KindPayloadTooLarge, KindSlowConsumer,
		KindInternal,
	}
	for _, k := range kinds {
		status := HTTPStatus(k)
		if status < 400 || status >= 600 {
			t.Errorf("kind %v: expected an HTTP error status, got %d", k, status)
		}
		if Code(k) == "" {
			t.Errorf("kind %v: expected a non-empty canonical code", k)
		}
	}
}

func TestKindOf_DefaultsToInternalForPlainErrors(t *testing.T) {
	if KindOf(nil) != KindInternal {
		t.Errorf("expected KindInternal for nil, got %v", KindOf(nil))
	}
	plain := errors.New("boom")
	if KindOf(plain) != KindInternal {
		t.Errorf("expected KindInternal for a plain error, got %v", KindOf(plain))
	}
}

func TestWrap_PreservesCauseAndUnwraps(t *testing.T) {
	cause := New(KindValidation, "inner")
	wrapped := Wrap(KindDatabaseUnavailable, cause, "outer")

	if wrapped.Unwrap() != error(cause) {
		t.Error("expected Unwrap to return the original cause")
	}
	if wrapped.Error() == "" {
		t.Error("expected a non-empty error string")
	}
}
