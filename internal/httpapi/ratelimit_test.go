package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 1; i <= 2; i++ {
		req := httptest.NewRequest("POST", "/v1/auth/signin", nil)
		req.RemoteAddr = "203.0.113.10:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 within burst, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest("POST", "/v1/auth/signin", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst exhausted, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining=0 when limited, got %s", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimiter_PerCallerIsolation(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reqA := httptest.NewRequest("POST", "/v1/auth/signin", nil)
	reqA.RemoteAddr = "198.51.100.1:1"
	recA1 := httptest.NewRecorder()
	handler.ServeHTTP(recA1, reqA)
	recA2 := httptest.NewRecorder()
	handler.ServeHTTP(recA2, reqA)
	if recA2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same IP should be limited, got %d", recA2.Code)
	}

	reqB := httptest.NewRequest("POST", "/v1/auth/signin", nil)
	reqB.RemoteAddr = "198.51.100.2:1"
	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, reqB)
	if recB.Code != http.StatusOK {
		t.Fatalf("different IP should have its own bucket, got %d", recB.Code)
	}
}

func TestRateLimiter_HeaderReflectsConfiguredLimit(t *testing.T) {
	rl := NewRateLimiter(120, 5)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/auth/signin", nil)
	req.RemoteAddr = "192.0.2.5:1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-RateLimit-Limit") != "120" {
		t.Errorf("expected X-RateLimit-Limit=120, got %s", rec.Header().Get("X-RateLimit-Limit"))
	}
	remaining, err := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining"))
	if err != nil || remaining < 0 || remaining > 5 {
		t.Errorf("expected X-RateLimit-Remaining in [0,5], got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}
