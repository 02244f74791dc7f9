package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter-go/internal/auth"
	"github.com/fechatter/fechatter-go/internal/db"
	"github.com/fechatter/fechatter-go/internal/store"
)

func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	_, err = pool.Exec(context.Background(), `
		TRUNCATE TABLE outbox, messages, chat_members, chats, refresh_tokens, users, workspaces RESTART IDENTITY CASCADE`)
	if err != nil {
		pool.Close()
		t.Fatalf("failed to reset test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func writeTestKeypair(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	dir := t.TempDir()
	privPath = filepath.Join(dir, "private.pem")
	pubPath = filepath.Join(dir, "public.pem")

	privBytes := x509.MarshalPKCS1PrivateKey(key)
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}), 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privPath, pubPath
}

// testServer wires a full Server and its chi router against a real test
// database, mirroring the wiring cmd/server does but with a throwaway
// keypair and no optional dependencies (cache, bus, search, realtime).
type testServer struct {
	router http.Handler
	srv    *Server
	auth   *auth.Service
}

func newTestServer(t *testing.T, pool *pgxpool.Pool) *testServer {
	t.Helper()
	privPath, pubPath := writeTestKeypair(t)
	engine, err := auth.NewTokenEngine(privPath, pubPath, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenEngine: %v", err)
	}
	users := store.NewUserRepo(pool)
	refreshes := store.NewAuthRepo(pool)
	authSvc := auth.NewService(engine, users, refreshes, 24*time.Hour, 30*24*time.Hour)

	chats := store.NewChatRepo(pool)
	messages := store.NewMessageRepo(pool, 15*time.Minute)

	mw := NewMiddleware(authSvc, chats, nil, 5*time.Second)
	srv := NewServer(Deps{
		Middleware: mw,
		Auth:       authSvc,
		Users:      users,
		Chats:      chats,
		Messages:   messages,
	})
	router := srv.Routes(RouterConfig{Middleware: mw})

	return &testServer{router: router, srv: srv, auth: authSvc}
}

// doJSON drives a single request through the router, optionally
// authenticated, and decodes the envelope's data payload into out (if
// non-nil). It returns the raw recorder for status/header assertions.
func (ts *testServer) doJSON(t *testing.T, method, path, accessToken string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	if out != nil {
		var env envelope
		env.Data = out
		if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
			t.Fatalf("decode response envelope: %v (body: %s)", err, w.Body.String())
		}
	}
	return w
}

// signupAndSignin creates a fresh workspace/owner, signs the owner in,
// and returns the signin's access token along with the owner's and
// workspace's ids.
func signupAndSignin(t *testing.T, ts *testServer, email, wsName string) (accessToken string, userID, workspaceID int64) {
	t.Helper()
	ctx := context.Background()
	name := wsName
	if _, _, err := ts.auth.Signup(ctx, email, "correcthorsebatterystaple1", &name, "Test User"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	tokens, user, err := ts.auth.Signin(ctx, email, "correcthorsebatterystaple1", auth.DeviceFingerprint{})
	if err != nil {
		t.Fatalf("Signin: %v", err)
	}
	return tokens.AccessToken, int64(user.ID), int64(user.WorkspaceID)
}
