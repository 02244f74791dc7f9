package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

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

func TestTokenEngine_IssueVerifyRoundTrip(t *testing.T) {
	privPath, pubPath := writeTestKeypair(t)
	engine, err := NewTokenEngine(privPath, pubPath, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenEngine: %v", err)
	}

	user := &store.User{ID: ids.UserId(42), WorkspaceID: ids.WorkspaceId(7), FullName: "Ada Lovelace", Email: "ada@example.com", Status: store.UserActive}
	token, exp, err := engine.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatal("expected expiry to be in the future")
	}

	claims, err := engine.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != user.ID || claims.WorkspaceID != user.WorkspaceID || claims.Email != user.Email {
		t.Errorf("claims mismatch: got %+v", claims)
	}
}

func TestTokenEngine_Verify_ExpiredToken(t *testing.T) {
	privPath, pubPath := writeTestKeypair(t)
	engine, err := NewTokenEngine(privPath, pubPath, -time.Hour)
	if err != nil {
		t.Fatalf("NewTokenEngine: %v", err)
	}
	user := &store.User{ID: ids.UserId(1), WorkspaceID: ids.WorkspaceId(1), Status: store.UserActive}
	token, _, err := engine.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = engine.Verify(token)
	if apperr.KindOf(err) != apperr.KindExpiredToken {
		t.Fatalf("expected KindExpiredToken, got %v (%v)", apperr.KindOf(err), err)
	}
}

func TestTokenEngine_Verify_WrongKeyRejected(t *testing.T) {
	privPath, pubPath := writeTestKeypair(t)
	engine, err := NewTokenEngine(privPath, pubPath, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenEngine: %v", err)
	}
	user := &store.User{ID: ids.UserId(1), WorkspaceID: ids.WorkspaceId(1), Status: store.UserActive}
	token, _, err := engine.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, otherPub := writeTestKeypair(t)
	other, err := NewTokenEngine(privPath, otherPub, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenEngine (other): %v", err)
	}

	_, err = other.Verify(token)
	if apperr.KindOf(err) != apperr.KindInvalidToken {
		t.Fatalf("expected KindInvalidToken for a token signed against a different key, got %v", apperr.KindOf(err))
	}
}

func TestNewRefreshToken_HashIsDeterministicAndPlaintextIsNot(t *testing.T) {
	plain1, hash1, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	plain2, hash2, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if plain1 == plain2 {
		t.Error("expected distinct random plaintexts across calls")
	}
	if HashRefreshToken(plain1) != hash1 {
		t.Error("expected HashRefreshToken(plain1) to reproduce the stored hash")
	}
	if hash1 == hash2 {
		t.Error("expected distinct hashes for distinct plaintexts")
	}
}
