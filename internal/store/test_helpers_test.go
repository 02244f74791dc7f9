package store

import (
	"context"
	"os"
	"testing"

	"github.com/fechatter/fechatter-go/internal/db"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB returns a connection to the test database, skipping the
// caller's test when TEST_DATABASE_URL isn't set. Every table touched by
// the store package is truncated first so tests don't see each other's
// rows.
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

func mustCreateWorkspaceAndOwner(t *testing.T, users *UserRepo) (workspaceID ids.WorkspaceId, ownerID ids.UserId) {
	t.Helper()
	ctx := context.Background()
	tx, err := users.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	ws, err := users.CreateWorkspace(ctx, tx, "acme", 0)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	owner, err := users.CreateUser(ctx, tx, "owner@acme.test", "Owner", "hash", ws.ID)
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE workspaces SET owner_user_id = $1 WHERE id = $2`, owner.ID, ws.ID); err != nil {
		t.Fatalf("set workspace owner: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return ws.ID, owner.ID
}

func mustCreateUser(t *testing.T, users *UserRepo, workspaceID ids.WorkspaceId, email string) ids.UserId {
	t.Helper()
	ctx := context.Background()
	tx, err := users.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	u, err := users.CreateUser(ctx, tx, email, "Member", "hash", workspaceID)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return u.ID
}
