package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
)

// UserRepo persists workspaces and users. A workspace is created or joined
// deterministically by name during signup.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// WorkspaceByName looks up a workspace by its globally unique name.
func (r *UserRepo) WorkspaceByName(ctx context.Context, name string) (*Workspace, error) {
	var w Workspace
	err := r.pool.QueryRow(ctx, `SELECT id, name, owner_user_id, created_at FROM workspaces WHERE name = $1`, name).
		Scan(&w.ID, &w.Name, &w.OwnerUserID, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load workspace by name")
	}
	return &w, nil
}

// CreateWorkspace inserts a new workspace, owned by ownerUserID.
func (r *UserRepo) CreateWorkspace(ctx context.Context, tx pgx.Tx, name string, ownerUserID ids.UserId) (*Workspace, error) {
	var w Workspace
	err := tx.QueryRow(ctx, `
		INSERT INTO workspaces (name, owner_user_id, created_at) VALUES ($1, $2, $3)
		RETURNING id, name, owner_user_id, created_at`, name, ownerUserID, time.Now().UTC()).
		Scan(&w.ID, &w.Name, &w.OwnerUserID, &w.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert workspace")
	}
	return &w, nil
}

// CreateUser inserts a user row within tx (signup runs workspace creation
// and user creation in one transaction so a failed user insert never
// leaves an orphan workspace).
func (r *UserRepo) CreateUser(ctx context.Context, tx pgx.Tx, email, fullName, passwordHash string, workspaceID ids.WorkspaceId) (*User, error) {
	var u User
	err := tx.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, status, workspace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, full_name, password_hash, status, workspace_id, created_at`,
		email, fullName, passwordHash, UserActive, workspaceID, time.Now().UTC()).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Status, &u.WorkspaceID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.KindEmailTaken, "email already registered")
		}
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert user")
	}
	return &u, nil
}

// Begin starts a transaction for the caller to pass into CreateWorkspace /
// CreateUser.
func (r *UserRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "begin transaction")
	}
	return tx, nil
}

// ByEmail loads a user by email.
func (r *UserRepo) ByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, full_name, password_hash, status, workspace_id, created_at
		FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Status, &u.WorkspaceID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load user by email")
	}
	return &u, nil
}

// ByID loads a user by id.
func (r *UserRepo) ByID(ctx context.Context, id ids.UserId) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, full_name, password_hash, status, workspace_id, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Status, &u.WorkspaceID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load user by id")
	}
	return &u, nil
}

// WorkspaceUsers lists every user belonging to workspaceID.
func (r *UserRepo) WorkspaceUsers(ctx context.Context, workspaceID ids.WorkspaceId) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, full_name, password_hash, status, workspace_id, created_at
		FROM users WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "list workspace users")
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Status, &u.WorkspaceID, &u.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "scan user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
