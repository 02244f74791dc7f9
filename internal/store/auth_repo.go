package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
)

// AuthRepo persists refresh token rotation chains.
type AuthRepo struct {
	pool *pgxpool.Pool
}

func NewAuthRepo(pool *pgxpool.Pool) *AuthRepo {
	return &AuthRepo{pool: pool}
}

// Insert creates a new refresh token row, the head of a fresh rotation
// chain (or the next link, when called from Rotate).
func (r *AuthRepo) Insert(ctx context.Context, tx pgx.Tx, t RefreshToken) (*RefreshToken, error) {
	q := func(querier interface {
		QueryRow(context.Context, string, ...any) pgx.Row
	}) error {
		return querier.QueryRow(ctx, `
			INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at, absolute_expires_at, revoked, user_agent, ip, device_fingerprint)
			VALUES ($1, $2, $3, $4, $5, false, $6, $7, $8)
			RETURNING id, user_id, token_hash, issued_at, expires_at, absolute_expires_at, revoked, replaced_by, user_agent, ip, device_fingerprint`,
			t.UserID, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.AbsoluteExpiresAt, t.UserAgent, t.IP, t.DeviceFingerprint,
		).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.AbsoluteExpiresAt, &t.Revoked, &t.ReplacedBy, &t.UserAgent, &t.IP, &t.DeviceFingerprint)
	}
	var err error
	if tx != nil {
		err = q(tx)
	} else {
		err = q(r.pool)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert refresh token")
	}
	return &t, nil
}

// ByHash locates a refresh token by its stored hash.
func (r *AuthRepo) ByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	var t RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, issued_at, expires_at, absolute_expires_at, revoked, replaced_by, user_agent, ip, device_fingerprint
		FROM refresh_tokens WHERE token_hash = $1`, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.AbsoluteExpiresAt, &t.Revoked, &t.ReplacedBy, &t.UserAgent, &t.IP, &t.DeviceFingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindInvalidToken, "refresh token not recognized")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load refresh token")
	}
	return &t, nil
}

// Rotate atomically revokes old (setting replaced_by) and inserts a new
// token row in the same transaction, implementing the rotation half of
// refresh().
func (r *AuthRepo) Rotate(ctx context.Context, old RefreshToken, next RefreshToken) (*RefreshToken, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	created, err := r.Insert(ctx, tx, next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true, replaced_by = $1 WHERE id = $2`,
		created.ID, old.ID); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "revoke old refresh token")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "commit rotation")
	}
	return created, nil
}

// RevokeChain revokes every token reachable by following replaced_by
// links from a starting token id, used both for RefreshReuseDetected and
// for explicit logout.
func (r *AuthRepo) RevokeChain(ctx context.Context, startID int64) error {
	_, err := r.pool.Exec(ctx, `
		WITH RECURSIVE chain(id, replaced_by) AS (
			SELECT id, replaced_by FROM refresh_tokens WHERE id = $1
			UNION ALL
			SELECT rt.id, rt.replaced_by FROM refresh_tokens rt JOIN chain c ON rt.id = c.replaced_by
		)
		UPDATE refresh_tokens SET revoked = true WHERE id IN (SELECT id FROM chain)`, startID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "revoke refresh chain")
	}
	return nil
}

// RevokeAllForUser revokes every refresh token chain belonging to userID,
// for logout_all.
func (r *AuthRepo) RevokeAllForUser(ctx context.Context, userID ids.UserId) error {
	_, err := r.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "revoke all refresh tokens")
	}
	return nil
}

// ActiveChainForFingerprint finds the most recent non-revoked chain for a
// (user_id, device fingerprint) pair, so a fresh signin from the same
// device can supersede it instead of leaving two active chains side by
// side.
func (r *AuthRepo) ActiveChainForFingerprint(ctx context.Context, userID ids.UserId, fingerprint string) (*RefreshToken, error) {
	var t RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, issued_at, expires_at, absolute_expires_at, revoked, replaced_by, user_agent, ip, device_fingerprint
		FROM refresh_tokens
		WHERE user_id = $1 AND device_fingerprint = $2 AND revoked = false
		ORDER BY issued_at DESC LIMIT 1`, userID, fingerprint).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.AbsoluteExpiresAt, &t.Revoked, &t.ReplacedBy, &t.UserAgent, &t.IP, &t.DeviceFingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load active chain")
	}
	return &t, nil
}
