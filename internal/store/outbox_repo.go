package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

// OutboxRepo drains the transactional outbox populated by MessageRepo.Send,
// guaranteeing at-least-once publication even across a crash between
// commit and publish.
type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

// Pending returns up to limit unsent rows in id order (oldest first),
// preserving the per-chat ordering contract when paired with a
// partition-key-by-chat_id publisher.
func (r *OutboxRepo) Pending(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_id, message_id, event_type, payload, created_at, sent_at
		FROM outbox WHERE sent_at IS NULL
		ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "list pending outbox rows")
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var o OutboxRow
		if err := rows.Scan(&o.ID, &o.ChatID, &o.MessageID, &o.EventType, &o.Payload, &o.CreatedAt, &o.SentAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "scan outbox row")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkSent records a successful publish.
func (r *OutboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE outbox SET sent_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "mark outbox row sent")
	}
	return nil
}

// Backlog reports the number of unsent rows, fed into the
// fechatter_outbox_backlog gauge.
func (r *OutboxRepo) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "count outbox backlog")
	}
	return n, nil
}
