package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
)

const maxMessageContentLen = 5000

// Draft is the unvalidated input to Send.
type Draft struct {
	Content        string
	Files          []string
	ReplyTo        *ids.MessageId
	Mentions       []ids.UserId
	IdempotencyKey *string
}

// MessageRepo implements the message ingestion pipeline's persistence half:
// validation, idempotent insert, and the transactional outbox that
// decouples commit from event-bus publication.
type MessageRepo struct {
	pool       *pgxpool.Pool
	editWindow time.Duration
}

func NewMessageRepo(pool *pgxpool.Pool, editWindow time.Duration) *MessageRepo {
	return &MessageRepo{pool: pool, editWindow: editWindow}
}

// MessageCreatedPayload is the event body published after a successful
// send, matching the NotificationEvent tagged-union member of the same
// name.
type MessageCreatedPayload struct {
	ID         ids.MessageId  `json:"id"`
	ChatID     ids.ChatId     `json:"chat_id"`
	SenderID   ids.UserId     `json:"sender_id"`
	Content    string         `json:"content"`
	Files      []string       `json:"files,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ReplyTo    *ids.MessageId `json:"reply_to,omitempty"`
	Mentions   []ids.UserId   `json:"mentions,omitempty"`
	Recipients []ids.UserId   `json:"recipients"`
}

// Send validates the draft, short-circuits on a repeated idempotency key,
// then inserts the message and its outbox row in one transaction.
func (r *MessageRepo) Send(ctx context.Context, chatID ids.ChatId, senderID ids.UserId, draft Draft, members []ChatMember) (*Message, error) {
	content := strings.TrimSpace(draft.Content)
	v := &apperr.Violations{}
	v.Require(len(content) > 0 || len(draft.Files) > 0, "content", "message must have content or at least one file")
	v.Require(len(content) <= maxMessageContentLen, "content", "message content exceeds 5000 characters")

	memberSet := make(map[ids.UserId]bool, len(members))
	for _, m := range members {
		memberSet[m.UserID] = true
	}
	for _, m := range draft.Mentions {
		if !memberSet[m] {
			v.Add("mentions", "mention target is not a current chat member")
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if draft.ReplyTo != nil {
		var deleted bool
		err := r.pool.QueryRow(ctx, `SELECT deleted FROM messages WHERE id = $1 AND chat_id = $2`, *draft.ReplyTo, chatID).Scan(&deleted)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindValidation, "reply_to message not found in this chat")
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load reply_to message")
		}
		if deleted {
			return nil, apperr.New(apperr.KindValidation, "reply_to message has been deleted")
		}
	}

	if draft.IdempotencyKey != nil {
		if existing, err := r.bySenderIdempotencyKey(ctx, chatID, *draft.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	var msg Message
	row := tx.QueryRow(ctx, `
		INSERT INTO messages (chat_id, sender_id, content, files, reply_to, mentions, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chat_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING id, chat_id, sender_id, content, files, reply_to, mentions, created_at, idempotency_key`,
		chatID, senderID, content, draft.Files, draft.ReplyTo, userIdsToInt64(draft.Mentions), draft.IdempotencyKey, time.Now().UTC())
	err = row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Files, &msg.ReplyTo, &msg.Mentions, &msg.CreatedAt, &msg.IdempotencyKey)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race against a concurrent send with the same idempotency
		// key; the unique index already resolved it, fetch the winner.
		tx.Rollback(ctx)
		if draft.IdempotencyKey == nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert message")
		}
		existing, err := r.bySenderIdempotencyKey(ctx, chatID, *draft.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperr.New(apperr.KindInternal, "idempotent insert conflict but no row found")
		}
		return existing, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert message")
	}

	recipients := make([]ids.UserId, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, m.UserID)
	}
	payload, err := json.Marshal(MessageCreatedPayload{
		ID: msg.ID, ChatID: msg.ChatID, SenderID: msg.SenderID, Content: msg.Content,
		Files: msg.Files, CreatedAt: msg.CreatedAt, ReplyTo: msg.ReplyTo,
		Mentions: msg.Mentions, Recipients: recipients,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "marshal outbox payload")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (chat_id, message_id, event_type, payload, created_at)
		VALUES ($1, $2, 'MessageCreated', $3, $4)`,
		msg.ChatID, msg.ID, payload, time.Now().UTC()); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "enqueue outbox row")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "commit transaction")
	}
	return &msg, nil
}

func (r *MessageRepo) bySenderIdempotencyKey(ctx context.Context, chatID ids.ChatId, key string) (*Message, error) {
	var msg Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, content, files, reply_to, mentions, created_at, idempotency_key
		FROM messages WHERE chat_id = $1 AND idempotency_key = $2`, chatID, key).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Files, &msg.ReplyTo, &msg.Mentions, &msg.CreatedAt, &msg.IdempotencyKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "lookup idempotency key")
	}
	return &msg, nil
}

func userIdsToInt64(u []ids.UserId) []int64 {
	out := make([]int64, len(u))
	for i, v := range u {
		out[i] = int64(v)
	}
	return out
}

// Edit replaces content for messageID. Caller must be the sender; the edit
// window is enforced here against created_at after loading the row.
func (r *MessageRepo) Edit(ctx context.Context, messageID ids.MessageId, senderID ids.UserId, newContent string) (*Message, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" || len(newContent) > maxMessageContentLen {
		return nil, apperr.New(apperr.KindValidation, "edited content must be non-empty and at most 5000 characters")
	}

	var msg Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, content, files, reply_to, mentions, created_at, deleted
		FROM messages WHERE id = $1`, messageID).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Files, &msg.ReplyTo, &msg.Mentions, &msg.CreatedAt, &msg.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindMessageNotFound, "message not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load message")
	}
	if msg.Deleted {
		return nil, apperr.New(apperr.KindMessageNotFound, "message has been deleted")
	}
	if msg.SenderID != senderID {
		return nil, apperr.New(apperr.KindRoleInsufficient, "only the sender may edit this message")
	}
	if time.Since(msg.CreatedAt) > r.editWindow {
		return nil, apperr.New(apperr.KindRoleInsufficient, "edit window has elapsed")
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3`, newContent, now, messageID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "update message content")
	}
	msg.Content = newContent
	msg.EditedAt = &now
	return &msg, nil
}

// Delete sets the tombstone flag. Caller must be the sender or an
// Owner/Admin of the chat (enforced by the service layer).
func (r *MessageRepo) Delete(ctx context.Context, messageID ids.MessageId) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET content = '', deleted = true WHERE id = $1`, messageID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "delete message")
	}
	return nil
}

// ByID loads a single message row, including tombstoned ones.
func (r *MessageRepo) ByID(ctx context.Context, messageID ids.MessageId) (*Message, error) {
	var msg Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, content, files, reply_to, mentions, created_at, edited_at, deleted, idempotency_key
		FROM messages WHERE id = $1`, messageID).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Files, &msg.ReplyTo, &msg.Mentions,
		&msg.CreatedAt, &msg.EditedAt, &msg.Deleted, &msg.IdempotencyKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindMessageNotFound, "message not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load message")
	}
	return &msg, nil
}

// ListByChat returns up to limit messages for chatID in id order, starting
// strictly after afterID (0 for the beginning of history).
func (r *MessageRepo) ListByChat(ctx context.Context, chatID ids.ChatId, afterID ids.MessageId, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, content, files, reply_to, mentions, created_at, edited_at, deleted, idempotency_key
		FROM messages WHERE chat_id = $1 AND id > $2
		ORDER BY id ASC LIMIT $3`, chatID, afterID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "list messages")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Files, &m.ReplyTo, &m.Mentions,
			&m.CreatedAt, &m.EditedAt, &m.Deleted, &m.IdempotencyKey); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "scan message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
