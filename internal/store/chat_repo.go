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

// ChatRepo implements the chat & membership store, grounded on the
// ShopMindAI chat-service's ChatRepository (prepared-statement-per-query
// pattern) adapted to pgxpool and this service's int64 nominal id types.
type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

// Ping reports database reachability for the health endpoint.
func (r *ChatRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateChat inserts the chat and its membership rows in one transaction,
// enforcing each chat type's membership-cardinality rules.
func (r *ChatRepo) CreateChat(ctx context.Context, workspaceID ids.WorkspaceId, createdBy ids.UserId, kind ChatType, name, description *string, members []ids.UserId) (*Chat, error) {
	if err := validateCardinality(kind, createdBy, members); err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if kind == ChatSingle {
		var existing ids.ChatId
		err := tx.QueryRow(ctx, `
			SELECT cm1.chat_id FROM chat_members cm1
			JOIN chat_members cm2 ON cm1.chat_id = cm2.chat_id
			JOIN chats c ON c.id = cm1.chat_id
			WHERE c.type = 'single' AND cm1.user_id = $1 AND cm2.user_id = $2
			LIMIT 1`, createdBy, members[0]).Scan(&existing)
		if err == nil {
			return nil, apperr.New(apperr.KindDuplicateSingleChat, "a single chat already exists between these users")
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "check existing single chat")
		}
	}

	var chat Chat
	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `
		INSERT INTO chats (workspace_id, name, type, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, workspace_id, name, type, description, created_by, created_at`,
		workspaceID, name, kind, description, createdBy, now,
	).Scan(&chat.ID, &chat.WorkspaceID, &chat.Name, &chat.Type, &chat.Description, &chat.CreatedBy, &chat.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert chat")
	}

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO chat_members (chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		chat.ID, createdBy, RoleOwner, now)
	for _, m := range members {
		if m == createdBy {
			continue
		}
		batch.Queue(`INSERT INTO chat_members (chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			chat.ID, m, RoleMember, now)
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert chat members")
		}
	}
	if err := br.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "close batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "commit transaction")
	}
	return &chat, nil
}

func validateCardinality(kind ChatType, createdBy ids.UserId, members []ids.UserId) error {
	v := &apperr.Violations{}
	seen := map[ids.UserId]bool{createdBy: true}
	for _, m := range members {
		if seen[m] {
			v.Add("members", "duplicate member in set")
		}
		seen[m] = true
	}
	switch kind {
	case ChatSingle:
		others := 0
		for _, m := range members {
			if m != createdBy {
				others++
			}
		}
		v.Require(others == 1, "members", "single chat requires exactly one other member")
		v.Require(len(members) == 1 && members[0] != createdBy, "members", "single chat cannot target self")
	case ChatGroup:
		v.Require(len(seen) >= 3, "members", "group chat requires at least three members including creator")
	case ChatPrivateChannel, ChatPublicChannel:
		// creator alone satisfies the >= 1 member invariant
	}
	return v.Err()
}

// AddMembers inserts membership rows for new_members, skipping any already
// present, and returns the set of users actually added (for event
// emission by the caller).
func (r *ChatRepo) AddMembers(ctx context.Context, chatID ids.ChatId, newMembers []ids.UserId) ([]ids.UserId, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	added := make([]ids.UserId, 0, len(newMembers))
	now := time.Now().UTC()
	for _, uid := range newMembers {
		tag, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chat_id, user_id) DO NOTHING`, chatID, uid, RoleMember, now)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "insert chat member")
		}
		if tag.RowsAffected() > 0 {
			added = append(added, uid)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "commit transaction")
	}
	return added, nil
}

// RemoveMembers never touches the chat's Owner: ownership must move
// through TransferOwnership first, so the WHERE clause excludes the
// owner role rather than trusting the caller to have checked. Returns
// the user ids actually removed, since targets naming the owner or an
// already-removed member are silently skipped.
func (r *ChatRepo) RemoveMembers(ctx context.Context, chatID ids.ChatId, targets []ids.UserId) ([]ids.UserId, error) {
	now := time.Now().UTC()
	rows, err := r.pool.Query(ctx, `
		UPDATE chat_members SET removed_at = $1
		WHERE chat_id = $2 AND user_id = ANY($3) AND removed_at IS NULL AND role <> $4
		RETURNING user_id`,
		now, chatID, targets, RoleOwner)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "remove chat members")
	}
	defer rows.Close()
	var removed []ids.UserId
	for rows.Next() {
		var uid ids.UserId
		if err := rows.Scan(&uid); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "scan removed member")
		}
		removed = append(removed, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "remove chat members")
	}
	return removed, nil
}

// Join is idempotent: a second join for an already-active member is a
// no-op rather than an error.
func (r *ChatRepo) Join(ctx context.Context, chatID ids.ChatId, userID ids.UserId) (joined bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET removed_at = NULL
		WHERE chat_members.removed_at IS NOT NULL`,
		chatID, userID, RoleMember, time.Now().UTC())
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "join chat")
	}
	return tag.RowsAffected() > 0, nil
}

// Leave is idempotent. The caller must already have verified the user is
// not the chat's owner.
func (r *ChatRepo) Leave(ctx context.Context, chatID ids.ChatId, userID ids.UserId) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chat_members SET removed_at = $1
		WHERE chat_id = $2 AND user_id = $3 AND removed_at IS NULL`,
		time.Now().UTC(), chatID, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "leave chat")
	}
	return nil
}

// TransferOwnership swaps the Owner role to target in one transaction.
func (r *ChatRepo) TransferOwnership(ctx context.Context, chatID ids.ChatId, currentOwner, target ids.UserId) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE chat_members SET role = $1
		WHERE chat_id = $2 AND user_id = $3 AND removed_at IS NULL`,
		RoleAdmin, chatID, currentOwner); err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "demote current owner")
	}
	tag, err := tx.Exec(ctx, `
		UPDATE chat_members SET role = $1
		WHERE chat_id = $2 AND user_id = $3 AND removed_at IS NULL`,
		RoleOwner, chatID, target)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseUnavailable, err, "promote target owner")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotMember, "transfer target is not a current chat member")
	}
	return tx.Commit(ctx)
}

// IsMember answers the authorization query the membership middleware depends on.
func (r *ChatRepo) IsMember(ctx context.Context, chatID ids.ChatId, userID ids.UserId) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND removed_at IS NULL)`,
		chatID, userID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "check membership")
	}
	return exists, nil
}

// Role returns the caller's role in chat, or an error if not a member.
func (r *ChatRepo) Role(ctx context.Context, chatID ids.ChatId, userID ids.UserId) (MemberRole, error) {
	var role MemberRole
	err := r.pool.QueryRow(ctx, `
		SELECT role FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND removed_at IS NULL`,
		chatID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.New(apperr.KindNotMember, "caller is not a member of this chat")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load role")
	}
	return role, nil
}

// Members returns every active member of chat.
func (r *ChatRepo) Members(ctx context.Context, chatID ids.ChatId) ([]ChatMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT chat_id, user_id, role, joined_at, removed_at
		FROM chat_members WHERE chat_id = $1 AND removed_at IS NULL`, chatID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "list members")
	}
	defer rows.Close()

	var out []ChatMember
	for rows.Next() {
		var m ChatMember
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Role, &m.JoinedAt, &m.RemovedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "scan member")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChatSummary is one row of list_user_chats: the chat plus its last
// message and the caller's unread count.
type ChatSummary struct {
	Chat          Chat
	LastMessageID *ids.MessageId
	LastMessageAt *time.Time
	UnreadCount   int
}

// ListUserChats returns every chat userID belongs to, most recently active
// first, each annotated with its last message and unread count.
func (r *ChatRepo) ListUserChats(ctx context.Context, userID ids.UserId) ([]ChatSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.workspace_id, c.name, c.type, c.description, c.created_by, c.created_at,
		       lm.id, lm.created_at,
		       COALESCE((SELECT COUNT(*) FROM messages m
		                 WHERE m.chat_id = c.id AND m.deleted = false
		                   AND m.id > COALESCE(rc.last_read_message_id, 0)), 0) AS unread
		FROM chat_members cm
		JOIN chats c ON c.id = cm.chat_id
		LEFT JOIN LATERAL (
			SELECT id, created_at FROM messages
			WHERE chat_id = c.id AND deleted = false
			ORDER BY id DESC LIMIT 1
		) lm ON true
		LEFT JOIN read_cursors rc ON rc.chat_id = c.id AND rc.user_id = cm.user_id
		WHERE cm.user_id = $1 AND cm.removed_at IS NULL
		ORDER BY COALESCE(lm.created_at, c.created_at) DESC`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "list user chats")
	}
	defer rows.Close()

	var out []ChatSummary
	for rows.Next() {
		var s ChatSummary
		if err := rows.Scan(
			&s.Chat.ID, &s.Chat.WorkspaceID, &s.Chat.Name, &s.Chat.Type, &s.Chat.Description, &s.Chat.CreatedBy, &s.Chat.CreatedAt,
			&s.LastMessageID, &s.LastMessageAt, &s.UnreadCount,
		); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "scan chat summary")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ChatByID loads a single chat row.
func (r *ChatRepo) ChatByID(ctx context.Context, chatID ids.ChatId) (*Chat, error) {
	var c Chat
	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, name, type, description, created_by, created_at
		FROM chats WHERE id = $1`, chatID).Scan(
		&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.Description, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindChatNotFound, "chat not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "load chat")
	}
	return &c, nil
}
