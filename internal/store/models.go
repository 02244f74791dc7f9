// Package store implements the chat & membership store and the
// message ingestion pipeline's persistence layer, backed by
// PostgreSQL via jackc/pgx/v5.
package store

import (
	"time"

	"github.com/fechatter/fechatter-go/internal/ids"
)

// UserStatus is the lifecycle state of a User row.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// ChatType is one of the four chat kinds the data model permits.
type ChatType string

const (
	ChatSingle         ChatType = "single"
	ChatGroup          ChatType = "group"
	ChatPrivateChannel ChatType = "private_channel"
	ChatPublicChannel  ChatType = "public_channel"
)

// MemberRole is a chat membership role.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Workspace is the tenancy boundary: it owns users and chats.
type Workspace struct {
	ID          ids.WorkspaceId
	Name        string
	OwnerUserID ids.UserId
	CreatedAt   time.Time
}

// User belongs to exactly one workspace.
type User struct {
	ID           ids.UserId
	Email        string
	FullName     string
	PasswordHash string
	Status       UserStatus
	WorkspaceID  ids.WorkspaceId
	CreatedAt    time.Time
}

// Chat is a conversation of one of four kinds.
type Chat struct {
	ID          ids.ChatId
	WorkspaceID ids.WorkspaceId
	Name        *string
	Type        ChatType
	Description *string
	CreatedBy   ids.UserId
	CreatedAt   time.Time
}

// ChatMember is a membership row, tombstoned rather than hard-deleted on
// removal so historical messages keep a resolvable sender.
type ChatMember struct {
	ChatID    ids.ChatId
	UserID    ids.UserId
	Role      MemberRole
	JoinedAt  time.Time
	RemovedAt *time.Time
}

// Active reports whether the membership row is still in effect.
func (m ChatMember) Active() bool { return m.RemovedAt == nil }

// Message is immutable save for the edit-window content replacement and the
// tombstone delete described in the data model.
type Message struct {
	ID             ids.MessageId
	ChatID         ids.ChatId
	SenderID       ids.UserId
	Content        string
	Files          []string
	ReplyTo        *ids.MessageId
	Mentions       []ids.UserId
	CreatedAt      time.Time
	EditedAt       *time.Time
	Deleted        bool
	IdempotencyKey *string
}

// RefreshToken is a rotating opaque credential; only its hash is ever
// persisted.
type RefreshToken struct {
	ID                int64
	UserID            ids.UserId
	TokenHash         string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
	Revoked           bool
	ReplacedBy        *int64
	UserAgent         string
	IP                string
	DeviceFingerprint string
}

// OutboxRow is a pending or sent entry in the transactional outbox that
// decouples message persistence from event-bus publication.
type OutboxRow struct {
	ID        int64
	ChatID    ids.ChatId
	MessageID ids.MessageId
	EventType string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}
