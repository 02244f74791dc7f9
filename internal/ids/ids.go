// Package ids defines the nominal identifier types that cross the whole
// system: WorkspaceId, UserId, ChatId and MessageId. They are all backed by
// int64 but are distinct Go types so a function expecting one can never
// silently accept another.
package ids

import "strconv"

// WorkspaceId identifies a tenancy boundary.
type WorkspaceId int64

// UserId identifies a user, globally unique, owned by exactly one workspace.
type UserId int64

// ChatId identifies a chat of any kind (single/group/private/public).
type ChatId int64

// MessageId identifies a message, monotonic and non-decreasing per chat.
type MessageId int64

func (w WorkspaceId) String() string { return strconv.FormatInt(int64(w), 10) }
func (u UserId) String() string      { return strconv.FormatInt(int64(u), 10) }
func (c ChatId) String() string      { return strconv.FormatInt(int64(c), 10) }
func (m MessageId) String() string   { return strconv.FormatInt(int64(m), 10) }

// Zero reports whether the id was never assigned.
func (w WorkspaceId) Zero() bool { return w == 0 }
func (u UserId) Zero() bool      { return u == 0 }
func (c ChatId) Zero() bool      { return c == 0 }
func (m MessageId) Zero() bool   { return m == 0 }
