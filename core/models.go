package core

import "time"

// EventKind distinguishes the entries of a channel event log and the direct
// message store.
type EventKind string

const (
	KindMessage          EventKind = "message"
	KindNotice           EventKind = "notice"
	KindJoin             EventKind = "join"
	KindPart             EventKind = "part"
	KindPermissionChange EventKind = "permission-change"
)

// Identity is a registered user. Rows are never deleted while history
// references them.
type Identity struct {
	ID           uint   `gorm:"primaryKey"`
	Nick         string `gorm:"size:64;index"` // current nick, duplicated from the alias table for mask matching
	Username     string `gorm:"size:64"`
	Host         string `gorm:"size:255"`
	PasswordHash string `gorm:"size:128"`
	Operator     bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
}

// NickAlias maps a nick to exactly one identity. Aliases are unique
// server-wide.
type NickAlias struct {
	ID         uint   `gorm:"primaryKey"`
	Nick       string `gorm:"size:64;uniqueIndex"`
	IdentityID uint   `gorm:"not null;index"`
	CreatedAt  time.Time
}

// Channel is created lazily on the first successful join to an unknown name.
type Channel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:64;uniqueIndex"`
	CreatedAt time.Time
}

// Membership is the per (channel, identity) permission and catch-up state.
// Rows are never deleted: Active=false represents "parted" while preserving
// Cursor and Level for a future rejoin.
type Membership struct {
	ChannelID  uint  `gorm:"primaryKey;autoIncrement:false"`
	IdentityID uint  `gorm:"primaryKey;autoIncrement:false"`
	Level      Level `gorm:"not null;default:0"`
	Active     bool  `gorm:"not null;default:false"`
	Cursor     int64 `gorm:"not null;default:0"` // last acknowledged event index
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChannelEvent is one entry of a channel's append-only log. Within a channel,
// Index is dense and strictly increasing from 1; it is the sole source of
// channel-local order.
type ChannelEvent struct {
	ChannelID uint      `gorm:"primaryKey;autoIncrement:false"`
	Index     int64     `gorm:"primaryKey;autoIncrement:false;column:idx"`
	SenderID  *uint     `gorm:"index"` // nil for system-generated events
	Kind      EventKind `gorm:"size:32;not null"`
	Payload   string
	CreatedAt time.Time
}

// DirectMessage is one entry of the private message store. Key is globally
// unique and monotonic; inboxes are read per receiver in key order.
type DirectMessage struct {
	Key        int64     `gorm:"primaryKey;autoIncrement:false"`
	SenderID   uint      `gorm:"not null;index"`
	ReceiverID uint      `gorm:"not null;index:idx_direct_inbox,priority:1"`
	Kind       EventKind `gorm:"size:32;not null"`
	Payload    string
	CreatedAt  time.Time
}

// DirectCursor tracks the last direct-message key an identity has
// acknowledged. Owned by the catch-up coordinator.
type DirectCursor struct {
	IdentityID uint  `gorm:"primaryKey;autoIncrement:false"`
	Key        int64 `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

// Ban is never physically deleted; revocation is a soft state transition so
// the audit trail survives. A nil ChannelID scopes the ban server-wide.
type Ban struct {
	ID          uint   `gorm:"primaryKey"`
	Mask        string `gorm:"size:255;not null;index"`
	ChannelID   *uint  `gorm:"index"`
	RequesterID uint   `gorm:"not null"`
	Reason      string `gorm:"size:255"`
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Revoked     bool `gorm:"not null;default:false"`
}

// Effective reports whether the ban currently applies.
func (b *Ban) Effective(now time.Time) bool {
	if b.Revoked {
		return false
	}
	if b.ExpiresAt != nil && !now.Before(*b.ExpiresAt) {
		return false
	}
	return true
}

func allModels() []interface{} {
	return []interface{}{
		&Identity{},
		&NickAlias{},
		&Channel{},
		&Membership{},
		&ChannelEvent{},
		&DirectMessage{},
		&DirectCursor{},
		&Ban{},
	}
}
