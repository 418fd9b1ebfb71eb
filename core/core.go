/*
Package core is the backend state authority for a multi-channel,
multi-user chat service.

It tracks identities, channel membership, permission levels, bans, and the
ordered history of channel and private messages, and it reconciles a
reconnecting client's view of the world with what it missed while
disconnected.

# Components

  - IdentityRegistry — nick aliases and stable user identities
  - ChannelRegistry — channels by unique name, created lazily on first join
  - BanRegistry — server-wide and per-channel ban masks, soft-revoked
  - MembershipAuthority — per (channel, identity) permission and join state
  - ChannelEventLog — append-only, densely indexed per-channel event order
  - DirectMessageLog — globally ordered private-message store
  - CatchUpCoordinator — acknowledge-then-advance replay for reconnects

# Ordering and atomicity

Every channel carries its own strictly increasing, gap-free event index,
allocated under a per-channel mutex inside the transaction that also
re-checks the sender's permission and ban state. A committed grant, revoke,
or ban therefore takes effect for every append initiated after it, and an
append that committed first is never retroactively invalidated. Two
channels append fully in parallel.

Catch-up reads never block appends: a reconnecting member observes a
snapshot up to some index while new events keep arriving beyond it, and
cursors advance only on explicit acknowledgement, giving at-least-once
delivery with no silent loss.

The package assumes one process appends to a given channel at a time; the
allocating transaction still detects a conflicting writer through the
store's unique (channel, index) key and retries with bounded backoff.

# Errors

Every operation returns a StateError tagged with a Code. Semantic codes
(Forbidden, Banned, InsufficientPrivilege, NotFound, NotMember, AliasTaken)
surface immediately; StoreConflict and StoreUnavailable are retried
internally before being surfaced.
*/
package core

import (
	"time"

	"gorm.io/gorm"
)

// Options tunes a Core. The zero value selects the defaults.
type Options struct {
	// CatchUpBatchLimit bounds one catch-up batch per channel. Defaults
	// to 500.
	CatchUpBatchLimit int

	// RetryAttempts and RetryBackoff bound the internal retries of
	// transient store failures.
	RetryAttempts int
	RetryBackoff  time.Duration

	// Now overrides the clock, used by tests for ban expiry and
	// direct-message keys.
	Now func() time.Time
}

// Core wires the state components over one shared store and exposes the
// operation surface consumed by the connection layer.
type Core struct {
	db *gorm.DB

	Identities *IdentityRegistry
	Channels   *ChannelRegistry
	Bans       *BanRegistry
	Members    *MembershipAuthority
	Events     *ChannelEventLog
	Direct     *DirectMessageLog
	CatchUp    *CatchUpCoordinator
}

// New builds a Core on an opened store.
func New(db *gorm.DB, opts Options) *Core {
	retry := defaultRetryPolicy()
	if opts.RetryAttempts > 0 {
		retry.Attempts = opts.RetryAttempts
	}
	if opts.RetryBackoff > 0 {
		retry.Backoff = opts.RetryBackoff
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Core{
		db:         db,
		Identities: &IdentityRegistry{db: db, retry: retry},
		Channels:   &ChannelRegistry{db: db},
		Bans:       &BanRegistry{db: db, retry: retry, now: now},
		Direct:     &DirectMessageLog{db: db, retry: retry, now: now},
	}

	c.Events = &ChannelEventLog{db: db, retry: retry, bans: c.Bans}
	c.Members = &MembershipAuthority{
		db:       db,
		retry:    retry,
		channels: c.Channels,
		bans:     c.Bans,
		events:   c.Events,
	}
	c.CatchUp = &CatchUpCoordinator{
		db:         db,
		retry:      retry,
		channels:   c.Channels,
		members:    c.Members,
		bans:       c.Bans,
		events:     c.Events,
		direct:     c.Direct,
		batchLimit: opts.CatchUpBatchLimit,
	}

	return c
}

// Join adds an identity to a channel, creating it lazily on first join.
func (c *Core) Join(channelName string, identityID uint) (*Channel, error) {
	return c.Members.Join(channelName, identityID)
}

// Part removes an identity from a channel while preserving its membership
// row, level, and cursor for a future rejoin.
func (c *Core) Part(channelName string, identityID uint) error {
	channel, err := c.Channels.GetByName(channelName)
	if err != nil {
		return err
	}
	return c.Members.Part(channel.ID, identityID)
}

// PostMessage appends a chat message to a channel's event log and returns
// the allocated index.
func (c *Core) PostMessage(channelName string, senderID uint, payload string) (int64, error) {
	channel, err := c.Channels.GetByName(channelName)
	if err != nil {
		return 0, err
	}
	return c.Events.Append(channel.ID, &senderID, KindMessage, payload)
}

// PostNotice appends a notice under the same authorization rules as a
// message.
func (c *Core) PostNotice(channelName string, senderID uint, payload string) (int64, error) {
	channel, err := c.Channels.GetByName(channelName)
	if err != nil {
		return 0, err
	}
	return c.Events.Append(channel.ID, &senderID, KindNotice, payload)
}

// GrantPermission raises a member's level, emitting a permission-change
// event atomically with the update.
func (c *Core) GrantPermission(channelName string, actorID, targetID uint, level Level) (int64, error) {
	channel, err := c.Channels.GetByName(channelName)
	if err != nil {
		return 0, err
	}
	return c.Members.Grant(channel.ID, actorID, targetID, level)
}

// RevokePermission lowers a member's level under the same rules as
// GrantPermission.
func (c *Core) RevokePermission(channelName string, actorID, targetID uint, level Level) (int64, error) {
	channel, err := c.Channels.GetByName(channelName)
	if err != nil {
		return 0, err
	}
	return c.Members.Revoke(channel.ID, actorID, targetID, level)
}

// AddBan records a ban; an empty channelName scopes it server-wide.
func (c *Core) AddBan(mask string, requesterID uint, reason, channelName string, expires *time.Time) (uint, error) {
	var channelID *uint
	if channelName != "" {
		channel, err := c.Channels.GetByName(channelName)
		if err != nil {
			return 0, err
		}
		channelID = &channel.ID
	}
	return c.Bans.AddBan(mask, requesterID, reason, channelID, expires)
}

// RevokeBan soft-revokes a ban.
func (c *Core) RevokeBan(banID, actorID uint) error {
	return c.Bans.Revoke(banID, actorID)
}

// SendDirectMessage stores a private message and returns its ordering key.
func (c *Core) SendDirectMessage(senderID, receiverID uint, payload string) (int64, error) {
	return c.Direct.Send(senderID, receiverID, KindMessage, payload)
}

// OnReconnect builds the delivery plan of everything the identity missed.
func (c *Core) OnReconnect(identityID uint) (*DeliveryPlan, error) {
	return c.CatchUp.OnReconnect(identityID)
}

// Acknowledge confirms delivery of channel events up to an index.
func (c *Core) Acknowledge(identityID uint, channelName string, upTo int64) error {
	channel, err := c.Channels.GetByName(channelName)
	if err != nil {
		return err
	}
	return c.CatchUp.Acknowledge(identityID, channel.ID, upTo)
}

// AcknowledgeDirect confirms delivery of direct messages up to a key.
func (c *Core) AcknowledgeDirect(identityID uint, upTo int64) error {
	return c.CatchUp.AcknowledgeDirect(identityID, upTo)
}

// EnsureOperator marks the identity owning a nick as a server operator.
// Used at startup to bootstrap the operators named in the configuration.
func (c *Core) EnsureOperator(nick string) error {
	identity, err := c.Identities.ResolveAlias(nick)
	if err != nil {
		return err
	}
	return c.Identities.retry.run(func() error {
		return c.db.Model(&Identity{}).Where("id = ?", identity.ID).
			Update("operator", true).Error
	})
}
