package core

import (
	"database/sql"
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/presbrey/ircstate/metrics"
)

// defaultBatchLimit is the replay window for one catch-up call.
const defaultBatchLimit = 500

// CatchUpCoordinator reconciles a reconnecting member's view with the events
// it missed. Delivery is at-least-once: cursors advance only on explicit
// acknowledgement, so a connection dropped mid-batch replays the same tail
// on the next reconnect instead of losing it.
type CatchUpCoordinator struct {
	db    *gorm.DB
	retry retryPolicy

	channels   *ChannelRegistry
	members    *MembershipAuthority
	bans       *BanRegistry
	events     *ChannelEventLog
	direct     *DirectMessageLog
	batchLimit int
}

// ChannelDelta is one channel's slice of missed events.
type ChannelDelta struct {
	ChannelID   uint           `json:"channel_id"`
	ChannelName string         `json:"channel"`
	Cursor      int64          `json:"cursor"`
	Events      []ChannelEvent `json:"events"`
	More        bool           `json:"more"`
}

// DeliveryPlan is everything a reconnecting identity has missed, one batch
// per channel plus the unread inbox. The ID correlates acknowledgement calls
// in logs.
type DeliveryPlan struct {
	ID         uuid.UUID       `json:"id"`
	IdentityID uint            `json:"identity_id"`
	Channels   []ChannelDelta  `json:"channels"`
	Direct     []DirectMessage `json:"direct"`
	DirectMore bool            `json:"direct_more"`
}

// OnReconnect builds the delivery plan for an identity. Channels where the
// member has become banned since it disconnected are force-parted and
// suppressed instead of replayed.
func (c *CatchUpCoordinator) OnReconnect(identityID uint) (*DeliveryPlan, error) {
	if err := c.db.First(&Identity{}, identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "unknown identity: %d", identityID)
		}
		return nil, classifyStoreError(err)
	}

	limit := c.batchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	memberships, err := c.members.ActiveMemberships(identityID)
	if err != nil {
		return nil, err
	}

	plan := &DeliveryPlan{
		ID:         uuid.New(),
		IdentityID: identityID,
	}

	for _, m := range memberships {
		banned, err := c.bans.IsBanned(identityID, &m.ChannelID)
		if err != nil {
			return nil, err
		}
		if banned {
			if err := c.members.forcePart(m.ChannelID, identityID, "banned"); err != nil {
				return nil, err
			}
			log.Printf("catch-up %s: identity %d force-parted from channel %d (banned)",
				plan.ID, identityID, m.ChannelID)
			continue
		}

		channel, err := c.channels.Get(m.ChannelID)
		if err != nil {
			return nil, err
		}

		events, err := c.events.FetchSince(m.ChannelID, m.Cursor, limit)
		if err != nil {
			return nil, err
		}

		plan.Channels = append(plan.Channels, ChannelDelta{
			ChannelID:   m.ChannelID,
			ChannelName: channel.Name,
			Cursor:      m.Cursor,
			Events:      events,
			More:        len(events) == limit,
		})
		metrics.CatchUpEvents.Add(float64(len(events)))
	}

	directCursor, err := c.directCursor(identityID)
	if err != nil {
		return nil, err
	}
	plan.Direct, err = c.direct.FetchInbox(identityID, directCursor, limit)
	if err != nil {
		return nil, err
	}
	plan.DirectMore = len(plan.Direct) == limit

	metrics.CatchUpBatches.Inc()
	return plan, nil
}

// Acknowledge advances a channel cursor to the index of the last event the
// caller confirmed as delivered. Cursors only move forward, and never past
// the log's highest allocated index; a cursor beyond the log would silently
// swallow events appended afterwards.
func (c *CatchUpCoordinator) Acknowledge(identityID, channelID uint, upTo int64) error {
	return c.retry.run(func() error {
		return c.db.Transaction(func(tx *gorm.DB) error {
			var membership Membership
			err := tx.Where("channel_id = ? AND identity_id = ?", channelID, identityID).
				First(&membership).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(CodeNotMember, "identity %d is not a member of channel %d", identityID, channelID)
			}
			if err != nil {
				return err
			}

			var max sql.NullInt64
			err = tx.Model(&ChannelEvent{}).
				Where("channel_id = ?", channelID).
				Select("MAX(idx)").
				Scan(&max).Error
			if err != nil {
				return err
			}

			cursor := upTo
			if cursor > max.Int64 {
				cursor = max.Int64
			}
			if cursor <= membership.Cursor {
				return nil
			}
			return tx.Model(&membership).Update("cursor", cursor).Error
		})
	})
}

// AcknowledgeDirect advances the identity's direct-message cursor.
func (c *CatchUpCoordinator) AcknowledgeDirect(identityID uint, upTo int64) error {
	return c.retry.run(func() error {
		return c.db.Transaction(func(tx *gorm.DB) error {
			var cursor DirectCursor
			err := tx.Where("identity_id = ?", identityID).First(&cursor).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(&DirectCursor{IdentityID: identityID, Key: upTo}).Error
			}
			if err != nil {
				return err
			}
			if upTo <= cursor.Key {
				return nil
			}
			return tx.Model(&cursor).Update("key", upTo).Error
		})
	})
}

func (c *CatchUpCoordinator) directCursor(identityID uint) (int64, error) {
	var cursor DirectCursor
	err := c.db.Where("identity_id = ?", identityID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, classifyStoreError(err)
	}
	return cursor.Key, nil
}
