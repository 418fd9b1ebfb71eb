package core

import (
	"encoding/json"
	"errors"
	"log"

	"gorm.io/gorm"
)

// MembershipAuthority owns the per (channel, identity) permission and
// join/leave state. Membership rows, once created, are never deleted;
// parting flips Active off while preserving Level and Cursor.
type MembershipAuthority struct {
	db    *gorm.DB
	retry retryPolicy

	channels *ChannelRegistry
	bans     *BanRegistry
	events   *ChannelEventLog
}

// PermissionChange is the payload of a permission-change channel event.
type PermissionChange struct {
	TargetID uint   `json:"target"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Join adds an identity to a channel, creating the channel lazily on the
// first successful join. The ban check runs before creation, so a denied
// join leaves no channel behind and the creator-owner bootstrap stays with
// the first member actually admitted. A rejoin reactivates the preserved row
// without touching level or cursor, and joining while already active is a
// no-op.
func (a *MembershipAuthority) Join(channelName string, identityID uint) (*Channel, error) {
	if !isValidChannelName(channelName) {
		return nil, newError(CodeNotFound, "invalid channel name: %s", channelName)
	}

	var channel *Channel
	err := a.retry.run(func() error {
		return a.db.Transaction(func(tx *gorm.DB) error {
			var err error
			channel, err = a.channels.findTx(tx, channelName)
			if err != nil {
				return err
			}

			// An unknown name has no channel scope yet, so only
			// server-wide bans can apply.
			var scope *uint
			if channel != nil {
				scope = &channel.ID
			}
			banned, err := a.bans.isBanned(tx, identityID, scope)
			if err != nil {
				return err
			}
			if banned {
				return newError(CodeBanned, "identity %d is banned from %s", identityID, channelName)
			}

			created := channel == nil
			if created {
				channel, err = a.channels.createTx(tx, channelName)
				if err != nil {
					return err
				}
			}

			var membership Membership
			err = tx.Where("channel_id = ? AND identity_id = ?", channel.ID, identityID).
				First(&membership).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				level := LevelNone
				if created {
					level = LevelOwner
				}
				return tx.Create(&Membership{
					ChannelID:  channel.ID,
					IdentityID: identityID,
					Level:      level,
					Active:     true,
				}).Error
			case err != nil:
				return err
			case membership.Active:
				return nil // already joined
			default:
				return tx.Model(&membership).Update("active", true).Error
			}
		})
	})
	if err != nil {
		return nil, err
	}

	return channel, nil
}

// Part deactivates a membership. Parting an already inactive membership is a
// no-op; parting without a membership row is NotMember.
func (a *MembershipAuthority) Part(channelID, identityID uint) error {
	return a.retry.run(func() error {
		return a.db.Transaction(func(tx *gorm.DB) error {
			var membership Membership
			err := tx.Where("channel_id = ? AND identity_id = ?", channelID, identityID).
				First(&membership).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(CodeNotMember, "identity %d is not a member of channel %d", identityID, channelID)
			}
			if err != nil {
				return err
			}
			if !membership.Active {
				return nil
			}
			return tx.Model(&membership).Update("active", false).Error
		})
	})
}

// Grant raises (or sets) a member's level. The actor's level must strictly
// exceed both the target's current level and the requested one, which rules
// out self- and peer-escalation. The level update and the emitted
// permission-change event commit in one transaction.
func (a *MembershipAuthority) Grant(channelID, actorID, targetID uint, newLevel Level) (int64, error) {
	return a.changeLevel(channelID, actorID, targetID, newLevel)
}

// Revoke lowers a member's level under the same strict-excess rule as Grant.
func (a *MembershipAuthority) Revoke(channelID, actorID, targetID uint, newLevel Level) (int64, error) {
	return a.changeLevel(channelID, actorID, targetID, newLevel)
}

func (a *MembershipAuthority) changeLevel(channelID, actorID, targetID uint, newLevel Level) (int64, error) {
	if !newLevel.Valid() {
		return 0, newError(CodeInsufficientPrivilege, "unknown permission level: %d", newLevel)
	}

	// The change emits a channel event, so it contends on the channel's
	// index allocation like any other append.
	lock := a.events.locks.acquire(channelID)
	defer lock.Unlock()

	var index int64
	err := a.retry.run(func() error {
		return a.db.Transaction(func(tx *gorm.DB) error {
			var actor Membership
			err := tx.Where("channel_id = ? AND identity_id = ?", channelID, actorID).
				First(&actor).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			actorLevel := LevelNone
			if err == nil && actor.Active {
				actorLevel = actor.Level
			}

			var target Membership
			err = tx.Where("channel_id = ? AND identity_id = ?", channelID, targetID).
				First(&target).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(CodeNotMember, "identity %d is not a member of channel %d", targetID, channelID)
			}
			if err != nil {
				return err
			}

			if actorLevel <= target.Level || actorLevel <= newLevel {
				return newError(CodeInsufficientPrivilege,
					"level %s may not set a %s member to %s", actorLevel, target.Level, newLevel)
			}

			payload, err := json.Marshal(PermissionChange{
				TargetID: targetID,
				From:     target.Level.String(),
				To:       newLevel.String(),
			})
			if err != nil {
				return err
			}

			if err := tx.Model(&target).Update("level", newLevel).Error; err != nil {
				return err
			}

			index, err = a.events.appendTx(tx, channelID, &actorID, KindPermissionChange, string(payload))
			return err
		})
	})
	if err != nil {
		return 0, err
	}

	log.Printf("channel %d: identity %d set identity %d to %s (event %d)",
		channelID, actorID, targetID, newLevel, index)
	return index, nil
}

// CheckPermission compares a member's level against a required one. An
// absent membership counts as level none.
func (a *MembershipAuthority) CheckPermission(channelID, identityID uint, required Level) (bool, error) {
	membership, err := a.Get(channelID, identityID)
	if IsCode(err, CodeNotMember) {
		return required <= LevelNone, nil
	}
	if err != nil {
		return false, err
	}
	return membership.Level >= required, nil
}

// Get loads one membership row.
func (a *MembershipAuthority) Get(channelID, identityID uint) (*Membership, error) {
	var membership Membership
	err := a.db.Where("channel_id = ? AND identity_id = ?", channelID, identityID).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeNotMember, "identity %d is not a member of channel %d", identityID, channelID)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return &membership, nil
}

// ActiveMemberships returns every channel the identity is currently joined
// to, in channel order.
func (a *MembershipAuthority) ActiveMemberships(identityID uint) ([]Membership, error) {
	var memberships []Membership
	err := a.db.Where("identity_id = ? AND active = ?", identityID, true).
		Order("channel_id ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return memberships, nil
}

// forcePart deactivates a banned member and records a part event in the
// channel's log. Used by catch-up when a reconnect finds a now-effective ban.
func (a *MembershipAuthority) forcePart(channelID, identityID uint, reason string) error {
	lock := a.events.locks.acquire(channelID)
	defer lock.Unlock()

	return a.retry.run(func() error {
		return a.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&Membership{}).
				Where("channel_id = ? AND identity_id = ? AND active = ?", channelID, identityID, true).
				Update("active", false)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}

			_, err := a.events.appendTx(tx, channelID, &identityID, KindPart, reason)
			return err
		})
	})
}
