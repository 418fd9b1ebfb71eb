package core

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/presbrey/ircstate/metrics"
)

// BanRegistry stores and evaluates server-wide and per-channel bans. Bans
// are never physically deleted; revocation and expiry are evaluated lazily
// at query time.
type BanRegistry struct {
	db    *gorm.DB
	retry retryPolicy
	now   func() time.Time
}

// AddBan records a ban. Server-wide bans (channelID nil) require the
// requester to be a server operator; channel bans additionally accept the
// channel owner.
func (r *BanRegistry) AddBan(mask string, requesterID uint, reason string, channelID *uint, expires *time.Time) (uint, error) {
	if !isValidMask(mask) {
		return 0, newError(CodeForbidden, "malformed ban mask: %s", mask)
	}

	ban := Ban{
		Mask:        mask,
		ChannelID:   channelID,
		RequesterID: requesterID,
		Reason:      reason,
		ExpiresAt:   expires,
	}

	err := r.retry.run(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			if err := r.requireBanPrivilege(tx, requesterID, channelID); err != nil {
				return err
			}
			return tx.Create(&ban).Error
		})
	})
	if err != nil {
		return 0, err
	}

	log.Printf("ban %d added by identity %d: %s (%s)", ban.ID, requesterID, mask, reason)
	return ban.ID, nil
}

// Revoke soft-deletes a ban. Revoking an already revoked ban is a no-op.
func (r *BanRegistry) Revoke(banID, actorID uint) error {
	return r.retry.run(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			var ban Ban
			err := tx.First(&ban, banID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(CodeNotFound, "no such ban: %d", banID)
			}
			if err != nil {
				return err
			}

			if err := r.requireBanPrivilege(tx, actorID, ban.ChannelID); err != nil {
				return err
			}

			if ban.Revoked {
				return nil
			}
			return tx.Model(&ban).Update("revoked", true).Error
		})
	})
}

// IsBanned matches the identity's current nick!user@host against every
// effective mask in scope. A nil channelID checks server-wide bans only; a
// channel id checks both server-wide and that channel's bans.
func (r *BanRegistry) IsBanned(identityID uint, channelID *uint) (bool, error) {
	banned, err := r.isBanned(r.db, identityID, channelID)
	if err != nil {
		return false, classifyStoreError(err)
	}
	return banned, nil
}

// isBanned is the transaction-friendly variant used inside append and join
// transactions so ban enforcement is atomic with index allocation.
func (r *BanRegistry) isBanned(tx *gorm.DB, identityID uint, channelID *uint) (bool, error) {
	var identity Identity
	err := tx.First(&identity, identityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, newError(CodeNotFound, "unknown identity: %d", identityID)
	}
	if err != nil {
		return false, err
	}

	query := tx.Where("revoked = ?", false)
	if channelID != nil {
		query = query.Where("channel_id IS NULL OR channel_id = ?", *channelID)
	} else {
		query = query.Where("channel_id IS NULL")
	}

	var bans []Ban
	if err := query.Find(&bans).Error; err != nil {
		return false, err
	}

	now := r.now()
	for i := range bans {
		if !bans[i].Effective(now) {
			continue
		}
		if matchesMask(bans[i].Mask, identity.Nick, identity.Username, identity.Host) {
			metrics.BanDenials.Inc()
			return true, nil
		}
	}
	return false, nil
}

// List returns the audit view of the ban table for a scope, revoked and
// expired entries included.
func (r *BanRegistry) List(channelID *uint) ([]Ban, error) {
	query := r.db.Order("id ASC")
	if channelID != nil {
		query = query.Where("channel_id = ?", *channelID)
	} else {
		query = query.Where("channel_id IS NULL")
	}

	var bans []Ban
	if err := query.Find(&bans).Error; err != nil {
		return nil, classifyStoreError(err)
	}
	return bans, nil
}

func (r *BanRegistry) requireBanPrivilege(tx *gorm.DB, actorID uint, channelID *uint) error {
	var actor Identity
	err := tx.First(&actor, actorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(CodeNotFound, "unknown identity: %d", actorID)
	}
	if err != nil {
		return err
	}
	if actor.Operator {
		return nil
	}

	if channelID != nil {
		var membership Membership
		err := tx.Where("channel_id = ? AND identity_id = ?", *channelID, actorID).First(&membership).Error
		if err == nil && membership.Level >= LevelOwner {
			return nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	return newError(CodeInsufficientPrivilege, "identity %d may not manage bans in this scope", actorID)
}
