package core

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// IdentityRegistry resolves nick aliases to stable identities and owns every
// write to the identity and alias tables.
type IdentityRegistry struct {
	db    *gorm.DB
	retry retryPolicy
}

// Register creates a new identity owning the given nick. The password is
// stored as a bcrypt hash; verification belongs to the connection layer.
func (r *IdentityRegistry) Register(nick, username, password string) (*Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, wrapError(CodeStoreUnavailable, err, "failed to hash credential")
	}

	identity := &Identity{
		Nick:         nick,
		Username:     username,
		PasswordHash: string(hash),
	}

	err = r.retry.run(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			var existing NickAlias
			err := tx.Where("nick = ?", nick).First(&existing).Error
			if err == nil {
				return newError(CodeAliasTaken, "nick %s is already registered", nick)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			if err := tx.Create(identity).Error; err != nil {
				return err
			}
			return tx.Create(&NickAlias{Nick: nick, IdentityID: identity.ID}).Error
		})
	})
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// ResolveAlias maps a nick to its identity.
func (r *IdentityRegistry) ResolveAlias(nick string) (*Identity, error) {
	var alias NickAlias
	err := r.db.Where("nick = ?", nick).First(&alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeNotFound, "unknown nick: %s", nick)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}

	return r.Get(alias.IdentityID)
}

// Get loads an identity by id.
func (r *IdentityRegistry) Get(id uint) (*Identity, error) {
	var identity Identity
	err := r.db.First(&identity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeNotFound, "unknown identity: %d", id)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return &identity, nil
}

// RegisterAlias attaches another nick to an existing identity. Idempotent
// when the identity already owns the nick; AliasTaken when another identity
// does. The newest alias becomes the identity's current nick.
func (r *IdentityRegistry) RegisterAlias(identityID uint, nick string) error {
	return r.retry.run(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&Identity{}, identityID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return newError(CodeNotFound, "unknown identity: %d", identityID)
				}
				return err
			}

			var existing NickAlias
			err := tx.Where("nick = ?", nick).First(&existing).Error
			switch {
			case err == nil && existing.IdentityID == identityID:
				// already owned, fall through to refresh the current nick
			case err == nil:
				return newError(CodeAliasTaken, "nick %s is owned by another identity", nick)
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&NickAlias{Nick: nick, IdentityID: identityID}).Error; err != nil {
					return err
				}
			default:
				return err
			}

			return tx.Model(&Identity{}).Where("id = ?", identityID).
				Update("nick", nick).Error
		})
	})
}

// RemoveAlias detaches a nick. Only the owning identity or a server operator
// may remove it, and an identity's last alias is never removed.
func (r *IdentityRegistry) RemoveAlias(actorID, identityID uint, nick string) error {
	return r.retry.run(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			var actor Identity
			if err := tx.First(&actor, actorID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return newError(CodeNotFound, "unknown identity: %d", actorID)
				}
				return err
			}
			if actorID != identityID && !actor.Operator {
				return newError(CodeForbidden, "only the owner or a server operator may remove an alias")
			}

			var alias NickAlias
			err := tx.Where("nick = ? AND identity_id = ?", nick, identityID).First(&alias).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(CodeNotFound, "identity %d does not own nick %s", identityID, nick)
			}
			if err != nil {
				return err
			}

			var count int64
			if err := tx.Model(&NickAlias{}).Where("identity_id = ?", identityID).Count(&count).Error; err != nil {
				return err
			}
			if count <= 1 {
				return newError(CodeForbidden, "cannot remove the last alias of identity %d", identityID)
			}

			return tx.Delete(&alias).Error
		})
	})
}

// SetHost records the identity's current host, used for ban mask matching.
func (r *IdentityRegistry) SetHost(identityID uint, host string) error {
	return r.retry.run(func() error {
		res := r.db.Model(&Identity{}).Where("id = ?", identityID).Update("host", host)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return newError(CodeNotFound, "unknown identity: %d", identityID)
		}
		return nil
	})
}

// SetOperator toggles the server-operator flag. Only an existing server
// operator may do so.
func (r *IdentityRegistry) SetOperator(actorID, identityID uint, operator bool) error {
	return r.retry.run(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			var actor Identity
			if err := tx.First(&actor, actorID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return newError(CodeNotFound, "unknown identity: %d", actorID)
				}
				return err
			}
			if !actor.Operator {
				return newError(CodeInsufficientPrivilege, "only a server operator may grant operator status")
			}

			res := tx.Model(&Identity{}).Where("id = ?", identityID).Update("operator", operator)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return newError(CodeNotFound, "unknown identity: %d", identityID)
			}
			return nil
		})
	})
}
