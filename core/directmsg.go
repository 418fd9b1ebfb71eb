package core

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/presbrey/ircstate/metrics"
)

// DirectMessageLog is the globally ordered private-message store. Keys are
// allocated from the wall clock shifted left by keyCounterBits, leaving room
// for a deterministic tie-break counter when two sends land on the same
// microsecond. The generator is seeded from the store so keys never regress
// across restarts.
type DirectMessageLog struct {
	db    *gorm.DB
	retry retryPolicy
	now   func() time.Time

	mu      sync.Mutex
	seeded  bool
	lastKey int64
}

const keyCounterBits = 10

// Send stores one private message and returns its ordering key. The key is
// durable before Send returns.
func (l *DirectMessageLog) Send(senderID, receiverID uint, kind EventKind, payload string) (int64, error) {
	if kind != KindMessage && kind != KindNotice {
		return 0, newError(CodeForbidden, "unknown direct message kind: %s", kind)
	}

	// Allocation and the durable write share the mutex so a key is never
	// observable before every smaller key is.
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.seed(); err != nil {
		return 0, err
	}

	// The key is allocated inside the retry loop: a conflicting writer on a
	// shared store surfaces as a duplicate key, and the retry must pick a
	// fresh one rather than replay the collision.
	var key int64
	err := l.retry.run(func() error {
		key = l.nextKey()
		message := DirectMessage{
			Key:        key,
			SenderID:   senderID,
			ReceiverID: receiverID,
			Kind:       kind,
			Payload:    payload,
		}
		return l.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&Identity{}, receiverID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return newError(CodeNotFound, "unknown identity: %d", receiverID)
				}
				return err
			}
			if err := tx.First(&Identity{}, senderID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return newError(CodeNotFound, "unknown identity: %d", senderID)
				}
				return err
			}
			return tx.Create(&message).Error
		})
	})
	if err != nil {
		return 0, err
	}

	metrics.DirectMessages.Inc()
	return key, nil
}

func (l *DirectMessageLog) seed() error {
	if l.seeded {
		return nil
	}

	var max sql.NullInt64
	err := l.db.Model(&DirectMessage{}).Select("MAX(key)").Scan(&max).Error
	if err != nil {
		return classifyStoreError(err)
	}
	l.lastKey = max.Int64
	l.seeded = true
	return nil
}

func (l *DirectMessageLog) nextKey() int64 {
	key := l.now().UnixMicro() << keyCounterBits
	if key <= l.lastKey {
		// Same microsecond (or a clock step backwards): tie-break with
		// the counter in the low bits.
		key = l.lastKey + 1
	}
	l.lastKey = key
	return key
}

// FetchInbox returns up to limit messages for a receiver with key strictly
// greater than afterKey, ascending.
func (l *DirectMessageLog) FetchInbox(receiverID uint, afterKey int64, limit int) ([]DirectMessage, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	var messages []DirectMessage
	err := l.db.
		Where("receiver_id = ? AND key > ?", receiverID, afterKey).
		Order("key ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return messages, nil
}
