package core

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/presbrey/ircstate/metrics"
)

// defaultFetchLimit bounds FetchSince calls that pass no explicit limit.
const defaultFetchLimit = 100

// channelLocks hands out one mutex per channel id. Index allocation is the
// only exclusive section; two channels append fully in parallel.
type channelLocks struct {
	mu sync.Mutex
	m  map[uint]*sync.Mutex
}

func (l *channelLocks) acquire(id uint) *sync.Mutex {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[uint]*sync.Mutex)
	}
	cl, ok := l.m[id]
	if !ok {
		cl = &sync.Mutex{}
		l.m[id] = cl
	}
	l.mu.Unlock()

	cl.Lock()
	return cl
}

// ChannelEventLog owns the append-only, densely indexed event sequence of
// every channel. Appends hold the channel's mutex across index allocation
// and the durable write, and re-check permission and ban state inside the
// same transaction, so a committed grant/revoke/ban is linearizable with
// respect to every later append.
type ChannelEventLog struct {
	db    *gorm.DB
	retry retryPolicy

	bans  *BanRegistry
	locks channelLocks
}

// Append writes one event and returns its allocated index. Message and
// notice events require the sender to be an active member holding voice or
// above and not banned; the check runs inside the allocating transaction.
func (l *ChannelEventLog) Append(channelID uint, sender *uint, kind EventKind, payload string) (int64, error) {
	switch kind {
	case KindMessage, KindNotice, KindJoin, KindPart, KindPermissionChange:
	default:
		return 0, newError(CodeForbidden, "unknown event kind: %s", kind)
	}

	timer := prometheus.NewTimer(metrics.AppendDuration)
	defer timer.ObserveDuration()

	lock := l.locks.acquire(channelID)
	defer lock.Unlock()

	var index int64
	err := l.retry.run(func() error {
		return l.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&Channel{}, channelID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return newError(CodeNotFound, "no such channel: %d", channelID)
				}
				return err
			}

			if kind == KindMessage || kind == KindNotice {
				if err := l.authorizeSender(tx, channelID, sender); err != nil {
					return err
				}
			}

			var err error
			index, err = l.appendTx(tx, channelID, sender, kind, payload)
			return err
		})
	})
	if err != nil {
		return 0, err
	}

	metrics.EventsAppended.WithLabelValues(string(kind)).Inc()
	return index, nil
}

// appendTx allocates the next dense index and inserts the event. The caller
// must hold the channel's mutex and run inside a transaction.
func (l *ChannelEventLog) appendTx(tx *gorm.DB, channelID uint, sender *uint, kind EventKind, payload string) (int64, error) {
	var max sql.NullInt64
	err := tx.Model(&ChannelEvent{}).
		Where("channel_id = ?", channelID).
		Select("MAX(idx)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}

	event := ChannelEvent{
		ChannelID: channelID,
		Index:     max.Int64 + 1,
		SenderID:  sender,
		Kind:      kind,
		Payload:   payload,
	}
	if err := tx.Create(&event).Error; err != nil {
		return 0, err
	}
	return event.Index, nil
}

func (l *ChannelEventLog) authorizeSender(tx *gorm.DB, channelID uint, sender *uint) error {
	if sender == nil {
		return newError(CodeForbidden, "messages require a sender")
	}

	var membership Membership
	err := tx.Where("channel_id = ? AND identity_id = ?", channelID, *sender).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(CodeForbidden, "identity %d is not a member of channel %d", *sender, channelID)
	}
	if err != nil {
		return err
	}
	if !membership.Active || membership.Level < LevelVoice {
		return newError(CodeForbidden, "identity %d may not post to channel %d", *sender, channelID)
	}

	banned, err := l.bans.isBanned(tx, *sender, &channelID)
	if err != nil {
		return err
	}
	if banned {
		return newError(CodeForbidden, "identity %d is banned from channel %d", *sender, channelID)
	}
	return nil
}

// FetchSince returns up to limit events with index strictly greater than
// afterIndex, ascending. Against an unchanged log, repeated calls with the
// same arguments return identical sequences.
func (l *ChannelEventLog) FetchSince(channelID uint, afterIndex int64, limit int) ([]ChannelEvent, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	var events []ChannelEvent
	err := l.db.
		Where("channel_id = ? AND idx > ?", channelID, afterIndex).
		Order("idx ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return events, nil
}

// MaxIndex returns the highest allocated index of a channel, 0 when empty.
func (l *ChannelEventLog) MaxIndex(channelID uint) (int64, error) {
	var max sql.NullInt64
	err := l.db.Model(&ChannelEvent{}).
		Where("channel_id = ?", channelID).
		Select("MAX(idx)").
		Scan(&max).Error
	if err != nil {
		return 0, classifyStoreError(err)
	}
	return max.Int64, nil
}
