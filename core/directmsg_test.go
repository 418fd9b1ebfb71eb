package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectSendAndInbox(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")

	var keys []int64
	for i := 1; i <= 3; i++ {
		key, err := c.SendDirectMessage(alice.ID, bob.ID, fmt.Sprintf("dm %d", i))
		require.NoError(t, err)
		keys = append(keys, key)
	}

	// keys are strictly increasing in send order
	assert.Less(t, keys[0], keys[1])
	assert.Less(t, keys[1], keys[2])

	inbox, err := c.Direct.FetchInbox(bob.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 3)
	assert.Equal(t, "dm 1", inbox[0].Payload)
	assert.Equal(t, keys[2], inbox[2].Key)

	// the sender's inbox stays empty
	sent, err := c.Direct.FetchInbox(alice.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, sent)

	// reading past the last key returns nothing
	tail, err := c.Direct.FetchInbox(bob.ID, keys[2], 0)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestDirectUnknownParticipants(t *testing.T) {
	c := newTestCore(t, Options{})
	alice := mustRegister(t, c, "alice")

	_, err := c.SendDirectMessage(alice.ID, 99, "hello?")
	assert.True(t, IsCode(err, CodeNotFound))
	_, err = c.SendDirectMessage(99, alice.ID, "hello?")
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestDirectRejectsUnknownKind(t *testing.T) {
	c := newTestCore(t, Options{})
	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")

	_, err := c.Direct.Send(alice.ID, bob.ID, KindJoin, "")
	assert.True(t, IsCode(err, CodeForbidden))
}

// A frozen clock forces every send onto the tie-break path; keys must stay
// strictly increasing anyway.
func TestDirectKeysMonotonicUnderFrozenClock(t *testing.T) {
	frozen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCore(t, Options{Now: func() time.Time { return frozen }})

	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")

	last := int64(0)
	for i := 0; i < 10; i++ {
		key, err := c.SendDirectMessage(alice.ID, bob.ID, "tick")
		require.NoError(t, err)
		assert.Greater(t, key, last)
		last = key
	}
}

// A key collision with a row written by another process must resolve by
// allocating a fresh key on retry, not by replaying the same one.
func TestDirectSendRetriesPastForeignKeyCollision(t *testing.T) {
	frozen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCore(t, Options{Now: func() time.Time { return frozen }})

	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")

	first, err := c.SendDirectMessage(alice.ID, bob.ID, "one")
	require.NoError(t, err)

	// Occupy the key the frozen-clock generator would hand out next, as a
	// second process sharing the store would.
	require.NoError(t, c.db.Create(&DirectMessage{
		Key:        first + 1,
		SenderID:   bob.ID,
		ReceiverID: alice.ID,
		Kind:       KindMessage,
		Payload:    "foreign",
	}).Error)

	second, err := c.SendDirectMessage(alice.ID, bob.ID, "two")
	require.NoError(t, err)
	assert.Equal(t, first+2, second)

	inbox, err := c.Direct.FetchInbox(bob.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "two", inbox[1].Payload)
}

func TestDirectAcknowledge(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")

	k1, err := c.SendDirectMessage(alice.ID, bob.ID, "one")
	require.NoError(t, err)
	k2, err := c.SendDirectMessage(alice.ID, bob.ID, "two")
	require.NoError(t, err)

	plan, err := c.OnReconnect(bob.ID)
	require.NoError(t, err)
	require.Len(t, plan.Direct, 2)

	require.NoError(t, c.AcknowledgeDirect(bob.ID, k1))
	plan, err = c.OnReconnect(bob.ID)
	require.NoError(t, err)
	require.Len(t, plan.Direct, 1)
	assert.Equal(t, k2, plan.Direct[0].Key)

	// cursors never move backwards
	require.NoError(t, c.AcknowledgeDirect(bob.ID, k2))
	require.NoError(t, c.AcknowledgeDirect(bob.ID, k1))
	plan, err = c.OnReconnect(bob.ID)
	require.NoError(t, err)
	assert.Empty(t, plan.Direct)
}
