package core

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDBCounter atomic.Int64

// newTestCore opens a fresh in-memory store for one test.
func newTestCore(t *testing.T, opts Options) *Core {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, testDBCounter.Add(1))
	db, err := OpenStore("sqlite", dsn)
	require.NoError(t, err)

	return New(db, opts)
}

func mustRegister(t *testing.T, c *Core, nick string) *Identity {
	t.Helper()
	identity, err := c.Identities.Register(nick, nick, "hunter2hunter2")
	require.NoError(t, err)
	return identity
}

// A freshly created channel's owner grants a joiner operator, the joiner
// posts, and both actions land at consecutive indices starting from 1.
func TestGrantThenMessageScenario(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")

	_, err := c.Join("#general", alice.ID)
	require.NoError(t, err)
	_, err = c.Join("#general", bob.ID)
	require.NoError(t, err)

	idx, err := c.GrantPermission("#general", alice.ID, bob.ID, LevelOperator)
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx)

	idx, err = c.PostMessage("#general", bob.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx)

	channel, err := c.Channels.GetByName("#general")
	require.NoError(t, err)

	events, err := c.Events.FetchSince(channel.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindPermissionChange, events[0].Kind)
	assert.Equal(t, KindMessage, events[1].Kind)
	assert.Equal(t, "hi", events[1].Payload)

	membership, err := c.Members.Get(channel.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, LevelOperator, membership.Level)
}

// A reconnect replays everything past the member's cursor, and after an
// acknowledgement the next reconnect replays nothing.
func TestCatchUpScenario(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")

	_, err := c.Join("#general", alice.ID)
	require.NoError(t, err)
	_, err = c.Join("#general", bob.ID)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err = c.PostMessage("#general", alice.ID, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	require.NoError(t, c.Acknowledge(bob.ID, "#general", 2))

	plan, err := c.OnReconnect(bob.ID)
	require.NoError(t, err)
	require.Len(t, plan.Channels, 1)
	delta := plan.Channels[0]
	assert.Equal(t, "#general", delta.ChannelName)
	assert.Equal(t, int64(2), delta.Cursor)
	require.Len(t, delta.Events, 3)
	assert.Equal(t, int64(3), delta.Events[0].Index)
	assert.Equal(t, int64(5), delta.Events[2].Index)
	assert.False(t, delta.More)

	// No acknowledgement yet: the same tail replays.
	again, err := c.OnReconnect(bob.ID)
	require.NoError(t, err)
	require.Len(t, again.Channels, 1)
	assert.Len(t, again.Channels[0].Events, 3)

	require.NoError(t, c.Acknowledge(bob.ID, "#general", 5))

	final, err := c.OnReconnect(bob.ID)
	require.NoError(t, err)
	require.Len(t, final.Channels, 1)
	assert.Empty(t, final.Channels[0].Events)
}

func TestEnsureOperatorBootstrap(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	require.NoError(t, c.EnsureOperator("alice"))

	got, err := c.Identities.Get(alice.ID)
	require.NoError(t, err)
	assert.True(t, got.Operator)

	err = c.EnsureOperator("nobody")
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestOptionsDefaults(t *testing.T) {
	c := newTestCore(t, Options{
		CatchUpBatchLimit: 2,
		RetryAttempts:     3,
		RetryBackoff:      time.Millisecond,
	})

	alice := mustRegister(t, c, "alice")
	_, err := c.Join("#batch", alice.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = c.PostMessage("#batch", alice.ID, "x")
		require.NoError(t, err)
	}

	plan, err := c.OnReconnect(alice.ID)
	require.NoError(t, err)
	require.Len(t, plan.Channels, 1)
	assert.Len(t, plan.Channels[0].Events, 2)
	assert.True(t, plan.Channels[0].More)
}
