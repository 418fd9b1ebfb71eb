package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectUnknownIdentity(t *testing.T) {
	c := newTestCore(t, Options{})
	_, err := c.OnReconnect(42)
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestReconnectCoversAllActiveChannels(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	_, err := c.Join("#one", alice.ID)
	require.NoError(t, err)
	_, err = c.Join("#two", alice.ID)
	require.NoError(t, err)
	_, err = c.Join("#three", alice.ID)
	require.NoError(t, err)
	require.NoError(t, c.Part("#three", alice.ID))

	_, err = c.PostMessage("#one", alice.ID, "a")
	require.NoError(t, err)

	plan, err := c.OnReconnect(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, plan.IdentityID)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", plan.ID.String())

	// parted channels are excluded
	require.Len(t, plan.Channels, 2)
	names := []string{plan.Channels[0].ChannelName, plan.Channels[1].ChannelName}
	assert.Contains(t, names, "#one")
	assert.Contains(t, names, "#two")
}

// A member banned while disconnected is force-parted on reconnect instead of
// receiving a replay, and the channel log records the part.
func TestReconnectForcedPartWhenBanned(t *testing.T) {
	c, _, oper, target := newBanFixture(t)

	channel, err := c.Join("#room", oper.ID)
	require.NoError(t, err)
	_, err = c.Join("#room", target.ID)
	require.NoError(t, err)

	_, err = c.PostMessage("#room", oper.ID, "before the ban")
	require.NoError(t, err)

	_, err = c.AddBan("troll!*@*", oper.ID, "enough", "#room", nil)
	require.NoError(t, err)

	plan, err := c.OnReconnect(target.ID)
	require.NoError(t, err)
	assert.Empty(t, plan.Channels)

	m, err := c.Members.Get(channel.ID, target.ID)
	require.NoError(t, err)
	assert.False(t, m.Active)

	events, err := c.Events.FetchSince(channel.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindPart, events[1].Kind)

	// a second reconnect does not part (or log) again
	_, err = c.OnReconnect(target.ID)
	require.NoError(t, err)
	events, err = c.Events.FetchSince(channel.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAcknowledgeForwardOnly(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	channel, err := c.Join("#fwd", alice.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = c.PostMessage("#fwd", alice.ID, "x")
		require.NoError(t, err)
	}

	require.NoError(t, c.Acknowledge(alice.ID, "#fwd", 3))
	require.NoError(t, c.Acknowledge(alice.ID, "#fwd", 1))

	m, err := c.Members.Get(channel.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Cursor)
}

// An acknowledgement past the end of the log is clamped to the highest
// allocated index, so events appended afterwards are still delivered.
func TestAcknowledgeClampedToLog(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	channel, err := c.Join("#clamp", alice.ID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.PostMessage("#clamp", alice.ID, "x")
		require.NoError(t, err)
	}

	require.NoError(t, c.Acknowledge(alice.ID, "#clamp", 99))
	m, err := c.Members.Get(channel.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Cursor)

	idx, err := c.PostMessage("#clamp", alice.ID, "late")
	require.NoError(t, err)
	assert.Equal(t, int64(3), idx)

	plan, err := c.OnReconnect(alice.ID)
	require.NoError(t, err)
	require.Len(t, plan.Channels, 1)
	require.Len(t, plan.Channels[0].Events, 1)
	assert.Equal(t, "late", plan.Channels[0].Events[0].Payload)
}

func TestAcknowledgeRequiresMembership(t *testing.T) {
	c := newTestCore(t, Options{})

	alice := mustRegister(t, c, "alice")
	bob := mustRegister(t, c, "bob")
	_, err := c.Join("#members", alice.ID)
	require.NoError(t, err)

	err = c.Acknowledge(bob.ID, "#members", 1)
	assert.True(t, IsCode(err, CodeNotMember))
}
