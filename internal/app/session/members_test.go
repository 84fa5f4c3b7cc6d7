package session

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/protocol"
)

func TestMembers_RequireSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.m.GetMembers()
	assert.True(t, errors.Is(err, ErrNotInSession))
	_, err = f.m.GetCurrentMember()
	assert.True(t, errors.Is(err, ErrNotInSession))
	name := "Bass"
	_, err = f.m.UpdateCurrentMember(ctx, jam.MemberUpdate{DeviceName: &name})
	assert.True(t, errors.Is(err, ErrNotInSession))
	_, err = f.m.UpdateSettings(ctx, jam.SettingsUpdate{})
	assert.True(t, errors.Is(err, ErrNotInSession))
	assert.True(t, errors.Is(f.m.EnableScrollSync(ctx), ErrNotInSession))
	assert.True(t, errors.Is(f.m.DisableScrollSync(ctx), ErrNotInSession))

	assert.NotPanics(t, func() { f.m.UpdateScrollPosition(ctx, 10) })
	assert.Zero(t, f.transport.broadcastCount())
}

func TestGetCurrentMember(t *testing.T) {
	f := newFixture(t)
	s := f.host(t)

	members, err := f.m.GetMembers()
	require.NoError(t, err)
	assert.Len(t, members, 1)

	me, err := f.m.GetCurrentMember()
	require.NoError(t, err)
	require.NotNil(t, me)
	assert.Equal(t, s.CreatedBy, me.ID)
}

func TestUpdateCurrentMember(t *testing.T) {
	f := newFixture(t)
	f.host(t)
	var memberUpdates int
	f.m.OnMemberUpdate(func([]jam.Member) { memberUpdates++ })

	name := "Bass"
	me, err := f.m.UpdateCurrentMember(context.Background(), jam.MemberUpdate{DeviceName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Bass", me.DeviceName)
	assert.True(t, me.IsOnline)
	assert.Equal(t, 1, memberUpdates)

	sent := f.transport.broadcastsOf(protocol.MemberUpdated)
	require.Len(t, sent, 1)
	var p protocol.MemberUpdatedPayload
	require.NoError(t, sent[0].Decode(&p))
	assert.Equal(t, me.ID, p.MemberID)
	assert.Equal(t, map[string]any{"deviceName": "Bass"}, p.Updates)
}

func TestScrollSyncToggle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.host(t)

	require.NoError(t, f.m.EnableScrollSync(ctx))
	settings := f.m.GetCurrentSession().Settings
	assert.True(t, settings.SyncScrolling)
	require.NotNil(t, settings.SyncHost)
	assert.Equal(t, s.CreatedBy, *settings.SyncHost)

	require.NoError(t, f.m.DisableScrollSync(ctx))
	settings = f.m.GetCurrentSession().Settings
	assert.False(t, settings.SyncScrolling)
	assert.Nil(t, settings.SyncHost)

	sent := f.transport.broadcastsOf(protocol.SessionSettingsUpdated)
	require.Len(t, sent, 2)
	var p protocol.SessionSettingsUpdatedPayload
	require.NoError(t, sent[1].Decode(&p))
	assert.Equal(t, false, p.Settings["syncScrolling"])
	v, ok := p.Settings["syncHost"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestUpdateScrollPosition_NoopWhenSyncOff(t *testing.T) {
	f := newFixture(t)
	f.host(t)
	before := f.transport.broadcastCount()
	var memberUpdates int
	f.m.OnMemberUpdate(func([]jam.Member) { memberUpdates++ })

	f.m.UpdateScrollPosition(context.Background(), 42)

	me, err := f.m.GetCurrentMember()
	require.NoError(t, err)
	assert.Nil(t, me.ScrollPosition)
	assert.Equal(t, before, f.transport.broadcastCount())
	assert.Zero(t, memberUpdates)
}

func TestUpdateScrollPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.host(t)
	require.NoError(t, f.m.EnableScrollSync(ctx))

	f.m.UpdateScrollPosition(ctx, 42)

	me, err := f.m.GetCurrentMember()
	require.NoError(t, err)
	require.NotNil(t, me.ScrollPosition)
	assert.Equal(t, 42, *me.ScrollPosition)

	sent := f.transport.broadcastsOf(protocol.ScrollPositionUpdated)
	require.Len(t, sent, 1)
	var p protocol.ScrollPositionUpdatedPayload
	require.NoError(t, sent[0].Decode(&p))
	assert.Equal(t, me.ID, p.MemberID)
	assert.Equal(t, 42, p.LineNumber)
}

func TestUpdateScrollPosition_Throttled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *Config) {
		cfg.ScrollRatePerSec = 0.001
		cfg.ScrollBurst = 1
	})
	f.host(t)
	require.NoError(t, f.m.EnableScrollSync(ctx))

	for line := 1; line <= 5; line++ {
		f.m.UpdateScrollPosition(ctx, line)
	}

	me, err := f.m.GetCurrentMember()
	require.NoError(t, err)
	assert.Equal(t, 5, *me.ScrollPosition)
	assert.Len(t, f.transport.broadcastsOf(protocol.ScrollPositionUpdated), 1)
}

func TestUpdateCurrentMember_TouchesSession(t *testing.T) {
	f := newFixture(t)
	f.host(t)
	f.clock.Advance(time.Minute)

	name := "Bass"
	_, err := f.m.UpdateCurrentMember(context.Background(), jam.MemberUpdate{DeviceName: &name})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), f.m.GetCurrentSession().LastActivity)
}

func scrollLines(t *testing.T, f *fixture) []int {
	t.Helper()
	var lines []int
	for _, env := range f.transport.broadcastsOf(protocol.ScrollPositionUpdated) {
		var p protocol.ScrollPositionUpdatedPayload
		require.NoError(t, env.Decode(&p))
		lines = append(lines, p.LineNumber)
	}
	return lines
}

func TestUpdateScrollPosition_TrailingSendCarriesLastLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *Config) {
		cfg.ScrollRatePerSec = 5
		cfg.ScrollBurst = 1
	})
	f.host(t)
	require.NoError(t, f.m.EnableScrollSync(ctx))

	f.m.UpdateScrollPosition(ctx, 10)
	f.m.UpdateScrollPosition(ctx, 20)
	f.m.UpdateScrollPosition(ctx, 30)
	assert.Equal(t, []int{10}, scrollLines(t, f))

	require.Eventually(t, func() bool {
		return len(f.transport.broadcastsOf(protocol.ScrollPositionUpdated)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{10, 30}, scrollLines(t, f))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, []int{10, 30}, scrollLines(t, f))
}

func TestUpdateScrollPosition_LeaveDropsTrailingSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *Config) {
		cfg.ScrollRatePerSec = 5
		cfg.ScrollBurst = 1
	})
	f.host(t)
	require.NoError(t, f.m.EnableScrollSync(ctx))

	f.m.UpdateScrollPosition(ctx, 10)
	f.m.UpdateScrollPosition(ctx, 20)
	require.NoError(t, f.m.LeaveSession(ctx, false))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, []int{10}, scrollLines(t, f))
}
