package session

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jamtab/internal/app/session/state"
	"github.com/osa030/jamtab/internal/infra/discovery"
	"github.com/osa030/jamtab/internal/infra/storage"
	"github.com/osa030/jamtab/internal/infra/transport/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newPeer(t *testing.T, net *memory.Network, dir Directory) *Manager {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	m, err := NewManager(Config{ConnectTimeout: time.Second}, net.NewNode(), dir, store)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
		_ = store.Close()
	})
	return m
}

func memberIDs(m *Manager) []string {
	s := m.GetCurrentSession()
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Members))
	for _, member := range s.Members {
		ids = append(ids, member.ID)
	}
	return ids
}

func TestEndToEnd_JoinConvergesOnHostState(t *testing.T) {
	ctx := context.Background()
	net := memory.NewNetwork()
	dir := discovery.NewDirect(nil)
	h := newPeer(t, net, dir)
	j := newPeer(t, net, dir)

	created, err := h.CreateSession(ctx, "Jam", "Amp", "")
	require.NoError(t, err)
	assert.Len(t, created.Members, 1)
	assert.Len(t, created.Code, 6)
	hostID := h.LocalID()

	stub, err := j.JoinSession(ctx, created.Code, "Drums")
	require.NoError(t, err)
	require.Len(t, stub.Members, 1)
	joinerID := j.LocalID()

	// The joiner adopts the host's snapshot and keeps its own stub member.
	require.Eventually(t, func() bool {
		s := j.GetCurrentSession()
		return s != nil && s.ID == created.ID && len(s.Members) == 2
	}, waitFor, tick)
	assert.ElementsMatch(t, []string{hostID, joinerID}, memberIDs(j))
	assert.Equal(t, state.PhaseActive, j.Phase())
	assert.Equal(t, "Jam", j.GetCurrentSession().Name)

	// The host learns about the joiner from MEMBER_JOINED.
	require.Eventually(t, func() bool { return len(memberIDs(h)) == 2 }, waitFor, tick)
	assert.ElementsMatch(t, []string{hostID, joinerID}, memberIDs(h))
}

func TestEndToEnd_QueueReplicates(t *testing.T) {
	ctx := context.Background()
	net := memory.NewNetwork()
	dir := discovery.NewDirect(nil)
	h := newPeer(t, net, dir)
	j := newPeer(t, net, dir)

	created, err := h.CreateSession(ctx, "Jam", "Amp", "")
	require.NoError(t, err)
	_, err = j.JoinSession(ctx, created.Code, "Drums")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return j.Phase() == state.PhaseActive }, waitFor, tick)

	entry, err := h.AddTabToQueue(ctx, songs("Intro")[0])
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(j.GetCurrentSession().Queue) == 1 }, waitFor, tick)

	require.NoError(t, j.SetCurrentTab(ctx, entry.ID))
	require.Eventually(t, func() bool {
		id := h.GetCurrentSession().CurrentTabID
		return id != nil && *id == entry.ID
	}, waitFor, tick)

	require.NoError(t, h.EnableScrollSync(ctx))
	require.Eventually(t, func() bool { return j.GetCurrentSession().Settings.SyncScrolling }, waitFor, tick)
	h.UpdateScrollPosition(ctx, 30)
	require.Eventually(t, func() bool {
		m := j.GetCurrentSession().Member(h.LocalID())
		return m != nil && m.ScrollPosition != nil && *m.ScrollPosition == 30
	}, waitFor, tick)
}

func TestEndToEnd_LeaveAndLinkLoss(t *testing.T) {
	ctx := context.Background()
	net := memory.NewNetwork()
	dir := discovery.NewDirect(nil)
	h := newPeer(t, net, dir)
	j := newPeer(t, net, dir)
	k := newPeer(t, net, dir)

	created, err := h.CreateSession(ctx, "Jam", "Amp", "")
	require.NoError(t, err)
	_, err = j.JoinSession(ctx, created.Code, "Drums")
	require.NoError(t, err)
	_, err = k.JoinSession(ctx, created.Code, "Keys")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(memberIDs(h)) == 3 && j.Phase() == state.PhaseActive && k.Phase() == state.PhaseActive
	}, waitFor, tick)

	// A clean leave removes the member.
	jID := j.LocalID()
	require.NoError(t, j.LeaveSession(ctx, true))
	require.Eventually(t, func() bool { return len(memberIDs(h)) == 2 }, waitFor, tick)
	assert.NotContains(t, memberIDs(h), jID)

	past, err := j.GetPastSessions(ctx)
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, created.ID, past[0].ID)

	// A lost link only marks the member offline.
	net.Drop(h.LocalID(), k.LocalID())
	require.Eventually(t, func() bool {
		m := h.GetCurrentSession().Member(k.LocalID())
		return m != nil && !m.IsOnline
	}, waitFor, tick)
	assert.Len(t, memberIDs(h), 2)
}

func TestEndToEnd_JoinUnknownCodeFails(t *testing.T) {
	net := memory.NewNetwork()
	j := newPeer(t, net, discovery.NewDirect(nil))

	_, err := j.JoinSession(context.Background(), "ZZZ999", "Drums")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionFailed))
	assert.Nil(t, j.GetCurrentSession())
}
