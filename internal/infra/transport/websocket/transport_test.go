package websocket

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jamtab/internal/protocol"
)

type events struct {
	mu           sync.Mutex
	received     []*protocol.Envelope
	from         []string
	connected    []string
	disconnected []string
}

func watch(tr *Transport) *events {
	e := &events{}
	tr.OnEvent(func(env *protocol.Envelope, from string) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.received = append(e.received, env)
		e.from = append(e.from, from)
	})
	tr.OnPeerConnected(func(id string) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.connected = append(e.connected, id)
	})
	tr.OnPeerDisconnected(func(id string) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.disconnected = append(e.disconnected, id)
	})
	return e
}

func (e *events) counts() (received, connected, disconnected int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.received), len(e.connected), len(e.disconnected)
}

func newTestTransport(t *testing.T) (*Transport, string) {
	t.Helper()
	tr := New(Config{ListenAddr: "127.0.0.1:0", Path: "/peer", HandshakeTimeout: 2 * time.Second})
	id, err := tr.Initialize(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Destroy() })
	return tr, id
}

func testEnvelope(t *testing.T, sender string, line int) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.ScrollPositionUpdated, sender,
		protocol.ScrollPositionUpdatedPayload{MemberID: sender, LineNumber: line}, time.Now())
	require.NoError(t, err)
	return env
}

func TestTransport_Identity(t *testing.T) {
	_, id := newTestTransport(t)
	assert.True(t, strings.HasPrefix(id, "ws://127.0.0.1:"))
	assert.True(t, strings.HasSuffix(id, "/peer"))

	tr := New(Config{ListenAddr: "127.0.0.1:0", AdvertiseAddr: "jam.local:7700"})
	defer tr.Destroy()
	id, err := tr.Initialize(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "ws://jam.local:7700/peer", id)
}

func TestTransport_ConnectAndExchange(t *testing.T) {
	ctx := context.Background()
	host, hostID := newTestTransport(t)
	joiner, joinerID := newTestTransport(t)
	he, je := watch(host), watch(joiner)

	require.NoError(t, host.Host(ctx, "ABC234"))
	require.NoError(t, joiner.Connect(ctx, "ABC234", hostID))

	require.Eventually(t, func() bool {
		_, hc, _ := he.counts()
		_, jc, _ := je.counts()
		return hc == 1 && jc == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{joinerID}, host.ConnectedPeers())
	assert.Equal(t, []string{hostID}, joiner.ConnectedPeers())

	require.NoError(t, host.SendTo(ctx, joinerID, testEnvelope(t, hostID, 1)))
	for i := 0; i < 10; i++ {
		require.NoError(t, joiner.Broadcast(ctx, testEnvelope(t, joinerID, i)))
	}

	require.Eventually(t, func() bool {
		hr, _, _ := he.counts()
		jr, _, _ := je.counts()
		return hr == 10 && jr == 1
	}, 2*time.Second, 10*time.Millisecond)

	he.mu.Lock()
	for i, env := range he.received {
		var p protocol.ScrollPositionUpdatedPayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, i, p.LineNumber)
		assert.Equal(t, joinerID, he.from[i])
	}
	he.mu.Unlock()
}

func TestTransport_RejectsWrongCode(t *testing.T) {
	ctx := context.Background()
	host, hostID := newTestTransport(t)
	joiner, _ := newTestTransport(t)
	he := watch(host)

	require.NoError(t, host.Host(ctx, "ABC234"))
	err := joiner.Connect(ctx, "XYZ789", hostID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Empty(t, joiner.ConnectedPeers())

	_, hc, _ := he.counts()
	assert.Zero(t, hc)
}

func TestTransport_DisconnectNotifiesRemoteOnly(t *testing.T) {
	ctx := context.Background()
	host, hostID := newTestTransport(t)
	joiner, joinerID := newTestTransport(t)
	he, je := watch(host), watch(joiner)

	require.NoError(t, host.Host(ctx, "ABC234"))
	require.NoError(t, joiner.Connect(ctx, "ABC234", hostID))
	require.Eventually(t, func() bool { return len(host.ConnectedPeers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// A frame queued right before disconnecting still arrives.
	require.NoError(t, joiner.Broadcast(ctx, testEnvelope(t, joinerID, 7)))
	require.NoError(t, joiner.Disconnect(ctx))

	require.Eventually(t, func() bool {
		hr, _, hd := he.counts()
		return hr == 1 && hd == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, host.ConnectedPeers())

	time.Sleep(50 * time.Millisecond)
	_, _, jd := je.counts()
	assert.Zero(t, jd)
}

func TestTransport_SendToUnknownPeer(t *testing.T) {
	tr, id := newTestTransport(t)
	err := tr.SendTo(context.Background(), "ws://nowhere/peer", testEnvelope(t, id, 1))
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestTransport_DestroyIsFinal(t *testing.T) {
	tr := New(Config{ListenAddr: "127.0.0.1:0"})
	_, err := tr.Initialize(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, tr.Destroy())

	_, err = tr.Initialize(context.Background(), "")
	assert.True(t, errors.Is(err, ErrDestroyed))
}
