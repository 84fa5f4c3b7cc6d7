package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/tab"
	"github.com/osa030/jamtab/internal/infra/discovery"
	"github.com/osa030/jamtab/internal/infra/storage"
	"github.com/osa030/jamtab/internal/protocol"
)

// fakeTransport records outbound traffic and lets tests fire inbound callbacks.
type fakeTransport struct {
	mu sync.Mutex

	generatedID  string
	initErr      error
	hostErr      error
	connectErr   error
	broadcastErr error

	// duringConnect runs inside Connect, after the link is up.
	duringConnect func()

	id          string
	hosted      string
	connectedTo string
	disconnects int
	destroyed   bool
	broadcasts  []*protocol.Envelope
	sent        map[string][]*protocol.Envelope

	onEvent        func(*protocol.Envelope, string)
	onConnected    func(string)
	onDisconnected func(string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{generatedID: "peer-local", sent: make(map[string][]*protocol.Envelope)}
}

func (f *fakeTransport) Initialize(ctx context.Context, identity string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return "", f.initErr
	}
	if identity == "" {
		identity = f.generatedID
	}
	f.id = identity
	return identity, nil
}

func (f *fakeTransport) Host(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hostErr != nil {
		return f.hostErr
	}
	f.hosted = code
	return nil
}

func (f *fakeTransport) Connect(ctx context.Context, code, remoteID string) error {
	f.mu.Lock()
	if f.connectErr != nil {
		f.mu.Unlock()
		return f.connectErr
	}
	f.connectedTo = remoteID
	during := f.duringConnect
	f.mu.Unlock()
	if during != nil {
		during()
	}
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.hosted = ""
	f.connectedTo = ""
	return nil
}

func (f *fakeTransport) Broadcast(ctx context.Context, env *protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.broadcasts = append(f.broadcasts, env.Clone())
	return nil
}

func (f *fakeTransport) SendTo(ctx context.Context, peerID string, env *protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peerID] = append(f.sent[peerID], env.Clone())
	return nil
}

func (f *fakeTransport) OnEvent(handler func(*protocol.Envelope, string)) { f.onEvent = handler }
func (f *fakeTransport) OnPeerConnected(handler func(string))             { f.onConnected = handler }
func (f *fakeTransport) OnPeerDisconnected(handler func(string))          { f.onDisconnected = handler }

func (f *fakeTransport) ConnectedPeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectedTo == "" {
		return []string{}
	}
	return []string{f.connectedTo}
}

func (f *fakeTransport) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return nil
}

func (f *fakeTransport) deliver(env *protocol.Envelope, from string) { f.onEvent(env, from) }
func (f *fakeTransport) connect(peerID string)                       { f.onConnected(peerID) }
func (f *fakeTransport) disconnect(peerID string)                    { f.onDisconnected(peerID) }

// broadcastsOf returns the broadcasts of one type.
func (f *fakeTransport) broadcastsOf(t protocol.EventType) []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range f.broadcasts {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeTransport) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	m         *Manager
	transport *fakeTransport
	store     *storage.Store
	directory *discovery.Direct
	clock     *clock
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		transport: newFakeTransport(),
		store:     store,
		directory: discovery.NewDirect(nil),
		clock:     newClock(),
	}
	cfg := Config{Now: f.clock.Now}
	for _, fn := range mutate {
		fn(&cfg)
	}
	f.m, err = NewManager(cfg, f.transport, f.directory, store)
	require.NoError(t, err)
	return f
}

// host creates a session and returns it.
func (f *fixture) host(t *testing.T) *jam.Session {
	t.Helper()
	s, err := f.m.CreateSession(context.Background(), "Jam", "Amp", "")
	require.NoError(t, err)
	return s
}

func envelopeOf(t *testing.T, et protocol.EventType, sender string, payload any) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(et, sender, payload, time.Now())
	require.NoError(t, err)
	return env
}

func rawEnvelope(et protocol.EventType, sender, payload string) *protocol.Envelope {
	return &protocol.Envelope{Type: et, SenderID: sender, Payload: json.RawMessage(payload)}
}

func songs(titles ...string) []tab.Tab {
	out := make([]tab.Tab, len(titles))
	for i, title := range titles {
		out[i] = tab.Tab{ID: "tab-" + title, Title: title, Artist: "Band"}
	}
	return out
}

func queueTabs(t *testing.T, m *Manager, titles ...string) []jam.QueueEntry {
	t.Helper()
	entries := make([]jam.QueueEntry, 0, len(titles))
	for _, song := range songs(titles...) {
		e, err := m.AddTabToQueue(context.Background(), song)
		require.NoError(t, err)
		entries = append(entries, *e)
	}
	return entries
}
