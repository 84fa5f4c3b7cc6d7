// Package session implements the collaborative jam session core: lifecycle,
// queue, members and the peer sync engine behind one Manager.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/jamtab/internal/app/events"
	"github.com/osa030/jamtab/internal/app/filter"
	"github.com/osa030/jamtab/internal/app/session/state"
	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/playlist"
	"github.com/osa030/jamtab/internal/domain/tab"
)

// Config holds session manager settings.
type Config struct {
	ConnectTimeout   time.Duration // 0 waits forever
	ScrollRatePerSec float64       // 0 disables the scroll broadcast throttle
	ScrollBurst      int
	Filters          []string // inbound filter names; nil enables every registered filter
	Now              func() time.Time
}

// Manager is the entry point to the session core.
type Manager struct {
	bus       *events.Bus
	state     *state.Manager
	transport Transport
	storage   Storage
	now       func() time.Time

	lifecycle *Lifecycle
	queue     *Queue
	members   *Members
	sync      *Sync
}

// NewManager wires the session components and registers the transport callbacks.
func NewManager(cfg Config, transport Transport, directory Directory, storage Storage) (*Manager, error) {
	names := cfg.Filters
	if names == nil {
		names = filter.DefaultNames()
	}
	chain, err := filter.NewChainFromNames(names)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter chain")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &core{
		state:     state.New(),
		transport: transport,
		bus:       events.NewBus(),
		now:       now,
	}

	var scroll *rate.Limiter
	if cfg.ScrollRatePerSec > 0 {
		burst := cfg.ScrollBurst
		if burst < 1 {
			burst = 1
		}
		scroll = rate.NewLimiter(rate.Limit(cfg.ScrollRatePerSec), burst)
	}

	lifecycle := &Lifecycle{core: c, directory: directory, storage: storage, connectTimeout: cfg.ConnectTimeout}
	m := &Manager{
		bus:       c.bus,
		state:     c.state,
		transport: transport,
		storage:   storage,
		now:       now,
		lifecycle: lifecycle,
		queue:     &Queue{core: c},
		members:   &Members{core: c, scroll: scroll},
		sync:      newSync(c, lifecycle, chain),
	}
	m.sync.Initialize()

	zlog.Debug().Msgf("session manager ready: filters=%v", names)
	return m, nil
}

// Bus returns the event bus.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Phase returns the phase of the local session.
func (m *Manager) Phase() state.Phase {
	return m.state.GetPhase()
}

// LocalID returns the local peer identity, or "" outside a session.
func (m *Manager) LocalID() string {
	return m.state.LocalID()
}

// ConnectedPeers returns the identities of connected peers.
func (m *Manager) ConnectedPeers() []string {
	return m.transport.ConnectedPeers()
}

// Close releases the transport. The manager cannot be used afterwards.
func (m *Manager) Close() error {
	m.members.cancelScroll()
	return m.transport.Destroy()
}

// Lifecycle

// CreateSession creates and hosts a new session.
func (m *Manager) CreateSession(ctx context.Context, name, deviceName, roomID string) (*jam.Session, error) {
	return m.lifecycle.CreateSession(ctx, name, deviceName, roomID)
}

// JoinSession joins the session hosted under code.
func (m *Manager) JoinSession(ctx context.Context, code, deviceName string) (*jam.Session, error) {
	return m.lifecycle.JoinSession(ctx, code, deviceName)
}

// LeaveSession leaves the current session, saving it to history if asked.
// A pending scroll broadcast is dropped first.
func (m *Manager) LeaveSession(ctx context.Context, saveHistory bool) error {
	m.members.cancelScroll()
	return m.lifecycle.LeaveSession(ctx, saveHistory)
}

// GetCurrentSession returns a copy of the current session, or nil.
func (m *Manager) GetCurrentSession() *jam.Session {
	return m.lifecycle.GetCurrentSession()
}

// RequestSessionState is a no-op: state is pushed by the host on connect.
func (m *Manager) RequestSessionState(ctx context.Context) error {
	return m.sync.RequestSessionState(ctx)
}

// Queue

// AddTabToQueue appends a tab to the queue.
func (m *Manager) AddTabToQueue(ctx context.Context, t tab.Tab) (*jam.QueueEntry, error) {
	return m.queue.AddTabToQueue(ctx, t)
}

// RemoveTabFromQueue removes a queue entry by ID.
func (m *Manager) RemoveTabFromQueue(ctx context.Context, id string) error {
	return m.queue.RemoveTabFromQueue(ctx, id)
}

// ReorderQueue replaces the queue with entries in the given order.
func (m *Manager) ReorderQueue(ctx context.Context, entries []jam.QueueEntry) error {
	return m.queue.ReorderQueue(ctx, entries)
}

// SetCurrentTab makes a queue entry the current tab.
func (m *Manager) SetCurrentTab(ctx context.Context, id string) error {
	return m.queue.SetCurrentTab(ctx, id)
}

// GetNextTab returns the entry after the current tab, or nil.
func (m *Manager) GetNextTab() (*jam.QueueEntry, error) {
	return m.queue.GetNextTab()
}

// PlayNextTab advances to the next entry, if any.
func (m *Manager) PlayNextTab(ctx context.Context) error {
	return m.queue.PlayNextTab(ctx)
}

// Members and settings

// GetMembers returns the members of the current session.
func (m *Manager) GetMembers() ([]jam.Member, error) {
	return m.members.GetMembers()
}

// GetCurrentMember returns the local member.
func (m *Manager) GetCurrentMember() (*jam.Member, error) {
	return m.members.GetCurrentMember()
}

// UpdateCurrentMember applies a partial update to the local member.
func (m *Manager) UpdateCurrentMember(ctx context.Context, update jam.MemberUpdate) (*jam.Member, error) {
	return m.members.UpdateCurrentMember(ctx, update)
}

// UpdateSettings applies a partial settings update.
func (m *Manager) UpdateSettings(ctx context.Context, update jam.SettingsUpdate) (*jam.Settings, error) {
	return m.members.UpdateSettings(ctx, update)
}

// EnableScrollSync turns scroll sync on with the local member as host.
func (m *Manager) EnableScrollSync(ctx context.Context) error {
	return m.members.EnableScrollSync(ctx)
}

// DisableScrollSync turns scroll sync off.
func (m *Manager) DisableScrollSync(ctx context.Context) error {
	return m.members.DisableScrollSync(ctx)
}

// UpdateScrollPosition records and broadcasts the local scroll line.
func (m *Manager) UpdateScrollPosition(ctx context.Context, line int) {
	m.members.UpdateScrollPosition(ctx, line)
}

// Subscriptions

// OnSessionUpdate subscribes to session updates. nil means the session ended.
func (m *Manager) OnSessionUpdate(handler func(*jam.Session)) func() {
	return m.bus.OnSessionUpdate(handler)
}

// OnQueueUpdate subscribes to queue updates.
func (m *Manager) OnQueueUpdate(handler func([]jam.QueueEntry)) func() {
	return m.bus.OnQueueUpdate(handler)
}

// OnMemberUpdate subscribes to member updates.
func (m *Manager) OnMemberUpdate(handler func([]jam.Member)) func() {
	return m.bus.OnMemberUpdate(handler)
}

// OnError subscribes to errors raised while handling peer events.
func (m *Manager) OnError(handler func(error)) func() {
	return m.bus.OnError(handler)
}

// History

// GetPastSessions returns saved sessions, newest first.
func (m *Manager) GetPastSessions(ctx context.Context) ([]jam.PastSession, error) {
	return m.storage.GetPastSessions(ctx)
}

// DeletePastSession deletes a saved session.
func (m *Manager) DeletePastSession(ctx context.Context, id string) error {
	return m.storage.DeletePastSession(ctx, id)
}

// historyExport is the document produced by ExportPastSessions.
type historyExport struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exportedAt"`
	Sessions   []jam.PastSession `json:"sessions"`
}

// ExportPastSessions renders every past session as an indented JSON document.
func (m *Manager) ExportPastSessions(ctx context.Context) ([]byte, error) {
	sessions, err := m.storage.GetPastSessions(ctx)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []jam.PastSession{}
	}
	data, err := json.MarshalIndent(historyExport{Version: 1, ExportedAt: m.now(), Sessions: sessions}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode history")
	}
	return data, nil
}

// Rooms

// CreateRoom saves a new persistent room.
func (m *Manager) CreateRoom(ctx context.Context, name string) (*jam.Room, error) {
	now := m.now()
	room := jam.Room{
		ID:         uuid.New().String(),
		Name:       name,
		SessionIDs: []string{},
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := m.storage.SaveRoom(ctx, room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRooms returns every room.
func (m *Manager) GetRooms(ctx context.Context) ([]jam.Room, error) {
	return m.storage.GetRooms(ctx)
}

// DeleteRoom deletes a room.
func (m *Manager) DeleteRoom(ctx context.Context, id string) error {
	return m.storage.DeleteRoom(ctx, id)
}

// Playlists

// SavePlaylist stores a new playlist.
func (m *Manager) SavePlaylist(ctx context.Context, name, description string, tabs []tab.Tab) (*playlist.Playlist, error) {
	now := m.now()
	p := playlist.Playlist{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Tabs:        append([]tab.Tab{}, tabs...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.storage.SavePlaylist(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlaylists returns every saved playlist.
func (m *Manager) GetPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	return m.storage.GetPlaylists(ctx)
}

// GetPlaylist returns one saved playlist.
func (m *Manager) GetPlaylist(ctx context.Context, id string) (*playlist.Playlist, error) {
	return m.storage.GetPlaylist(ctx, id)
}

// UpdatePlaylist overwrites a stored playlist and bumps its update time.
func (m *Manager) UpdatePlaylist(ctx context.Context, p playlist.Playlist) (*playlist.Playlist, error) {
	p.UpdatedAt = m.now()
	if err := m.storage.UpdatePlaylist(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePlaylist deletes a saved playlist.
func (m *Manager) DeletePlaylist(ctx context.Context, id string) error {
	return m.storage.DeletePlaylist(ctx, id)
}

// QueuePlaylist appends every tab of a saved playlist to the live queue.
func (m *Manager) QueuePlaylist(ctx context.Context, id string) ([]jam.QueueEntry, error) {
	if !m.state.InSession() {
		return nil, ErrNotInSession
	}
	p, err := m.storage.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}

	entries := make([]jam.QueueEntry, 0, len(p.Tabs))
	for _, t := range p.Tabs {
		entry, err := m.queue.AddTabToQueue(ctx, t)
		if err != nil {
			return entries, err
		}
		entries = append(entries, *entry)
	}
	zlog.Info().Msgf("playlist queued: id=%s name=%s tabs=%d", p.ID, p.Name, len(entries))
	return entries, nil
}
