package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/protocol"
)

var errScrollSyncOff = errors.New("scroll sync disabled")

// Members manages member records and session settings.
type Members struct {
	*core
	// scroll throttles scroll broadcasts; nil means unthrottled.
	scroll *rate.Limiter

	// Trailing scroll send, guarded by scrollMu. A denied line is parked in
	// scrollLine and flushed once the limiter allows; newer lines replace it.
	scrollMu    sync.Mutex
	scrollRes   *rate.Reservation
	scrollTimer *time.Timer
	scrollLine  int
	scrollGen   uint64
}

// GetMembers returns the members of the current session.
func (m *Members) GetMembers() ([]jam.Member, error) {
	s := m.state.Snapshot()
	if s == nil || m.state.LocalID() == "" {
		return nil, ErrNotInSession
	}
	return s.Members, nil
}

// GetCurrentMember returns the local member, or nil if it is not listed.
func (m *Members) GetCurrentMember() (*jam.Member, error) {
	s := m.state.Snapshot()
	localID := m.state.LocalID()
	if s == nil || localID == "" {
		return nil, ErrNotInSession
	}
	return s.Member(localID), nil
}

// UpdateCurrentMember applies a partial update to the local member.
func (m *Members) UpdateCurrentMember(ctx context.Context, update jam.MemberUpdate) (*jam.Member, error) {
	fields := update.Fields()
	var localID string
	s, err := m.state.Mutate(func(s *jam.Session, id string) error {
		localID = id
		if err := s.UpdateMember(id, fields); err != nil {
			return err
		}
		s.Touch(m.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.broadcast(ctx, protocol.MemberUpdated, protocol.MemberUpdatedPayload{MemberID: localID, Updates: fields})
	m.notifyMembers(s)
	return s.Member(localID), nil
}

// UpdateSettings applies a partial settings update.
func (m *Members) UpdateSettings(ctx context.Context, update jam.SettingsUpdate) (*jam.Settings, error) {
	fields := update.Fields()
	s, err := m.state.Mutate(func(s *jam.Session, _ string) error {
		if err := s.ApplySettings(fields); err != nil {
			return err
		}
		s.Touch(m.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	zlog.Debug().Msgf("settings updated: fields=%v", fields)
	m.broadcast(ctx, protocol.SessionSettingsUpdated, protocol.SessionSettingsUpdatedPayload{Settings: fields})
	m.bus.EmitSessionUpdate(s)
	return &s.Settings, nil
}

// EnableScrollSync turns scroll sync on with the local member as sync host.
func (m *Members) EnableScrollSync(ctx context.Context) error {
	localID := m.state.LocalID()
	if localID == "" {
		return ErrNotInSession
	}
	on := true
	_, err := m.UpdateSettings(ctx, jam.SettingsUpdate{SyncScrolling: &on, SyncHost: &localID})
	return err
}

// DisableScrollSync turns scroll sync off and clears the sync host.
func (m *Members) DisableScrollSync(ctx context.Context) error {
	off := false
	_, err := m.UpdateSettings(ctx, jam.SettingsUpdate{SyncScrolling: &off, ClearSyncHost: true})
	return err
}

// UpdateScrollPosition records and broadcasts the local scroll position.
// It does nothing outside a session or while scroll sync is off.
func (m *Members) UpdateScrollPosition(ctx context.Context, line int) {
	var localID string
	s, err := m.state.Mutate(func(s *jam.Session, id string) error {
		if !s.Settings.SyncScrolling {
			return errScrollSyncOff
		}
		localID = id
		if err := s.SetScrollPosition(id, line); err != nil {
			return err
		}
		s.Touch(m.now())
		return nil
	})
	if err != nil {
		return
	}

	m.bus.EmitMemberUpdate(s.Members)
	if m.scroll == nil {
		m.broadcastScroll(ctx, localID, line)
		return
	}

	m.scrollMu.Lock()
	if m.scrollTimer != nil {
		m.scrollLine = line
		m.scrollMu.Unlock()
		return
	}
	if m.scroll.Allow() {
		m.scrollMu.Unlock()
		m.broadcastScroll(ctx, localID, line)
		return
	}
	r := m.scroll.Reserve()
	if !r.OK() {
		m.scrollMu.Unlock()
		return
	}
	m.scrollGen++
	gen := m.scrollGen
	m.scrollLine = line
	m.scrollRes = r
	m.scrollTimer = time.AfterFunc(r.Delay(), func() { m.flushScroll(gen) })
	m.scrollMu.Unlock()
}

// flushScroll sends the parked line if the trailing send gen is still pending.
func (m *Members) flushScroll(gen uint64) {
	m.scrollMu.Lock()
	if m.scrollTimer == nil || m.scrollGen != gen {
		m.scrollMu.Unlock()
		return
	}
	line := m.scrollLine
	m.scrollTimer = nil
	m.scrollRes = nil
	m.scrollMu.Unlock()

	s := m.state.Snapshot()
	localID := m.state.LocalID()
	if s == nil || localID == "" || !s.Settings.SyncScrolling {
		return
	}
	m.broadcastScroll(context.Background(), localID, line)
}

// cancelScroll drops a pending trailing send.
func (m *Members) cancelScroll() {
	m.scrollMu.Lock()
	defer m.scrollMu.Unlock()
	if m.scrollTimer == nil {
		return
	}
	m.scrollTimer.Stop()
	m.scrollRes.Cancel()
	m.scrollTimer = nil
	m.scrollRes = nil
}

func (m *Members) broadcastScroll(ctx context.Context, localID string, line int) {
	m.broadcast(ctx, protocol.ScrollPositionUpdated, protocol.ScrollPositionUpdatedPayload{MemberID: localID, LineNumber: line})
}
