package state

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/jamtab/internal/domain/jam"
)

var (
	ErrBusy      = errors.New("already in a session")
	ErrNoSession = errors.New("not in a session")
)

// Manager owns the current session value with thread-safe access.
// All mutation goes through one lock; callers only ever see clones.
type Manager struct {
	mu sync.RWMutex

	session   *jam.Session
	localID   string
	startedAt time.Time
	phase     Phase
}

// New creates an idle state manager.
func New() *Manager {
	return &Manager{phase: PhaseIdle}
}

// Reserve claims the session slot for a create or join.
// It fails with ErrBusy unless the manager is idle.
func (m *Manager) Reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseIdle {
		return ErrBusy
	}
	m.phase = PhaseConnecting
	return nil
}

// Begin installs a session after Reserve. Phase must be PhaseProvisional or PhaseActive.
func (m *Manager) Begin(s *jam.Session, localID string, phase Phase, startedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s.Clone()
	m.localID = localID
	m.phase = phase
	m.startedAt = startedAt
}

// Clear drops the session and returns the manager to idle.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.localID = ""
	m.startedAt = time.Time{}
	m.phase = PhaseIdle
}

// GetPhase returns the current phase.
func (m *Manager) GetPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// LocalID returns the local peer identity, or "" when not in a session.
func (m *Manager) LocalID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.localID
}

// StartedAt returns when the local process entered the session.
func (m *Manager) StartedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startedAt
}

// InSession reports whether a session value is current.
func (m *Manager) InSession() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil
}

// Snapshot returns a copy of the current session, or nil.
func (m *Manager) Snapshot() *jam.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone()
}

// Mutate runs fn against the live session under the write lock and returns a
// copy of the result. It fails with ErrNoSession when there is no session or
// no local identity. If fn fails the session is left as fn left it, so fn must
// validate before changing anything.
func (m *Manager) Mutate(fn func(s *jam.Session, localID string) error) (*jam.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.localID == "" {
		return nil, ErrNoSession
	}
	if err := fn(m.session, m.localID); err != nil {
		return nil, err
	}
	return m.session.Clone(), nil
}

// Replace swaps the whole session value. fn receives a copy of the current
// session (nil if none) and returns the replacement. A provisional session
// becomes active once replaced.
func (m *Manager) Replace(fn func(current *jam.Session) (*jam.Session, error)) (*jam.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseIdle {
		return nil, ErrNoSession
	}
	next, err := fn(m.session.Clone())
	if err != nil {
		return nil, err
	}
	m.session = next.Clone()
	if m.phase == PhaseProvisional || m.phase == PhaseConnecting {
		m.phase = PhaseActive
	}
	return m.session.Clone(), nil
}
