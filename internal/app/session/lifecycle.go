package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/app/roomcode"
	"github.com/osa030/jamtab/internal/app/session/state"
	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/protocol"
)

// Lifecycle creates, joins and leaves sessions.
type Lifecycle struct {
	*core
	directory      Directory
	storage        Storage
	connectTimeout time.Duration
}

// CreateSession starts hosting a new session with the local device as its only member.
// If roomID is set the session is recorded in that persistent room.
func (l *Lifecycle) CreateSession(ctx context.Context, name, deviceName, roomID string) (*jam.Session, error) {
	if err := l.state.Reserve(); err != nil {
		return nil, err
	}

	code := roomcode.Generate()
	localID, err := l.initialize(ctx, l.directory.HostIdentity(code))
	if err != nil {
		l.state.Clear()
		return nil, err
	}

	now := l.now()
	s := &jam.Session{
		ID:           uuid.New().String(),
		Name:         name,
		Code:         code,
		CreatedBy:    localID,
		CreatedAt:    now,
		LastActivity: now,
		Members:      []jam.Member{jam.NewMember(localID, deviceName, now)},
		Queue:        []jam.QueueEntry{},
		History:      []jam.HistoryEntry{},
	}

	// Installed before hosting so the first peer-connected callback has state to push.
	l.state.Begin(s, localID, state.PhaseActive, now)

	if err := l.transport.Host(ctx, code); err != nil {
		l.abort(ctx)
		return nil, connectionFailed(err, "failed to host session")
	}
	if err := l.directory.Register(ctx, code, localID); err != nil {
		l.abort(ctx)
		return nil, connectionFailed(err, "failed to register join code")
	}

	zlog.Info().Msgf("session created: id=%s code=%s name=%s", s.ID, code, name)

	if roomID != "" {
		if err := l.addToRoom(ctx, roomID, s.ID); err != nil {
			zlog.Error().Msgf("failed to record session in room: room=%s err=%v", roomID, err)
			l.bus.EmitError(err)
		}
	}

	l.notifySession(s)
	return s.Clone(), nil
}

// JoinSession connects to the host of code and returns the provisional local session.
// The stub is replaced by the host's snapshot once it arrives.
func (l *Lifecycle) JoinSession(ctx context.Context, code, deviceName string) (*jam.Session, error) {
	if err := l.state.Reserve(); err != nil {
		return nil, err
	}

	code = roomcode.Normalize(code)
	if !roomcode.IsValid(code) {
		l.state.Clear()
		return nil, errors.Wrapf(ErrInvalidCode, "code %q", code)
	}

	localID, err := l.initialize(ctx, "")
	if err != nil {
		l.state.Clear()
		return nil, err
	}

	remoteID, err := l.directory.Resolve(ctx, code)
	if err != nil {
		l.state.Clear()
		return nil, connectionFailed(err, "failed to resolve join code")
	}

	now := l.now()
	self := jam.NewMember(localID, deviceName, now)
	stub := &jam.Session{
		Code:         code,
		CreatedAt:    now,
		LastActivity: now,
		Members:      []jam.Member{self},
		Queue:        []jam.QueueEntry{},
		History:      []jam.HistoryEntry{},
	}
	l.state.Begin(stub, localID, state.PhaseProvisional, now)

	// Observers see the stub before Connect: the host's snapshot may be merged
	// while Connect is still running and must be the last thing they see.
	l.notifySession(stub)

	connectCtx, cancel := withTimeout(ctx, l.connectTimeout)
	defer cancel()
	if err := l.transport.Connect(connectCtx, code, remoteID); err != nil {
		l.abort(ctx)
		l.bus.EmitSessionUpdate(nil)
		return nil, connectionFailed(err, "failed to connect to host")
	}

	zlog.Info().Msgf("joined session: code=%s host=%s local=%s", code, remoteID, localID)

	l.broadcast(ctx, protocol.MemberJoined, protocol.MemberJoinedPayload{Member: self})
	return stub, nil
}

// LeaveSession leaves the current session. It always clears local state and
// notifies that the session ended, even when nothing was current.
func (l *Lifecycle) LeaveSession(ctx context.Context, saveHistory bool) error {
	s := l.state.Snapshot()
	if s == nil {
		l.bus.EmitSessionUpdate(nil)
		return nil
	}
	localID := l.state.LocalID()

	var errs error
	if saveHistory {
		if err := l.storage.SavePastSession(ctx, l.pastSession(s)); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to save past session"))
		}
	}
	if err := l.broadcastStrict(ctx, protocol.MemberLeft, protocol.MemberLeftPayload{MemberID: localID}); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to announce leave"))
	}
	if s.CreatedBy == localID && s.Code != "" {
		if err := l.directory.Unregister(ctx, s.Code); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to unregister join code"))
		}
	}
	if err := l.transport.Disconnect(ctx); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to disconnect"))
	}

	l.state.Clear()
	zlog.Info().Msgf("left session: id=%s code=%s", s.ID, s.Code)
	l.bus.EmitSessionUpdate(nil)
	return errs
}

// GetCurrentSession returns a copy of the current session, or nil.
func (l *Lifecycle) GetCurrentSession() *jam.Session {
	return l.state.Snapshot()
}

// updateCurrentSession replaces the whole session value. Only the sync engine uses it.
func (l *Lifecycle) updateCurrentSession(fn func(current *jam.Session) (*jam.Session, error)) (*jam.Session, error) {
	return l.state.Replace(fn)
}

func (l *Lifecycle) initialize(ctx context.Context, identity string) (string, error) {
	ctx, cancel := withTimeout(ctx, l.connectTimeout)
	defer cancel()
	localID, err := l.transport.Initialize(ctx, identity)
	if err != nil {
		return "", connectionFailed(err, "failed to initialize transport")
	}
	return localID, nil
}

// abort tears down a half-established session.
func (l *Lifecycle) abort(ctx context.Context) {
	if err := l.transport.Disconnect(ctx); err != nil {
		zlog.Warn().Msgf("disconnect after failed setup: err=%v", err)
	}
	l.state.Clear()
}

func (l *Lifecycle) addToRoom(ctx context.Context, roomID, sessionID string) error {
	room, err := l.storage.GetRoom(ctx, roomID)
	if err != nil {
		return errors.Wrapf(err, "room %s", roomID)
	}
	room.AddSession(sessionID, l.now())
	return l.storage.SaveRoom(ctx, *room)
}

func (l *Lifecycle) pastSession(s *jam.Session) jam.PastSession {
	id := s.ID
	if id == "" {
		// A joiner that never received a snapshot has no session ID.
		id = uuid.New().String()
	}
	history := s.History
	if history == nil {
		history = []jam.HistoryEntry{}
	}
	return jam.PastSession{
		ID:           id,
		Name:         s.Name,
		Date:         s.CreatedAt,
		DurationMs:   l.now().Sub(l.state.StartedAt()).Milliseconds(),
		Participants: s.Participants(),
		TabsPlayed:   history,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
