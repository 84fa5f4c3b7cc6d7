package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/app/events"
	"github.com/osa030/jamtab/internal/app/filter"
	"github.com/osa030/jamtab/internal/app/session/state"
	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/protocol"
)

type handlerFunc func(ctx context.Context, env *protocol.Envelope) error

// Sync applies peer events to the local session and pushes full state to
// newly connected peers.
type Sync struct {
	*core
	lifecycle *Lifecycle
	chain     *filter.Chain
	handlers  map[protocol.EventType]handlerFunc
	once      sync.Once
}

func newSync(c *core, lifecycle *Lifecycle, chain *filter.Chain) *Sync {
	s := &Sync{core: c, lifecycle: lifecycle, chain: chain}
	s.handlers = map[protocol.EventType]handlerFunc{
		protocol.MemberJoined:           s.handleMemberJoined,
		protocol.MemberLeft:             s.handleMemberLeft,
		protocol.MemberUpdated:          s.handleMemberUpdated,
		protocol.QueueTabAdded:          s.handleQueueTabAdded,
		protocol.QueueTabRemoved:        s.handleQueueTabRemoved,
		protocol.QueueReordered:         s.handleQueueReordered,
		protocol.TabStarted:             s.handleTabStarted,
		protocol.ScrollPositionUpdated:  s.handleScrollPositionUpdated,
		protocol.SessionSettingsUpdated: s.handleSettingsUpdated,
		protocol.SessionStateSync:       s.handleStateSync,
	}
	return s
}

// Initialize registers the transport callbacks. Repeated calls are no-ops.
func (s *Sync) Initialize() {
	s.once.Do(func() {
		s.transport.OnEvent(s.handleEvent)
		s.transport.OnPeerConnected(s.handlePeerConnected)
		s.transport.OnPeerDisconnected(s.handlePeerDisconnected)
	})
}

// RequestSessionState does nothing: state is pushed by the host when a peer
// connects and there is no pull round trip.
func (s *Sync) RequestSessionState(ctx context.Context) error {
	return nil
}

func (s *Sync) handleEvent(env *protocol.Envelope, from string) {
	ctx := context.Background()
	in := filter.Inbound{
		Envelope:  env,
		From:      from,
		LocalID:   s.state.LocalID(),
		InSession: s.state.InSession(),
	}
	if result := s.chain.Execute(ctx, in); !result.Accepted {
		zlog.Debug().Msgf("envelope dropped: type=%s from=%s code=%s", env.Type, from, result.Code)
		return
	}

	if err := s.dispatch(ctx, env); err != nil {
		zlog.Error().Msgf("failed to handle peer event: type=%s from=%s err=%v", env.Type, from, err)
		s.bus.EmitError(err)
	}
	s.bus.EmitPeerEvent(events.PeerEvent{Envelope: env, From: from})
}

func (s *Sync) dispatch(ctx context.Context, env *protocol.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic handling %s: %v", env.Type, r)
		}
	}()

	handler, ok := s.handlers[env.Type]
	if !ok {
		return nil
	}
	return errors.Wrapf(handler(ctx, env), "handle %s", env.Type)
}

func (s *Sync) handlePeerConnected(peerID string) {
	zlog.Info().Msgf("peer connected: peer=%s", peerID)
	if s.state.GetPhase() != state.PhaseActive {
		return
	}
	current := s.state.Snapshot()
	if current == nil {
		return
	}

	env, err := protocol.NewEnvelope(protocol.SessionStateSync, s.state.LocalID(),
		protocol.SessionStateSyncPayload{Session: current}, s.now())
	if err == nil {
		err = s.transport.SendTo(context.Background(), peerID, env)
	}
	if err != nil {
		zlog.Warn().Msgf("failed to push session state: peer=%s err=%v", peerID, err)
		s.bus.EmitError(errors.Wrapf(err, "push session state to %s", peerID))
	}
}

func (s *Sync) handlePeerDisconnected(peerID string) {
	zlog.Info().Msgf("peer disconnected: peer=%s", peerID)
	var known bool
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		known = sess.SetMemberOnline(peerID, false)
		return nil
	})
	if err != nil || !known {
		return
	}
	s.bus.EmitMemberUpdate(updated.Members)
}

func (s *Sync) handleMemberJoined(_ context.Context, env *protocol.Envelope) error {
	var p protocol.MemberJoinedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.Member.ID == "" {
		return errors.New("member without id")
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		sess.UpsertMember(p.Member)
		sess.Touch(s.now())
		return nil
	})
	if err != nil {
		return err
	}
	zlog.Info().Msgf("member joined: id=%s device=%s", p.Member.ID, p.Member.DeviceName)
	s.notifyMembers(updated)
	return nil
}

func (s *Sync) handleMemberLeft(_ context.Context, env *protocol.Envelope) error {
	var p protocol.MemberLeftPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		if sess.RemoveMember(p.MemberID) {
			sess.Touch(s.now())
		}
		return nil
	})
	if err != nil {
		return err
	}
	zlog.Info().Msgf("member left: id=%s", p.MemberID)
	s.notifyMembers(updated)
	return nil
}

func (s *Sync) handleMemberUpdated(_ context.Context, env *protocol.Envelope) error {
	var p protocol.MemberUpdatedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		if sess.Member(p.MemberID) == nil {
			return nil
		}
		if err := sess.UpdateMember(p.MemberID, p.Updates); err != nil {
			return err
		}
		sess.Touch(s.now())
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyMembers(updated)
	return nil
}

func (s *Sync) handleQueueTabAdded(_ context.Context, env *protocol.Envelope) error {
	var p protocol.QueueTabAddedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		sess.AddToQueue(p.QueueTab)
		sess.Touch(s.now())
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyQueue(updated)
	return nil
}

func (s *Sync) handleQueueTabRemoved(_ context.Context, env *protocol.Envelope) error {
	var p protocol.QueueTabRemovedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		if sess.RemoveFromQueue(p.QueueTabID) {
			sess.Touch(s.now())
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyQueue(updated)
	return nil
}

func (s *Sync) handleQueueReordered(_ context.Context, env *protocol.Envelope) error {
	var p protocol.QueueReorderedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		sess.ReplaceQueue(p.QueueTabs)
		sess.Touch(s.now())
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyQueue(updated)
	return nil
}

func (s *Sync) handleTabStarted(_ context.Context, env *protocol.Envelope) error {
	var p protocol.TabStartedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		return sess.StartTab(p.TabID, s.now())
	})
	if err != nil {
		return err
	}
	s.bus.EmitSessionUpdate(updated)
	return nil
}

func (s *Sync) handleScrollPositionUpdated(_ context.Context, env *protocol.Envelope) error {
	var p protocol.ScrollPositionUpdatedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	var known bool
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		if sess.Member(p.MemberID) == nil {
			return nil
		}
		known = true
		if err := sess.SetScrollPosition(p.MemberID, p.LineNumber); err != nil {
			return err
		}
		sess.Touch(s.now())
		return nil
	})
	if err != nil || !known {
		return err
	}
	s.bus.EmitMemberUpdate(updated.Members)
	return nil
}

func (s *Sync) handleSettingsUpdated(_ context.Context, env *protocol.Envelope) error {
	var p protocol.SessionSettingsUpdatedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	updated, err := s.state.Mutate(func(sess *jam.Session, _ string) error {
		if err := sess.ApplySettings(p.Settings); err != nil {
			return err
		}
		sess.Touch(s.now())
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.EmitSessionUpdate(updated)
	return nil
}

// handleStateSync adopts a remote snapshot. Every field comes from the remote
// except members, which are merged into the local list.
func (s *Sync) handleStateSync(_ context.Context, env *protocol.Envelope) error {
	remote, rawMembers, err := protocol.DecodeStateSync(env)
	if err != nil {
		return err
	}
	updated, err := s.lifecycle.updateCurrentSession(func(current *jam.Session) (*jam.Session, error) {
		if current == nil {
			return remote, nil
		}
		merged, err := jam.MergeMembers(current.Members, rawMembers)
		if err != nil {
			return nil, err
		}
		remote.Members = merged
		return remote, nil
	})
	if err != nil {
		return err
	}
	zlog.Info().Msgf("session state synced: id=%s members=%d queue=%d", updated.ID, len(updated.Members), len(updated.Queue))
	s.notifySession(updated)
	return nil
}
