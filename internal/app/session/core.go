package session

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/app/events"
	"github.com/osa030/jamtab/internal/app/session/state"
	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/protocol"
)

// core holds what every session component shares.
type core struct {
	state     *state.Manager
	transport Transport
	bus       *events.Bus
	now       func() time.Time
}

// broadcast sends an event to every peer. Failures are logged and dropped:
// peers may miss an update, the local mutation stands.
func (c *core) broadcast(ctx context.Context, t protocol.EventType, payload any) {
	if err := c.broadcastStrict(ctx, t, payload); err != nil {
		zlog.Warn().Msgf("broadcast failed: type=%s err=%v", t, err)
	}
}

// broadcastStrict sends an event to every peer and returns any failure.
func (c *core) broadcastStrict(ctx context.Context, t protocol.EventType, payload any) error {
	env, err := protocol.NewEnvelope(t, c.state.LocalID(), payload, c.now())
	if err != nil {
		return err
	}
	return c.transport.Broadcast(ctx, env)
}

// notifySession emits session, queue and member notifications, in that order.
func (c *core) notifySession(s *jam.Session) {
	c.bus.EmitSessionUpdate(s)
	if s == nil {
		return
	}
	c.bus.EmitQueueUpdate(s.Queue)
	c.bus.EmitMemberUpdate(s.Members)
}

// notifyQueue emits queue and session notifications.
func (c *core) notifyQueue(s *jam.Session) {
	c.bus.EmitQueueUpdate(s.Queue)
	c.bus.EmitSessionUpdate(s)
}

// notifyMembers emits member and session notifications.
func (c *core) notifyMembers(s *jam.Session) {
	c.bus.EmitMemberUpdate(s.Members)
	c.bus.EmitSessionUpdate(s)
}
