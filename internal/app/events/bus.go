// Package events provides the in-process session event bus.
package events

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/protocol"
)

// PeerEvent is an inbound envelope as seen by the sync engine.
type PeerEvent struct {
	Envelope *protocol.Envelope
	From     string
}

// subscription represents a subscriber on one channel.
type subscription[T any] struct {
	id      string
	handler func(T)
}

// channel is a multi-subscriber channel with copy-on-emit.
type channel[T any] struct {
	name string
	copy func(T) T

	mu   sync.RWMutex
	subs []subscription[T]
}

func newChannel[T any](name string, copy func(T) T) *channel[T] {
	return &channel[T]{name: name, copy: copy}
}

func (c *channel[T]) subscribe(handler func(T)) func() {
	id := uuid.New().String()

	c.mu.Lock()
	c.subs = append(c.subs, subscription[T]{id: id, handler: handler})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *channel[T]) emit(v T) {
	// Copy subscriptions to avoid holding the lock while handlers run
	c.mu.RLock()
	subs := make([]subscription[T], len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, s := range subs {
		c.invoke(s, c.copy(v))
	}
}

func (c *channel[T]) invoke(s subscription[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("event handler panicked: channel=%s subscription=%s panic=%v", c.name, s.id, r)
		}
	}()
	s.handler(v)
}

func (c *channel[T]) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Bus fans session notifications out to local observers.
// Every subscriber receives its own copy of collection payloads, and a
// panicking subscriber neither stops the others nor reaches the emitter.
type Bus struct {
	session *channel[*jam.Session]
	queue   *channel[[]jam.QueueEntry]
	members *channel[[]jam.Member]
	errs    *channel[error]
	peer    *channel[PeerEvent]
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		session: newChannel("session", func(s *jam.Session) *jam.Session { return s.Clone() }),
		queue:   newChannel("queue", jam.CloneQueue),
		members: newChannel("members", jam.CloneMembers),
		errs:    newChannel("error", func(err error) error { return err }),
		peer: newChannel("peer", func(e PeerEvent) PeerEvent {
			return PeerEvent{Envelope: e.Envelope.Clone(), From: e.From}
		}),
	}
}

// OnSessionUpdate subscribes to session changes. A nil session means the session ended.
func (b *Bus) OnSessionUpdate(handler func(*jam.Session)) func() {
	return b.session.subscribe(handler)
}

// OnQueueUpdate subscribes to queue changes.
func (b *Bus) OnQueueUpdate(handler func([]jam.QueueEntry)) func() {
	return b.queue.subscribe(handler)
}

// OnMemberUpdate subscribes to member list changes.
func (b *Bus) OnMemberUpdate(handler func([]jam.Member)) func() {
	return b.members.subscribe(handler)
}

// OnError subscribes to asynchronous errors, e.g. failed inbound messages.
func (b *Bus) OnError(handler func(error)) func() {
	return b.errs.subscribe(handler)
}

// OnPeerEvent subscribes to accepted inbound envelopes.
func (b *Bus) OnPeerEvent(handler func(PeerEvent)) func() {
	return b.peer.subscribe(handler)
}

// EmitSessionUpdate notifies session subscribers.
func (b *Bus) EmitSessionUpdate(s *jam.Session) { b.session.emit(s) }

// EmitQueueUpdate notifies queue subscribers.
func (b *Bus) EmitQueueUpdate(q []jam.QueueEntry) { b.queue.emit(q) }

// EmitMemberUpdate notifies member subscribers.
func (b *Bus) EmitMemberUpdate(m []jam.Member) { b.members.emit(m) }

// EmitError notifies error subscribers.
func (b *Bus) EmitError(err error) { b.errs.emit(err) }

// EmitPeerEvent notifies peer event subscribers.
func (b *Bus) EmitPeerEvent(e PeerEvent) { b.peer.emit(e) }

// SubscriberCount returns the number of subscribers across all channels.
func (b *Bus) SubscriberCount() int {
	return b.session.count() + b.queue.count() + b.members.count() + b.errs.count() + b.peer.count()
}
