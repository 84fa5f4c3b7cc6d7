// Package notification fans session events out to control API subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osa030/jamtab/internal/app/events"
	"github.com/osa030/jamtab/internal/domain/jam"
)

// Type identifies a notification.
type Type string

const (
	TypeInitialState Type = "INITIAL_STATE"
	TypeSession      Type = "SESSION_UPDATED"
	TypeSessionEnded Type = "SESSION_ENDED"
	TypeQueue        Type = "QUEUE_UPDATED"
	TypeMembers      Type = "MEMBERS_UPDATED"
	TypeError        Type = "ERROR"
)

// Notification is one event delivered to a subscriber.
type Notification struct {
	Type       Type             `json:"type"`
	SequenceNo uint64           `json:"sequenceNo"`
	Session    *jam.Session     `json:"session,omitempty"`
	Queue      []jam.QueueEntry `json:"queue,omitempty"`
	Members    []jam.Member     `json:"members,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   500 * time.Millisecond,
	}
}

// Attach forwards bus events to subscribers. The returned func detaches.
func (m *Manager) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.OnSessionUpdate(func(s *jam.Session) {
			if s == nil {
				m.Broadcast(&Notification{Type: TypeSessionEnded})
				return
			}
			m.Broadcast(&Notification{Type: TypeSession, Session: s})
		}),
		bus.OnQueueUpdate(func(q []jam.QueueEntry) {
			m.Broadcast(&Notification{Type: TypeQueue, Queue: q})
		}),
		bus.OnMemberUpdate(func(members []jam.Member) {
			m.Broadcast(&Notification{Type: TypeMembers, Members: members})
		}),
		bus.OnError(func(err error) {
			m.Broadcast(&Notification{Type: TypeError, Error: err.Error()})
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast stamps the next sequence number and sends to every subscriber.
// A subscriber that does not accept within the send timeout misses the event.
func (m *Manager) Broadcast(n *Notification) {
	n.SequenceNo = m.NextSequenceNo()

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case <-done:
			case <-ctx.Done():
			}
		}(sub)
	}
	wg.Wait()
}

// Send sends a notification to one subscriber.
func (m *Manager) Send(subscriptionID string, n *Notification) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return sub.stream.Send(n)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
