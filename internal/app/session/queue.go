package session

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/tab"
	"github.com/osa030/jamtab/internal/protocol"
)

// Queue manages the shared tab queue of the current session.
type Queue struct {
	*core
}

// AddTabToQueue appends a tab to the end of the queue.
func (q *Queue) AddTabToQueue(ctx context.Context, t tab.Tab) (*jam.QueueEntry, error) {
	var entry jam.QueueEntry
	s, err := q.state.Mutate(func(s *jam.Session, localID string) error {
		now := q.now()
		entry = jam.QueueEntry{
			ID:      uuid.New().String(),
			Tab:     t,
			AddedBy: localID,
			AddedAt: now,
			Order:   len(s.Queue),
		}
		s.AddToQueue(entry)
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	zlog.Debug().Msgf("tab queued: entry=%s tab=%s", entry.ID, t.DisplayName())
	q.broadcast(ctx, protocol.QueueTabAdded, protocol.QueueTabAddedPayload{QueueTab: entry})
	q.notifyQueue(s)
	return &entry, nil
}

// RemoveTabFromQueue drops an entry. Remaining entries keep their order values.
func (q *Queue) RemoveTabFromQueue(ctx context.Context, id string) error {
	s, err := q.state.Mutate(func(s *jam.Session, _ string) error {
		if !s.RemoveFromQueue(id) {
			return errors.Wrapf(ErrQueueTabNotFound, "queue tab %s", id)
		}
		s.Touch(q.now())
		return nil
	})
	if err != nil {
		return err
	}

	q.broadcast(ctx, protocol.QueueTabRemoved, protocol.QueueTabRemovedPayload{QueueTabID: id})
	q.notifyQueue(s)
	return nil
}

// ReorderQueue replaces the queue with the given ordering and renumbers it.
func (q *Queue) ReorderQueue(ctx context.Context, entries []jam.QueueEntry) error {
	s, err := q.state.Mutate(func(s *jam.Session, _ string) error {
		s.ReplaceQueue(entries)
		s.Touch(q.now())
		return nil
	})
	if err != nil {
		return err
	}

	q.broadcast(ctx, protocol.QueueReordered, protocol.QueueReorderedPayload{QueueTabs: s.Queue})
	q.notifyQueue(s)
	return nil
}

// SetCurrentTab makes a queued entry the current tab.
func (q *Queue) SetCurrentTab(ctx context.Context, id string) error {
	s, err := q.state.Mutate(func(s *jam.Session, _ string) error {
		return s.StartTab(id, q.now())
	})
	if err != nil {
		return err
	}

	zlog.Info().Msgf("tab started: entry=%s", id)
	q.broadcast(ctx, protocol.TabStarted, protocol.TabStartedPayload{TabID: id})
	q.bus.EmitSessionUpdate(s)
	return nil
}

// GetNextTab returns the entry after the current one, or nil.
func (q *Queue) GetNextTab() (*jam.QueueEntry, error) {
	s := q.state.Snapshot()
	if s == nil || q.state.LocalID() == "" {
		return nil, ErrNotInSession
	}
	return s.NextEntry(), nil
}

// PlayNextTab advances to the next entry. It does nothing at the end of the queue.
func (q *Queue) PlayNextTab(ctx context.Context) error {
	next, err := q.GetNextTab()
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return q.SetCurrentTab(ctx, next.ID)
}
