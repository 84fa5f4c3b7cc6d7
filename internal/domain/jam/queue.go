package jam

import (
	"time"

	"github.com/osa030/jamtab/internal/domain/tab"
)

// QueueEntry represents a tab waiting in the session queue.
type QueueEntry struct {
	ID      string    `json:"id"`      // Entry UUID
	Tab     tab.Tab   `json:"tab"`     // Tab payload
	AddedBy string    `json:"addedBy"` // Member ID
	AddedAt time.Time `json:"addedAt"` // Time when added to queue
	Order   int       `json:"order"`   // Position, rewritten on every reorder
}

// Renumber rewrites Order to match each entry's index.
func Renumber(entries []QueueEntry) {
	for i := range entries {
		entries[i].Order = i
	}
}

func cloneQueue(entries []QueueEntry) []QueueEntry {
	if entries == nil {
		return nil
	}
	out := make([]QueueEntry, len(entries))
	copy(out, entries)
	return out
}

// CloneQueue returns a copy of the queue.
func CloneQueue(entries []QueueEntry) []QueueEntry {
	return cloneQueue(entries)
}

// CloneMembers returns a deep copy of the member list.
func CloneMembers(members []Member) []Member {
	return cloneMembers(members)
}
