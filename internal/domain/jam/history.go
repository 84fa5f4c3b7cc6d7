package jam

import (
	"time"

	"github.com/osa030/jamtab/internal/domain/tab"
)

// HistoryEntry records a tab that was current at some point.
type HistoryEntry struct {
	TabID      string    `json:"tabId"`              // Queue entry ID
	Tab        tab.Tab   `json:"tab"`                // Tab payload
	PlayedAt   time.Time `json:"playedAt"`           // When the tab was switched away from
	DurationMs *int64    `json:"duration,omitempty"` // Never filled in yet
}

// PastSession is the record persisted when a member leaves a session.
type PastSession struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Date         time.Time      `json:"date"`
	DurationMs   int64          `json:"duration"`
	Participants []string       `json:"participants"`
	TabsPlayed   []HistoryEntry `json:"tabsPlayed"`
}

// Room is a persistent jam room that groups sessions over time.
type Room struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SessionIDs []string  `json:"sessionIds"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// AddSession appends a session ID to the room and marks it used.
func (r *Room) AddSession(sessionID string, now time.Time) {
	r.SessionIDs = append(r.SessionIDs, sessionID)
	r.LastUsedAt = now
}

func cloneHistory(entries []HistoryEntry) []HistoryEntry {
	if entries == nil {
		return nil
	}
	out := make([]HistoryEntry, len(entries))
	for i, h := range entries {
		if h.DurationMs != nil {
			d := *h.DurationMs
			h.DurationMs = &d
		}
		out[i] = h
	}
	return out
}
