// Package playlist provides the saved Playlist domain entity.
package playlist

import (
	"time"

	"github.com/osa030/jamtab/internal/domain/tab"
)

// Playlist is a locally saved, ordered list of tabs that can be queued into a session.
type Playlist struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tabs        []tab.Tab `json:"tabs"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TabIDs returns all tab IDs in the playlist.
func (p *Playlist) TabIDs() []string {
	ids := make([]string, len(p.Tabs))
	for i, t := range p.Tabs {
		ids[i] = t.ID
	}
	return ids
}

// Contains reports whether the playlist already holds the same song.
func (p *Playlist) Contains(t *tab.Tab) bool {
	for i := range p.Tabs {
		if p.Tabs[i].SameSong(t) {
			return true
		}
	}
	return false
}

// Add appends a tab unless the same song is already present.
// It reports whether the tab was added.
func (p *Playlist) Add(t tab.Tab, now time.Time) bool {
	if p.Contains(&t) {
		return false
	}
	p.Tabs = append(p.Tabs, t)
	p.UpdatedAt = now
	return true
}
