// Package tab provides the Tab domain entity.
package tab

import "strings"

// Tab represents a guitar tab shared in a jam session.
// The session layer carries it as an opaque payload.
type Tab struct {
	ID      string `json:"id"`                // Source tab ID
	Title   string `json:"title"`             // Song title
	Artist  string `json:"artist"`            // Artist name
	URL     string `json:"url,omitempty"`     // Source URL
	Tuning  string `json:"tuning,omitempty"`  // e.g. "E A D G B E"
	Capo    int    `json:"capo,omitempty"`    // Capo fret (0 = none)
	Content string `json:"content,omitempty"` // Raw tab text
}

// DisplayName returns "Artist - Title", or just the title when the artist is unknown.
func (t *Tab) DisplayName() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

// SameSong reports whether two tabs describe the same song.
// Tabs with the same ID always match; otherwise title and artist are
// compared case-insensitively, ignoring surrounding whitespace.
func (t *Tab) SameSong(other *Tab) bool {
	if other == nil {
		return false
	}
	if t.ID != "" && t.ID == other.ID {
		return true
	}
	return normalize(t.Title) == normalize(other.Title) &&
		normalize(t.Artist) == normalize(other.Artist)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
