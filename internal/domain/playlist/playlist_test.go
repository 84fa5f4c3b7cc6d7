package playlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/jamtab/internal/domain/tab"
)

func TestPlaylist_TabIDs(t *testing.T) {
	tests := []struct {
		name     string
		playlist Playlist
		expected []string
	}{
		{
			name:     "empty playlist",
			playlist: Playlist{Tabs: []tab.Tab{}},
			expected: []string{},
		},
		{
			name: "multiple tabs",
			playlist: Playlist{Tabs: []tab.Tab{
				{ID: "t1", Title: "Wish You Were Here"},
				{ID: "t2", Title: "Hotel California"},
			}},
			expected: []string{"t1", "t2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.playlist.TabIDs())
		})
	}
}

func TestPlaylist_Add(t *testing.T) {
	now := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	p := Playlist{}

	assert.True(t, p.Add(tab.Tab{ID: "t1", Title: "Creep", Artist: "Radiohead"}, now))
	assert.Equal(t, now, p.UpdatedAt)

	// Same song from a different source is rejected
	assert.False(t, p.Add(tab.Tab{ID: "t9", Title: "creep", Artist: "RADIOHEAD"}, now.Add(time.Hour)))
	assert.Len(t, p.Tabs, 1)
	assert.Equal(t, now, p.UpdatedAt)
}
