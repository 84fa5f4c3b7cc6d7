// Package jam provides the jam session domain model shared by all peers.
package jam

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Settings holds session-wide options.
type Settings struct {
	SyncScrolling bool    `json:"syncScrolling" mapstructure:"syncScrolling"`
	SyncHost      *string `json:"syncHost" mapstructure:"syncHost"` // Member whose scroll position followers track
}

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	if s.SyncHost != nil {
		host := *s.SyncHost
		s.SyncHost = &host
	}
	return s
}

// SettingsUpdate is a partial settings update. Nil fields are left untouched.
type SettingsUpdate struct {
	SyncScrolling *bool
	SyncHost      *string
	ClearSyncHost bool // Sets SyncHost to null; wins over SyncHost
}

// Fields returns the update in wire form, containing only the set fields.
func (u SettingsUpdate) Fields() map[string]any {
	fields := make(map[string]any)
	if u.SyncScrolling != nil {
		fields["syncScrolling"] = *u.SyncScrolling
	}
	switch {
	case u.ClearSyncHost:
		fields["syncHost"] = nil
	case u.SyncHost != nil:
		fields["syncHost"] = *u.SyncHost
	}
	return fields
}

// Session is the replicated state of a jam session.
// One peer creates it; every other peer holds a copy kept in sync by broadcasts.
type Session struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Code         string         `json:"code"`      // Join code
	CreatedBy    string         `json:"createdBy"` // Originating peer; informational only
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
	Members      []Member       `json:"members"`
	Queue        []QueueEntry   `json:"queue"`
	CurrentTabID *string        `json:"currentTabId"`
	Settings     Settings       `json:"settings"`
	History      []HistoryEntry `json:"history"`
}

// Clone returns a deep copy of the session. A nil session clones to nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Members = cloneMembers(s.Members)
	out.Queue = cloneQueue(s.Queue)
	out.History = cloneHistory(s.History)
	out.Settings = s.Settings.Clone()
	if s.CurrentTabID != nil {
		id := *s.CurrentTabID
		out.CurrentTabID = &id
	}
	return &out
}

// Touch records activity at the given time.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// Member returns a pointer to the member with the given ID, or nil.
func (s *Session) Member(id string) *Member {
	if idx := indexOfMember(s.Members, id); idx >= 0 {
		return &s.Members[idx]
	}
	return nil
}

// UpsertMember adds the member, replacing an existing record with the same ID.
func (s *Session) UpsertMember(m Member) {
	if idx := indexOfMember(s.Members, m.ID); idx >= 0 {
		s.Members[idx] = m.Clone()
		return
	}
	s.Members = append(s.Members, m.Clone())
}

// RemoveMember removes the member and reports whether it was present.
func (s *Session) RemoveMember(id string) bool {
	idx := indexOfMember(s.Members, id)
	if idx < 0 {
		return false
	}
	s.Members = append(s.Members[:idx], s.Members[idx+1:]...)
	return true
}

// SetMemberOnline flips the online flag and reports whether the member exists.
func (s *Session) SetMemberOnline(id string, online bool) bool {
	m := s.Member(id)
	if m == nil {
		return false
	}
	m.IsOnline = online
	return true
}

// UpdateMember applies a partial update to a member.
func (s *Session) UpdateMember(id string, fields map[string]any) error {
	m := s.Member(id)
	if m == nil {
		return errors.Wrapf(ErrMemberNotFound, "member %s", id)
	}
	return m.Apply(fields)
}

// SetScrollPosition stores a member's scroll position.
func (s *Session) SetScrollPosition(id string, line int) error {
	m := s.Member(id)
	if m == nil {
		return errors.Wrapf(ErrMemberNotFound, "member %s", id)
	}
	m.ScrollPosition = &line
	return nil
}

// ApplySettings merges a partial settings update.
func (s *Session) ApplySettings(fields map[string]any) error {
	return patch(fields, &s.Settings)
}

// QueueIndex returns the index of the queue entry with the given ID, or -1.
func (s *Session) QueueIndex(id string) int {
	for i := range s.Queue {
		if s.Queue[i].ID == id {
			return i
		}
	}
	return -1
}

// AddToQueue appends an entry as-is.
func (s *Session) AddToQueue(e QueueEntry) {
	s.Queue = append(s.Queue, e)
}

// RemoveFromQueue drops the entry with the given ID.
// Remaining entries keep their Order values and CurrentTabID is not cleared.
func (s *Session) RemoveFromQueue(id string) bool {
	idx := s.QueueIndex(id)
	if idx < 0 {
		return false
	}
	s.Queue = append(s.Queue[:idx], s.Queue[idx+1:]...)
	return true
}

// ReplaceQueue installs a new ordering and renumbers every entry.
func (s *Session) ReplaceQueue(entries []QueueEntry) {
	q := cloneQueue(entries)
	if q == nil {
		q = []QueueEntry{}
	}
	Renumber(q)
	s.Queue = q
}

// StartTab makes the queue entry current. A previously current tab is pushed
// onto the history with PlayedAt set and no duration.
func (s *Session) StartTab(id string, now time.Time) error {
	idx := s.QueueIndex(id)
	if idx < 0 {
		return errors.Wrapf(ErrQueueTabNotFound, "queue tab %s", id)
	}
	if s.CurrentTabID != nil {
		entry := HistoryEntry{TabID: *s.CurrentTabID, PlayedAt: now}
		if prev := s.QueueIndex(*s.CurrentTabID); prev >= 0 {
			entry.Tab = s.Queue[prev].Tab
		}
		s.History = append(s.History, entry)
	}
	current := s.Queue[idx].ID
	s.CurrentTabID = &current
	s.Touch(now)
	return nil
}

// NextEntry returns the entry after the current one. With nothing current it
// returns the first entry. It returns nil when the current entry is last or
// no longer queued.
func (s *Session) NextEntry() *QueueEntry {
	if s.CurrentTabID == nil {
		if len(s.Queue) == 0 {
			return nil
		}
		e := s.Queue[0]
		return &e
	}
	idx := s.QueueIndex(*s.CurrentTabID)
	if idx < 0 || idx+1 >= len(s.Queue) {
		return nil
	}
	e := s.Queue[idx+1]
	return &e
}

// Participants returns the device names of all members.
func (s *Session) Participants() []string {
	names := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		names = append(names, m.DeviceName)
	}
	return names
}
