package jam

import "time"

// Member represents a device participating in a jam session.
type Member struct {
	ID             string    `json:"id" mapstructure:"id"`                                   // Peer identity
	DeviceName     string    `json:"deviceName" mapstructure:"deviceName"`                   // Display name
	JoinedAt       time.Time `json:"joinedAt" mapstructure:"joinedAt"`                       // Join time
	IsOnline       bool      `json:"isOnline" mapstructure:"isOnline"`                       // Transport connection state
	ScrollPosition *int      `json:"scrollPosition,omitempty" mapstructure:"scrollPosition"` // Last broadcast line, if any
}

// NewMember creates an online member that joined now.
func NewMember(id, deviceName string, now time.Time) Member {
	return Member{
		ID:         id,
		DeviceName: deviceName,
		JoinedAt:   now,
		IsOnline:   true,
	}
}

// Clone returns a deep copy of the member.
func (m Member) Clone() Member {
	if m.ScrollPosition != nil {
		pos := *m.ScrollPosition
		m.ScrollPosition = &pos
	}
	return m
}

// Apply merges the given fields into the member. The ID never changes.
func (m *Member) Apply(fields map[string]any) error {
	id := m.ID
	if err := patch(fields, m); err != nil {
		return err
	}
	m.ID = id
	return nil
}

// MemberUpdate is a partial update of the local member. Nil fields are left untouched.
type MemberUpdate struct {
	DeviceName     *string
	IsOnline       *bool
	ScrollPosition *int
}

// Fields returns the update in wire form, containing only the set fields.
func (u MemberUpdate) Fields() map[string]any {
	fields := make(map[string]any)
	if u.DeviceName != nil {
		fields["deviceName"] = *u.DeviceName
	}
	if u.IsOnline != nil {
		fields["isOnline"] = *u.IsOnline
	}
	if u.ScrollPosition != nil {
		fields["scrollPosition"] = *u.ScrollPosition
	}
	return fields
}

// MergeMembers merges a remote member list into a local one.
// Known IDs get the remote fields applied over the local record, so fields
// missing from the remote entry keep their local value. Unknown IDs are appended.
func MergeMembers(local []Member, remote []map[string]any) ([]Member, error) {
	merged := cloneMembers(local)
	for _, fields := range remote {
		id, _ := fields["id"].(string)
		if id == "" {
			continue
		}
		if idx := indexOfMember(merged, id); idx >= 0 {
			if err := merged[idx].Apply(fields); err != nil {
				return nil, err
			}
			continue
		}
		m := Member{ID: id}
		if err := m.Apply(fields); err != nil {
			return nil, err
		}
		merged = append(merged, m)
	}
	return merged, nil
}

func cloneMembers(members []Member) []Member {
	if members == nil {
		return nil
	}
	out := make([]Member, len(members))
	for i, m := range members {
		out[i] = m.Clone()
	}
	return out
}

func indexOfMember(members []Member, id string) int {
	for i := range members {
		if members[i].ID == id {
			return i
		}
	}
	return -1
}
