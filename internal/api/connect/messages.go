package connect

import (
	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/playlist"
	"github.com/osa030/jamtab/internal/domain/tab"
)

// Empty is used by procedures that take or return nothing.
type Empty struct{}

type CreateSessionRequest struct {
	Name       string `json:"name"`
	DeviceName string `json:"deviceName"`
	RoomID     string `json:"roomId,omitempty"`
}

type JoinSessionRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName"`
}

type LeaveSessionRequest struct {
	// SaveHistory overrides the daemon's configured default when set.
	SaveHistory *bool `json:"saveHistory,omitempty"`
}

type SessionResponse struct {
	Session *jam.Session `json:"session"`
}

type StatusResponse struct {
	Phase   string       `json:"phase"`
	LocalID string       `json:"localId"`
	Peers   []string     `json:"peers"`
	Session *jam.Session `json:"session,omitempty"`
}

type AddTabRequest struct {
	Tab tab.Tab `json:"tab"`
}

type EntryRequest struct {
	ID string `json:"id"`
}

type ReorderQueueRequest struct {
	EntryIDs []string `json:"entryIds"`
}

type QueueEntryResponse struct {
	Entry *jam.QueueEntry `json:"entry,omitempty"`
}

type QueueResponse struct {
	Entries []jam.QueueEntry `json:"entries"`
}

type MembersResponse struct {
	Members []jam.Member `json:"members"`
}

type UpdateMemberRequest struct {
	DeviceName *string `json:"deviceName,omitempty"`
}

type MemberResponse struct {
	Member *jam.Member `json:"member"`
}

type UpdateSettingsRequest struct {
	SyncScrolling *bool   `json:"syncScrolling,omitempty"`
	SyncHost      *string `json:"syncHost,omitempty"`
	ClearSyncHost bool    `json:"clearSyncHost,omitempty"`
}

type SettingsResponse struct {
	Settings *jam.Settings `json:"settings"`
}

type ScrollSyncRequest struct {
	Enabled bool `json:"enabled"`
}

type ScrollPositionRequest struct {
	Line int `json:"line"`
}

type PastSessionsResponse struct {
	Sessions []jam.PastSession `json:"sessions"`
}

type ExportResponse struct {
	Document []byte `json:"document"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type RoomResponse struct {
	Room *jam.Room `json:"room"`
}

type RoomsResponse struct {
	Rooms []jam.Room `json:"rooms"`
}

type SavePlaylistRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tabs        []tab.Tab `json:"tabs"`
}

type UpdatePlaylistRequest struct {
	Playlist playlist.Playlist `json:"playlist"`
}

type PlaylistResponse struct {
	Playlist *playlist.Playlist `json:"playlist"`
}

type PlaylistsResponse struct {
	Playlists []playlist.Playlist `json:"playlists"`
}
