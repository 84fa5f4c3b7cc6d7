package session

import (
	"context"

	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/playlist"
	"github.com/osa030/jamtab/internal/protocol"
)

// Transport is the peer transport the session core runs on. Delivery is
// reliable and ordered per connection, with no ordering across connections.
type Transport interface {
	// Initialize sets up the local identity. An empty identity lets the transport choose.
	Initialize(ctx context.Context, identity string) (string, error)
	// Host starts accepting connections for the given join code.
	Host(ctx context.Context, code string) error
	// Connect opens a connection to a remote peer hosting code.
	Connect(ctx context.Context, code, remoteID string) error
	// Disconnect closes every connection without firing disconnect callbacks locally.
	Disconnect(ctx context.Context) error
	// Broadcast sends to every connected peer.
	Broadcast(ctx context.Context, env *protocol.Envelope) error
	// SendTo sends to one connected peer.
	SendTo(ctx context.Context, peerID string, env *protocol.Envelope) error
	OnEvent(handler func(env *protocol.Envelope, from string))
	OnPeerConnected(handler func(peerID string))
	OnPeerDisconnected(handler func(peerID string))
	ConnectedPeers() []string
	// Destroy releases the transport for good.
	Destroy() error
}

// Directory maps join codes to host identities.
type Directory interface {
	// HostIdentity returns the identity a host should request for code, or "".
	HostIdentity(code string) string
	Register(ctx context.Context, code, identity string) error
	Resolve(ctx context.Context, code string) (string, error)
	Unregister(ctx context.Context, code string) error
}

// Storage persists data at session boundaries. Missing entities are reported
// as jam.ErrNotFound.
type Storage interface {
	SavePastSession(ctx context.Context, s jam.PastSession) error
	GetPastSessions(ctx context.Context) ([]jam.PastSession, error)
	GetPastSession(ctx context.Context, id string) (*jam.PastSession, error)
	DeletePastSession(ctx context.Context, id string) error

	SaveRoom(ctx context.Context, r jam.Room) error
	GetRooms(ctx context.Context) ([]jam.Room, error)
	GetRoom(ctx context.Context, id string) (*jam.Room, error)
	DeleteRoom(ctx context.Context, id string) error

	SavePlaylist(ctx context.Context, p playlist.Playlist) error
	GetPlaylists(ctx context.Context) ([]playlist.Playlist, error)
	GetPlaylist(ctx context.Context, id string) (*playlist.Playlist, error)
	UpdatePlaylist(ctx context.Context, p playlist.Playlist) error
	DeletePlaylist(ctx context.Context, id string) error
}
