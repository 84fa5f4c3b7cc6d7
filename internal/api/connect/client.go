package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/jamtab/internal/app/notification"
	"github.com/osa030/jamtab/internal/domain/jam"
	"github.com/osa030/jamtab/internal/domain/playlist"
	"github.com/osa030/jamtab/internal/domain/tab"
)

// Client calls a JamService.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient creates a client for the service at baseURL, authenticating with token.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts: append([]connect.ClientOption{
			connect.WithCodec(jsonCodec{}),
			connect.WithInterceptors(&tokenInterceptor{token: token}),
		}, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *Client, procedure string, req *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, c.opts...)
	res, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) CreateSession(ctx context.Context, name, deviceName, roomID string) (*jam.Session, error) {
	res, err := call[CreateSessionRequest, SessionResponse](ctx, c, CreateSessionProcedure,
		&CreateSessionRequest{Name: name, DeviceName: deviceName, RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return res.Session, nil
}

func (c *Client) JoinSession(ctx context.Context, code, deviceName string) (*jam.Session, error) {
	res, err := call[JoinSessionRequest, SessionResponse](ctx, c, JoinSessionProcedure,
		&JoinSessionRequest{Code: code, DeviceName: deviceName})
	if err != nil {
		return nil, err
	}
	return res.Session, nil
}

// LeaveSession leaves the current session. A nil saveHistory uses the daemon default.
func (c *Client) LeaveSession(ctx context.Context, saveHistory *bool) error {
	_, err := call[LeaveSessionRequest, Empty](ctx, c, LeaveSessionProcedure, &LeaveSessionRequest{SaveHistory: saveHistory})
	return err
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	return call[Empty, StatusResponse](ctx, c, GetStatusProcedure, &Empty{})
}

func (c *Client) RequestSessionState(ctx context.Context) error {
	_, err := call[Empty, Empty](ctx, c, RequestSessionStateProcedure, &Empty{})
	return err
}

func (c *Client) AddTab(ctx context.Context, t tab.Tab) (*jam.QueueEntry, error) {
	res, err := call[AddTabRequest, QueueEntryResponse](ctx, c, AddTabProcedure, &AddTabRequest{Tab: t})
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

func (c *Client) RemoveTab(ctx context.Context, id string) error {
	_, err := call[EntryRequest, Empty](ctx, c, RemoveTabProcedure, &EntryRequest{ID: id})
	return err
}

func (c *Client) ReorderQueue(ctx context.Context, ids []string) error {
	_, err := call[ReorderQueueRequest, Empty](ctx, c, ReorderQueueProcedure, &ReorderQueueRequest{EntryIDs: ids})
	return err
}

func (c *Client) SetCurrentTab(ctx context.Context, id string) error {
	_, err := call[EntryRequest, Empty](ctx, c, SetCurrentTabProcedure, &EntryRequest{ID: id})
	return err
}

func (c *Client) GetNextTab(ctx context.Context) (*jam.QueueEntry, error) {
	res, err := call[Empty, QueueEntryResponse](ctx, c, GetNextTabProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

// PlayNextTab advances the queue and returns the entry now current.
func (c *Client) PlayNextTab(ctx context.Context) (*jam.QueueEntry, error) {
	res, err := call[Empty, QueueEntryResponse](ctx, c, PlayNextTabProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

func (c *Client) GetMembers(ctx context.Context) ([]jam.Member, error) {
	res, err := call[Empty, MembersResponse](ctx, c, GetMembersProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Members, nil
}

func (c *Client) GetCurrentMember(ctx context.Context) (*jam.Member, error) {
	res, err := call[Empty, MemberResponse](ctx, c, GetCurrentMemberProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Member, nil
}

func (c *Client) UpdateMember(ctx context.Context, deviceName string) (*jam.Member, error) {
	res, err := call[UpdateMemberRequest, MemberResponse](ctx, c, UpdateMemberProcedure, &UpdateMemberRequest{DeviceName: &deviceName})
	if err != nil {
		return nil, err
	}
	return res.Member, nil
}

func (c *Client) UpdateSettings(ctx context.Context, req *UpdateSettingsRequest) (*jam.Settings, error) {
	res, err := call[UpdateSettingsRequest, SettingsResponse](ctx, c, UpdateSettingsProcedure, req)
	if err != nil {
		return nil, err
	}
	return res.Settings, nil
}

func (c *Client) SetScrollSync(ctx context.Context, enabled bool) error {
	_, err := call[ScrollSyncRequest, Empty](ctx, c, SetScrollSyncProcedure, &ScrollSyncRequest{Enabled: enabled})
	return err
}

func (c *Client) UpdateScrollPosition(ctx context.Context, line int) error {
	_, err := call[ScrollPositionRequest, Empty](ctx, c, UpdateScrollPositionProcedure, &ScrollPositionRequest{Line: line})
	return err
}

func (c *Client) GetPastSessions(ctx context.Context) ([]jam.PastSession, error) {
	res, err := call[Empty, PastSessionsResponse](ctx, c, GetPastSessionsProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) DeletePastSession(ctx context.Context, id string) error {
	_, err := call[EntryRequest, Empty](ctx, c, DeletePastSessionProcedure, &EntryRequest{ID: id})
	return err
}

func (c *Client) ExportPastSessions(ctx context.Context) ([]byte, error) {
	res, err := call[Empty, ExportResponse](ctx, c, ExportPastSessionsProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

func (c *Client) CreateRoom(ctx context.Context, name string) (*jam.Room, error) {
	res, err := call[CreateRoomRequest, RoomResponse](ctx, c, CreateRoomProcedure, &CreateRoomRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return res.Room, nil
}

func (c *Client) GetRooms(ctx context.Context) ([]jam.Room, error) {
	res, err := call[Empty, RoomsResponse](ctx, c, GetRoomsProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Rooms, nil
}

func (c *Client) DeleteRoom(ctx context.Context, id string) error {
	_, err := call[EntryRequest, Empty](ctx, c, DeleteRoomProcedure, &EntryRequest{ID: id})
	return err
}

func (c *Client) SavePlaylist(ctx context.Context, name, description string, tabs []tab.Tab) (*playlist.Playlist, error) {
	res, err := call[SavePlaylistRequest, PlaylistResponse](ctx, c, SavePlaylistProcedure,
		&SavePlaylistRequest{Name: name, Description: description, Tabs: tabs})
	if err != nil {
		return nil, err
	}
	return res.Playlist, nil
}

func (c *Client) GetPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	res, err := call[Empty, PlaylistsResponse](ctx, c, GetPlaylistsProcedure, &Empty{})
	if err != nil {
		return nil, err
	}
	return res.Playlists, nil
}

func (c *Client) GetPlaylist(ctx context.Context, id string) (*playlist.Playlist, error) {
	res, err := call[EntryRequest, PlaylistResponse](ctx, c, GetPlaylistProcedure, &EntryRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return res.Playlist, nil
}

func (c *Client) UpdatePlaylist(ctx context.Context, p playlist.Playlist) (*playlist.Playlist, error) {
	res, err := call[UpdatePlaylistRequest, PlaylistResponse](ctx, c, UpdatePlaylistProcedure, &UpdatePlaylistRequest{Playlist: p})
	if err != nil {
		return nil, err
	}
	return res.Playlist, nil
}

func (c *Client) DeletePlaylist(ctx context.Context, id string) error {
	_, err := call[EntryRequest, Empty](ctx, c, DeletePlaylistProcedure, &EntryRequest{ID: id})
	return err
}

func (c *Client) QueuePlaylist(ctx context.Context, id string) ([]jam.QueueEntry, error) {
	res, err := call[EntryRequest, QueueResponse](ctx, c, QueuePlaylistProcedure, &EntryRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// SubscribeEvents opens the event stream. The first message is INITIAL_STATE.
func (c *Client) SubscribeEvents(ctx context.Context) (*connect.ServerStreamForClient[notification.Notification], error) {
	client := connect.NewClient[Empty, notification.Notification](c.httpClient, c.baseURL+SubscribeEventsProcedure, c.opts...)
	return client.CallServerStream(ctx, connect.NewRequest(&Empty{}))
}
