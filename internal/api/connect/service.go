// Package connect exposes the jam session manager over Connect RPC.
// Messages are plain JSON; there is no generated code.
package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/app/notification"
	"github.com/osa030/jamtab/internal/app/session"
	"github.com/osa030/jamtab/internal/domain/jam"
)

// ServiceName is the fully-qualified name of the control service.
const ServiceName = "jam.v1.JamService"

// Procedure paths.
const (
	CreateSessionProcedure        = "/" + ServiceName + "/CreateSession"
	JoinSessionProcedure          = "/" + ServiceName + "/JoinSession"
	LeaveSessionProcedure         = "/" + ServiceName + "/LeaveSession"
	GetStatusProcedure            = "/" + ServiceName + "/GetStatus"
	RequestSessionStateProcedure  = "/" + ServiceName + "/RequestSessionState"
	AddTabProcedure               = "/" + ServiceName + "/AddTab"
	RemoveTabProcedure            = "/" + ServiceName + "/RemoveTab"
	ReorderQueueProcedure         = "/" + ServiceName + "/ReorderQueue"
	SetCurrentTabProcedure        = "/" + ServiceName + "/SetCurrentTab"
	GetNextTabProcedure           = "/" + ServiceName + "/GetNextTab"
	PlayNextTabProcedure          = "/" + ServiceName + "/PlayNextTab"
	GetMembersProcedure           = "/" + ServiceName + "/GetMembers"
	GetCurrentMemberProcedure     = "/" + ServiceName + "/GetCurrentMember"
	UpdateMemberProcedure         = "/" + ServiceName + "/UpdateMember"
	UpdateSettingsProcedure       = "/" + ServiceName + "/UpdateSettings"
	SetScrollSyncProcedure        = "/" + ServiceName + "/SetScrollSync"
	UpdateScrollPositionProcedure = "/" + ServiceName + "/UpdateScrollPosition"
	GetPastSessionsProcedure      = "/" + ServiceName + "/GetPastSessions"
	DeletePastSessionProcedure    = "/" + ServiceName + "/DeletePastSession"
	ExportPastSessionsProcedure   = "/" + ServiceName + "/ExportPastSessions"
	CreateRoomProcedure           = "/" + ServiceName + "/CreateRoom"
	GetRoomsProcedure             = "/" + ServiceName + "/GetRooms"
	DeleteRoomProcedure           = "/" + ServiceName + "/DeleteRoom"
	SavePlaylistProcedure         = "/" + ServiceName + "/SavePlaylist"
	GetPlaylistsProcedure         = "/" + ServiceName + "/GetPlaylists"
	GetPlaylistProcedure          = "/" + ServiceName + "/GetPlaylist"
	UpdatePlaylistProcedure       = "/" + ServiceName + "/UpdatePlaylist"
	DeletePlaylistProcedure       = "/" + ServiceName + "/DeletePlaylist"
	QueuePlaylistProcedure        = "/" + ServiceName + "/QueuePlaylist"
	SubscribeEventsProcedure      = "/" + ServiceName + "/SubscribeEvents"
)

// Service implements JamService on top of a session manager.
type Service struct {
	manager       *session.Manager
	notifications *notification.Manager
	saveHistory   bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewService creates a new Service. saveHistory is the LeaveSession default.
func NewService(manager *session.Manager, notifications *notification.Manager, saveHistory bool) *Service {
	return &Service{
		manager:       manager,
		notifications: notifications,
		saveHistory:   saveHistory,
		done:          make(chan struct{}),
	}
}

// Close ends every open event stream.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Handler builds the HTTP handler serving every procedure.
// The returned path is the service prefix to mount it under.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()

	mux.Handle(unary(CreateSessionProcedure, s.CreateSession, opts...))
	mux.Handle(unary(JoinSessionProcedure, s.JoinSession, opts...))
	mux.Handle(unary(LeaveSessionProcedure, s.LeaveSession, opts...))
	mux.Handle(unary(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(unary(RequestSessionStateProcedure, s.RequestSessionState, opts...))
	mux.Handle(unary(AddTabProcedure, s.AddTab, opts...))
	mux.Handle(unary(RemoveTabProcedure, s.RemoveTab, opts...))
	mux.Handle(unary(ReorderQueueProcedure, s.ReorderQueue, opts...))
	mux.Handle(unary(SetCurrentTabProcedure, s.SetCurrentTab, opts...))
	mux.Handle(unary(GetNextTabProcedure, s.GetNextTab, opts...))
	mux.Handle(unary(PlayNextTabProcedure, s.PlayNextTab, opts...))
	mux.Handle(unary(GetMembersProcedure, s.GetMembers, opts...))
	mux.Handle(unary(GetCurrentMemberProcedure, s.GetCurrentMember, opts...))
	mux.Handle(unary(UpdateMemberProcedure, s.UpdateMember, opts...))
	mux.Handle(unary(UpdateSettingsProcedure, s.UpdateSettings, opts...))
	mux.Handle(unary(SetScrollSyncProcedure, s.SetScrollSync, opts...))
	mux.Handle(unary(UpdateScrollPositionProcedure, s.UpdateScrollPosition, opts...))
	mux.Handle(unary(GetPastSessionsProcedure, s.GetPastSessions, opts...))
	mux.Handle(unary(DeletePastSessionProcedure, s.DeletePastSession, opts...))
	mux.Handle(unary(ExportPastSessionsProcedure, s.ExportPastSessions, opts...))
	mux.Handle(unary(CreateRoomProcedure, s.CreateRoom, opts...))
	mux.Handle(unary(GetRoomsProcedure, s.GetRooms, opts...))
	mux.Handle(unary(DeleteRoomProcedure, s.DeleteRoom, opts...))
	mux.Handle(unary(SavePlaylistProcedure, s.SavePlaylist, opts...))
	mux.Handle(unary(GetPlaylistsProcedure, s.GetPlaylists, opts...))
	mux.Handle(unary(GetPlaylistProcedure, s.GetPlaylist, opts...))
	mux.Handle(unary(UpdatePlaylistProcedure, s.UpdatePlaylist, opts...))
	mux.Handle(unary(DeletePlaylistProcedure, s.DeletePlaylist, opts...))
	mux.Handle(unary(QueuePlaylistProcedure, s.QueuePlaylist, opts...))
	mux.Handle(SubscribeEventsProcedure, connect.NewServerStreamHandler(SubscribeEventsProcedure, s.SubscribeEvents, opts...))

	return "/" + ServiceName + "/", mux
}

// unary adapts a plain method to a connect unary handler.
func unary[Req, Res any](procedure string, fn func(context.Context, *Req) (*Res, error), opts ...connect.HandlerOption) (string, http.Handler) {
	return procedure, connect.NewUnaryHandler(procedure, func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			zlog.Debug().Msgf("control call failed: procedure=%s err=%v", procedure, err)
			return nil, toConnectError(err)
		}
		return connect.NewResponse(res), nil
	}, opts...)
}

func invalidArgument(msg string) error {
	return connect.NewError(connect.CodeInvalidArgument, errors.New(msg))
}

// Lifecycle

func (s *Service) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionResponse, error) {
	if req.Name == "" {
		return nil, invalidArgument("name is required")
	}
	created, err := s.manager.CreateSession(ctx, req.Name, req.DeviceName, req.RoomID)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{Session: created}, nil
}

func (s *Service) JoinSession(ctx context.Context, req *JoinSessionRequest) (*SessionResponse, error) {
	joined, err := s.manager.JoinSession(ctx, req.Code, req.DeviceName)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{Session: joined}, nil
}

func (s *Service) LeaveSession(ctx context.Context, req *LeaveSessionRequest) (*Empty, error) {
	save := s.saveHistory
	if req.SaveHistory != nil {
		save = *req.SaveHistory
	}
	if err := s.manager.LeaveSession(ctx, save); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) GetStatus(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	return &StatusResponse{
		Phase:   s.manager.Phase().String(),
		LocalID: s.manager.LocalID(),
		Peers:   s.manager.ConnectedPeers(),
		Session: s.manager.GetCurrentSession(),
	}, nil
}

func (s *Service) RequestSessionState(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.manager.RequestSessionState(ctx); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// Queue

func (s *Service) AddTab(ctx context.Context, req *AddTabRequest) (*QueueEntryResponse, error) {
	entry, err := s.manager.AddTabToQueue(ctx, req.Tab)
	if err != nil {
		return nil, err
	}
	return &QueueEntryResponse{Entry: entry}, nil
}

func (s *Service) RemoveTab(ctx context.Context, req *EntryRequest) (*Empty, error) {
	if err := s.manager.RemoveTabFromQueue(ctx, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// ReorderQueue rebuilds the queue in the order of the given entry IDs.
// Entries not listed are dropped, the same as passing a shorter list locally.
func (s *Service) ReorderQueue(ctx context.Context, req *ReorderQueueRequest) (*Empty, error) {
	current := s.manager.GetCurrentSession()
	if current == nil {
		return nil, session.ErrNotInSession
	}
	entries := make([]jam.QueueEntry, 0, len(req.EntryIDs))
	for _, id := range req.EntryIDs {
		i := current.QueueIndex(id)
		if i < 0 {
			return nil, errors.Wrapf(session.ErrQueueTabNotFound, "reorder: id=%s", id)
		}
		entries = append(entries, current.Queue[i])
	}
	if err := s.manager.ReorderQueue(ctx, entries); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) SetCurrentTab(ctx context.Context, req *EntryRequest) (*Empty, error) {
	if err := s.manager.SetCurrentTab(ctx, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) GetNextTab(ctx context.Context, _ *Empty) (*QueueEntryResponse, error) {
	next, err := s.manager.GetNextTab()
	if err != nil {
		return nil, err
	}
	return &QueueEntryResponse{Entry: next}, nil
}

func (s *Service) PlayNextTab(ctx context.Context, _ *Empty) (*QueueEntryResponse, error) {
	if err := s.manager.PlayNextTab(ctx); err != nil {
		return nil, err
	}
	res := &QueueEntryResponse{}
	if current := s.manager.GetCurrentSession(); current != nil && current.CurrentTabID != nil {
		if i := current.QueueIndex(*current.CurrentTabID); i >= 0 {
			res.Entry = &current.Queue[i]
		}
	}
	return res, nil
}

// Members

func (s *Service) GetMembers(ctx context.Context, _ *Empty) (*MembersResponse, error) {
	members, err := s.manager.GetMembers()
	if err != nil {
		return nil, err
	}
	return &MembersResponse{Members: members}, nil
}

func (s *Service) GetCurrentMember(ctx context.Context, _ *Empty) (*MemberResponse, error) {
	member, err := s.manager.GetCurrentMember()
	if err != nil {
		return nil, err
	}
	return &MemberResponse{Member: member}, nil
}

func (s *Service) UpdateMember(ctx context.Context, req *UpdateMemberRequest) (*MemberResponse, error) {
	member, err := s.manager.UpdateCurrentMember(ctx, jam.MemberUpdate{DeviceName: req.DeviceName})
	if err != nil {
		return nil, err
	}
	return &MemberResponse{Member: member}, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req *UpdateSettingsRequest) (*SettingsResponse, error) {
	settings, err := s.manager.UpdateSettings(ctx, jam.SettingsUpdate{
		SyncScrolling: req.SyncScrolling,
		SyncHost:      req.SyncHost,
		ClearSyncHost: req.ClearSyncHost,
	})
	if err != nil {
		return nil, err
	}
	return &SettingsResponse{Settings: settings}, nil
}

func (s *Service) SetScrollSync(ctx context.Context, req *ScrollSyncRequest) (*Empty, error) {
	var err error
	if req.Enabled {
		err = s.manager.EnableScrollSync(ctx)
	} else {
		err = s.manager.DisableScrollSync(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) UpdateScrollPosition(ctx context.Context, req *ScrollPositionRequest) (*Empty, error) {
	s.manager.UpdateScrollPosition(ctx, req.Line)
	return &Empty{}, nil
}

// History

func (s *Service) GetPastSessions(ctx context.Context, _ *Empty) (*PastSessionsResponse, error) {
	sessions, err := s.manager.GetPastSessions(ctx)
	if err != nil {
		return nil, err
	}
	return &PastSessionsResponse{Sessions: sessions}, nil
}

func (s *Service) DeletePastSession(ctx context.Context, req *EntryRequest) (*Empty, error) {
	if err := s.manager.DeletePastSession(ctx, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) ExportPastSessions(ctx context.Context, _ *Empty) (*ExportResponse, error) {
	doc, err := s.manager.ExportPastSessions(ctx)
	if err != nil {
		return nil, err
	}
	return &ExportResponse{Document: doc}, nil
}

// Rooms

func (s *Service) CreateRoom(ctx context.Context, req *CreateRoomRequest) (*RoomResponse, error) {
	if req.Name == "" {
		return nil, invalidArgument("name is required")
	}
	room, err := s.manager.CreateRoom(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return &RoomResponse{Room: room}, nil
}

func (s *Service) GetRooms(ctx context.Context, _ *Empty) (*RoomsResponse, error) {
	rooms, err := s.manager.GetRooms(ctx)
	if err != nil {
		return nil, err
	}
	return &RoomsResponse{Rooms: rooms}, nil
}

func (s *Service) DeleteRoom(ctx context.Context, req *EntryRequest) (*Empty, error) {
	if err := s.manager.DeleteRoom(ctx, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// Playlists

func (s *Service) SavePlaylist(ctx context.Context, req *SavePlaylistRequest) (*PlaylistResponse, error) {
	if req.Name == "" {
		return nil, invalidArgument("name is required")
	}
	p, err := s.manager.SavePlaylist(ctx, req.Name, req.Description, req.Tabs)
	if err != nil {
		return nil, err
	}
	return &PlaylistResponse{Playlist: p}, nil
}

func (s *Service) GetPlaylists(ctx context.Context, _ *Empty) (*PlaylistsResponse, error) {
	playlists, err := s.manager.GetPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	return &PlaylistsResponse{Playlists: playlists}, nil
}

func (s *Service) GetPlaylist(ctx context.Context, req *EntryRequest) (*PlaylistResponse, error) {
	p, err := s.manager.GetPlaylist(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &PlaylistResponse{Playlist: p}, nil
}

func (s *Service) UpdatePlaylist(ctx context.Context, req *UpdatePlaylistRequest) (*PlaylistResponse, error) {
	p, err := s.manager.UpdatePlaylist(ctx, req.Playlist)
	if err != nil {
		return nil, err
	}
	return &PlaylistResponse{Playlist: p}, nil
}

func (s *Service) DeletePlaylist(ctx context.Context, req *EntryRequest) (*Empty, error) {
	if err := s.manager.DeletePlaylist(ctx, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) QueuePlaylist(ctx context.Context, req *EntryRequest) (*QueueResponse, error) {
	entries, err := s.manager.QueuePlaylist(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &QueueResponse{Entries: entries}, nil
}

// Events

// SubscribeEvents sends the current state, then streams every notification
// until the client goes away or the service closes.
func (s *Service) SubscribeEvents(
	ctx context.Context,
	_ *connect.Request[Empty],
	stream *connect.ServerStream[notification.Notification],
) error {
	initial := &notification.Notification{
		Type:       notification.TypeInitialState,
		SequenceNo: s.notifications.NextSequenceNo(),
	}
	if current := s.manager.GetCurrentSession(); current != nil {
		initial.Session = current
		initial.Queue = current.Queue
		initial.Members = current.Members
	}
	if err := stream.Send(initial); err != nil {
		return err
	}

	adapter := &streamAdapter{stream: stream}
	id := s.notifications.Subscribe(adapter)
	defer s.notifications.Unsubscribe(id)
	zlog.Debug().Msgf("event subscriber attached: id=%s", id)

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	zlog.Debug().Msgf("event subscriber detached: id=%s", id)
	return nil
}

// streamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized since a timed-out send may still be in flight.
type streamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
}

func (a *streamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(n)
}
