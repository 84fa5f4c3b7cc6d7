package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jamtab/internal/app/notification"
	"github.com/osa030/jamtab/internal/app/session"
	"github.com/osa030/jamtab/internal/domain/tab"
	"github.com/osa030/jamtab/internal/infra/discovery"
	"github.com/osa030/jamtab/internal/infra/storage"
	"github.com/osa030/jamtab/internal/infra/transport/memory"
)

const testToken = "secret"

type testServer struct {
	url           string
	manager       *session.Manager
	notifications *notification.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)

	manager, err := session.NewManager(
		session.Config{ConnectTimeout: time.Second},
		memory.NewNetwork().NewNode(),
		discovery.NewDirect(nil),
		store,
	)
	require.NoError(t, err)

	notifications := notification.NewManager()
	detach := notifications.Attach(manager.Bus())

	svc := NewService(manager, notifications, true)
	mux := http.NewServeMux()
	mux.Handle(svc.Handler(connect.WithInterceptors(NewControlAuthInterceptor(testToken))))
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		svc.Close()
		srv.Close()
		detach()
		_ = manager.Close()
		_ = store.Close()
	})
	return &testServer{url: srv.URL, manager: manager, notifications: notifications}
}

func (s *testServer) client(token string) *Client {
	return NewClient(http.DefaultClient, s.url, token)
}

func TestService_RejectsBadToken(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	for _, token := range []string{"", "wrong"} {
		_, err := srv.client(token).GetStatus(ctx)
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err), "token=%q", token)
	}

	status, err := srv.client(testToken).GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", status.Phase)
	assert.Nil(t, status.Session)
}

func TestService_SessionRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client(testToken)
	ctx := context.Background()

	created, err := client.CreateSession(ctx, "Jam", "Amp", "")
	require.NoError(t, err)
	assert.Len(t, created.Code, 6)

	status, err := client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "active", status.Phase)
	assert.Equal(t, srv.manager.LocalID(), status.LocalID)
	require.NotNil(t, status.Session)
	assert.Equal(t, created.ID, status.Session.ID)

	_, err = client.CreateSession(ctx, "Again", "Amp", "")
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	first, err := client.AddTab(ctx, tab.Tab{ID: "t1", Title: "Wonderwall", Artist: "Oasis"})
	require.NoError(t, err)
	second, err := client.AddTab(ctx, tab.Tab{ID: "t2", Title: "Creep", Artist: "Radiohead"})
	require.NoError(t, err)

	require.NoError(t, client.ReorderQueue(ctx, []string{second.ID, first.ID}))
	queue := srv.manager.GetCurrentSession().Queue
	require.Len(t, queue, 2)
	assert.Equal(t, second.ID, queue[0].ID)
	assert.Equal(t, 0, queue[0].Order)
	assert.Equal(t, 1, queue[1].Order)

	err = client.ReorderQueue(ctx, []string{"missing"})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	next, err := client.GetNextTab(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)

	playing, err := client.PlayNextTab(ctx)
	require.NoError(t, err)
	require.NotNil(t, playing)
	assert.Equal(t, second.ID, playing.ID)

	err = client.RemoveTab(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	require.NoError(t, client.SetScrollSync(ctx, true))
	require.NoError(t, client.UpdateScrollPosition(ctx, 12))
	me, err := client.GetCurrentMember(ctx)
	require.NoError(t, err)
	require.NotNil(t, me.ScrollPosition)
	assert.Equal(t, 12, *me.ScrollPosition)

	me, err = client.UpdateMember(ctx, "Bass")
	require.NoError(t, err)
	assert.Equal(t, "Bass", me.DeviceName)

	require.NoError(t, client.LeaveSession(ctx, nil))
	past, err := client.GetPastSessions(ctx)
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, created.ID, past[0].ID)

	doc, err := client.ExportPastSessions(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(doc), created.ID)

	_, err = client.GetMembers(ctx)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestService_JoinErrors(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client(testToken)
	ctx := context.Background()

	_, err := client.JoinSession(ctx, "bad", "Amp")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = client.JoinSession(ctx, "ABC234", "Amp")
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))

	status, err := client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", status.Phase)
}

func TestService_RoomsAndPlaylists(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client(testToken)
	ctx := context.Background()

	_, err := client.CreateRoom(ctx, "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	room, err := client.CreateRoom(ctx, "Garage")
	require.NoError(t, err)
	rooms, err := client.GetRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)

	p, err := client.SavePlaylist(ctx, "Set", "", []tab.Tab{{ID: "t1", Title: "Creep"}, {ID: "t2", Title: "Yellow"}})
	require.NoError(t, err)

	_, err = client.QueuePlaylist(ctx, p.ID)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = client.CreateSession(ctx, "Jam", "Amp", room.ID)
	require.NoError(t, err)
	entries, err := client.QueuePlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = client.GetPlaylist(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	require.NoError(t, client.DeleteRoom(ctx, room.ID))
	err = client.DeleteRoom(ctx, room.ID)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestService_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client(testToken)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive())
	initial := stream.Msg()
	assert.Equal(t, notification.TypeInitialState, initial.Type)
	assert.Nil(t, initial.Session)

	require.Eventually(t, func() bool {
		return srv.notifications.SubscriberCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	created, err := client.CreateSession(ctx, "Jam", "Amp", "")
	require.NoError(t, err)

	require.True(t, stream.Receive())
	update := stream.Msg()
	assert.Equal(t, notification.TypeSession, update.Type)
	require.NotNil(t, update.Session)
	assert.Equal(t, created.ID, update.Session.ID)
	assert.Greater(t, update.SequenceNo, initial.SequenceNo)
}

func TestService_SubscribeRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	stream, err := srv.client("wrong").SubscribeEvents(context.Background())
	if err != nil {
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
		return
	}
	defer stream.Close()

	assert.False(t, stream.Receive())
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(stream.Err()))
	assert.Zero(t, srv.notifications.SubscriberCount())
}
