// Package websocket provides a peer transport over websocket connections.
// A node's identity is its advertised URL; the joiner dials the host and
// both sides exchange a hello frame before any envelope flows.
package websocket

import (
	"context"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/protocol"
)

var (
	ErrNotConnected = errors.New("peer not connected")
	ErrSendBuffer   = errors.New("send buffer full")
	ErrDestroyed    = errors.New("transport destroyed")
	ErrRejected     = errors.New("handshake rejected")
)

// Config configures the websocket transport.
type Config struct {
	ListenAddr       string        // e.g. ":7700"
	AdvertiseAddr    string        // host:port peers dial; defaults to the bound address
	Path             string        // upgrade endpoint, e.g. "/peer"
	SendBuffer       int           // queued frames per peer
	HandshakeTimeout time.Duration // 0 waits forever
}

// hello is the first frame in each direction.
type hello struct {
	PeerID string `json:"peerId"`
	Code   string `json:"code"`
}

// Transport is a websocket peer transport.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu             sync.Mutex
	id             string
	hosting        string
	peers          map[string]*peer
	server         *http.Server
	destroyed      bool
	onEvent        func(*protocol.Envelope, string)
	onConnected    func(string)
	onDisconnected func(string)
}

// New creates a transport. Nothing listens until Initialize.
func New(cfg Config) *Transport {
	if cfg.Path == "" {
		cfg.Path = "/peer"
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		peers:  make(map[string]*peer),
	}
}

// Initialize starts the listener and returns the advertised URL as identity.
// The identity argument is ignored: peers can only reach the advertised URL.
func (t *Transport) Initialize(ctx context.Context, identity string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return "", ErrDestroyed
	}
	if t.server != nil {
		return t.id, nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.ListenAddr)
	if err != nil {
		return "", errors.Wrapf(err, "failed to listen on %s", t.cfg.ListenAddr)
	}

	router := mux.NewRouter()
	router.HandleFunc(t.cfg.Path, t.serveWS).Methods(http.MethodGet)
	t.server = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Msgf("peer listener stopped: err=%v", err)
		}
	}(t.server)

	addr := t.cfg.AdvertiseAddr
	if addr == "" {
		addr = ln.Addr().String()
	}
	t.id = "ws://" + addr + t.cfg.Path
	zlog.Info().Msgf("peer transport listening: addr=%s identity=%s", ln.Addr(), t.id)
	return t.id, nil
}

// Host accepts hellos for code.
func (t *Transport) Host(ctx context.Context, code string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server == nil {
		return errors.New("transport not initialized")
	}
	t.hosting = code
	return nil
}

// Connect dials the remote URL and performs the hello exchange.
func (t *Transport) Connect(ctx context.Context, code, remoteID string) error {
	t.mu.Lock()
	localID := t.id
	t.mu.Unlock()
	if localID == "" {
		return errors.New("transport not initialized")
	}

	conn, _, err := t.dialer.DialContext(ctx, remoteID, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to dial %s", remoteID)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(hello{PeerID: localID, Code: code}); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to send hello")
	}
	var reply hello
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return errors.Mark(errors.Wrap(err, "no hello from host"), ErrRejected)
	}
	if reply.Code != code || reply.PeerID == "" {
		conn.Close()
		return errors.Wrapf(ErrRejected, "host answered for code %q", reply.Code)
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	p := t.attach(reply.PeerID, conn)
	go p.readPump(t)
	return nil
}

func (t *Transport) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("websocket upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
		return
	}

	if t.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	}
	var h hello
	if err := conn.ReadJSON(&h); err != nil {
		zlog.Warn().Msgf("handshake failed: remote=%s err=%v", r.RemoteAddr, err)
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	t.mu.Lock()
	localID, hosting := t.id, t.hosting
	t.mu.Unlock()
	if hosting == "" || h.Code != hosting || h.PeerID == "" {
		zlog.Warn().Msgf("handshake rejected: remote=%s peer=%s code=%s", r.RemoteAddr, h.PeerID, h.Code)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session"))
		conn.Close()
		return
	}
	if err := conn.WriteJSON(hello{PeerID: localID, Code: hosting}); err != nil {
		conn.Close()
		return
	}

	p := t.attach(h.PeerID, conn)
	p.readPump(t)
}

// attach registers a connection, starts its writer and reports the peer.
// The reader must be started afterwards so the connect callback runs first.
func (t *Transport) attach(peerID string, conn *websocket.Conn) *peer {
	p := newPeer(peerID, conn, t.cfg.SendBuffer)
	t.mu.Lock()
	old := t.peers[peerID]
	t.peers[peerID] = p
	handler := t.onConnected
	t.mu.Unlock()
	if old != nil {
		old.close()
	}

	go p.writePump()
	zlog.Info().Msgf("peer connected: peer=%s", peerID)
	if handler != nil {
		handler(peerID)
	}
	return p
}

// detach removes a peer after its connection failed. Peers already removed
// by Disconnect are not reported.
func (t *Transport) detach(p *peer) {
	t.mu.Lock()
	current := t.peers[p.id] == p
	if current {
		delete(t.peers, p.id)
	}
	handler := t.onDisconnected
	t.mu.Unlock()

	p.close()
	if current && handler != nil {
		zlog.Info().Msgf("peer disconnected: peer=%s", p.id)
		handler(p.id)
	}
}

func (t *Transport) dispatch(p *peer, data []byte) {
	env, err := protocol.Unmarshal(data)
	if err != nil {
		zlog.Warn().Msgf("discarding undecodable frame: peer=%s err=%v", p.id, err)
		return
	}
	t.mu.Lock()
	handler := t.onEvent
	t.mu.Unlock()
	if handler != nil {
		handler(env, p.id)
	}
}

// Disconnect closes every connection without reporting them locally.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	peers := t.peers
	t.peers = make(map[string]*peer)
	t.hosting = ""
	t.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	return nil
}

// Broadcast queues env for every connected peer. Peers with a full send
// buffer are skipped and reported in the returned error.
func (t *Transport) Broadcast(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	t.mu.Lock()
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	var errs error
	for _, p := range peers {
		if !p.enqueue(data) {
			errs = errors.CombineErrors(errs, errors.Wrapf(ErrSendBuffer, "peer %s", p.id))
		}
	}
	return errs
}

// SendTo queues env for one peer.
func (t *Transport) SendTo(ctx context.Context, peerID string, env *protocol.Envelope) error {
	t.mu.Lock()
	p := t.peers[peerID]
	t.mu.Unlock()
	if p == nil {
		return errors.Wrapf(ErrNotConnected, "peer %s", peerID)
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	if !p.enqueue(data) {
		return errors.Wrapf(ErrSendBuffer, "peer %s", peerID)
	}
	return nil
}

func (t *Transport) OnEvent(handler func(*protocol.Envelope, string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = handler
}

func (t *Transport) OnPeerConnected(handler func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnected = handler
}

func (t *Transport) OnPeerDisconnected(handler func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnected = handler
}

// ConnectedPeers returns the connected peer identities in sorted order.
func (t *Transport) ConnectedPeers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Destroy closes every connection and stops the listener.
func (t *Transport) Destroy() error {
	if err := t.Disconnect(context.Background()); err != nil {
		return err
	}
	t.mu.Lock()
	srv := t.server
	t.server = nil
	t.destroyed = true
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// peer is one websocket connection with its outbound queue.
type peer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(id string, conn *websocket.Conn, buffer int) *peer {
	return &peer{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// close stops the peer. The writer flushes queued frames before closing the connection.
func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *peer) readPump(t *Transport) {
	defer t.detach(p)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zlog.Debug().Msgf("peer read failed: peer=%s err=%v", p.id, err)
			}
			return
		}
		t.dispatch(p, data)
	}
}

func (p *peer) writePump() {
	defer p.conn.Close()
	for {
		select {
		case <-p.done:
			p.flush()
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case data := <-p.send:
			if err := p.write(data); err != nil {
				zlog.Debug().Msgf("peer write failed: peer=%s err=%v", p.id, err)
				return
			}
		}
	}
}

func (p *peer) flush() {
	for {
		select {
		case data := <-p.send:
			if err := p.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *peer) write(data []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}
