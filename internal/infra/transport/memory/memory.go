// Package memory provides an in-process peer transport. Nodes on the same
// Network exchange JSON-encoded envelopes with per-node ordered delivery.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jamtab/internal/protocol"
)

var (
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrNotConnected  = errors.New("peer not connected")
	ErrIdentityTaken = errors.New("identity already in use")
	ErrDestroyed     = errors.New("transport destroyed")
)

// Network is a set of nodes that can reach each other.
type Network struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[string]*Node)}
}

// NewNode adds a node to the network. The node has no identity until Initialize.
func (n *Network) NewNode() *Node {
	node := &Node{
		net:   n,
		peers: make(map[string]bool),
		inbox: newInbox(),
	}
	go node.inbox.run()
	return node
}

// Drop cuts the link between two nodes. Both sides observe a disconnect.
func (n *Network) Drop(a, b string) {
	na, nb := n.lookup(a), n.lookup(b)
	if na == nil || nb == nil {
		return
	}
	if na.unlink(b) {
		na.firePeerDisconnected(b)
	}
	if nb.unlink(a) {
		nb.firePeerDisconnected(a)
	}
}

func (n *Network) lookup(id string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[id]
}

func (n *Network) register(id string, node *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if other, ok := n.nodes[id]; ok && other != node {
		return errors.Wrapf(ErrIdentityTaken, "identity %s", id)
	}
	n.nodes[id] = node
	return nil
}

func (n *Network) unregister(id string, node *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[id] == node {
		delete(n.nodes, id)
	}
}

// Node is one peer on a Network.
type Node struct {
	net   *Network
	inbox *inbox

	mu             sync.Mutex
	id             string
	hosting        string
	peers          map[string]bool
	destroyed      bool
	onEvent        func(*protocol.Envelope, string)
	onConnected    func(string)
	onDisconnected func(string)
}

// Initialize registers the node under identity, or a generated one when empty.
// A node that already has an identity keeps it when called with "".
func (n *Node) Initialize(ctx context.Context, identity string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return "", ErrDestroyed
	}
	if identity == "" {
		if n.id != "" {
			return n.id, nil
		}
		identity = "peer-" + uuid.New().String()[:8]
	}
	if identity == n.id {
		return n.id, nil
	}
	if err := n.net.register(identity, n); err != nil {
		return "", err
	}
	if n.id != "" {
		n.net.unregister(n.id, n)
	}
	n.id = identity
	return n.id, nil
}

// Host lets other nodes connect for code.
func (n *Node) Host(ctx context.Context, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.id == "" {
		return errors.New("transport not initialized")
	}
	n.hosting = code
	return nil
}

// Connect links this node to a remote node hosting code.
func (n *Node) Connect(ctx context.Context, code, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	localID := n.ID()
	if localID == "" {
		return errors.New("transport not initialized")
	}
	remote := n.net.lookup(remoteID)
	if remote == nil || remote == n {
		return errors.Wrapf(ErrUnknownPeer, "peer %s", remoteID)
	}
	if remote.hostingCode() != code {
		return errors.Newf("peer %s is not hosting %s", remoteID, code)
	}

	n.link(remoteID)
	remote.link(localID)
	// Local first: anything the remote sends in response lands behind it.
	n.firePeerConnected(remoteID)
	remote.firePeerConnected(localID)
	return nil
}

// Disconnect unlinks every peer. Remote nodes observe the disconnect, the
// local node does not.
func (n *Node) Disconnect(ctx context.Context) error {
	n.mu.Lock()
	localID := n.id
	peers := make([]string, 0, len(n.peers))
	for id := range n.peers {
		peers = append(peers, id)
	}
	n.peers = make(map[string]bool)
	n.hosting = ""
	n.mu.Unlock()

	for _, id := range peers {
		if remote := n.net.lookup(id); remote != nil && remote.unlink(localID) {
			remote.firePeerDisconnected(localID)
		}
	}
	return nil
}

// Broadcast sends env to every connected peer.
func (n *Node) Broadcast(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	var errs error
	for _, id := range n.ConnectedPeers() {
		errs = errors.CombineErrors(errs, n.deliver(id, data))
	}
	return errs
}

// SendTo sends env to one connected peer.
func (n *Node) SendTo(ctx context.Context, peerID string, env *protocol.Envelope) error {
	n.mu.Lock()
	connected := n.peers[peerID]
	n.mu.Unlock()
	if !connected {
		return errors.Wrapf(ErrNotConnected, "peer %s", peerID)
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return n.deliver(peerID, data)
}

func (n *Node) OnEvent(handler func(*protocol.Envelope, string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onEvent = handler
}

func (n *Node) OnPeerConnected(handler func(string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnected = handler
}

func (n *Node) OnPeerDisconnected(handler func(string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisconnected = handler
}

// ConnectedPeers returns the connected peer identities in sorted order.
func (n *Node) ConnectedPeers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]string, 0, len(n.peers))
	for id := range n.peers {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}

// Destroy disconnects, leaves the network and stops delivery.
func (n *Node) Destroy() error {
	if err := n.Disconnect(context.Background()); err != nil {
		return err
	}
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return nil
	}
	n.destroyed = true
	id := n.id
	n.mu.Unlock()

	if id != "" {
		n.net.unregister(id, n)
	}
	n.inbox.close()
	return nil
}

// ID returns the node identity.
func (n *Node) ID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

func (n *Node) hostingCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hosting
}

func (n *Node) link(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = true
}

func (n *Node) unlink(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.peers[id] {
		return false
	}
	delete(n.peers, id)
	return true
}

func (n *Node) deliver(peerID string, data []byte) error {
	remote := n.net.lookup(peerID)
	if remote == nil {
		return errors.Wrapf(ErrUnknownPeer, "peer %s", peerID)
	}
	from := n.ID()
	remote.inbox.push(func() {
		env, err := protocol.Unmarshal(data)
		if err != nil {
			zlog.Warn().Msgf("discarding undecodable message: from=%s err=%v", from, err)
			return
		}
		remote.mu.Lock()
		handler := remote.onEvent
		remote.mu.Unlock()
		if handler != nil {
			handler(env, from)
		}
	})
	return nil
}

func (n *Node) firePeerConnected(peerID string) {
	n.inbox.push(func() {
		n.mu.Lock()
		handler := n.onConnected
		n.mu.Unlock()
		if handler != nil {
			handler(peerID)
		}
	})
}

func (n *Node) firePeerDisconnected(peerID string) {
	n.inbox.push(func() {
		n.mu.Lock()
		handler := n.onDisconnected
		n.mu.Unlock()
		if handler != nil {
			handler(peerID)
		}
	})
}
