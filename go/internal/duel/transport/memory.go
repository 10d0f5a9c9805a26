package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DropFunc decides whether a message from one peer to another is lost in
// transit. It is consulted once per Send.
type DropFunc func(from, to string, msg []byte) bool

type eventKind int

const (
	evReady eventKind = iota
	evConnection
	evOpen
	evData
	evClose
	evError
)

type event struct {
	kind eventKind
	dst  *MemoryTransport
	conn *memConn
	data []byte
	err  error
}

// Network is an in-process signaling layer and wire. Events are queued and only
// delivered by Flush (or by the background pump started with Run), which makes
// multi-peer scenarios deterministic.
type Network struct {
	mu     sync.Mutex
	peers  map[string]*MemoryTransport
	queue  []event
	drop   DropFunc
	wakeCh chan struct{}

	deliverMu sync.Mutex
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		peers:  make(map[string]*MemoryTransport),
		wakeCh: make(chan struct{}, 1),
	}
}

// NewTransport creates an endpoint that will be assigned a random identifier.
func (n *Network) NewTransport() *MemoryTransport {
	return n.NewTransportWithID(uuid.New().String())
}

// NewTransportWithID creates an endpoint that will be assigned id.
func (n *Network) NewTransportWithID(id string) *MemoryTransport {
	return &MemoryTransport{
		network: n,
		id:      id,
		conns:   make(map[*memConn]bool),
	}
}

// SetDropFunc installs f as the loss model. A nil f delivers everything.
func (n *Network) SetDropFunc(f DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// Fail injects an unrecoverable error into the endpoint registered as id.
func (n *Network) Fail(id string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.peers[id]; ok {
		n.enqueueLocked(event{kind: evError, dst: t, err: err})
	}
}

// Pending returns the number of undelivered events.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Flush delivers queued events, including the ones produced while delivering,
// until the network is quiescent. It returns the number of events delivered.
func (n *Network) Flush() int {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	delivered := 0
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return delivered
		}
		ev := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()

		if n.deliver(ev) {
			delivered++
		}
	}
}

// Run pumps the network in the background until ctx is done. Flush may not be
// mixed with Run on the same network.
func (n *Network) Run(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.wakeCh:
		case <-ticker.C:
		}
		n.Flush()
	}
}

func (n *Network) enqueueLocked(ev event) {
	n.queue = append(n.queue, ev)
	select {
	case n.wakeCh <- struct{}{}:
	default:
	}
}

func (n *Network) deliver(ev event) bool {
	t := ev.dst
	h := t.handlerFor(ev)
	if h == nil {
		return false
	}

	switch ev.kind {
	case evReady:
		h.OnReady(t.id)
	case evConnection:
		h.OnConnection(ev.conn)
	case evOpen:
		if !ev.conn.markOpen() {
			return false
		}
		h.OnOpen(ev.conn)
	case evData:
		if !ev.conn.deliverable() {
			return false
		}
		h.OnData(ev.conn, ev.data)
	case evClose:
		if !ev.conn.markCloseDelivered() {
			return false
		}
		t.forget(ev.conn)
		h.OnClose(ev.conn)
	case evError:
		h.OnError(ev.err)
	}
	return true
}

// MemoryTransport is a Transport attached to a Network.
type MemoryTransport struct {
	network *Network

	mu      sync.Mutex
	id      string
	ready   bool
	closed  bool
	handler Handler
	conns   map[*memConn]bool
}

var _ Transport = (*MemoryTransport)(nil)

// Start registers the endpoint with the network and queues OnReady.
func (t *MemoryTransport) Start(h Handler) error {
	t.mu.Lock()
	if t.handler != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport %s already started", t.id)
	}
	t.handler = h
	t.mu.Unlock()

	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.peers[t.id]; taken {
		return fmt.Errorf("identifier %s already registered", t.id)
	}
	n.peers[t.id] = t
	n.enqueueLocked(event{kind: evReady, dst: t})
	return nil
}

// ID returns the identifier once OnReady was delivered.
func (t *MemoryTransport) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return ""
	}
	return t.id
}

// Connect dials remoteID. Dialing an unknown identifier reports ErrUnknownPeer
// through OnError, the way a signaling server would.
func (t *MemoryTransport) Connect(remoteID string) (Connection, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if t.handler == nil {
		t.mu.Unlock()
		return nil, ErrNotReady
	}
	t.mu.Unlock()

	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	local := &memConn{owner: t}
	remote, ok := n.peers[remoteID]
	if !ok || remote == t {
		local.peerID = remoteID
		n.enqueueLocked(event{kind: evError, dst: t, err: fmt.Errorf("dial %s: %w", remoteID, ErrUnknownPeer)})
		return local, nil
	}

	far := &memConn{owner: remote, peerID: t.id}
	local.peerID = remote.id
	local.other, far.other = far, local

	t.track(local)
	remote.track(far)

	n.enqueueLocked(event{kind: evConnection, dst: remote, conn: far})
	n.enqueueLocked(event{kind: evOpen, dst: remote, conn: far})
	n.enqueueLocked(event{kind: evOpen, dst: t, conn: local})
	return local, nil
}

// Close closes every connection and unregisters the endpoint. Remote sides
// observe OnClose; this endpoint receives no further events.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*memConn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	n := t.network
	n.mu.Lock()
	if n.peers[t.id] == t {
		delete(n.peers, t.id)
	}
	n.mu.Unlock()
	return nil
}

func (t *MemoryTransport) handlerFor(ev event) Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if ev.kind == evReady {
		t.ready = true
	}
	return t.handler
}

func (t *MemoryTransport) track(c *memConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c] = true
}

func (t *MemoryTransport) forget(c *memConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

type memConn struct {
	owner  *MemoryTransport
	peerID string
	other  *memConn

	mu             sync.Mutex
	open           bool
	closed         bool
	closeDelivered bool
}

func (c *memConn) PeerID() string { return c.peerID }

func (c *memConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *memConn) Send(msg []byte) error {
	if c.other == nil || !c.IsOpen() {
		return ErrClosed
	}

	n := c.owner.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.drop != nil && n.drop(c.owner.id, c.peerID, msg) {
		return nil
	}
	data := make([]byte, len(msg))
	copy(data, msg)
	n.enqueueLocked(event{kind: evData, dst: c.other.owner, conn: c.other, data: data})
	return nil
}

func (c *memConn) Close() error {
	if !c.markClosed() {
		return nil
	}
	n := c.owner.network
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueueLocked(event{kind: evClose, dst: c.owner, conn: c})
	if c.other != nil && c.other.markClosed() {
		n.enqueueLocked(event{kind: evClose, dst: c.other.owner, conn: c.other})
	}
	return nil
}

func (c *memConn) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.open = true
	return true
}

// deliverable reports whether data may still be handed to the owner. Messages
// sent before a close are delivered ahead of OnClose.
func (c *memConn) deliverable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closeDelivered
}

func (c *memConn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *memConn) markCloseDelivered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeDelivered {
		return false
	}
	c.closeDelivered = true
	return true
}
