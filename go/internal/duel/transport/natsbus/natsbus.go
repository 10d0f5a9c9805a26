// Package natsbus implements transport.Transport over core NATS subjects.
//
// Every endpoint listens on <prefix>.peer.<id>. A connection is opened with a
// request to the remote endpoint's subject; no responders means the peer is
// unknown. Afterwards both sides publish to each other's subject, with the
// frame kind and source carried in headers.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/duel/transport"
)

const (
	headerKind = "Duel-Kind"
	headerSrc  = "Duel-Src"

	kindOpen  = "open"
	kindData  = "data"
	kindClose = "close"
)

// Config holds the bus settings.
type Config struct {
	URL           string
	SubjectPrefix string
	// RequestedID is used as the identifier when set. Otherwise a random one
	// is generated.
	RequestedID   string
	OpenTimeout   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default bus settings.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "duel",
		OpenTimeout:   5 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Dial connects to NATS with logging handlers installed.
func Dial(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("tapduel"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Transport is one endpoint on the bus. It does not own the NATS connection.
type Transport struct {
	nc  *nats.Conn
	cfg Config
	id  string

	mu      sync.Mutex
	sub     *nats.Subscription
	started bool
	ready   bool
	closed  bool
	conns   map[string]*conn
	disp    *transport.Dispatcher
	cancel  context.CancelFunc
	ctx     context.Context
}

var _ transport.Transport = (*Transport)(nil)

// New creates an endpoint on nc.
func New(nc *nats.Conn, cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	id := cfg.RequestedID
	if id == "" {
		id = uuid.New().String()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		nc:     nc,
		cfg:    cfg,
		id:     id,
		conns:  make(map[string]*conn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subject returns the inbox subject of the endpoint id.
func (t *Transport) Subject(id string) string {
	return fmt.Sprintf("%s.peer.%s", t.cfg.SubjectPrefix, id)
}

// Start subscribes to the endpoint's inbox. OnReady follows asynchronously.
func (t *Transport) Start(h transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.started {
		return errors.New("nats transport already started")
	}

	t.disp = transport.NewDispatcher(h)
	sub, err := t.nc.Subscribe(t.Subject(t.id), t.handleMsg)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", t.Subject(t.id), err)
	}
	// Requests to an identifier must not succeed before it is reachable.
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	t.sub = sub
	t.started = true
	t.ready = true

	go t.disp.Run()
	t.disp.Ready(t.id)
	log.Debug().Str("subject", t.Subject(t.id)).Msg("listening on bus")
	return nil
}

// ID returns the identifier once started.
func (t *Transport) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return ""
	}
	return t.id
}

// Connect opens a connection to remoteID. The open request runs in the
// background; OnOpen or OnError follows.
func (t *Transport) Connect(remoteID string) (transport.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if !t.ready {
		return nil, transport.ErrNotReady
	}
	if c, ok := t.conns[remoteID]; ok {
		return c, nil
	}

	c := &conn{t: t, peerID: remoteID}
	t.conns[remoteID] = c
	go t.open(c)
	return c, nil
}

func (t *Transport) open(c *conn) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.OpenTimeout)
	defer cancel()

	_, err := t.nc.RequestMsgWithContext(ctx, t.frame(c.peerID, kindOpen, nil))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if err != nil {
		if t.conns[c.peerID] == c {
			delete(t.conns, c.peerID)
		}
		if !c.markClosed() {
			return
		}
		if errors.Is(err, nats.ErrNoResponders) {
			err = transport.ErrUnknownPeer
		}
		t.disp.Error(fmt.Errorf("dial %s: %w", c.peerID, err))
		return
	}
	if !c.markOpen() {
		return
	}
	t.disp.Open(c)
	for _, msg := range c.takePending() {
		t.disp.Data(c, msg)
	}
}

// Close announces the departure to every connected peer and stops listening.
// This endpoint receives no further events.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var peers []string
	for id, c := range t.conns {
		if c.markClosed() {
			peers = append(peers, id)
		}
	}
	t.conns = make(map[string]*conn)
	sub, disp := t.sub, t.disp
	t.mu.Unlock()

	t.cancel()
	if disp != nil {
		disp.Stop()
	}
	for _, id := range peers {
		if err := t.nc.PublishMsg(t.frame(id, kindClose, nil)); err != nil {
			log.Debug().Err(err).Str("peer_id", id).Msg("failed to announce close")
		}
	}
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

func (t *Transport) frame(dst, kind string, data []byte) *nats.Msg {
	return &nats.Msg{
		Subject: t.Subject(dst),
		Data:    data,
		Header: nats.Header{
			headerKind: []string{kind},
			headerSrc:  []string{t.id},
		},
	}
}

// handleMsg runs on the subscription's goroutine, one message at a time.
func (t *Transport) handleMsg(msg *nats.Msg) {
	src := msg.Header.Get(headerSrc)
	kind := msg.Header.Get(headerKind)
	if src == "" || src == t.id {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	switch kind {
	case kindOpen:
		c, ok := t.conns[src]
		if !ok {
			c = &conn{t: t, peerID: src}
			t.conns[src] = c
		}
		if !c.markOpen() {
			return
		}
		t.disp.Connection(c)
		t.disp.Open(c)
		if err := msg.Respond(nil); err != nil {
			log.Debug().Err(err).Str("peer_id", src).Msg("failed to acknowledge open")
		}

	case kindData:
		c, ok := t.conns[src]
		if !ok {
			return
		}
		if !c.IsOpen() {
			// The open acknowledgement and the first data race on separate
			// subscriptions.
			c.addPending(msg.Data)
			return
		}
		t.disp.Data(c, msg.Data)

	case kindClose:
		c, ok := t.conns[src]
		if !ok {
			return
		}
		delete(t.conns, src)
		if c.markClosed() {
			t.disp.Close(c)
		}
	}
}

func (t *Transport) closeConn(c *conn) error {
	t.mu.Lock()
	if !c.markClosed() {
		t.mu.Unlock()
		return nil
	}
	if t.conns[c.peerID] == c {
		delete(t.conns, c.peerID)
	}
	closed := t.closed
	if !closed {
		t.disp.Close(c)
	}
	t.mu.Unlock()

	if closed {
		return nil
	}
	return t.nc.PublishMsg(t.frame(c.peerID, kindClose, nil))
}

type conn struct {
	t      *Transport
	peerID string

	mu      sync.Mutex
	open    bool
	closed  bool
	pending [][]byte
}

func (c *conn) PeerID() string { return c.peerID }

func (c *conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *conn) Send(msg []byte) error {
	if !c.IsOpen() {
		return transport.ErrClosed
	}
	if err := c.t.nc.PublishMsg(c.t.frame(c.peerID, kindData, msg)); err != nil {
		return fmt.Errorf("publish to %s: %w", c.peerID, err)
	}
	return nil
}

func (c *conn) Close() error { return c.t.closeConn(c) }

func (c *conn) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.open = true
	return true
}

func (c *conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *conn) addPending(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, msg)
}

func (c *conn) takePending() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}
