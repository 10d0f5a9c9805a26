// Package wsrelay implements transport.Transport on top of a relay server
// reached over a websocket. The relay assigns the identifier, links peers and
// forwards their messages.
package wsrelay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/duel/transport"
	"github.com/mcdev12/tapduel/go/internal/relay"
)

// Config holds the client's websocket settings.
type Config struct {
	// URL of the relay's peer endpoint, e.g. ws://localhost:8090/ws/peer.
	URL string
	// RequestedID asks the relay for a specific identifier. Empty lets the
	// relay choose.
	RequestedID      string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	SendBuffer       int
}

// DefaultConfig returns settings for the relay at rawURL.
func DefaultConfig(rawURL string) Config {
	return Config{
		URL:              rawURL,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   16 * 1024,
		SendBuffer:       256,
	}
}

// Transport is a relay client.
type Transport struct {
	cfg Config

	mu      sync.Mutex
	ws      *websocket.Conn
	id      string
	started bool
	closed  bool
	failed  bool
	conns   map[string]*conn

	out  chan relay.Frame
	done chan struct{}
	disp *transport.Dispatcher
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport. Zero settings take their DefaultConfig values.
// Nothing is dialed until Start.
func New(cfg Config) *Transport {
	def := DefaultConfig(cfg.URL)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Transport{
		cfg:   cfg,
		conns: make(map[string]*conn),
		out:   make(chan relay.Frame, cfg.SendBuffer),
		done:  make(chan struct{}),
	}
}

// Start dials the relay. OnReady follows once the relay assigned an identifier.
func (t *Transport) Start(h transport.Handler) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("relay transport already started")
	}
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.started = true
	t.mu.Unlock()

	target, err := url.Parse(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}
	if t.cfg.RequestedID != "" {
		q := target.Query()
		q.Set("id", t.cfg.RequestedID)
		target.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	ws, _, err := dialer.Dial(target.String(), nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", t.cfg.URL, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ws.Close()
		return transport.ErrClosed
	}
	t.ws = ws
	t.disp = transport.NewDispatcher(h)
	t.mu.Unlock()

	go t.disp.Run()
	go t.writePump()
	go t.readPump()

	log.Debug().Str("relay", t.cfg.URL).Msg("connected to relay")
	return nil
}

// ID returns the relay-assigned identifier, or "" before OnReady.
func (t *Transport) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Connect asks the relay to link with remoteID. An unknown identifier is
// reported through OnError.
func (t *Transport) Connect(remoteID string) (transport.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if t.id == "" {
		return nil, transport.ErrNotReady
	}
	if c, ok := t.conns[remoteID]; ok {
		return c, nil
	}

	c := &conn{t: t, peerID: remoteID}
	t.conns[remoteID] = c
	if err := t.enqueueLocked(relay.Frame{Type: relay.FrameOpen, Dst: remoteID}); err != nil {
		delete(t.conns, remoteID)
		return nil, err
	}
	return c, nil
}

// Close disconnects from the relay. Remote peers observe OnClose through the
// relay; this endpoint receives no further events.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ws, disp := t.ws, t.disp
	for _, c := range t.conns {
		c.markClosed()
	}
	t.conns = make(map[string]*conn)
	close(t.done)
	t.mu.Unlock()

	if disp != nil {
		disp.Stop()
	}
	if ws == nil {
		return nil
	}
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return ws.Close()
}

func (t *Transport) enqueueLocked(f relay.Frame) error {
	if t.closed {
		return transport.ErrClosed
	}
	select {
	case t.out <- f:
		return nil
	default:
		return transport.ErrBackpressure
	}
}

func (t *Transport) writePump() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case f := <-t.out:
			t.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := t.ws.WriteJSON(f); err != nil {
				t.fail(fmt.Errorf("write to relay: %w", err))
				return
			}
		case <-ticker.C:
			t.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := t.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.fail(fmt.Errorf("ping relay: %w", err))
				return
			}
		}
	}
}

func (t *Transport) readPump() {
	t.ws.SetReadLimit(t.cfg.MaxMessageSize)
	t.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	t.ws.SetPongHandler(func(string) error {
		t.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		return nil
	})
	// The relay pings too; answering resets our own deadline.
	t.ws.SetPingHandler(func(data string) error {
		t.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		return t.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(t.cfg.WriteTimeout))
	})

	for {
		var f relay.Frame
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			t.fail(fmt.Errorf("relay connection lost: %w", err))
			return
		}
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed relay frame")
			continue
		}
		t.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		t.handleFrame(f)
	}
}

func (t *Transport) handleFrame(f relay.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	switch f.Type {
	case relay.FrameID:
		if t.id != "" {
			return
		}
		t.id = f.Dst
		t.disp.Ready(f.Dst)

	case relay.FrameOpen:
		c, dialed := t.conns[f.Src]
		if !dialed {
			c = &conn{t: t, peerID: f.Src}
			t.conns[f.Src] = c
		}
		if !c.markOpen() {
			return
		}
		if !dialed {
			t.disp.Connection(c)
		}
		t.disp.Open(c)

	case relay.FrameData:
		if c, ok := t.conns[f.Src]; ok && c.IsOpen() {
			t.disp.Data(c, f.Payload)
		}

	case relay.FrameClose:
		c, ok := t.conns[f.Src]
		if !ok {
			return
		}
		delete(t.conns, f.Src)
		if c.markClosed() {
			t.disp.Close(c)
		}

	case relay.FrameError:
		if c, ok := t.conns[f.Src]; ok {
			delete(t.conns, f.Src)
			c.markClosed()
		}
		err := fmt.Errorf("relay: %s", f.Error)
		if f.Error == relay.ErrUnknownPeerText {
			err = fmt.Errorf("dial %s: %w", f.Src, transport.ErrUnknownPeer)
		}
		t.disp.Error(err)
	}
}

// fail reports a lost relay connection unless the transport was closed.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.failed {
		return
	}
	t.failed = true
	t.disp.Error(err)
}

func (t *Transport) closeConn(c *conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !c.markClosed() {
		return nil
	}
	if t.conns[c.peerID] == c {
		delete(t.conns, c.peerID)
	}
	if t.closed {
		return nil
	}
	t.disp.Close(c)
	return t.enqueueLocked(relay.Frame{Type: relay.FrameClose, Dst: c.peerID})
}

type conn struct {
	t      *Transport
	peerID string

	mu     sync.Mutex
	open   bool
	closed bool
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
	payload := make([]byte, len(msg))
	copy(payload, msg)

	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.t.enqueueLocked(relay.Frame{Type: relay.FrameData, Dst: c.peerID, Payload: payload})
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
