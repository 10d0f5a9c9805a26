package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ConnectionManager tracks connected peers and the links between them.
type ConnectionManager struct {
	peers map[string]*Peer
	// links[a][b] is true while a and b are linked. Always symmetric.
	links map[string]map[string]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock
}

// Peer is one websocket client of the relay.
type Peer struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds websocket settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			// Invite links are opened from anywhere.
			return true
		},
	}
}

// Stats is a snapshot of the relay's load.
type Stats struct {
	Peers int `json:"peers"`
	Links int `json:"links"`
}

// NewConnectionManager creates a manager. A nil clock means the real clock.
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	return &ConnectionManager{
		peers: make(map[string]*Peer),
		links: make(map[string]map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		clock:  clock,
	}
}

// UpgradeConnection upgrades an HTTP request to a peer websocket. requestedID
// is honored when free, otherwise a fresh identifier is assigned.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, requestedID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	peer := &Peer{
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}
	cm.registerPeer(peer, requestedID)

	go peer.writePump()
	go peer.readPump()

	log.Info().Str("peer_id", peer.ID).Msg("peer connected")
	return nil
}

func (cm *ConnectionManager) registerPeer(p *Peer, requestedID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	id := requestedID
	if _, taken := cm.peers[id]; id == "" || taken {
		id = uuid.New().String()
	}
	p.ID = id
	cm.peers[id] = p

	// The identifier frame is queued before anyone can address the peer.
	data, _ := json.Marshal(Frame{Type: FrameID, Dst: id})
	p.Send <- data
}

// unregisterPeer removes p and notifies every peer linked with it.
func (cm *ConnectionManager) unregisterPeer(p *Peer) {
	cm.mu.Lock()
	if cm.peers[p.ID] != p {
		cm.mu.Unlock()
		return
	}
	delete(cm.peers, p.ID)
	close(p.Send)

	var notify []*Peer
	for other := range cm.links[p.ID] {
		delete(cm.links[other], p.ID)
		if len(cm.links[other]) == 0 {
			delete(cm.links, other)
		}
		if op, ok := cm.peers[other]; ok {
			notify = append(notify, op)
		}
	}
	delete(cm.links, p.ID)
	cm.mu.Unlock()

	for _, op := range notify {
		cm.sendTo(op, Frame{Type: FrameClose, Src: p.ID})
	}
	log.Info().Str("peer_id", p.ID).Int("links_closed", len(notify)).Msg("peer disconnected")
}

// route handles one frame read from sender.
func (cm *ConnectionManager) route(sender *Peer, f Frame) {
	switch f.Type {
	case FrameOpen:
		cm.open(sender, f.Dst)
	case FrameData:
		cm.mu.RLock()
		target, ok := cm.peers[f.Dst]
		linked := cm.links[sender.ID][f.Dst]
		cm.mu.RUnlock()
		if !ok || !linked {
			log.Debug().Str("src", sender.ID).Str("dst", f.Dst).Msg("dropping data for unlinked peer")
			return
		}
		cm.sendTo(target, Frame{Type: FrameData, Src: sender.ID, Payload: f.Payload})
	case FrameClose:
		cm.mu.Lock()
		linked := cm.links[sender.ID][f.Dst]
		cm.unlinkLocked(sender.ID, f.Dst)
		target := cm.peers[f.Dst]
		cm.mu.Unlock()
		if linked && target != nil {
			cm.sendTo(target, Frame{Type: FrameClose, Src: sender.ID})
		}
	default:
		log.Debug().Str("peer_id", sender.ID).Str("type", string(f.Type)).Msg("ignoring frame")
	}
}

func (cm *ConnectionManager) open(sender *Peer, dst string) {
	cm.mu.Lock()
	target, ok := cm.peers[dst]
	if !ok || dst == sender.ID {
		cm.mu.Unlock()
		cm.sendTo(sender, Frame{Type: FrameError, Src: dst, Error: ErrUnknownPeerText})
		return
	}
	cm.linkLocked(sender.ID, dst)
	// Both OPEN frames are queued before any data can be routed over the link.
	var full []*Peer
	if !cm.queueLocked(target, Frame{Type: FrameOpen, Src: sender.ID}) {
		full = append(full, target)
	}
	if !cm.queueLocked(sender, Frame{Type: FrameOpen, Src: dst}) {
		full = append(full, sender)
	}
	cm.mu.Unlock()

	for _, p := range full {
		cm.evict(p)
	}
	log.Debug().Str("src", sender.ID).Str("dst", dst).Msg("peers linked")
}

func (cm *ConnectionManager) linkLocked(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if cm.links[pair[0]] == nil {
			cm.links[pair[0]] = make(map[string]bool)
		}
		cm.links[pair[0]][pair[1]] = true
	}
}

func (cm *ConnectionManager) unlinkLocked(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		delete(cm.links[pair[0]], pair[1])
		if len(cm.links[pair[0]]) == 0 {
			delete(cm.links, pair[0])
		}
	}
}

// sendTo queues f for p. A peer whose buffer is full is disconnected.
func (cm *ConnectionManager) sendTo(p *Peer, f Frame) {
	cm.mu.RLock()
	registered := cm.peers[p.ID] == p
	queued := registered && cm.queueLocked(p, f)
	cm.mu.RUnlock()

	if registered && !queued {
		cm.evict(p)
	}
}

// queueLocked queues f for p with cm.mu held. It reports false when p's buffer
// is full.
func (cm *ConnectionManager) queueLocked(p *Peer, f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return true
	}
	select {
	case p.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) evict(p *Peer) {
	log.Warn().Str("peer_id", p.ID).Msg("peer send buffer full, closing connection")
	cm.unregisterPeer(p)
	p.Conn.Close()
}

// Stats returns the number of connected peers and live links.
func (cm *ConnectionManager) Stats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	links := 0
	for _, others := range cm.links {
		links += len(others)
	}
	return Stats{Peers: len(cm.peers), Links: links / 2}
}

// writePump sends queued frames and keepalive pings.
func (p *Peer) writePump() {
	cfg := p.Manager.config
	ticker := p.Manager.clock.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			p.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("failed to write frame")
				return
			}

		case <-ticker.Chan():
			p.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("peer_id", p.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump routes frames from the peer until its socket fails.
func (p *Peer) readPump() {
	cfg := p.Manager.config
	defer func() {
		p.Manager.unregisterPeer(p)
		p.Conn.Close()
	}()

	p.Conn.SetReadLimit(cfg.MaxMessageSize)
	p.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	p.Conn.SetPongHandler(func(string) error {
		p.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("peer_id", p.ID).Msg("unexpected websocket close error")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			log.Debug().Err(err).Str("peer_id", p.ID).Msg("ignoring malformed frame")
			continue
		}
		p.Manager.route(p, f)
		p.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
