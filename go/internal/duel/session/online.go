package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/duel/invite"
	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
	"github.com/mcdev12/tapduel/go/internal/duel/protocol"
	"github.com/mcdev12/tapduel/go/internal/duel/ratelimit"
	"github.com/mcdev12/tapduel/go/internal/duel/roster"
	"github.com/mcdev12/tapduel/go/internal/duel/scoresync"
	"github.com/mcdev12/tapduel/go/internal/duel/transport"
)

// OnlineOptions configure a networked session.
type OnlineOptions struct {
	Options
	Transport transport.Transport
	// InviteToken is the host identifier taken from an invite link. A session
	// without a token is the host.
	InviteToken invite.Token
}

// Online is a networked session. The host owns the roster and the match clock;
// guests mirror the host's broadcasts.
type Online struct {
	*base

	tr      transport.Transport
	role    Role
	token   invite.Token
	selfID  string
	limiter *ratelimit.Limiter
	board   *scoresync.Board

	// strategy is fixed for the duration of a match.
	strategy scoresync.Strategy
	conns    map[string]transport.Connection
	hostConn transport.Connection

	waiting        bool
	pendingConfirm map[string]bool
	snapshotDirty  bool
	lobbySeen      bool
	inviteURL      string
}

var _ transport.Handler = (*Online)(nil)

// NewOnline creates a networked session. Call Start to attach the transport.
func NewOnline(opts OnlineOptions) (*Online, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("online session: %w", transport.ErrNotReady)
	}
	s := &Online{
		base:           newBase(outcome.ModeOnline, opts.Options),
		tr:             opts.Transport,
		token:          opts.InviteToken,
		conns:          make(map[string]transport.Connection),
		pendingConfirm: make(map[string]bool),
		board:          scoresync.NewBoard(),
	}
	if s.token != "" {
		s.role = RoleGuest
	}
	s.limiter = ratelimit.New(s.cfg.MinClickInterval)
	s.strategy = s.cfg.Strategy.Resolve(2)
	s.roster = roster.New(s.cfg.MaxPlayers, roster.OnlineLabels)
	s.machine = match.NewMachine(s.sched, s.cfg.timing(), s.hooks(s.onPlayingLocked, s.onExpireLocked))
	s.view = s.viewLocked
	return s, nil
}

// Start hands the session to the transport. Identifier assignment and every
// later event arrive through the transport.Handler methods.
func (s *Online) Start() error {
	s.lock()
	closed := s.closed
	s.unlock()
	if closed {
		return ErrClosed
	}
	if err := s.tr.Start(s); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	return nil
}

// Role reports whether this session hosts or joined.
func (s *Online) Role() Role { return s.role }

// ID returns this endpoint's identifier, empty before it was assigned.
func (s *Online) ID() string {
	s.lock()
	defer s.unlock()
	return s.selfID
}

// InviteURL returns the host's shareable link.
func (s *Online) InviteURL() string {
	s.lock()
	defer s.unlock()
	return s.inviteURL
}

// WaitingForConfirm reports whether the host sent START_REQ and is waiting for
// confirmations or the grace timer.
func (s *Online) WaitingForConfirm() bool {
	s.lock()
	defer s.unlock()
	return s.waiting
}

// View returns a copy of the session state.
func (s *Online) View() View {
	s.lock()
	defer s.unlock()
	return s.viewLocked()
}

func (s *Online) viewLocked() View {
	v := s.baseViewLocked()
	v.Role = s.role
	v.InviteURL = s.inviteURL
	v.WaitingForConfirm = s.waiting
	v.Strategy = s.strategy
	return v
}

// OnReady implements transport.Handler.
func (s *Online) OnReady(id string) {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhaseInit {
		return
	}
	s.selfID = id

	if s.role == RoleHost {
		s.roster = roster.NewOnline(id, s.cfg.MaxPlayers)
		if s.cfg.InviteBaseURL != "" {
			link, err := invite.URL(s.cfg.InviteBaseURL, id)
			if err != nil {
				log.Warn().Err(err).Msg("failed to build invite url")
			}
			s.inviteURL = link
		}
		_ = s.machine.Transition(match.PhaseLobby)
		log.Info().Str("peer_id", id).Str("invite_url", s.inviteURL).Msg("session founded")
		return
	}

	_ = s.machine.Transition(match.PhaseConnecting)
	log.Info().Str("peer_id", id).Str("host_id", string(s.token)).Msg("joining session")
	conn, err := s.tr.Connect(string(s.token))
	if err != nil {
		s.failLocked(fmt.Errorf("%w: dial host: %w", ErrTransport, err))
		return
	}
	s.hostConn = conn
}

// OnConnection implements transport.Handler. Guests never accept inbound
// connections.
func (s *Online) OnConnection(c transport.Connection) {
	s.lock()
	defer s.unlock()
	log.Debug().Str("peer_id", c.PeerID()).Str("role", s.role.String()).Msg("incoming connection")
	if s.role == RoleGuest {
		_ = c.Close()
	}
}

// OnOpen implements transport.Handler.
func (s *Online) OnOpen(c transport.Connection) {
	s.lock()
	defer s.unlock()
	if s.closed {
		_ = c.Close()
		return
	}

	if s.role == RoleGuest {
		if c != s.hostConn || s.machine.Phase() != match.PhaseConnecting {
			return
		}
		_ = s.machine.Transition(match.PhaseLobby)
		s.sendLocked(c, protocol.Hello{})
		log.Info().Str("host_id", c.PeerID()).Msg("connected to host")
		return
	}

	peerID := c.PeerID()
	if s.roster.Full() {
		log.Warn().Str("peer_id", peerID).Int("players", s.roster.Len()).Msg("room full, rejecting peer")
		_ = c.Close()
		return
	}
	slot, err := s.roster.Add(peerID)
	if err != nil {
		log.Warn().Err(err).Str("peer_id", peerID).Msg("rejecting peer")
		_ = c.Close()
		return
	}
	s.conns[peerID] = c
	s.sendLocked(c, protocol.Hello{})
	s.broadcastRosterLocked()
	s.touch()
	log.Info().Str("peer_id", peerID).Int("slot", slot).Msg("peer joined")
}

// OnData implements transport.Handler.
func (s *Online) OnData(c transport.Connection, data []byte) {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() == match.PhaseError {
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("peer_id", c.PeerID()).Msg("ignoring message")
		return
	}
	log.Debug().Str("peer_id", c.PeerID()).Str("type", string(msg.Tag())).Msg("message received")

	if s.role == RoleHost {
		if _, ok := s.conns[c.PeerID()]; !ok {
			return
		}
		s.hostReceiveLocked(c.PeerID(), msg)
		return
	}
	if c != s.hostConn {
		return
	}
	s.guestReceiveLocked(c.PeerID(), msg)
}

// OnClose implements transport.Handler.
func (s *Online) OnClose(c transport.Connection) {
	s.lock()
	defer s.unlock()
	if s.closed {
		return
	}

	if s.role == RoleGuest {
		if c != s.hostConn || s.machine.Phase() == match.PhaseError {
			return
		}
		if !s.lobbySeen {
			s.failLocked(ErrRoomFull)
			return
		}
		s.failLocked(ErrHostLost)
		return
	}

	peerID := c.PeerID()
	if s.conns[peerID] != c {
		return
	}
	delete(s.conns, peerID)
	s.board.Forget(peerID)
	s.limiter.Forget(peerID)
	if !s.roster.Remove(peerID) {
		return
	}
	log.Info().Str("peer_id", peerID).Str("phase", s.machine.Phase().String()).Msg("peer left")
	s.broadcastRosterLocked()
	s.touch()

	if s.waiting {
		delete(s.pendingConfirm, peerID)
		switch {
		case len(s.conns) == 0:
			s.cancelStartLocked()
		case len(s.pendingConfirm) == 0:
			s.startCountdownLocked()
		}
	}
}

// OnError implements transport.Handler.
func (s *Online) OnError(err error) {
	s.lock()
	defer s.unlock()
	if s.closed {
		return
	}
	s.failLocked(fmt.Errorf("%w: %w", ErrTransport, err))
}

// RequestStart begins a match. Only the host may start, only from LOBBY, and
// only with at least one guest; otherwise the call is ignored and reports false.
func (s *Online) RequestStart() bool {
	s.lock()
	defer s.unlock()
	if s.closed || s.role != RoleHost || s.machine.Phase() != match.PhaseLobby || s.waiting {
		return false
	}
	if s.roster.Len() < 2 || len(s.conns) == 0 {
		return false
	}

	s.strategy = s.cfg.Strategy.Resolve(s.roster.Len())
	s.matchID = uuid.New()
	s.waiting = true
	clear(s.pendingConfirm)
	for id := range s.conns {
		s.pendingConfirm[id] = true
	}
	s.broadcastLocked(protocol.StartReq{Strategy: string(s.strategy), MatchID: s.matchID.String()})
	log.Info().
		Str("strategy", string(s.strategy)).
		Int("players", s.roster.Len()).
		Msg("start requested")

	if s.cfg.StartGrace <= 0 {
		s.startCountdownLocked()
	} else {
		s.sched.After(match.TimerStartGrace, s.cfg.StartGrace, s.startCountdownLocked)
	}
	s.touch()
	return true
}

// HandleLocalClick records one click by this player. It is a no-op outside
// PLAYING.
func (s *Online) HandleLocalClick() {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhasePlaying {
		return
	}
	now := s.now()
	if !s.limiter.ShouldAccept(s.selfID, now) {
		log.Debug().Str("peer_id", s.selfID).Msg("local click rate limited")
		return
	}

	if s.strategy == scoresync.PeerOptimistic {
		total := s.board.Tally(s.selfID).Bump()
		s.roster.SetScore(s.selfID, total)
		s.sendToPeersLocked(protocol.Click{Total: total, SentAt: now.UnixMilli()})
		s.touch()
		return
	}

	if s.role == RoleHost {
		s.roster.Increment(s.selfID)
		s.publishSnapshotLocked()
		s.touch()
		return
	}

	// Placeholder until the host's next snapshot overwrites it.
	s.roster.SetScore(s.selfID, s.board.Tally(s.selfID).Bump())
	s.sendLocked(s.hostConn, protocol.Click{Delta: true, SentAt: now.UnixMilli()})
	s.touch()
}

// RequestRematch resets a finished match. A guest's request is forwarded to the
// host and has no local effect until the host's REMATCH arrives.
func (s *Online) RequestRematch() bool {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhaseFinished {
		return false
	}
	if s.role == RoleGuest {
		s.sendLocked(s.hostConn, protocol.Rematch{})
		log.Info().Msg("rematch requested from host")
		return true
	}
	s.hostRematchLocked()
	return true
}

// Close tears down every timer, connection and the transport. Events the
// transport delivers afterwards are ignored. It is safe to call more than once.
func (s *Online) Close() error {
	s.lock()
	if s.closed {
		s.unlock()
		return nil
	}
	s.closed = true
	s.sched.CancelAll()
	s.waiting = false
	conns := make([]transport.Connection, 0, len(s.conns)+1)
	for id, c := range s.conns {
		conns = append(conns, c)
		delete(s.conns, id)
	}
	if s.hostConn != nil {
		conns = append(conns, s.hostConn)
	}
	log.Info().Str("peer_id", s.selfID).Str("role", s.role.String()).Msg("session closed")
	s.unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if err := s.tr.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func (s *Online) hostReceiveLocked(from string, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Hello:
	case protocol.StartConfirm:
		if !s.waiting {
			return
		}
		delete(s.pendingConfirm, from)
		if len(s.pendingConfirm) == 0 {
			s.startCountdownLocked()
		}
	case protocol.Click:
		s.acceptClickLocked(from, m)
	case protocol.Sync:
		if s.machine.Phase() == match.PhasePlaying && s.strategy == scoresync.PeerOptimistic {
			s.ratchetLocked(from, m.Total)
		}
	case protocol.Rematch:
		if s.machine.Phase() == match.PhaseFinished {
			log.Info().Str("peer_id", from).Msg("rematch requested by guest")
			s.hostRematchLocked()
		}
	default:
		log.Debug().Str("peer_id", from).Str("type", string(msg.Tag())).Msg("unexpected message for host")
	}
}

func (s *Online) guestReceiveLocked(from string, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Hello:
	case protocol.LobbyUpdate:
		s.lobbySeen = true
		s.replaceRosterLocked(m.Peers)
	case protocol.GameUpdate:
		s.lobbySeen = true
		s.replaceRosterLocked(m.Peers)
	case protocol.StartReq:
		if s.machine.Phase() != match.PhaseLobby {
			return
		}
		s.sendLocked(s.hostConn, protocol.StartConfirm{})
		strategy, err := scoresync.ParseStrategy(m.Strategy)
		if err != nil {
			strategy = scoresync.Auto
		}
		s.strategy = strategy.Resolve(s.roster.Len())
		id, err := uuid.Parse(m.MatchID)
		if err != nil {
			id = uuid.Nil
		}
		s.beginLocked(id)
	case protocol.Click:
		s.acceptClickLocked(from, m)
	case protocol.Sync:
		if s.machine.Phase() == match.PhasePlaying && s.strategy == scoresync.PeerOptimistic {
			s.ratchetLocked(from, m.Total)
		}
	case protocol.GameOver:
		if !s.machine.Phase().InMatch() {
			return
		}
		if len(m.Peers) > 0 {
			// The host's table wins over local counts in either strategy.
			s.roster.Replace(m.Peers, s.selfID)
			s.board.Tally(s.selfID).Overwrite(s.roster.Score(s.selfID))
		}
		s.finishLocked(s.roster.LocalIndex())
		s.logFinishedLocked()
	case protocol.Rematch:
		if s.machine.Phase() == match.PhaseFinished {
			s.resetForRematchLocked()
		}
	default:
		log.Debug().Str("type", string(msg.Tag())).Msg("unexpected message for guest")
	}
}

// acceptClickLocked applies an inbound CLICK after the rate limiter.
func (s *Online) acceptClickLocked(from string, m protocol.Click) {
	if s.machine.Phase() != match.PhasePlaying {
		return
	}
	if !s.limiter.ShouldAccept(from, s.now()) {
		log.Debug().Str("peer_id", from).Msg("click rate limited")
		return
	}

	switch {
	case s.strategy == scoresync.PeerOptimistic:
		s.ratchetLocked(from, m.Total)
	case s.role == RoleHost:
		s.roster.Increment(from)
		s.publishSnapshotLocked()
		s.touch()
	}
}

func (s *Online) ratchetLocked(peerID string, total int) {
	t := s.board.Tally(peerID)
	if t.Confirm(total) {
		s.roster.SetScore(peerID, t.Display())
		s.touch()
	}
}

// replaceRosterLocked installs a host broadcast. In host-authoritative matches
// the snapshot overwrites the local placeholder; in peer-optimistic matches the
// local count stays authoritative for this player's own score.
func (s *Online) replaceRosterLocked(peers []roster.Peer) {
	s.roster.Replace(peers, s.selfID)
	if s.machine.Phase().InMatch() {
		own := s.board.Tally(s.selfID)
		if s.strategy == scoresync.HostAuthoritative {
			own.Overwrite(s.roster.Score(s.selfID))
		} else {
			s.roster.SetScore(s.selfID, own.Display())
		}
	}
	s.touch()
}

// startCountdownLocked runs once all guests confirmed or the grace expired.
func (s *Online) startCountdownLocked() {
	if !s.waiting {
		return
	}
	s.waiting = false
	clear(s.pendingConfirm)
	s.sched.Cancel(match.TimerStartGrace)
	s.beginLocked(s.matchID)
}

func (s *Online) cancelStartLocked() {
	s.waiting = false
	clear(s.pendingConfirm)
	s.sched.Cancel(match.TimerStartGrace)
	log.Info().Msg("start cancelled, no guests left")
	s.touch()
}

func (s *Online) beginLocked(id uuid.UUID) {
	s.limiter.Reset()
	s.board.Reset()
	s.snapshotDirty = false
	if err := s.beginMatchLocked(id); err != nil {
		log.Error().Err(err).Msg("failed to start countdown")
		return
	}
	log.Info().
		Str("match_id", s.matchID.String()).
		Str("role", s.role.String()).
		Str("strategy", string(s.strategy)).
		Msg("countdown started")
}

func (s *Online) onPlayingLocked() {
	if s.strategy == scoresync.PeerOptimistic {
		s.sched.Every(match.TimerSync, s.cfg.SyncInterval, func() {
			s.sendToPeersLocked(protocol.Sync{Total: s.board.Tally(s.selfID).Optimistic()})
		})
	}
}

// onExpireLocked ends the match on the host. A guest's clock is cosmetic; its
// match ends when GAME_OVER arrives.
func (s *Online) onExpireLocked() {
	if s.role != RoleHost {
		return
	}
	// Clicks still in flight are lost; the table sent here is the result.
	s.snapshotDirty = false
	s.broadcastLocked(protocol.GameOver{Peers: s.roster.Snapshot()})
	s.finishLocked(0)
	s.logFinishedLocked()
}

func (s *Online) logFinishedLocked() {
	if s.result == nil {
		return
	}
	ev := log.Info().
		Str("match_id", s.matchID.String()).
		Str("role", s.role.String()).
		Ints("scores", s.result.Scores).
		Bool("draw", s.result.Draw)
	if s.result.WinningPeerIndex != nil {
		ev = ev.Int("winner", *s.result.WinningPeerIndex)
	}
	ev.Msg("match finished")
}

func (s *Online) hostRematchLocked() {
	s.resetForRematchLocked()
	s.broadcastLocked(protocol.Rematch{})
	s.broadcastRosterLocked()
}

func (s *Online) resetForRematchLocked() {
	if err := s.machine.Reset(); err != nil {
		log.Error().Err(err).Msg("failed to reset for rematch")
		return
	}
	s.limiter.Reset()
	s.board.Reset()
	s.resetMatchLocked()
	log.Info().Str("role", s.role.String()).Msg("rematch, back to lobby")
}

// publishSnapshotLocked sends the full score table, or marks it dirty when
// snapshots are debounced.
func (s *Online) publishSnapshotLocked() {
	if s.cfg.SnapshotDebounce <= 0 {
		s.broadcastLocked(protocol.GameUpdate{Peers: s.roster.Snapshot()})
		return
	}
	s.snapshotDirty = true
	if !s.sched.Active(match.TimerSnapshot) {
		s.sched.After(match.TimerSnapshot, s.cfg.SnapshotDebounce, func() {
			if s.snapshotDirty {
				s.snapshotDirty = false
				s.broadcastLocked(protocol.GameUpdate{Peers: s.roster.Snapshot()})
			}
		})
	}
}

func (s *Online) broadcastRosterLocked() {
	s.broadcastLocked(protocol.LobbyUpdate{Peers: s.roster.Snapshot()})
}

// sendToPeersLocked sends to every guest on the host, or to the host on a guest.
func (s *Online) sendToPeersLocked(m protocol.Message) {
	if s.role == RoleHost {
		s.broadcastLocked(m)
		return
	}
	s.sendLocked(s.hostConn, m)
}

func (s *Online) broadcastLocked(m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode broadcast")
		return
	}
	for id, c := range s.conns {
		if !c.IsOpen() {
			continue
		}
		if err := c.Send(data); err != nil {
			log.Debug().Err(err).Str("peer_id", id).Str("type", string(m.Tag())).Msg("send failed")
		}
	}
}

func (s *Online) sendLocked(c transport.Connection, m protocol.Message) {
	if c == nil || !c.IsOpen() {
		return
	}
	data, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode message")
		return
	}
	if err := c.Send(data); err != nil {
		log.Debug().Err(err).Str("peer_id", c.PeerID()).Str("type", string(m.Tag())).Msg("send failed")
	}
}

func (s *Online) failLocked(err error) {
	if !s.machine.Fail() {
		return
	}
	s.err = err
	s.waiting = false
	log.Error().Err(err).Str("role", s.role.String()).Msg("session failed")
	s.touch()
}
