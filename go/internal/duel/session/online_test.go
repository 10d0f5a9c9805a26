package session

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/tapduel/go/internal/duel/invite"
	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
	"github.com/mcdev12/tapduel/go/internal/duel/protocol"
	"github.com/mcdev12/tapduel/go/internal/duel/scoresync"
	"github.com/mcdev12/tapduel/go/internal/duel/transport"
)

const step = 100 * time.Millisecond

type results struct {
	mu  sync.Mutex
	got []outcome.MatchResult
}

func (r *results) record(res outcome.MatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, res)
}

func (r *results) all() []outcome.MatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]outcome.MatchResult, len(r.got))
	copy(out, r.got)
	return out
}

type harness struct {
	t        *testing.T
	net      *transport.Network
	cfg      Config
	sessions []*Online
	results  map[*Online]*results
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return &harness{t: t, net: transport.NewNetwork(), cfg: cfg, results: make(map[*Online]*results)}
}

func (h *harness) join(id string, token invite.Token) *Online {
	h.t.Helper()
	rec := &results{}
	s, err := NewOnline(OnlineOptions{
		Options:     Options{Config: h.cfg, OnMatchComplete: rec.record},
		Transport:   h.net.NewTransportWithID(id),
		InviteToken: token,
	})
	if err != nil {
		h.t.Fatalf("new session %s: %v", id, err)
	}
	if err := s.Start(); err != nil {
		h.t.Fatalf("start %s: %v", id, err)
	}
	h.sessions = append(h.sessions, s)
	h.results[s] = rec
	h.net.Flush()
	return s
}

func (h *harness) host() *Online { return h.join("host", "") }

// advance moves every session forward in small steps, delivering messages
// between steps.
func (h *harness) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		for _, s := range h.sessions {
			s.Advance(step)
		}
		h.net.Flush()
	}
}

func (h *harness) resultsOf(s *Online) []outcome.MatchResult {
	return h.results[s].all()
}

func scores(v View) []int {
	out := make([]int, len(v.Peers))
	for i, p := range v.Peers {
		out[i] = p.Score
	}
	return out
}

func startMatch(t *testing.T, h *harness, host *Online) {
	t.Helper()
	if !host.RequestStart() {
		t.Fatalf("host could not start, phase %s", host.Phase())
	}
	h.net.Flush()
	for _, s := range h.sessions {
		if s.Phase() != match.PhaseCountdown {
			t.Fatalf("%s: expected COUNTDOWN, got %s", s.ID(), s.Phase())
		}
	}
	h.advance(3 * time.Second)
	for _, s := range h.sessions {
		if s.Phase() != match.PhasePlaying {
			t.Fatalf("%s: expected PLAYING, got %s", s.ID(), s.Phase())
		}
	}
}

func TestLobbyJoin(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	host := h.host()
	if host.Phase() != match.PhaseLobby || host.Role() != RoleHost {
		t.Fatalf("host phase %s role %s", host.Phase(), host.Role())
	}
	if want := "http://localhost:8090/?room=host"; host.InviteURL() != want {
		t.Fatalf("invite url = %q, want %q", host.InviteURL(), want)
	}
	if host.RequestStart() {
		t.Fatalf("start without guests must be ignored")
	}

	guest := h.join("guest", "host")
	if guest.Phase() != match.PhaseLobby || guest.Role() != RoleGuest {
		t.Fatalf("guest phase %s role %s", guest.Phase(), guest.Role())
	}

	hv, gv := host.View(), guest.View()
	if len(gv.Peers) != 2 || gv.Peers[1].Label != hv.Peers[1].Label {
		t.Fatalf("guest mirror differs from host roster: %+v vs %+v", gv.Peers, hv.Peers)
	}
	if !gv.Peers[1].IsLocal || gv.Peers[0].IsLocal {
		t.Fatalf("guest must mark only its own entry local: %+v", gv.Peers)
	}
	if gv.Peers[0].Label != "Player 1 (Host)" || gv.Peers[1].Color != "blue" {
		t.Fatalf("unexpected presentation: %+v", gv.Peers)
	}
}

func TestEndToEndTie(t *testing.T) {
	for _, strategy := range []scoresync.Strategy{scoresync.Auto, scoresync.HostAuthoritative} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Strategy = strategy
			h := newHarness(t, cfg)
			host := h.host()
			guest := h.join("guest", "host")

			startMatch(t, h, host)
			for i := 0; i < 5; i++ {
				host.HandleLocalClick()
				guest.HandleLocalClick()
				h.advance(step)
			}
			h.advance(10 * time.Second)

			for _, s := range []*Online{host, guest} {
				v := s.View()
				if v.Phase != match.PhaseFinished {
					t.Fatalf("%s: expected FINISHED, got %s", s.ID(), v.Phase)
				}
				if diff := cmp.Diff([]int{5, 5}, scores(v)); diff != "" {
					t.Fatalf("%s scores mismatch (-want +got):\n%s", s.ID(), diff)
				}
				got := h.resultsOf(s)
				if len(got) != 1 {
					t.Fatalf("%s: match complete fired %d times", s.ID(), len(got))
				}
				if !got[0].Draw || got[0].WinningPeerIndex != nil || !got[0].IsNetworked {
					t.Fatalf("%s: expected networked draw, got %+v", s.ID(), got[0])
				}
				if s.ActiveTimers() != 0 {
					t.Fatalf("%s: %d timers left after finish", s.ID(), s.ActiveTimers())
				}
			}

			hr, gr := h.resultsOf(host)[0], h.resultsOf(guest)[0]
			if hr.MatchID != gr.MatchID {
				t.Fatalf("host and guest report different matches")
			}
			if hr.LocalPeerIndex != 0 || gr.LocalPeerIndex != 1 {
				t.Fatalf("local indices = %d, %d", hr.LocalPeerIndex, gr.LocalPeerIndex)
			}

			// Late input after the match is ignored.
			host.HandleLocalClick()
			h.advance(time.Second)
			if diff := cmp.Diff([]int{5, 5}, scores(host.View())); diff != "" {
				t.Fatalf("click after finish changed scores:\n%s", diff)
			}
		})
	}
}

func TestHostAuthoritativeConvergesUnderLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = scoresync.HostAuthoritative
	h := newHarness(t, cfg)
	host := h.host()
	a := h.join("a", "host")
	b := h.join("b", "host")

	startMatch(t, h, host)
	if host.View().Strategy != scoresync.HostAuthoritative || a.View().Strategy != scoresync.HostAuthoritative {
		t.Fatalf("strategy not adopted by guests")
	}

	rng := rand.New(rand.NewSource(7))
	lossy := true
	h.net.SetDropFunc(func(from, to string, msg []byte) bool {
		return lossy && strings.Contains(string(msg), `"GAME_UPDATE"`) && rng.Intn(2) == 0
	})

	for i := 0; i < 20; i++ {
		host.HandleLocalClick()
		if i%2 == 0 {
			a.HandleLocalClick()
		}
		if i%3 == 0 {
			b.HandleLocalClick()
		}
		h.advance(step)
	}

	lossy = false
	h.advance(10 * time.Second)

	want := scores(host.View())
	if diff := cmp.Diff([]int{20, 10, 7}, want); diff != "" {
		t.Fatalf("host scores mismatch (-want +got):\n%s", diff)
	}
	for _, g := range []*Online{a, b} {
		if diff := cmp.Diff(want, scores(g.View())); diff != "" {
			t.Fatalf("%s did not converge (-host +guest):\n%s", g.ID(), diff)
		}
		if len(h.resultsOf(g)) != 1 || *h.resultsOf(g)[0].WinningPeerIndex != 0 {
			t.Fatalf("%s: unexpected results %+v", g.ID(), h.resultsOf(g))
		}
	}
}

func TestRematchCyclesAreIdentical(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	host := h.host()
	guest := h.join("guest", "host")

	var finals [][]int
	for round := 1; round <= 2; round++ {
		startMatch(t, h, host)
		if n := host.ActiveTimers(); n != 2 {
			t.Fatalf("round %d: expected duration and sync timers only, have %d", round, n)
		}
		for i := 0; i < 4; i++ {
			host.HandleLocalClick()
			if i < 2 {
				guest.HandleLocalClick()
			}
			h.advance(step)
		}
		h.advance(10 * time.Second)
		finals = append(finals, scores(guest.View()))

		if !guest.RequestRematch() {
			t.Fatalf("round %d: guest rematch refused", round)
		}
		if guest.Phase() != match.PhaseFinished {
			t.Fatalf("guest rematch must wait for the host, got %s", guest.Phase())
		}
		h.net.Flush()
		for _, s := range []*Online{host, guest} {
			v := s.View()
			if v.Phase != match.PhaseLobby {
				t.Fatalf("round %d %s: expected LOBBY, got %s", round, s.ID(), v.Phase)
			}
			if diff := cmp.Diff([]int{0, 0}, scores(v)); diff != "" {
				t.Fatalf("round %d %s: scores not reset:\n%s", round, s.ID(), diff)
			}
		}
	}

	if diff := cmp.Diff(finals[0], finals[1]); diff != "" {
		t.Fatalf("rematch rounds differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4, 2}, finals[0]); diff != "" {
		t.Fatalf("final scores mismatch (-want +got):\n%s", diff)
	}
	if len(h.resultsOf(host)) != 2 || len(h.resultsOf(guest)) != 2 {
		t.Fatalf("expected one report per round on each side")
	}
}

func TestStartWaitsForConfirmOrGrace(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	host := h.host()
	guest := h.join("guest", "host")
	h.net.SetDropFunc(func(from, to string, msg []byte) bool {
		return strings.Contains(string(msg), "START_CONFIRM")
	})

	if !host.RequestStart() {
		t.Fatalf("start refused")
	}
	h.net.Flush()
	if !host.WaitingForConfirm() || host.Phase() != match.PhaseLobby {
		t.Fatalf("host must wait for confirmation, phase %s", host.Phase())
	}
	if guest.Phase() != match.PhaseCountdown {
		t.Fatalf("guest must start on START_REQ, got %s", guest.Phase())
	}
	if host.RequestStart() {
		t.Fatalf("second start while waiting must be ignored")
	}

	h.advance(500 * time.Millisecond)
	if host.WaitingForConfirm() || host.Phase() != match.PhaseCountdown {
		t.Fatalf("grace expiry must start the countdown, phase %s", host.Phase())
	}
}

func TestGuestDisconnectMidMatch(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	host := h.host()
	guest := h.join("guest", "host")

	startMatch(t, h, host)
	host.HandleLocalClick()
	guest.HandleLocalClick()
	h.advance(step)

	if err := guest.Close(); err != nil {
		t.Fatalf("close guest: %v", err)
	}
	h.sessions = h.sessions[:1]
	h.net.Flush()
	if guest.ActiveTimers() != 0 {
		t.Fatalf("closed guest left %d timers", guest.ActiveTimers())
	}

	if host.Phase() != match.PhasePlaying {
		t.Fatalf("host must keep playing, got %s", host.Phase())
	}
	host.HandleLocalClick()
	h.advance(10 * time.Second)

	got := h.resultsOf(host)
	if len(got) != 1 {
		t.Fatalf("host reported %d results", len(got))
	}
	if diff := cmp.Diff([]int{2}, got[0].Scores); diff != "" {
		t.Fatalf("scores mismatch (-want +got):\n%s", diff)
	}
	if got[0].WinningPeerIndex == nil || *got[0].WinningPeerIndex != 0 {
		t.Fatalf("remaining host must win, got %+v", got[0])
	}
	if len(h.resultsOf(guest)) != 0 {
		t.Fatalf("closed guest must not report")
	}
}

func TestRoomFull(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	host := h.host()
	for _, id := range []string{"g1", "g2", "g3"} {
		h.join(id, "host")
	}
	late := h.join("g4", "host")

	if late.Phase() != match.PhaseError || !errors.Is(late.Err(), ErrRoomFull) {
		t.Fatalf("expected room-full error, got %s %v", late.Phase(), late.Err())
	}
	if msg := late.View().Message(); msg != ErrRoomFull.Error() {
		t.Fatalf("message = %q", msg)
	}
	if n := len(host.View().Peers); n != 4 {
		t.Fatalf("host roster has %d peers, want 4", n)
	}
}

func TestHostLeavesLobby(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	host := h.host()
	a := h.join("a", "host")
	b := h.join("b", "host")

	if err := a.Close(); err != nil {
		t.Fatalf("close a: %v", err)
	}
	h.net.Flush()
	bv := b.View()
	if len(bv.Peers) != 2 || bv.Peers[1].ID != "b" || bv.Peers[1].Label != "Player 2" || bv.Peers[1].Color != "blue" {
		t.Fatalf("slots not compacted on guest mirror: %+v", bv.Peers)
	}

	if err := host.Close(); err != nil {
		t.Fatalf("close host: %v", err)
	}
	h.net.Flush()
	if b.Phase() != match.PhaseError || !errors.Is(b.Err(), ErrHostLost) {
		t.Fatalf("expected host-lost error, got %s %v", b.Phase(), b.Err())
	}
	if b.View().Message() != RestartMessage {
		t.Fatalf("unexpected message %q", b.View().Message())
	}
}

func TestTransportFailures(t *testing.T) {
	t.Run("unknown host", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		guest := h.join("guest", "nobody")
		if guest.Phase() != match.PhaseError {
			t.Fatalf("expected ERROR, got %s", guest.Phase())
		}
		if !errors.Is(guest.Err(), ErrTransport) || !errors.Is(guest.Err(), transport.ErrUnknownPeer) {
			t.Fatalf("unexpected error %v", guest.Err())
		}
	})

	t.Run("error mid match", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		host := h.host()
		guest := h.join("guest", "host")
		startMatch(t, h, host)

		h.net.Fail("guest", errors.New("ice negotiation failed"))
		h.net.Flush()
		if guest.Phase() != match.PhaseError || !errors.Is(guest.Err(), ErrTransport) {
			t.Fatalf("expected transport error, got %s %v", guest.Phase(), guest.Err())
		}
		if guest.ActiveTimers() != 0 {
			t.Fatalf("%d timers left after error", guest.ActiveTimers())
		}
		guest.HandleLocalClick()
		if guest.RequestRematch() {
			t.Fatalf("rematch from ERROR must be refused")
		}
	})
}

// scripted is a raw peer that sends hand-built messages to the host.
type scripted struct {
	conn transport.Connection
}

func (s *scripted) OnReady(string) {}

func (s *scripted) OnConnection(transport.Connection) {}

func (s *scripted) OnOpen(c transport.Connection) { s.conn = c }

func (s *scripted) OnData(transport.Connection, []byte) {}

func (s *scripted) OnClose(transport.Connection) {}

func (s *scripted) OnError(error) {}

func (s *scripted) send(t *testing.T, m protocol.Message) { s.sendRaw(t, protocol.MustEncode(m)) }

func (s *scripted) sendRaw(t *testing.T, data []byte) {
	t.Helper()
	if err := s.conn.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestHostRateLimitsAndIgnoresGarbage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = scoresync.HostAuthoritative
	h := newHarness(t, cfg)
	host := h.host()

	peer := &scripted{}
	tr := h.net.NewTransportWithID("script")
	if err := tr.Start(peer); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := tr.Connect("host"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.net.Flush()

	peer.sendRaw(t, []byte("garbage"))
	peer.sendRaw(t, []byte(`{"type":"TELEPORT"}`))
	peer.send(t, protocol.Click{Delta: true})
	h.net.Flush()
	if host.Phase() != match.PhaseLobby || host.Err() != nil {
		t.Fatalf("host disturbed by bad input: %s %v", host.Phase(), host.Err())
	}

	if !host.RequestStart() {
		t.Fatalf("start refused")
	}
	h.advance(500*time.Millisecond + 3*time.Second)
	if host.Phase() != match.PhasePlaying {
		t.Fatalf("expected PLAYING, got %s", host.Phase())
	}

	for i := 0; i < 3; i++ {
		peer.send(t, protocol.Click{Delta: true})
	}
	h.net.Flush()
	h.advance(step)
	peer.send(t, protocol.Click{Delta: true})
	h.net.Flush()

	if diff := cmp.Diff([]int{0, 2}, scores(host.View())); diff != "" {
		t.Fatalf("rate limiting mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	host := h.host()
	h.join("guest", "host")
	startMatch(t, h, host)

	if err := host.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := host.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if host.ActiveTimers() != 0 {
		t.Fatalf("%d timers left after close", host.ActiveTimers())
	}
	if err := host.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close = %v", err)
	}
}

func TestGameOverCarriesFinalTable(t *testing.T) {
	for _, strategy := range []scoresync.Strategy{scoresync.Auto, scoresync.HostAuthoritative} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Strategy = strategy
			h := newHarness(t, cfg)
			host := h.host()
			guest := h.join("guest", "host")

			startMatch(t, h, host)
			for i := 0; i < 3; i++ {
				host.HandleLocalClick()
				guest.HandleLocalClick()
				h.advance(step)
			}

			// The host's timer expires while GAME_OVER is still on the wire, and
			// the guest clicks once more before it arrives.
			host.Advance(10 * time.Second)
			if host.Phase() != match.PhaseFinished {
				t.Fatalf("host expected FINISHED, got %s", host.Phase())
			}
			guest.HandleLocalClick()
			h.net.Flush()

			hr, gr := h.resultsOf(host), h.resultsOf(guest)
			if len(hr) != 1 || len(gr) != 1 {
				t.Fatalf("expected one result each, got %d and %d", len(hr), len(gr))
			}
			if hr[0].MatchID != gr[0].MatchID {
				t.Fatalf("host and guest report different matches")
			}
			for _, res := range []outcome.MatchResult{hr[0], gr[0]} {
				if diff := cmp.Diff([]int{3, 3}, res.Scores); diff != "" {
					t.Fatalf("final scores mismatch (-want +got):\n%s", diff)
				}
				if !res.Draw || res.WinningPeerIndex != nil {
					t.Fatalf("expected a draw, got %+v", res)
				}
			}
			if diff := cmp.Diff([]int{3, 3}, scores(guest.View())); diff != "" {
				t.Fatalf("guest view mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSyncRepairsLostClicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = scoresync.PeerOptimistic
	h := newHarness(t, cfg)
	host := h.host()
	guest := h.join("guest", "host")

	startMatch(t, h, host)
	h.net.SetDropFunc(func(from, to string, msg []byte) bool {
		return strings.Contains(string(msg), `"CLICK"`)
	})
	for i := 0; i < 4; i++ {
		host.HandleLocalClick()
		guest.HandleLocalClick()
		h.advance(step)
	}
	if diff := cmp.Diff([]int{4, 0}, scores(host.View())); diff != "" {
		t.Fatalf("host saw guest clicks before any SYNC (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 4}, scores(guest.View())); diff != "" {
		t.Fatalf("guest saw host clicks before any SYNC (-want +got):\n%s", diff)
	}

	h.advance(cfg.SyncInterval)
	for _, s := range []*Online{host, guest} {
		if s.Phase() != match.PhasePlaying {
			t.Fatalf("%s: expected PLAYING, got %s", s.ID(), s.Phase())
		}
		if diff := cmp.Diff([]int{4, 4}, scores(s.View())); diff != "" {
			t.Fatalf("%s not repaired by SYNC (-want +got):\n%s", s.ID(), diff)
		}
	}
}

func TestSnapshotDebounceConverges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = scoresync.HostAuthoritative
	cfg.SnapshotDebounce = 250 * time.Millisecond
	h := newHarness(t, cfg)
	host := h.host()
	guest := h.join("guest", "host")

	startMatch(t, h, host)
	updates := 0
	h.net.SetDropFunc(func(from, to string, msg []byte) bool {
		if from == "host" && strings.Contains(string(msg), `"GAME_UPDATE"`) {
			updates++
		}
		return false
	})
	for i := 0; i < 7; i++ {
		host.HandleLocalClick()
		guest.HandleLocalClick()
		h.advance(step)
	}
	h.advance(cfg.SnapshotDebounce)

	if updates == 0 || updates >= 14 {
		t.Fatalf("expected coalesced snapshots, host sent %d for 14 clicks", updates)
	}
	if diff := cmp.Diff(scores(host.View()), scores(guest.View())); diff != "" {
		t.Fatalf("guest behind host after debounce (-host +guest):\n%s", diff)
	}

	h.advance(10 * time.Second)
	for _, s := range []*Online{host, guest} {
		if diff := cmp.Diff([]int{7, 7}, scores(s.View())); diff != "" {
			t.Fatalf("%s final scores mismatch (-want +got):\n%s", s.ID(), diff)
		}
		if n := len(h.resultsOf(s)); n != 1 {
			t.Fatalf("%s reported %d results", s.ID(), n)
		}
	}
}
