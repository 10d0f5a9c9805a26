package session

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
)

func TestLocalMatch(t *testing.T) {
	rec := &results{}
	s, err := NewLocal(3, Options{Config: DefaultConfig(), OnMatchComplete: rec.record})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	s.HandleClick(0)
	if !s.RequestStart() {
		t.Fatalf("start refused")
	}
	s.Advance(3 * time.Second)
	if s.Phase() != match.PhasePlaying {
		t.Fatalf("expected PLAYING, got %s", s.Phase())
	}

	for i := 0; i < 4; i++ {
		s.HandleClick(2)
	}
	s.HandleClick(0)
	s.HandleClick(7)
	if err := s.SetPlayerCount(2); err == nil {
		t.Fatalf("changing players mid match must fail")
	}
	s.Advance(10 * time.Second)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("match complete fired %d times", len(got))
	}
	res := got[0]
	if diff := cmp.Diff([]int{1, 0, 4}, res.Scores); diff != "" {
		t.Fatalf("scores mismatch (-want +got):\n%s", diff)
	}
	if res.IsNetworked || res.Mode != outcome.ModeLocal || res.LocalPeerIndex != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.WinningPeerIndex == nil || *res.WinningPeerIndex != 2 || res.LocalWon() {
		t.Fatalf("slot 2 won, the device owner must not be credited: %+v", res)
	}

	if err := s.SetPlayerCount(4); err != nil {
		t.Fatalf("set player count: %v", err)
	}
	v := s.View()
	if v.Phase != match.PhaseLobby || len(v.Peers) != 4 || v.Result != nil {
		t.Fatalf("unexpected view after player change: %+v", v)
	}
}

func TestLocalDrawAndRematch(t *testing.T) {
	rec := &results{}
	s, err := NewLocal(2, Options{Config: DefaultConfig(), OnMatchComplete: rec.record})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	for round := 0; round < 2; round++ {
		if !s.RequestStart() {
			t.Fatalf("round %d: start refused", round)
		}
		s.Advance(13 * time.Second)
		if !s.RequestRematch() {
			t.Fatalf("round %d: rematch refused", round)
		}
		if diff := cmp.Diff([]int{0, 0}, scores(s.View())); diff != "" {
			t.Fatalf("scores not reset:\n%s", diff)
		}
	}

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("expected two reports, got %d", len(got))
	}
	for _, res := range got {
		if !res.Draw || res.WinningPeerIndex != nil {
			t.Fatalf("all-zero match must be a draw: %+v", res)
		}
	}
	if got[0].MatchID == got[1].MatchID {
		t.Fatalf("each round must be a distinct match")
	}
}

func TestNewLocalRejectsPlayerCount(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		if _, err := NewLocal(n, Options{}); err == nil {
			t.Fatalf("NewLocal(%d) must fail", n)
		}
	}
}
