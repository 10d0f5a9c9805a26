package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/session"
	"github.com/mcdev12/tapduel/go/internal/results"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}

func TestLocalKeysDriveAMatch(t *testing.T) {
	counters := &results.Counters{}
	s, err := session.NewLocal(3, session.Options{
		Config:          session.DefaultConfig(),
		OnMatchComplete: counters.Callback(),
	})
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctl := localController{s}

	if ctl.Press('x') {
		t.Fatalf("unmapped key must be ignored")
	}
	if !ctl.Press('s') {
		t.Fatalf("start refused")
	}
	ctl.Advance(3 * time.Second)
	for _, key := range []byte("1 333") {
		ctl.Press(key)
	}
	ctl.Advance(10 * time.Second)

	v := ctl.View()
	if v.Phase != match.PhaseFinished {
		t.Fatalf("phase = %s", v.Phase)
	}
	var out bytes.Buffer
	renderView(&out, v, hintFor("local"))
	frame := out.String()
	for _, want := range []string{"TAP DUEL  local", "Player 3 wins!", "[1-4] tap"} {
		if !strings.Contains(frame, want) {
			t.Fatalf("frame missing %q:\n%s", want, frame)
		}
	}
	if counters.MatchesPlayed() != 1 || counters.MatchesWon() != 0 {
		t.Fatalf("counters played=%d won=%d", counters.MatchesPlayed(), counters.MatchesWon())
	}
}

func TestReadKeysStopsOnQuit(t *testing.T) {
	s, err := session.NewPractice(session.PracticeOptions{Options: session.Options{Config: session.DefaultConfig()}})
	if err != nil {
		t.Fatalf("new practice: %v", err)
	}
	ctl := practiceController{s}
	readKeys(bytes.NewReader([]byte("hsq s")), ctl)

	v := ctl.View()
	if v.Phase != match.PhaseCountdown || v.Peers[1].Label != "Zen Master Bot" {
		t.Fatalf("unexpected state after keys: phase %s peers %+v", v.Phase, v.Peers)
	}
}

func TestUnknownTransport(t *testing.T) {
	if _, _, err := newTransport(Config{Transport: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := newController(Config{}, session.Options{}, []string{"join"}); err == nil {
		t.Fatalf("join without invite must fail")
	}
}
