package roster

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOnlineSlots(t *testing.T) {
	r := NewOnline("host", MaxPlayers)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.Add(id); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	if _, err := r.Add("d"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if _, err := r.Add("a"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	want := []Peer{
		{ID: "host", IsHost: true, IsLocal: true, Color: "red", Label: "Player 1 (Host)"},
		{ID: "a", Color: "blue", Label: "Player 2"},
		{ID: "b", Color: "green", Label: "Player 3"},
		{ID: "c", Color: "yellow", Label: "Player 4"},
	}
	if diff := cmp.Diff(want, r.Snapshot()); diff != "" {
		t.Fatalf("roster mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveCompactsSlots(t *testing.T) {
	t.Run("last slot leaves", func(t *testing.T) {
		r := NewOnline("host", MaxPlayers)
		_, _ = r.Add("a")
		_, _ = r.Add("b")

		if !r.Remove("b") {
			t.Fatalf("expected b to be removed")
		}
		want := []Peer{
			{ID: "host", IsHost: true, IsLocal: true, Color: "red", Label: "Player 1 (Host)"},
			{ID: "a", Color: "blue", Label: "Player 2"},
		}
		if diff := cmp.Diff(want, r.Snapshot()); diff != "" {
			t.Fatalf("roster mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("middle slot leaves", func(t *testing.T) {
		r := NewOnline("host", MaxPlayers)
		_, _ = r.Add("a")
		_, _ = r.Add("b")
		r.SetScore("b", 7)

		r.Remove("a")
		got, ok := r.At(1)
		if !ok {
			t.Fatalf("expected slot 1 to exist")
		}
		want := Peer{ID: "b", Color: "blue", Label: "Player 2", Score: 7}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("slot 1 mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("host cannot be removed", func(t *testing.T) {
		r := NewOnline("host", MaxPlayers)
		if r.Remove("host") {
			t.Fatalf("host removal must be refused")
		}
		if r.Remove("ghost") {
			t.Fatalf("unknown peer removal must report false")
		}
	})
}

func TestReplaceMarksLocal(t *testing.T) {
	host := NewOnline("host", MaxPlayers)
	_, _ = host.Add("guest")
	host.Increment("guest")

	mirror := New(MaxPlayers, OnlineLabels)
	mirror.Replace(host.Snapshot(), "guest")

	if mirror.LocalIndex() != 1 {
		t.Fatalf("expected guest to be local at slot 1, got %d", mirror.LocalIndex())
	}
	if p, _ := mirror.At(0); p.IsLocal {
		t.Fatalf("host entry must not be local on the guest")
	}
	if diff := cmp.Diff([]int{0, 1}, mirror.Scores()); diff != "" {
		t.Fatalf("scores mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalAndPractice(t *testing.T) {
	if _, err := NewLocal(1); err == nil {
		t.Fatalf("expected error for one local player")
	}
	if _, err := NewLocal(5); err == nil {
		t.Fatalf("expected error for five local players")
	}

	r, err := NewLocal(3)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if r.Len() != 3 || !r.Full() || r.LocalIndex() != 0 {
		t.Fatalf("unexpected local roster: %+v", r.Snapshot())
	}

	p := NewPractice("You", "Novice Bot")
	bot, _ := p.At(1)
	if bot.Label != "Novice Bot" || bot.Color != "blue" {
		t.Fatalf("unexpected bot seat: %+v", bot)
	}
}
