package ratelimit

import (
	"testing"
	"time"
)

func TestShouldAccept(t *testing.T) {
	base := time.Unix(1700000000, 0)

	t.Run("second event inside interval is rejected", func(t *testing.T) {
		l := New(DefaultMinInterval)
		if !l.ShouldAccept("a", base) {
			t.Fatalf("first event must be accepted")
		}
		if l.ShouldAccept("a", base.Add(49*time.Millisecond)) {
			t.Fatalf("event at +49ms must be rejected")
		}
	})

	t.Run("second event after interval is accepted", func(t *testing.T) {
		l := New(DefaultMinInterval)
		l.ShouldAccept("a", base)
		if !l.ShouldAccept("a", base.Add(51*time.Millisecond)) {
			t.Fatalf("event at +51ms must be accepted")
		}
	})

	t.Run("rejected events do not move the window", func(t *testing.T) {
		l := New(DefaultMinInterval)
		l.ShouldAccept("a", base)
		l.ShouldAccept("a", base.Add(40*time.Millisecond))
		if !l.ShouldAccept("a", base.Add(50*time.Millisecond)) {
			t.Fatalf("event at exactly the interval must be accepted")
		}
	})

	t.Run("senders are independent", func(t *testing.T) {
		l := New(DefaultMinInterval)
		l.ShouldAccept("a", base)
		if !l.ShouldAccept("b", base.Add(time.Millisecond)) {
			t.Fatalf("other sender must not be gated")
		}
	})
}

func TestReset(t *testing.T) {
	base := time.Unix(1700000000, 0)
	l := New(0)
	if l.MinInterval() != DefaultMinInterval {
		t.Fatalf("expected default interval, got %v", l.MinInterval())
	}

	l.ShouldAccept("a", base)
	l.Reset()
	if !l.ShouldAccept("a", base.Add(time.Millisecond)) {
		t.Fatalf("reset must clear stale timestamps")
	}

	l.Forget("a")
	if !l.ShouldAccept("a", base.Add(2*time.Millisecond)) {
		t.Fatalf("forget must clear the sender")
	}
}
