// Package ratelimit gates inbound score events per sender.
package ratelimit

import "time"

// DefaultMinInterval caps a sender at 20 accepted events per second.
const DefaultMinInterval = 50 * time.Millisecond

// Limiter enforces a minimum interval between accepted events of one sender.
// It is advisory anti-abuse: rejected events are dropped silently and the sender
// is never told. Limiter is not safe for concurrent use; the owning session
// serializes access.
type Limiter struct {
	minInterval  time.Duration
	lastAccepted map[string]time.Time
}

// New creates a Limiter. A non-positive minInterval falls back to
// DefaultMinInterval.
func New(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Limiter{
		minInterval:  minInterval,
		lastAccepted: make(map[string]time.Time),
	}
}

// ShouldAccept reports whether an event from senderID observed at ts passes the
// gate, and records it as the sender's last accepted event if so.
func (l *Limiter) ShouldAccept(senderID string, ts time.Time) bool {
	if last, ok := l.lastAccepted[senderID]; ok && ts.Sub(last) < l.minInterval {
		return false
	}
	l.lastAccepted[senderID] = ts
	return true
}

// Forget drops the state kept for senderID.
func (l *Limiter) Forget(senderID string) {
	delete(l.lastAccepted, senderID)
}

// Reset clears all senders. Called at the start of every match so timestamps of
// a previous match never gate the new one.
func (l *Limiter) Reset() {
	clear(l.lastAccepted)
}

// MinInterval returns the configured gate.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}
