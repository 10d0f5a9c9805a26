// Package scoresync holds the score authority variants of a duel.
//
// In host-authoritative matches the host counts every click and broadcasts the
// whole table; guests keep an optimistic placeholder for their own score that
// the next snapshot overwrites. In peer-optimistic matches each side counts its
// own clicks and ratchets the opponent's reported total upwards.
package scoresync

import (
	"fmt"
	"strings"
)

// Strategy selects the authority variant for a match.
type Strategy string

const (
	HostAuthoritative Strategy = "host"
	PeerOptimistic    Strategy = "optimistic"
	// Auto picks PeerOptimistic for a strict 1:1 duel and HostAuthoritative otherwise.
	Auto Strategy = "auto"
)

// ParseStrategy accepts the names used in configuration and on the wire.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case HostAuthoritative, "host-authoritative":
		return HostAuthoritative, nil
	case PeerOptimistic, "peer-optimistic":
		return PeerOptimistic, nil
	case Auto, "":
		return Auto, nil
	}
	return "", fmt.Errorf("unknown score strategy %q", s)
}

// Resolve returns the concrete strategy for a match with the given number of
// participants.
func (s Strategy) Resolve(participants int) Strategy {
	switch s {
	case HostAuthoritative, PeerOptimistic:
		return s
	}
	if participants == 2 {
		return PeerOptimistic
	}
	return HostAuthoritative
}

// Tally is a two-tier score: the locally observed optimistic value and the last
// value confirmed by a remote report. The displayed score is the larger of the
// two, so ratcheted values never decrease.
type Tally struct {
	optimistic int
	confirmed  int
}

// Bump records one local click on top of whatever is displayed and returns the
// new optimistic value.
func (t *Tally) Bump() int {
	t.optimistic = max(t.optimistic, t.confirmed) + 1
	return t.optimistic
}

// Confirm applies a remote running total with the max-ratchet rule and reports
// whether the displayed value rose.
func (t *Tally) Confirm(v int) bool {
	before := t.Display()
	t.confirmed = max(t.confirmed, v)
	return t.Display() > before
}

// Overwrite installs an authoritative value on both tiers.
func (t *Tally) Overwrite(v int) {
	t.optimistic = v
	t.confirmed = v
}

// Optimistic returns the local tier.
func (t *Tally) Optimistic() int { return t.optimistic }

// Confirmed returns the remote tier.
func (t *Tally) Confirmed() int { return t.confirmed }

// Display returns the value shown to the player.
func (t *Tally) Display() int { return max(t.optimistic, t.confirmed) }

// Reset zeroes both tiers.
func (t *Tally) Reset() { *t = Tally{} }

// Board keeps a Tally per peer.
type Board struct {
	tallies map[string]*Tally
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{tallies: make(map[string]*Tally)}
}

// Tally returns the peer's tally, creating it on first use.
func (b *Board) Tally(peerID string) *Tally {
	t, ok := b.tallies[peerID]
	if !ok {
		t = &Tally{}
		b.tallies[peerID] = t
	}
	return t
}

// Forget drops the peer's tally.
func (b *Board) Forget(peerID string) {
	delete(b.tallies, peerID)
}

// Reset zeroes every tally.
func (b *Board) Reset() {
	clear(b.tallies)
}
