// Package roster keeps the ordered list of participants of a duel session.
package roster

import (
	"errors"
	"fmt"
)

// MaxPlayers is the online room capacity, host included.
const MaxPlayers = 4

var (
	// ErrFull is returned when adding a peer to a roster at capacity.
	ErrFull = errors.New("roster full")
	// ErrDuplicate is returned when adding a peer that is already listed.
	ErrDuplicate = errors.New("peer already in roster")
)

// Colors are assigned by slot index.
var Colors = [MaxPlayers]string{"red", "blue", "green", "yellow"}

// Peer is one participant. Score is non-decreasing within a match.
type Peer struct {
	ID      string `json:"peer_id"`
	IsHost  bool   `json:"is_host"`
	IsLocal bool   `json:"-"`
	Color   string `json:"color"`
	Label   string `json:"label"`
	Score   int    `json:"score"`
}

// LabelFunc names the participant sitting at slot.
type LabelFunc func(slot int) string

// OnlineLabels is the online room naming: slot 0 is marked as the host.
func OnlineLabels(slot int) string {
	if slot == 0 {
		return "Player 1 (Host)"
	}
	return fmt.Sprintf("Player %d", slot+1)
}

// PlainLabels names every slot "Player N".
func PlainLabels(slot int) string {
	return fmt.Sprintf("Player %d", slot+1)
}

// Roster is ordered by join order and index 0 is always the host (or the device
// owner in local modes). It is not safe for concurrent use.
type Roster struct {
	peers    []Peer
	capacity int
	labels   LabelFunc
}

// New creates an empty roster holding at most capacity peers.
func New(capacity int, labels LabelFunc) *Roster {
	if capacity <= 0 || capacity > MaxPlayers {
		capacity = MaxPlayers
	}
	if labels == nil {
		labels = PlainLabels
	}
	return &Roster{capacity: capacity, labels: labels}
}

// NewOnline creates the host's authoritative roster with the host at slot 0.
// A capacity outside [1,MaxPlayers] means MaxPlayers.
func NewOnline(hostID string, capacity int) *Roster {
	r := New(capacity, OnlineLabels)
	r.peers = append(r.peers, Peer{ID: hostID, IsHost: true, IsLocal: true})
	r.relabel()
	return r
}

// NewLocal creates a same-device roster of count players. Slot 0 is the device
// owner and is marked local.
func NewLocal(count int) (*Roster, error) {
	if count < 2 || count > MaxPlayers {
		return nil, fmt.Errorf("local player count %d out of range [2,%d]", count, MaxPlayers)
	}
	r := New(count, PlainLabels)
	for i := 0; i < count; i++ {
		r.peers = append(r.peers, Peer{ID: fmt.Sprintf("local-%d", i+1), IsHost: i == 0, IsLocal: i == 0})
	}
	r.relabel()
	return r, nil
}

// NewPractice creates the two-seat practice roster: the player and a bot.
func NewPractice(playerLabel, botLabel string) *Roster {
	labels := func(slot int) string {
		if slot == 0 {
			return playerLabel
		}
		return botLabel
	}
	r := New(2, labels)
	r.peers = []Peer{
		{ID: "player", IsHost: true, IsLocal: true},
		{ID: "bot"},
	}
	r.relabel()
	return r
}

// Len returns the number of peers.
func (r *Roster) Len() int { return len(r.peers) }

// Capacity returns the maximum size.
func (r *Roster) Capacity() int { return r.capacity }

// Full reports whether another peer can be added.
func (r *Roster) Full() bool { return len(r.peers) >= r.capacity }

// Add appends a guest at the next free slot and returns that slot.
func (r *Roster) Add(id string) (int, error) {
	if r.Index(id) >= 0 {
		return -1, fmt.Errorf("add %s: %w", id, ErrDuplicate)
	}
	if r.Full() {
		return -1, fmt.Errorf("add %s: %w", id, ErrFull)
	}
	r.peers = append(r.peers, Peer{ID: id})
	r.relabel()
	return len(r.peers) - 1, nil
}

// Remove drops id and compacts the remaining slots so that there are no gaps;
// labels and colors follow the new slot indices. The host cannot be removed.
func (r *Roster) Remove(id string) bool {
	idx := r.Index(id)
	if idx <= 0 {
		return false
	}
	r.peers = append(r.peers[:idx], r.peers[idx+1:]...)
	r.relabel()
	return true
}

// Index returns the slot of id, or -1.
func (r *Roster) Index(id string) int {
	for i := range r.peers {
		if r.peers[i].ID == id {
			return i
		}
	}
	return -1
}

// LocalIndex returns the slot marked local, or -1.
func (r *Roster) LocalIndex() int {
	for i := range r.peers {
		if r.peers[i].IsLocal {
			return i
		}
	}
	return -1
}

// At returns a copy of the peer at slot.
func (r *Roster) At(slot int) (Peer, bool) {
	if slot < 0 || slot >= len(r.peers) {
		return Peer{}, false
	}
	return r.peers[slot], true
}

// Increment adds one to id's score and returns the new value.
func (r *Roster) Increment(id string) (int, bool) {
	idx := r.Index(id)
	if idx < 0 {
		return 0, false
	}
	r.peers[idx].Score++
	return r.peers[idx].Score, true
}

// SetScore overwrites id's score.
func (r *Roster) SetScore(id string, score int) bool {
	idx := r.Index(id)
	if idx < 0 {
		return false
	}
	r.peers[idx].Score = score
	return true
}

// Score returns id's score.
func (r *Roster) Score(id string) int {
	if idx := r.Index(id); idx >= 0 {
		return r.peers[idx].Score
	}
	return 0
}

// ResetScores zeroes every score.
func (r *Roster) ResetScores() {
	for i := range r.peers {
		r.peers[i].Score = 0
	}
}

// Scores returns the scores in slot order.
func (r *Roster) Scores() []int {
	out := make([]int, len(r.peers))
	for i := range r.peers {
		out[i] = r.peers[i].Score
	}
	return out
}

// Snapshot returns a copy of the peers in slot order.
func (r *Roster) Snapshot() []Peer {
	out := make([]Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Replace installs a host broadcast as the new roster, marking localID as the
// local entry. Guests never merge: the latest snapshot wins.
func (r *Roster) Replace(peers []Peer, localID string) {
	r.peers = make([]Peer, len(peers))
	copy(r.peers, peers)
	for i := range r.peers {
		r.peers[i].IsLocal = r.peers[i].ID == localID
	}
}

func (r *Roster) relabel() {
	for i := range r.peers {
		r.peers[i].Color = Colors[i%MaxPlayers]
		r.peers[i].Label = r.labels(i)
	}
}
