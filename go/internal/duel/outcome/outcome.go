// Package outcome resolves the winner of a finished match and reports it to
// the economy layer exactly once.
package outcome

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/tapduel/go/internal/duel/roster"
)

// Mode is the kind of session a match was played in.
type Mode string

const (
	ModeOnline   Mode = "online"
	ModeLocal    Mode = "local"
	ModePractice Mode = "practice"
)

// MatchResult is the payload of the match-complete callback.
type MatchResult struct {
	MatchID uuid.UUID `json:"match_id"`
	Mode    Mode      `json:"mode"`
	Round   int       `json:"round"`

	// WinningPeerIndex is the roster slot of the winner, nil on a draw.
	WinningPeerIndex *int `json:"winning_peer_index"`
	Draw             bool `json:"draw"`
	IsNetworked      bool `json:"is_networked"`

	// LocalPeerIndex is the slot owned by this client.
	LocalPeerIndex int `json:"local_peer_index"`

	Scores     []int     `json:"scores"`
	Labels     []string  `json:"labels"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// LocalWon reports whether this client's slot won.
func (r MatchResult) LocalWon() bool {
	return r.WinningPeerIndex != nil && *r.WinningPeerIndex == r.LocalPeerIndex
}

// Ranking returns slot indices ordered by score descending. Equal scores keep
// slot order.
func Ranking(peers []roster.Peer) []int {
	order := make([]int, len(peers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return peers[order[a]].Score > peers[order[b]].Score
	})
	return order
}

// Resolve picks the winner. Equal top scores are a draw with no tiebreak; a
// single remaining peer wins by default.
func Resolve(peers []roster.Peer) (winner *int, draw bool) {
	if len(peers) == 0 {
		return nil, false
	}
	order := Ranking(peers)
	if len(order) > 1 && peers[order[0]].Score == peers[order[1]].Score {
		return nil, true
	}
	w := order[0]
	return &w, false
}

// Build assembles the result for peers as they stand at the end of a match.
func Build(matchID uuid.UUID, mode Mode, round int, peers []roster.Peer, localIndex int, started, finished time.Time) MatchResult {
	winner, draw := Resolve(peers)
	res := MatchResult{
		MatchID:          matchID,
		Mode:             mode,
		Round:            round,
		WinningPeerIndex: winner,
		Draw:             draw,
		IsNetworked:      mode == ModeOnline,
		LocalPeerIndex:   localIndex,
		Scores:           make([]int, len(peers)),
		Labels:           make([]string, len(peers)),
		StartedAt:        started,
		FinishedAt:       finished,
	}
	for i, p := range peers {
		res.Scores[i] = p.Score
		res.Labels[i] = p.Label
	}
	return res
}

// Callback receives each completed match.
type Callback func(MatchResult)

// Reporter forwards results to a Callback at most once per match id.
type Reporter struct {
	mu       sync.Mutex
	cb       Callback
	reported map[uuid.UUID]bool
}

// NewReporter wraps cb. A nil cb drops results.
func NewReporter(cb Callback) *Reporter {
	return &Reporter{cb: cb, reported: make(map[uuid.UUID]bool)}
}

// Claim marks the result's match as reported. It returns false when the match
// was already reported; otherwise the returned func invokes the callback and is
// meant to run outside the caller's own locks.
func (r *Reporter) Claim(res MatchResult) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reported[res.MatchID] {
		return nil, false
	}
	r.reported[res.MatchID] = true
	cb := r.cb
	return func() {
		if cb != nil {
			cb(res)
		}
	}, true
}

// Report invokes the callback unless the match was already reported.
func (r *Reporter) Report(res MatchResult) bool {
	fn, ok := r.Claim(res)
	if ok {
		fn()
	}
	return ok
}
