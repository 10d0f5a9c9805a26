// Package results consumes finished matches: cumulative counters for the
// economy layer, a JetStream feed and a Postgres history.
package results

import (
	"context"
	"sync"

	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
)

// Recorder stores one finished match somewhere.
type Recorder interface {
	Record(ctx context.Context, res outcome.MatchResult) error
}

// Counters are the cumulative player statistics credited per match.
type Counters struct {
	mu            sync.Mutex
	matchesPlayed int
	matchesWon    int
}

var _ Recorder = (*Counters)(nil)

// Callback returns the match-complete callback that updates c.
func (c *Counters) Callback() outcome.Callback {
	return func(res outcome.MatchResult) { c.add(res) }
}

// Record updates c. It never fails.
func (c *Counters) Record(_ context.Context, res outcome.MatchResult) error {
	c.add(res)
	return nil
}

func (c *Counters) add(res outcome.MatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchesPlayed++
	if res.LocalWon() {
		c.matchesWon++
	}
}

// MatchesPlayed counts every finished match, draws included.
func (c *Counters) MatchesPlayed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchesPlayed
}

// MatchesWon counts matches the local peer won outright.
func (c *Counters) MatchesWon() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchesWon
}
