package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Advancer is anything driven by elapsed time. Every session type is one.
type Advancer interface {
	Advance(d time.Duration)
}

// Runner is the single tick source of a session: it feeds the time elapsed on
// its clock into Advance at a fixed interval.
type Runner struct {
	clock    clockwork.Clock
	interval time.Duration
	target   Advancer
}

// NewRunner creates a runner. A nil clock means the real clock and a
// non-positive interval means 100ms.
func NewRunner(clock clockwork.Clock, interval time.Duration, target Advancer) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Runner{clock: clock, interval: interval, target: target}
}

// Run ticks until ctx is done and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	last := r.clock.Now()
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", r.interval).Msg("session runner started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("session runner stopped")
			return ctx.Err()
		case <-ticker.Chan():
			now := r.clock.Now()
			if d := now.Sub(last); d > 0 {
				r.target.Advance(d)
			}
			last = now
		}
	}
}
