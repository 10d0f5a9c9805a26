package match

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Timer names used by sessions. A name identifies at most one active timer.
const (
	TimerCountdown  = "countdown"
	TimerDuration   = "duration"
	TimerSync       = "sync"
	TimerSnapshot   = "snapshot"
	TimerBot        = "bot"
	TimerStartGrace = "start-grace"
)

type timer struct {
	due   time.Duration
	every time.Duration
	seq   uint64
	fn    func()
}

// Scheduler runs named timers against a virtual clock that only moves when
// Advance is called. Callbacks run synchronously inside Advance and may
// schedule or cancel timers, including their own. It is not safe for
// concurrent use; the owning session serializes access.
type Scheduler struct {
	now    time.Duration
	seq    uint64
	timers map[string]*timer
}

// NewScheduler creates a scheduler at virtual time zero.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*timer)}
}

// Elapsed returns the virtual time advanced so far.
func (s *Scheduler) Elapsed() time.Duration { return s.now }

// After runs fn once, d from now. An active timer with the same name is replaced.
func (s *Scheduler) After(name string, d time.Duration, fn func()) {
	s.replaceTimer(name, d, 0, fn)
}

// Every runs fn each interval until cancelled. An active timer with the same
// name is replaced. A non-positive interval schedules nothing.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	if interval <= 0 {
		s.Cancel(name)
		return
	}
	s.replaceTimer(name, interval, interval, fn)
}

func (s *Scheduler) replaceTimer(name string, d, every time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	if _, exists := s.timers[name]; exists {
		log.Debug().Str("timer", name).Msg("replaced existing timer")
	}
	s.seq++
	s.timers[name] = &timer{due: s.now + d, every: every, seq: s.seq, fn: fn}
}

// Cancel stops the named timer and reports whether it was active.
func (s *Scheduler) Cancel(name string) bool {
	if _, ok := s.timers[name]; !ok {
		return false
	}
	delete(s.timers, name)
	return true
}

// CancelAll stops every timer and returns how many were active.
func (s *Scheduler) CancelAll() int {
	n := len(s.timers)
	clear(s.timers)
	return n
}

// Active reports whether the named timer is pending.
func (s *Scheduler) Active(name string) bool {
	_, ok := s.timers[name]
	return ok
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int { return len(s.timers) }

// Remaining returns the time until the named timer next fires.
func (s *Scheduler) Remaining(name string) (time.Duration, bool) {
	t, ok := s.timers[name]
	if !ok {
		return 0, false
	}
	return t.due - s.now, true
}

// Advance moves the clock forward by delta, firing due timers in deadline
// order. Timers due at the same instant fire in the order they were scheduled.
func (s *Scheduler) Advance(delta time.Duration) {
	if delta < 0 {
		return
	}
	target := s.now + delta
	for {
		name, next := s.nextDue(target)
		if next == nil {
			break
		}
		s.now = next.due
		if next.every > 0 {
			s.seq++
			next.due += next.every
			next.seq = s.seq
		} else {
			delete(s.timers, name)
		}
		next.fn()
	}
	s.now = target
}

func (s *Scheduler) nextDue(limit time.Duration) (string, *timer) {
	var (
		name string
		best *timer
	)
	for n, t := range s.timers {
		if t.due > limit {
			continue
		}
		if best == nil || t.due < best.due || (t.due == best.due && t.seq < best.seq) {
			name, best = n, t
		}
	}
	return name, best
}
