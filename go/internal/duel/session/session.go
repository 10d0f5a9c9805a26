// Package session owns a duel from the player's point of view: transport,
// roster, timers and outcome reporting, behind the three calls a UI needs
// (click, start, rematch) plus Close.
//
// A session is an explicitly constructed object. All of its state is guarded by
// one mutex and all time flows through Advance, which a Runner drives from a
// clock in production and tests drive by hand.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
	"github.com/mcdev12/tapduel/go/internal/duel/roster"
	"github.com/mcdev12/tapduel/go/internal/duel/scoresync"
)

var (
	// ErrTransport wraps an unrecoverable transport failure.
	ErrTransport = errors.New("transport failure")
	// ErrHostLost is reported to a guest whose host connection closed.
	ErrHostLost = errors.New("host disconnected")
	// ErrRoomFull is reported to a guest the host turned away before admitting it.
	ErrRoomFull = errors.New("could not join: room is full")
	// ErrClosed is returned when using a session after Close.
	ErrClosed = errors.New("session closed")
)

// RestartMessage is the only error text shown to players.
const RestartMessage = "Connection lost. Restart the session to try again."

// Role is the player's position in an online session.
type Role int

const (
	RoleHost Role = iota
	RoleGuest
)

func (r Role) String() string {
	if r == RoleGuest {
		return "guest"
	}
	return "host"
}

// View is a copy of everything a UI renders.
type View struct {
	Mode              outcome.Mode
	Role              Role
	Phase             match.Phase
	Peers             []roster.Peer
	Countdown         int
	TimeRemaining     int
	Round             int
	InviteURL         string
	WaitingForConfirm bool
	Strategy          scoresync.Strategy
	Result            *outcome.MatchResult
	Err               error
}

// Message returns the text to show for the current error, if any.
func (v View) Message() string {
	if v.Err == nil {
		return ""
	}
	if errors.Is(v.Err, ErrRoomFull) {
		return ErrRoomFull.Error()
	}
	return RestartMessage
}

// Options are shared by every session constructor.
type Options struct {
	Config Config
	// Clock stamps results and seeds the session's virtual time. Defaults to
	// the real clock.
	Clock clockwork.Clock
	// OnMatchComplete is invoked exactly once per finished match.
	OnMatchComplete outcome.Callback
	// OnChange is invoked after every state change with a fresh view.
	OnChange func(View)
}

// base carries the state and helpers common to every mode. Methods with a
// Locked suffix expect b.mu to be held.
type base struct {
	mu sync.Mutex

	mode     outcome.Mode
	cfg      Config
	epoch    time.Time
	sched    *match.Scheduler
	machine  *match.Machine
	roster   *roster.Roster
	reporter *outcome.Reporter
	onChange func(View)

	matchID   uuid.UUID
	startedAt time.Time
	result    *outcome.MatchResult
	err       error
	closed    bool

	changed bool
	pending []func()
	view    func() View
}

func newBase(mode outcome.Mode, opts Options) *base {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg := opts.Config
	if cfg.MatchDuration == 0 && cfg.MaxPlayers == 0 {
		cfg = DefaultConfig()
	}
	return &base{
		mode:     mode,
		cfg:      cfg,
		epoch:    clock.Now(),
		sched:    match.NewScheduler(),
		reporter: outcome.NewReporter(opts.OnMatchComplete),
		onChange: opts.OnChange,
	}
}

// now is the session's virtual wall clock.
func (b *base) now() time.Time {
	return b.epoch.Add(b.sched.Elapsed())
}

func (b *base) lock() { b.mu.Lock() }

// unlock releases the mutex and then runs queued notifications, so callbacks
// may call back into the session.
func (b *base) unlock() {
	notes := b.pending
	b.pending = nil
	if b.changed && b.onChange != nil && b.view != nil {
		v := b.view()
		cb := b.onChange
		notes = append(notes, func() { cb(v) })
	}
	b.changed = false
	b.mu.Unlock()
	for _, fn := range notes {
		fn()
	}
}

func (b *base) touch() { b.changed = true }

func (b *base) notifyLocked(fn func()) {
	b.pending = append(b.pending, fn)
}

// Advance moves session time forward by d, firing due timers.
func (b *base) Advance(d time.Duration) {
	b.lock()
	defer b.unlock()
	if b.closed {
		return
	}
	b.sched.Advance(d)
}

// Phase returns the current phase.
func (b *base) Phase() match.Phase {
	b.lock()
	defer b.unlock()
	return b.machine.Phase()
}

// Err returns the error that moved the session to ERROR.
func (b *base) Err() error {
	b.lock()
	defer b.unlock()
	return b.err
}

// ActiveTimers returns how many timers are pending.
func (b *base) ActiveTimers() int {
	b.lock()
	defer b.unlock()
	return b.sched.Len()
}

func (b *base) baseViewLocked() View {
	v := View{
		Mode:          b.mode,
		Phase:         b.machine.Phase(),
		Peers:         b.roster.Snapshot(),
		Countdown:     b.machine.Countdown(),
		TimeRemaining: b.machine.TimeRemaining(),
		Round:         b.machine.Round(),
		Err:           b.err,
	}
	if b.result != nil {
		r := *b.result
		v.Result = &r
	}
	return v
}

// resetMatchLocked zeroes the per-match state before a countdown or rematch.
func (b *base) resetMatchLocked() {
	b.roster.ResetScores()
	b.result = nil
	b.touch()
}

// beginMatchLocked starts the countdown of a new match. A nil id is replaced
// by a fresh one.
func (b *base) beginMatchLocked(id uuid.UUID) error {
	b.resetMatchLocked()
	if id == uuid.Nil {
		id = uuid.New()
	}
	b.matchID = id
	return b.machine.StartCountdown()
}

// finishLocked enters FINISHED, resolves the outcome and queues the report.
func (b *base) finishLocked(localIndex int) {
	if err := b.machine.Finish(); err != nil {
		return
	}
	res := outcome.Build(b.matchID, b.mode, b.machine.Round(), b.roster.Snapshot(), localIndex, b.startedAt, b.now())
	b.result = &res
	if fn, ok := b.reporter.Claim(res); ok {
		b.notifyLocked(fn)
	}
	b.touch()
}

// hooks builds the machine hooks. onPlaying and onExpire may be nil.
func (b *base) hooks(onPlaying func(), onExpire func()) match.Hooks {
	return match.Hooks{
		OnPhase:     func(_, _ match.Phase) { b.touch() },
		OnCountdown: func(int) { b.touch() },
		OnSecond:    func(int) { b.touch() },
		OnPlaying: func() {
			b.startedAt = b.now()
			if onPlaying != nil {
				onPlaying()
			}
		},
		OnExpire: onExpire,
	}
}
