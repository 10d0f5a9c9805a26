// Package match implements the duel lifecycle: the phase state machine and the
// virtual-time scheduler that drives its countdown and duration timers.
package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Phase is the lifecycle state of a match session.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseLobby
	PhaseConnecting
	PhaseCountdown
	PhasePlaying
	PhaseFinished
	PhaseError
)

var phaseNames = [...]string{
	PhaseInit:       "INIT",
	PhaseLobby:      "LOBBY",
	PhaseConnecting: "CONNECTING",
	PhaseCountdown:  "COUNTDOWN",
	PhasePlaying:    "PLAYING",
	PhaseFinished:   "FINISHED",
	PhaseError:      "ERROR",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// InMatch reports whether match timers may be running.
func (p Phase) InMatch() bool {
	return p == PhaseCountdown || p == PhasePlaying
}

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid phase transition")

var transitions = map[Phase][]Phase{
	PhaseInit:       {PhaseLobby, PhaseConnecting},
	PhaseConnecting: {PhaseLobby},
	PhaseLobby:      {PhaseCountdown},
	PhaseCountdown:  {PhasePlaying},
	PhasePlaying:    {PhaseFinished},
	PhaseFinished:   {PhaseLobby},
}

// CanTransition reports whether from may move to to. Any phase except ERROR
// may move to ERROR.
func CanTransition(from, to Phase) bool {
	if to == PhaseError {
		return from != PhaseError
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Timing holds the per-mode lifecycle constants.
type Timing struct {
	CountdownTicks int
	TickLength     time.Duration
	Duration       time.Duration
}

// DefaultTiming is a 3 tick countdown of one second each and a 10 second match.
func DefaultTiming() Timing {
	return Timing{CountdownTicks: 3, TickLength: time.Second, Duration: 10 * time.Second}
}

// Hooks are invoked synchronously from Scheduler.Advance or from Machine
// methods. Any of them may be nil.
type Hooks struct {
	OnPhase     func(from, to Phase)
	OnCountdown func(remaining int)
	OnPlaying   func()
	OnSecond    func(remaining int)
	OnExpire    func()
}

// Machine tracks the phase of one session and owns the match timers on its
// Scheduler. Leaving COUNTDOWN or PLAYING for any phase cancels every timer.
type Machine struct {
	phase  Phase
	sched  *Scheduler
	timing Timing
	hooks  Hooks

	countdown int
	remaining int
	round     int
}

// NewMachine creates a machine in INIT.
func NewMachine(sched *Scheduler, timing Timing, hooks Hooks) *Machine {
	if timing.TickLength <= 0 {
		timing.TickLength = time.Second
	}
	if timing.CountdownTicks < 0 {
		timing.CountdownTicks = 0
	}
	return &Machine{
		sched:     sched,
		timing:    timing,
		hooks:     hooks,
		remaining: int(timing.Duration / time.Second),
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Countdown returns the countdown ticks left while in COUNTDOWN.
func (m *Machine) Countdown() int { return m.countdown }

// TimeRemaining returns the whole seconds left in the match.
func (m *Machine) TimeRemaining() int { return m.remaining }

// Round counts the matches started in this session.
func (m *Machine) Round() int { return m.round }

// Timing returns the machine's constants.
func (m *Machine) Timing() Timing { return m.timing }

// Transition moves to the given phase.
func (m *Machine) Transition(to Phase) error {
	from := m.phase
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from.InMatch() && !to.InMatch() {
		m.sched.CancelAll()
	}
	m.phase = to
	log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("phase transition")
	if m.hooks.OnPhase != nil {
		m.hooks.OnPhase(from, to)
	}
	return nil
}

// StartCountdown enters COUNTDOWN from LOBBY and schedules the tick timer.
// Any match timers left from a previous round are replaced, never duplicated.
func (m *Machine) StartCountdown() error {
	if err := m.Transition(PhaseCountdown); err != nil {
		return err
	}
	m.round++
	m.sched.Cancel(TimerDuration)
	m.remaining = int(m.timing.Duration / time.Second)
	m.countdown = m.timing.CountdownTicks
	if m.countdown == 0 {
		m.startPlaying()
		return nil
	}
	if m.hooks.OnCountdown != nil {
		m.hooks.OnCountdown(m.countdown)
	}
	m.sched.Every(TimerCountdown, m.timing.TickLength, m.countdownTick)
	return nil
}

func (m *Machine) countdownTick() {
	m.countdown--
	if m.hooks.OnCountdown != nil {
		m.hooks.OnCountdown(m.countdown)
	}
	if m.countdown <= 0 {
		m.sched.Cancel(TimerCountdown)
		m.startPlaying()
	}
}

func (m *Machine) startPlaying() {
	if err := m.Transition(PhasePlaying); err != nil {
		log.Error().Err(err).Msg("failed to enter playing phase")
		return
	}
	m.remaining = int(m.timing.Duration / time.Second)
	m.sched.Every(TimerDuration, time.Second, m.durationTick)
	if m.hooks.OnPlaying != nil {
		m.hooks.OnPlaying()
	}
}

func (m *Machine) durationTick() {
	if m.remaining > 0 {
		m.remaining--
	}
	if m.hooks.OnSecond != nil {
		m.hooks.OnSecond(m.remaining)
	}
	if m.remaining <= 0 {
		m.sched.Cancel(TimerDuration)
		if m.hooks.OnExpire != nil {
			m.hooks.OnExpire()
		}
	}
}

// Finish enters FINISHED from PLAYING.
func (m *Machine) Finish() error {
	if m.phase == PhaseCountdown {
		// A host may end the match before a slow guest's countdown ran out.
		m.sched.CancelAll()
		m.phase = PhasePlaying
	}
	return m.Transition(PhaseFinished)
}

// Reset returns to LOBBY from FINISHED for a rematch.
func (m *Machine) Reset() error {
	if err := m.Transition(PhaseLobby); err != nil {
		return err
	}
	m.countdown = 0
	m.remaining = int(m.timing.Duration / time.Second)
	return nil
}

// Fail enters ERROR from any phase and cancels every timer. It reports false
// when the machine had already failed.
func (m *Machine) Fail() bool {
	if m.phase == PhaseError {
		return false
	}
	m.sched.CancelAll()
	_ = m.Transition(PhaseError)
	return true
}
