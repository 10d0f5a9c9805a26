package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
	"github.com/mcdev12/tapduel/go/internal/duel/roster"
)

// Local is a same-device match for 2 to 4 players sharing one input surface.
// Slot 0 is the device owner: match-won counters credit only its wins.
type Local struct {
	*base
}

// NewLocal creates a local session in LOBBY with playerCount players.
func NewLocal(playerCount int, opts Options) (*Local, error) {
	r, err := roster.NewLocal(playerCount)
	if err != nil {
		return nil, err
	}
	s := &Local{base: newBase(outcome.ModeLocal, opts)}
	s.roster = r
	s.machine = match.NewMachine(s.sched, s.cfg.timing(), s.hooks(nil, s.onExpireLocked))
	s.view = s.baseViewLocked
	if err := s.machine.Transition(match.PhaseLobby); err != nil {
		return nil, err
	}
	return s, nil
}

// View returns a copy of the session state.
func (s *Local) View() View {
	s.lock()
	defer s.unlock()
	return s.baseViewLocked()
}

// SetPlayerCount replaces the roster with a new player count. It is only
// allowed from LOBBY or FINISHED and leaves the session in LOBBY.
func (s *Local) SetPlayerCount(n int) error {
	s.lock()
	defer s.unlock()
	if s.closed {
		return ErrClosed
	}
	phase := s.machine.Phase()
	if phase != match.PhaseLobby && phase != match.PhaseFinished {
		return fmt.Errorf("change players during %s: %w", phase, match.ErrInvalidTransition)
	}
	r, err := roster.NewLocal(n)
	if err != nil {
		return err
	}
	if phase == match.PhaseFinished {
		if err := s.machine.Reset(); err != nil {
			return err
		}
	}
	s.roster = r
	s.result = nil
	s.touch()
	return nil
}

// RequestStart begins the countdown from LOBBY.
func (s *Local) RequestStart() bool {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhaseLobby || s.roster.Len() < 2 {
		return false
	}
	if err := s.beginMatchLocked(uuid.Nil); err != nil {
		log.Error().Err(err).Msg("failed to start local match")
		return false
	}
	log.Info().Int("players", s.roster.Len()).Msg("local match started")
	return true
}

// HandleClick scores one click for the player at slot. It is a no-op outside
// PLAYING or for an unknown slot.
func (s *Local) HandleClick(slot int) {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhasePlaying {
		return
	}
	p, ok := s.roster.At(slot)
	if !ok {
		return
	}
	s.roster.Increment(p.ID)
	s.touch()
}

// RequestRematch returns a finished match to LOBBY with scores reset.
func (s *Local) RequestRematch() bool {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhaseFinished {
		return false
	}
	if err := s.machine.Reset(); err != nil {
		return false
	}
	s.resetMatchLocked()
	return true
}

// Close cancels every timer. It is safe to call more than once.
func (s *Local) Close() error {
	s.lock()
	defer s.unlock()
	s.closed = true
	s.sched.CancelAll()
	return nil
}

func (s *Local) onExpireLocked() {
	s.finishLocked(0)
	if s.result != nil {
		log.Info().Ints("scores", s.result.Scores).Bool("draw", s.result.Draw).Msg("local match finished")
	}
}
