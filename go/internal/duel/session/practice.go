package session

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
	"github.com/mcdev12/tapduel/go/internal/duel/roster"
)

// PracticeOptions configure a match against a bot.
type PracticeOptions struct {
	Options
	Difficulty Difficulty
	// PlayerLabel names the human seat. Defaults to "You".
	PlayerLabel string
	// Rand drives the bot's click jitter. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// Practice is a single-player match against a bot whose clicks are one-shot
// timers on the session scheduler.
type Practice struct {
	*base

	rng         *rand.Rand
	difficulty  Difficulty
	playerLabel string
}

// NewPractice creates a practice session in LOBBY.
func NewPractice(opts PracticeOptions) (*Practice, error) {
	s := &Practice{
		base:        newBase(outcome.ModePractice, opts.Options),
		rng:         opts.Rand,
		playerLabel: opts.PlayerLabel,
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.playerLabel == "" {
		s.playerLabel = "You"
	}
	if opts.Difficulty == "" {
		opts.Difficulty = Easy
	}
	lvl, err := s.level(opts.Difficulty)
	if err != nil {
		return nil, err
	}
	s.difficulty = opts.Difficulty
	s.roster = roster.NewPractice(s.playerLabel, lvl.Label)
	s.machine = match.NewMachine(s.sched, s.cfg.timing(), s.hooks(s.scheduleBotLocked, s.onExpireLocked))
	s.view = s.baseViewLocked
	if err := s.machine.Transition(match.PhaseLobby); err != nil {
		return nil, err
	}
	return s, nil
}

// View returns a copy of the session state.
func (s *Practice) View() View {
	s.lock()
	defer s.unlock()
	return s.baseViewLocked()
}

// Difficulty returns the current bot level.
func (s *Practice) Difficulty() Difficulty {
	s.lock()
	defer s.unlock()
	return s.difficulty
}

// SetDifficulty swaps the bot. It is allowed only from LOBBY or FINISHED; a
// finished match is cleared and the session returns to LOBBY.
func (s *Practice) SetDifficulty(d Difficulty) error {
	s.lock()
	defer s.unlock()
	phase := s.machine.Phase()
	if phase != match.PhaseLobby && phase != match.PhaseFinished {
		return fmt.Errorf("change difficulty during %s: %w", phase, match.ErrInvalidTransition)
	}
	lvl, err := s.level(d)
	if err != nil {
		return err
	}
	if phase == match.PhaseFinished {
		if err := s.machine.Reset(); err != nil {
			return err
		}
	}
	s.difficulty = d
	s.roster = roster.NewPractice(s.playerLabel, lvl.Label)
	s.result = nil
	s.touch()
	return nil
}

// RequestStart begins the countdown from LOBBY.
func (s *Practice) RequestStart() bool {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhaseLobby {
		return false
	}
	if err := s.beginMatchLocked(uuid.Nil); err != nil {
		log.Error().Err(err).Msg("failed to start practice match")
		return false
	}
	log.Info().Str("difficulty", string(s.difficulty)).Msg("practice match started")
	return true
}

// HandleLocalClick scores one click for the player. It is a no-op outside
// PLAYING.
func (s *Practice) HandleLocalClick() {
	s.lock()
	defer s.unlock()
	if s.closed || s.machine.Phase() != match.PhasePlaying {
		return
	}
	s.roster.Increment(practicePlayerID)
	s.touch()
}

// RequestRematch returns a finished match to LOBBY with scores reset.
func (s *Practice) RequestRematch() bool {
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

// Close cancels every timer, the bot's included. It is safe to call more than once.
func (s *Practice) Close() error {
	s.lock()
	defer s.unlock()
	s.closed = true
	s.sched.CancelAll()
	return nil
}

const (
	practicePlayerID = "player"
	practiceBotID    = "bot"
)

func (s *Practice) level(d Difficulty) (BotLevel, error) {
	lvl, ok := s.cfg.Bots[d]
	if !ok {
		return BotLevel{}, fmt.Errorf("unknown difficulty %q", d)
	}
	return lvl, nil
}

// botInterval is the delay before the bot's next click: the base interval for
// the level, spread uniformly by the level's jitter.
func (s *Practice) botInterval() time.Duration {
	lvl, _ := s.level(s.difficulty)
	if lvl.ClicksPerSecond <= 0 {
		return 0
	}
	mean := float64(time.Second) / lvl.ClicksPerSecond
	return time.Duration(mean * (1 + (s.rng.Float64()-0.5)*lvl.Jitter))
}

func (s *Practice) scheduleBotLocked() {
	d := s.botInterval()
	if d <= 0 {
		return
	}
	s.sched.After(match.TimerBot, d, func() {
		if s.machine.Phase() != match.PhasePlaying {
			return
		}
		s.roster.Increment(practiceBotID)
		s.touch()
		s.scheduleBotLocked()
	})
}

func (s *Practice) onExpireLocked() {
	s.sched.Cancel(match.TimerBot)
	s.finishLocked(0)
	if s.result != nil {
		log.Info().
			Str("difficulty", string(s.difficulty)).
			Ints("scores", s.result.Scores).
			Bool("won", s.result.LocalWon()).
			Msg("practice match finished")
	}
}
