// Command tapduel is a terminal client for clicker duels.
//
//	tapduel host                 open a room and print its invite link
//	tapduel join <invite-url>    join a room
//	tapduel local [2-4]          same-keyboard match, keys 1-4
//	tapduel practice [easy|medium|hard]
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/mcdev12/tapduel/go/internal/duel/invite"
	"github.com/mcdev12/tapduel/go/internal/duel/session"
)

const usage = "usage: tapduel host | join <invite-url> | local [2-4] | practice [easy|medium|hard]"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	cfg := loadEnvConfig()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(cfg.LogLevel)

	if err := run(cfg, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	duelCfg, err := cfg.sessionConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services := setupServices(ctx, cfg)
	defer services.Close()
	defer cancel()

	screen := &screen{out: os.Stdout, hint: hintFor(args[0])}
	opts := session.Options{
		Config:          duelCfg,
		OnMatchComplete: services.OnMatchComplete,
		OnChange:        screen.draw,
	}

	ctl, cleanup, err := newController(cfg, opts, args)
	if err != nil {
		return err
	}
	defer cleanup()
	defer ctl.Close()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enable raw mode: %w", err)
		}
		defer func() {
			_ = term.Restore(fd, oldState)
		}()
	}

	screen.draw(ctl.View())

	runner := session.NewRunner(nil, duelCfg.TickInterval, ctl)
	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("session runner stopped")
		}
	}()

	readKeys(bufio.NewReader(os.Stdin), ctl)

	log.Info().
		Int("matches_played", services.Counters.MatchesPlayed()).
		Int("matches_won", services.Counters.MatchesWon()).
		Msg("session ended")
	return nil
}

func newController(cfg Config, opts session.Options, args []string) (controller, func(), error) {
	noop := func() {}
	switch args[0] {
	case "host", "join":
		var token invite.Token
		if args[0] == "join" {
			if len(args) < 2 {
				return nil, nil, errors.New(usage)
			}
			t, _, err := invite.Parse(args[1])
			if err != nil {
				return nil, nil, fmt.Errorf("parse invite: %w", err)
			}
			token = t
		}
		tr, cleanup, err := newTransport(cfg)
		if err != nil {
			return nil, nil, err
		}
		s, err := session.NewOnline(session.OnlineOptions{Options: opts, Transport: tr, InviteToken: token})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := s.Start(); err != nil {
			cleanup()
			return nil, nil, err
		}
		return onlineController{s}, cleanup, nil

	case "local":
		count := 2
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, nil, fmt.Errorf("player count: %w", err)
			}
			count = n
		}
		s, err := session.NewLocal(count, opts)
		if err != nil {
			return nil, nil, err
		}
		return localController{s}, noop, nil

	case "practice":
		difficulty := session.Easy
		if len(args) > 1 {
			d, err := session.ParseDifficulty(args[1])
			if err != nil {
				return nil, nil, err
			}
			difficulty = d
		}
		s, err := session.NewPractice(session.PracticeOptions{Options: opts, Difficulty: difficulty})
		if err != nil {
			return nil, nil, err
		}
		return practiceController{s}, noop, nil
	}
	return nil, nil, errors.New(usage)
}

func hintFor(mode string) string {
	switch mode {
	case "local":
		return "[1-4] tap  [s] start  [r] rematch  [q] quit"
	case "practice":
		return "[space] tap  [s] start  [r] rematch  [e/m/h] bot  [q] quit"
	}
	return "[space] tap  [s] start  [r] rematch  [q] quit"
}

// readKeys feeds stdin to ctl until q, Ctrl-C or end of input.
func readKeys(r io.ByteReader, ctl controller) {
	for {
		key, err := r.ReadByte()
		if err != nil {
			return
		}
		if key == 'q' || key == 3 {
			return
		}
		ctl.Press(key)
	}
}

// screen serializes redraws from the session callback and the main goroutine.
type screen struct {
	mu   sync.Mutex
	out  io.Writer
	hint string
}

func (s *screen) draw(v session.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	renderView(s.out, v, s.hint)
}
