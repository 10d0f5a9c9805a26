package session

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/ratelimit"
	"github.com/mcdev12/tapduel/go/internal/duel/roster"
	"github.com/mcdev12/tapduel/go/internal/duel/scoresync"
)

// Difficulty names a practice bot level.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ParseDifficulty accepts easy, medium or hard in any case.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Easy, Medium, Hard:
		return d, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// BotLevel describes how fast a practice bot clicks.
type BotLevel struct {
	Label           string  `yaml:"label"`
	ClicksPerSecond float64 `yaml:"clicks_per_second"`
	// Jitter is the total relative spread of each click interval; 0.4 means ±20%.
	Jitter float64 `yaml:"jitter"`
}

// Config holds the tunables shared by every session mode.
type Config struct {
	MatchDuration    time.Duration `yaml:"match_duration"`
	CountdownTicks   int           `yaml:"countdown_ticks"`
	CountdownTick    time.Duration `yaml:"countdown_tick"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	MinClickInterval time.Duration `yaml:"min_click_interval"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	StartGrace       time.Duration `yaml:"start_grace"`
	MaxPlayers       int           `yaml:"max_players"`

	Strategy scoresync.Strategy `yaml:"strategy"`
	// SnapshotDebounce coalesces host snapshots during play. Zero sends one
	// snapshot per accepted click.
	SnapshotDebounce time.Duration `yaml:"snapshot_debounce"`

	InviteBaseURL string                  `yaml:"invite_base_url"`
	Bots          map[Difficulty]BotLevel `yaml:"bots"`
}

// DefaultConfig returns the built-in tunables.
func DefaultConfig() Config {
	return Config{
		MatchDuration:    10 * time.Second,
		CountdownTicks:   3,
		CountdownTick:    time.Second,
		TickInterval:     100 * time.Millisecond,
		MinClickInterval: ratelimit.DefaultMinInterval,
		SyncInterval:     2 * time.Second,
		StartGrace:       500 * time.Millisecond,
		MaxPlayers:       roster.MaxPlayers,
		Strategy:         scoresync.Auto,
		InviteBaseURL:    "http://localhost:8090/",
		Bots: map[Difficulty]BotLevel{
			Easy:   {Label: "Novice Bot", ClicksPerSecond: 3, Jitter: 0.4},
			Medium: {Label: "Veteran Bot", ClicksPerSecond: 8, Jitter: 0.4},
			Hard:   {Label: "Zen Master Bot", ClicksPerSecond: 15, Jitter: 0.4},
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys missing from the file
// keep their defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	strategy, err := scoresync.ParseStrategy(string(cfg.Strategy))
	if err != nil {
		return Config{}, err
	}
	cfg.Strategy = strategy
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the ranges the session relies on.
func (c Config) Validate() error {
	if c.MatchDuration < time.Second {
		return fmt.Errorf("match_duration must be at least 1s, got %v", c.MatchDuration)
	}
	if c.CountdownTicks < 0 {
		return fmt.Errorf("countdown_ticks must not be negative")
	}
	if c.MaxPlayers < 2 || c.MaxPlayers > roster.MaxPlayers {
		return fmt.Errorf("max_players must be in [2,%d], got %d", roster.MaxPlayers, c.MaxPlayers)
	}
	if _, err := scoresync.ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	for d, lvl := range c.Bots {
		if lvl.ClicksPerSecond <= 0 {
			return fmt.Errorf("bot %s: clicks_per_second must be positive", d)
		}
		if lvl.Jitter < 0 || lvl.Jitter >= 2 {
			return fmt.Errorf("bot %s: jitter must be in [0,2)", d)
		}
	}
	return nil
}

func (c Config) timing() match.Timing {
	return match.Timing{
		CountdownTicks: c.CountdownTicks,
		TickLength:     c.CountdownTick,
		Duration:       c.MatchDuration,
	}
}
