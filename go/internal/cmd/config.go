package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mcdev12/tapduel/go/internal/duel/session"
)

// Config is the client's environment.
type Config struct {
	Transport      string
	RelayURL       string
	NatsURL        string
	InviteBaseURL  string
	DuelConfigPath string
	LogLevel       zerolog.Level

	ResultsStream  string
	PublishResults bool
	RecordHistory  bool
}

func loadEnvConfig() Config {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return Config{
		Transport:      strings.ToLower(getEnv("DUEL_TRANSPORT", "relay")),
		RelayURL:       getEnv("RELAY_URL", "ws://localhost:8090/ws/peer"),
		NatsURL:        getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		InviteBaseURL:  getEnv("INVITE_BASE_URL", ""),
		DuelConfigPath: getEnv("DUEL_CONFIG", ""),
		LogLevel:       level,
		ResultsStream:  getEnv("RESULTS_STREAM", "DUEL_RESULTS"),
		PublishResults: getEnvAsBool("PUBLISH_RESULTS", false),
		RecordHistory:  getEnvAsBool("RECORD_HISTORY", false),
	}
}

// sessionConfig loads the optional YAML overrides and applies the invite base.
func (c Config) sessionConfig() (session.Config, error) {
	cfg := session.DefaultConfig()
	if c.DuelConfigPath != "" {
		loaded, err := session.LoadConfig(c.DuelConfigPath)
		if err != nil {
			return session.Config{}, fmt.Errorf("load %s: %w", c.DuelConfigPath, err)
		}
		cfg = loaded
	}
	if c.InviteBaseURL != "" {
		cfg.InviteBaseURL = c.InviteBaseURL
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
