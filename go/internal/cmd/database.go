package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/dbconfig"
	"github.com/mcdev12/tapduel/go/internal/results"
)

func setupHistory(ctx context.Context) (*results.HistoryRepository, *pgxpool.Pool, error) {
	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := dbCfg.Open(ctx, 5*time.Second)
	if err != nil {
		return nil, nil, err
	}

	repo := results.NewHistoryRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	played, won, err := repo.Summary(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not summarize match history")
	}
	log.Info().
		Str("database", dbCfg.Database).
		Int("played", played).
		Int("won", won).
		Msg("match history enabled")
	return repo, pool, nil
}
