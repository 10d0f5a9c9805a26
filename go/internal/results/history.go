package results

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
)

// Schema creates the history table.
const Schema = `
CREATE TABLE IF NOT EXISTS duel_matches (
    id            UUID PRIMARY KEY,
    mode          TEXT        NOT NULL,
    round         INTEGER     NOT NULL,
    is_networked  BOOLEAN     NOT NULL,
    winner_slot   INTEGER,
    draw          BOOLEAN     NOT NULL,
    local_slot    INTEGER     NOT NULL,
    scores        INTEGER[]   NOT NULL,
    labels        TEXT[]      NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL
)`

// Match is one row of the history.
type Match struct {
	ID          uuid.UUID
	Mode        outcome.Mode
	Round       int
	IsNetworked bool
	WinnerSlot  *int
	Draw        bool
	LocalSlot   int
	Scores      []int
	Labels      []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// HistoryRepository stores finished matches in Postgres.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*HistoryRepository)(nil)

// NewHistoryRepository wraps an open pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Migrate creates the table if it is missing.
func (r *HistoryRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create duel_matches: %w", err)
	}
	return nil
}

// Record inserts res. Recording the same match twice is a no-op.
func (r *HistoryRepository) Record(ctx context.Context, res outcome.MatchResult) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO duel_matches (
          id, mode, round, is_networked, winner_slot, draw,
          local_slot, scores, labels, started_at, finished_at
        ) VALUES (
          $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
        )
        ON CONFLICT (id) DO NOTHING
    `,
		res.MatchID, string(res.Mode), res.Round, res.IsNetworked, res.WinningPeerIndex, res.Draw,
		res.LocalPeerIndex, res.Scores, res.Labels, res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", res.MatchID, err)
	}
	return nil
}

// Recent returns the latest matches, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]Match, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, mode, round, is_networked, winner_slot, draw,
               local_slot, scores, labels, started_at, finished_at
          FROM duel_matches
         ORDER BY finished_at DESC
         LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var (
			m    Match
			mode string
		)
		err := row.Scan(&m.ID, &mode, &m.Round, &m.IsNetworked, &m.WinnerSlot, &m.Draw,
			&m.LocalSlot, &m.Scores, &m.Labels, &m.StartedAt, &m.FinishedAt)
		m.Mode = outcome.Mode(mode)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan matches: %w", err)
	}
	return matches, nil
}

// Summary aggregates the history the way Counters do live.
func (r *HistoryRepository) Summary(ctx context.Context) (played, won int, err error) {
	err = r.pool.QueryRow(ctx, `
        SELECT count(*),
               count(*) FILTER (WHERE winner_slot IS NOT NULL AND winner_slot = local_slot)
          FROM duel_matches
    `).Scan(&played, &won)
	if err != nil {
		return 0, 0, fmt.Errorf("summarize matches: %w", err)
	}
	return played, won, nil
}
