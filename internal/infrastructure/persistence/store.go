// Package persistence stores the decision audit trail in postgres.
// Persistence is optional; the pipeline runs fully in memory when no
// DSN is configured.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jackson97300/mia-core/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id          TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL,
	symbol      TEXT NOT NULL,
	action      TEXT NOT NULL,
	vix_level   DOUBLE PRECISION NOT NULL,
	vix_regime  TEXT NOT NULL,
	final_score DOUBLE PRECISION,
	latency_ms  DOUBLE PRECISION NOT NULL,
	detail      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_symbol_created_idx
	ON decisions (symbol, created_at DESC);
`

// decisionRow mirrors the decisions table.
type decisionRow struct {
	ID         string    `db:"id"`
	CreatedAt  time.Time `db:"created_at"`
	Symbol     string    `db:"symbol"`
	Action     string    `db:"action"`
	VIXLevel   float64   `db:"vix_level"`
	VIXRegime  string    `db:"vix_regime"`
	FinalScore *float64  `db:"final_score"`
	LatencyMs  float64   `db:"latency_ms"`
	Detail     []byte    `db:"detail"`
}

// Store is the postgres-backed audit log.
type Store struct {
	db *sqlx.DB
}

// Open connects and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply decisions schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save appends one decision. Replays of the same run ID are ignored.
func (s *Store) Save(ctx context.Context, d *pipeline.Decision) error {
	detail, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}

	row := decisionRow{
		ID:        d.ID,
		CreatedAt: d.Timestamp,
		Symbol:    d.Symbol,
		Action:    string(d.Action),
		VIXLevel:  d.VIXLevel,
		VIXRegime: string(d.VIXRegime),
		LatencyMs: d.LatencyMs,
		Detail:    detail,
	}
	if d.Score != nil {
		score := d.Score.FinalScore
		row.FinalScore = &score
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO decisions
			(id, created_at, symbol, action, vix_level, vix_regime, final_score, latency_ms, detail)
		VALUES
			(:id, :created_at, :symbol, :action, :vix_level, :vix_regime, :final_score, :latency_ms, :detail)
		ON CONFLICT (id) DO NOTHING`, row)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// RecentBySymbol returns up to limit decisions for one symbol, newest
// first.
func (s *Store) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]pipeline.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []decisionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, symbol, action, vix_level, vix_regime, final_score, latency_ms, detail
		FROM decisions
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("select decisions for %s: %w", symbol, err)
	}

	out := make([]pipeline.Decision, 0, len(rows))
	for _, row := range rows {
		var d pipeline.Decision
		if err := json.Unmarshal(row.Detail, &d); err != nil {
			return nil, fmt.Errorf("decode decision %s: %w", row.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
