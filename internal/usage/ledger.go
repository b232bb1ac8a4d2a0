// Package usage persists per-call token accounting to a local sqlite
// ledger so costs survive process restarts.
package usage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/harun/kirana/pkg/model"
)

// Ledger records token usage rows. It implements model.UsageRecorder and
// is safe for concurrent Record calls.
type Ledger struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.Mutex
}

// Config holds ledger configuration
type Config struct {
	// DBPath is the sqlite file location. Required.
	DBPath string
	Logger zerolog.Logger
}

// Totals is an aggregated usage view
type Totals struct {
	Calls        int
	InputTokens  int
	OutputTokens int
}

// NewLedger opens (or creates) the usage database
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: cfg.Logger}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			tier TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage(ts);
		CREATE INDEX IF NOT EXISTS idx_usage_tier ON usage(tier);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record appends one usage row. Failures are logged, not returned; usage
// accounting must never break a turn.
func (l *Ledger) Record(tier model.Tier, modelID string, inputTokens, outputTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(
		`INSERT INTO usage (ts, tier, model, input_tokens, output_tokens) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), string(tier), modelID, inputTokens, outputTokens,
	)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to record usage")
	}
}

// TotalsByTier aggregates the ledger per tier
func (l *Ledger) TotalsByTier() (map[model.Tier]Totals, error) {
	rows, err := l.db.Query(
		`SELECT tier, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage GROUP BY tier`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Tier]Totals)
	for rows.Next() {
		var tier string
		var t Totals
		if err := rows.Scan(&tier, &t.Calls, &t.InputTokens, &t.OutputTokens); err != nil {
			return nil, err
		}
		out[model.Tier(tier)] = t
	}
	return out, rows.Err()
}

// TotalsSince aggregates all usage recorded at or after the given time
func (l *Ledger) TotalsSince(since time.Time) (Totals, error) {
	var t Totals
	err := l.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage WHERE ts >= ?`,
		since.UnixMilli(),
	).Scan(&t.Calls, &t.InputTokens, &t.OutputTokens)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to query usage: %w", err)
	}
	return t, nil
}

// Close closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}
