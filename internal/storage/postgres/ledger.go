// Package postgres provides the Postgres-backed harvest ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool used for ledger rows.
type LedgerConfig struct {
	DSN             string
	RunsTable       string
	FailuresTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Ledger records finished harvests: one row per run and one per failed page.
type Ledger struct {
	pool     txBeginner
	runs     string
	failures string
}

// NewLedger creates a Postgres-backed Ledger using the provided config.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	ledger, err := NewLedgerWithPool(pool, cfg.RunsTable, cfg.FailuresTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return ledger, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(pool txBeginner, runsTable, failuresTable string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runsTable == "" {
		runsTable = "harvest_runs"
	}
	if failuresTable == "" {
		failuresTable = "harvest_page_failures"
	}
	for _, table := range []string{runsTable, failuresTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Ledger{pool: pool, runs: runsTable, failures: failuresTable}, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// RecordRun inserts the run and all of its failures in one transaction.
func (l *Ledger) RecordRun(ctx context.Context, jobID string, summary harvest.Summary) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	if err := l.insert(ctx, tx, jobID, summary); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (l *Ledger) insert(ctx context.Context, tx pgx.Tx, jobID string, s harvest.Summary) error {
	runQuery := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	base_url,
	entity,
	status,
	output_location,
	files_saved,
	profile_saved,
	pages_saved,
	failed_pages,
	effective_limit,
	limit_source,
	workers,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, l.runs)
	if _, err := tx.Exec(ctx, runQuery,
		jobID,
		s.URL,
		s.Entity,
		string(s.Status),
		s.OutputLocation,
		s.FilesSaved,
		s.ProfileSaved,
		s.PagesSaved,
		s.FailedPages,
		s.EffectiveLimit,
		s.LimitSource,
		s.Workers,
		s.StartedAt,
		s.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert harvest run: %w", err)
	}

	failureQuery := fmt.Sprintf(`
INSERT INTO %s (job_id, page, worker_id, error_type, error_message, status_code)
VALUES ($1,$2,$3,$4,$5,$6)`, l.failures)
	for _, f := range s.Failures {
		var status *int
		if f.StatusCode != 0 {
			code := f.StatusCode
			status = &code
		}
		if _, err := tx.Exec(ctx, failureQuery, jobID, f.Page, f.WorkerID, f.Kind, f.Message, status); err != nil {
			return fmt.Errorf("insert page failure %d: %w", f.Page, err)
		}
	}
	return nil
}
