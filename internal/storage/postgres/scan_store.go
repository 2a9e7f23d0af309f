// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oversightlabs/parlscan/internal/classifier"
	"github.com/oversightlabs/parlscan/internal/parliament"
	"github.com/oversightlabs/parlscan/internal/scan"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type db interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	Close()
}

// ScanStore implements scan.Store on Postgres. It assumes a schema like:
//
//	CREATE TABLE scan_runs (
//		id TEXT PRIMARY KEY,
//		config JSONB NOT NULL,
//		status TEXT NOT NULL,
//		error_message TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL,
//		started_at TIMESTAMPTZ,
//		finished_at TIMESTAMPTZ
//	);
//	CREATE TABLE scan_results (
//		run_id TEXT NOT NULL REFERENCES scan_runs(id),
//		dedup_key TEXT NOT NULL,
//		contribution JSONB NOT NULL,
//		member JSONB NOT NULL,
//		forum TEXT NOT NULL DEFAULT '',
//		confidence TEXT NOT NULL,
//		topics JSONB,
//		summary TEXT NOT NULL DEFAULT '',
//		position_signal TEXT NOT NULL DEFAULT '',
//		verbatim_quote TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL,
//		PRIMARY KEY (run_id, dedup_key)
//	);
//	CREATE TABLE scan_audits (
//		run_id TEXT NOT NULL REFERENCES scan_runs(id),
//		dedup_key TEXT NOT NULL,
//		source TEXT NOT NULL,
//		member_name TEXT NOT NULL DEFAULT '',
//		reason TEXT NOT NULL,
//		category TEXT NOT NULL,
//		snippet TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE scan_snapshots (
//		run_id TEXT PRIMARY KEY REFERENCES scan_runs(id),
//		snapshot JSONB NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
type ScanStore struct {
	pool db
}

// NewScanStore connects a pool using cfg.
func NewScanStore(ctx context.Context, cfg Config) (*ScanStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	return &ScanStore{pool: pool}, nil
}

// NewScanStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewScanStoreWithPool(pool db) (*ScanStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ScanStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ScanStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts the run record.
func (s *ScanStore) CreateRun(ctx context.Context, run *scan.Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	query := `
		INSERT INTO scan_runs (id, config, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, cfgJSON, string(run.Status), run.Error, run.CreatedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// SetRunStatus updates the lifecycle state, stamping started_at on the
// transition to running and finished_at on any terminal status.
func (s *ScanStore) SetRunStatus(ctx context.Context, runID string, status scan.Status, errMsg string) error {
	now := time.Now().UTC()
	var (
		query string
		args  []any
	)
	switch status {
	case scan.StatusRunning:
		query = `
			UPDATE scan_runs
			SET status = $1, error_message = $2, started_at = $3
			WHERE id = $4;
		`
		args = []any{string(status), errMsg, now, runID}
	case scan.StatusCompleted, scan.StatusCancelled, scan.StatusError:
		query = `
			UPDATE scan_runs
			SET status = $1, error_message = $2, finished_at = $3
			WHERE id = $4;
		`
		args = []any{string(status), errMsg, now, runID}
	default:
		query = `
			UPDATE scan_runs
			SET status = $1, error_message = $2
			WHERE id = $3;
		`
		args = []any{string(status), errMsg, runID}
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scan.ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a single run by ID.
func (s *ScanStore) GetRun(ctx context.Context, runID string) (*scan.Run, error) {
	query := `
		SELECT id, config, status, error_message, created_at, started_at, finished_at
		FROM scan_runs
		WHERE id = $1;
	`
	var (
		run        scan.Run
		cfgJSON    []byte
		status     string
		startedAt  *time.Time
		finishedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID, &cfgJSON, &status, &run.Error, &run.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scan.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &run.Config); err != nil {
		return nil, fmt.Errorf("decode run config: %w", err)
	}
	run.Status = scan.Status(status)
	if startedAt != nil {
		run.StartedAt = *startedAt
	}
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *ScanStore) ListRuns(ctx context.Context, limit int) ([]*scan.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, config, status, error_message, created_at, started_at, finished_at
		FROM scan_runs
		ORDER BY created_at DESC
		LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*scan.Run
	for rows.Next() {
		var (
			run        scan.Run
			cfgJSON    []byte
			status     string
			startedAt  *time.Time
			finishedAt *time.Time
		)
		if err := rows.Scan(&run.ID, &cfgJSON, &status, &run.Error, &run.CreatedAt, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if err := json.Unmarshal(cfgJSON, &run.Config); err != nil {
			return nil, fmt.Errorf("decode run config: %w", err)
		}
		run.Status = scan.Status(status)
		if startedAt != nil {
			run.StartedAt = *startedAt
		}
		if finishedAt != nil {
			run.FinishedAt = *finishedAt
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// SaveResult upserts one result keyed on (run_id, dedup_key); replays are
// no-ops.
func (s *ScanStore) SaveResult(ctx context.Context, res *scan.Result) error {
	contribJSON, err := json.Marshal(res.Contribution)
	if err != nil {
		return fmt.Errorf("marshal contribution: %w", err)
	}
	memberJSON, err := json.Marshal(res.Member)
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}
	topicsJSON, err := json.Marshal(res.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	query := `
		INSERT INTO scan_results (
			run_id, dedup_key, contribution, member, forum, confidence,
			topics, summary, position_signal, verbatim_quote, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (run_id, dedup_key) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, query,
		res.RunID, res.DedupKey, contribJSON, memberJSON, res.Forum, string(res.Confidence),
		topicsJSON, res.Summary, res.PositionSignal, res.VerbatimQuote, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Results returns every stored result for a run.
func (s *ScanStore) Results(ctx context.Context, runID string) ([]*scan.Result, error) {
	query := `
		SELECT run_id, dedup_key, contribution, member, forum, confidence,
		       topics, summary, position_signal, verbatim_quote, created_at
		FROM scan_results
		WHERE run_id = $1
		ORDER BY created_at;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*scan.Result
	for rows.Next() {
		var (
			res         scan.Result
			contribJSON []byte
			memberJSON  []byte
			topicsJSON  []byte
			confidence  string
		)
		if err := rows.Scan(
			&res.RunID, &res.DedupKey, &contribJSON, &memberJSON, &res.Forum, &confidence,
			&topicsJSON, &res.Summary, &res.PositionSignal, &res.VerbatimQuote, &res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		if err := json.Unmarshal(contribJSON, &res.Contribution); err != nil {
			return nil, fmt.Errorf("decode contribution: %w", err)
		}
		if err := json.Unmarshal(memberJSON, &res.Member); err != nil {
			return nil, fmt.Errorf("decode member: %w", err)
		}
		if len(topicsJSON) > 0 {
			if err := json.Unmarshal(topicsJSON, &res.Topics); err != nil {
				return nil, fmt.Errorf("decode topics: %w", err)
			}
		}
		res.Confidence = classifier.Confidence(confidence)
		results = append(results, &res)
	}
	return results, rows.Err()
}

// SaveAudits inserts the audit rows in one round trip.
func (s *ScanStore) SaveAudits(ctx context.Context, auditRows []scan.Audit) error {
	if len(auditRows) == 0 {
		return nil
	}
	query := `
		INSERT INTO scan_audits (
			run_id, dedup_key, source, member_name, reason, category, snippet, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);
	`
	batch := &pgx.Batch{}
	for _, row := range auditRows {
		batch.Queue(query,
			row.RunID, row.DedupKey, string(row.Source), row.Member,
			row.Reason, string(row.Category), row.Snippet, row.CreatedAt,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range auditRows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
	}
	return nil
}

// Audits returns every audit row for a run.
func (s *ScanStore) Audits(ctx context.Context, runID string) ([]scan.Audit, error) {
	query := `
		SELECT run_id, dedup_key, source, member_name, reason, category, snippet, created_at
		FROM scan_audits
		WHERE run_id = $1
		ORDER BY created_at;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	var audits []scan.Audit
	for rows.Next() {
		var (
			row      scan.Audit
			source   string
			category string
		)
		if err := rows.Scan(&row.RunID, &row.DedupKey, &source, &row.Member,
			&row.Reason, &category, &row.Snippet, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		row.Source = parliament.SourceType(source)
		row.Category = classifier.DiscardCategory(category)
		audits = append(audits, row)
	}
	return audits, rows.Err()
}

// SaveSnapshot upserts the latest progress snapshot for a run.
func (s *ScanStore) SaveSnapshot(ctx context.Context, runID string, snap scan.Snapshot) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	query := `
		INSERT INTO scan_snapshots (run_id, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, runID, snapJSON, snap.UpdatedAt); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the last persisted snapshot for a run.
func (s *ScanStore) GetSnapshot(ctx context.Context, runID string) (scan.Snapshot, error) {
	var snapJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM scan_snapshots WHERE run_id = $1;`, runID).Scan(&snapJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scan.Snapshot{}, scan.ErrRunNotFound
		}
		return scan.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	var snap scan.Snapshot
	if err := json.Unmarshal(snapJSON, &snap); err != nil {
		return scan.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
