package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/bucketcrawl/internal/model"
)

// FileName is the database file name inside the database directory.
const FileName = "bucketcrawl.db"

// ErrRunNotFound is returned when no run matches a query.
var ErrRunNotFound = errors.New("run not found")

// RunDB stores crawl run history.
type RunDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures RunDB behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the run history database in dbDir.
func Open(dbDir string, opts Options) (*RunDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RunDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return rdb, nil
}

// Path returns the database file path.
func (r *RunDB) Path() string {
	return r.dbPath
}

// Close closes the database connection.
func (r *RunDB) Close() error {
	return r.db.Close()
}

func (r *RunDB) createTables() error {
	schema := `
	-- One row per crawl run
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		start_prefix TEXT NOT NULL,
		max_depth INTEGER NOT NULL,
		workers INTEGER NOT NULL,
		state TEXT NOT NULL,
		levels INTEGER NOT NULL,
		visited INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		keys INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		result_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_prefix ON runs(start_prefix);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- Ledger entries of a run
	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		kind TEXT NOT NULL,
		depth INTEGER NOT NULL,
		message TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);

	-- Mirror files written by a run
	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		prefix TEXT NOT NULL,
		page INTEGER NOT NULL,
		mirror_path TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_run ON nodes(run_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_prefix ON nodes(prefix);
	`

	_, err := r.db.ExecContext(context.Background(), schema)
	return err
}

// RunSummary is the row-level view of a stored run.
type RunSummary struct {
	ID          int64
	RunID       string
	StartPrefix string
	MaxDepth    int
	Workers     int
	State       model.CrawlState
	Levels      int
	Visited     int
	Succeeded   int
	Failed      int
	Keys        int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration returns the wall time of the run.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// SaveCrawlResult stores a run with its failures and mirror files in one
// transaction. The key list is not stored; it can be rebuilt from the mirror.
func (r *RunDB) SaveCrawlResult(ctx context.Context, result *model.CrawlResult) error {
	stored := *result
	stored.Keys = nil
	resultJSON, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to serialize crawl result: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO runs (run_id, start_prefix, max_depth, workers, state, levels, visited, succeeded, failed, keys, started_at, finished_at, result_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.RunID,
		result.StartPrefix,
		result.MaxDepth,
		result.Workers,
		result.State.String(),
		len(result.Levels),
		result.Visited,
		result.Succeeded,
		result.Failed,
		len(result.Keys),
		formatTimestamp(result.StartedAt),
		formatTimestamp(result.FinishedAt),
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for _, f := range result.Failures {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO failures (run_id, subject, kind, depth, message, at)
		VALUES (?, ?, ?, ?, ?, ?)
		`, result.RunID, f.Subject, f.Kind.String(), f.Depth, f.Message, formatTimestamp(f.At))
		if err != nil {
			return fmt.Errorf("failed to save failure: %w", err)
		}
	}

	prefixes := make([]string, 0, len(result.MirrorPaths))
	for p := range result.MirrorPaths {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		for i, path := range result.MirrorPaths[p] {
			_, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (run_id, prefix, page, mirror_path)
			VALUES (?, ?, ?, ?)
			`, result.RunID, p, i+1, path)
			if err != nil {
				return fmt.Errorf("failed to save node: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const summaryColumns = `id, run_id, start_prefix, max_depth, workers, state, levels, visited, succeeded, failed, keys, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (RunSummary, error) {
	var (
		s                 RunSummary
		state             string
		started, finished string
	)
	err := row.Scan(&s.ID, &s.RunID, &s.StartPrefix, &s.MaxDepth, &s.Workers, &state,
		&s.Levels, &s.Visited, &s.Succeeded, &s.Failed, &s.Keys, &started, &finished)
	if err != nil {
		return RunSummary{}, err
	}
	_ = s.State.UnmarshalText([]byte(state))
	s.StartedAt = parseTimestamp(started)
	s.FinishedAt = parseTimestamp(finished)
	return s, nil
}

// ListRuns returns the most recent runs, newest first.
// A limit of zero or less returns every run.
func (r *RunDB) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunSummary, 0)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run for startPrefix, or for any prefix
// when startPrefix is empty.
func (r *RunDB) LatestRun(ctx context.Context, startPrefix string) (*RunSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM runs`
	args := []any{}
	if startPrefix != "" {
		query += ` WHERE start_prefix = ?`
		args = append(args, startPrefix)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT 1`

	s, err := scanSummary(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return &s, nil
}

// GetRun returns the stored result of a run. The key list is empty.
func (r *RunDB) GetRun(ctx context.Context, runID string) (*model.CrawlResult, error) {
	var resultJSON string
	err := r.db.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE run_id = ?`, runID).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var result model.CrawlResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	if result.MirrorPaths == nil {
		result.MirrorPaths = make(map[string][]string)
	}
	return &result, nil
}

// FailuresForRun returns the ledger entries of a run in recorded order.
func (r *RunDB) FailuresForRun(ctx context.Context, runID string) ([]model.Failure, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT subject, kind, depth, message, at FROM failures
	WHERE run_id = ?
	ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	failures := make([]model.Failure, 0)
	for rows.Next() {
		var (
			f        model.Failure
			kind, at string
			message  sql.NullString
		)
		if err := rows.Scan(&f.Subject, &kind, &f.Depth, &message, &at); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Kind, err = model.ParseFailureKind(kind)
		if err != nil {
			return nil, err
		}
		f.Message = message.String
		f.At = parseTimestamp(at)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// FailedPrefixes returns the distinct prefixes of a run that failed to
// fetch, parse or mirror, sorted.
func (r *RunDB) FailedPrefixes(ctx context.Context, runID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT DISTINCT subject FROM failures
	WHERE run_id = ? AND kind IN ('fetch', 'parse', 'io')
	ORDER BY subject
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed prefixes: %w", err)
	}
	defer rows.Close()

	prefixes := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan prefix: %w", err)
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, rows.Err()
}

// MirrorPathsForRun returns the mirror files written by a run, keyed by prefix.
func (r *RunDB) MirrorPathsForRun(ctx context.Context, runID string) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT prefix, mirror_path FROM nodes
	WHERE run_id = ?
	ORDER BY prefix, page
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var prefix, path string
		if err := rows.Scan(&prefix, &path); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		out[prefix] = append(out[prefix], path)
	}
	return out, rows.Err()
}

// timestampFormats are tried in order when reading timestamps back.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999",
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp parses s with each known format and returns the zero
// time when none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
