package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/harvest/internal/model"
)

const (
	// FileName is the name of the database file inside the database directory.
	FileName = "harvest.db"

	// storedTimeFormat has a fixed width so stored times sort lexically.
	storedTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// HistoryDB provides SQLite-based storage for harvest runs and their outcomes.
//
// Design decision: We use a single database file for all seeds rather than
// one file per site. This keeps "what happened to this URL" a single query
// and makes backup a single copy.
type HistoryDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run a harvest first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw prevents modernc.org/sqlite from creating a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Path returns the database file path.
func (hdb *HistoryDB) Path() string {
	return hdb.dbPath
}

// Close closes the database connection.
func (hdb *HistoryDB) Close() error {
	return hdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (hdb *HistoryDB) createTables() error {
	schema := `
	-- Runs store one harvest of one seed
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seed TEXT NOT NULL,
		started_at TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		dry_run INTEGER NOT NULL DEFAULT 0,
		timed_out INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		pages INTEGER NOT NULL DEFAULT 0,
		visited INTEGER NOT NULL DEFAULT 0,
		saved INTEGER NOT NULL DEFAULT 0,
		already_present INTEGER NOT NULL DEFAULT 0,
		wrong_content_type INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		run_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_seed ON runs(seed);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- Outcomes store every classified attempt of a run
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		path TEXT,
		status_code INTEGER,
		reason TEXT,
		content_type TEXT,
		remote_time TEXT,
		local_time TEXT,
		bytes INTEGER,
		checksum TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_url ON outcomes(url);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	`

	_, err := hdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveRun stores a finished run and its outcomes in one transaction and
// returns the new run ID. The run is summarized first if it has no summary.
func (hdb *HistoryDB) SaveRun(ctx context.Context, run *model.Run) (id int64, err error) {
	summary := run.Summary
	if summary == nil {
		summary = run.Summarize()
	}

	runJSON, err := json.Marshal(run)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize run: %w", err)
	}

	tx, err := hdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
	INSERT INTO runs (seed, started_at, dry_run, timed_out, error, pages, visited,
		saved, already_present, wrong_content_type, errors, run_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.Seed,
		run.StartedAt.UTC().Format(storedTimeFormat),
		run.DryRun,
		run.TimedOut,
		run.Error,
		len(run.Pages),
		run.Visited,
		summary.Saved,
		summary.AlreadyPresent,
		summary.WrongContentType,
		summary.Errors,
		string(runJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO outcomes (run_id, url, kind, source, path, status_code, reason,
		content_type, remote_time, local_time, bytes, checksum)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range run.Outcomes {
		if _, err = stmt.ExecContext(ctx,
			id,
			o.URL,
			o.Kind.String(),
			o.Source,
			o.Path,
			o.StatusCode,
			o.Reason,
			o.ContentType,
			formatTime(o.RemoteTime),
			formatTime(o.LocalTime),
			o.Bytes,
			o.Checksum,
		); err != nil {
			return 0, fmt.Errorf("failed to save outcome for %s: %w", o.URL, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}

	return id, nil
}

// RunMetadata contains summary information about a stored run.
// This is used for displaying run history without loading the full run.
type RunMetadata struct {
	// ID is the unique identifier of the run in the database.
	ID int64 `json:"id"`

	// Seed is the seed URL of the run.
	Seed string `json:"seed"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// DryRun is set for runs that did not download.
	DryRun bool `json:"dry_run"`

	// TimedOut is set for runs that were cut short.
	TimedOut bool `json:"timed_out"`

	// Error is the fatal error message of the run, if any.
	Error string `json:"error,omitempty"`

	// Pages is the number of pages crawled.
	Pages int `json:"pages"`

	// Counts contains the number of outcomes per kind.
	Counts map[string]int `json:"counts"`
}

// ListSeeds returns every seed that has at least one stored run.
func (hdb *HistoryDB) ListSeeds(ctx context.Context) ([]string, error) {
	rows, err := hdb.db.QueryContext(ctx, `SELECT DISTINCT seed FROM runs ORDER BY seed`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeds: %w", err)
	}
	defer rows.Close()

	var seeds []string
	for rows.Next() {
		var seed string
		if err := rows.Scan(&seed); err != nil {
			return nil, fmt.Errorf("failed to scan seed: %w", err)
		}
		seeds = append(seeds, seed)
	}

	return seeds, rows.Err()
}

// GetRunHistory retrieves run metadata, newest first. An empty seed returns
// the runs of every seed.
func (hdb *HistoryDB) GetRunHistory(ctx context.Context, seed string) ([]RunMetadata, error) {
	query := `
	SELECT id, seed, started_at, dry_run, timed_out, error, pages,
		saved, already_present, wrong_content_type, errors
	FROM runs
	WHERE (? = '' OR seed = ?)
	ORDER BY started_at DESC, id DESC
	`

	rows, err := hdb.db.QueryContext(ctx, query, seed, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to get run history: %w", err)
	}
	defer rows.Close()

	var results []RunMetadata
	for rows.Next() {
		var meta RunMetadata
		var startedAt string
		var runErr sql.NullString
		var saved, present, wrongType, errCount int

		if err := rows.Scan(&meta.ID, &meta.Seed, &startedAt, &meta.DryRun, &meta.TimedOut,
			&runErr, &meta.Pages, &saved, &present, &wrongType, &errCount); err != nil {
			return nil, fmt.Errorf("failed to scan run metadata: %w", err)
		}

		meta.StartedAt = parseTimestamp(startedAt)
		meta.Error = runErr.String
		meta.Counts = map[string]int{
			model.OutcomeSaved.String():            saved,
			model.OutcomeAlreadyPresent.String():   present,
			model.OutcomeWrongContentType.String(): wrongType,
			model.OutcomeTransportError.String():   errCount,
		}

		results = append(results, meta)
	}

	return results, rows.Err()
}

// GetRunByID retrieves a stored run by its database ID.
// It returns nil, nil when no such run exists.
func (hdb *HistoryDB) GetRunByID(ctx context.Context, id int64) (*model.Run, error) {
	return hdb.queryRun(ctx, `SELECT run_json FROM runs WHERE id = ?`, id)
}

// GetLatestRun retrieves the most recent run of seed.
// It returns nil, nil when the seed has never been harvested.
func (hdb *HistoryDB) GetLatestRun(ctx context.Context, seed string) (*model.Run, error) {
	return hdb.queryRun(ctx, `
	SELECT run_json FROM runs
	WHERE seed = ?
	ORDER BY started_at DESC, id DESC
	LIMIT 1
	`, seed)
}

func (hdb *HistoryDB) queryRun(ctx context.Context, query string, args ...any) (*model.Run, error) {
	var runJSON string
	err := hdb.db.QueryRowContext(ctx, query, args...).Scan(&runJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run model.Run
	if err := json.Unmarshal([]byte(runJSON), &run); err != nil {
		return nil, fmt.Errorf("failed to parse run: %w", err)
	}

	return &run, nil
}

// OutcomeRecord is a stored outcome together with the run it belongs to.
type OutcomeRecord struct {
	// RunID is the ID of the run that produced the outcome.
	RunID int64 `json:"run_id"`

	// StartedAt is when that run began.
	StartedAt time.Time `json:"started_at"`

	// Outcome is the stored outcome.
	Outcome model.Outcome `json:"outcome"`
}

// GetURLHistory returns every stored outcome of rawURL, newest run first.
func (hdb *HistoryDB) GetURLHistory(ctx context.Context, rawURL string) ([]OutcomeRecord, error) {
	query := `
	SELECT o.run_id, r.started_at, o.url, o.kind, o.source, o.path, o.status_code,
		o.reason, o.content_type, o.remote_time, o.local_time, o.bytes, o.checksum
	FROM outcomes o
	JOIN runs r ON r.id = o.run_id
	WHERE o.url = ?
	ORDER BY r.started_at DESC, o.id DESC
	`

	rows, err := hdb.db.QueryContext(ctx, query, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get URL history: %w", err)
	}
	defer rows.Close()

	var records []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var startedAt, kind string
		var path, reason, contentType, remote, local, checksum sql.NullString
		var status, size sql.NullInt64

		if err := rows.Scan(&rec.RunID, &startedAt, &rec.Outcome.URL, &kind, &rec.Outcome.Source,
			&path, &status, &reason, &contentType, &remote, &local, &size, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}

		k, err := model.ParseOutcomeKind(kind)
		if err != nil {
			continue // Skip rows written by an incompatible version
		}

		rec.StartedAt = parseTimestamp(startedAt)
		rec.Outcome.Kind = k
		rec.Outcome.Path = path.String
		rec.Outcome.StatusCode = int(status.Int64)
		rec.Outcome.Reason = reason.String
		rec.Outcome.ContentType = contentType.String
		rec.Outcome.RemoteTime = parseTimestamp(remote.String)
		rec.Outcome.LocalTime = parseTimestamp(local.String)
		rec.Outcome.Bytes = size.Int64
		rec.Outcome.Checksum = checksum.String

		records = append(records, rec)
	}

	return records, rows.Err()
}

// formatTime stores zero times as the empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(storedTimeFormat)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,          // What SaveRun writes (fractional seconds are optional)
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
