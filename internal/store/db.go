package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
)

// Store is the SQLite run history: one row per run, its errors and its
// validation report. It also hosts the tables written by the SQLite sink.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// RunRecord is a stored run.
type RunRecord struct {
	ID        string                  `json:"id"`
	Pipeline  string                  `json:"pipeline"`
	Status    model.RunStatus         `json:"status"`
	State     model.State             `json:"state"`
	Spec      *model.JobSpec          `json:"spec,omitempty"`
	Metadata  *model.PipelineMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// RunError is one error recorded against a run.
type RunError struct {
	ID        int64       `json:"id"`
	RunID     string      `json:"run_id"`
	Stage     model.Stage `json:"stage"`
	Message   string      `json:"error_message"`
	CreatedAt time.Time   `json:"created_at"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		spec TEXT,
		status TEXT NOT NULL,
		state TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT,
		error_message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_errors_run_id ON run_errors(run_id)`,
	`CREATE TABLE IF NOT EXISTS run_reports (
		run_id TEXT PRIMARY KEY,
		report TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string, log *zap.SugaredLogger) (*Store, error) {
	log = logger.OrNop(log)
	log.Debugw("Opening database", logger.FieldPath, path)
	dsn := path
	if !strings.Contains(dsn, "?") {
		// per-connection settings; the PRAGMAs below only reach one pooled connection
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}
	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Infow("Database opened", logger.FieldPath, path)
	return s, nil
}

// New wraps an open database. Call Migrate before use unless the schema
// already exists.
func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: logger.OrNop(log)}
}

// Migrate creates the run tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for sinks writing into the same database.
func (s *Store) DB() *sql.DB { return s.db }

// CreateRun stores a new run in the initialized state.
func (s *Store) CreateRun(ctx context.Context, runID string, spec model.JobSpec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return errors.Wrap(err, "marshal spec")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, spec, status, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, spec.Name, string(specJSON), model.StatusInitialized, model.StateInitialized, now, now)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", runID)
	}
	return nil
}

// UpdateRunStatus moves a run to a new state.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, state model.State) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, state = ?, updated_at = ? WHERE id = ?`,
		state.Status(), state, time.Now().UTC(), runID)
	if err != nil {
		return errors.Wrapf(err, "update run %s", runID)
	}
	return requireRow(res, runID)
}

// SaveMetadata upserts the final metadata of a run. Runs started outside
// the API have no row yet and get one here.
func (s *Store) SaveMetadata(ctx context.Context, md *model.PipelineMetadata) error {
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, status, state, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		md.RunID, md.PipelineName, md.Status, md.State, string(mdJSON), md.StartTime.UTC(), now)
	if err != nil {
		return errors.Wrapf(err, "save metadata for run %s", md.RunID)
	}
	return nil
}

// SaveRunError records an error for a run.
func (s *Store) SaveRunError(ctx context.Context, runID string, stage model.Stage, runErr error) error {
	if runErr == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_errors (run_id, stage, error_message, created_at) VALUES (?, ?, ?, ?)`,
		runID, stage, runErr.Error(), time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "save error for run %s", runID)
	}
	return nil
}

// SaveReport stores the validation report summary of a run, replacing any
// earlier one.
func (s *Store) SaveReport(ctx context.Context, runID string, report model.ReportSummary) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_reports (run_id, report, created_at) VALUES (?, ?, ?)`,
		runID, string(reportJSON), time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "save report for run %s", runID)
	}
	return nil
}

// ListRuns returns every run, newest first, without spec or metadata.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline, status, state, created_at, updated_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.Status, &r.State, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "iterate runs")
}

// GetRun fetches a run with its spec and metadata.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var (
		r            RunRecord
		specJSON, md sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, spec, status, state, metadata, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.Pipeline, &specJSON, &r.Status, &r.State, &md, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", runID)
	}
	if specJSON.Valid && specJSON.String != "" {
		var spec model.JobSpec
		if err := json.Unmarshal([]byte(specJSON.String), &spec); err != nil {
			return nil, errors.Wrapf(err, "decode spec of run %s", runID)
		}
		r.Spec = &spec
	}
	if md.Valid && md.String != "" {
		var meta model.PipelineMetadata
		if err := json.Unmarshal([]byte(md.String), &meta); err != nil {
			return nil, errors.Wrapf(err, "decode metadata of run %s", runID)
		}
		r.Metadata = &meta
	}
	return &r, nil
}

// GetReport fetches the validation report summary of a run.
func (s *Store) GetReport(ctx context.Context, runID string) (*model.ReportSummary, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM run_reports WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "report for run %s", runID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get report for run %s", runID)
	}
	var report model.ReportSummary
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, errors.Wrapf(err, "decode report for run %s", runID)
	}
	return &report, nil
}

// ListRunErrors returns the errors recorded for a run, oldest first.
func (s *Store) ListRunErrors(ctx context.Context, runID string) ([]RunError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, error_message, created_at FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "list errors for run %s", runID)
	}
	defer rows.Close()

	out := []RunError{}
	for rows.Next() {
		var (
			e     RunError
			stage sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan run error")
		}
		e.Stage = model.Stage(stage.String)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate run errors")
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	return nil
}
