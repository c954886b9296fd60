package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/bakkerme/culler/internal/core"
)

const (
	defaultSQLiteTablePrefix = "culler"
)

type SQLiteStore struct {
	db            *sql.DB
	prefix        string
	runsIdent     string
	outcomesIdent string
}

// NewSQLiteStore opens (and migrates) a SQLite database. Tables are named
// <prefix>_runs and <prefix>_outcomes.
func NewSQLiteStore(dsn string, prefix string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if prefix == "" {
		prefix = defaultSQLiteTablePrefix
	}
	runsIdent, err := quoteSQLiteIdentifier(prefix + "_runs")
	if err != nil {
		return nil, err
	}
	outcomesIdent, err := quoteSQLiteIdentifier(prefix + "_outcomes")
	if err != nil {
		return nil, err
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{
		db:            db,
		prefix:        prefix,
		runsIdent:     runsIdent,
		outcomesIdent: outcomesIdent,
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Record upserts the run and replaces its outcome rows.
func (s *SQLiteStore) Record(ctx context.Context, run *core.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	stored := *run
	stored.Outcomes = nil
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (id, job, status, started_at, payload) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET job = excluded.job, status = excluded.status,
			started_at = excluded.started_at, payload = excluded.payload`, s.runsIdent),
		run.ID, run.Job, string(run.Status), run.StartedAt.UTC(), string(payload),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = ?", s.outcomesIdent), run.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear outcomes: %w", err)
	}
	stmt, err := tx.PrepareContext(
		ctx,
		fmt.Sprintf("INSERT INTO %s (run_id, seq, resource_id, status, reason, attempts) VALUES (?, ?, ?, ?, ?, ?)", s.outcomesIdent),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, o := range run.Outcomes {
		if _, err := stmt.ExecContext(ctx, run.ID, i, o.ID, string(o.Status), o.Reason, o.Attempts); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert outcome %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Run, error) {
	var payload string
	query := fmt.Sprintf("SELECT payload FROM %s WHERE id = ?", s.runsIdent)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	var run core.Run
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	outcomes, err := s.outcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Outcomes = outcomes
	return &run, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*core.Run, error) {
	query := fmt.Sprintf("SELECT id FROM %s ORDER BY started_at DESC, id", s.runsIdent)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]*core.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) outcomes(ctx context.Context, runID string) ([]core.RemovalOutcome, error) {
	rows, err := s.db.QueryContext(
		ctx,
		fmt.Sprintf("SELECT resource_id, status, reason, attempts FROM %s WHERE run_id = ? ORDER BY seq", s.outcomesIdent),
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.RemovalOutcome
	for rows.Next() {
		var (
			o      core.RemovalOutcome
			status string
		)
		if err := rows.Scan(&o.ID, &status, &o.Reason, &o.Attempts); err != nil {
			return nil, err
		}
		o.Status = core.OutcomeStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		payload TEXT NOT NULL
	)`, s.runsIdent),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		resource_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`, s.outcomesIdent),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_runs_started_at_idx ON %s (started_at)", s.prefix, s.runsIdent),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_outcomes_resource_idx ON %s (resource_id)", s.prefix, s.outcomesIdent),
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create sqlite schema: %w", err)
		}
	}
	return nil
}

func ensureSQLiteDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexRune(dsn, '?'); idx >= 0 {
			dsn = dsn[:idx]
		}
	}
	if dsn == "" || dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var sqliteIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteSQLiteIdentifier(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("sqlite table name is required")
	}
	if !sqliteIdentifierPattern.MatchString(identifier) {
		return "", fmt.Errorf("sqlite table name %q must match %s", identifier, sqliteIdentifierPattern.String())
	}
	return `"` + identifier + `"`, nil
}
