package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/fortress-sh/fortress/pkg/hardening"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a queried record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a store at path. Init must be called before use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database, enables WAL mode, and applies migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}

	log.Debug().Str("path", s.path).Msg("report store initialized")
	return nil
}

// migrate applies the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveReport persists a completed fleet report in one transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *hardening.FleetReport) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	run, hosts, units := FlattenReport(report)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, profile, started_at, completed_at, total, hardened, halted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Profile, run.StartedAt, run.CompletedAt, run.Total, run.Hardened, run.Halted,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, host := range hosts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO host_reports (run_id, name, address, final_phase, completed, halt_reason, halt_detail, reachable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			host.RunID, host.Name, host.Address, host.FinalPhase, host.Completed,
			host.HaltReason, host.HaltDetail, host.Reachable,
		)
		if err != nil {
			return fmt.Errorf("inserting host report for %s: %w", host.Name, err)
		}
	}

	for _, unit := range units {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO unit_results (run_id, host, seq, phase, unit, status, reason, exit_code, stdout, stderr, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			unit.RunID, unit.Host, unit.Seq, unit.Phase, unit.Unit, unit.Status,
			unit.Reason, unit.ExitCode, unit.Stdout, unit.Stderr, unit.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("inserting unit result for %s: %w", unit.Host, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing report: %w", err)
	}

	log.Debug().
		Str("run_id", run.ID).
		Int("hosts", len(hosts)).
		Int("units", len(units)).
		Msg("fleet report persisted")
	return nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile, started_at, completed_at, total, hardened, halted
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Profile, &r.StartedAt, &r.CompletedAt, &r.Total, &r.Hardened, &r.Halted); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*RunRecord, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return &runs[0], nil
}

// HostsByHaltReason returns the hosts of a run halted with reason.
func (s *SQLiteStore) HostsByHaltReason(ctx context.Context, runID, reason string) ([]HostRecord, error) {
	return s.queryHosts(ctx, `
		SELECT run_id, name, address, final_phase, completed, halt_reason, halt_detail, reachable
		FROM host_reports WHERE run_id = ? AND halt_reason = ? ORDER BY name`, runID, reason)
}

// HostsForRun returns every host outcome of a run.
func (s *SQLiteStore) HostsForRun(ctx context.Context, runID string) ([]HostRecord, error) {
	return s.queryHosts(ctx, `
		SELECT run_id, name, address, final_phase, completed, halt_reason, halt_detail, reachable
		FROM host_reports WHERE run_id = ? ORDER BY name`, runID)
}

func (s *SQLiteStore) queryHosts(ctx context.Context, query string, args ...any) ([]HostRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying host reports: %w", err)
	}
	defer rows.Close()

	var hosts []HostRecord
	for rows.Next() {
		var h HostRecord
		if err := rows.Scan(&h.RunID, &h.Name, &h.Address, &h.FinalPhase, &h.Completed, &h.HaltReason, &h.HaltDetail, &h.Reachable); err != nil {
			return nil, fmt.Errorf("scanning host report: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// UnitsForHost returns a host's unit executions in declared order.
func (s *SQLiteStore) UnitsForHost(ctx context.Context, runID, host string) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, host, seq, phase, unit, status, reason, exit_code, stdout, stderr, duration_ms
		FROM unit_results WHERE run_id = ? AND host = ? ORDER BY seq`, runID, host)
	if err != nil {
		return nil, fmt.Errorf("querying unit results: %w", err)
	}
	defer rows.Close()

	var units []UnitRecord
	for rows.Next() {
		var u UnitRecord
		if err := rows.Scan(&u.RunID, &u.Host, &u.Seq, &u.Phase, &u.Unit, &u.Status, &u.Reason, &u.ExitCode, &u.Stdout, &u.Stderr, &u.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning unit result: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
