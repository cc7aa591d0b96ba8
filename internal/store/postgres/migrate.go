package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// MigrationRunner is the one-shot schema bootstrap executed before any
// stage starts. It delegates the actual DDL application to golang-migrate
// (ascending *.sql application, abort-on-failure, schema_migrations
// version tracking) and additionally records each applied filename into
// the `migrations` table spec.md §3/§6 names explicitly, since
// golang-migrate's own bookkeeping only tracks the current version, not a
// full per-file audit trail.
type MigrationRunner struct {
	cfg    Config
	dir    string
	logger *zap.Logger
}

// NewMigrationRunner builds a runner pointed at dir, a directory of
// `NNNN_name.up.sql` / `NNNN_name.down.sql` files.
func NewMigrationRunner(cfg Config, dir string, logger *zap.Logger) *MigrationRunner {
	return &MigrationRunner{cfg: cfg, dir: dir, logger: logger.Named("migration_runner")}
}

// Run ensures the migrations audit table exists, applies every unapplied
// *.sql file in dir in ascending lexicographic order via golang-migrate,
// and records each newly-applied filename. Failure aborts the run;
// callers must not start any stage afterwards.
func (r *MigrationRunner) Run(ctx context.Context) error {
	db, err := sql.Open("postgres", r.cfg.dsn())
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging postgres for migrations: %w", err)
	}

	if err := r.ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("building postgres migration driver: %w", err)
	}

	sourceURL := "file://" + r.dir
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("building migration engine: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	if err := r.recordAppliedFilenames(ctx, db); err != nil {
		return err
	}

	r.logger.Info("migrations applied", zap.String("dir", r.dir))
	return nil
}

func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	const createTable = `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			migration_filename VARCHAR UNIQUE NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("ensuring migrations table: %w", err)
	}
	return nil
}

// recordAppliedFilenames inserts a migrations row for every *.up.sql file
// in dir not already recorded, each within its own transaction, matching
// spec.md §4.3 step 4's "single transaction per file" rule.
func (r *MigrationRunner) recordAppliedFilenames(ctx context.Context, db *sql.DB) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading migrations dir %s: %w", r.dir, err)
	}

	var filenames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".up.sql") {
			filenames = append(filenames, name)
		}
	}
	sort.Strings(filenames)

	for _, filename := range filenames {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration record transaction for %s: %w", filename, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO migrations (migration_filename) VALUES ($1) ON CONFLICT (migration_filename) DO NOTHING`,
			filename)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", filename, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration record for %s: %w", filename, err)
		}
	}
	return nil
}

// AppliedMigrationFilenames returns every filename recorded in the
// migrations table, for diagnostics and the replay test in SPEC_FULL.md §8.
func (r *MigrationRunner) AppliedMigrationFilenames(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT migration_filename FROM migrations ORDER BY migration_filename ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning applied migration row: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
