package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/migrate"
)

// Store executes plans against a pool. All methods are safe for
// concurrent use; the pool is the unit of sharing.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *slog.Logger
}

// New creates a Store bound to a schema.
func New(pool *pgxpool.Pool, schema string) *Store {
	return &Store{
		pool:   pool,
		schema: schema,
		logger: slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Schema returns the configured schema name.
func (s *Store) Schema() string {
	return s.schema
}

// Pool exposes the underlying pool for embedders that share it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Now reads the database clock. The manager uses it once at start to
// measure clock skew for debounce slot math.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("pgboss: read database time: %w", err)
	}
	return now, nil
}

// Version reads the stored schema version. A missing version table
// reports version 0 (nothing installed).
func (s *Store) Version(ctx context.Context) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT version FROM %s.version`, s.schema)).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "42P01" || pgErr.Code == "3F000") {
			// undefined table / schema: never installed
			return 0, nil
		}
		return 0, fmt.Errorf("pgboss: read schema version: %w", err)
	}
	return version, nil
}

// MigrateToLatest installs or upgrades the schema to the current
// build's version. Running against a newer schema fails rather than
// downgrading.
func (s *Store) MigrateToLatest(ctx context.Context) error {
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	latest := migrate.Latest(s.schema)
	if current == latest {
		return nil
	}
	if current > latest {
		return fmt.Errorf("%w: stored %d, build %d", core.ErrSchemaTooNew, current, latest)
	}

	plan, err := migrate.Migrate(s.schema, current)
	if err != nil {
		return err
	}

	s.logger.Info("migrating schema", "schema", s.schema, "from", current, "to", plan.Target)
	return s.ExecutePlan(ctx, plan)
}

// ExecutePlan runs a migration plan. All statements execute on one
// acquired connection: the advisory lock is session-scoped, and the
// assertion must observe the same session as the statements it guards.
func (s *Store) ExecutePlan(ctx context.Context, plan migrate.Plan) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgboss: acquire migration connection: %w", err)
	}
	defer conn.Release()

	for _, stmt := range plan.Statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && migrate.IsVersionMismatch(pgErr.Code, pgErr.Message) {
				// best effort: the lock statement already ran
				_, _ = conn.Exec(ctx, migrate.AdvisoryUnlock(s.schema))
				found, _ := s.Version(ctx)
				return &core.VersionMismatchError{Expected: plan.Source, Found: found}
			}
			_, _ = conn.Exec(ctx, migrate.AdvisoryUnlock(s.schema))
			return fmt.Errorf("pgboss: migration to %d: %w", plan.Target, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-index conflict.
// For throttle, debounce, and singleton inserts this is a normal
// outcome, not an error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// execStatements runs a list of DDL statements in order on one
// connection, used for partition create and drop.
func (s *Store) execStatements(ctx context.Context, stmts []string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgboss: acquire connection: %w", err)
	}
	defer conn.Release()

	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
