package migrate

import (
	"fmt"
	"sort"

	"github.com/boris-v/pg-boss/pkg/core"
)

// Migration is one hop in the linear schema chain.
type Migration struct {
	Version   int
	Previous  int
	Install   []string
	Uninstall []string
}

// Plan is an executable migration: run Statements in order on a single
// connection. Source is the version the plan asserts before running;
// Target is the version it leaves behind.
type Plan struct {
	Source     int
	Target     int
	Statements []string
}

// Next returns the plan applying the single migration whose Previous
// is current.
func Next(schema string, current int) (Plan, error) {
	for _, m := range All(schema) {
		if m.Previous == current {
			return wrap(schema, current, m.Version, m.Install), nil
		}
	}
	return Plan{}, fmt.Errorf("%w: next from %d", core.ErrMigrationNotFound, current)
}

// Rollback returns the plan undoing the migration whose Version is
// current, leaving its Previous as the stored version.
func Rollback(schema string, current int) (Plan, error) {
	for _, m := range All(schema) {
		if m.Version == current {
			return wrap(schema, current, m.Previous, m.Uninstall), nil
		}
	}
	return Plan{}, fmt.Errorf("%w: rollback from %d", core.ErrMigrationNotFound, current)
}

// Migrate returns the plan applying every migration whose Previous is
// at least from, ascending by version, targeting the highest version
// in the chain. Passing from = 0 installs the schema from scratch.
func Migrate(schema string, from int) (Plan, error) {
	var pending []Migration
	for _, m := range All(schema) {
		if m.Previous >= from {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return Plan{}, fmt.Errorf("%w: migrate from %d", core.ErrMigrationNotFound, from)
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	var stmts []string
	for _, m := range pending {
		stmts = append(stmts, m.Install...)
	}
	return wrap(schema, from, pending[len(pending)-1].Version, stmts), nil
}

// Latest is the highest version in the chain.
func Latest(schema string) int {
	latest := 0
	for _, m := range All(schema) {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return latest
}

// wrap brackets the statements with the advisory lock, the source
// version assertion, and the version bump. A plan from version 0 is
// the initial install: there is no version table to assert against,
// and the bump inserts the row instead of updating it.
func wrap(schema string, source, target int, stmts []string) Plan {
	out := make([]string, 0, len(stmts)+4)
	out = append(out, AdvisoryLock(schema))
	if source > 0 {
		out = append(out, assertVersion(schema, source))
	}
	out = append(out, stmts...)
	out = append(out, bumpVersion(schema, source, target))
	out = append(out, AdvisoryUnlock(schema))
	return Plan{Source: source, Target: target, Statements: out}
}

// AdvisoryLock acquires the session advisory lock serializing
// migrators of one schema. The key is derived from the schema name in
// SQL so every client computes the same 64-bit value.
func AdvisoryLock(schema string) string {
	return fmt.Sprintf(
		`SELECT pg_advisory_lock(('x' || md5(current_database() || '.pgboss.%s'))::bit(64)::bigint)`,
		schema)
}

// AdvisoryUnlock releases the migration lock.
func AdvisoryUnlock(schema string) string {
	return fmt.Sprintf(
		`SELECT pg_advisory_unlock(('x' || md5(current_database() || '.pgboss.%s'))::bit(64)::bigint)`,
		schema)
}

// versionMismatchSQLState is raised by the assertion block and mapped
// back to VersionMismatchError by the executor.
const versionMismatchSQLState = "P0001"

// AssertionMessage is the prefix of the exception the version
// assertion raises; executors match on it to classify the failure.
const AssertionMessage = "pgboss schema version mismatch"

func assertVersion(schema string, version int) string {
	return fmt.Sprintf(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM %s.version WHERE version = %d) THEN
				RAISE EXCEPTION '%s: expected %d';
			END IF;
		END $$`,
		schema, version, AssertionMessage, version)
}

func bumpVersion(schema string, source, target int) string {
	if source == 0 {
		return fmt.Sprintf(`INSERT INTO %s.version (version) VALUES (%d)`, schema, target)
	}
	return fmt.Sprintf(`UPDATE %s.version SET version = %d, maintained_on = now()`, schema, target)
}

// IsVersionMismatch reports whether a SQLSTATE/message pair produced
// by executing a plan is the version assertion firing.
func IsVersionMismatch(sqlState, message string) bool {
	return sqlState == versionMismatchSQLState && len(message) >= len(AssertionMessage) &&
		message[:len(AssertionMessage)] == AssertionMessage
}
