package plans

import "fmt"

// ArchiveJobs moves terminal jobs past their keep_until cut-off (or
// completed jobs older than $1 seconds) into the archive and removes
// them from the live table. $1 archiveCompletedAfterSeconds.
func ArchiveJobs(schema string) string {
	return fmt.Sprintf(`
		WITH archived AS (
			DELETE FROM %s.%s
			WHERE state >= 'completed'::%s.job_state
			  AND (keep_until < now()
			       OR (state = 'completed'::%s.job_state AND completed_on < now() - $1::int * interval '1 second'))
			RETURNING %s
		)
		INSERT INTO %s.%s (%s)
		SELECT %s FROM archived`,
		schema, JobTable, schema, schema, jobColumns,
		schema, ArchiveTable, jobColumns, jobColumns)
}

// DropArchivedJobs deletes archive rows older than the retention
// window. $1 retention seconds.
func DropArchivedJobs(schema string) string {
	return fmt.Sprintf(`
		DELETE FROM %s.%s
		WHERE archived_on < now() - $1::int * interval '1 second'`,
		schema, ArchiveTable)
}

// CountStates aggregates live job counts per queue and state for the
// monitor sweep.
func CountStates(schema string) string {
	return fmt.Sprintf(`
		SELECT name, state::text, count(*)
		FROM %s.%s
		GROUP BY ROLLUP (name), state`,
		schema, JobTable)
}

// SetMaintenanceTime stamps the version row after a maintenance sweep.
func SetMaintenanceTime(schema string) string {
	return fmt.Sprintf(`UPDATE %s.version SET maintained_on = now()`, schema)
}

// SetMonitorTime stamps the version row after a monitor sweep.
func SetMonitorTime(schema string) string {
	return fmt.Sprintf(`UPDATE %s.version SET monitored_on = now()`, schema)
}

// GetTime reads the database clock, used to measure clock skew between
// the host and the database for debounce slot math.
func GetTime() string {
	return `SELECT now()`
}
