package plans

import (
	"fmt"
	"strings"
)

// Default values compiled into the insert plan as the last COALESCE
// fallbacks, applied when neither the call nor the queue row carries a
// setting.
const (
	DefaultExpireSeconds    = 15 * 60
	DefaultRetentionMinutes = 14 * 24 * 60
	DefaultRetryLimit       = 2
	DefaultRetryDelay       = 0

	// backoffCap bounds the exponent of the retry backoff curve.
	backoffCap = 16
)

// JobTable is the live partitioned jobs table.
const JobTable = "job"

// ArchiveTable is the sealed historical mirror.
const ArchiveTable = "archive"

// jobColumns is the full column list shared by job and archive.
const jobColumns = `id, name, priority, data, state, retry_limit, retry_count, retry_delay,
retry_backoff, start_after, started_on, singleton_key, singleton_on, expire_in,
created_on, completed_on, keep_until, output, dead_letter, policy`

// InsertJob returns the single-row insert plan.
//
// Parameters:
//
//	$1  id (uuid, null = generate)
//	$2  name
//	$3  data (jsonb)
//	$4  priority
//	$5  startAfter (timestamptz, null = now)
//	$6  singletonKey
//	$7  singletonSeconds (throttle window, null = none)
//	$8  singletonOffset (seconds added to now before bucketing)
//	$9  expireIn seconds / $10 expireIn default
//	$11 keepUntil / $12 retention minutes default
//	$13 retryLimit / $14 retryLimit default
//	$15 retryDelay / $16 retryDelay default
//	$17 retryBackoff / $18 retryBackoff default
//
// The insert returns the id on success and zero rows when a unique
// partial index absorbed the row; callers treat zero rows as a
// throttle/singleton drop, not an error. When singletonSeconds is set,
// singleton_on is the start of the enclosing time bucket:
// floor((now+offset)/window)*window.
func InsertJob(schema, table string) string {
	return fmt.Sprintf(`
		WITH q AS (
			SELECT name, policy, retry_limit, retry_delay, retry_backoff,
			       expire_seconds, retention_minutes, dead_letter
			FROM %s.queue
			WHERE name = $2
		)
		INSERT INTO %s.%s (
			id, name, data, priority, state, start_after, singleton_key, singleton_on,
			expire_in, keep_until, retry_limit, retry_delay, retry_backoff, policy, dead_letter
		)
		SELECT
			COALESCE($1::uuid, gen_random_uuid()),
			q.name,
			$3::jsonb,
			COALESCE($4::int, 0),
			'created'::%s.job_state,
			COALESCE($5::timestamptz, now()),
			$6::text,
			CASE WHEN $7::int IS NOT NULL
			     THEN to_timestamp(floor((date_part('epoch', now()) + COALESCE($8::int, 0)) / $7) * $7)
			END,
			CASE WHEN $9::int IS NOT NULL THEN $9 * interval '1 second'
			     ELSE COALESCE(q.expire_seconds, $10::int, %d) * interval '1 second'
			END,
			COALESCE($11::timestamptz,
			         COALESCE($5::timestamptz, now()) + COALESCE(q.retention_minutes, $12::int, %d) * interval '1 minute'),
			COALESCE($13::int, q.retry_limit, $14::int, %d),
			COALESCE($15::int, q.retry_delay, $16::int, %d),
			COALESCE($17::bool, q.retry_backoff, $18::bool, false),
			q.policy,
			q.dead_letter
		FROM q
		ON CONFLICT DO NOTHING
		RETURNING id`,
		schema, schema, table, schema,
		DefaultExpireSeconds, DefaultRetentionMinutes, DefaultRetryLimit, DefaultRetryDelay)
}

// FetchNextJob returns the claim plan: select up to $2 eligible rows
// for queue $1 under FOR UPDATE SKIP LOCKED and flip them to active.
func FetchNextJob(schema, table string, priority, includeMetadata bool) string {
	order := "created_on, id"
	if priority {
		order = "priority DESC, " + order
	}

	returning := "j.id, j.name, j.data, date_part('epoch', j.expire_in)::int AS expire_in_seconds"
	if includeMetadata {
		returning = `j.id, j.name, j.priority, j.data, j.state, j.retry_limit, j.retry_count,
			j.retry_delay, j.retry_backoff, j.start_after, j.started_on, j.singleton_key,
			j.singleton_on, date_part('epoch', j.expire_in)::int AS expire_in_seconds,
			j.created_on, j.completed_on, j.keep_until, j.output, j.dead_letter, j.policy`
	}

	return fmt.Sprintf(`
		WITH next AS (
			SELECT id
			FROM %s.%s
			WHERE name = $1
			  AND state < 'active'::%s.job_state
			  AND start_after < now()
			ORDER BY %s
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %s.%s j SET
			state = 'active'::%s.job_state,
			started_on = now()
		FROM next
		WHERE j.name = $1 AND j.id = next.id
		RETURNING %s`,
		schema, table, schema, order, schema, table, schema, returning)
}

// CompleteJobs marks active jobs completed and stores their output.
// $1 name, $2 uuid[], $3 output jsonb.
func CompleteJobs(schema, table string) string {
	return fmt.Sprintf(`
		WITH results AS (
			UPDATE %s.%s SET
				state = 'completed'::%s.job_state,
				completed_on = now(),
				output = $3::jsonb
			WHERE name = $1
			  AND id = ANY($2::uuid[])
			  AND state = 'active'::%s.job_state
			RETURNING id
		)
		SELECT id FROM results`,
		schema, table, schema, schema)
}

// FailJobsByID moves jobs to retry or terminal failed, computing the
// retry backoff in SQL so the transition is atomic. Terminally failed
// jobs with a dead-letter queue are copied there as new created jobs
// carrying the same data. $1 name, $2 uuid[], $3 output jsonb.
func FailJobsByID(schema, table string) string {
	where := fmt.Sprintf(`name = $1 AND id = ANY($2::uuid[]) AND state < 'completed'::%s.job_state`, schema)
	return failJobs(schema, table, where)
}

// FailJobsByTimeout fails every active job whose claim aged past
// started_on + expire_in, attaching the expiration message as output.
// No parameters.
func FailJobsByTimeout(schema, table string) string {
	where := fmt.Sprintf(
		`state = 'active'::%s.job_state AND (started_on + expire_in) < now()`, schema)
	plan := failJobs(schema, table, where)
	// The sweep has no caller-supplied output; splice the message in.
	return strings.ReplaceAll(plan, "$3::jsonb",
		`jsonb_build_object('message', 'job failed by timeout in active state')`)
}

func failJobs(schema, table, where string) string {
	return fmt.Sprintf(`
		WITH results AS (
			UPDATE %s.%s SET
				state = CASE WHEN retry_count < retry_limit
				        THEN 'retry' ELSE 'failed' END::%s.job_state,
				completed_on = CASE WHEN retry_count < retry_limit
				               THEN NULL ELSE now() END,
				start_after = CASE
					WHEN retry_count >= retry_limit THEN start_after
					WHEN NOT retry_backoff THEN now() + retry_delay * interval '1 second'
					ELSE now() + retry_delay * power(2, LEAST(%d, retry_count)) * (1 + random()) * interval '1 second'
				END,
				retry_count = CASE WHEN retry_count < retry_limit
				              THEN retry_count + 1 ELSE retry_count END,
				output = $3::jsonb
			WHERE %s
			RETURNING *
		),
		dlq AS (
			INSERT INTO %s.job (id, name, data, priority, state, start_after, expire_in,
			                    keep_until, retry_limit, retry_delay, retry_backoff, policy, dead_letter)
			SELECT gen_random_uuid(), q.name, r.data, r.priority, 'created'::%s.job_state, now(),
			       COALESCE(q.expire_seconds, %d) * interval '1 second',
			       now() + COALESCE(q.retention_minutes, %d) * interval '1 minute',
			       COALESCE(q.retry_limit, %d), COALESCE(q.retry_delay, %d),
			       COALESCE(q.retry_backoff, false), q.policy, q.dead_letter
			FROM results r
			JOIN %s.queue q ON q.name = r.dead_letter
			WHERE r.state = 'failed'::%s.job_state
			  AND r.dead_letter IS NOT NULL
			  AND r.dead_letter <> r.name
			ON CONFLICT DO NOTHING
		)
		SELECT id FROM results`,
		schema, table, schema, backoffCap, where,
		schema, schema, DefaultExpireSeconds, DefaultRetentionMinutes,
		DefaultRetryLimit, DefaultRetryDelay, schema, schema)
}

// CancelJobs moves non-terminal jobs to cancelled. $1 name, $2 uuid[].
func CancelJobs(schema, table string) string {
	return fmt.Sprintf(`
		WITH results AS (
			UPDATE %s.%s SET
				state = 'cancelled'::%s.job_state,
				completed_on = now()
			WHERE name = $1
			  AND id = ANY($2::uuid[])
			  AND state < 'completed'::%s.job_state
			RETURNING id
		)
		SELECT id FROM results`,
		schema, table, schema, schema)
}

// ResumeJobs returns terminal jobs to created, clearing completion
// markers. Only rows still in the live table qualify; archived rows
// are sealed. $1 name, $2 uuid[].
func ResumeJobs(schema, table string) string {
	return fmt.Sprintf(`
		WITH results AS (
			UPDATE %s.%s SET
				state = 'created'::%s.job_state,
				completed_on = NULL,
				started_on = NULL,
				start_after = now()
			WHERE name = $1
			  AND id = ANY($2::uuid[])
			  AND state >= 'completed'::%s.job_state
			RETURNING id
		)
		SELECT id FROM results`,
		schema, table, schema, schema)
}

// DeleteJobs removes jobs outright. $1 name, $2 uuid[].
func DeleteJobs(schema, table string) string {
	return fmt.Sprintf(`
		WITH results AS (
			DELETE FROM %s.%s
			WHERE name = $1 AND id = ANY($2::uuid[])
			RETURNING id
		)
		SELECT id FROM results`,
		schema, table)
}

// GetJobByID reads one job from the live table. $1 name, $2 id.
func GetJobByID(schema string) string {
	return fmt.Sprintf(`
		SELECT %s, date_part('epoch', expire_in)::int AS expire_in_seconds, NULL::timestamptz AS archived_on
		FROM %s.%s
		WHERE name = $1 AND id = $2`,
		selectColumns(), schema, JobTable)
}

// GetArchivedJobByID reads one job from the archive. $1 name, $2 id.
func GetArchivedJobByID(schema string) string {
	return fmt.Sprintf(`
		SELECT %s, date_part('epoch', expire_in)::int AS expire_in_seconds, archived_on
		FROM %s.%s
		WHERE name = $1 AND id = $2`,
		selectColumns(), schema, ArchiveTable)
}

func selectColumns() string {
	return `id, name, priority, data, state, retry_limit, retry_count, retry_delay,
		retry_backoff, start_after, started_on, singleton_key, singleton_on,
		created_on, completed_on, keep_until, output, dead_letter, policy`
}
