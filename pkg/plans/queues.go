package plans

import (
	"crypto/md5"
	"fmt"

	"github.com/boris-v/pg-boss/pkg/core"
)

// PartitionTable derives the deterministic partition table name for a
// queue. Queue names allow characters that are awkward in identifiers,
// so the name is hashed rather than embedded.
func PartitionTable(queue string) string {
	return fmt.Sprintf("j%x", md5.Sum([]byte(queue)))
}

// InsertQueue inserts the queue metadata row.
// $1 name, $2 policy, $3 retryLimit, $4 retryDelay, $5 retryBackoff,
// $6 expireSeconds, $7 retentionMinutes, $8 deadLetter, $9 partition.
func InsertQueue(schema string) string {
	return fmt.Sprintf(`
		INSERT INTO %s.queue (
			name, policy, retry_limit, retry_delay, retry_backoff,
			expire_seconds, retention_minutes, dead_letter, partition_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		schema)
}

// UpdateQueue mutates the mutable queue settings. Null parameters
// clear the setting rather than preserving it; callers pass the full
// desired configuration. $1 name, $2..$8 as InsertQueue.
func UpdateQueue(schema string) string {
	return fmt.Sprintf(`
		UPDATE %s.queue SET
			policy = $2,
			retry_limit = $3,
			retry_delay = $4,
			retry_backoff = $5,
			expire_seconds = $6,
			retention_minutes = $7,
			dead_letter = $8,
			updated_on = now()
		WHERE name = $1`,
		schema)
}

// DeleteQueue removes the metadata row, returning the partition name
// so the caller can drop the partition. $1 name.
func DeleteQueue(schema string) string {
	return fmt.Sprintf(`
		DELETE FROM %s.queue
		WHERE name = $1
		RETURNING partition_name`,
		schema)
}

// GetQueue reads one queue row. $1 name.
func GetQueue(schema string) string {
	return fmt.Sprintf(`SELECT %s FROM %s.queue WHERE name = $1`, queueColumns, schema)
}

// GetQueues reads all queue rows.
func GetQueues(schema string) string {
	return fmt.Sprintf(`SELECT %s FROM %s.queue ORDER BY name`, queueColumns, schema)
}

const queueColumns = `name, policy, retry_limit, retry_delay, retry_backoff,
	expire_seconds, retention_minutes, dead_letter, partition_name, created_on, updated_on`

// GetQueueSize counts non-terminal jobs for a queue, optionally
// restricted to jobs eligible before a cut-off. $1 name,
// $2 before (timestamptz, null = no filter).
func GetQueueSize(schema string) string {
	return fmt.Sprintf(`
		SELECT count(*)
		FROM %s.%s
		WHERE name = $1
		  AND state < 'completed'::%s.job_state
		  AND ($2::timestamptz IS NULL OR start_after < $2)`,
		schema, JobTable, schema)
}

// PurgeQueue empties a queue's partition without touching its
// configuration. The partition name comes from the queue row.
func PurgeQueue(schema, partition string) string {
	return fmt.Sprintf(`TRUNCATE TABLE %s.%s`, schema, partition)
}

// CreatePartition returns the DDL creating a queue's partition of the
// jobs table together with its indexes. The two throttle indexes are
// created on every partition (throttled and debounced sends work on
// any policy); the policy indexes only where the policy demands them.
// The queue name is embedded as a literal: it is validated to
// [A-Za-z0-9_-]+ before any plan is built.
func CreatePartition(schema, queue string, policy core.QueuePolicy) []string {
	p := PartitionTable(queue)

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s.%s PARTITION OF %s.job FOR VALUES IN ('%s')`,
			schema, p, schema, queue),
		// claim scans: eligible rows in fetch order
		fmt.Sprintf(`CREATE INDEX %s_fetch_idx ON %s.%s (priority DESC, created_on, id) WHERE state < 'active'::%s.job_state`,
			p, schema, p, schema),
		// throttle by key: one live job per key outside time buckets
		fmt.Sprintf(`CREATE UNIQUE INDEX %s_throttle_key_idx ON %s.%s (name, singleton_key) WHERE state <= 'completed'::%s.job_state AND singleton_on IS NULL`,
			p, schema, p, schema),
		// throttle by time bucket: one job per (bucket, key)
		fmt.Sprintf(`CREATE UNIQUE INDEX %s_throttle_slot_idx ON %s.%s (name, singleton_on, COALESCE(singleton_key, '')) WHERE state <= 'completed'::%s.job_state AND singleton_on IS NOT NULL`,
			p, schema, p, schema),
	}

	switch policy {
	case core.PolicyShort:
		stmts = append(stmts,
			fmt.Sprintf(`CREATE UNIQUE INDEX %s_short_idx ON %s.%s (name) WHERE state = 'created'::%s.job_state`,
				p, schema, p, schema))
	case core.PolicySingleton:
		stmts = append(stmts,
			fmt.Sprintf(`CREATE UNIQUE INDEX %s_singleton_idx ON %s.%s (name) WHERE state = 'active'::%s.job_state`,
				p, schema, p, schema))
	case core.PolicyStately:
		stmts = append(stmts,
			fmt.Sprintf(`CREATE UNIQUE INDEX %s_stately_idx ON %s.%s (name, state) WHERE state <= 'active'::%s.job_state`,
				p, schema, p, schema))
	}

	return stmts
}

// DropPartition detaches and drops a queue's partition.
func DropPartition(schema, partition string) []string {
	return []string{
		fmt.Sprintf(`ALTER TABLE %s.job DETACH PARTITION %s.%s`, schema, schema, partition),
		fmt.Sprintf(`DROP TABLE %s.%s`, schema, partition),
	}
}
