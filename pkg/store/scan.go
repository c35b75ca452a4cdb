package store

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/boris-v/pg-boss/pkg/core"
)

// scanFetchedJob scans one row of the fetch plan. The slim variant
// carries only what a handler needs; metadata adds the full row.
func scanFetchedJob(rows pgx.Rows, includeMetadata bool) (*core.Job, error) {
	job := &core.Job{}
	var expireSeconds int

	if !includeMetadata {
		if err := rows.Scan(&job.ID, &job.Name, &job.Data, &expireSeconds); err != nil {
			return nil, err
		}
		job.State = core.StateActive
		job.ExpireIn = time.Duration(expireSeconds) * time.Second
		return job, nil
	}

	var policy *string
	err := rows.Scan(
		&job.ID, &job.Name, &job.Priority, &job.Data, &job.State,
		&job.RetryLimit, &job.RetryCount, &job.RetryDelay, &job.RetryBackoff,
		&job.StartAfter, &job.StartedOn, &job.SingletonKey, &job.SingletonOn,
		&expireSeconds, &job.CreatedOn, &job.CompletedOn, &job.KeepUntil,
		&job.Output, &job.DeadLetter, &policy,
	)
	if err != nil {
		return nil, err
	}
	job.ExpireIn = time.Duration(expireSeconds) * time.Second
	if policy != nil {
		job.Policy = core.QueuePolicy(*policy)
	}
	return job, nil
}

// scanFullJob scans one row of the get-by-id plans (live or archive).
func scanFullJob(rows pgx.Rows) (*core.Job, error) {
	job := &core.Job{}
	var expireSeconds int
	var policy *string

	err := rows.Scan(
		&job.ID, &job.Name, &job.Priority, &job.Data, &job.State,
		&job.RetryLimit, &job.RetryCount, &job.RetryDelay, &job.RetryBackoff,
		&job.StartAfter, &job.StartedOn, &job.SingletonKey, &job.SingletonOn,
		&job.CreatedOn, &job.CompletedOn, &job.KeepUntil,
		&job.Output, &job.DeadLetter, &policy,
		&expireSeconds, &job.ArchivedOn,
	)
	if err != nil {
		return nil, err
	}
	job.ExpireIn = time.Duration(expireSeconds) * time.Second
	if policy != nil {
		job.Policy = core.QueuePolicy(*policy)
	}
	return job, nil
}

// scanQueue scans one queue row.
func scanQueue(rows pgx.Rows) (*core.Queue, error) {
	q := &core.Queue{}
	var policy string

	err := rows.Scan(
		&q.Name, &policy, &q.RetryLimit, &q.RetryDelay, &q.RetryBackoff,
		&q.ExpireSeconds, &q.RetentionMinutes, &q.DeadLetter,
		&q.PartitionName, &q.CreatedOn, &q.UpdatedOn,
	)
	if err != nil {
		return nil, err
	}
	q.Policy = core.QueuePolicy(policy)
	return q, nil
}
