package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/plans"
)

// InsertParams carries one insert through the plan's positional
// parameters. Nil pointers fall through to queue configuration and
// then to the compiled defaults.
type InsertParams struct {
	ID               *uuid.UUID
	Name             string
	Data             json.RawMessage
	Priority         int
	StartAfter       *time.Time
	SingletonKey     *string
	SingletonSeconds *int
	SingletonOffset  int
	ExpireSeconds    *int
	ExpireDefault    *int
	KeepUntil        *time.Time
	RetentionDefault *int
	RetryLimit       *int
	RetryLimitDef    *int
	RetryDelay       *int
	RetryDelayDef    *int
	RetryBackoff     *bool
	RetryBackoffDef  *bool
}

// InsertJob inserts one job. It returns uuid.Nil with a nil error when
// a unique partial index absorbed the row (throttle/debounce/singleton
// collision) — callers surface that as a dropped send, not a failure.
func (s *Store) InsertJob(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	row := s.pool.QueryRow(ctx, plans.InsertJob(s.schema, plans.JobTable),
		p.ID, p.Name, p.Data, p.Priority, p.StartAfter,
		p.SingletonKey, p.SingletonSeconds, p.SingletonOffset,
		p.ExpireSeconds, p.ExpireDefault,
		p.KeepUntil, p.RetentionDefault,
		p.RetryLimit, p.RetryLimitDef,
		p.RetryDelay, p.RetryDelayDef,
		p.RetryBackoff, p.RetryBackoffDef)

	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows || isUniqueViolation(err) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("pgboss: insert job: %w", err)
	}
	return id, nil
}

// InsertJobs inserts a batch atomically. Unlike single sends, bulk
// inserts surface conflicts: a nil slice result with nil error means
// at least one row was absorbed and the transaction rolled back.
func (s *Store) InsertJobs(ctx context.Context, name string, jobs []core.JobInsert, defaults InsertParams) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgboss: begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := plans.InsertJob(s.schema, plans.JobTable)
	ids := make([]uuid.UUID, 0, len(jobs))

	for _, j := range jobs {
		var jobID *uuid.UUID
		if j.ID != uuid.Nil {
			id := j.ID
			jobID = &id
		}

		row := tx.QueryRow(ctx, sql,
			jobID, name, j.Data, j.Priority, j.StartAfter,
			j.SingletonKey, nil, 0,
			j.ExpireIn, defaults.ExpireDefault,
			j.KeepUntil, defaults.RetentionDefault,
			j.RetryLimit, defaults.RetryLimitDef,
			j.RetryDelay, defaults.RetryDelayDef,
			j.RetryBackoff, defaults.RetryBackoffDef)

		var id uuid.UUID
		if err := row.Scan(&id); err != nil {
			if err == pgx.ErrNoRows || isUniqueViolation(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("pgboss: insert jobs: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgboss: commit insert: %w", err)
	}
	return ids, nil
}

// FetchJobs claims up to BatchSize eligible jobs for a queue under
// FOR UPDATE SKIP LOCKED. Transport errors are swallowed and logged —
// the expected error class here is contention, and the worker loop
// simply polls again — so callers always receive a usable batch.
func (s *Store) FetchJobs(ctx context.Context, name string, opts core.FetchOptions) ([]*core.Job, error) {
	sql := plans.FetchNextJob(s.schema, plans.JobTable, opts.Priority, opts.IncludeMetadata)

	rows, err := s.pool.Query(ctx, sql, name, opts.BatchSize)
	if err != nil {
		s.logger.Debug("fetch failed", "queue", name, "error", err)
		return nil, nil
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		job, err := scanFetchedJob(rows, opts.IncludeMetadata)
		if err != nil {
			s.logger.Debug("fetch scan failed", "queue", name, "error", err)
			return nil, nil
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		s.logger.Debug("fetch failed", "queue", name, "error", err)
		return nil, nil
	}
	return jobs, nil
}

// CompleteJobs transitions active jobs to completed with output.
func (s *Store) CompleteJobs(ctx context.Context, name string, ids []uuid.UUID, output json.RawMessage) (core.Result, error) {
	return s.transition(ctx, plans.CompleteJobs(s.schema, plans.JobTable), name, ids, output)
}

// FailJobs transitions jobs to retry or failed per their retry budget,
// forwarding terminal failures to their dead-letter queue.
func (s *Store) FailJobs(ctx context.Context, name string, ids []uuid.UUID, output json.RawMessage) (core.Result, error) {
	return s.transition(ctx, plans.FailJobsByID(s.schema, plans.JobTable), name, ids, output)
}

// CancelJobs transitions non-terminal jobs to cancelled.
func (s *Store) CancelJobs(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error) {
	return s.transition2(ctx, plans.CancelJobs(s.schema, plans.JobTable), name, ids)
}

// ResumeJobs returns terminal, unarchived jobs to created.
func (s *Store) ResumeJobs(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error) {
	return s.transition2(ctx, plans.ResumeJobs(s.schema, plans.JobTable), name, ids)
}

// DeleteJobs removes jobs from the live table.
func (s *Store) DeleteJobs(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error) {
	return s.transition2(ctx, plans.DeleteJobs(s.schema, plans.JobTable), name, ids)
}

func (s *Store) transition(ctx context.Context, sql, name string, ids []uuid.UUID, output json.RawMessage) (core.Result, error) {
	return s.runTransition(ctx, sql, ids, []any{name, ids, output})
}

func (s *Store) transition2(ctx context.Context, sql, name string, ids []uuid.UUID) (core.Result, error) {
	return s.runTransition(ctx, sql, ids, []any{name, ids})
}

func (s *Store) runTransition(ctx context.Context, sql string, ids []uuid.UUID, args []any) (core.Result, error) {
	result := core.Result{Requested: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return result, fmt.Errorf("pgboss: job transition: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return result, fmt.Errorf("pgboss: job transition scan: %w", err)
		}
		result.Jobs = append(result.Jobs, id)
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("pgboss: job transition: %w", err)
	}

	result.Affected = len(result.Jobs)
	return result, nil
}

// GetJobByID reads one job from the live table, falling back to the
// archive when includeArchive is set. Returns nil when absent.
func (s *Store) GetJobByID(ctx context.Context, name string, id uuid.UUID, includeArchive bool) (*core.Job, error) {
	job, err := s.getJob(ctx, plans.GetJobByID(s.schema), name, id)
	if err != nil {
		return nil, err
	}
	if job == nil && includeArchive {
		return s.getJob(ctx, plans.GetArchivedJobByID(s.schema), name, id)
	}
	return job, nil
}

func (s *Store) getJob(ctx context.Context, sql, name string, id uuid.UUID) (*core.Job, error) {
	rows, err := s.pool.Query(ctx, sql, name, id)
	if err != nil {
		return nil, fmt.Errorf("pgboss: get job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	job, err := scanFullJob(rows)
	if err != nil {
		return nil, fmt.Errorf("pgboss: get job: %w", err)
	}
	return job, nil
}
