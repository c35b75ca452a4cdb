package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/plans"
)

// CreateQueue inserts the queue row and creates its partition with the
// policy-appropriate indexes. The row insert and the DDL run in
// sequence; a failed partition create rolls the metadata row back.
func (s *Store) CreateQueue(ctx context.Context, name string, opts core.QueueOptions) error {
	partition := plans.PartitionTable(name)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgboss: create queue: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, plans.InsertQueue(s.schema),
		name, string(opts.Policy), opts.RetryLimit, opts.RetryDelay, opts.RetryBackoff,
		opts.ExpireSeconds, opts.RetentionMinutes, opts.DeadLetter, partition)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pgboss: queue %q already exists", name)
		}
		return fmt.Errorf("pgboss: create queue: %w", err)
	}

	for _, stmt := range plans.CreatePartition(s.schema, name, opts.Policy) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgboss: create queue partition: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgboss: create queue: %w", err)
	}
	return nil
}

// UpdateQueue replaces the queue's settings.
func (s *Store) UpdateQueue(ctx context.Context, name string, opts core.QueueOptions) error {
	tag, err := s.pool.Exec(ctx, plans.UpdateQueue(s.schema),
		name, string(opts.Policy), opts.RetryLimit, opts.RetryDelay, opts.RetryBackoff,
		opts.ExpireSeconds, opts.RetentionMinutes, opts.DeadLetter)
	if err != nil {
		return fmt.Errorf("pgboss: update queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrQueueNotFound
	}
	return nil
}

// DeleteQueue removes the metadata row and drops the queue's
// partition. Dropping the partition is best effort once the row is
// gone: an interrupted drop leaves an orphan table, not a corrupt queue.
func (s *Store) DeleteQueue(ctx context.Context, name string) error {
	var partition string
	err := s.pool.QueryRow(ctx, plans.DeleteQueue(s.schema), name).Scan(&partition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrQueueNotFound
		}
		return fmt.Errorf("pgboss: delete queue: %w", err)
	}

	if err := s.execStatements(ctx, plans.DropPartition(s.schema, partition)); err != nil {
		s.logger.Warn("dropping queue partition failed", "queue", name, "partition", partition, "error", err)
	}
	return nil
}

// PurgeQueue empties a queue's partition.
func (s *Store) PurgeQueue(ctx context.Context, name string) error {
	q, err := s.GetQueue(ctx, name)
	if err != nil {
		return err
	}
	if q == nil {
		return core.ErrQueueNotFound
	}
	if _, err := s.pool.Exec(ctx, plans.PurgeQueue(s.schema, q.PartitionName)); err != nil {
		return fmt.Errorf("pgboss: purge queue: %w", err)
	}
	return nil
}

// GetQueue reads one queue row, nil when absent.
func (s *Store) GetQueue(ctx context.Context, name string) (*core.Queue, error) {
	rows, err := s.pool.Query(ctx, plans.GetQueue(s.schema), name)
	if err != nil {
		return nil, fmt.Errorf("pgboss: get queue: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	q, err := scanQueue(rows)
	if err != nil {
		return nil, fmt.Errorf("pgboss: get queue: %w", err)
	}
	return q, nil
}

// GetQueues reads all queue rows.
func (s *Store) GetQueues(ctx context.Context) ([]*core.Queue, error) {
	rows, err := s.pool.Query(ctx, plans.GetQueues(s.schema))
	if err != nil {
		return nil, fmt.Errorf("pgboss: get queues: %w", err)
	}
	defer rows.Close()

	var queues []*core.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, fmt.Errorf("pgboss: get queues: %w", err)
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// GetQueueSize counts non-terminal jobs, optionally only those
// eligible before a cut-off.
func (s *Store) GetQueueSize(ctx context.Context, name string, before *time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, plans.GetQueueSize(s.schema), name, before).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pgboss: queue size: %w", err)
	}
	return count, nil
}
