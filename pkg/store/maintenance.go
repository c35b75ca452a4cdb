package store

import (
	"context"
	"fmt"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/plans"
)

// ArchiveJobs moves terminal jobs past their retention cut-off into
// the archive, then drops archive rows older than deleteAfterSeconds.
// Returns the number of rows archived.
func (s *Store) ArchiveJobs(ctx context.Context, completedAfterSeconds, deleteAfterSeconds int) (int64, error) {
	tag, err := s.pool.Exec(ctx, plans.ArchiveJobs(s.schema), completedAfterSeconds)
	if err != nil {
		return 0, fmt.Errorf("pgboss: archive: %w", err)
	}

	if _, err := s.pool.Exec(ctx, plans.DropArchivedJobs(s.schema), deleteAfterSeconds); err != nil {
		return tag.RowsAffected(), fmt.Errorf("pgboss: drop archived: %w", err)
	}

	if _, err := s.pool.Exec(ctx, plans.SetMaintenanceTime(s.schema)); err != nil {
		return tag.RowsAffected(), fmt.Errorf("pgboss: stamp maintenance: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireJobs fails every active job whose claim aged past its
// deadline. Returns the number of rows expired.
func (s *Store) ExpireJobs(ctx context.Context) (int64, error) {
	rows, err := s.pool.Query(ctx, plans.FailJobsByTimeout(s.schema, plans.JobTable))
	if err != nil {
		return 0, fmt.Errorf("pgboss: expire: %w", err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

// CountStates aggregates live job counts per queue and state and
// stamps the monitor timestamp.
func (s *Store) CountStates(ctx context.Context) (core.StateCounts, error) {
	counts := core.StateCounts{
		Queues: make(map[string]map[core.JobState]int),
		All:    make(map[core.JobState]int),
	}

	rows, err := s.pool.Query(ctx, plans.CountStates(s.schema))
	if err != nil {
		return counts, fmt.Errorf("pgboss: count states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name *string
		var state string
		var count int
		if err := rows.Scan(&name, &state, &count); err != nil {
			return counts, fmt.Errorf("pgboss: count states: %w", err)
		}
		if name == nil {
			counts.All[core.JobState(state)] = count
			continue
		}
		if counts.Queues[*name] == nil {
			counts.Queues[*name] = make(map[core.JobState]int)
		}
		counts.Queues[*name][core.JobState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return counts, err
	}

	if _, err := s.pool.Exec(ctx, plans.SetMonitorTime(s.schema)); err != nil {
		return counts, fmt.Errorf("pgboss: stamp monitor: %w", err)
	}
	return counts, nil
}
