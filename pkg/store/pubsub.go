package store

import (
	"context"
	"fmt"

	"github.com/boris-v/pg-boss/pkg/plans"
)

// Subscribe upserts a subscription of a queue to an event.
func (s *Store) Subscribe(ctx context.Context, event, name string) error {
	if _, err := s.pool.Exec(ctx, plans.Subscribe(s.schema), event, name); err != nil {
		return fmt.Errorf("pgboss: subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(ctx context.Context, event, name string) error {
	if _, err := s.pool.Exec(ctx, plans.Unsubscribe(s.schema), event, name); err != nil {
		return fmt.Errorf("pgboss: unsubscribe: %w", err)
	}
	return nil
}

// GetQueuesForEvent resolves the queues subscribed to an event.
func (s *Store) GetQueuesForEvent(ctx context.Context, event string) ([]string, error) {
	rows, err := s.pool.Query(ctx, plans.GetQueuesForEvent(s.schema), event)
	if err != nil {
		return nil, fmt.Errorf("pgboss: queues for event: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("pgboss: queues for event: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
