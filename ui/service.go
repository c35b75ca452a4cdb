// Package ui exposes a read-only HTTP status surface over a running
// Boss: queues, jobs, and workers. Per-state job counts are not served.
package ui

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boris-v/pg-boss/pkg/core"
)

// Service is the slice of the manager the handler reads from.
// *boss.Boss satisfies it.
type Service interface {
	GetQueues(ctx context.Context) ([]*core.Queue, error)
	GetQueue(ctx context.Context, name string) (*core.Queue, error)
	GetQueueSize(ctx context.Context, name string, before *time.Time) (int, error)
	GetJobByID(ctx context.Context, name string, id uuid.UUID, includeArchive bool) (*core.Job, error)
	Workers() []core.WorkerStatus
}

// queueView is a queue row with its live size.
type queueView struct {
	*core.Queue
	Size int `json:"size"`
}
