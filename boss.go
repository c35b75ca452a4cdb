// Package pgboss provides a durable, transactional job queue backed by
// PostgreSQL. Producers enqueue named jobs with optional scheduling,
// throttling, singleton, or debounce semantics; workers poll queues,
// run handlers under a wall-clock deadline, and report the outcome.
// Delivery is at-least-once with per-queue retry, dead-lettering,
// expiration, and archival.
//
// This is the package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	settings, _ := pgboss.SettingsFromEnv()
//	b, _ := pgboss.New(ctx, settings)
//	b.Start(ctx)
//
//	b.CreateQueue(ctx, "email", pgboss.QueueOptions{})
//	b.Send(ctx, "email", map[string]string{"to": "user@example.com"})
//
//	b.Work(ctx, "email", func(ctx context.Context, jobs []*pgboss.Job) (any, error) {
//	    return nil, sendEmail(jobs[0].Data)
//	})
package pgboss

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boris-v/pg-boss/pkg/boss"
	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/worker"
)

// Core types
type (
	// Boss is the queue manager; one instance per schema.
	Boss = boss.Boss

	// Settings configures a Boss.
	Settings = boss.Settings

	// Job is a unit of work.
	Job = core.Job

	// JobInsert is one row of a bulk insert.
	JobInsert = core.JobInsert

	// JobState is the lifecycle state of a job.
	JobState = core.JobState

	// Queue is a queue's configuration row.
	Queue = core.Queue

	// QueueOptions carries queue settings for create and update.
	QueueOptions = core.QueueOptions

	// QueuePolicy selects a queue's uniqueness discipline.
	QueuePolicy = core.QueuePolicy

	// FetchOptions controls a fetch-with-lock call.
	FetchOptions = core.FetchOptions

	// Result reports the outcome of a bulk state transition.
	Result = core.Result

	// Handler processes one fetched batch.
	Handler = worker.Handler

	// Event is the interface for manager events.
	Event = core.Event

	// ErrorEvent reports a background failure.
	ErrorEvent = core.ErrorEvent

	// WIPEvent is a throttled work-in-progress snapshot.
	WIPEvent = core.WIPEvent

	// WorkerStatus snapshots one worker.
	WorkerStatus = core.WorkerStatus

	// SendOption mutates a send.
	SendOption = boss.SendOption

	// WorkerOption configures a worker.
	WorkerOption = worker.Option
)

// Job states
const (
	StateCreated   = core.StateCreated
	StateRetry     = core.StateRetry
	StateActive    = core.StateActive
	StateCompleted = core.StateCompleted
	StateCancelled = core.StateCancelled
	StateFailed    = core.StateFailed
)

// Queue policies
const (
	PolicyStandard  = core.PolicyStandard
	PolicyShort     = core.PolicyShort
	PolicySingleton = core.PolicySingleton
	PolicyStately   = core.PolicyStately
)

// Sentinel errors
var (
	ErrInvalidQueueName = core.ErrInvalidQueueName
	ErrInvalidPolicy    = core.ErrInvalidPolicy
	ErrSelfDeadLetter   = core.ErrSelfDeadLetter
	ErrQueueNotFound    = core.ErrQueueNotFound
	ErrStopped          = core.ErrStopped
)

// New connects a pool from settings and returns an unstarted Boss.
func New(ctx context.Context, settings Settings) (*Boss, error) {
	return boss.New(ctx, settings)
}

// NewWithPool builds a Boss over an embedder-owned pool.
func NewWithPool(pool *pgxpool.Pool, settings Settings) *Boss {
	return boss.NewWithPool(pool, settings)
}

// SettingsFromEnv loads Settings from the environment.
func SettingsFromEnv() (Settings, error) {
	return boss.SettingsFromEnv()
}

// Send options
var (
	WithID              = boss.WithID
	WithPriority        = boss.WithPriority
	WithStartAfter      = boss.WithStartAfter
	WithStartAfterDelay = boss.WithStartAfterDelay
	WithSingletonKey    = boss.WithSingletonKey
	WithRetryLimit      = boss.WithRetryLimit
	WithRetryDelay      = boss.WithRetryDelay
	WithRetryBackoff    = boss.WithRetryBackoff
	WithExpireInSeconds = boss.WithExpireInSeconds
	WithKeepUntil       = boss.WithKeepUntil
)

// Worker options
var (
	PollingInterval = worker.PollingInterval
	BatchSize       = worker.BatchSize
	Priority        = worker.Priority
	IncludeMetadata = worker.IncludeMetadata
)
