package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a job. The declaration order is
// the comparison order used by the database enum: every partial-index
// predicate and fetch filter compares against this total order.
type JobState string

const (
	StateCreated   JobState = "created"
	StateRetry     JobState = "retry"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateCancelled JobState = "cancelled"
	StateFailed    JobState = "failed"
)

// States lists all job states in enum order.
func States() []JobState {
	return []JobState{StateCreated, StateRetry, StateActive, StateCompleted, StateCancelled, StateFailed}
}

// Terminal reports whether s is a terminal state (completed or later).
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// QueuePolicy selects the uniqueness discipline a queue enforces. The
// policy decides which unique partial indexes are created on the
// queue's partition.
type QueuePolicy string

const (
	// PolicyStandard places no uniqueness constraint beyond throttle keys.
	PolicyStandard QueuePolicy = "standard"

	// PolicyShort allows at most one job in state created per queue.
	PolicyShort QueuePolicy = "short"

	// PolicySingleton allows at most one job in state active per queue.
	PolicySingleton QueuePolicy = "singleton"

	// PolicyStately allows at most one job per (queue, state) for
	// states up to and including active.
	PolicyStately QueuePolicy = "stately"
)

// ValidPolicy reports whether p is a recognized queue policy.
func ValidPolicy(p QueuePolicy) bool {
	switch p {
	case PolicyStandard, PolicyShort, PolicySingleton, PolicyStately:
		return true
	}
	return false
}

// Job is a unit of work stored in a queue's partition.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Priority     int             `json:"priority"`
	Data         json.RawMessage `json:"data"`
	State        JobState        `json:"state"`
	RetryLimit   int             `json:"retryLimit"`
	RetryCount   int             `json:"retryCount"`
	RetryDelay   int             `json:"retryDelay"`
	RetryBackoff bool            `json:"retryBackoff"`
	StartAfter   time.Time       `json:"startAfter"`
	StartedOn    *time.Time      `json:"startedOn,omitempty"`
	SingletonKey *string         `json:"singletonKey,omitempty"`
	SingletonOn  *time.Time      `json:"singletonOn,omitempty"`
	ExpireIn     time.Duration   `json:"expireIn"`
	CreatedOn    time.Time       `json:"createdOn"`
	CompletedOn  *time.Time      `json:"completedOn,omitempty"`
	KeepUntil    time.Time       `json:"keepUntil"`
	Output       json.RawMessage `json:"output,omitempty"`
	DeadLetter   *string         `json:"deadLetter,omitempty"`
	Policy       QueuePolicy     `json:"policy,omitempty"`

	// ArchivedOn is set only on rows read back from the archive.
	ArchivedOn *time.Time `json:"archivedOn,omitempty"`
}

// JobInsert is one row of a bulk insert. Nil fields defer to the
// queue's configuration and then to the manager defaults.
type JobInsert struct {
	ID           uuid.UUID       `json:"id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	RetryLimit   *int            `json:"retryLimit,omitempty"`
	RetryDelay   *int            `json:"retryDelay,omitempty"`
	RetryBackoff *bool           `json:"retryBackoff,omitempty"`
	StartAfter   *time.Time      `json:"startAfter,omitempty"`
	SingletonKey *string         `json:"singletonKey,omitempty"`
	ExpireIn     *int            `json:"expireInSeconds,omitempty"`
	KeepUntil    *time.Time      `json:"keepUntil,omitempty"`
}

// Result reports the outcome of a bulk state transition.
type Result struct {
	Requested int         `json:"requested"`
	Affected  int         `json:"affected"`
	Jobs      []uuid.UUID `json:"jobs,omitempty"`
}

// Queue is the configuration row controlling a queue's policy, retry
// defaults, expiration, retention and dead-lettering.
type Queue struct {
	Name             string      `json:"name"`
	Policy           QueuePolicy `json:"policy"`
	RetryLimit       *int        `json:"retryLimit,omitempty"`
	RetryDelay       *int        `json:"retryDelay,omitempty"`
	RetryBackoff     *bool       `json:"retryBackoff,omitempty"`
	ExpireSeconds    *int        `json:"expireInSeconds,omitempty"`
	RetentionMinutes *int        `json:"retentionMinutes,omitempty"`
	DeadLetter       *string     `json:"deadLetter,omitempty"`
	PartitionName    string      `json:"-"`
	CreatedOn        time.Time   `json:"createdOn"`
	UpdatedOn        time.Time   `json:"updatedOn"`
}

// QueueOptions carries the queue settings for create and update.
type QueueOptions struct {
	Policy           QueuePolicy
	RetryLimit       *int
	RetryDelay       *int
	RetryBackoff     *bool
	ExpireSeconds    *int
	RetentionMinutes *int
	DeadLetter       *string
}

// FetchOptions controls a fetch-with-lock call.
type FetchOptions struct {
	BatchSize       int
	Priority        bool
	IncludeMetadata bool
}

// Subscription links a published event to a destination queue.
type Subscription struct {
	Event string `json:"event"`
	Name  string `json:"name"`
}

// StateCounts is a snapshot of job counts by state, produced by the
// monitor sweep.
type StateCounts struct {
	Queues map[string]map[JobState]int `json:"queues"`
	All    map[JobState]int            `json:"all"`
}
