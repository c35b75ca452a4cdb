package core

import (
	"time"

	"github.com/google/uuid"
)

// Event is the interface for all manager events.
type Event interface {
	eventMarker()
}

// ErrorEvent is emitted when a background operation fails: a handler
// throws, a fetch loop errors, or a maintenance sweep cannot run.
type ErrorEvent struct {
	Err       error
	Queue     string
	Worker    string
	Timestamp time.Time
}

func (*ErrorEvent) eventMarker() {}

// WorkerState is the lifecycle state of a worker.
type WorkerState string

const (
	WorkerCreated  WorkerState = "created"
	WorkerActive   WorkerState = "active"
	WorkerStopping WorkerState = "stopping"
	WorkerStopped  WorkerState = "stopped"
)

// WorkerStatus is a point-in-time snapshot of one worker, carried by
// WIP events and the status API.
type WorkerStatus struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	State            WorkerState   `json:"state"`
	Count            int           `json:"count"`
	PollingInterval  time.Duration `json:"pollingInterval"`
	BatchSize        int           `json:"batchSize"`
	CreatedOn        time.Time     `json:"createdOn"`
	LastFetchedOn    *time.Time    `json:"lastFetchedOn,omitempty"`
	LastJobStartedOn *time.Time    `json:"lastJobStartedOn,omitempty"`
	LastJobEndedOn   *time.Time    `json:"lastJobEndedOn,omitempty"`
	LastError        string        `json:"lastError,omitempty"`
	LastErrorOn      *time.Time    `json:"lastErrorOn,omitempty"`
}

// WIPEvent is a work-in-progress snapshot of busy workers. Emission is
// throttled by the manager to at most one every two seconds.
type WIPEvent struct {
	Workers   []WorkerStatus
	Timestamp time.Time
}

func (*WIPEvent) eventMarker() {}

// MonitorStatesEvent carries the periodic per-state job counts.
type MonitorStatesEvent struct {
	States    StateCounts
	Timestamp time.Time
}

func (*MonitorStatesEvent) eventMarker() {}
