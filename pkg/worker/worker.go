package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boris-v/pg-boss/pkg/core"
)

// ShutdownReason is the failure message attached to in-flight jobs
// when the manager shuts down ungracefully.
const ShutdownReason = "pg-boss shut down while active"

// Backend is the slice of the store a worker needs.
type Backend interface {
	FetchJobs(ctx context.Context, name string, opts core.FetchOptions) ([]*core.Job, error)
	CompleteJobs(ctx context.Context, name string, ids []uuid.UUID, output json.RawMessage) (core.Result, error)
	FailJobs(ctx context.Context, name string, ids []uuid.UUID, output json.RawMessage) (core.Result, error)
}

// Handler processes one fetched batch. Jobs arrive in fetch order.
// When the batch size is 1, the returned value becomes the job's
// output on completion; larger batches discard it.
type Handler func(ctx context.Context, jobs []*core.Job) (any, error)

// Hooks are the manager callbacks a worker reports through.
type Hooks struct {
	// OnWIP is called after a non-empty fetch; the manager throttles
	// actual event emission.
	OnWIP func()

	// OnError is called for fetch errors, handler failures and
	// timeouts, and failed completion or failure reports.
	OnError func(err error, queue string, workerID uuid.UUID)
}

// Worker polls one queue. Each worker owns its loop, its timer, and
// its in-flight batch until reporting.
type Worker struct {
	id      uuid.UUID
	name    string
	config  Config
	handler Handler
	backend Backend
	hooks   Hooks
	logger  *slog.Logger

	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu               sync.Mutex
	state            core.WorkerState
	jobs             []*core.Job
	createdOn        time.Time
	lastFetchedOn    *time.Time
	lastJobStartedOn *time.Time
	lastJobEndedOn   *time.Time
	lastError        string
	lastErrorOn      *time.Time
}

// New creates a worker for a queue. Start must be called to begin
// polling.
func New(name string, handler Handler, backend Backend, config Config, hooks Hooks) *Worker {
	return &Worker{
		id:        uuid.New(),
		name:      name,
		config:    config,
		handler:   handler,
		backend:   backend,
		hooks:     hooks,
		logger:    slog.Default(),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     core.WorkerCreated,
		createdOn: time.Now(),
	}
}

// SetLogger replaces the default logger.
func (w *Worker) SetLogger(l *slog.Logger) {
	if l != nil {
		w.logger = l
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() uuid.UUID { return w.id }

// Name returns the queue the worker polls.
func (w *Worker) Name() string { return w.name }

// Start launches the polling loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	w.state = core.WorkerActive
	w.mu.Unlock()
	go w.run(ctx)
}

// Notify wakes the worker before its next interval elapses.
func (w *Worker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Stop asks the loop to exit at its next safe point. It does not wait;
// use Done.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == core.WorkerActive {
		w.state = core.WorkerStopping
	}
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Stopped reports whether the loop has exited.
func (w *Worker) Stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Status snapshots the worker for WIP events and the status API.
func (w *Worker) Status() core.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return core.WorkerStatus{
		ID:               w.id,
		Name:             w.name,
		State:            w.state,
		Count:            len(w.jobs),
		PollingInterval:  w.config.PollingInterval,
		BatchSize:        w.config.BatchSize,
		CreatedOn:        w.createdOn,
		LastFetchedOn:    w.lastFetchedOn,
		LastJobStartedOn: w.lastJobStartedOn,
		LastJobEndedOn:   w.lastJobEndedOn,
		LastError:        w.lastError,
		LastErrorOn:      w.lastErrorOn,
	}
}

// FailWip fails the in-flight batch with the shutdown sentinel. Called
// by the manager on ungraceful shutdown after Stop.
func (w *Worker) FailWip(ctx context.Context) {
	w.mu.Lock()
	batch := w.jobs
	w.jobs = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	output := core.SerializeError(errors.New(ShutdownReason))
	if _, err := w.backend.FailJobs(ctx, w.name, ids(batch), output); err != nil {
		w.logger.Error("failed to fail in-flight jobs on shutdown", "queue", w.name, "error", err)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.state = core.WorkerStopped
		w.mu.Unlock()
		close(w.done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	// consume the immediate first tick so the first fetch is prompt
	<-timer.C

	for {
		if w.stopping() {
			return
		}

		batch, err := w.backend.FetchJobs(ctx, w.name, core.FetchOptions{
			BatchSize:       w.config.BatchSize,
			Priority:        w.config.Priority,
			IncludeMetadata: w.config.IncludeMetadata,
		})
		now := time.Now()
		w.mu.Lock()
		w.lastFetchedOn = &now
		w.mu.Unlock()

		if err != nil {
			// the store swallows fetch transport errors; anything else
			// still must not kill the loop
			w.recordError(err)
			w.reportError(err)
		} else if len(batch) > 0 {
			w.process(ctx, batch)
			// drain the queue before idling again
			w.Notify()
		}

		timer.Reset(w.config.PollingInterval)
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.notify:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

func (w *Worker) stopping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != core.WorkerActive
}

type handlerResult struct {
	value any
	err   error
}

func (w *Worker) process(ctx context.Context, batch []*core.Job) {
	started := time.Now()
	w.mu.Lock()
	w.jobs = batch
	w.lastJobStartedOn = &started
	w.mu.Unlock()

	defer func() {
		ended := time.Now()
		w.mu.Lock()
		w.jobs = nil
		w.lastJobEndedOn = &ended
		w.mu.Unlock()
	}()

	if w.hooks.OnWIP != nil {
		w.hooks.OnWIP()
	}

	deadline := maxExpire(batch)

	result := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		value, err := w.handler(ctx, batch)
		result <- handlerResult{value: value, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-result:
		if res.err != nil {
			w.fail(ctx, batch, res.err)
			return
		}
		w.complete(ctx, batch, res.value)
	case <-timer.C:
		// the handler keeps running; its eventual result is discarded
		err := fmt.Errorf("handler execution exceeded %dms", deadline.Milliseconds())
		w.fail(ctx, batch, err)
	}
}

func (w *Worker) complete(ctx context.Context, batch []*core.Job, value any) {
	var output json.RawMessage
	if len(batch) == 1 {
		output = core.SerializeOutput(value)
	}

	if _, err := w.backend.CompleteJobs(ctx, w.name, ids(batch), output); err != nil {
		w.recordError(err)
		w.reportError(err)
	}
}

func (w *Worker) fail(ctx context.Context, batch []*core.Job, cause error) {
	w.recordError(cause)
	w.reportError(cause)

	if _, err := w.backend.FailJobs(ctx, w.name, ids(batch), core.SerializeError(cause)); err != nil {
		w.logger.Error("failed to report job failure", "queue", w.name, "error", err)
		w.reportError(err)
	}
}

func (w *Worker) recordError(err error) {
	now := time.Now()
	w.mu.Lock()
	w.lastError = err.Error()
	w.lastErrorOn = &now
	w.mu.Unlock()
}

func (w *Worker) reportError(err error) {
	if w.hooks.OnError != nil {
		w.hooks.OnError(err, w.name, w.id)
	}
}

func ids(batch []*core.Job) []uuid.UUID {
	out := make([]uuid.UUID, len(batch))
	for i, j := range batch {
		out[i] = j.ID
	}
	return out
}

func maxExpire(batch []*core.Job) time.Duration {
	max := time.Duration(0)
	for _, j := range batch {
		if j.ExpireIn > max {
			max = j.ExpireIn
		}
	}
	if max <= 0 {
		max = 15 * time.Minute
	}
	return max
}
