package boss

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/security"
	"github.com/boris-v/pg-boss/pkg/worker"
)

// wipThrottle bounds WIP event emission.
const wipThrottle = 2 * time.Second

// Work registers a worker polling a queue with the given handler and
// returns its id. Each call adds an independent worker; several may
// poll the same queue.
func (b *Boss) Work(ctx context.Context, name string, handler worker.Handler, opts ...worker.Option) (uuid.UUID, error) {
	if b.isStopped() {
		return uuid.Nil, core.ErrStopped
	}
	if err := security.ValidateQueueName(name); err != nil {
		return uuid.Nil, err
	}
	if handler == nil {
		return uuid.Nil, core.ErrMissingArgument
	}

	config := worker.DefaultConfig()
	config.PollingInterval = b.settings.PollingInterval
	for _, opt := range opts {
		opt.Apply(&config)
	}

	backend := worker.Backend(b.store)
	if b.settings.testThrowWorker {
		backend = &throwingBackend{Backend: backend}
	}

	w := worker.New(name, handler, backend, config, worker.Hooks{
		OnWIP:   b.emitWIP,
		OnError: b.emitError,
	})
	w.SetLogger(b.logger)

	b.workersMu.Lock()
	b.workers[w.ID()] = w
	b.workersMu.Unlock()

	w.Start(ctx)
	return w.ID(), nil
}

// OffWork stops and removes every worker polling a queue, waiting for
// each to reach stopped.
func (b *Boss) OffWork(ctx context.Context, name string) error {
	if name == "" {
		return core.ErrMissingArgument
	}

	b.workersMu.Lock()
	var stopping []*worker.Worker
	for id, w := range b.workers {
		if w.Name() == name {
			stopping = append(stopping, w)
			delete(b.workers, id)
		}
	}
	b.workersMu.Unlock()

	if len(stopping) == 0 {
		return core.ErrWorkerNotFound
	}
	return b.waitForWorkers(ctx, stopping)
}

// OffWorkByID stops and removes one worker.
func (b *Boss) OffWorkByID(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return core.ErrMissingArgument
	}

	b.workersMu.Lock()
	w, ok := b.workers[id]
	if ok {
		delete(b.workers, id)
	}
	b.workersMu.Unlock()

	if !ok {
		return core.ErrWorkerNotFound
	}
	return b.waitForWorkers(ctx, []*worker.Worker{w})
}

func (b *Boss) waitForWorkers(ctx context.Context, workers []*worker.Worker) error {
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// NotifyWorker wakes a worker before its next polling interval.
// Unknown ids are ignored.
func (b *Boss) NotifyWorker(id uuid.UUID) {
	b.workersMu.Lock()
	w, ok := b.workers[id]
	b.workersMu.Unlock()
	if ok {
		w.Notify()
	}
}

// Workers snapshots all registered workers.
func (b *Boss) Workers() []core.WorkerStatus {
	b.workersMu.Lock()
	defer b.workersMu.Unlock()

	statuses := make([]core.WorkerStatus, 0, len(b.workers))
	for _, w := range b.workers {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

// emitWIP publishes a work-in-progress snapshot, throttled to one per
// two seconds with a trailing emission so the final state of a burst
// is always observed. Internal queues are excluded.
func (b *Boss) emitWIP() {
	b.eventsMu.Lock()
	since := time.Since(b.lastWIP)
	if since < wipThrottle {
		if b.wipTimer == nil {
			b.wipTimer = time.AfterFunc(wipThrottle-since, func() {
				b.eventsMu.Lock()
				b.wipTimer = nil
				b.eventsMu.Unlock()
				b.emitWIP()
			})
		}
		b.eventsMu.Unlock()
		return
	}
	b.lastWIP = time.Now()
	b.eventsMu.Unlock()

	var busy []core.WorkerStatus
	for _, st := range b.Workers() {
		if st.Count == 0 || strings.HasPrefix(st.Name, security.ReservedPrefix) {
			continue
		}
		busy = append(busy, st)
	}

	b.emit(&core.WIPEvent{Workers: busy, Timestamp: time.Now()})
}

// throwingBackend is the __test__throw_worker hook: the first fetch
// fails so tests can observe the worker's error path.
type throwingBackend struct {
	worker.Backend
	thrown bool
}

func (tb *throwingBackend) FetchJobs(ctx context.Context, name string, opts core.FetchOptions) ([]*core.Job, error) {
	if !tb.thrown {
		tb.thrown = true
		return nil, errors.New("__test__throw_worker")
	}
	return tb.Backend.FetchJobs(ctx, name, opts)
}
