package boss

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/store"
	"github.com/boris-v/pg-boss/pkg/worker"
)

// queueCacheInterval is how often the queue-metadata cache refreshes.
const queueCacheInterval = 60 * time.Second

// Store is the persistence surface the manager drives. *store.Store
// implements it; tests substitute mocks.
type Store interface {
	worker.Backend

	InsertJob(ctx context.Context, p store.InsertParams) (uuid.UUID, error)
	InsertJobs(ctx context.Context, name string, jobs []core.JobInsert, defaults store.InsertParams) ([]uuid.UUID, error)
	CancelJobs(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error)
	ResumeJobs(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error)
	DeleteJobs(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error)
	GetJobByID(ctx context.Context, name string, id uuid.UUID, includeArchive bool) (*core.Job, error)

	CreateQueue(ctx context.Context, name string, opts core.QueueOptions) error
	UpdateQueue(ctx context.Context, name string, opts core.QueueOptions) error
	DeleteQueue(ctx context.Context, name string) error
	PurgeQueue(ctx context.Context, name string) error
	GetQueue(ctx context.Context, name string) (*core.Queue, error)
	GetQueues(ctx context.Context) ([]*core.Queue, error)
	GetQueueSize(ctx context.Context, name string, before *time.Time) (int, error)

	Subscribe(ctx context.Context, event, name string) error
	Unsubscribe(ctx context.Context, event, name string) error
	GetQueuesForEvent(ctx context.Context, event string) ([]string, error)

	ArchiveJobs(ctx context.Context, completedAfterSeconds, deleteAfterSeconds int) (int64, error)
	ExpireJobs(ctx context.Context) (int64, error)
	CountStates(ctx context.Context) (core.StateCounts, error)

	MigrateToLatest(ctx context.Context) error
	Now(ctx context.Context) (time.Time, error)
}

// Boss is the manager: one instance per schema. A process may host
// several against different schemas.
type Boss struct {
	settings Settings
	store    Store
	pool     *pgxpool.Pool // nil when the embedder owns the pool
	logger   *slog.Logger

	cron      *cron.Cron
	clockSkew time.Duration

	mu       sync.Mutex
	started  bool
	stopped  bool
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	workersMu sync.Mutex
	workers   map[uuid.UUID]*worker.Worker

	queuesMu sync.RWMutex
	queues   map[string]*core.Queue

	eventsMu  sync.Mutex
	eventSubs []chan core.Event
	lastWIP   time.Time
	wipTimer  *time.Timer
}

// New connects a pool from settings and returns an unstarted Boss.
func New(ctx context.Context, settings Settings) (*Boss, error) {
	settings.applyDefaults()
	if settings.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: database url", core.ErrMissingArgument)
	}

	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgboss: connect: %w", err)
	}

	b := NewWithStore(store.New(pool, settings.Schema), settings)
	b.pool = pool
	return b, nil
}

// NewWithPool builds a Boss over an embedder-owned pool; Stop leaves
// the pool open.
func NewWithPool(pool *pgxpool.Pool, settings Settings) *Boss {
	settings.applyDefaults()
	return NewWithStore(store.New(pool, settings.Schema), settings)
}

// NewWithStore builds a Boss over any Store implementation.
func NewWithStore(s Store, settings Settings) *Boss {
	settings.applyDefaults()
	return &Boss{
		settings: settings,
		store:    s,
		logger:   slog.Default(),
		workers:  make(map[uuid.UUID]*worker.Worker),
		queues:   make(map[string]*core.Queue),
	}
}

// SetLogger replaces the default logger.
func (b *Boss) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Start migrates the schema (unless disabled), measures clock skew,
// and launches the cache refresher and maintenance schedule. Start is
// idempotent; a stopped Boss cannot restart.
func (b *Boss) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return core.ErrStopped
	}
	if b.started {
		return nil
	}

	if b.settings.SkipMigration {
		// the schema must already be current
	} else if err := b.store.MigrateToLatest(ctx); err != nil {
		return err
	}

	if dbNow, err := b.store.Now(ctx); err == nil {
		b.clockSkew = time.Until(dbNow)
	} else {
		b.logger.Warn("could not measure database clock skew", "error", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	b.bgCancel = cancel

	b.bgWG.Add(1)
	go b.refreshQueueCache(bgCtx)

	b.cron = cron.New()
	_, err := b.cron.AddFunc(
		fmt.Sprintf("@every %ds", b.settings.MaintenanceIntervalSeconds),
		func() { b.maintain(bgCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("pgboss: schedule maintenance: %w", err)
	}
	if b.settings.MonitorStateIntervalSeconds > 0 {
		_, err = b.cron.AddFunc(
			fmt.Sprintf("@every %ds", b.settings.MonitorStateIntervalSeconds),
			func() { b.monitor(bgCtx) })
		if err != nil {
			cancel()
			return fmt.Errorf("pgboss: schedule monitor: %w", err)
		}
	}
	b.cron.Start()

	b.started = true
	return nil
}

// Stop shuts the manager down: no new work is accepted, every worker
// exits at its next safe point, and the call waits for them bounded by
// StopTimeout. With graceful false, in-flight jobs are first failed
// with the shutdown sentinel; the bounded wait for workers applies in
// both modes.
func (b *Boss) Stop(ctx context.Context, graceful bool) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	var errs error

	if started {
		b.cron.Stop()
	}

	b.workersMu.Lock()
	workers := make([]*worker.Worker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.workersMu.Unlock()

	for _, w := range workers {
		w.Stop()
	}

	if !graceful {
		for _, w := range workers {
			w.FailWip(ctx)
		}
	}

	deadline := time.After(b.settings.StopTimeout)
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-deadline:
			errs = multierr.Append(errs, fmt.Errorf("pgboss: worker %s did not stop in time", w.ID()))
		case <-ctx.Done():
			errs = multierr.Append(errs, ctx.Err())
		}
	}

	b.workersMu.Lock()
	b.workers = make(map[uuid.UUID]*worker.Worker)
	b.workersMu.Unlock()

	if started {
		b.bgCancel()
		b.bgWG.Wait()
	}

	if b.pool != nil {
		b.pool.Close()
	}
	return errs
}

func (b *Boss) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// SubscribeEvents returns a channel receiving manager events (error,
// WIP, monitor). Slow consumers drop events rather than block the
// manager.
func (b *Boss) SubscribeEvents(buffer int) <-chan core.Event {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan core.Event, buffer)
	b.eventsMu.Lock()
	b.eventSubs = append(b.eventSubs, ch)
	b.eventsMu.Unlock()
	return ch
}

func (b *Boss) emit(event core.Event) {
	b.eventsMu.Lock()
	subs := b.eventSubs
	b.eventsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Boss) emitError(err error, queue string, workerID uuid.UUID) {
	b.emit(&core.ErrorEvent{
		Err:       err,
		Queue:     queue,
		Worker:    workerID.String(),
		Timestamp: time.Now(),
	})
}

// marshalData normalizes send payloads: raw JSON passes through,
// anything else is marshalled.
func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("pgboss: marshal job data: %w", err)
		}
		return raw, nil
	}
}
