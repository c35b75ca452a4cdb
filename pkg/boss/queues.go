package boss

import (
	"context"
	"fmt"
	"time"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/security"
)

// CreateQueue registers a queue and creates its partition. The queue
// must exist before jobs are sent to it.
func (b *Boss) CreateQueue(ctx context.Context, name string, opts core.QueueOptions) error {
	if b.isStopped() {
		return core.ErrStopped
	}
	if err := security.ValidateQueueName(name); err != nil {
		return err
	}
	if opts.Policy == "" {
		opts.Policy = core.PolicyStandard
	}
	if !core.ValidPolicy(opts.Policy) {
		return fmt.Errorf("%w: %q", core.ErrInvalidPolicy, opts.Policy)
	}
	if opts.DeadLetter != nil {
		if err := security.ValidateQueueName(*opts.DeadLetter); err != nil {
			return err
		}
		if *opts.DeadLetter == name {
			return core.ErrSelfDeadLetter
		}
	}
	if opts.RetryLimit != nil {
		clamped := security.ClampRetryLimit(*opts.RetryLimit)
		opts.RetryLimit = &clamped
	}

	if err := b.store.CreateQueue(ctx, name, opts); err != nil {
		return err
	}
	b.cacheDrop(name)
	return nil
}

// UpdateQueue replaces a queue's settings.
func (b *Boss) UpdateQueue(ctx context.Context, name string, opts core.QueueOptions) error {
	if b.isStopped() {
		return core.ErrStopped
	}
	if err := security.ValidateQueueName(name); err != nil {
		return err
	}
	if opts.Policy == "" {
		opts.Policy = core.PolicyStandard
	}
	if !core.ValidPolicy(opts.Policy) {
		return fmt.Errorf("%w: %q", core.ErrInvalidPolicy, opts.Policy)
	}
	if opts.DeadLetter != nil && *opts.DeadLetter == name {
		return core.ErrSelfDeadLetter
	}

	if err := b.store.UpdateQueue(ctx, name, opts); err != nil {
		return err
	}
	b.cacheDrop(name)
	return nil
}

// DeleteQueue drops the queue's partition and its metadata row.
func (b *Boss) DeleteQueue(ctx context.Context, name string) error {
	if err := security.ValidateQueueName(name); err != nil {
		return err
	}
	if err := b.store.DeleteQueue(ctx, name); err != nil {
		return err
	}
	b.cacheDrop(name)
	return nil
}

// PurgeQueue empties a queue without touching its configuration.
func (b *Boss) PurgeQueue(ctx context.Context, name string) error {
	if err := security.ValidateQueueName(name); err != nil {
		return err
	}
	return b.store.PurgeQueue(ctx, name)
}

// GetQueue reads a queue's configuration, nil when absent.
func (b *Boss) GetQueue(ctx context.Context, name string) (*core.Queue, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return nil, err
	}
	return b.store.GetQueue(ctx, name)
}

// GetQueues lists all queues.
func (b *Boss) GetQueues(ctx context.Context) ([]*core.Queue, error) {
	return b.store.GetQueues(ctx)
}

// GetQueueSize counts non-terminal jobs; Before restricts the count to
// jobs eligible before the cut-off.
func (b *Boss) GetQueueSize(ctx context.Context, name string, before *time.Time) (int, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return 0, err
	}
	return b.store.GetQueueSize(ctx, name, before)
}

// resolveQueue reads a queue from the cache, filling lazily on miss.
// A stale hit is acceptable: the cache refreshes every minute and
// deletion is best effort.
func (b *Boss) resolveQueue(ctx context.Context, name string) (*core.Queue, error) {
	b.queuesMu.RLock()
	q, ok := b.queues[name]
	b.queuesMu.RUnlock()
	if ok {
		return q, nil
	}

	q, err := b.store.GetQueue(ctx, name)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("%w: %q", core.ErrQueueNotFound, name)
	}

	b.queuesMu.Lock()
	b.queues[name] = q
	b.queuesMu.Unlock()
	return q, nil
}

func (b *Boss) cacheDrop(name string) {
	b.queuesMu.Lock()
	delete(b.queues, name)
	b.queuesMu.Unlock()
}

// refreshQueueCache replaces the metadata cache once a minute until
// shutdown. Refresh failures surface as error events, never crashes.
func (b *Boss) refreshQueueCache(ctx context.Context) {
	defer b.bgWG.Done()

	ticker := time.NewTicker(queueCacheInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queues, err := b.store.GetQueues(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Error("queue cache refresh failed", "error", err)
					b.emit(&core.ErrorEvent{Err: err, Timestamp: time.Now()})
				}
				continue
			}

			fresh := make(map[string]*core.Queue, len(queues))
			for _, q := range queues {
				fresh[q.Name] = q
			}
			b.queuesMu.Lock()
			b.queues = fresh
			b.queuesMu.Unlock()
		}
	}
}
