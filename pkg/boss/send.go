package boss

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/security"
	"github.com/boris-v/pg-boss/pkg/store"
)

// Send enqueues one job. It returns uuid.Nil with a nil error when a
// throttle, debounce, or singleton constraint absorbed the send.
func (b *Boss) Send(ctx context.Context, name string, data any, opts ...SendOption) (uuid.UUID, error) {
	var options SendOptions
	for _, opt := range opts {
		opt(&options)
	}
	return b.send(ctx, name, data, options)
}

// SendAfter enqueues a job that becomes eligible at startAfter.
func (b *Boss) SendAfter(ctx context.Context, name string, data any, startAfter time.Time, opts ...SendOption) (uuid.UUID, error) {
	opts = append(opts, WithStartAfter(startAfter))
	return b.Send(ctx, name, data, opts...)
}

// SendAfterDelay enqueues a job that becomes eligible after delay.
func (b *Boss) SendAfterDelay(ctx context.Context, name string, data any, delay time.Duration, opts ...SendOption) (uuid.UUID, error) {
	opts = append(opts, WithStartAfterDelay(delay))
	return b.Send(ctx, name, data, opts...)
}

// SendThrottled enqueues at most one job per key per time bucket of
// the given width. Collisions within the current bucket are dropped
// silently: the call returns uuid.Nil, nil.
func (b *Boss) SendThrottled(ctx context.Context, name string, data any, seconds int, key string, opts ...SendOption) (uuid.UUID, error) {
	opts = append(opts, WithSingletonSeconds(seconds), WithSingletonKey(key))
	return b.Send(ctx, name, data, opts...)
}

// SendDebounced behaves like SendThrottled, except a collision within
// the current bucket retries once into the next bucket, so the last
// send of a burst survives at the following window boundary. Returns
// the retry's id, or uuid.Nil when the next bucket is occupied too.
func (b *Boss) SendDebounced(ctx context.Context, name string, data any, seconds int, key string, opts ...SendOption) (uuid.UUID, error) {
	var options SendOptions
	for _, opt := range opts {
		opt(&options)
	}
	options.SingletonSeconds = &seconds
	options.SingletonKey = &key

	id, err := b.send(ctx, name, data, options)
	if err != nil || id != uuid.Nil {
		return id, err
	}

	// first bucket occupied: place the job at the next boundary
	delay := b.secondsUntilNextSlot(seconds)
	startAfter := time.Now().Add(time.Duration(delay) * time.Second)
	options.StartAfter = &startAfter
	options.singletonOffset = seconds

	return b.send(ctx, name, data, options)
}

// secondsUntilNextSlot computes the delay to the next bucket boundary
// from the clock-skew-adjusted now. The result is at least 1, plus one
// extra second for windows over a second to keep a send issued right
// at a boundary from aliasing back into the occupied bucket.
func (b *Boss) secondsUntilNextSlot(seconds int) int {
	if seconds < 1 {
		return 1
	}
	now := time.Now().Add(b.clockSkew).Unix()
	remaining := seconds - int(now%int64(seconds))
	if remaining < 1 {
		remaining = 1
	}
	if seconds > 1 {
		remaining++
	}
	return remaining
}

func (b *Boss) send(ctx context.Context, name string, data any, options SendOptions) (uuid.UUID, error) {
	if b.isStopped() {
		return uuid.Nil, core.ErrStopped
	}
	if err := security.ValidateQueueName(name); err != nil {
		return uuid.Nil, err
	}

	raw, err := marshalData(data)
	if err != nil {
		return uuid.Nil, err
	}
	if err := security.ValidateData(raw); err != nil {
		return uuid.Nil, err
	}

	if _, err := b.resolveQueue(ctx, name); err != nil {
		return uuid.Nil, err
	}

	return b.store.InsertJob(ctx, b.insertParams(name, raw, options))
}

// Insert enqueues a batch atomically, honoring per-row overrides. It
// returns nil ids with a nil error when a uniqueness constraint
// absorbed any row and the batch rolled back.
func (b *Boss) Insert(ctx context.Context, name string, jobs []core.JobInsert) ([]uuid.UUID, error) {
	if b.isStopped() {
		return nil, core.ErrStopped
	}
	if err := security.ValidateQueueName(name); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, core.ErrNotArray
	}
	for _, j := range jobs {
		if err := security.ValidateData(j.Data); err != nil {
			return nil, err
		}
	}

	if _, err := b.resolveQueue(ctx, name); err != nil {
		return nil, err
	}

	return b.store.InsertJobs(ctx, name, jobs, b.defaultParams())
}

func (b *Boss) insertParams(name string, data []byte, options SendOptions) store.InsertParams {
	p := b.defaultParams()
	p.ID = options.ID
	p.Name = name
	p.Data = data
	p.Priority = options.Priority
	p.StartAfter = options.StartAfter
	p.SingletonKey = options.SingletonKey
	p.SingletonSeconds = options.SingletonSeconds
	p.SingletonOffset = options.singletonOffset
	p.ExpireSeconds = options.ExpireInSeconds
	p.KeepUntil = options.KeepUntil
	p.RetryLimit = options.RetryLimit
	p.RetryDelay = options.RetryDelay
	p.RetryBackoff = options.RetryBackoff
	return p
}

// defaultParams carries the manager-level fallbacks the insert plan
// applies after queue configuration.
func (b *Boss) defaultParams() store.InsertParams {
	expire := b.settings.ExpireInSeconds
	retention := b.settings.RetentionMinutes
	retryLimit := b.settings.RetryLimit
	retryDelay := b.settings.RetryDelay
	retryBackoff := b.settings.RetryBackoff
	return store.InsertParams{
		ExpireDefault:    &expire,
		RetentionDefault: &retention,
		RetryLimitDef:    &retryLimit,
		RetryDelayDef:    &retryDelay,
		RetryBackoffDef:  &retryBackoff,
	}
}
