package boss

import (
	"context"

	"github.com/google/uuid"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/security"
)

// Fetch claims a batch of jobs for out-of-band processing, bypassing
// the worker runtime. Claimed jobs must be completed, failed, or left
// to expire.
func (b *Boss) Fetch(ctx context.Context, name string, opts core.FetchOptions) ([]*core.Job, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return nil, err
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	opts.BatchSize = security.ClampBatchSize(opts.BatchSize)
	return b.store.FetchJobs(ctx, name, opts)
}

// Complete marks active jobs completed. The data value is stored as
// the jobs' output: objects pass through, scalars are wrapped, nil
// stores null.
func (b *Boss) Complete(ctx context.Context, name string, ids []uuid.UUID, data any) (core.Result, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return core.Result{}, err
	}
	return b.store.CompleteJobs(ctx, name, ids, core.SerializeOutput(data))
}

// Fail reports jobs as failed, scheduling retries while the retry
// budget lasts. The cause is serialized into the jobs' output.
func (b *Boss) Fail(ctx context.Context, name string, ids []uuid.UUID, cause error) (core.Result, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return core.Result{}, err
	}
	return b.store.FailJobs(ctx, name, ids, core.SerializeError(cause))
}

// Cancel moves non-terminal jobs to cancelled.
func (b *Boss) Cancel(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return core.Result{}, err
	}
	return b.store.CancelJobs(ctx, name, ids)
}

// Resume returns terminal, unarchived jobs to created.
func (b *Boss) Resume(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return core.Result{}, err
	}
	return b.store.ResumeJobs(ctx, name, ids)
}

// DeleteJob removes jobs from the live table.
func (b *Boss) DeleteJob(ctx context.Context, name string, ids []uuid.UUID) (core.Result, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return core.Result{}, err
	}
	return b.store.DeleteJobs(ctx, name, ids)
}

// GetJobByID reads one job, optionally falling back to the archive.
func (b *Boss) GetJobByID(ctx context.Context, name string, id uuid.UUID, includeArchive bool) (*core.Job, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return nil, err
	}
	return b.store.GetJobByID(ctx, name, id, includeArchive)
}
