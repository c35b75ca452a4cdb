package boss

import (
	"context"
	"time"

	"github.com/boris-v/pg-boss/pkg/core"
)

// maintain runs one sweep: expire overdue active jobs, then archive
// terminal jobs past retention and trim the archive. Failures surface
// as error events; the schedule keeps running.
func (b *Boss) maintain(ctx context.Context) {
	if expired, err := b.store.ExpireJobs(ctx); err != nil {
		b.logger.Error("expiration sweep failed", "error", err)
		b.emit(&core.ErrorEvent{Err: err, Timestamp: time.Now()})
	} else if expired > 0 {
		b.logger.Info("expired jobs", "count", expired)
	}

	archived, err := b.store.ArchiveJobs(ctx,
		b.settings.ArchiveCompletedAfterSeconds,
		b.settings.DeleteArchivedAfterSeconds)
	if err != nil {
		b.logger.Error("archive sweep failed", "error", err)
		b.emit(&core.ErrorEvent{Err: err, Timestamp: time.Now()})
		return
	}
	if archived > 0 {
		b.logger.Debug("archived jobs", "count", archived)
	}
}

// monitor publishes per-state job counts.
func (b *Boss) monitor(ctx context.Context) {
	counts, err := b.store.CountStates(ctx)
	if err != nil {
		b.logger.Error("monitor sweep failed", "error", err)
		b.emit(&core.ErrorEvent{Err: err, Timestamp: time.Now()})
		return
	}
	b.emit(&core.MonitorStatesEvent{States: counts, Timestamp: time.Now()})
}
