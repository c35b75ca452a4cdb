package boss

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Settings configures a Boss instance. When the Boss is built, zero
// values of the schema, intervals, timeouts, expiration and retention
// settings fall back to the defaults below; zero retry settings are
// kept as given.
type Settings struct {
	// DatabaseURL is the connection string, used when the pool is not
	// supplied by the embedder.
	DatabaseURL string `env:"PGBOSS_DATABASE_URL"`

	// Schema is the PostgreSQL schema holding all pg-boss objects.
	Schema string `env:"PGBOSS_SCHEMA" envDefault:"pgboss"`

	// PollingInterval is the default worker polling interval.
	PollingInterval time.Duration `env:"PGBOSS_POLLING_INTERVAL" envDefault:"2s"`

	// ExpireInSeconds is the default handler deadline applied when
	// neither the send nor the queue sets one.
	ExpireInSeconds int `env:"PGBOSS_EXPIRE_IN_SECONDS" envDefault:"900"`

	// RetentionMinutes is the default archival cut-off.
	RetentionMinutes int `env:"PGBOSS_RETENTION_MINUTES" envDefault:"20160"`

	// Retry defaults applied when neither the send nor the queue sets
	// them.
	RetryLimit   int  `env:"PGBOSS_RETRY_LIMIT" envDefault:"2"`
	RetryDelay   int  `env:"PGBOSS_RETRY_DELAY" envDefault:"0"`
	RetryBackoff bool `env:"PGBOSS_RETRY_BACKOFF" envDefault:"false"`

	// ArchiveCompletedAfterSeconds archives completed jobs this long
	// after completion even before keep_until lapses.
	ArchiveCompletedAfterSeconds int `env:"PGBOSS_ARCHIVE_COMPLETED_AFTER_SECONDS" envDefault:"43200"`

	// DeleteArchivedAfterSeconds drops archive rows after this age.
	DeleteArchivedAfterSeconds int `env:"PGBOSS_DELETE_ARCHIVED_AFTER_SECONDS" envDefault:"604800"`

	// MaintenanceIntervalSeconds schedules the archive and expiration
	// sweeps.
	MaintenanceIntervalSeconds int `env:"PGBOSS_MAINTENANCE_INTERVAL_SECONDS" envDefault:"60"`

	// MonitorStateIntervalSeconds schedules state-count monitoring;
	// zero disables it.
	MonitorStateIntervalSeconds int `env:"PGBOSS_MONITOR_STATE_INTERVAL_SECONDS" envDefault:"0"`

	// StopTimeout bounds the wait for workers on Stop.
	StopTimeout time.Duration `env:"PGBOSS_STOP_TIMEOUT" envDefault:"30s"`

	// SkipMigration leaves the schema untouched at Start. The stored
	// schema version is not read or checked in that case.
	SkipMigration bool `env:"PGBOSS_SKIP_MIGRATION"`

	// testThrowWorker makes every worker's first fetch fail. Test hook.
	testThrowWorker bool
}

// SettingsFromEnv loads Settings from the environment.
func SettingsFromEnv() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.Schema == "" {
		s.Schema = "pgboss"
	}
	if s.PollingInterval <= 0 {
		s.PollingInterval = 2 * time.Second
	}
	if s.ExpireInSeconds <= 0 {
		s.ExpireInSeconds = 900
	}
	if s.RetentionMinutes <= 0 {
		s.RetentionMinutes = 20160
	}
	if s.RetryLimit < 0 {
		s.RetryLimit = 0
	}
	if s.ArchiveCompletedAfterSeconds <= 0 {
		s.ArchiveCompletedAfterSeconds = 43200
	}
	if s.DeleteArchivedAfterSeconds <= 0 {
		s.DeleteArchivedAfterSeconds = 604800
	}
	if s.MaintenanceIntervalSeconds <= 0 {
		s.MaintenanceIntervalSeconds = 60
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = 30 * time.Second
	}
}

// SendOptions carries per-send overrides.
type SendOptions struct {
	ID           *uuid.UUID
	Priority     int
	StartAfter   *time.Time
	SingletonKey *string
	// SingletonSeconds buckets sends into time windows; collisions
	// within a window are dropped.
	SingletonSeconds *int
	RetryLimit       *int
	RetryDelay       *int
	RetryBackoff     *bool
	ExpireInSeconds  *int
	KeepUntil        *time.Time

	// singletonOffset shifts the bucket computation; the debounce
	// retry sets it to land on the next window.
	singletonOffset int
}

// SendOption mutates SendOptions.
type SendOption func(*SendOptions)

// WithID supplies the job id instead of generating one.
func WithID(id uuid.UUID) SendOption {
	return func(o *SendOptions) { o.ID = &id }
}

// WithPriority sets the job priority; higher fetches first.
func WithPriority(p int) SendOption {
	return func(o *SendOptions) { o.Priority = p }
}

// WithStartAfter delays eligibility until a point in time.
func WithStartAfter(t time.Time) SendOption {
	return func(o *SendOptions) { o.StartAfter = &t }
}

// WithStartAfterDelay delays eligibility by a duration.
func WithStartAfterDelay(d time.Duration) SendOption {
	return func(o *SendOptions) {
		t := time.Now().Add(d)
		o.StartAfter = &t
	}
}

// WithSingletonKey collapses duplicate sends sharing a key.
func WithSingletonKey(key string) SendOption {
	return func(o *SendOptions) { o.SingletonKey = &key }
}

// WithSingletonSeconds throttles sends into time buckets of the given
// width.
func WithSingletonSeconds(seconds int) SendOption {
	return func(o *SendOptions) { o.SingletonSeconds = &seconds }
}

// WithRetryLimit overrides the queue's retry limit for this job.
func WithRetryLimit(n int) SendOption {
	return func(o *SendOptions) { o.RetryLimit = &n }
}

// WithRetryDelay overrides the queue's retry delay in seconds.
func WithRetryDelay(seconds int) SendOption {
	return func(o *SendOptions) { o.RetryDelay = &seconds }
}

// WithRetryBackoff toggles exponential backoff for this job.
func WithRetryBackoff(enabled bool) SendOption {
	return func(o *SendOptions) { o.RetryBackoff = &enabled }
}

// WithExpireInSeconds overrides the handler deadline for this job.
func WithExpireInSeconds(seconds int) SendOption {
	return func(o *SendOptions) { o.ExpireInSeconds = &seconds }
}

// WithKeepUntil overrides the archival cut-off for this job.
func WithKeepUntil(t time.Time) SendOption {
	return func(o *SendOptions) { o.KeepUntil = &t }
}
