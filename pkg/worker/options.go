package worker

import (
	"time"

	"github.com/boris-v/pg-boss/pkg/security"
)

// Option configures a Worker.
type Option interface {
	Apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) Apply(c *Config) { f(c) }

// Config holds worker configuration.
type Config struct {
	PollingInterval time.Duration
	BatchSize       int
	Priority        bool
	IncludeMetadata bool
}

// DefaultConfig returns the worker defaults: poll every two seconds,
// one job at a time, priority ordering on.
func DefaultConfig() Config {
	return Config{
		PollingInterval: 2 * time.Second,
		BatchSize:       1,
		Priority:        true,
	}
}

// PollingInterval sets how long the worker sleeps between empty polls.
// Intervals below 500ms are raised to 500ms.
func PollingInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d < 500*time.Millisecond {
			d = 500 * time.Millisecond
		}
		c.PollingInterval = d
	})
}

// BatchSize sets how many jobs one fetch claims.
func BatchSize(n int) Option {
	return optionFunc(func(c *Config) {
		c.BatchSize = security.ClampBatchSize(n)
	})
}

// Priority toggles priority ordering of fetched batches.
func Priority(enabled bool) Option {
	return optionFunc(func(c *Config) {
		c.Priority = enabled
	})
}

// IncludeMetadata makes fetched jobs carry their full row.
func IncludeMetadata(enabled bool) Option {
	return optionFunc(func(c *Config) {
		c.IncludeMetadata = enabled
	})
}
