package boss

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/store"
	"github.com/boris-v/pg-boss/pkg/worker"
)

// newIntegrationBoss stands a Boss up against a throwaway schema.
// Skipped unless PGBOSS_TEST_DATABASE_URL is set.
func newIntegrationBoss(t *testing.T) *Boss {
	t.Helper()

	dsn := os.Getenv("PGBOSS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PGBOSS_TEST_DATABASE_URL not set — skipping PostgreSQL-specific test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	schema := "pgboss_it_" + uuid.NewString()[:8]
	b := NewWithStore(store.New(pool, schema), Settings{
		Schema:                     schema,
		PollingInterval:            100 * time.Millisecond,
		MaintenanceIntervalSeconds: 1,
		StopTimeout:                10 * time.Second,
	})
	require.NoError(t, b.Start(ctx))

	t.Cleanup(func() {
		_ = b.Stop(ctx, true)
		_, _ = pool.Exec(ctx, fmt.Sprintf(`DROP SCHEMA %s CASCADE`, schema))
		pool.Close()
	})
	return b
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Scenario 3: a handler that always fails walks the job through retry
// into failed and a copy lands on the dead-letter queue.
func TestIntegrationRetryDeadLetter(t *testing.T) {
	b := newIntegrationBoss(t)
	ctx := context.Background()

	require.NoError(t, b.CreateQueue(ctx, "dl", core.QueueOptions{}))
	require.NoError(t, b.CreateQueue(ctx, "flaky", core.QueueOptions{
		RetryLimit: intPtr(2),
		RetryDelay: intPtr(0),
		DeadLetter: strPtr("dl"),
	}))

	id, err := b.Send(ctx, "flaky", map[string]int{"x": 1})
	require.NoError(t, err)

	_, err = b.Work(ctx, "flaky", func(ctx context.Context, jobs []*core.Job) (any, error) {
		return nil, errors.New("always fails")
	})
	require.NoError(t, err)

	waitUntil(t, 15*time.Second, func() bool {
		job, err := b.GetJobByID(ctx, "flaky", id, false)
		return err == nil && job != nil && job.State == core.StateFailed
	})

	job, err := b.GetJobByID(ctx, "flaky", id, false)
	require.NoError(t, err)
	assert.Equal(t, 2, job.RetryCount)

	waitUntil(t, 5*time.Second, func() bool {
		n, err := b.GetQueueSize(ctx, "dl", nil)
		return err == nil && n == 1
	})
}

// Scenario 4: a singleton queue admits one active job at a time and
// drains in order.
func TestIntegrationSingletonQueue(t *testing.T) {
	b := newIntegrationBoss(t)
	ctx := context.Background()

	require.NoError(t, b.CreateQueue(ctx, "solo", core.QueueOptions{Policy: core.PolicySingleton}))

	for i := 0; i < 3; i++ {
		id, err := b.Send(ctx, "solo", map[string]int{"i": i})
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, id)
	}

	var mu sync.Mutex
	var running, maxRunning, done int

	_, err := b.Work(ctx, "solo", func(ctx context.Context, jobs []*core.Job) (any, error) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		running--
		done++
		mu.Unlock()
		return nil, nil
	}, worker.BatchSize(1))
	require.NoError(t, err)

	waitUntil(t, 15*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxRunning, "singleton admits one active job")
}

// Scenario 5: a handler outlasting its deadline fails with the timeout
// message.
func TestIntegrationHandlerTimeout(t *testing.T) {
	b := newIntegrationBoss(t)
	ctx := context.Background()

	require.NoError(t, b.CreateQueue(ctx, "slow", core.QueueOptions{
		ExpireSeconds: intPtr(1),
		RetryLimit:    intPtr(0),
	}))

	id, err := b.Send(ctx, "slow", nil, WithExpireInSeconds(1))
	require.NoError(t, err)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	_, err = b.Work(ctx, "slow", func(ctx context.Context, jobs []*core.Job) (any, error) {
		<-release
		return "late", nil
	})
	require.NoError(t, err)

	waitUntil(t, 15*time.Second, func() bool {
		job, err := b.GetJobByID(ctx, "slow", id, false)
		return err == nil && job != nil && job.State == core.StateFailed
	})

	job, err := b.GetJobByID(ctx, "slow", id, false)
	require.NoError(t, err)
	assert.Contains(t, string(job.Output), "handler execution exceeded")
}

// Scenario 7: ungraceful stop fails in-flight jobs with the shutdown
// sentinel and halts fetching.
func TestIntegrationShutdownFailsWip(t *testing.T) {
	b := newIntegrationBoss(t)
	ctx := context.Background()

	require.NoError(t, b.CreateQueue(ctx, "wip", core.QueueOptions{RetryLimit: intPtr(0)}))
	id, err := b.Send(ctx, "wip", nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})

	_, err = b.Work(ctx, "wip", func(ctx context.Context, jobs []*core.Job) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	<-started
	// Stop fails the in-flight batch, then waits for the worker; the
	// handler is released mid-stop since shutdown never cancels it.
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, b.Stop(ctx, false))

	job, err := b.GetJobByID(ctx, "wip", id, false)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, core.StateFailed, job.State)
	assert.Contains(t, string(job.Output), worker.ShutdownReason)
}

// Scenario 2 end to end: five debounced sends inside one window leave
// two jobs — one now, one at the next boundary.
func TestIntegrationDebounce(t *testing.T) {
	b := newIntegrationBoss(t)
	ctx := context.Background()

	require.NoError(t, b.CreateQueue(ctx, "bounce", core.QueueOptions{}))

	var created int
	for i := 0; i < 5; i++ {
		id, err := b.SendDebounced(ctx, "bounce", map[string]int{"i": i}, 120, "k")
		require.NoError(t, err)
		if id != uuid.Nil {
			created++
		}
	}

	assert.Equal(t, 2, created, "first send now, second at the next window, rest dropped")

	n, err := b.GetQueueSize(ctx, "bounce", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
