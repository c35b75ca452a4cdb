package store

import (
	"context"
	"encoding/json"
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
)

// newTestStore connects to PGBOSS_TEST_DATABASE_URL, migrates a
// throwaway schema, and tears it down after the test. Tests are
// skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("PGBOSS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PGBOSS_TEST_DATABASE_URL not set — skipping PostgreSQL-specific test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	schema := "pgboss_test_" + uuid.NewString()[:8]
	s := New(pool, schema)
	require.NoError(t, s.MigrateToLatest(ctx))

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, fmt.Sprintf(`DROP SCHEMA %s CASCADE`, schema))
		pool.Close()
	})
	return s
}

func createQueue(t *testing.T, s *Store, name string, opts core.QueueOptions) {
	t.Helper()
	if opts.Policy == "" {
		opts.Policy = core.PolicyStandard
	}
	require.NoError(t, s.CreateQueue(context.Background(), name, opts))
}

func sendJob(t *testing.T, s *Store, name string, data string) uuid.UUID {
	t.Helper()
	id, err := s.InsertJob(context.Background(), InsertParams{
		Name: name,
		Data: json.RawMessage(data),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	return id
}

func fetchOne(t *testing.T, s *Store, name string) *core.Job {
	t.Helper()
	jobs, err := s.FetchJobs(context.Background(), name, core.FetchOptions{BatchSize: 1, Priority: true})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func intPtr(n int) *int       { return &n }
func strPtr(v string) *string { return &v }

// ──────────────────────────────────────────────────────────────────────────────
// Migration / lifecycle
// ──────────────────────────────────────────────────────────────────────────────

func TestMigrateToLatest_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, v, 0)

	// a second run is a no-op
	require.NoError(t, s.MigrateToLatest(ctx))
	v2, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

// ──────────────────────────────────────────────────────────────────────────────
// Insert / fetch
// ──────────────────────────────────────────────────────────────────────────────

func TestInsertAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "work", core.QueueOptions{})

	id := sendJob(t, s, "work", `{"n":1}`)

	job := fetchOne(t, s, "work")
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "work", job.Name)
	assert.JSONEq(t, `{"n":1}`, string(job.Data))
	assert.Greater(t, job.ExpireIn, time.Duration(0))

	// claimed rows are invisible to a second fetch
	again, err := s.FetchJobs(ctx, "work", core.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestInsertUnknownQueue(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertJob(context.Background(), InsertParams{Name: "nope", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id, "insert into a missing queue affects zero rows")
}

func TestFetchOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "ordered", core.QueueOptions{})

	low, err := s.InsertJob(ctx, InsertParams{Name: "ordered", Priority: 1})
	require.NoError(t, err)
	high, err := s.InsertJob(ctx, InsertParams{Name: "ordered", Priority: 10})
	require.NoError(t, err)

	jobs, err := s.FetchJobs(ctx, "ordered", core.FetchOptions{BatchSize: 2, Priority: true})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, high, jobs[0].ID, "higher priority first")
	assert.Equal(t, low, jobs[1].ID)
}

func TestFetchSkipsFutureStartAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "later", core.QueueOptions{})

	future := time.Now().Add(time.Hour)
	_, err := s.InsertJob(ctx, InsertParams{Name: "later", StartAfter: &future})
	require.NoError(t, err)

	jobs, err := s.FetchJobs(ctx, "later", core.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

// P5: a claimed job is not fetched by a concurrent worker.
func TestFetchConcurrentClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "contended", core.QueueOptions{})

	const jobs = 20
	for i := 0; i < jobs; i++ {
		sendJob(t, s, "contended", fmt.Sprintf(`{"i":%d}`, i))
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.FetchJobs(ctx, "contended", core.FetchOptions{BatchSize: 3})
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, j := range batch {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s fetched %d times", id, n)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Policies and throttle indexes
// ──────────────────────────────────────────────────────────────────────────────

// P2: short queues hold at most one created job.
func TestShortPolicy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "short-q", core.QueueOptions{Policy: core.PolicyShort})

	first, err := s.InsertJob(ctx, InsertParams{Name: "short-q"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first)

	second, err := s.InsertJob(ctx, InsertParams{Name: "short-q"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, second, "second created job must be absorbed")

	// fetching the first opens the slot again
	fetchOne(t, s, "short-q")
	third, err := s.InsertJob(ctx, InsertParams{Name: "short-q"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, third)
}

// P1 (index side): stately queues refuse a second job per state.
func TestStatelyPolicy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "stately-q", core.QueueOptions{Policy: core.PolicyStately})

	first, err := s.InsertJob(ctx, InsertParams{Name: "stately-q"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first)

	dup, err := s.InsertJob(ctx, InsertParams{Name: "stately-q"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, dup)
}

// Scenario 1: 100 parallel throttled sends yield exactly one job.
func TestThrottle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "throttled", core.QueueOptions{})

	var created int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.InsertJob(ctx, InsertParams{
				Name:             "throttled",
				Data:             json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
				SingletonKey:     strPtr("k"),
				SingletonSeconds: intPtr(60),
			})
			assert.NoError(t, err)
			if id != uuid.Nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, created, "exactly one throttled job per bucket")
}

// P3: a null singleton_on key admits one live job per key.
func TestThrottleByKeyOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "keyed", core.QueueOptions{})

	first, err := s.InsertJob(ctx, InsertParams{Name: "keyed", SingletonKey: strPtr("a")})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first)

	dup, err := s.InsertJob(ctx, InsertParams{Name: "keyed", SingletonKey: strPtr("a")})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, dup)

	other, err := s.InsertJob(ctx, InsertParams{Name: "keyed", SingletonKey: strPtr("b")})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, other, "distinct keys do not collide")
}

// Debounce index semantics: next-bucket insert lands while the current
// bucket is occupied.
func TestDebounceNextSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "debounced", core.QueueOptions{})

	const window = 60
	first, err := s.InsertJob(ctx, InsertParams{
		Name: "debounced", SingletonKey: strPtr("k"), SingletonSeconds: intPtr(window),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first)

	// same bucket: absorbed
	dup, err := s.InsertJob(ctx, InsertParams{
		Name: "debounced", SingletonKey: strPtr("k"), SingletonSeconds: intPtr(window),
	})
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, dup)

	// offset by one window: next bucket, admitted
	next, err := s.InsertJob(ctx, InsertParams{
		Name: "debounced", SingletonKey: strPtr("k"),
		SingletonSeconds: intPtr(window), SingletonOffset: window,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, next)
}

// ──────────────────────────────────────────────────────────────────────────────
// State transitions
// ──────────────────────────────────────────────────────────────────────────────

func TestCompleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "done", core.QueueOptions{})

	id := sendJob(t, s, "done", `{}`)
	fetchOne(t, s, "done")

	res, err := s.CompleteJobs(ctx, "done", []uuid.UUID{id}, json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	// P6: repeating affects zero rows
	res, err = s.CompleteJobs(ctx, "done", []uuid.UUID{id}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Affected)

	job, err := s.GetJobByID(ctx, "done", id, false)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, core.StateCompleted, job.State)
	assert.JSONEq(t, `{"ok":true}`, string(job.Output))
}

// Scenario 3: retry twice, then land on the dead-letter queue.
func TestRetryThenDeadLetter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "dl", core.QueueOptions{})
	createQueue(t, s, "flaky", core.QueueOptions{
		RetryLimit: intPtr(2),
		RetryDelay: intPtr(0),
		DeadLetter: strPtr("dl"),
	})

	id, err := s.InsertJob(ctx, InsertParams{Name: "flaky", Data: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)

	boom := json.RawMessage(`{"message":"boom"}`)

	// two retries, then terminal failure
	for i := 0; i < 2; i++ {
		fetchOne(t, s, "flaky")
		res, failErr := s.FailJobs(ctx, "flaky", []uuid.UUID{id}, boom)
		require.NoError(t, failErr)
		require.Equal(t, 1, res.Affected)

		job, getErr := s.GetJobByID(ctx, "flaky", id, false)
		require.NoError(t, getErr)
		require.Equal(t, core.StateRetry, job.State, "attempt %d should retry", i)
	}

	fetchOne(t, s, "flaky")
	_, err = s.FailJobs(ctx, "flaky", []uuid.UUID{id}, boom)
	require.NoError(t, err)

	job, err := s.GetJobByID(ctx, "flaky", id, false)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, job.State)

	// the dead-letter queue received a copy with the same data
	forwarded, err := s.FetchJobs(ctx, "dl", core.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Len(t, forwarded, 1)
	assert.JSONEq(t, `{"x":1}`, string(forwarded[0].Data))
}

func TestCancelAndResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "cr", core.QueueOptions{})

	id := sendJob(t, s, "cr", `{}`)

	res, err := s.CancelJobs(ctx, "cr", []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	job, err := s.GetJobByID(ctx, "cr", id, false)
	require.NoError(t, err)
	assert.Equal(t, core.StateCancelled, job.State)

	res, err = s.ResumeJobs(ctx, "cr", []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	job, err = s.GetJobByID(ctx, "cr", id, false)
	require.NoError(t, err)
	assert.Equal(t, core.StateCreated, job.State)
	assert.Nil(t, job.CompletedOn)
}

func TestDeleteJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "gone", core.QueueOptions{})

	id := sendJob(t, s, "gone", `{}`)
	res, err := s.DeleteJobs(ctx, "gone", []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	job, err := s.GetJobByID(ctx, "gone", id, false)
	require.NoError(t, err)
	assert.Nil(t, job)
}

// ──────────────────────────────────────────────────────────────────────────────
// Queues
// ──────────────────────────────────────────────────────────────────────────────

func TestQueueCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createQueue(t, s, "crud", core.QueueOptions{RetryLimit: intPtr(5)})

	q, err := s.GetQueue(ctx, "crud")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, core.PolicyStandard, q.Policy)
	assert.Equal(t, 5, *q.RetryLimit)

	err = s.UpdateQueue(ctx, "crud", core.QueueOptions{
		Policy: core.PolicyStandard, RetryLimit: intPtr(7),
	})
	require.NoError(t, err)

	q, err = s.GetQueue(ctx, "crud")
	require.NoError(t, err)
	assert.Equal(t, 7, *q.RetryLimit)

	require.NoError(t, s.DeleteQueue(ctx, "crud"))
	q, err = s.GetQueue(ctx, "crud")
	require.NoError(t, err)
	assert.Nil(t, q)

	assert.ErrorIs(t, s.UpdateQueue(ctx, "crud", core.QueueOptions{Policy: core.PolicyStandard}), core.ErrQueueNotFound)
}

func TestQueueSizeAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "sized", core.QueueOptions{})

	for i := 0; i < 3; i++ {
		sendJob(t, s, "sized", `{}`)
	}

	n, err := s.GetQueueSize(ctx, "sized", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	past := time.Now().Add(-time.Hour)
	n, err = s.GetQueueSize(ctx, "sized", &past)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.PurgeQueue(ctx, "sized"))
	n, err = s.GetQueueSize(ctx, "sized", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// ──────────────────────────────────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────────────────────────────────

func TestSubscriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "sub1", core.QueueOptions{})
	createQueue(t, s, "sub2", core.QueueOptions{})

	require.NoError(t, s.Subscribe(ctx, "evt", "sub1"))
	require.NoError(t, s.Subscribe(ctx, "evt", "sub2"))
	require.NoError(t, s.Subscribe(ctx, "evt", "sub1")) // upsert

	names, err := s.GetQueuesForEvent(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub1", "sub2"}, names)

	require.NoError(t, s.Unsubscribe(ctx, "evt", "sub1"))
	names, err = s.GetQueuesForEvent(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub2"}, names)
}

// ──────────────────────────────────────────────────────────────────────────────
// Maintenance
// ──────────────────────────────────────────────────────────────────────────────

func TestArchiveSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "old", core.QueueOptions{})

	past := time.Now().Add(-time.Minute)
	id, err := s.InsertJob(ctx, InsertParams{Name: "old", KeepUntil: &past})
	require.NoError(t, err)

	fetchOne(t, s, "old")
	_, err = s.CompleteJobs(ctx, "old", []uuid.UUID{id}, nil)
	require.NoError(t, err)

	archived, err := s.ArchiveJobs(ctx, 12*60*60, 7*24*60*60)
	require.NoError(t, err)
	assert.EqualValues(t, 1, archived)

	// gone from live, readable from the archive
	job, err := s.GetJobByID(ctx, "old", id, false)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = s.GetJobByID(ctx, "old", id, true)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.NotNil(t, job.ArchivedOn)
}

func TestExpireJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "expiring", core.QueueOptions{ExpireSeconds: intPtr(0), RetryLimit: intPtr(0)})

	id, err := s.InsertJob(ctx, InsertParams{Name: "expiring", ExpireSeconds: intPtr(0)})
	require.NoError(t, err)
	fetchOne(t, s, "expiring")

	time.Sleep(1100 * time.Millisecond)

	n, err := s.ExpireJobs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	job, err := s.GetJobByID(ctx, "expiring", id, false)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, job.State)
	assert.Contains(t, string(job.Output), "job failed by timeout")
}

func TestCountStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQueue(t, s, "counted", core.QueueOptions{})

	sendJob(t, s, "counted", `{}`)
	sendJob(t, s, "counted", `{}`)

	counts, err := s.CountStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.All[core.StateCreated])
	assert.Equal(t, 2, counts.Queues["counted"][core.StateCreated])
}
