// internal/ratelimit/ratelimit_test.go
package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
)

func newTestRegistry(cfg Config) *Registry {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_SpacesStartsPerInstallation(t *testing.T) {
	const interval = 50 * time.Millisecond
	r := newTestRegistry(Config{MaxConcurrent: 1, MinInterval: interval, TTL: time.Minute})

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := r.Acquire(context.Background(), 1)
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		}()
	}

	// Installation 2 is not held back by installation 1's queue.
	otherStart := time.Now()
	release, err := r.Acquire(context.Background(), 2)
	require.NoError(t, err)
	release()
	assert.Less(t, time.Since(otherStart), interval)

	wg.Wait()
	require.Len(t, starts, 5)
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(starts); i++ {
		// rate.Limiter reserves with millisecond-level slack.
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), interval-5*time.Millisecond, "start %d", i)
	}
}

func TestRegistry_BoundsConcurrency(t *testing.T) {
	r := newTestRegistry(Config{MaxConcurrent: 2, TTL: time.Minute})

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := r.Acquire(context.Background(), 1)
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRegistry_AcquireHonoursContext(t *testing.T) {
	r := newTestRegistry(Config{MaxConcurrent: 1, TTL: time.Minute})
	release, err := r.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_Middleware(t *testing.T) {
	const interval = 40 * time.Millisecond
	r := newTestRegistry(Config{MaxConcurrent: 1, MinInterval: interval, TTL: time.Minute})

	var mu sync.Mutex
	starts := map[int64][]time.Time{}
	handler := r.Middleware()(func(ctx context.Context, job queue.Job) error {
		mu.Lock()
		defer mu.Unlock()
		id := job.Data.(model.InstallationJob).GitHubInstallation()
		starts[id] = append(starts[id], time.Now())
		return nil
	})

	run := func(installationID int64) {
		job := queue.Job{ID: "x", Data: model.DiscoveryJob{InstallationID: installationID, JiraHost: "https://a.atlassian.net", Mode: model.DiscoveryFull}}
		assert.NoError(t, handler(context.Background(), job))
	}

	var wg sync.WaitGroup
	for _, id := range []int64{1, 1, 1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(id)
		}()
	}
	wg.Wait()

	assert.Len(t, starts[1], 3)
	assert.Len(t, starts[2], 1)
	first, last := slices.MinFunc(starts[1], time.Time.Compare), slices.MaxFunc(starts[1], time.Time.Compare)
	assert.GreaterOrEqual(t, last.Sub(first), 2*interval-10*time.Millisecond)

	t.Run("passes through jobs without an installation", func(t *testing.T) {
		called := false
		h := r.Middleware()(func(ctx context.Context, job queue.Job) error {
			called = true
			return nil
		})
		err := h(context.Background(), queue.Job{Data: model.MetricsJob{JiraHost: "https://a.atlassian.net", ProjectKeys: []string{"A"}}})
		require.NoError(t, err)
		assert.True(t, called)
	})
}
