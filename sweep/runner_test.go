package sweep

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/dispute"
	"disputeflow/metrics"
)

type fakeSweeper struct {
	mu       sync.Mutex
	results  map[string]error
	expiring map[string]bool
	calls    []string
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSweeper) SweepCase(_ context.Context, id string) (bool, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.results[id]; err != nil {
		return false, err
	}
	return f.expiring[id], nil
}

type fakeLister struct {
	ids   []string
	err   error
	limit int
}

func (f *fakeLister) ListOpenWindowCases(_ context.Context, limit int) ([]string, error) {
	f.limit = limit
	return f.ids, f.err
}

type fakeLease struct {
	grant    bool
	err      error
	released int
}

func (l *fakeLease) Acquire(context.Context) (bool, error) { return l.grant, l.err }
func (l *fakeLease) Release(context.Context) error         { l.released++; return nil }

func TestTick(t *testing.T) {
	sw := &fakeSweeper{
		expiring: map[string]bool{"a": true, "c": true},
		results: map[string]error{
			"d": &dispute.ConcurrentModificationError{CaseID: "d", Expected: 2, Actual: 3},
			"e": errors.New("connection reset"),
		},
	}
	lister := &fakeLister{ids: []string{"a", "b", "c", "d", "e"}}
	m := metrics.New()
	r := NewRunner(sw, lister, nil, Config{BatchSize: 50, Concurrency: 2}, nil, m)

	res, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 5, Expired: 2, Conflicts: 1, Failed: 1}, res)
	assert.Equal(t, 50, lister.limit)
	assert.ElementsMatch(t, lister.ids, sw.calls)
	assert.LessOrEqual(t, sw.peak.Load(), int32(2))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SweepOpenWindows))
}

func TestTick_ListError(t *testing.T) {
	r := NewRunner(&fakeSweeper{}, &fakeLister{err: errors.New("db gone")}, nil, Config{}, nil, nil)
	_, err := r.Tick(context.Background())
	assert.Error(t, err)
}

func TestTick_Lease(t *testing.T) {
	sw := &fakeSweeper{}
	lister := &fakeLister{ids: []string{"a"}}

	held := &fakeLease{grant: false}
	res, err := NewRunner(sw, lister, held, Config{}, nil, nil).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, sw.calls)
	assert.Equal(t, 0, held.released)

	free := &fakeLease{grant: true}
	res, err = NewRunner(sw, lister, free, Config{}, nil, nil).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, free.released)

	broken := &fakeLease{err: errors.New("redis timeout")}
	res, err = NewRunner(sw, lister, broken, Config{}, nil, nil).Tick(context.Background())
	assert.Error(t, err)
	assert.True(t, res.Skipped)
}

func TestRun_StopsOnCancel(t *testing.T) {
	sw := &fakeSweeper{}
	lister := &fakeLister{ids: []string{"a"}}
	r := NewRunner(sw, lister, nil, Config{Interval: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		sw.mu.Lock()
		defer sw.mu.Unlock()
		return len(sw.calls) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRedisLease(t *testing.T) {
	addr := os.Getenv("DISPUTEFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DISPUTEFLOW_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	key := "disputeflow:test:lease:" + t.Name()
	a := NewRedisLease(client, key, 5*time.Second)
	b := NewRedisLease(client, key, 5*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lease")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}
