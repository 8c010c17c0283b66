package game

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAfter(t *testing.T) {
	var mu sync.Mutex
	s := NewScheduler(&mu, nil)
	var hits atomic.Int32

	mu.Lock()
	s.After(5*time.Millisecond, func() { hits.Add(1) })
	assert.Equal(t, 1, s.Pending())
	mu.Unlock()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Zero(t, s.Pending())
	mu.Unlock()
}

func TestSchedulerInvalidateDropsPending(t *testing.T) {
	var mu sync.Mutex
	s := NewScheduler(&mu, nil)
	var hits atomic.Int32

	mu.Lock()
	s.After(5*time.Millisecond, func() { hits.Add(1) })
	s.Every(5*time.Millisecond, func() bool { hits.Add(1); return true })
	s.Invalidate()
	assert.Zero(t, s.Pending())
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, hits.Load())
}

// TestSchedulerStaleFireIsNoop holds the lock past the deadline so the timer
// fires and blocks, then invalidates before releasing.
func TestSchedulerStaleFireIsNoop(t *testing.T) {
	var mu sync.Mutex
	s := NewScheduler(&mu, nil)
	var hits atomic.Int32

	mu.Lock()
	s.After(time.Millisecond, func() { hits.Add(1) })
	time.Sleep(20 * time.Millisecond)
	s.Invalidate()
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, hits.Load())
}

func TestSchedulerEveryStopsOnFalse(t *testing.T) {
	var mu sync.Mutex
	s := NewScheduler(&mu, nil)
	n := 0

	mu.Lock()
	s.Every(2*time.Millisecond, func() bool {
		n++
		return n < 3
	})
	mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n == 3 && s.Pending() == 0
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 3, n)
	mu.Unlock()
}

func TestSchedulerReleaseHook(t *testing.T) {
	var mu sync.Mutex
	var released atomic.Int32
	s := NewScheduler(&mu, func() {
		released.Add(1)
		mu.Unlock()
	})
	mu.Lock()
	s.After(time.Millisecond, func() {})
	mu.Unlock()
	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
}
