package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedRunID(t *testing.T) {
	assert.Equal(t, "run-1", NewFixedRunID("run-1").Generate())
	assert.Equal(t, "run-1", NewFixedRunID("run-1").Generate())
	assert.Equal(t, "test-run-default", NewFixedRunID("").Generate())
}

func TestInstantWaiter_RecordsHolds(t *testing.T) {
	w := NewInstantWaiter()
	var seen []int
	w.OnWait(func(n int, _ time.Duration) { seen = append(seen, n) })

	assert.NoError(t, w.Wait(context.Background(), time.Second))
	assert.NoError(t, w.Wait(context.Background(), 2*time.Second))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, w.Holds())
	assert.Equal(t, 3*time.Second, w.Total())
	assert.Equal(t, []int{1, 2}, seen)
}

func TestInstantWaiter_HonoursCancellation(t *testing.T) {
	w := NewInstantWaiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Wait(ctx, time.Hour), context.Canceled)
}

func TestManualClock_ConcurrentAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(10*time.Second), c.Now())
}
