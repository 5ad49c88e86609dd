package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fintrack-api/pkg/clock"
)

func countSets(ch *InvalidationChannel) int {
	n := 0
	ch.sets.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func TestParkAfterWakeReturnsImmediately(t *testing.T) {
	ch := NewInvalidationChannel(clock.NewFake(testStart))
	ch.Wake("s1")

	ok, err := ch.Park(context.Background(), "s1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ch.Invalidated("s1"))
}

func TestWakeReleasesAllParkedWaiters(t *testing.T) {
	ch := NewInvalidationChannel(nil)

	const waiters = 10
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			ok, _ := ch.Park(context.Background(), "s1", 5*time.Second)
			results <- ok
		}()
	}
	require.Eventually(t, func() bool { return ch.Waiters() == waiters }, time.Second, time.Millisecond)

	assert.Equal(t, waiters, ch.Wake("s1"))
	deadline := time.After(time.Second)
	for i := 0; i < waiters; i++ {
		select {
		case ok := <-results:
			assert.True(t, ok)
		case <-deadline:
			t.Fatal("waiter not released")
		}
	}
	assert.Zero(t, ch.Waiters())
	assert.Zero(t, ch.Wake("s1"))
}

func TestParkTimeoutDeregisters(t *testing.T) {
	ch := NewInvalidationChannel(nil)

	ok, err := ch.Park(context.Background(), "s1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, ch.Waiters())
	assert.Zero(t, countSets(ch))

	ok, err = ch.Park(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, countSets(ch))
}

func TestParkCancelledContext(t *testing.T) {
	ch := NewInvalidationChannel(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := ch.Park(ctx, "s1", 5*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return ch.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("park ignored cancellation")
	}
	assert.Zero(t, ch.Waiters())
	assert.Zero(t, countSets(ch))
}

func TestCloseReleasesWaitersNegatively(t *testing.T) {
	ch := NewInvalidationChannel(nil)

	done := make(chan bool, 1)
	go func() {
		ok, _ := ch.Park(context.Background(), "s1", 5*time.Second)
		done <- ok
	}()
	require.Eventually(t, func() bool { return ch.Waiters() == 1 }, time.Second, time.Millisecond)
	ch.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close did not release waiter")
	}
}

func TestPruneForgetsOldTombstones(t *testing.T) {
	clk := clock.NewFake(testStart)
	ch := NewInvalidationChannel(clk)

	ch.Wake("old")
	clk.Advance(5 * time.Minute)
	ch.Wake("new")

	assert.Equal(t, 1, ch.Prune(testStart.Add(time.Minute)))
	assert.False(t, ch.Invalidated("old"))
	assert.True(t, ch.Invalidated("new"))

	ch.Forget("new")
	assert.False(t, ch.Invalidated("new"))
	assert.Zero(t, countSets(ch))
}

func TestWakeRacingParkNeverLost(t *testing.T) {
	ch := NewInvalidationChannel(nil)

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("s%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		var woke bool
		go func() {
			defer wg.Done()
			woke, _ = ch.Park(context.Background(), id, time.Second)
		}()
		go func() {
			defer wg.Done()
			ch.Wake(id)
		}()
		wg.Wait()
		require.True(t, woke, "iteration %d", i)
	}
}
