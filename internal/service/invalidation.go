package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/fintrack-api/pkg/clock"
)

// waitSet holds the parked waiters of one session. Once invalidated it stays
// closed so later Park calls return immediately.
type waitSet struct {
	mu            sync.Mutex
	done          chan struct{}
	waiters       int
	invalidated   bool
	invalidatedAt time.Time
	removed       bool
}

// InvalidationChannel is a per-session wake primitive. Each session id owns
// its own wait-set and lock; there is no global lock on the hot path.
type InvalidationChannel struct {
	sets      sync.Map // session id -> *waitSet
	clock     clock.Clock
	parked    atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
}

// NewInvalidationChannel constructs an empty channel.
func NewInvalidationChannel(c clock.Clock) *InvalidationChannel {
	return &InvalidationChannel{clock: clock.OrReal(c), closed: make(chan struct{})}
}

// lockSet returns the live wait-set for id, creating it if needed, with its
// mutex held. Sets removed concurrently are skipped.
func (ch *InvalidationChannel) lockSet(id string) *waitSet {
	for {
		v, ok := ch.sets.Load(id)
		if !ok {
			v, _ = ch.sets.LoadOrStore(id, &waitSet{done: make(chan struct{})})
		}
		ws := v.(*waitSet)
		ws.mu.Lock()
		if !ws.removed {
			return ws
		}
		ws.mu.Unlock()
	}
}

// Park suspends the caller until id is woken, timeout elapses, ctx ends or
// the channel closes. The invalidated check and the waiter registration happen
// under the same lock as Wake, so a wake that happened before Park is never missed.
func (ch *InvalidationChannel) Park(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	ws := ch.lockSet(id)
	if ws.invalidated {
		ws.mu.Unlock()
		return true, nil
	}
	if timeout <= 0 {
		ch.releaseLocked(id, ws)
		return false, nil
	}
	ws.waiters++
	done := ws.done
	ws.mu.Unlock()

	ch.parked.Add(1)
	defer func() {
		ch.parked.Add(-1)
		ws.mu.Lock()
		ws.waiters--
		ch.releaseLocked(id, ws)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-ch.closed:
		return false, nil
	}
}

// releaseLocked drops an idle, non-invalidated set and unlocks it.
func (ch *InvalidationChannel) releaseLocked(id string, ws *waitSet) {
	if ws.waiters == 0 && !ws.invalidated && !ws.removed {
		ws.removed = true
		ch.sets.CompareAndDelete(id, ws)
	}
	ws.mu.Unlock()
}

// Wake releases every waiter parked on id and marks it invalidated so later
// Park calls return at once. It returns the number of waiters released.
func (ch *InvalidationChannel) Wake(id string) int {
	ws := ch.lockSet(id)
	defer ws.mu.Unlock()
	if ws.invalidated {
		return 0
	}
	ws.invalidated = true
	ws.invalidatedAt = ch.clock.Now()
	close(ws.done)
	return ws.waiters
}

// Invalidated reports whether id has been woken and not yet forgotten.
func (ch *InvalidationChannel) Invalidated(id string) bool {
	v, ok := ch.sets.Load(id)
	if !ok {
		return false
	}
	ws := v.(*waitSet)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.invalidated && !ws.removed
}

// Forget drops the invalidation mark of id once no waiter holds it.
func (ch *InvalidationChannel) Forget(id string) {
	v, ok := ch.sets.Load(id)
	if !ok {
		return
	}
	ws := v.(*waitSet)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.waiters == 0 && !ws.removed {
		ws.removed = true
		ch.sets.CompareAndDelete(id, ws)
	}
}

// Prune forgets invalidation marks older than before. It returns the number removed.
func (ch *InvalidationChannel) Prune(before time.Time) int {
	removed := 0
	ch.sets.Range(func(key, value interface{}) bool {
		ws := value.(*waitSet)
		ws.mu.Lock()
		if ws.invalidated && ws.waiters == 0 && !ws.removed && ws.invalidatedAt.Before(before) {
			ws.removed = true
			ch.sets.CompareAndDelete(key, ws)
			removed++
		}
		ws.mu.Unlock()
		return true
	})
	return removed
}

// Waiters returns the number of currently parked callers.
func (ch *InvalidationChannel) Waiters() int64 {
	return ch.parked.Load()
}

// Close releases every parked waiter with a negative result. Park calls made
// after Close return without blocking.
func (ch *InvalidationChannel) Close() {
	ch.closeOnce.Do(func() { close(ch.closed) })
}
