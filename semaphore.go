package qsync

import (
	"context"
	"time"
)

// Semaphore is a counting semaphore built on [Synchronizer]. The state
// word is the number of available permits; it may start negative, in which
// case releases must happen before any acquire can succeed.
//
// Unlike golang.org/x/sync/semaphore it has no capacity ceiling, may be
// released by a goroutine that never acquired, and offers a fair flavour
// whose permits are granted strictly in arrival order.
type Semaphore struct {
	_    noCopy
	sync semaSync
}

type semaSync struct {
	Synchronizer
	fair bool
}

// NewSemaphore returns a barging (nonfair) semaphore with the given number
// of initial permits.
func NewSemaphore(permits int64) *Semaphore {
	s := &Semaphore{}
	s.sync.SetState(permits)
	return s
}

// NewFairSemaphore returns a semaphore that grants permits in strict
// arrival order.
func NewFairSemaphore(permits int64) *Semaphore {
	s := NewSemaphore(permits)
	s.sync.fair = true
	return s
}

// TryAcquireShared implements [Shared]. The sign of the returned remainder
// is what drives the engine's cascade: a positive leftover keeps waking
// adjacent shared waiters.
func (s *semaSync) TryAcquireShared(n int64) int64 {
	return s.tryShared(n, s.fair)
}

func (s *semaSync) tryShared(n int64, fair bool) int64 {
	for {
		if fair && s.HasQueuedPredecessors() {
			return -1
		}
		available := s.State()
		remaining := available - n
		if remaining < 0 || s.CompareAndSetState(available, remaining) {
			return remaining
		}
	}
}

// TryReleaseShared implements [Shared]. Overflow past the representable
// permit range is a caller bug, not a recoverable condition.
func (s *semaSync) TryReleaseShared(n int64) bool {
	for {
		cur := s.State()
		next := cur + n
		if next < cur {
			panic("qsync: semaphore permit count overflow")
		}
		if s.CompareAndSetState(cur, next) {
			return true
		}
	}
}

// Acquire takes n permits, blocking until they are all available.
// n <= 0 is a no-op.
func (s *Semaphore) Acquire(n int64) {
	if n <= 0 {
		return
	}
	s.sync.AcquireShared(&s.sync, n)
}

// AcquireContext takes n permits unless ctx is done first. On error no
// permits are consumed and no waiter is harmed.
func (s *Semaphore) AcquireContext(ctx context.Context, n int64) error {
	if n <= 0 {
		return ctx.Err()
	}
	return s.sync.AcquireSharedContext(ctx, &s.sync, n)
}

// TryAcquire takes n permits only if they are available right now. It
// barges even on a fair semaphore; use TryAcquireTimeout(n, 0) to honour
// the queue instead.
func (s *Semaphore) TryAcquire(n int64) bool {
	if n <= 0 {
		return true
	}
	return s.sync.tryShared(n, false) >= 0
}

// TryAcquireTimeout takes n permits within d, reporting success. A false
// return consumes nothing.
func (s *Semaphore) TryAcquireTimeout(n int64, d time.Duration) bool {
	if n <= 0 {
		return true
	}
	return s.sync.AcquireSharedTimeout(&s.sync, n, d)
}

// Release returns n permits, waking as many queued acquirers as the new
// total satisfies in one pass. n <= 0 is a no-op.
func (s *Semaphore) Release(n int64) {
	if n <= 0 {
		return
	}
	s.sync.ReleaseShared(&s.sync, n)
}

// Available returns the current number of permits.
func (s *Semaphore) Available() int64 {
	return s.sync.State()
}

// Drain takes every permit that is immediately available and returns how
// many it took.
func (s *Semaphore) Drain() int64 {
	return s.sync.state.drain()
}

// Reduce permanently removes n permits without blocking. Useful when the
// resource the semaphore meters shrinks. n <= 0 is a no-op.
func (s *Semaphore) Reduce(n int64) {
	if n <= 0 {
		return
	}
	s.sync.state.reduce(n)
}

// Fair reports which fairness flavour this semaphore was built with.
func (s *Semaphore) Fair() bool {
	return s.sync.fair
}

// HasWaiters reports whether goroutines may be queued for permits.
func (s *Semaphore) HasWaiters() bool {
	return s.sync.HasQueuedWaiters()
}

// QueueLength estimates the number of goroutines waiting for permits.
func (s *Semaphore) QueueLength() int {
	return s.sync.QueueLength()
}
