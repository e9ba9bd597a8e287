package qsync

import (
	"context"
	"time"
)

// Latch is a one-shot countdown latch built on [Synchronizer]. The state
// word is the remaining count: waiters pass exactly when it reaches zero,
// and it never rearms, so a waiter arriving long after the last CountDown
// still returns immediately.
type Latch struct {
	_    noCopy
	sync latchSync
}

type latchSync struct {
	Synchronizer
}

// NewLatch returns a latch that opens after count countdowns. A count of
// zero is already open.
func NewLatch(count int64) *Latch {
	if count < 0 {
		panic("qsync: latch count must not be negative")
	}
	l := &Latch{}
	l.sync.SetState(count)
	return l
}

// TryAcquireShared implements [Shared]: waiting succeeds only once the
// count has hit zero, and always propagates so one countdown releases the
// whole queue in a single cascade.
func (l *latchSync) TryAcquireShared(int64) int64 {
	if l.State() == 0 {
		return 1
	}
	return -1
}

// TryReleaseShared implements [Shared]: each countdown decrements, and
// only the transition to zero reports that waiters should wake.
func (l *latchSync) TryReleaseShared(int64) bool {
	for {
		c := l.State()
		if c == 0 {
			return false
		}
		if l.CompareAndSetState(c, c-1) {
			return c == 1
		}
	}
}

// Wait blocks until the count reaches zero.
func (l *Latch) Wait() {
	l.sync.AcquireShared(&l.sync, 1)
}

// WaitContext blocks until the count reaches zero or ctx is done, in which
// case it returns ctx.Err().
func (l *Latch) WaitContext(ctx context.Context) error {
	return l.sync.AcquireSharedContext(ctx, &l.sync, 1)
}

// WaitTimeout blocks up to d and reports whether the count reached zero.
func (l *Latch) WaitTimeout(d time.Duration) bool {
	return l.sync.AcquireSharedTimeout(&l.sync, 1, d)
}

// CountDown decrements the count, releasing all waiters when it reaches
// zero. Counting down an open latch is a no-op.
func (l *Latch) CountDown() {
	l.sync.ReleaseShared(&l.sync, 1)
}

// Count returns the remaining count.
func (l *Latch) Count() int64 {
	return l.sync.State()
}

// HasWaiters reports whether goroutines may be blocked on the latch.
func (l *Latch) HasWaiters() bool {
	return l.sync.HasQueuedWaiters()
}

// QueueLength estimates the number of goroutines blocked on the latch.
func (l *Latch) QueueLength() int {
	return l.sync.QueueLength()
}
