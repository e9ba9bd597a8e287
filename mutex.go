package qsync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/llxisdsh/qsync/internal/opt"
)

// Mutex is a reentrant mutual-exclusion lock built on [Synchronizer].
// The state word is 0 when free and the owner's hold count when held;
// the same goroutine may lock it repeatedly and must unlock exactly as
// many times.
//
// Two fairness flavours exist:
//   - NewMutex: barging. A fresh arrival may CAS the lock ahead of parked
//     waiters, trading FIFO order for throughput.
//   - NewFairMutex: strict FIFO. An arrival first checks the wait queue
//     and refuses to jump it.
//
// Ownership is tracked by goroutine ID, so Lock/Unlock must happen on the
// same goroutine. That costs a stack-header parse per operation; prefer
// Semaphore(1) where reentrancy and ownership checks are not needed.
type Mutex struct {
	_    noCopy
	sync mutexSync
}

type mutexSync struct {
	Synchronizer
	owner atomic.Int64
	fair  bool
}

// NewMutex returns an unlocked barging (nonfair) mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// NewFairMutex returns an unlocked mutex that grants the lock in strict
// arrival order.
func NewFairMutex() *Mutex {
	m := &Mutex{}
	m.sync.fair = true
	return m
}

// TryAcquire implements [Exclusive]. Fairness is the only axis of
// variation: the fair flavour checks for queued predecessors before the
// CAS, the barging flavour goes straight for it.
func (m *mutexSync) TryAcquire(acquires int64) bool {
	return m.tryLock(acquires, m.fair)
}

func (m *mutexSync) tryLock(acquires int64, fair bool) bool {
	gid := opt.Gid()
	c := m.State()
	if c == 0 {
		if fair && m.HasQueuedPredecessors() {
			return false
		}
		if m.CompareAndSetState(0, acquires) {
			m.owner.Store(gid)
			return true
		}
		return false
	}
	if m.owner.Load() == gid {
		next := c + acquires
		if next < c {
			panic("qsync: mutex hold count overflow")
		}
		// Owner-only write: no other goroutine can touch a held lock's word.
		m.SetState(next)
		return true
	}
	return false
}

// TryRelease implements [Exclusive].
func (m *mutexSync) TryRelease(releases int64) bool {
	if m.owner.Load() != opt.Gid() {
		panic("qsync: unlock of mutex not held by caller")
	}
	c := m.State() - releases
	free := c == 0
	if free {
		m.owner.Store(0)
	}
	m.SetState(c)
	return free
}

// IsHeldExclusively implements [Exclusive].
func (m *mutexSync) IsHeldExclusively() bool {
	return m.owner.Load() == opt.Gid()
}

// Lock acquires the lock, blocking until it is available.
func (m *Mutex) Lock() {
	m.sync.Acquire(&m.sync, 1)
}

// LockContext acquires the lock unless ctx is done first, in which case it
// returns ctx.Err() and the lock is untouched.
func (m *Mutex) LockContext(ctx context.Context) error {
	return m.sync.AcquireContext(ctx, &m.sync, 1)
}

// TryLock acquires the lock only if it is free or already held by the
// caller. It barges even on a fair mutex.
func (m *Mutex) TryLock() bool {
	return m.sync.tryLock(1, false)
}

// TryLockTimeout acquires the lock within d, reporting success. On a fair
// mutex the timed form honours the queue.
func (m *Mutex) TryLockTimeout(d time.Duration) bool {
	return m.sync.AcquireTimeout(&m.sync, 1, d)
}

// Unlock releases one hold. The lock becomes free when the hold count
// reaches zero. Unlocking a mutex not held by the caller panics.
func (m *Mutex) Unlock() {
	m.sync.Release(&m.sync, 1)
}

// HoldCount returns how many times the calling goroutine holds the lock,
// or 0 if it does not hold it.
func (m *Mutex) HoldCount() int64 {
	if !m.sync.IsHeldExclusively() {
		return 0
	}
	return m.sync.State()
}

// IsLocked reports whether any goroutine holds the lock.
func (m *Mutex) IsLocked() bool {
	return m.sync.State() != 0
}

// IsHeldByCaller reports whether the calling goroutine holds the lock.
func (m *Mutex) IsHeldByCaller() bool {
	return m.sync.IsHeldExclusively()
}

// Fair reports which fairness flavour this mutex was built with.
func (m *Mutex) Fair() bool {
	return m.sync.fair
}

// HasWaiters reports whether goroutines may be queued for this lock.
func (m *Mutex) HasWaiters() bool {
	return m.sync.HasQueuedWaiters()
}

// QueueLength estimates the number of goroutines waiting for this lock.
func (m *Mutex) QueueLength() int {
	return m.sync.QueueLength()
}
