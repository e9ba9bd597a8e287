package qsync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/llxisdsh/qsync/internal/opt"
)

// Exclusive is the capability contract for policies that hand the resource
// to one goroutine at a time (locks). Hooks must attempt exactly once,
// never block, and leave the state untouched on failure.
type Exclusive interface {
	// TryAcquire attempts one exclusive acquisition of arg units.
	TryAcquire(arg int64) bool
	// TryRelease gives back arg units and reports whether the resource is
	// now fully free, i.e. whether a successor should be woken.
	TryRelease(arg int64) bool
	// IsHeldExclusively reports whether the calling goroutine owns the
	// resource. Used for reentrancy and misuse checks.
	IsHeldExclusively() bool
}

// Shared is the capability contract for policies that admit several
// goroutines at once (semaphores, latches, barriers).
type Shared interface {
	// TryAcquireShared attempts one shared acquisition of arg units.
	// Negative means failure; zero means success with nothing left over;
	// positive means success with leftover capacity that should be
	// propagated to the next shared waiter.
	TryAcquireShared(arg int64) int64
	// TryReleaseShared gives back arg units and reports whether waiters
	// should be considered for waking.
	TryReleaseShared(arg int64) bool
}

// Synchronizer is a queue-based blocking synchronizer: one engine for
// "block until a condition on an integer word becomes true, then wake
// exactly the right waiters in the right order". Locks, semaphores,
// latches and barriers differ only in the policy hooks they plug in.
//
// The engine itself never takes a lock. The state word and the head/tail
// anchors are the only shared mutation points, every mutation is a single
// CAS, and every CAS failure is answered by re-reading and retrying.
// Waiters sit in an intrusive FIFO whose head is always a sentinel for
// "whoever holds or most recently held the resource".
//
// The zero value is ready to use with a zero state word; policies that
// need a different initial word call SetState before first use.
type Synchronizer struct {
	_ noCopy

	state cell
	// Keep the hot state word off the cache line the queue anchors churn.
	_ [opt.CacheLineSize_ - 8]byte

	head atomic.Pointer[node]
	tail atomic.Pointer[node]
}

// State returns the current synchronization word.
func (s *Synchronizer) State() int64 {
	return s.state.load()
}

// SetState stores the word directly. Only valid where no other goroutine
// can be writing, such as construction or an owner-only update inside an
// exclusive hold.
func (s *Synchronizer) SetState(v int64) {
	s.state.store(v)
}

// CompareAndSetState atomically replaces the word if it still equals old.
func (s *Synchronizer) CompareAndSetState(old, new int64) bool {
	return s.state.cas(old, new)
}

// ---------------------------------------------------------------------------
// Exclusive mode
// ---------------------------------------------------------------------------

// Acquire acquires in exclusive mode, parking as long as it takes. It is
// not cancellable; use AcquireContext when the wait must be abortable.
func (s *Synchronizer) Acquire(p Exclusive, arg int64) {
	if p.TryAcquire(arg) {
		return
	}
	s.acquireQueued(s.addWaiter(false), p, arg)
}

func (s *Synchronizer) acquireQueued(n *node, p Exclusive, arg int64) {
	acquired := false
	defer func() {
		// A panicking TryAcquire must not strand the queue behind us.
		if !acquired {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() && p.TryAcquire(arg) {
			s.setHead(n)
			pred.next.Store(nil)
			acquired = true
			return
		}
		if s.shouldPark(pred, n) {
			n.park()
		}
	}
}

// AcquireContext is the interruptible acquire: it gives up and unwinds via
// cancellation when ctx is done, returning ctx.Err(). The queue and state
// are left exactly as if the attempt had never been made.
func (s *Synchronizer) AcquireContext(ctx context.Context, p Exclusive, arg int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.TryAcquire(arg) {
		return nil
	}

	n := s.addWaiter(false)
	acquired := false
	defer func() {
		if !acquired {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() && p.TryAcquire(arg) {
			s.setHead(n)
			pred.next.Store(nil)
			acquired = true
			return nil
		}
		if s.shouldPark(pred, n) {
			if err := n.parkContext(ctx); err != nil {
				return err
			}
		}
	}
}

// spinTimeoutThreshold is the remaining budget below which a timed acquire
// spins instead of arming a timer; at that scale the park/unpark round trip
// costs more than the wait.
const spinTimeoutThreshold = time.Microsecond

// AcquireTimeout is the timed acquire. A false return means the budget ran
// out with no units consumed and no harm to other waiters.
func (s *Synchronizer) AcquireTimeout(p Exclusive, arg int64, d time.Duration) bool {
	if p.TryAcquire(arg) {
		return true
	}
	if d <= 0 {
		return false
	}
	deadline := time.Now().Add(d)

	n := s.addWaiter(false)
	acquired := false
	defer func() {
		if !acquired {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() && p.TryAcquire(arg) {
			s.setHead(n)
			pred.next.Store(nil)
			acquired = true
			return true
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false
		}
		if s.shouldPark(pred, n) && left > spinTimeoutThreshold {
			n.parkUntil(deadline)
		}
	}
}

// Release releases in exclusive mode and, if the policy reports the
// resource fully free, wakes the head's nearest live successor.
func (s *Synchronizer) Release(p Exclusive, arg int64) bool {
	if !p.TryRelease(arg) {
		return false
	}
	if h := s.head.Load(); h != nil && h.status.Load() != 0 {
		s.unparkSuccessor(h)
	}
	return true
}

// ---------------------------------------------------------------------------
// Shared mode
// ---------------------------------------------------------------------------

// AcquireShared acquires in shared mode, parking as long as it takes.
func (s *Synchronizer) AcquireShared(p Shared, arg int64) {
	if p.TryAcquireShared(arg) < 0 {
		s.acquireSharedQueued(s.addWaiter(true), p, arg)
	}
}

func (s *Synchronizer) acquireSharedQueued(n *node, p Shared, arg int64) {
	acquired := false
	defer func() {
		if !acquired {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() {
			if r := p.TryAcquireShared(arg); r >= 0 {
				s.setHeadAndPropagate(n, r)
				pred.next.Store(nil)
				acquired = true
				return
			}
		}
		if s.shouldPark(pred, n) {
			n.park()
		}
	}
}

// AcquireSharedContext is the interruptible shared acquire.
func (s *Synchronizer) AcquireSharedContext(ctx context.Context, p Shared, arg int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.TryAcquireShared(arg) >= 0 {
		return nil
	}

	n := s.addWaiter(true)
	acquired := false
	defer func() {
		if !acquired {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() {
			if r := p.TryAcquireShared(arg); r >= 0 {
				s.setHeadAndPropagate(n, r)
				pred.next.Store(nil)
				acquired = true
				return nil
			}
		}
		if s.shouldPark(pred, n) {
			if err := n.parkContext(ctx); err != nil {
				return err
			}
		}
	}
}

// AcquireSharedTimeout is the timed shared acquire.
func (s *Synchronizer) AcquireSharedTimeout(p Shared, arg int64, d time.Duration) bool {
	if p.TryAcquireShared(arg) >= 0 {
		return true
	}
	if d <= 0 {
		return false
	}
	deadline := time.Now().Add(d)

	n := s.addWaiter(true)
	acquired := false
	defer func() {
		if !acquired {
			s.cancelAcquire(n)
		}
	}()
	for {
		pred := n.prev.Load()
		if pred == s.head.Load() {
			if r := p.TryAcquireShared(arg); r >= 0 {
				s.setHeadAndPropagate(n, r)
				pred.next.Store(nil)
				acquired = true
				return true
			}
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false
		}
		if s.shouldPark(pred, n) && left > spinTimeoutThreshold {
			n.parkUntil(deadline)
		}
	}
}

// ReleaseShared releases in shared mode and runs the wake cascade.
func (s *Synchronizer) ReleaseShared(p Shared, arg int64) bool {
	if !p.TryReleaseShared(arg) {
		return false
	}
	s.doReleaseShared()
	return true
}

// setHeadAndPropagate promotes a successful shared acquirer to head and, if
// capacity remains (or an earlier release left a propagation hint), keeps
// the cascade going so one release can unblock a whole prefix of adjacent
// shared waiters in a single pass.
func (s *Synchronizer) setHeadAndPropagate(n *node, propagate int64) {
	h := s.head.Load()
	s.setHead(n)

	cascade := propagate > 0 || h == nil || h.status.Load() < 0
	if !cascade {
		// Re-read: a release may have replaced the head underneath us.
		h = s.head.Load()
		cascade = h == nil || h.status.Load() < 0
	}
	if cascade {
		if next := n.next.Load(); next == nil || next.shared {
			s.doReleaseShared()
		}
	}
}

// doReleaseShared advances the wake cascade past the current head. The loop
// re-runs until the head it observed is still the head at the bottom: a
// just-woken waiter may race ahead and promote itself before we get here,
// in which case its successor becomes our responsibility too. This
// repeat-until-stable shape is what keeps overlapping releases correct
// without a lock.
func (s *Synchronizer) doReleaseShared() {
	for {
		h := s.head.Load()
		if h != nil && h != s.tail.Load() {
			switch st := h.status.Load(); st {
			case statusSignal:
				if !h.status.CompareAndSwap(statusSignal, 0) {
					continue // lost a wake race, re-examine
				}
				s.unparkSuccessor(h)
			case 0:
				// No parked successor visible: leave a hint so the next
				// acquirer re-runs the cascade instead of skipping it.
				if !h.status.CompareAndSwap(0, statusPropagate) {
					continue
				}
			}
		}
		if h == s.head.Load() {
			return
		}
	}
}
