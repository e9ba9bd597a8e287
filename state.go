package qsync

import "sync/atomic"

// cell is the single synchronization word every policy drives. Its meaning
// belongs to the policy, not the engine: hold count for a reentrant lock,
// remaining permits for a semaphore, remaining count for a latch,
// generation|parties for a barrier.
//
// The cell is mutated exclusively through CAS (or an owner-only store, see
// [Synchronizer.SetState]); a failed CAS is never an error, only a signal
// to re-read and retry.
type cell struct {
	v atomic.Int64
}

func (c *cell) load() int64 {
	return c.v.Load()
}

func (c *cell) store(n int64) {
	c.v.Store(n)
}

func (c *cell) cas(old, new int64) bool {
	return c.v.CompareAndSwap(old, new)
}

// reduce permanently removes delta units without blocking, possibly driving
// the value negative. Wrapping past the representable range is a caller bug
// and panics rather than silently corrupting the word.
func (c *cell) reduce(delta int64) {
	for {
		cur := c.v.Load()
		next := cur - delta
		if delta > 0 && next > cur {
			panic("qsync: state underflow")
		}
		if delta < 0 && next < cur {
			panic("qsync: state overflow")
		}
		if c.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

// drain swaps the word to zero and reports what was there.
func (c *cell) drain() int64 {
	for {
		cur := c.v.Load()
		if cur == 0 || c.v.CompareAndSwap(cur, 0) {
			return cur
		}
	}
}
