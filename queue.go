package qsync

import "github.com/llxisdsh/qsync/internal/opt"

// enq links n at the tail, lazily installing the sentinel head on the
// first-ever contention. A thread that finds tail nil races to install a
// fresh sentinel and then re-runs its own enqueue regardless of whether it
// won: at most one installation succeeds, losers simply loop.
func (s *Synchronizer) enq(n *node) {
	for {
		t := s.tail.Load()
		if t == nil {
			if s.head.CompareAndSwap(nil, &node{}) {
				s.tail.Store(s.head.Load())
			}
		} else {
			n.prev.Store(t)
			if s.tail.CompareAndSwap(t, n) {
				t.next.Store(n)
				return
			}
		}
	}
}

// addWaiter creates a node for the calling goroutine and enqueues it,
// trying the one-shot fast path before falling back to the full enq loop.
func (s *Synchronizer) addWaiter(shared bool) *node {
	n := newNode(opt.Gid(), shared)
	if t := s.tail.Load(); t != nil {
		n.prev.Store(t)
		if s.tail.CompareAndSwap(t, n) {
			t.next.Store(n)
			return n
		}
	}
	s.enq(n)
	return n
}

// setHead promotes n to be the sentinel: the slot of "whoever holds or most
// recently held the resource". The waiter identity is detached; the
// goroutine owns the head slot now and will never be parked through it.
func (s *Synchronizer) setHead(n *node) {
	s.head.Store(n)
	n.prev.Store(nil)
	n.gid.Store(0)
}

// unparkSuccessor wakes the nearest live waiter behind n. The forward next
// edge is tried first; if it is missing or cancelled, scan backward from
// tail, which is always reachable through prev.
func (s *Synchronizer) unparkSuccessor(n *node) {
	if st := n.status.Load(); st < 0 {
		n.status.CompareAndSwap(st, 0)
	}

	succ := n.next.Load()
	if succ == nil || succ.status.Load() > 0 {
		succ = nil
		for t := s.tail.Load(); t != nil && t != n; t = t.prev.Load() {
			if t.status.Load() <= 0 {
				succ = t
			}
		}
	}
	if succ != nil {
		succ.unpark()
	}
}

// cancelAcquire unlinks a node whose waiter gave up (context cancellation,
// timeout, or a panicking policy hook). Every branch below either re-links
// the queue around the node or explicitly wakes forward; a cancellation
// must never leave downstream waiters stranded behind a dead node.
func (s *Synchronizer) cancelAcquire(n *node) {
	if n == nil {
		return
	}
	n.gid.Store(0)

	// Skip over cancelled predecessors. prev is authoritative here.
	pred := n.prev.Load()
	for pred.status.Load() > 0 {
		pred = pred.prev.Load()
		n.prev.Store(pred)
	}
	predNext := pred.next.Load()

	n.status.Store(statusCancelled)

	if n == s.tail.Load() && s.tail.CompareAndSwap(n, pred) {
		// We were the tail: retreat the tail and sever the dangling next.
		pred.next.CompareAndSwap(predNext, nil)
	} else {
		// If the predecessor is a live waiter that is (or can be marked)
		// SIGNAL, splice it straight to our successor. Otherwise we are
		// the head's effective successor and the wake that may already be
		// in flight for us must be passed on.
		ps := pred.status.Load()
		if pred != s.head.Load() &&
			(ps == statusSignal || (ps <= 0 && pred.status.CompareAndSwap(ps, statusSignal))) &&
			pred.gid.Load() != 0 {
			next := n.next.Load()
			if next != nil && next.status.Load() <= 0 {
				pred.next.CompareAndSwap(predNext, next)
			}
		} else {
			s.unparkSuccessor(n)
		}
	}

	n.next.Store(n) // self-link so stale traversals terminate
}

// shouldPark decides, after a failed acquire attempt, whether the caller
// may suspend. Parking is only safe once the predecessor is committed to
// SIGNAL; until then the caller takes one more spin through the acquire
// loop so a release landing between the check and the park is not missed.
func (s *Synchronizer) shouldPark(pred, n *node) bool {
	ps := pred.status.Load()
	if ps == statusSignal {
		return true
	}
	if ps > 0 {
		// Predecessor cancelled: splice past it and retry.
		for {
			pred = pred.prev.Load()
			n.prev.Store(pred)
			if pred.status.Load() <= 0 {
				break
			}
		}
		pred.next.Store(n)
	} else {
		pred.status.CompareAndSwap(ps, statusSignal)
	}
	return false
}

// HasQueuedWaiters reports whether any goroutine may be queued. Because the
// queue mutates concurrently, a true result is only a hint.
func (s *Synchronizer) HasQueuedWaiters() bool {
	return s.head.Load() != s.tail.Load()
}

// QueueLength returns a best-effort estimate of the number of queued
// waiters. Nodes whose waiter already gave up or was promoted do not count.
func (s *Synchronizer) QueueLength() int {
	n := 0
	h := s.head.Load()
	for p := s.tail.Load(); p != nil && p != h; p = p.prev.Load() {
		if p.gid.Load() != 0 {
			n++
		}
	}
	return n
}

// HasQueuedPredecessors reports whether any goroutine other than the caller
// has been waiting longer. Fair policies consult this before attempting
// their CAS so they never barge past the queue; the caller's own node at
// the front does not count, which is what lets a woken waiter retry.
func (s *Synchronizer) HasQueuedPredecessors() bool {
	t := s.tail.Load()
	h := s.head.Load()
	if h == t {
		return false
	}
	n := h.next.Load()
	return n == nil || n.gid.Load() != opt.Gid()
}
