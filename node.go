package qsync

import (
	"context"
	"sync/atomic"
	"time"
)

// Wait status values carried by a queued node.
//
// A node starts at 0. SIGNAL on a node means its successor is (or is about
// to be) parked and must be unparked when this node releases or cancels.
// CANCELLED is terminal. PROPAGATE is only ever set on the head and records
// that a shared release happened while no successor looked wakeable, so the
// next acquirer must re-run the cascade rather than skip it.
const (
	statusSignal    int32 = -1
	statusCancelled int32 = 1
	statusCondition int32 = -2 // reserved for condition waits
	statusPropagate int32 = -3
)

// node is one link of the intrusive wait queue. prev is the authoritative
// edge: cancellation cleanup always walks prev. next is an optimization
// that may lag or point at a stale node; readers that follow it fall back
// to a backward scan from tail (see unparkSuccessor).
type node struct {
	prev   atomic.Pointer[node]
	next   atomic.Pointer[node]
	status atomic.Int32

	// gid identifies the waiter. It is zeroed when the node is promoted to
	// head or cancelled, so a node is never woken on a waiter's behalf
	// twice and introspection does not count it. The sentinel head always
	// has gid 0.
	gid atomic.Int64

	shared bool

	// wake is the park token. Capacity 1 makes an unpark that arrives
	// before the park latch instead of getting lost, which is what closes
	// the check-then-park race. The sentinel head has no token.
	wake chan struct{}
}

func newNode(gid int64, shared bool) *node {
	n := &node{shared: shared, wake: make(chan struct{}, 1)}
	n.gid.Store(gid)
	return n
}

// unpark hands the token to the waiter. Delivering to a node that already
// holds a token, or whose waiter has given up, is harmless: the send drops.
func (n *node) unpark() {
	if n.wake == nil {
		return
	}
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// park blocks until the token arrives. Callers re-check their predecessor
// after waking; a spurious or stale token only costs one loop iteration.
func (n *node) park() {
	<-n.wake
}

func (n *node) parkContext(ctx context.Context) error {
	select {
	case <-n.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parkUntil blocks until the token arrives or the deadline passes, and
// reports whether any time remained when it returned.
func (n *node) parkUntil(deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-n.wake:
		return true
	case <-t.C:
		return false
	}
}
