package qsync

import (
	"context"

	"github.com/llxisdsh/pb"
)

// MutexGroup provides a reentrant [Mutex] per key without pre-allocating
// one lock per possible key.
//
// Features:
//   - Infinite Keys: locks spring into existence on first use.
//   - Auto-Cleanup: an entry is removed once no holder or waiter remains,
//     tracked by reference counting.
//
// Usage:
//
//	var group MutexGroup[string]
//	group.Lock("user-123")
//	// critical section for user-123
//	group.Unlock("user-123")
type MutexGroup[K comparable] struct {
	_ noCopy
	m pb.MapOf[K, *mutexGroupEntry]
}

type mutexGroupEntry struct {
	mu Mutex
	// ref counts holders plus waiters; guarded by the map's per-key entry
	// processing.
	ref int32
}

// Lock acquires the lock for k, blocking until it is available.
func (g *MutexGroup[K]) Lock(k K) {
	g.retain(k).mu.Lock()
}

// LockContext acquires the lock for k unless ctx is done first.
func (g *MutexGroup[K]) LockContext(ctx context.Context, k K) error {
	e := g.retain(k)
	if err := e.mu.LockContext(ctx); err != nil {
		g.release(k)
		return err
	}
	return nil
}

// TryLock acquires the lock for k only if it is immediately available or
// already held by the caller.
func (g *MutexGroup[K]) TryLock(k K) bool {
	e := g.retain(k)
	if !e.mu.TryLock() {
		g.release(k)
		return false
	}
	return true
}

// Unlock releases one hold of the lock for k. Unlocking a key the caller
// does not hold panics, as Mutex does.
func (g *MutexGroup[K]) Unlock(k K) {
	var e *mutexGroupEntry
	g.m.ProcessEntry(k,
		func(l *pb.EntryOf[K, *mutexGroupEntry]) (*pb.EntryOf[K, *mutexGroupEntry], *mutexGroupEntry, bool) {
			if l != nil {
				e = l.Value
			}
			return l, e, l != nil
		},
	)
	if e == nil {
		panic("qsync: unlock of mutex not held by caller")
	}
	e.mu.Unlock()
	g.release(k)
}

func (g *MutexGroup[K]) retain(k K) *mutexGroupEntry {
	e, _ := g.m.ProcessEntry(k,
		func(l *pb.EntryOf[K, *mutexGroupEntry]) (*pb.EntryOf[K, *mutexGroupEntry], *mutexGroupEntry, bool) {
			if l != nil {
				l.Value.ref++
				return l, l.Value, true
			}
			e := &mutexGroupEntry{ref: 1}
			return &pb.EntryOf[K, *mutexGroupEntry]{Value: e}, e, false
		},
	)
	return e
}

func (g *MutexGroup[K]) release(k K) {
	g.m.ProcessEntry(k,
		func(l *pb.EntryOf[K, *mutexGroupEntry]) (*pb.EntryOf[K, *mutexGroupEntry], *mutexGroupEntry, bool) {
			if l == nil {
				return nil, nil, false
			}
			l.Value.ref--
			if l.Value.ref <= 0 {
				return nil, nil, true // drop the entry
			}
			return l, l.Value, false
		},
	)
}
