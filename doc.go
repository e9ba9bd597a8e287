// Package qsync provides blocking synchronization primitives that share a
// single lock-free, queue-based engine.
//
// The engine, [Synchronizer], owns the hard part once: an integer state
// word mutated only by CAS, an intrusive FIFO wait queue whose links are
// maintained without a lock, latched park/unpark tokens, cancellation that
// never strands a downstream waiter, and two wake disciplines: single
// successor for exclusive mode, a cascading pass for shared mode.
//
// Primitives are thin policies over that engine:
//
//   - [Mutex]: reentrant exclusive lock, barging or strict-FIFO fair.
//   - [Semaphore]: counting permits, barging or fair, with Drain/Reduce.
//   - [Latch]: one-shot countdown gate that never rearms.
//   - [Barrier]: reusable generation-based rendezvous for a fixed party.
//   - [MutexGroup]: a reentrant Mutex per key with auto-cleanup.
//
// Custom primitives implement [Exclusive] or [Shared] and drive the same
// engine; the hooks attempt exactly once, never block, and have no side
// effect on failure.
//
// Blocking operations come in three flavours throughout: plain (waits
// forever), Context (aborts with ctx.Err() when the context is done), and
// Timeout (reports failure as a plain bool). An aborted wait consumes
// nothing: permits that would have gone to the leaver flow to the next
// eligible waiter.
//
// Misuse, such as unlocking a mutex the caller does not hold or
// overflowing a permit count, panics; these are programming errors, not
// runtime conditions to handle.
package qsync
