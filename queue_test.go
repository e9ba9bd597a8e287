package qsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// These tests aim at the queue maintenance paths: cancellation unlink in
// the middle of the queue, at the tail, and at the head's successor, where
// a wake already in flight has to be passed on rather than dropped.

func TestCancelMiddleWaiterUnlinks(t *testing.T) {
	var l testLock
	l.lock()

	// First waiter parks, middle waiter will cancel, last waiter parks.
	first := make(chan struct{})
	go func() {
		l.lock()
		l.unlock()
		close(first)
	}()
	waitQueueLen(t, &l.Synchronizer, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- l.AcquireContext(ctx, &l, 1)
	}()
	waitQueueLen(t, &l.Synchronizer, 2)

	last := make(chan struct{})
	go func() {
		l.lock()
		l.unlock()
		close(last)
	}()
	waitQueueLen(t, &l.Synchronizer, 3)

	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("middle waiter: %v, want context.Canceled", err)
	}
	waitQueueLen(t, &l.Synchronizer, 2)

	// Both survivors must drain past the cancelled node.
	l.unlock()
	<-first
	<-last
}

func TestCancelTailWaiterRetreatsTail(t *testing.T) {
	var l testLock
	l.lock()

	keeper := make(chan struct{})
	go func() {
		l.lock()
		l.unlock()
		close(keeper)
	}()
	waitQueueLen(t, &l.Synchronizer, 1)

	// Tail waiter times out.
	if l.AcquireTimeout(&l, 1, 20*time.Millisecond) {
		t.Fatalf("timed tail waiter acquired a held lock")
	}
	waitQueueLen(t, &l.Synchronizer, 1)

	// A fresh waiter enqueues behind the retreated tail and still drains.
	late := make(chan struct{})
	go func() {
		l.lock()
		l.unlock()
		close(late)
	}()
	waitQueueLen(t, &l.Synchronizer, 2)

	l.unlock()
	<-keeper
	<-late
}

func TestCancelHeadSuccessorPassesWake(t *testing.T) {
	// The head's immediate successor gives up at the same moment the
	// release fires. The wake that targeted the leaver must reach the
	// next live waiter; a lost wake here deadlocks the test.
	for range 50 {
		var l testLock
		l.lock()

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() {
			errc <- l.AcquireContext(ctx, &l, 1)
		}()
		waitQueueLen(t, &l.Synchronizer, 1)

		second := make(chan struct{})
		go func() {
			l.lock()
			l.unlock()
			close(second)
		}()
		waitQueueLen(t, &l.Synchronizer, 2)

		// Cancel and release as close together as the scheduler allows.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); cancel() }()
		go func() { defer wg.Done(); l.unlock() }()
		wg.Wait()

		err := <-errc
		if err == nil {
			// The leaver won the race and acquired after all; it still
			// holds the lock and must give it back.
			l.unlock()
		}
		select {
		case <-second:
		case <-time.After(2 * time.Second):
			t.Fatalf("second waiter never woke (first waiter err=%v)", err)
		}
	}
}

func TestQueueLengthExcludesCancelled(t *testing.T) {
	var l testLock
	l.lock()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- l.AcquireContext(ctx, &l, 1)
	}()
	waitQueueLen(t, &l.Synchronizer, 1)

	cancel()
	<-errc
	waitQueueLen(t, &l.Synchronizer, 0)
	l.unlock()
}

func TestConcurrentEnqueueUnderChurn(t *testing.T) {
	var l testLock
	const goroutines = 24
	const iters = 200

	var held atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := range goroutines {
		go func(i int) {
			defer wg.Done()
			for range iters {
				// Mix plain, timed and context acquires so cancellation
				// churns the queue while others enqueue.
				switch i % 3 {
				case 0:
					l.lock()
				case 1:
					if !l.AcquireTimeout(&l, 1, 5*time.Millisecond) {
						continue
					}
				default:
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
					err := l.AcquireContext(ctx, &l, 1)
					cancel()
					if err != nil {
						continue
					}
				}
				if h := held.Add(1); h != 1 {
					t.Errorf("%d goroutines inside the critical section", h)
				}
				held.Add(-1)
				l.unlock()
			}
		}(i)
	}
	wg.Wait()

	if l.State() != 0 {
		t.Fatalf("lock leaked: state=%d", l.State())
	}
	if n := l.QueueLength(); n != 0 {
		t.Fatalf("queue leaked: %d phantom waiters", n)
	}
}
