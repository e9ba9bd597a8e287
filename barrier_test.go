package qsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarrierThreeParties(t *testing.T) {
	// Parties 1 and 2 arrive and block; party 3 trips the barrier and all
	// three proceed, with the complement restored for the next generation.
	b := NewBarrier(3)
	require.Equal(t, 3, b.Parties())

	var passed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	for range 2 {
		go func() {
			defer wg.Done()
			b.Arrive()
			passed.Add(1)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Waiting() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Waiting = %d, want 2", b.Waiting())
		}
		time.Sleep(time.Millisecond)
	}
	require.EqualValues(t, 0, passed.Load())

	idx := b.Arrive()
	wg.Wait()
	require.Equal(t, 2, idx, "tripping party gets the last arrival index")
	require.EqualValues(t, 3, passed.Load()+1)

	// Generation advanced and the full complement is back.
	require.EqualValues(t, 1, b.Generation())
	require.Equal(t, 0, b.Waiting())
}

func TestBarrierReuseLockstep(t *testing.T) {
	const parties = 5
	const cycles = 40
	b := NewBarrier(parties)

	var counter atomic.Int32
	var wg sync.WaitGroup
	wg.Add(parties)
	for range parties {
		go func() {
			defer wg.Done()
			for range cycles {
				counter.Add(1)
				b.Arrive()
				// Between these two meets every party has incremented.
				b.Arrive()
				counter.Add(-1)
				b.Arrive()
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 0, counter.Load())
	require.EqualValues(t, 3*cycles, b.Generation())
}

func TestBarrierArrivalIndices(t *testing.T) {
	const parties = 4
	b := NewBarrier(parties)

	results := make([]int, parties)
	var wg sync.WaitGroup
	wg.Add(parties)
	for i := range parties {
		go func(i int) {
			defer wg.Done()
			results[i] = b.Arrive()
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, r := range results {
		require.GreaterOrEqual(t, r, 0)
		require.Less(t, r, parties)
		seen[r] = true
	}
	require.Len(t, seen, parties, "arrival indices must be distinct: %v", results)
}

func TestBarrierSingleParty(t *testing.T) {
	b := NewBarrier(1)
	for range 3 {
		require.Equal(t, 0, b.Arrive())
	}
}

func TestBarrierInvalidParties(t *testing.T) {
	require.Panics(t, func() { NewBarrier(0) })
	require.Panics(t, func() { NewBarrier(-2) })
}
