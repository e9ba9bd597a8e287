package qsync

import "sync/atomic"

// Barrier is a reusable rendezvous point for a fixed party of goroutines.
//
// Each generation gets its own round: a [Synchronizer] in shared mode
// whose state word counts the parties still missing. An arrival decrements
// its round's count and waits on that round; the last arrival installs a
// fresh round first and only then opens the finished one, so a straggler
// can never end up queued behind a waiter of the next generation. Within a
// round the open condition is one-way: once the count hits zero it stays
// zero and the cascade drains every waiter.
type Barrier struct {
	_       noCopy
	parties int64
	gen     atomic.Int64
	round   atomic.Pointer[barrierRound]
}

// barrierRound is the per-generation policy: state counts missing parties,
// waiting succeeds exactly when it reaches zero and always propagates.
// Arrive performs the decrement itself, so releasing is purely about
// running the wake cascade.
type barrierRound struct {
	Synchronizer
}

func (r *barrierRound) TryAcquireShared(int64) int64 {
	if r.State() == 0 {
		return 1
	}
	return -1
}

func (r *barrierRound) TryReleaseShared(int64) bool {
	return true
}

// NewBarrier returns a barrier for the given number of parties.
// panic if parties is not positive.
func NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic("qsync: barrier parties out of range")
	}
	b := &Barrier{parties: int64(parties)}
	b.round.Store(b.newRound())
	return b
}

func (b *Barrier) newRound() *barrierRound {
	r := &barrierRound{}
	r.SetState(b.parties)
	return r
}

// Arrive signals that the caller reached the barrier and blocks until all
// parties of its generation have. It returns the arrival index, 0 through
// parties-1, where parties-1 marks the arrival that tripped the barrier.
//
// The last arrival advances the generation before waking anyone, so the
// barrier is immediately reusable; a racing Arrive of the next generation
// simply joins the fresh round.
func (b *Barrier) Arrive() int {
	r := b.round.Load()
	var spins int
	for {
		missing := r.State()
		if missing == 0 {
			// Stale round: it tripped while we were getting here.
			r = b.round.Load()
			continue
		}
		if r.CompareAndSetState(missing, missing-1) {
			if missing == 1 {
				// Last to arrive: next round first, then open this one.
				b.round.Store(b.newRound())
				b.gen.Add(1)
				r.ReleaseShared(r, 0)
				return int(b.parties - 1)
			}
			r.AcquireShared(r, 0)
			return int(b.parties - missing)
		}
		delay(&spins)
	}
}

// Parties returns the fixed party size.
func (b *Barrier) Parties() int {
	return int(b.parties)
}

// Waiting returns how many parties of the current generation have already
// arrived. Best-effort: the value can change before it is returned.
func (b *Barrier) Waiting() int {
	return int(b.parties - b.round.Load().State())
}

// Generation returns the number of times the barrier has tripped.
func (b *Barrier) Generation() int64 {
	return b.gen.Load()
}
