// Package channel implements the versioned single-writer/multi-reader state
// exchange between the hub and its spokes: a lock-free in-process register,
// pubsub-mirrored state channels, the termination latch, and report streams.
package channel

import (
	"math"
	"runtime"
	"sync/atomic"
)

// Register is a fixed-dimension numeric buffer shared by one writer and any
// number of readers without locks. Writes are framed by a sequence counter
// that is odd while a store is in flight; readers that observe an odd or
// changed sequence retry, so a returned snapshot is never torn.
type Register struct {
	seq atomic.Uint64
	ver atomic.Uint64
	buf []atomic.Uint64
}

func NewRegister(dim int) *Register {
	return &Register{buf: make([]atomic.Uint64, dim)}
}

func (r *Register) Dim() int { return len(r.buf) }

// Version returns the most recently published version, 0 if none yet.
func (r *Register) Version() uint64 { return r.ver.Load() }

// HasNewSince reports whether a version greater than lastSeen has been
// published. Cheap: a single atomic load.
func (r *Register) HasNewSince(lastSeen uint64) bool {
	return r.ver.Load() > lastSeen
}

// Store publishes vals as version v. Only the designated writer may call
// Store, with strictly increasing versions >= 1. The version bump is the
// last visible step, inside the seqlock window.
func (r *Register) Store(v uint64, vals []float64) {
	r.seq.Add(1) // odd: write in flight
	for i := range r.buf {
		r.buf[i].Store(math.Float64bits(vals[i]))
	}
	r.ver.Store(v)
	r.seq.Add(1) // even: published
}

// TryRead copies the latest consistent snapshot into dst and returns its
// version. ok is false if nothing has been published yet. Never blocks on
// the writer; a read concurrent with a store retries until it lands between
// stores, which is bounded in practice by the store being a short copy.
func (r *Register) TryRead(dst []float64) (version uint64, ok bool) {
	for {
		s1 := r.seq.Load()
		if s1 == 0 {
			return 0, false
		}
		if s1&1 == 1 {
			runtime.Gosched()
			continue
		}
		v := r.ver.Load()
		for i := range r.buf {
			dst[i] = math.Float64frombits(r.buf[i].Load())
		}
		if r.seq.Load() == s1 {
			return v, true
		}
		runtime.Gosched()
	}
}
