package channel

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterNotReadyBeforeFirstStore(t *testing.T) {
	r := NewRegister(3)
	dst := make([]float64, 3)
	if v, ok := r.TryRead(dst); ok {
		t.Fatalf("expected not ready, got version %d", v)
	}
	if r.HasNewSince(0) {
		t.Fatal("HasNewSince(0) should be false before any store")
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	r := NewRegister(2)
	r.Store(1, []float64{5, -3})
	dst := make([]float64, 2)
	v, ok := r.TryRead(dst)
	if !ok || v != 1 {
		t.Fatalf("expected version 1, got %d ok=%v", v, ok)
	}
	if dst[0] != 5 || dst[1] != -3 {
		t.Fatalf("unexpected data: %v", dst)
	}
	if !r.HasNewSince(0) || r.HasNewSince(1) {
		t.Fatal("HasNewSince mismatch after store")
	}
}

// Every element of version v is stored as float64(v), so any mix of two
// versions in one snapshot is detectable.
func TestRegisterNoTornReads(t *testing.T) {
	const dim = 64
	const versions = 5000
	r := NewRegister(dim)

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		vals := make([]float64, dim)
		for v := uint64(1); v <= versions; v++ {
			for i := range vals {
				vals[i] = float64(v)
			}
			r.Store(v, vals)
		}
		stop.Store(true)
	}()

	dst := make([]float64, dim)
	reads := 0
	for !stop.Load() {
		v, ok := r.TryRead(dst)
		if !ok {
			continue
		}
		for i := range dst {
			if dst[i] != dst[0] {
				t.Fatalf("torn read at version %d: dst[%d]=%v dst[0]=%v", v, i, dst[i], dst[0])
			}
		}
		if uint64(dst[0]) != v {
			t.Fatalf("version %d paired with data from version %v", v, dst[0])
		}
		reads++
	}
	<-done
	if reads == 0 {
		t.Fatal("reader never completed a read")
	}
}

func TestRegisterVersionsMonotonic(t *testing.T) {
	r := NewRegister(4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		vals := make([]float64, 4)
		for v := uint64(1); v <= 2000; v++ {
			r.Store(v, vals)
		}
	}()

	dst := make([]float64, 4)
	last := uint64(0)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v, ok := r.TryRead(dst)
		if ok && v < last {
			t.Fatalf("version went backwards: %d after %d", v, last)
		}
		if ok {
			last = v
		}
		if last == 2000 {
			break
		}
	}
	<-done
	if last != 2000 {
		t.Fatalf("never observed final version, last=%d", last)
	}
}
