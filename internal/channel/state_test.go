package channel

import (
	"testing"
	"time"

	"spinwheel/internal/core/network"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStateWriterReaderRoundTrip(t *testing.T) {
	ps := network.NewMemoryPubSub()
	topic := StateTopic("run", StateWeights)

	r, err := NewReader(ps, topic, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	w := NewWriter(ps, topic, 3, nil)

	dst := make([]float64, 3)
	if _, ok := r.TryRead(dst); ok {
		t.Fatal("reader ready before any publish")
	}

	v, err := w.Publish([]float64{1.5, -2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("first publish got version %d", v)
	}

	waitFor(t, 2*time.Second, func() bool {
		version, ok := r.TryRead(dst)
		return ok && version == 1
	})
	if dst[0] != 1.5 || dst[1] != -2 || dst[2] != 0 {
		t.Fatalf("unexpected snapshot: %v", dst)
	}
}

func TestStateWriterRejectsWrongDimension(t *testing.T) {
	ps := network.NewMemoryPubSub()
	w := NewWriter(ps, StateTopic("run", StateWeights), 2, nil)
	if _, err := w.Publish([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected dimension error")
	}
	if w.Version() != 0 {
		t.Fatalf("failed publish bumped version to %d", w.Version())
	}
}

func TestStateReaderSkipsToLatest(t *testing.T) {
	ps := network.NewMemoryPubSub()
	topic := StateTopic("run", StateWeights)

	r, err := NewReader(ps, topic, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	w := NewWriter(ps, topic, 1, nil)

	for i := 0; i < 5; i++ {
		if _, err := w.Publish([]float64{float64(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}

	dst := make([]float64, 1)
	waitFor(t, 2*time.Second, func() bool {
		v, ok := r.TryRead(dst)
		return ok && v == 5
	})
	if dst[0] != 5 {
		t.Fatalf("version 5 carried value %v", dst[0])
	}

	// A reader attached late still catches up from the next publish.
	late, err := NewReader(ps, topic, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer late.Close()
	if _, err := w.Publish([]float64{6}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return late.HasNewSince(0) })
	v, ok := late.TryRead(dst)
	if !ok || v != 6 {
		t.Fatalf("late reader got version %d ok=%v", v, ok)
	}
}

func TestFlagLatchesOnce(t *testing.T) {
	ps := network.NewMemoryPubSub()
	topic := TerminateTopic("run")

	r, err := NewFlagReader(ps, topic)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	w := NewFlagWriter(ps, topic)

	if w.IsSet() || r.IsSet() {
		t.Fatal("flag set before Set")
	}
	if err := w.Set(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return r.IsSet() })

	// Idempotent; the latch never drops.
	if err := w.Set(); err != nil {
		t.Fatal(err)
	}
	if !w.IsSet() || !r.IsSet() {
		t.Fatal("flag dropped after second Set")
	}
}

func TestReportStream(t *testing.T) {
	ps := network.NewMemoryPubSub()
	topic := ReportTopic("run", "bound")

	c, err := NewReportCollector(ps, []string{topic}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	w := NewReportWriter(ps, topic, "bound")

	if got := c.Drain(); len(got) != 0 {
		t.Fatalf("drained %d reports before any send", len(got))
	}

	for i, bound := range []float64{3, 7, 5} {
		err := w.Send(Report{StateVersion: uint64(i), Bound: bound, Usable: true})
		if err != nil {
			t.Fatal(err)
		}
	}

	var got []Report
	waitFor(t, 2*time.Second, func() bool {
		got = append(got, c.Drain()...)
		return len(got) == 3
	})
	for i, r := range got {
		if r.Spoke != "bound" {
			t.Fatalf("report %d has spoke %q", i, r.Spoke)
		}
		if r.Seq != uint64(i+1) {
			t.Fatalf("report %d has seq %d", i, r.Seq)
		}
		if r.StateVersion != uint64(i) || !r.Usable {
			t.Fatalf("report %d round-tripped wrong: %+v", i, r)
		}
	}
}

func TestReportCollectorMultipleSpokes(t *testing.T) {
	ps := network.NewMemoryPubSub()
	topics := []string{ReportTopic("run", "a"), ReportTopic("run", "b")}

	c, err := NewReportCollector(ps, topics, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	wa := NewReportWriter(ps, topics[0], "a")
	wb := NewReportWriter(ps, topics[1], "b")
	if err := wa.Send(Report{Bound: 1, Usable: true}); err != nil {
		t.Fatal(err)
	}
	if err := wb.Send(Report{Bound: 2, Usable: true}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	waitFor(t, 2*time.Second, func() bool {
		for _, r := range c.Drain() {
			seen[r.Spoke] = true
		}
		return seen["a"] && seen["b"]
	})
}
