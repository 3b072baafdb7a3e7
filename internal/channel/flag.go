package channel

import (
	"fmt"
	"sync/atomic"

	"spinwheel/internal/core/network"
)

// FlagWriter publishes the termination latch. Only the hub holds one; Set is
// idempotent and the flag never reverts.
type FlagWriter struct {
	ps    network.PubSub
	topic string
	set   atomic.Bool
}

func NewFlagWriter(ps network.PubSub, topic string) *FlagWriter {
	return &FlagWriter{ps: ps, topic: topic}
}

// Set raises the flag. The broadcast happens once, on the first call.
func (f *FlagWriter) Set() error {
	if !f.set.CompareAndSwap(false, true) {
		return nil
	}
	if err := f.ps.Publish(f.topic, []byte(`{"terminate":true}`)); err != nil {
		return fmt.Errorf("publish %s: %w", f.topic, err)
	}
	return nil
}

func (f *FlagWriter) IsSet() bool { return f.set.Load() }

// FlagReader observes the termination latch. Once IsSet has returned true it
// returns true forever.
type FlagReader struct {
	set    atomic.Bool
	cancel func()
}

func NewFlagReader(ps network.PubSub, topic string) (*FlagReader, error) {
	ch, cancel, err := ps.Subscribe(topic)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", topic, err)
	}
	r := &FlagReader{cancel: cancel}
	go func() {
		for range ch {
			// The writer only ever sends true.
			r.set.Store(true)
		}
	}()
	return r, nil
}

func (r *FlagReader) IsSet() bool { return r.set.Load() }

func (r *FlagReader) Close() { r.cancel() }
