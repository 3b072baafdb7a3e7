// Package wheel implements the hub/spoke coordination roles: the hub drives
// the primal algorithm and publishes versioned state; spokes poll it, do
// local work, and report bounds back, all without any participant blocking
// on another.
package wheel

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Wheel runs a hub and its spokes concurrently in one process, one goroutine
// per role. A failure in any role cancels the rest; a clean hub termination
// lets every spoke observe the flag and finish.
type Wheel struct {
	hub    *Hub
	spokes []*Spoke
	log    *zap.Logger
}

func New(hub *Hub, spokes []*Spoke, log *zap.Logger) *Wheel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Wheel{hub: hub, spokes: spokes, log: log}
}

func (w *Wheel) Hub() *Hub { return w.hub }

// Spin runs everything to termination. It returns the hub's final snapshot
// and each spoke's final bound, in spoke order.
func (w *Wheel) Spin(ctx context.Context) (Snapshot, []float64, error) {
	g, ctx := errgroup.WithContext(ctx)

	var snap Snapshot
	g.Go(func() error {
		var err error
		snap, err = w.hub.Run(ctx)
		return err
	})

	finals := make([]float64, len(w.spokes))
	for i, s := range w.spokes {
		g.Go(func() error {
			var err error
			finals[i], err = s.Run(ctx)
			return err
		})
	}

	err := g.Wait()
	w.hub.Close()
	for _, s := range w.spokes {
		s.Close()
	}
	return snap, finals, err
}
