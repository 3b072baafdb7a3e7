package wheel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"spinwheel/internal/channel"
	"spinwheel/internal/core/network"
	"spinwheel/internal/metrics"
)

// Primal is the pluggable algorithm the hub drives. The hub owns publication
// and termination; the Primal owns the iterate itself.
type Primal interface {
	// WeightDim is the length of the flat dual weight vector it publishes.
	WeightDim() int
	// ConsensusDim is the length of the consensus estimate it publishes.
	ConsensusDim() int
	// Iterate advances the algorithm one step. changed false means the
	// published state would be identical, so no new version is written.
	Iterate(ctx context.Context, iter int) (w, xbar []float64, changed bool, err error)
	// Objective is the current (upper) objective estimate, used for gap
	// checks and reporting.
	Objective() float64
	// Converged reports the algorithm's own stopping criterion.
	Converged() bool
	// Consensus returns the current consensus estimate, the candidate
	// handed to final evaluation.
	Consensus() []float64
}

// HubConfig fixes the hub's termination criteria and spoke topology.
type HubConfig struct {
	// MaxIterations caps the outer loop.
	MaxIterations int
	// GapTolerance closes the run when objective minus best outer bound
	// falls below this relative tolerance. Zero disables the check.
	GapTolerance float64
	// Spokes names every report-producing spoke; their report streams are
	// attached at construction and never change.
	Spokes []string
}

// Snapshot is the hub's externally visible state at some instant.
type Snapshot struct {
	Iteration        int     `json:"iteration"`
	Version          uint64  `json:"version"`
	Objective        float64 `json:"objective"`
	BestBound        float64 `json:"best_bound"`
	BestBoundSpoke   string  `json:"best_bound_spoke,omitempty"`
	BestBoundVersion uint64  `json:"best_bound_version"`
	HasBound         bool    `json:"has_bound"`
	Infeasible       bool    `json:"infeasible"`
	Terminated       bool    `json:"terminated"`
}

// Hub coordinates the computation: it runs the primal algorithm, publishes
// each state-changing iterate as a new version, drains spoke reports without
// ever waiting on a spoke, and raises the termination flag exactly once.
type Hub struct {
	cfg     HubConfig
	primal  Primal
	w       *channel.Writer
	xbar    *channel.Writer
	term    *channel.FlagWriter
	reports *channel.ReportCollector
	log     *zap.Logger

	mu   sync.RWMutex
	snap Snapshot

	wmu      sync.Mutex
	watchers map[chan channel.Report]struct{}
}

// NewHub attaches the hub's side of every channel. An attachment failure is
// fatal: the topology is fixed at startup or not at all.
func NewHub(ps network.PubSub, run string, cfg HubConfig, primal Primal, log *zap.Logger) (*Hub, error) {
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("hub: MaxIterations must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	topics := make([]string, 0, len(cfg.Spokes))
	for _, name := range cfg.Spokes {
		topics = append(topics, channel.ReportTopic(run, name))
	}
	reports, err := channel.NewReportCollector(ps, topics, log)
	if err != nil {
		return nil, fmt.Errorf("hub: %w", err)
	}
	return &Hub{
		cfg:      cfg,
		primal:   primal,
		w:        channel.NewWriter(ps, channel.StateTopic(run, channel.StateWeights), primal.WeightDim(), log),
		xbar:     channel.NewWriter(ps, channel.StateTopic(run, channel.StateConsensus), primal.ConsensusDim(), log),
		term:     channel.NewFlagWriter(ps, channel.TerminateTopic(run)),
		reports:  reports,
		log:      log.With(zap.String("role", "hub")),
		watchers: make(map[chan channel.Report]struct{}),
	}, nil
}

// Run drives the primal loop to termination and returns the final snapshot.
func (h *Hub) Run(ctx context.Context) (Snapshot, error) {
	var runErr error
	for iter := 1; iter <= h.cfg.MaxIterations; iter++ {
		h.absorb()
		if h.Snapshot().Infeasible {
			h.log.Warn("spoke reported infeasibility, terminating")
			break
		}
		w, xbar, changed, err := h.primal.Iterate(ctx, iter)
		if err != nil {
			runErr = fmt.Errorf("primal iterate %d: %w", iter, err)
			break
		}
		metrics.HubIterations.Inc()
		if changed {
			if _, err := h.w.Publish(w); err != nil {
				runErr = err
				break
			}
			if _, err := h.xbar.Publish(xbar); err != nil {
				runErr = err
				break
			}
			metrics.PublishedVersions.Inc()
		}
		h.record(iter)
		if h.primal.Converged() {
			h.log.Info("primal converged", zap.Int("iteration", iter))
			break
		}
		if h.gapClosed() {
			h.log.Info("gap closed", zap.Int("iteration", iter))
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := h.term.Set(); err != nil {
		h.log.Warn("terminate broadcast failed", zap.Error(err))
	}
	h.absorb()
	h.mu.Lock()
	h.snap.Terminated = true
	snap := h.snap
	h.mu.Unlock()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	h.log.Info("hub done",
		zap.Int("iterations", snap.Iteration),
		zap.Float64("objective", snap.Objective),
		zap.Float64("best_bound", snap.BestBound),
		zap.Bool("infeasible", snap.Infeasible))
	return snap, runErr
}

// Snapshot returns the current externally visible state.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Consensus returns the primal algorithm's current consensus estimate.
func (h *Hub) Consensus() []float64 {
	return h.primal.Consensus()
}

// Watch registers an observer of incoming spoke reports, for the status
// stream. Delivery is non-blocking: slow observers miss reports rather than
// slow the hub.
func (h *Hub) Watch() (<-chan channel.Report, func()) {
	ch := make(chan channel.Report, 32)
	h.wmu.Lock()
	h.watchers[ch] = struct{}{}
	h.wmu.Unlock()
	cancel := func() {
		h.wmu.Lock()
		if _, ok := h.watchers[ch]; ok {
			delete(h.watchers, ch)
			close(ch)
		}
		h.wmu.Unlock()
	}
	return ch, cancel
}

// Close releases the hub's subscriptions. Call after Run has returned.
func (h *Hub) Close() {
	h.reports.Close()
}

// absorb drains whatever reports have arrived. Spokes are advisory
// producers: nothing here blocks, and no ordering between spokes is assumed.
func (h *Hub) absorb() {
	for _, r := range h.reports.Drain() {
		metrics.ReportsReceived.WithLabelValues(r.Spoke).Inc()
		if r.StateVersion > h.w.Version() {
			h.log.Warn("report labeled with unknown version",
				zap.String("spoke", r.Spoke), zap.Uint64("version", r.StateVersion))
			continue
		}
		h.fanOut(r)
		h.mu.Lock()
		if r.Infeasible {
			h.snap.Infeasible = true
		}
		if r.Usable && (!h.snap.HasBound || r.Bound > h.snap.BestBound) {
			h.snap.BestBound = r.Bound
			h.snap.BestBoundSpoke = r.Spoke
			h.snap.BestBoundVersion = r.StateVersion
			h.snap.HasBound = true
			metrics.BestBound.Set(r.Bound)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) fanOut(r channel.Report) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	for ch := range h.watchers {
		select {
		case ch <- r:
		default:
		}
	}
}

func (h *Hub) record(iter int) {
	h.mu.Lock()
	h.snap.Iteration = iter
	h.snap.Version = h.w.Version()
	h.snap.Objective = h.primal.Objective()
	h.mu.Unlock()
}

func (h *Hub) gapClosed() bool {
	if h.cfg.GapTolerance <= 0 {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.snap.HasBound {
		return false
	}
	scale := 1.0
	if obj := h.snap.Objective; obj > scale || -obj > scale {
		if obj < 0 {
			scale = -obj
		} else {
			scale = obj
		}
	}
	return h.snap.Objective-h.snap.BestBound <= h.cfg.GapTolerance*scale
}
