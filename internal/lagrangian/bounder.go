// Package lagrangian implements the outer-bound spoke: it relaxes the
// consensus coupling into the objective via the hub's dual weights and
// reports the probability-weighted expected optimum as a bound.
package lagrangian

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"spinwheel/internal/metrics"
	"spinwheel/internal/scenario"
	"spinwheel/internal/wheel"
)

// Config tunes one bounding spoke.
type Config struct {
	// Name is the spoke identity; defaults to "lagrangian".
	Name string
	// InitialWeights is the flat scenario-major dual vector used for the
	// version-0 baseline bound, before any hub publication. Nil means all
	// zeros, whose relaxation is the plain expected-value bound.
	InitialWeights []float64
	// SubgradientWhileWaiting enables the idle-time action: a local
	// subgradient step off the spoke's own previous solutions, re-solved
	// and reported speculatively. Off by default.
	SubgradientWhileWaiting bool
	// SubgradientRho is the idle step length. Defaults to 1.
	SubgradientRho float64
}

// Bounder is the wheel.Worker for the Lagrangian bound. The relaxation is
// separable, so each owned subproblem is solved independently.
type Bounder struct {
	cfg    Config
	ens    *scenario.Ensemble
	solver scenario.Solver
	log    *zap.Logger

	w    [][]float64
	xs   [][]float64
	vals []float64
	last float64
}

func New(ens *scenario.Ensemble, solver scenario.Solver, cfg Config, log *zap.Logger) (*Bounder, error) {
	if cfg.Name == "" {
		cfg.Name = "lagrangian"
	}
	if cfg.SubgradientRho <= 0 {
		cfg.SubgradientRho = 1
	}
	if cfg.InitialWeights != nil && len(cfg.InitialWeights) != ens.WeightDim() {
		return nil, fmt.Errorf("initial weights have %d entries, want %d", len(cfg.InitialWeights), ens.WeightDim())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bounder{
		cfg:    cfg,
		ens:    ens,
		solver: solver,
		log:    log.With(zap.String("spoke", cfg.Name)),
		w:      make([][]float64, ens.Len()),
		xs:     make([][]float64, ens.Len()),
		vals:   make([]float64, ens.Len()),
	}, nil
}

func (b *Bounder) Name() string { return b.cfg.Name }

// Prep forms the relaxation: the consensus penalty is removed from every
// subproblem and the initial dual weights are installed.
func (b *Bounder) Prep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dim := b.ens.Dim()
	for i, s := range b.ens.Scenarios() {
		s.Sub.SetProx(nil, 0)
		b.w[i] = make([]float64, dim)
		if b.cfg.InitialWeights != nil {
			copy(b.w[i], b.cfg.InitialWeights[i*dim:(i+1)*dim])
		}
	}
	return nil
}

// Baseline computes the trivial bound from the initial weights, before any
// hub version exists.
func (b *Bounder) Baseline(ctx context.Context) (wheel.Result, bool) {
	return b.solveAll(ctx), true
}

// Work adopts the freshly published flat weight vector and re-solves.
func (b *Bounder) Work(ctx context.Context, version uint64, state []float64) wheel.Result {
	dim := b.ens.Dim()
	for i := range b.w {
		copy(b.w[i], state[i*dim:(i+1)*dim])
	}
	return b.solveAll(ctx)
}

// Idle takes a subgradient step off the spoke's own previous solutions while
// no new weights are available: a locally estimated consensus point, a
// corresponding weight update, and a speculative re-solve.
func (b *Bounder) Idle(ctx context.Context) (wheel.Result, bool) {
	if !b.cfg.SubgradientWhileWaiting || b.xs[0] == nil {
		return wheel.Result{}, false
	}
	dim := b.ens.Dim()
	xbar := make([]float64, dim)
	for i, s := range b.ens.Scenarios() {
		for j := 0; j < dim; j++ {
			xbar[j] += s.Prob * b.xs[i][j]
		}
	}
	for i := range b.w {
		for j := 0; j < dim; j++ {
			b.w[i][j] += b.cfg.SubgradientRho * (b.xs[i][j] - xbar[j])
		}
	}
	return b.solveAll(ctx), true
}

// Finalize returns the most recent bound computed.
func (b *Bounder) Finalize() float64 { return b.last }

func (b *Bounder) solveAll(ctx context.Context) wheel.Result {
	metrics.SpokeSolves.WithLabelValues(b.cfg.Name).Inc()
	for i, s := range b.ens.Scenarios() {
		s.Sub.SetWeights(b.w[i])
		out, err := b.solver.Solve(ctx, s.Sub)
		if err != nil {
			b.log.Warn("solve failed", zap.String("scenario", s.Name), zap.Error(err))
			return wheel.Result{}
		}
		if !out.Feasible {
			// An infeasible relaxation proves the coupled problem infeasible.
			b.log.Warn("relaxation infeasible", zap.String("scenario", s.Name))
			return wheel.Result{Infeasible: true}
		}
		b.xs[i] = out.X
		b.vals[i] = out.Value
	}
	bound := b.ens.Expectation(b.vals)
	b.last = bound
	return wheel.Result{Bound: bound, Usable: true}
}
