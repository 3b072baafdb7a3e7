// Package primal provides the hub's default primal algorithm: a progressive
// hedging iteration over a scenario ensemble.
package primal

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"spinwheel/internal/scenario"
)

// ProgressiveHedging maintains per-scenario dual weights and a consensus
// estimate. Each Iterate solves every scenario with its weights plus a
// proximal pull toward the consensus, recomputes the consensus as the
// probability-weighted average, and moves the weights along the
// disagreement. The published weight vector is flat and scenario-major.
type ProgressiveHedging struct {
	ens    *scenario.Ensemble
	solver scenario.Solver
	rho    float64
	tol    float64
	log    *zap.Logger

	w    [][]float64
	xs   [][]float64
	xbar []float64
	vals []float64

	obj       float64
	converged bool
	started   bool
}

func NewProgressiveHedging(ens *scenario.Ensemble, solver scenario.Solver, rho, tol float64, log *zap.Logger) (*ProgressiveHedging, error) {
	if rho <= 0 {
		return nil, fmt.Errorf("progressive hedging: rho must be positive, got %g", rho)
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &ProgressiveHedging{
		ens:    ens,
		solver: solver,
		rho:    rho,
		tol:    tol,
		log:    log,
		w:      make([][]float64, ens.Len()),
		xs:     make([][]float64, ens.Len()),
		xbar:   make([]float64, ens.Dim()),
		vals:   make([]float64, ens.Len()),
	}
	for i := range p.w {
		p.w[i] = make([]float64, ens.Dim())
	}
	return p, nil
}

// SetInitialWeights seeds the per-scenario weights from a flat,
// scenario-major vector, typically loaded from a persisted run.
func (p *ProgressiveHedging) SetInitialWeights(flat []float64) error {
	if len(flat) != p.ens.WeightDim() {
		return fmt.Errorf("initial weights have %d entries, want %d", len(flat), p.ens.WeightDim())
	}
	dim := p.ens.Dim()
	for i := range p.w {
		copy(p.w[i], flat[i*dim:(i+1)*dim])
	}
	return nil
}

func (p *ProgressiveHedging) WeightDim() int    { return p.ens.WeightDim() }
func (p *ProgressiveHedging) ConsensusDim() int { return p.ens.Dim() }
func (p *ProgressiveHedging) Objective() float64 {
	return p.obj
}
func (p *ProgressiveHedging) Converged() bool { return p.converged }

func (p *ProgressiveHedging) Consensus() []float64 {
	return append([]float64(nil), p.xbar...)
}

// Weights returns the current flat weight vector.
func (p *ProgressiveHedging) Weights() []float64 {
	flat := make([]float64, 0, p.ens.WeightDim())
	for _, ws := range p.w {
		flat = append(flat, ws...)
	}
	return flat
}

func (p *ProgressiveHedging) Iterate(ctx context.Context, iter int) (w, xbar []float64, changed bool, err error) {
	dim := p.ens.Dim()
	for i, s := range p.ens.Scenarios() {
		s.Sub.SetWeights(p.w[i])
		if p.started {
			s.Sub.SetProx(p.xbar, p.rho)
		} else {
			// First pass: no consensus estimate exists yet.
			s.Sub.SetProx(nil, 0)
		}
		out, err := p.solver.Solve(ctx, s.Sub)
		if err != nil {
			return nil, nil, false, fmt.Errorf("solve %q: %w", s.Name, err)
		}
		if !out.Feasible {
			return nil, nil, false, fmt.Errorf("solve %q: %w", s.Name, scenario.ErrInfeasibleScenario)
		}
		p.xs[i] = out.X
		p.vals[i] = out.Value
	}
	p.started = true
	p.obj = p.ens.Expectation(p.vals)

	for j := 0; j < dim; j++ {
		p.xbar[j] = 0
	}
	for i, s := range p.ens.Scenarios() {
		for j := 0; j < dim; j++ {
			p.xbar[j] += s.Prob * p.xs[i][j]
		}
	}

	maxDev := 0.0
	for i := range p.w {
		for j := 0; j < dim; j++ {
			dev := p.xs[i][j] - p.xbar[j]
			p.w[i][j] += p.rho * dev
			if math.Abs(dev) > maxDev {
				maxDev = math.Abs(dev)
			}
		}
	}
	p.converged = maxDev < p.tol
	changed = maxDev > 0

	p.log.Debug("progressive hedging step",
		zap.Int("iteration", iter),
		zap.Float64("objective", p.obj),
		zap.Float64("max_deviation", maxDev))
	return p.Weights(), p.Consensus(), changed, nil
}
