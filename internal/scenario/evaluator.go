package scenario

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Evaluator computes the expected objective of a fixed candidate assignment
// across an ensemble. It is a single-shot utility used for final reporting;
// it never participates in the hub/spoke loop.
type Evaluator struct {
	ens    *Ensemble
	solver Solver
	log    *zap.Logger
}

func NewEvaluator(ens *Ensemble, solver Solver, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{ens: ens, solver: solver, log: log}
}

// Eval fixes every nonanticipative coordinate to candidate in each scenario,
// solves them, and returns the probability-weighted expected objective. A
// single infeasible scenario makes the whole candidate infeasible.
func (ev *Evaluator) Eval(ctx context.Context, candidate []float64) (float64, error) {
	if len(candidate) != ev.ens.Dim() {
		return 0, fmt.Errorf("candidate has %d coordinates, ensemble has %d", len(candidate), ev.ens.Dim())
	}
	vals := make([]float64, ev.ens.Len())
	for i, s := range ev.ens.Scenarios() {
		s.Sub.FixCandidate(candidate)
		out, err := ev.solver.Solve(ctx, s.Sub)
		s.Sub.Unfix()
		if err != nil {
			return 0, fmt.Errorf("evaluate %q: %w", s.Name, err)
		}
		if !out.Feasible {
			return 0, fmt.Errorf("evaluate %q: %w", s.Name, ErrInfeasibleScenario)
		}
		vals[i] = out.Value
		ev.log.Debug("evaluated scenario", zap.String("scenario", s.Name), zap.Float64("value", out.Value))
	}
	return ev.ens.Expectation(vals), nil
}
