package scenario

import (
	"context"
	"fmt"
	"math/rand"
)

// Quadratic is a separable quadratic subproblem with objective
//
//	0.5*a*||x - c||^2 + w.x + rho/2*||x - xbar||^2
//
// over the nonanticipative coordinates x. It has a closed-form minimizer, so
// it serves as the deterministic stand-in model for tests and the demo
// command.
type Quadratic struct {
	a     float64
	c     []float64
	w     []float64
	xbar  []float64
	rho   float64
	fixed []float64
}

func NewQuadratic(curvature float64, center []float64) *Quadratic {
	return &Quadratic{a: curvature, c: append([]float64(nil), center...)}
}

func (q *Quadratic) Dim() int { return len(q.c) }

func (q *Quadratic) SetWeights(w []float64) {
	q.w = append(q.w[:0], w...)
}

func (q *Quadratic) SetProx(xbar []float64, rho float64) {
	if xbar == nil || rho == 0 {
		q.xbar, q.rho = nil, 0
		return
	}
	q.xbar = append(q.xbar[:0], xbar...)
	q.rho = rho
}

func (q *Quadratic) FixCandidate(x []float64) {
	q.fixed = append(q.fixed[:0], x...)
}

func (q *Quadratic) Unfix() { q.fixed = nil }

func (q *Quadratic) objective(x []float64) float64 {
	total := 0.0
	for i, xi := range x {
		d := xi - q.c[i]
		total += 0.5 * q.a * d * d
		if q.w != nil {
			total += q.w[i] * xi
		}
		if q.rho != 0 {
			p := xi - q.xbar[i]
			total += 0.5 * q.rho * p * p
		}
	}
	return total
}

// ClosedFormSolver solves Quadratic subproblems exactly.
type ClosedFormSolver struct{}

func (ClosedFormSolver) Solve(ctx context.Context, sp Subproblem) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	q, ok := sp.(*Quadratic)
	if !ok {
		return Outcome{}, fmt.Errorf("closed-form solver: unsupported subproblem %T", sp)
	}
	if q.fixed != nil {
		x := append([]float64(nil), q.fixed...)
		return Outcome{Value: q.objective(x), X: x, Feasible: true}, nil
	}
	if q.a+q.rho <= 0 {
		// Unbounded below: surface as infeasible rather than a fault.
		return Outcome{Feasible: false}, nil
	}
	x := make([]float64, len(q.c))
	for i := range x {
		num := q.a * q.c[i]
		if q.w != nil {
			num -= q.w[i]
		}
		if q.rho != 0 {
			num += q.rho * q.xbar[i]
		}
		x[i] = num / (q.a + q.rho)
	}
	return Outcome{Value: q.objective(x), X: x, Feasible: true}, nil
}

// RandomQuadraticEnsemble builds a reproducible ensemble of n quadratic
// scenarios of the given dimension, with uniform probabilities. Used by the
// demo command.
func RandomQuadraticEnsemble(n, dim int, seed int64) (*Ensemble, error) {
	rng := rand.New(rand.NewSource(seed))
	scenarios := make([]Scenario, 0, n)
	for i := 0; i < n; i++ {
		center := make([]float64, dim)
		for j := range center {
			center[j] = 100*rng.Float64() - 50
		}
		curvature := 0.5 + 2*rng.Float64()
		scenarios = append(scenarios, Scenario{
			Name: fmt.Sprintf("scen%d", i),
			Prob: 1 / float64(n),
			Sub:  NewQuadratic(curvature, center),
		})
	}
	return NewEnsemble(scenarios)
}
