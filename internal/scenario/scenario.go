// Package scenario defines the optimization-model collaborators: per-scenario
// subproblems over a shared set of nonanticipative coordinates, the solver
// capability, and the probability-weighted ensemble they form.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyEnsemble      = errors.New("ensemble has no scenarios")
	ErrBadProbabilities   = errors.New("scenario probabilities must sum to 1")
	ErrDimensionMismatch  = errors.New("scenario dimensions differ")
	ErrInfeasibleScenario = errors.New("scenario infeasible")
)

const probabilityTolerance = 1e-9

// Outcome is the result of solving one subproblem. Infeasibility is data,
// not an error: Feasible false with a zero Value.
type Outcome struct {
	Value    float64
	X        []float64
	Feasible bool
}

// Subproblem is one scenario's local optimization model over the
// nonanticipative coordinates. Implementations hold whatever internal
// structure their solver needs; the coordinator only ever adjusts the dual
// weights, the consensus penalty, and candidate fixing.
type Subproblem interface {
	Dim() int
	// SetWeights installs the dual weight vector for this scenario's copy of
	// the nonanticipative coordinates.
	SetWeights(w []float64)
	// SetProx installs the consensus penalty term rho/2*||x-xbar||^2.
	// SetProx(nil, 0) removes it, which is how the relaxation is formed.
	SetProx(xbar []float64, rho float64)
	// FixCandidate pins every nonanticipative coordinate to the given value,
	// for single-shot evaluation of a candidate. Unfix releases them.
	FixCandidate(x []float64)
	Unfix()
}

// Solver solves one subproblem. Solving must be deterministic for fixed
// inputs; an error is reserved for faults, never for infeasibility.
type Solver interface {
	Solve(ctx context.Context, sp Subproblem) (Outcome, error)
}

// Scenario couples a subproblem with its name and probability.
type Scenario struct {
	Name string
	Prob float64
	Sub  Subproblem
}

// Ensemble is an immutable, validated collection of scenarios.
type Ensemble struct {
	scenarios []Scenario
	dim       int
}

func NewEnsemble(scenarios []Scenario) (*Ensemble, error) {
	if len(scenarios) == 0 {
		return nil, ErrEmptyEnsemble
	}
	dim := scenarios[0].Sub.Dim()
	total := 0.0
	for _, s := range scenarios {
		if s.Sub.Dim() != dim {
			return nil, fmt.Errorf("%w: %q has dim %d, want %d", ErrDimensionMismatch, s.Name, s.Sub.Dim(), dim)
		}
		if s.Prob < 0 {
			return nil, fmt.Errorf("%w: %q has probability %g", ErrBadProbabilities, s.Name, s.Prob)
		}
		total += s.Prob
	}
	if math.Abs(total-1) > probabilityTolerance {
		return nil, fmt.Errorf("%w: sum is %g", ErrBadProbabilities, total)
	}
	return &Ensemble{scenarios: append([]Scenario(nil), scenarios...), dim: dim}, nil
}

func (e *Ensemble) Len() int { return len(e.scenarios) }

// Dim is the number of nonanticipative coordinates per scenario.
func (e *Ensemble) Dim() int { return e.dim }

// WeightDim is the length of the flat, scenario-major dual weight vector.
func (e *Ensemble) WeightDim() int { return len(e.scenarios) * e.dim }

func (e *Ensemble) Scenarios() []Scenario { return e.scenarios }

func (e *Ensemble) Names() []string {
	out := make([]string, len(e.scenarios))
	for i, s := range e.scenarios {
		out[i] = s.Name
	}
	return out
}

// Expectation computes the probability-weighted average of one value per
// scenario, in ensemble order.
func (e *Ensemble) Expectation(vals []float64) float64 {
	total := 0.0
	for i, s := range e.scenarios {
		total += s.Prob * vals[i]
	}
	return total
}
