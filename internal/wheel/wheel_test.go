package wheel_test

import (
	"context"
	"testing"
	"time"

	"spinwheel/internal/core/network"
	"spinwheel/internal/lagrangian"
	"spinwheel/internal/primal"
	"spinwheel/internal/scenario"
	"spinwheel/internal/wheel"
)

// slowSolver paces the hub so spoke reports have time to land, the way real
// per-iteration solves would.
type slowSolver struct {
	inner scenario.Solver
	delay time.Duration
}

func (s slowSolver) Solve(ctx context.Context, sp scenario.Subproblem) (scenario.Outcome, error) {
	time.Sleep(s.delay)
	return s.inner.Solve(ctx, sp)
}

// Two quadratic scenarios with a known coupled optimum: the consensus
// minimizer is x* = (2, 2) with expected objective 12.
func testEnsemble(t *testing.T) *scenario.Ensemble {
	t.Helper()
	ens, err := scenario.NewEnsemble([]scenario.Scenario{
		{Name: "low", Prob: 0.5, Sub: scenario.NewQuadratic(2, []float64{0, 4})},
		{Name: "high", Prob: 0.5, Sub: scenario.NewQuadratic(1, []float64{6, -2})},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ens
}

func TestWheelEndToEnd(t *testing.T) {
	const run = "e2e"
	const optimum = 12.0
	ps := network.NewMemoryPubSub()

	// Hub and spoke each own a model instance; subproblems are mutable.
	ph, err := primal.NewProgressiveHedging(testEnsemble(t),
		slowSolver{inner: scenario.ClosedFormSolver{}, delay: time.Millisecond}, 1.0, 1e-4, nil)
	if err != nil {
		t.Fatal(err)
	}
	hub, err := wheel.NewHub(ps, run, wheel.HubConfig{
		MaxIterations: 60,
		Spokes:        []string{"lagrangian"},
	}, ph, nil)
	if err != nil {
		t.Fatal(err)
	}

	spokeEns := testEnsemble(t)
	bounder, err := lagrangian.New(spokeEns, scenario.ClosedFormSolver{}, lagrangian.Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	spoke, err := wheel.NewSpoke(ps, run, wheel.SpokeConfig{
		Name:         bounder.Name(),
		Dim:          spokeEns.WeightDim(),
		PollInterval: time.Millisecond,
	}, bounder, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, finals, err := wheel.New(hub, []*wheel.Spoke{spoke}, nil).Spin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Terminated {
		t.Fatal("run did not terminate")
	}
	if !snap.HasBound {
		t.Fatal("hub never recorded a spoke bound")
	}
	// Every Lagrangian bound is a valid outer bound on the coupled optimum.
	if snap.BestBound > optimum+1e-6 {
		t.Fatalf("best bound %v exceeds the optimum %v", snap.BestBound, optimum)
	}
	// The zero-weight baseline already proves 0, so the best can't be below it.
	if snap.BestBound < -1e-9 {
		t.Fatalf("best bound %v below the trivial baseline", snap.BestBound)
	}
	if len(finals) != 1 || finals[0] > optimum+1e-6 {
		t.Fatalf("spoke final bound %v exceeds the optimum %v", finals, optimum)
	}

	// The consensus estimate should be close to the coupled minimizer (2, 2).
	xbar := hub.Consensus()
	for j, want := range []float64{2, 2} {
		if d := xbar[j] - want; d > 0.1 || d < -0.1 {
			t.Fatalf("consensus %v far from the optimum", xbar)
		}
	}
}

func TestWheelPropagatesSpokeFailure(t *testing.T) {
	const run = "fail"
	ps := network.NewMemoryPubSub()

	ph, err := primal.NewProgressiveHedging(testEnsemble(t),
		slowSolver{inner: scenario.ClosedFormSolver{}, delay: 5 * time.Millisecond}, 1.0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	hub, err := wheel.NewHub(ps, run, wheel.HubConfig{MaxIterations: 1000}, ph, nil)
	if err != nil {
		t.Fatal(err)
	}

	spoke, err := wheel.NewSpoke(ps, run, wheel.SpokeConfig{
		Name: "broken", Dim: 4, PollInterval: time.Millisecond,
	}, failingWorker{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, _, err := wheel.New(hub, []*wheel.Spoke{spoke}, nil).Spin(ctx); err == nil {
		t.Fatal("expected the spoke failure to surface")
	}
}

type failingWorker struct{}

func (failingWorker) Prep(ctx context.Context) error { return context.DeadlineExceeded }
func (failingWorker) Baseline(ctx context.Context) (wheel.Result, bool) {
	return wheel.Result{}, false
}
func (failingWorker) Work(ctx context.Context, version uint64, state []float64) wheel.Result {
	return wheel.Result{}
}
func (failingWorker) Idle(ctx context.Context) (wheel.Result, bool) { return wheel.Result{}, false }
func (failingWorker) Finalize() float64                             { return 0 }
