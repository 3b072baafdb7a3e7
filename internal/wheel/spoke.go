package wheel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spinwheel/internal/channel"
	"spinwheel/internal/core/network"
	"spinwheel/internal/metrics"
)

// Phase is a spoke's lifecycle state.
type Phase int32

const (
	PhaseInit Phase = iota
	PhasePrep
	PhaseWait
	PhaseWorking
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhasePrep:
		return "prep"
	case PhaseWait:
		return "wait_for_update"
	case PhaseWorking:
		return "working"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Result is the outcome of one unit of spoke work. Usable false means "no
// usable result this iteration"; Infeasible additionally marks a relaxation
// that proved the underlying problem infeasible.
type Result struct {
	Bound      float64
	Usable     bool
	Infeasible bool
}

// Worker is the domain-specific behavior a Spoke drives. The Spoke owns the
// protocol (polling, version tracking, termination, reporting); the Worker
// owns the computation.
type Worker interface {
	// Prep performs one-time local setup before any published state is
	// consumed. An error is fatal to the spoke.
	Prep(ctx context.Context) error
	// Baseline computes the iteration-0 result from the worker's initial
	// local state, before any hub version exists. ok false skips the
	// baseline report.
	Baseline(ctx context.Context) (Result, bool)
	// Work consumes one published state snapshot and computes a result.
	Work(ctx context.Context, version uint64, state []float64) Result
	// Idle performs optional opportunistic work when no new version is
	// available. did false means nothing was attempted and the spoke just
	// waits out its poll interval.
	Idle(ctx context.Context) (r Result, did bool)
	// Finalize returns the final answer once the spoke is done.
	Finalize() float64
}

// SpokeConfig fixes a spoke's identity and pacing.
type SpokeConfig struct {
	// Name identifies the spoke; its report topic is derived from it.
	Name string
	// Dim is the dimension of the state vector it consumes.
	Dim int
	// PollInterval paces the wait loop when there is nothing to do.
	PollInterval time.Duration
	// ReportOnShutdown sends the result of a solve that was in flight when
	// the termination flag rose; default is to discard it.
	ReportOnShutdown bool
}

// Spoke runs the consuming side of the coordination protocol: it polls the
// hub's state channel and the termination latch, hands fresh versions to its
// Worker, and reports results tagged with the version they came from.
type Spoke struct {
	cfg     SpokeConfig
	state   *channel.Reader
	term    *channel.FlagReader
	reports *channel.ReportWriter
	worker  Worker
	hooks   Hooks
	log     *zap.Logger

	phase    atomic.Int32
	lastSeen uint64
	buf      []float64
}

// NewSpoke attaches to the run's channels. Any attachment failure is fatal:
// the protocol's fixed topology cannot be established, so no partial spoke
// is returned.
func NewSpoke(ps network.PubSub, run string, cfg SpokeConfig, worker Worker, hooks Hooks, log *zap.Logger) (*Spoke, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("spoke needs a name")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("spoke %s: dimension must be positive", cfg.Name)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if hooks == nil {
		hooks = NopHooks{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	state, err := channel.NewReader(ps, channel.StateTopic(run, channel.StateWeights), cfg.Dim, log)
	if err != nil {
		return nil, fmt.Errorf("spoke %s: %w", cfg.Name, err)
	}
	term, err := channel.NewFlagReader(ps, channel.TerminateTopic(run))
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("spoke %s: %w", cfg.Name, err)
	}
	return &Spoke{
		cfg:     cfg,
		state:   state,
		term:    term,
		reports: channel.NewReportWriter(ps, channel.ReportTopic(run, cfg.Name), cfg.Name),
		worker:  worker,
		hooks:   hooks,
		log:     log.With(zap.String("spoke", cfg.Name)),
		buf:     make([]float64, cfg.Dim),
	}, nil
}

func (s *Spoke) Phase() Phase { return Phase(s.phase.Load()) }

// LastSeen is the most recent published version this spoke has consumed.
func (s *Spoke) LastSeen() uint64 { return s.lastSeen }

// Run drives the spoke until the termination flag rises or ctx is canceled,
// then returns the worker's final answer.
func (s *Spoke) Run(ctx context.Context) (float64, error) {
	s.phase.Store(int32(PhasePrep))
	if err := s.worker.Prep(ctx); err != nil {
		s.phase.Store(int32(PhaseDone))
		return 0, fmt.Errorf("spoke %s prep: %w", s.cfg.Name, err)
	}
	s.hooks.AfterPrep()

	// Iteration 0: baseline from the caller-supplied initial state, labeled
	// version 0 since no hub version exists yet.
	if !s.term.IsSet() && ctx.Err() == nil {
		if r, ok := s.worker.Baseline(ctx); ok {
			s.send(0, r)
		}
	}

	for {
		if s.term.IsSet() || ctx.Err() != nil {
			break
		}
		s.phase.Store(int32(PhaseWait))
		v, ok := s.state.TryRead(s.buf)
		if ok && v > s.lastSeen {
			s.phase.Store(int32(PhaseWorking))
			s.hooks.BeforeWork(v)
			r := s.worker.Work(ctx, v, s.buf)
			s.hooks.AfterWork(v, r.Bound, r.Usable)
			s.lastSeen = v
			if s.term.IsSet() {
				// Flag rose mid-solve: honor it now, sending the in-flight
				// result only if configured to.
				if s.cfg.ReportOnShutdown {
					s.send(v, r)
				}
				break
			}
			s.send(v, r)
			continue
		}
		if r, did := s.worker.Idle(ctx); did {
			if s.term.IsSet() {
				break
			}
			// Speculative work off stale local state, labeled with the last
			// version actually consumed.
			if r.Usable {
				s.send(s.lastSeen, r)
			}
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.PollInterval):
		}
	}

	s.phase.Store(int32(PhaseDone))
	s.hooks.AtDone()
	final := s.worker.Finalize()
	if ctx.Err() != nil && !s.term.IsSet() {
		return final, ctx.Err()
	}
	s.log.Info("spoke done", zap.Uint64("last_seen", s.lastSeen), zap.Float64("final", final))
	return final, nil
}

func (s *Spoke) send(version uint64, r Result) {
	err := s.reports.Send(channel.Report{
		StateVersion: version,
		Bound:        r.Bound,
		Usable:       r.Usable,
		Infeasible:   r.Infeasible,
	})
	if err != nil {
		s.log.Warn("report send failed", zap.Uint64("version", version), zap.Error(err))
		return
	}
	metrics.SpokeReportsSent.WithLabelValues(s.cfg.Name).Inc()
}

// Close releases the spoke's subscriptions. Call after Run has returned.
func (s *Spoke) Close() {
	s.state.Close()
	s.term.Close()
}
