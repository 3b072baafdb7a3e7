package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spinwheel/internal/core/network"
	"spinwheel/internal/lagrangian"
	"spinwheel/internal/metrics"
	"spinwheel/internal/primal"
	"spinwheel/internal/scenario"
	"spinwheel/internal/statusapi"
	"spinwheel/internal/wheel"
	"spinwheel/internal/wxbar"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hub/spoke computation over the demo ensemble",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("role", "", "override configured role (all|hub|bound)")
	runCmd.Flags().String("transport", "", "override transport kind (memory|libp2p)")
	runCmd.Flags().Int("max-iterations", 0, "override hub iteration cap")
	runCmd.Flags().Bool("subgradient-while-waiting", false, "enable the spoke's idle-time subgradient step")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("role") {
		cfg.Role, _ = cmd.Flags().GetString("role")
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport.Kind, _ = cmd.Flags().GetString("transport")
	}
	if cmd.Flags().Changed("max-iterations") {
		cfg.Hub.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")
	}
	if cmd.Flags().Changed("subgradient-while-waiting") {
		cfg.Spoke.SubgradientWhileWaiting, _ = cmd.Flags().GetBool("subgradient-while-waiting")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ps, closeTransport, err := buildTransport(ctx)
	if err != nil {
		return err
	}
	defer closeTransport()

	if cfg.HTTP.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go serveHTTP(cfg.HTTP.MetricsAddr, mux)
	}

	switch cfg.Role {
	case "hub":
		return runHubRole(ctx, ps)
	case "bound":
		return runBoundRole(ctx, ps)
	default:
		return runAllRoles(ctx, ps)
	}
}

func runAllRoles(ctx context.Context, ps network.PubSub) error {
	// The hub and the spoke each get their own model instances: subproblems
	// are mutable and must not be shared across roles.
	hub, ph, err := buildHub(ps)
	if err != nil {
		return err
	}
	spoke, err := buildBoundSpoke(ps)
	if err != nil {
		return err
	}
	if cfg.HTTP.StatusAddr != "" {
		mux := http.NewServeMux()
		statusapi.NewServer(hub).Register(mux)
		go serveHTTP(cfg.HTTP.StatusAddr, mux)
	}

	w := wheel.New(hub, []*wheel.Spoke{spoke}, logger)
	snap, finals, err := w.Spin(ctx)
	if err != nil {
		return err
	}
	if err := persistFinal(ph); err != nil {
		return err
	}

	// Final reporting: expected objective of the consensus candidate,
	// evaluated on a fresh model.
	evalEns, err := demoEnsemble()
	if err != nil {
		return err
	}
	expected, err := scenario.NewEvaluator(evalEns, scenario.ClosedFormSolver{}, logger).Eval(ctx, ph.Consensus())
	if err != nil {
		logger.Warn("candidate evaluation failed", zap.Error(err))
	} else {
		logger.Info("candidate evaluated", zap.Float64("expected_objective", expected))
	}
	logger.Info("run complete",
		zap.Int("iterations", snap.Iteration),
		zap.Float64("objective", snap.Objective),
		zap.Float64("best_bound", snap.BestBound),
		zap.Float64s("spoke_final_bounds", finals))
	return nil
}

func runHubRole(ctx context.Context, ps network.PubSub) error {
	hub, ph, err := buildHub(ps)
	if err != nil {
		return err
	}
	defer hub.Close()
	if cfg.HTTP.StatusAddr != "" {
		mux := http.NewServeMux()
		statusapi.NewServer(hub).Register(mux)
		go serveHTTP(cfg.HTTP.StatusAddr, mux)
	}
	snap, err := hub.Run(ctx)
	if err != nil {
		return err
	}
	if err := persistFinal(ph); err != nil {
		return err
	}
	logger.Info("hub run complete",
		zap.Int("iterations", snap.Iteration),
		zap.Float64("objective", snap.Objective),
		zap.Float64("best_bound", snap.BestBound))
	return nil
}

func runBoundRole(ctx context.Context, ps network.PubSub) error {
	spoke, err := buildBoundSpoke(ps)
	if err != nil {
		return err
	}
	defer spoke.Close()
	final, err := spoke.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("bound run complete", zap.Float64("final_bound", final))
	return nil
}

func demoEnsemble() (*scenario.Ensemble, error) {
	return scenario.RandomQuadraticEnsemble(cfg.Demo.Scenarios, cfg.Demo.Dim, cfg.Demo.Seed)
}

func buildHub(ps network.PubSub) (*wheel.Hub, *primal.ProgressiveHedging, error) {
	ens, err := demoEnsemble()
	if err != nil {
		return nil, nil, err
	}
	ph, err := primal.NewProgressiveHedging(ens, scenario.ClosedFormSolver{}, cfg.Hub.Rho, cfg.Hub.Tolerance, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Files.InitWeights != "" {
		flat, err := wxbar.ReadWeights(cfg.Files.InitWeights, ens.Names(), ens.Dim())
		if err != nil {
			return nil, nil, err
		}
		if err := ph.SetInitialWeights(flat); err != nil {
			return nil, nil, err
		}
	}
	hub, err := wheel.NewHub(ps, cfg.Run, wheel.HubConfig{
		MaxIterations: cfg.Hub.MaxIterations,
		GapTolerance:  cfg.Hub.GapTolerance,
		Spokes:        []string{"lagrangian"},
	}, ph, logger)
	if err != nil {
		return nil, nil, err
	}
	return hub, ph, nil
}

func buildBoundSpoke(ps network.PubSub) (*wheel.Spoke, error) {
	ens, err := demoEnsemble()
	if err != nil {
		return nil, err
	}
	var initW []float64
	if cfg.Files.InitWeights != "" {
		initW, err = wxbar.ReadWeights(cfg.Files.InitWeights, ens.Names(), ens.Dim())
		if err != nil {
			return nil, err
		}
	}
	bounder, err := lagrangian.New(ens, scenario.ClosedFormSolver{}, lagrangian.Config{
		InitialWeights:          initW,
		SubgradientWhileWaiting: cfg.Spoke.SubgradientWhileWaiting,
		SubgradientRho:          cfg.Spoke.SubgradientRho,
	}, logger)
	if err != nil {
		return nil, err
	}
	return wheel.NewSpoke(ps, cfg.Run, wheel.SpokeConfig{
		Name:             bounder.Name(),
		Dim:              ens.WeightDim(),
		PollInterval:     cfg.Spoke.PollInterval(),
		ReportOnShutdown: cfg.Spoke.ReportOnShutdown,
	}, bounder, nil, logger)
}

func persistFinal(ph *primal.ProgressiveHedging) error {
	if cfg.Files.FinalWeights != "" {
		ens, err := demoEnsemble()
		if err != nil {
			return err
		}
		if err := wxbar.WriteWeights(cfg.Files.FinalWeights, ens.Names(), ens.Dim(), ph.Weights()); err != nil {
			return err
		}
	}
	if cfg.Files.FinalConsensus != "" {
		if err := wxbar.WriteConsensus(cfg.Files.FinalConsensus, ph.Consensus()); err != nil {
			return err
		}
	}
	return nil
}

func buildTransport(ctx context.Context) (network.PubSub, func(), error) {
	if cfg.Transport.Kind == "libp2p" {
		p, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
			ListenAddrs:     cfg.Transport.Listen,
			Bootstrap:       cfg.Transport.Bootstrap,
			Rendezvous:      cfg.Transport.Rendezvous,
			EnableMDNS:      cfg.Transport.MDNS,
			IdentityKeyFile: cfg.Transport.IdentityKeyFile,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("libp2p transport up",
			zap.String("peer_id", p.PeerID()),
			zap.Strings("listen", p.ListenAddrs()))
		return p, func() { _ = p.Close() }, nil
	}
	return network.NewMemoryPubSub(), func() {}, nil
}

func serveHTTP(addr string, mux *http.ServeMux) {
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("http listener stopped", zap.String("addr", addr), zap.Error(err))
	}
}
