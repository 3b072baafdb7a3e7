package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"spinwheel/internal/scenario"
	"spinwheel/internal/wxbar"
)

var evalCmd = &cobra.Command{
	Use:   "eval [candidate.csv]",
	Short: "Evaluate a fixed candidate's expected objective over the demo ensemble",
	Long: `Evaluate a fixed candidate's expected objective over the demo ensemble.
The candidate file defaults to files.init_consensus from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	path := cfg.Files.InitConsensus
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no candidate file: pass one or set files.init_consensus")
	}
	ens, err := demoEnsemble()
	if err != nil {
		return err
	}
	candidate, err := wxbar.ReadConsensus(path, ens.Dim())
	if err != nil {
		return err
	}
	expected, err := scenario.NewEvaluator(ens, scenario.ClosedFormSolver{}, logger).Eval(cmd.Context(), candidate)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expected objective: %g\n", expected)
	return nil
}
