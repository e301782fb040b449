// Command coc is the optimization orchestrator harness: it parses an
// optimization spec, drives recursive improvement over a quantum-MCTS
// tree scored by a committee, and logs the outcome. It creates the
// --output directory but writes no iteration artifacts into it; the
// numbered-artifact wave mode (orchestrator.WaveRunner) is not wired
// into this command. Grounded on the teacher's cmd/example/main.go entrypoint
// shape (construct, initialize, run, log.Fatal on error) and
// luxfi-consensus's cmd/consensus cobra root-command style for the flag
// surface and exit-code conventions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cogforge/coc/core"
	"github.com/cogforge/coc/pkg/committee"
	"github.com/cogforge/coc/pkg/mcts"
	"github.com/cogforge/coc/pkg/orchestrator"
	"github.com/cogforge/coc/pkg/quantum"
	"github.com/cogforge/coc/pkg/specparser"
)

// Exit codes per the CLI surface: 0 clean shutdown, 2 invalid spec, 3 I/O
// failure on output dir, 130 interrupted.
const (
	exitOK             = 0
	exitInvalidSpec    = 2
	exitOutputIOFailed = 3
	exitInterrupted    = 130
)

func main() {
	var specPath, outputDir string

	root := &cobra.Command{Use: "coc", Short: "Cognitive optimization core harness"}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run recursive improvement against an optimization spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimization(specPath, outputDir)
		},
		SilenceUsage: true,
	}
	runCmd.Flags().StringVar(&specPath, "spec", "", "path to an optimization spec (JSON or markdown)")
	runCmd.Flags().StringVar(&outputDir, "output", "./iterations", "output directory (created if missing; no artifacts are written to it)")
	_ = runCmd.MarkFlagRequired("spec")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch err.(type) {
	case specparser.Failure:
		return exitInvalidSpec
	case outputIOError:
		return exitOutputIOFailed
	case interruptedError:
		return exitInterrupted
	default:
		return exitInvalidSpec
	}
}

type outputIOError struct{ err error }

func (e outputIOError) Error() string { return e.err.Error() }
func (e outputIOError) Unwrap() error { return e.err }

func runOptimization(specPath, outputDir string) error {
	logger := core.NewSimpleLogger().WithComponent("coc/cli").(*core.SimpleLogger)

	raw, err := os.ReadFile(specPath)
	if err != nil {
		return outputIOError{err}
	}

	parsed, err := specparser.Parse(string(raw))
	if err != nil {
		return err
	}
	parsed = specparser.Normalize(parsed)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return outputIOError{err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agents := []committee.Agent{
		committee.DeterministicAgent{Name: "quality", Weights: committee.DefaultWeights()},
		committee.DeterministicAgent{Name: "risk", Weights: committee.DefaultWeights()},
		committee.DeterministicAgent{Name: "novelty", Weights: committee.DefaultWeights()},
	}
	events := make(chan committee.Event, 64)
	go func() {
		for e := range events {
			logger.Debug("committee event", map[string]interface{}{"event": fmt.Sprintf("%T", e)})
		}
	}()
	comm := committee.New(agents, 3, committee.DefaultWeights(), events)
	evaluator := committee.TreeEvaluator{Committee: comm}
	actionManager := mcts.NewActionManager(mcts.HeuristicGenerator{})

	newTree := func(state mcts.CodeState) (*mcts.Tree, *quantum.Tree) {
		classical := mcts.NewTree(state, actionManager, evaluator, 1.41421356)
		return classical, quantum.NewTree(classical, quantum.DefaultConfig())
	}

	orch := orchestrator.New(orchestrator.DefaultConfig(), newTree, nil)

	initial := mcts.CodeState{Latency: 100, Memory: 50, Relevance: 0.75}
	spec := orchestrator.OptimizationSpec{
		Objective:        parsed.Objective,
		Constraints:      parsed.Constraints,
		SuccessCriteria:  parsed.SuccessCriteria,
		OptimizationType: parsed.OptimizationType,
		TimeoutMS:        parsed.TimeoutMS,
		MaxIterations:    parsed.MaxIterations,
		TargetQuality:    parsed.TargetQuality,
	}

	outcome, trace, err := orch.RunRecursiveImprovement(ctx, initial, spec)
	if err != nil {
		if ctx.Err() != nil {
			return interruptedError{}
		}
		return err
	}

	logger.Info("optimization complete", map[string]interface{}{
		"improvement_pct":  outcome.ImprovementPercentage,
		"recursive_depths": outcome.RecursiveDepths,
		"final_latency":    outcome.FinalLatency,
		"final_memory":     outcome.FinalMemory,
		"final_relevance":  outcome.FinalRelevance,
		"trace_len":        len(trace),
	})
	return nil
}

type interruptedError struct{}

func (interruptedError) Error() string { return "interrupted" }
