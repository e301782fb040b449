package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cogforge/coc/pkg/mcts"
	"github.com/cogforge/coc/pkg/quantum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type latencyEvaluator struct{ baseline float64 }

func (e latencyEvaluator) Evaluate(_ context.Context, state mcts.CodeState, _ mcts.Action, _ mcts.Phase) (float64, float64, error) {
	return (e.baseline - state.Latency) / e.baseline, 1.0, nil
}

func TestImprovementFormulaWeighting(t *testing.T) {
	old := mcts.CodeState{Latency: 100, Memory: 100, Relevance: 0.5}
	next := mcts.CodeState{Latency: 90, Memory: 95, Relevance: 0.6}
	imp := improvement(old, next)

	latencyImp := 0.1
	memoryImp := 0.05
	relevanceImp := 0.2
	expected := latencyImp*0.4 + memoryImp*0.3 + relevanceImp*0.3
	assert.InDelta(t, expected, imp, 1e-9)
}

func TestRunRecursiveImprovementStopsBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecursiveDepth = 3
	cfg.MaxIterationsPerDepth = 20
	cfg.CoherenceTime = 0
	cfg.ImprovementThreshold = 10.0 // unreachable, forces stop after depth 0

	newTree := func(state mcts.CodeState) (*mcts.Tree, *quantum.Tree) {
		am := mcts.NewActionManager(nil)
		classical := mcts.NewTree(state, am, latencyEvaluator{baseline: state.Latency}, 1.4)
		return classical, quantum.NewTree(classical, quantum.DefaultConfig())
	}

	orch := New(cfg, newTree, nil)
	initial := mcts.CodeState{Code: []byte("x"), Latency: 100, Memory: 50, Relevance: 0.5}

	outcome, trace, err := orch.RunRecursiveImprovement(context.Background(), initial, OptimizationSpec{TargetQuality: 0.9, TimeoutMS: 1000})
	require.NoError(t, err)
	assert.Len(t, trace, 1)
	assert.Equal(t, 1, outcome.RecursiveDepths)
}

func TestRunRecursiveImprovementProgressesAcrossDepths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecursiveDepth = 2
	cfg.MaxIterationsPerDepth = 50
	cfg.CoherenceTime = 0
	cfg.ImprovementThreshold = 0.0001

	newTree := func(state mcts.CodeState) (*mcts.Tree, *quantum.Tree) {
		am := mcts.NewActionManager(nil)
		classical := mcts.NewTree(state, am, latencyEvaluator{baseline: state.Latency}, 1.4)
		return classical, quantum.NewTree(classical, quantum.DefaultConfig())
	}

	orch := New(cfg, newTree, nil)
	initial := mcts.CodeState{Code: []byte("x"), Latency: 100, Memory: 50, Relevance: 0.5}

	_, trace, err := orch.RunRecursiveImprovement(context.Background(), initial, OptimizationSpec{TargetQuality: 0.9, TimeoutMS: 1000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(trace), 2)
}

func TestGapFillIdentifiesMissingIterations(t *testing.T) {
	missing := GapFill([]int{1, 2, 4}, 5)
	assert.Equal(t, []int{3, 5}, missing)
}

func TestWaveRunnerPersistsAndGapFills(t *testing.T) {
	dir := t.TempDir()

	calls := make(map[int]int)
	evaluate := func(_ context.Context, n int) (IterationOutcome, error) {
		calls[n]++
		return IterationOutcome{Iteration: n, Applied: n%2 == 0, ActionSummary: "noop"}, nil
	}

	runner := NewWaveRunner(dir, evaluate)
	require.NoError(t, runner.Run(context.Background(), 6))

	for n := 1; n <= 6; n++ {
		path := filepath.Join(dir, "iteration_"+itoa(n)+".json")
		_, err := os.Stat(path)
		assert.NoError(t, err, "expected %s to exist", path)
	}

	existing, err := ExistingIterations(dir)
	require.NoError(t, err)
	assert.Len(t, existing, 6)
}

func TestWaveRunnerReducesWorkersAfterNoImprovementStreak(t *testing.T) {
	dir := t.TempDir()
	evaluate := func(_ context.Context, n int) (IterationOutcome, error) {
		return IterationOutcome{Iteration: n, Applied: false}, nil
	}
	runner := NewWaveRunner(dir, evaluate)
	require.NoError(t, runner.Run(context.Background(), 10))
	assert.Equal(t, reducedWorkers, runner.workerCount())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
