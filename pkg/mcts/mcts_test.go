package mcts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// latencyEvaluator scores purely on latency improvement relative to a
// fixed baseline, for scenario B: over 1000 simulations on a trivial
// action set it must make reduce_latency_10pct the highest-visited child.
type latencyEvaluator struct{ baseline float64 }

func (e latencyEvaluator) Evaluate(_ context.Context, state CodeState, _ Action, _ Phase) (float64, float64, error) {
	improvement := (e.baseline - state.Latency) / e.baseline
	return improvement, 1.0, nil
}

func TestOverallScoreFormula(t *testing.T) {
	va := ValidatedAction{Priority: 0.8, RiskScore: 0.4}
	assert.InDelta(t, 0.8*(1-0.5*0.4), va.OverallScore(), 1e-9)
}

func TestActionManagerGenerateIsDeduplicatedAndCached(t *testing.T) {
	am := NewActionManager(nil)
	state := CodeState{Code: []byte("fn main() {}"), Latency: 100, Memory: 50, Relevance: 0.75}

	first := am.Generate(state)
	assert.NotEmpty(t, first)

	am.Generate(state)
	stats := am.CacheStatistics()
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Hits)
}

func TestBatchApplyAbortsOnFirstFailureButReturnsPartial(t *testing.T) {
	am := NewActionManager(nil)
	state := CodeState{Code: []byte("x"), Latency: 100, Memory: 50, Relevance: 0.5}

	actions := []Action{
		{Name: "noop", Priority: 0.1, RiskScore: 0},
		{Name: "unsafe_delete_everything", Priority: 0.5, RiskScore: 0.9},
		{Name: "reduce_latency_10pct", Priority: 0.8, RiskScore: 0.2, ExpectedImpact: Impact{LatencyDelta: -0.1}},
	}
	results := am.BatchApply(actions, state)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestMCTSMonotonicityAndBestChildSelection(t *testing.T) {
	am := NewActionManager(nil)
	initial := CodeState{Code: []byte("x"), Latency: 100, Memory: 50, Relevance: 0.75}
	tree := NewTree(initial, am, latencyEvaluator{baseline: 100}, 1.41421356)

	var lastRootVisits uint64
	for i := 0; i < 1000; i++ {
		require.NoError(t, tree.Simulate(context.Background(), PhaseInitial))
		root := tree.Node(tree.RootID())
		assert.Equal(t, lastRootVisits+1, root.Visits)
		lastRootVisits = root.Visits
	}

	nodes := tree.Nodes()
	for _, n := range nodes {
		if n.ParentID == "" {
			continue
		}
		parent := nodes[n.ParentID]
		assert.LessOrEqual(t, n.Visits, parent.Visits)
	}

	bestID, ok := tree.BestChild(tree.RootID())
	require.True(t, ok)
	best := tree.Node(bestID)
	assert.Equal(t, "reduce_latency_10pct", best.ActionFromParent)
}

func TestTreeAnalysisHealthReport(t *testing.T) {
	am := NewActionManager(nil)
	initial := CodeState{Code: []byte("x"), Latency: 100, Memory: 50, Relevance: 0.5}
	tree := NewTree(initial, am, latencyEvaluator{baseline: 100}, 1.4)

	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Simulate(context.Background(), PhaseInitial))
	}

	nodes := tree.Nodes()
	report := GenerateHealthReport(nodes, tree.RootID())
	assert.GreaterOrEqual(t, report.OverallHealth, 0.0)
	assert.LessOrEqual(t, report.OverallHealth, 1.0)
	assert.NotEmpty(t, report.Recommendations)

	leaf, internal, terminal := CountNodeTypes(nodes)
	assert.Equal(t, len(nodes), leaf+internal+terminal)
}
