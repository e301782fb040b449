package quantum

import (
	"context"
	"math"
	"testing"

	"github.com/cogforge/coc/pkg/mcts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type latencyEvaluator struct{ baseline float64 }

func (e latencyEvaluator) Evaluate(_ context.Context, state mcts.CodeState, _ mcts.Action, _ mcts.Phase) (float64, float64, error) {
	return (e.baseline - state.Latency) / e.baseline, 1.0, nil
}

func TestUCTBiasClampedRange(t *testing.T) {
	n := &Node{Amplitude: complex(1, 0), Phase: 0}
	bias := n.UCTBias()
	assert.LessOrEqual(t, bias, 2.0)
	assert.GreaterOrEqual(t, bias, 0.0)

	n2 := &Node{Amplitude: complex(1, 0), Phase: math.Pi}
	assert.Greater(t, n2.UCTBias(), 0.0)
}

func TestRenormalizeSumsToOne(t *testing.T) {
	siblings := []*Node{
		{Amplitude: complex(0.6, 0)},
		{Amplitude: complex(0.9, 0)},
		{Amplitude: complex(0.3, 0)},
	}
	Renormalize(siblings)
	var sumSq float64
	for _, s := range siblings {
		sumSq += real(s.Amplitude)*real(s.Amplitude) + imag(s.Amplitude)*imag(s.Amplitude)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-9)
}

func TestRecordVisitAccumulatesAndFloorsCaps(t *testing.T) {
	cfg := Config{MeasurementPrecision: 0.5, DecoherenceThreshold: 0.02, ErrorCorrectionBudget: 3}
	n := &Node{}
	var needsCorrection bool
	for i := 0; i < 5; i++ {
		needsCorrection = n.RecordVisit(cfg)
	}
	assert.True(t, needsCorrection)
	assert.LessOrEqual(t, n.Decoherence, 1.0)
	assert.GreaterOrEqual(t, n.Decoherence, 0.0)
}

func TestCorrectErrorPrunesAfterBudgetExhausted(t *testing.T) {
	cfg := Config{MeasurementPrecision: 0.1, DecoherenceThreshold: 0.01, ErrorCorrectionBudget: 2}
	n := &Node{Decoherence: 0.9}
	siblings := []*Node{n}

	outcome, _ := CorrectError(n, siblings, 0, cfg)
	assert.Equal(t, CorrectionSucceeded, outcome)

	n.Decoherence = 0.9
	outcome, _ = CorrectError(n, siblings, 0, cfg)
	assert.Equal(t, CorrectionPruneRequired, outcome)
}

func TestQuantumTreeSimulateTracksNewNodes(t *testing.T) {
	am := mcts.NewActionManager(nil)
	initial := mcts.CodeState{Code: []byte("x"), Latency: 100, Memory: 50, Relevance: 0.5}
	classical := mcts.NewTree(initial, am, latencyEvaluator{baseline: 100}, 1.4)
	qt := NewTree(classical, DefaultConfig())

	for i := 0; i < 20; i++ {
		require.NoError(t, qt.Simulate(context.Background(), mcts.PhaseInitial))
	}

	nodes := classical.Nodes()
	for id := range nodes {
		_, ok := qt.Registry().Get(id)
		assert.True(t, ok, "expected quantum state for node %s", id)
	}

	_, ok := qt.BestChild(classical.RootID())
	assert.True(t, ok)
}
