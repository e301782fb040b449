// Package orchestrator drives recursive improvement rounds over a
// quantum-augmented MCTS tree, and a bounded concurrent wave mode for
// unattended long-running optimization. Grounded on
// quantum_orchestrator.rs's run_recursive_improvement and orchestrator.rs's
// worker-pool wave mode.
package orchestrator

import (
	"context"
	"time"

	"github.com/cogforge/coc/pkg/mcts"
	"github.com/cogforge/coc/pkg/quantum"
)

// Config tunes one recursive-improvement run.
type Config struct {
	MaxRecursiveDepth    int
	ImprovementThreshold float64
	CoherenceTime        time.Duration
	MaxIterationsPerDepth int
	ExplorationC         float64
	DecoherenceThreshold float64
}

func DefaultConfig() Config {
	return Config{
		MaxRecursiveDepth:     5,
		ImprovementThreshold:  0.05,
		CoherenceTime:         time.Second,
		MaxIterationsPerDepth: 100,
		ExplorationC:          1.41421356,
		DecoherenceThreshold:  0.3,
	}
}

// OptimizationSpec mirrors spec.md's normalized optimization request.
type OptimizationSpec struct {
	Objective        string
	Constraints      []string
	SuccessCriteria  []string
	OptimizationType string
	TimeoutMS        int64
	MaxIterations    int
	TargetQuality    float64
}

// OptimizationOutcome is the orchestrator's terminal result.
type OptimizationOutcome struct {
	OptimizedCode        []byte
	ImprovementPercentage float64
	AppliedTechniques    []string
	FinalLatency         float64
	FinalMemory          float64
	FinalRelevance       float64
	RecursiveDepths      int
	AvgQuantumFidelity   float64
	FinalDecoherence     float64
}

// RecursiveState is the per-depth trace entry.
type RecursiveState struct {
	Depth               int
	Improvement         float64
	QuantumFidelity     float64
	DecoherenceLevel    float64
	EntanglementStrength float64
}

// Orchestrator runs recursive-improvement rounds against an
// mcts.Evaluator-backed quantum tree builder.
type Orchestrator struct {
	cfg             Config
	newTree         func(state mcts.CodeState) (*mcts.Tree, *quantum.Tree)
	entanglementOf  func(qt *quantum.Tree) float64 // entanglement density per round, supplied by caller's entanglement.Engine
}

// NewTreeFunc builds a fresh classical+quantum tree pair rooted at state,
// wired to the caller's evaluator (committee, heuristic, or test double).
type NewTreeFunc func(state mcts.CodeState) (*mcts.Tree, *quantum.Tree)

func New(cfg Config, newTree NewTreeFunc, entanglementDensity func(qt *quantum.Tree) float64) *Orchestrator {
	if entanglementDensity == nil {
		entanglementDensity = func(*quantum.Tree) float64 { return 0 }
	}
	return &Orchestrator{cfg: cfg, newTree: newTree, entanglementOf: entanglementDensity}
}

func improvement(old, next mcts.CodeState) float64 {
	latencyImp := 0.0
	if old.Latency != 0 {
		latencyImp = (old.Latency - next.Latency) / old.Latency
	}
	memoryImp := 0.0
	if old.Memory != 0 {
		memoryImp = (old.Memory - next.Memory) / old.Memory
	}
	relevanceImp := 0.0
	if old.Relevance != 0 {
		relevanceImp = (next.Relevance - old.Relevance) / old.Relevance
	}
	return latencyImp*0.4 + memoryImp*0.3 + relevanceImp*0.3
}

func fidelity(qt *quantum.Tree, entanglementDensity float64) float64 {
	maxAmplitude := 0.0
	avgDecoherence := qt.AverageDecoherence()
	decoherenceFactor := 1.0 - avgDecoherence
	if decoherenceFactor < 0 {
		decoherenceFactor = 0
	}
	if entanglementDensity > 1.0 {
		entanglementDensity = 1.0
	}
	// Amplitude concentration is approximated by 1 - avgDecoherence since
	// decoherence and amplitude spread move together in this model.
	maxAmplitude = decoherenceFactor
	return maxAmplitude * decoherenceFactor * entanglementDensity
}

// RunRecursiveImprovement drives the round loop described by
// run_recursive_improvement.
func (o *Orchestrator) RunRecursiveImprovement(ctx context.Context, initial mcts.CodeState, spec OptimizationSpec) (OptimizationOutcome, []RecursiveState, error) {
	current := initial
	var totalImprovement float64
	var trace []RecursiveState

	for depth := 0; depth < o.cfg.MaxRecursiveDepth; depth++ {
		classical, qtree := o.newTree(current)

		for i := 0; i < o.cfg.MaxIterationsPerDepth; i++ {
			if err := qtree.Simulate(ctx, phaseFor(depth, o.cfg.MaxRecursiveDepth)); err != nil {
				return OptimizationOutcome{}, trace, err
			}
		}

		bestID, ok := qtree.BestChild(classical.RootID())
		if !ok {
			break
		}
		best := classical.Node(bestID)

		imp := improvement(current, best.State)
		avgDecoherence := qtree.AverageDecoherence()
		entDensity := o.entanglementOf(qtree)

		state := RecursiveState{
			Depth:                depth,
			Improvement:          imp,
			QuantumFidelity:      fidelity(qtree, entDensity),
			DecoherenceLevel:     avgDecoherence,
			EntanglementStrength: entDensity,
		}
		trace = append(trace, state)

		if imp < o.cfg.ImprovementThreshold {
			break
		}

		current = best.State
		totalImprovement += imp

		if avgDecoherence > o.cfg.DecoherenceThreshold {
			current = applyGlobalErrorCorrection(current)
		}

		select {
		case <-ctx.Done():
			return OptimizationOutcome{}, trace, ctx.Err()
		case <-time.After(o.cfg.CoherenceTime):
		}
	}

	outcome := OptimizationOutcome{
		OptimizedCode:         current.Code,
		ImprovementPercentage: totalImprovement * 100.0,
		AppliedTechniques:     []string{"quantum_mcts", "recursive_improvement"},
		FinalLatency:          current.Latency,
		FinalMemory:           current.Memory,
		FinalRelevance:        current.Relevance,
		RecursiveDepths:       len(trace),
	}
	if len(trace) > 0 {
		var fidelitySum float64
		for _, s := range trace {
			fidelitySum += s.QuantumFidelity
		}
		outcome.AvgQuantumFidelity = fidelitySum / float64(len(trace))
		outcome.FinalDecoherence = trace[len(trace)-1].DecoherenceLevel
	}
	return outcome, trace, nil
}

func phaseFor(depth, maxDepth int) mcts.Phase {
	switch {
	case depth == 0:
		return mcts.PhaseInitial
	case depth >= maxDepth-1:
		return mcts.PhaseFinal
	default:
		return mcts.PhaseRefinement
	}
}

// applyGlobalErrorCorrection stabilizes metrics after detecting excess
// decoherence: a small penalty on latency/memory, a small relevance
// discount, consistent with apply_quantum_error_correction.
func applyGlobalErrorCorrection(state mcts.CodeState) mcts.CodeState {
	state.Latency *= 1.02
	state.Memory *= 1.01
	state.Relevance *= 0.99
	return state
}
