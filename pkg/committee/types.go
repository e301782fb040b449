// Package committee computes a ConsensusDecision for a proposed mcts.Action
// relative to an mcts.CodeState, dispatching a bounded set of evaluator
// agents concurrently and fusing their scores into one decision.
package committee

import (
	"github.com/cogforge/coc/pkg/mcts"
)

// Rubric is the fixed set of scoring dimensions every agent scores for a
// given phase.
type Rubric struct {
	Alignment    float64
	Quality      float64
	Risk         float64
	Novelty      float64
	Completeness float64
}

// RubricWeights is a named per-agent weighting vector over the five
// rubric dimensions, letting e.g. a "security reviewer" weight risk
// higher than a "performance reviewer".
type RubricWeights struct {
	Alignment    float64
	Quality      float64
	Risk         float64
	Novelty      float64
	Completeness float64
}

// DefaultWeights weighs every dimension equally.
func DefaultWeights() RubricWeights {
	return RubricWeights{Alignment: 0.2, Quality: 0.2, Risk: 0.2, Novelty: 0.2, Completeness: 0.2}
}

// Score applies w to rubric, yielding a single weighted aggregate.
func (w RubricWeights) Score(r Rubric) float64 {
	total := w.Alignment + w.Quality + w.Risk + w.Novelty + w.Completeness
	if total == 0 {
		return 0
	}
	sum := w.Alignment*r.Alignment + w.Quality*r.Quality + w.Risk*r.Risk + w.Novelty*r.Novelty + w.Completeness*r.Completeness
	return clamp01(sum / total)
}

// AgentEvaluation is one agent's scored opinion of a proposed action.
type AgentEvaluation struct {
	AgentID    string
	Rubric     Rubric
	Score      float64
	Confidence float64
	Rationale  string
}

// ConsensusDecision is the committee's fused output.
type ConsensusDecision struct {
	Score              float64
	Confidence         float64
	Rationale          string
	AgentIDsConsidered []string
	Rounds             int
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// codeStateSummary gives agents light interaction with CodeState summary
// statistics without requiring them to understand the full struct.
type codeStateSummary struct {
	Latency   float64
	Memory    float64
	Relevance float64
}

func summarize(s mcts.CodeState) codeStateSummary {
	return codeStateSummary{Latency: s.Latency, Memory: s.Memory, Relevance: s.Relevance}
}
