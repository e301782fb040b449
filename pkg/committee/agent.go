package committee

import (
	"context"
	"strings"

	"github.com/cogforge/coc/pkg/mcts"
)

// Agent scores a proposed action against a rubric. DeterministicAgent is
// the built-in heuristic scorer; tests and callers may supply alternative
// implementations (e.g. a fixed-fail agent for failure-model tests).
type Agent interface {
	ID() string
	Evaluate(ctx context.Context, state mcts.CodeState, action mcts.Action, weights RubricWeights, phase mcts.Phase, prev []AgentEvaluation, steering string) (AgentEvaluation, error)
}

// DeterministicAgent scores rubric dimensions using keyword-weighted
// surface-feature heuristics over the action text, the way
// committee/core/evaluators.rs's EvaluationAlgorithms does, plus light
// interaction with the CodeState summary statistics.
type DeterministicAgent struct {
	Name    string
	Weights RubricWeights
}

func (a DeterministicAgent) ID() string { return a.Name }

var qualityKeywords = []string{"test", "validate", "check", "verify", "document", "optimize"}
var antiPatterns = []string{"hack", "quick fix", "temporary", "todo", "fixme"}
var highRiskKeywords = []string{"delete", "remove", "drop", "unsafe", "panic", "unwrap"}
var mediumRiskKeywords = []string{"modify", "change", "alter", "replace", "update"}
var safetyKeywords = []string{"test", "validate", "backup", "check", "verify", "safe"}
var innovationKeywords = []string{"new", "novel", "innovative", "creative", "original", "unique"}
var conventionalKeywords = []string{"standard", "typical", "conventional", "traditional", "common"}
var completeKeywords = []string{"complete", "full", "comprehensive", "thorough", "detailed"}
var incompleteKeywords = []string{"partial", "incomplete", "draft", "stub", "placeholder"}

func countContains(lower string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}

func evaluateQuality(action string) float64 {
	lower := strings.ToLower(action)
	score := 0.5 + float64(countContains(lower, qualityKeywords))*0.1 - float64(countContains(lower, antiPatterns))*0.15
	lengthFactor := 1.0
	if len(action) < 20 {
		lengthFactor = 0.7
	} else if len(action) > 200 {
		lengthFactor = 0.8
	}
	return clamp01(score * lengthFactor)
}

func evaluateRisk(action string) float64 {
	lower := strings.ToLower(action)
	score := 0.8
	score -= float64(countContains(lower, highRiskKeywords)) * 0.3
	score -= float64(countContains(lower, mediumRiskKeywords)) * 0.1
	score += float64(countContains(lower, safetyKeywords)) * 0.1
	return clamp01(score)
}

func evaluateNovelty(action string) float64 {
	lower := strings.ToLower(action)
	score := 0.5 + float64(countContains(lower, innovationKeywords))*0.2 - float64(countContains(lower, conventionalKeywords))*0.1
	return clamp01(score)
}

func evaluateCompleteness(action string) float64 {
	lower := strings.ToLower(action)
	score := 0.7 + float64(countContains(lower, completeKeywords))*0.15 - float64(countContains(lower, incompleteKeywords))*0.25
	return clamp01(score)
}

func evaluateAlignment(action string, summary codeStateSummary) float64 {
	// Without a distinct objective string at this layer, alignment reads
	// the CodeState's own relevance summary statistic as its surface
	// feature, the way evaluate_alignment falls back to a neutral 0.5
	// when there is no overlap to measure.
	base := 0.5 + (summary.Relevance-0.5)*0.4
	return clamp01(base)
}

// Evaluate scores action's rubric dimensions deterministically. Refinement
// may bias scoring using a steering hint; Final doubles risk penalties
// and floors confidence at 0.7.
func (a DeterministicAgent) Evaluate(_ context.Context, state mcts.CodeState, action mcts.Action, weights RubricWeights, phase mcts.Phase, prev []AgentEvaluation, steering string) (AgentEvaluation, error) {
	summary := summarize(state)
	rubric := Rubric{
		Alignment:    evaluateAlignment(action.Name, summary),
		Quality:      evaluateQuality(action.Name),
		Risk:         evaluateRisk(action.Name),
		Novelty:      evaluateNovelty(action.Name),
		Completeness: evaluateCompleteness(action.Name),
	}

	if phase == mcts.PhaseRefinement && len(prev) > 0 {
		var priorMean float64
		for _, p := range prev {
			priorMean += p.Score
		}
		priorMean /= float64(len(prev))
		rubric.Quality = clamp01((rubric.Quality + priorMean) / 2)
		if steering != "" {
			rubric.Alignment = clamp01(rubric.Alignment + 0.05)
		}
	}

	confidence := 0.8
	if phase == mcts.PhaseFinal {
		rubric.Risk = clamp01(rubric.Risk - (1 - rubric.Risk))
		if confidence < 0.7 {
			confidence = 0.7
		}
	}

	score := weights.Score(rubric)
	return AgentEvaluation{
		AgentID:    a.Name,
		Rubric:     rubric,
		Score:      score,
		Confidence: confidence,
		Rationale:  "[" + a.Name + "] " + action.Name,
	}, nil
}
