package committee

import (
	"context"
	"errors"
	"testing"

	"github.com/cogforge/coc/pkg/mcts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alwaysFailAgent struct{ name string }

func (a alwaysFailAgent) ID() string { return a.name }
func (a alwaysFailAgent) Evaluate(context.Context, mcts.CodeState, mcts.Action, RubricWeights, mcts.Phase, []AgentEvaluation, string) (AgentEvaluation, error) {
	return AgentEvaluation{}, errors.New("agent unavailable")
}

func testState() mcts.CodeState {
	return mcts.CodeState{Code: []byte("fn main() {}"), Latency: 100, Memory: 50, Relevance: 0.6}
}

func testAction() mcts.Action {
	return mcts.Action{Name: "validate and optimize error handling", Priority: 0.7, RiskScore: 0.2}
}

func TestScenarioDPartialCommitteeOneAlwaysFails(t *testing.T) {
	agents := []Agent{
		DeterministicAgent{Name: "agent-1"},
		DeterministicAgent{Name: "agent-2"},
		DeterministicAgent{Name: "agent-3"},
		DeterministicAgent{Name: "agent-4"},
		alwaysFailAgent{name: "agent-5"},
	}
	c := New(agents, 5, DefaultWeights(), nil)

	decision, err := c.EvaluateSequential(context.Background(), "eval-d", testState(), testAction(), mcts.PhaseInitial, nil, "")
	require.NoError(t, err)

	assert.Len(t, decision.AgentIDsConsidered, 4)
	assert.NotContains(t, decision.AgentIDsConsidered, "agent-5")

	expectedConfidence := 0.8 * (4.0 / 5.0)
	assert.InDelta(t, expectedConfidence, decision.Confidence, 1e-9)
}

func TestTotalFailureAllAgentsFail(t *testing.T) {
	agents := []Agent{
		alwaysFailAgent{name: "a"},
		alwaysFailAgent{name: "b"},
	}
	c := New(agents, 2, DefaultWeights(), nil)

	_, err := c.EvaluateSequential(context.Background(), "eval-fail", testState(), testAction(), mcts.PhaseInitial, nil, "")
	assert.Error(t, err)
}

func TestQuorumNotReachedWhenMajorityFail(t *testing.T) {
	agents := []Agent{
		DeterministicAgent{Name: "agent-1"},
		alwaysFailAgent{name: "agent-2"},
		alwaysFailAgent{name: "agent-3"},
	}
	c := New(agents, 3, DefaultWeights(), nil)

	_, err := c.EvaluateSequential(context.Background(), "eval-q", testState(), testAction(), mcts.PhaseInitial, nil, "")
	assert.Error(t, err)
}

func TestConcurrentEvaluateMatchesSequentialQuorumBehavior(t *testing.T) {
	agents := []Agent{
		DeterministicAgent{Name: "agent-1"},
		DeterministicAgent{Name: "agent-2"},
		DeterministicAgent{Name: "agent-3"},
	}
	c := New(agents, 2, DefaultWeights(), nil)

	decision, err := c.Evaluate(context.Background(), "eval-concurrent", testState(), testAction(), mcts.PhaseInitial, nil, "")
	require.NoError(t, err)
	assert.Len(t, decision.AgentIDsConsidered, 3)
}

func TestFinalPhaseEnforcesMinimumConfidence(t *testing.T) {
	agents := []Agent{
		DeterministicAgent{Name: "agent-1"},
		DeterministicAgent{Name: "agent-2"},
	}
	c := New(agents, 2, DefaultWeights(), nil)

	decision, err := c.EvaluateSequential(context.Background(), "eval-final", testState(), testAction(), mcts.PhaseFinal, nil, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, decision.Confidence, 0.7)
}

func TestRefinementPhaseConsumesPriorEvaluationsAndSteering(t *testing.T) {
	prev := []AgentEvaluation{{AgentID: "agent-1", Score: 0.9}}
	agent := DeterministicAgent{Name: "agent-2"}
	eval, err := agent.Evaluate(context.Background(), testState(), testAction(), DefaultWeights(), mcts.PhaseRefinement, prev, "favor low-risk actions")
	require.NoError(t, err)
	assert.NotZero(t, eval.Score)
}

func TestKeywordHeuristicsDistinguishRiskyFromSafeActions(t *testing.T) {
	safe := evaluateRisk("validate and test the change with a backup")
	risky := evaluateRisk("delete and remove the unsafe legacy path")
	assert.Greater(t, safe, risky)
}

func TestKeywordHeuristicsPenalizeAntiPatterns(t *testing.T) {
	clean := evaluateQuality("add comprehensive validation and tests for the parser")
	hacky := evaluateQuality("quick fix hack todo")
	assert.Greater(t, clean, hacky)
}

func TestRubricWeightsScoreClampedAndWeighted(t *testing.T) {
	w := RubricWeights{Alignment: 1, Quality: 0, Risk: 0, Novelty: 0, Completeness: 0}
	r := Rubric{Alignment: 0.42}
	assert.InDelta(t, 0.42, w.Score(r), 1e-9)
}
