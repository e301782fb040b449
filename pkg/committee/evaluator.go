package committee

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cogforge/coc/pkg/mcts"
)

// Committee dispatches a fixed set of Agents concurrently, bounded by a
// semaphore sized to MaxConcurrentAgents, and fuses their individual
// AgentEvaluations into one ConsensusDecision. Concurrency is grounded on
// committee/evaluation/agent_orchestration.rs's Semaphore+FuturesUnordered
// dispatch; EvaluateSequential runs the identical algorithm at parallelism
// one for deterministic tests and single-threaded callers.
type Committee struct {
	Agents              []Agent
	MaxConcurrentAgents int
	Weights             RubricWeights
	Events              chan<- Event
}

// New builds a Committee. maxConcurrent <= 0 means unbounded (len(agents)).
func New(agents []Agent, maxConcurrent int, weights RubricWeights, events chan<- Event) *Committee {
	if maxConcurrent <= 0 {
		maxConcurrent = len(agents)
	}
	return &Committee{Agents: agents, MaxConcurrentAgents: maxConcurrent, Weights: weights, Events: events}
}

func (c *Committee) emit(e Event) {
	if c.Events == nil {
		return
	}
	select {
	case c.Events <- e:
	default:
	}
}

type agentOutcome struct {
	eval AgentEvaluation
	err  error
}

// Evaluate dispatches every agent concurrently, bounded by a buffered
// channel used as a semaphore, and fuses the results.
func (c *Committee) Evaluate(ctx context.Context, evaluationID string, state mcts.CodeState, action mcts.Action, phase mcts.Phase, prev []AgentEvaluation, steering string) (ConsensusDecision, error) {
	c.emit(EvaluationStarted{EvaluationID: evaluationID, Phase: phase, AgentCount: len(c.Agents)})

	sem := make(chan struct{}, c.MaxConcurrentAgents)
	results := make([]agentOutcome, len(c.Agents))
	var wg sync.WaitGroup

	for i, agent := range c.Agents {
		wg.Add(1)
		go func(i int, agent Agent) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			eval, err := agent.Evaluate(ctx, state, action, c.Weights, phase, prev, steering)
			results[i] = agentOutcome{eval: eval, err: err}
			if err != nil {
				c.emit(AgentEvaluationFailed{EvaluationID: evaluationID, AgentID: agent.ID(), Err: err})
			} else {
				c.emit(AgentEvaluationEvent{EvaluationID: evaluationID, Evaluation: eval})
			}
		}(i, agent)
	}
	wg.Wait()

	return c.fuse(evaluationID, phase, results)
}

// EvaluateSequential runs agents one at a time, in order. Identical fusion
// logic to Evaluate; used where deterministic ordering matters.
func (c *Committee) EvaluateSequential(ctx context.Context, evaluationID string, state mcts.CodeState, action mcts.Action, phase mcts.Phase, prev []AgentEvaluation, steering string) (ConsensusDecision, error) {
	c.emit(EvaluationStarted{EvaluationID: evaluationID, Phase: phase, AgentCount: len(c.Agents)})

	results := make([]agentOutcome, len(c.Agents))
	for i, agent := range c.Agents {
		eval, err := agent.Evaluate(ctx, state, action, c.Weights, phase, prev, steering)
		results[i] = agentOutcome{eval: eval, err: err}
		if err != nil {
			c.emit(AgentEvaluationFailed{EvaluationID: evaluationID, AgentID: agent.ID(), Err: err})
		} else {
			c.emit(AgentEvaluationEvent{EvaluationID: evaluationID, Evaluation: eval})
		}
	}

	return c.fuse(evaluationID, phase, results)
}

// fuse applies the partial-committee-acceptance failure model: at least
// ceil(n/2) successes are required, and confidence is scaled down by the
// fraction of agents that actually succeeded. Zero successes is total
// failure.
func (c *Committee) fuse(evaluationID string, phase mcts.Phase, results []agentOutcome) (ConsensusDecision, error) {
	n := len(results)
	var successes []AgentEvaluation
	for _, r := range results {
		if r.err == nil {
			successes = append(successes, r.eval)
		}
	}
	successCount := len(successes)
	failureCount := n - successCount

	if successCount == 0 {
		reason := "all agents failed to evaluate"
		c.emit(EvaluationFailed{EvaluationID: evaluationID, Reason: reason})
		return ConsensusDecision{}, fmt.Errorf("committee: %s", reason)
	}

	quorum := int(math.Ceil(float64(n) / 2))
	consensusReached := successCount >= quorum

	var scoreSum, confidenceSum float64
	ids := make([]string, 0, successCount)
	for _, e := range successes {
		scoreSum += e.Score
		confidenceSum += e.Confidence
		ids = append(ids, e.AgentID)
	}
	meanScore := scoreSum / float64(successCount)
	meanConfidence := confidenceSum / float64(successCount)

	successFraction := float64(successCount) / float64(n)
	confidence := meanConfidence * successFraction

	if phase == mcts.PhaseFinal && confidence < 0.7 && consensusReached {
		confidence = 0.7
	}

	c.emit(PhaseCompleted{EvaluationID: evaluationID, Phase: phase, SuccessCount: successCount, FailureCount: failureCount, ConsensusReached: consensusReached})

	decision := ConsensusDecision{
		Score:              meanScore,
		Confidence:         confidence,
		Rationale:          fmt.Sprintf("%d/%d agents reached consensus", successCount, n),
		AgentIDsConsidered: ids,
		Rounds:             1,
	}

	if !consensusReached {
		return decision, fmt.Errorf("committee: quorum not reached (%d/%d, need %d)", successCount, n, quorum)
	}

	c.emit(FinalDecision{EvaluationID: evaluationID, Decision: decision})
	return decision, nil
}

// TreeEvaluator adapts a Committee into an mcts.Evaluator so an mcts.Tree
// can consult it directly during simulation.
type TreeEvaluator struct {
	Committee *Committee
}

func (t TreeEvaluator) Evaluate(ctx context.Context, state mcts.CodeState, action mcts.Action, phase mcts.Phase) (float64, float64, error) {
	decision, err := t.Committee.Evaluate(ctx, "simulation", state, action, phase, nil, "")
	if err != nil {
		return 0, 0, err
	}
	return decision.Score, decision.Confidence, nil
}
