package committee

import "github.com/cogforge/coc/pkg/mcts"

// Severity is the log-level-equivalent attached to every committee event.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
)

// Event is the single typed sum type carried over the committee's event
// channel; a switch on concrete type replaces a trait-object listener bus.
type Event interface {
	Severity() Severity
}

type EvaluationStarted struct {
	EvaluationID string
	Phase        mcts.Phase
	AgentCount   int
}

func (EvaluationStarted) Severity() Severity { return SeverityInfo }

type AgentEvaluationEvent struct {
	EvaluationID string
	Evaluation   AgentEvaluation
}

func (AgentEvaluationEvent) Severity() Severity { return SeverityDebug }

type AgentEvaluationFailed struct {
	EvaluationID string
	AgentID      string
	RetryCount   int
	Err          error
}

func (AgentEvaluationFailed) Severity() Severity { return SeverityWarning }

type PhaseCompleted struct {
	EvaluationID     string
	Phase            mcts.Phase
	SuccessCount     int
	FailureCount     int
	ConsensusReached bool
	NextPhase        *mcts.Phase
}

func (PhaseCompleted) Severity() Severity { return SeverityInfo }

type SteeringDecision struct {
	EvaluationID string
	Hint         string
}

func (SteeringDecision) Severity() Severity { return SeverityInfo }

type FinalDecision struct {
	EvaluationID string
	Decision     ConsensusDecision
}

func (FinalDecision) Severity() Severity { return SeverityInfo }

type EarlyConsensus struct {
	EvaluationID string
	Rounds       int
}

func (EarlyConsensus) Severity() Severity { return SeverityInfo }

type PerformanceMetrics struct {
	EvaluationID      string
	TotalDurationMS   int64
	AverageAgentMS    int64
}

func (PerformanceMetrics) Severity() Severity { return SeverityTrace }

type ResourceUtilization struct {
	EvaluationID      string
	PermitsInUse      int
	PermitsAvailable  int
}

func (ResourceUtilization) Severity() Severity { return SeverityTrace }

type EvaluationFailed struct {
	EvaluationID string
	Reason       string
}

func (EvaluationFailed) Severity() Severity { return SeverityError }
