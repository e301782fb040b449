// Package cogstate implements the content-addressed cognitive state index:
// a sharded, concurrent store keyed by state id with secondary concept,
// domain and time-bucket indices, plus an exponential-decay activation
// model used to evict stale states.
package cogstate

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// AbstractionLevel classifies how concrete or meta a state's reasoning is.
type AbstractionLevel int

const (
	AbstractionConcrete AbstractionLevel = iota
	AbstractionIntermediate
	AbstractionAbstract
	AbstractionMetaCognitive
)

// MaxPrimaryConcepts, MaxSecondaryConcepts, MaxDomainTags bound the
// semantic context's fan-in, matching the source's fixed-capacity vectors.
const (
	MaxPrimaryConcepts   = 8
	MaxSecondaryConcepts = 16
	MaxDomainTags        = 4
	MaxAssociations      = 16
)

// SemanticContext carries the concepts and domain tags a state was indexed
// under.
type SemanticContext struct {
	PrimaryConcepts   []string
	SecondaryConcepts []string
	DomainTags        []string
	Abstraction       AbstractionLevel
}

// EmotionalValence is a three-dimensional affective tuple, each axis
// clamped to [-1, 1].
type EmotionalValence struct {
	Arousal   float64
	Valence   float64
	Dominance float64
}

// NeutralValence returns the zero-valued affective tuple.
func NeutralValence() EmotionalValence {
	return EmotionalValence{}
}

// NewValence clamps each axis into [-1, 1].
func NewValence(arousal, valence, dominance float64) EmotionalValence {
	return EmotionalValence{
		Arousal:   clamp(arousal, -1, 1),
		Valence:   clamp(valence, -1, 1),
		Dominance: clamp(dominance, -1, 1),
	}
}

// Distance returns the Euclidean distance between two valences.
func (v EmotionalValence) Distance(other EmotionalValence) float64 {
	da := v.Arousal - other.Arousal
	dv := v.Valence - other.Valence
	dd := v.Dominance - other.Dominance
	return math.Sqrt(da*da + dv*dv + dd*dd)
}

// AssociationType classifies the relationship an Association represents.
type AssociationType int

const (
	AssocSemantic AssociationType = iota
	AssocTemporal
	AssocCausal
	AssocEmotional
	AssocStructural
)

// Association links one state to another with a bounded strength.
type Association struct {
	TargetID string
	Strength float64
	Type     AssociationType
}

// ErrFull is returned when adding an association would exceed
// MaxAssociations; callers decide whether to drop or compact.
type ErrFull struct{}

func (ErrFull) Error() string { return "association list full" }

// CognitiveState is one node of cognitive context: a semantic frame, an
// affective reading, and a bounded association list to other states.
type CognitiveState struct {
	ID              string
	Semantic        SemanticContext
	Valence         EmotionalValence
	ProcessingDepth float64
	Activation      float64
	Associations    []Association
	Timestamp       time.Time
}

// New creates a CognitiveState with default activation and depth, matching
// the source's CognitiveState::new.
func New(sem SemanticContext) *CognitiveState {
	return &CognitiveState{
		ID:              uuid.NewString(),
		Semantic:        sem,
		Valence:         NeutralValence(),
		ProcessingDepth: 0.5,
		Activation:      1.0,
		Timestamp:       time.Now(),
	}
}

// IsActive reports whether the state's activation, exponentially decayed
// against elapsed wall-clock time, remains above the 0.1 floor.
func (s *CognitiveState) IsActive(decay time.Duration) bool {
	if decay <= 0 {
		return s.Activation > 0.1
	}
	elapsed := time.Since(s.Timestamp).Seconds()
	factor := math.Exp(-elapsed / decay.Seconds())
	return s.Activation*factor > 0.1
}

// AddAssociation appends an association, clamping its strength, and
// returns ErrFull once the cap of 16 is reached.
func (s *CognitiveState) AddAssociation(targetID string, strength float64, kind AssociationType) error {
	if len(s.Associations) >= MaxAssociations {
		return ErrFull{}
	}
	s.Associations = append(s.Associations, Association{
		TargetID: targetID,
		Strength: clamp(strength, 0, 1),
		Type:     kind,
	})
	return nil
}

// Activate boosts activation (capped at 1.0) and refreshes the timestamp
// used by decay calculations.
func (s *CognitiveState) Activate(boost float64) {
	s.Activation = math.Min(s.Activation+boost, 1.0)
	s.Timestamp = time.Now()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
