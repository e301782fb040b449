// Package quantum augments mcts.Node with a complex amplitude and a real
// phase, deriving a UCT bias from them (applied in Tree.BestChild's
// tie-break, not in classical selection) and accumulating decoherence that
// must periodically be corrected. Grounded on
// quantum_mcts/node_state.rs and quantum_mcts/config/mod.rs.
package quantum

import (
	"math"
	"math/cmplx"
	"sync"
)

// Config tunes the quantum layer. Values mirror QuantumMCTSConfig's
// exploration/decoherence/phase fields, trimmed to what this module
// actually consults (system-resource-aware builder presets are out of
// scope here: callers supply one Config explicitly).
type Config struct {
	MeasurementPrecision  float64 // in (0,1]; decoherence step is proportional to 1/precision
	DecoherenceThreshold  float64 // in (0,1]
	PhaseEvolutionRate    float64
	ErrorCorrectionBudget int // bounded attempts before pruning a subtree
}

// DefaultConfig mirrors the original's system_optimized_config defaults
// for a mid-range workstation, scaled to this module's trimmed field set.
func DefaultConfig() Config {
	return Config{
		MeasurementPrecision:  0.85,
		DecoherenceThreshold:  0.3,
		PhaseEvolutionRate:    0.05,
		ErrorCorrectionBudget: 3,
	}
}

// Node embeds an mcts.Node by id (never by pointer, consistent with the
// arena's string-keyed addressing) and carries the quantum state for that
// node.
type Node struct {
	NodeID       string
	Amplitude    complex128
	Phase        float64
	Decoherence  float64
	ErrorAttempts int
}

// NewNode creates the quantum state for a freshly expanded child. amplitude
// is 1/sqrt(siblingCount); phase is the parent's phase advanced by the
// configured evolution rate.
func NewNode(nodeID string, siblingCount int, parentPhase float64, cfg Config) *Node {
	if siblingCount < 1 {
		siblingCount = 1
	}
	mag := 1.0 / math.Sqrt(float64(siblingCount))
	return &Node{
		NodeID:    nodeID,
		Amplitude: complex(mag, 0),
		Phase:     math.Mod(parentPhase+cfg.PhaseEvolutionRate, 2*math.Pi),
	}
}

// UCTBias computes the quantum bias factor applied on top of classical UCT:
// |amplitude|^2 * cos(phase) + 1, clamped to a strictly positive range so
// it can never zero out or invert a classical UCT score.
func (n *Node) UCTBias() float64 {
	prob := math.Pow(cmplx.Abs(n.Amplitude), 2)
	bias := prob*math.Cos(n.Phase) + 1
	const eps = 1e-6
	if bias < eps {
		return eps
	}
	if bias > 2.0 {
		return 2.0
	}
	return bias
}

// RecordVisit accumulates decoherence proportional to 1/measurement
// precision, floored at 0 and capped at 1. Returns true if the node now
// exceeds cfg.DecoherenceThreshold and needs error correction.
func (n *Node) RecordVisit(cfg Config) bool {
	precision := cfg.MeasurementPrecision
	if precision <= 0 {
		precision = 1
	}
	delta := 1.0 / precision / 100.0 // scaled so thousands of visits are needed to saturate
	n.Decoherence += delta
	if n.Decoherence < 0 {
		n.Decoherence = 0
	}
	if n.Decoherence > 1 {
		n.Decoherence = 1
	}
	return n.Decoherence > cfg.DecoherenceThreshold
}

// Renormalize rescales amplitude across siblings so that the sum of
// |amplitude|^2 over the group equals 1. Called after backprop, consistent
// with the renormalize-on-backprop rule.
func Renormalize(siblings []*Node) {
	var sumSq float64
	for _, s := range siblings {
		sumSq += math.Pow(cmplx.Abs(s.Amplitude), 2)
	}
	if sumSq <= 0 {
		return
	}
	scale := 1.0 / math.Sqrt(sumSq)
	for _, s := range siblings {
		s.Amplitude = s.Amplitude * complex(scale, 0)
	}
}

// CorrectionOutcome reports what error correction did to a node.
type CorrectionOutcome int

const (
	CorrectionSucceeded CorrectionOutcome = iota
	CorrectionPruneRequired
)

// CorrectError applies local error correction per the three-step recipe:
// renormalize the local superposition, reset phase to the subtree's
// canonical value, and apply a small reward penalty. If decoherence still
// exceeds the threshold after cfg.ErrorCorrectionBudget attempts, the
// caller must prune the subtree and re-expand lazily.
func CorrectError(n *Node, siblings []*Node, canonicalPhase float64, cfg Config) (CorrectionOutcome, float64) {
	n.ErrorAttempts++
	Renormalize(siblings)
	n.Phase = canonicalPhase
	n.Decoherence *= 0.5
	penalty := 0.05

	if n.Decoherence > cfg.DecoherenceThreshold && n.ErrorAttempts >= cfg.ErrorCorrectionBudget {
		n.ErrorAttempts = 0
		n.Decoherence = 0
		return CorrectionPruneRequired, penalty
	}
	return CorrectionSucceeded, penalty
}

// CanonicalPhase is the mean phase across a subtree's currently tracked
// nodes, used to re-anchor a decohering node during correction.
func CanonicalPhase(subtree []*Node) float64 {
	if len(subtree) == 0 {
		return 0
	}
	var sum float64
	for _, n := range subtree {
		sum += n.Phase
	}
	return sum / float64(len(subtree))
}

// Registry tracks quantum state for every classical mcts.Node by id,
// guarded by one RWMutex consistent with the tree's own single-lock style.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	cfg   Config
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{nodes: make(map[string]*Node), cfg: cfg}
}

func (r *Registry) Config() Config { return r.cfg }

func (r *Registry) Get(id string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

func (r *Registry) Ensure(id string, siblingCount int, parentPhase float64) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		return n
	}
	n := NewNode(id, siblingCount, parentPhase, r.cfg)
	r.nodes[id] = n
	return n
}

func (r *Registry) Siblings(ids []string) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := r.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// BiasedUCT applies a quantum Node's UCTBias multiplicatively on top of a
// classical UCT score. Tree.Simulate does not call it: selection there is
// plain mcts UCT.
func BiasedUCT(classical float64, qn *Node) float64 {
	if qn == nil {
		return classical
	}
	if math.IsInf(classical, 1) {
		return classical
	}
	return classical * qn.UCTBias()
}
