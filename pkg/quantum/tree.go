package quantum

import (
	"context"

	"github.com/cogforge/coc/pkg/mcts"
)

// Tree wraps an mcts.Tree, attaching quantum state per node:
// amplitude/phase on expansion, renormalization plus decoherence
// accumulation after each simulation, and error correction when a node
// decoheres past threshold. Selection inside Simulate is the classical
// tree's plain UCT; the quantum UCT bias is applied only as the tie-break
// in BestChild, and no selection path calls BiasedUCT.
type Tree struct {
	classical *mcts.Tree
	registry  *Registry
}

// NewTree wires a quantum Registry to an existing classical tree. The
// classical tree still owns node storage and structural mutation; this
// type only tracks the quantum side-state keyed by the same NodeId.
func NewTree(classical *mcts.Tree, cfg Config) *Tree {
	registry := NewRegistry(cfg)
	registry.Ensure(classical.RootID(), 1, 0)
	return &Tree{classical: classical, registry: registry}
}

func (t *Tree) Registry() *Registry { return t.registry }

// Simulate runs one classical simulation, then applies the quantum
// bookkeeping pass: ensure quantum state exists for any newly expanded
// node, renormalize amplitude across each visited node's sibling set, and
// accumulate decoherence, running error correction where required.
func (t *Tree) Simulate(ctx context.Context, phase mcts.Phase) error {
	before := t.classical.Nodes()

	if err := t.classical.Simulate(ctx, phase); err != nil {
		return err
	}

	after := t.classical.Nodes()
	for id, node := range after {
		if _, existed := before[id]; existed {
			continue
		}
		parent, ok := after[node.ParentID]
		var parentPhase float64
		siblingCount := 1
		if ok {
			parentPhase = t.phaseOf(node.ParentID)
			siblingCount = len(parent.Children)
		}
		t.registry.Ensure(id, siblingCount, parentPhase)
	}

	for id, node := range after {
		if prev, existed := before[id]; existed && prev.Visits == node.Visits {
			continue
		}
		qn, ok := t.registry.Get(id)
		if !ok {
			continue
		}
		needsCorrection := qn.RecordVisit(t.registry.cfg)

		if node.ParentID != "" {
			parent := after[node.ParentID]
			siblingIDs := make([]string, 0, len(parent.Children))
			for _, childID := range parent.Children {
				siblingIDs = append(siblingIDs, childID)
			}
			Renormalize(t.registry.Siblings(siblingIDs))
		}

		if needsCorrection {
			subtreeIDs := descendants(after, id)
			subtree := t.registry.Siblings(subtreeIDs)
			canonical := CanonicalPhase(subtree)
			outcome, _ := CorrectError(qn, t.registry.Siblings(subtreeNeighbors(after, node.ParentID)), canonical, t.registry.cfg)
			if outcome == CorrectionPruneRequired {
				for _, d := range subtreeIDs {
					t.registry.Delete(d)
				}
			}
		}
	}

	return nil
}

func (t *Tree) phaseOf(id string) float64 {
	if qn, ok := t.registry.Get(id); ok {
		return qn.Phase
	}
	return 0
}

func descendants(nodes map[string]*mcts.Node, rootID string) []string {
	var out []string
	var walk func(id string)
	walk = func(id string) {
		out = append(out, id)
		n, ok := nodes[id]
		if !ok {
			return
		}
		for _, childID := range n.Children {
			walk(childID)
		}
	}
	walk(rootID)
	return out
}

func subtreeNeighbors(nodes map[string]*mcts.Node, parentID string) []string {
	parent, ok := nodes[parentID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(parent.Children))
	for _, childID := range parent.Children {
		out = append(out, childID)
	}
	return out
}

// BestChild delegates to the classical tree but tie-breaks using quantum
// bias when visit counts are equal, so a superposed child favored by
// constructive interference wins ties.
func (t *Tree) BestChild(nodeID string) (string, bool) {
	node := t.classical.Node(nodeID)
	if node == nil {
		return "", false
	}
	var bestID string
	var bestVisits uint64
	var bestScore float64
	found := false
	for _, childID := range node.Children {
		child := t.classical.Node(childID)
		if child == nil {
			continue
		}
		score := float64(child.Visits)
		if qn, ok := t.registry.Get(childID); ok {
			score *= qn.UCTBias()
		}
		if !found || child.Visits > bestVisits || (child.Visits == bestVisits && score > bestScore) {
			bestID = childID
			bestVisits = child.Visits
			bestScore = score
			found = true
		}
	}
	return bestID, found
}

// AverageDecoherence reports the mean decoherence across all tracked
// quantum nodes, the global error-correction trigger statistic an
// orchestrator consults between recursive-improvement rounds.
func (t *Tree) AverageDecoherence() float64 {
	nodes := t.classical.Nodes()
	var sum float64
	var count int
	for id := range nodes {
		if qn, ok := t.registry.Get(id); ok {
			sum += qn.Decoherence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
