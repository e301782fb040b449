package mcts

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
)

// Node is one vertex of the search tree: created on expansion, never
// mutated except through selection/backprop, destroyed only when the
// whole tree is dropped. Nodes are addressed by stable string NodeId, not
// by pointer, so the quantum layer can reference them without forming an
// embedded back-pointer cycle.
type Node struct {
	ID             string
	ParentID       string
	State          CodeState
	ActionFromParent string
	Children       map[string]string // action name -> child NodeId
	Visits         uint64
	TotalReward    float64
	UntriedActions []Action
}

// Tree owns every node in a map guarded by a single RWMutex: selection is
// read-mostly (RLock), expansion/backprop take the write lock only for
// the structural mutation itself.
type Tree struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	rootID    string
	actions   *ActionManager
	evaluator Evaluator
	c         float64 // UCT exploration constant
}

// NewTree creates a tree rooted at initial, with its full untried-action
// set pre-populated from actions.
func NewTree(initial CodeState, actions *ActionManager, evaluator Evaluator, explorationC float64) *Tree {
	root := &Node{
		ID:             uuid.NewString(),
		State:          initial,
		Children:       make(map[string]string),
		UntriedActions: actions.Generate(initial),
	}
	return &Tree{
		nodes:     map[string]*Node{root.ID: root},
		rootID:    root.ID,
		actions:   actions,
		evaluator: evaluator,
		c:         explorationC,
	}
}

// RootID returns the id of the tree's root node.
func (t *Tree) RootID() string { return t.rootID }

// Node returns a copy-safe snapshot of the node with id, or nil.
func (t *Tree) Node(id string) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

// Nodes returns a snapshot map of every node in the tree, for Tree
// Analysis's pure functions.
func (t *Tree) Nodes() map[string]*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*Node, len(t.nodes))
	for id, n := range t.nodes {
		cp := *n
		out[id] = &cp
	}
	return out
}

// uct is the standard UCT score with exploration constant c.
func uct(child *Node, parentVisits uint64, c float64) float64 {
	if child.Visits == 0 {
		return math.Inf(1)
	}
	exploit := child.TotalReward / float64(child.Visits)
	explore := c * math.Sqrt(math.Log(float64(parentVisits))/float64(child.Visits))
	return exploit + explore
}

// selectLeaf walks from root to a node that either has untried actions or
// no children, returning the path of node ids taken (root included).
func (t *Tree) selectLeaf() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	path := []string{t.rootID}
	cur := t.nodes[t.rootID]
	for len(cur.UntriedActions) == 0 && len(cur.Children) > 0 {
		var bestID string
		bestScore := math.Inf(-1)
		for _, childID := range cur.Children {
			child := t.nodes[childID]
			score := uct(child, cur.Visits, t.c)
			if score > bestScore {
				bestScore = score
				bestID = childID
			}
		}
		if bestID == "" {
			break
		}
		path = append(path, bestID)
		cur = t.nodes[bestID]
	}
	return path
}

// expand pops one untried action off leaf and creates its child, returning
// the new child's id, or "" if leaf had no untried actions.
func (t *Tree) expand(leafID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf := t.nodes[leafID]
	if len(leaf.UntriedActions) == 0 {
		return ""
	}
	action := leaf.UntriedActions[0]
	leaf.UntriedActions = leaf.UntriedActions[1:]

	newState := t.actions.Apply(action, leaf.State)
	child := &Node{
		ID:               uuid.NewString(),
		ParentID:         leafID,
		State:            newState,
		ActionFromParent: action.Name,
		Children:         make(map[string]string),
		UntriedActions:   t.actions.Generate(newState),
	}
	t.nodes[child.ID] = child
	leaf.Children[action.Name] = child.ID
	return child.ID
}

// backprop updates visits and total_reward along path, atomically per
// node from the caller's perspective since the whole call holds the
// write lock.
func (t *Tree) backprop(path []string, reward float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range path {
		n := t.nodes[id]
		n.Visits++
		n.TotalReward += reward
	}
}

// Simulate runs one full selection/expansion/simulation/backprop cycle.
// Simulation failure produces a zero-reward visit rather than aborting
// the tree.
func (t *Tree) Simulate(ctx context.Context, phase Phase) error {
	path := t.selectLeaf()
	leafID := path[len(path)-1]

	childID := t.expand(leafID)
	if childID != "" {
		path = append(path, childID)
	}
	target := childID
	if target == "" {
		target = leafID
	}

	node := t.Node(target)
	var reward float64
	if t.evaluator != nil {
		action := Action{Name: node.ActionFromParent}
		r, _, err := t.evaluator.Evaluate(ctx, node.State, action, phase)
		if err == nil {
			reward = r
		}
		// Simulation failure is recorded as a zero-reward visit; the
		// subtree is not pruned here — that is the quantum layer's job.
	}

	t.backprop(path, reward)
	return nil
}

// BestChild returns the id of root's (or any node's) most-visited child,
// the spec's tie-break for "select the highest-visited root child".
func (t *Tree) BestChild(nodeID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[nodeID]
	if !ok {
		return "", false
	}
	var bestID string
	var bestVisits uint64
	for _, childID := range n.Children {
		child := t.nodes[childID]
		if child.Visits >= bestVisits {
			bestVisits = child.Visits
			bestID = childID
		}
	}
	return bestID, bestID != ""
}
