// Package entanglement maintains an undirected weighted graph over quantum
// node ids, layered on top of pkg/quantum's per-node amplitude/phase
// state. Grounded on
// quantum_mcts/entanglement/engine/{balancing_analysis,balancing_strategy,
// combined_optimization,maintenance_assessment}.rs and entanglement_factory.rs.
package entanglement

import (
	"math"
	"sort"
	"sync"

	"github.com/cogforge/coc/pkg/mcts"
)

// Edge is one undirected weighted link between two node ids.
type Edge struct {
	A, B   string
	Weight float64
}

// Config bounds the engine's structural operations.
type Config struct {
	MaxEntanglementsPerNode int
	PruningThreshold        float64
	RewardDivergenceMargin  float64
	MaxRedistributions      int
}

func DefaultConfig() Config {
	return Config{
		MaxEntanglementsPerNode: 8,
		PruningThreshold:        0.1,
		RewardDivergenceMargin:  0.5,
		MaxRedistributions:      50,
	}
}

// Engine owns the entanglement graph for one quantum tree.
type Engine struct {
	mu    sync.RWMutex
	edges map[string]map[string]float64 // adjacency: nodeID -> neighborID -> weight
	cfg   Config
	stats EngineStatistics
}

func New(cfg Config) *Engine {
	return &Engine{edges: make(map[string]map[string]float64), cfg: cfg}
}

func (e *Engine) ensure(id string) {
	if e.edges[id] == nil {
		e.edges[id] = make(map[string]float64)
	}
}

func (e *Engine) degree(id string) int { return len(e.edges[id]) }

func (e *Engine) addEdge(a, b string, weight float64) {
	e.ensure(a)
	e.ensure(b)
	e.edges[a][b] = weight
	e.edges[b][a] = weight
}

func (e *Engine) removeEdge(a, b string) {
	delete(e.edges[a], b)
	delete(e.edges[b], a)
}

// similarity scores how strongly two classical nodes should entangle:
// shared parentage, reward correlation, and action-space proximity.
func similarity(a, b *mcts.Node) float64 {
	score := 0.0
	if a.ParentID != "" && a.ParentID == b.ParentID {
		score += 0.4
	}
	rewardA, rewardB := avgReward(a), avgReward(b)
	rewardGap := math.Abs(rewardA - rewardB)
	score += math.Max(0, 0.4-rewardGap)
	if a.ActionFromParent != "" && a.ActionFromParent == b.ActionFromParent {
		score += 0.2
	}
	return score
}

func avgReward(n *mcts.Node) float64 {
	if n.Visits == 0 {
		return 0
	}
	return n.TotalReward / float64(n.Visits)
}

// CreateStrategic scans node pairs and creates edges where similarity
// exceeds a dynamic threshold, bounded by MaxEntanglementsPerNode.
func (e *Engine) CreateStrategic(nodes map[string]*mcts.Node) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	threshold := 0.5
	if len(ids) > 200 {
		threshold = 0.65 // denser candidate pools require a stricter bar
	}

	created := 0
	for i := 0; i < len(ids); i++ {
		if e.degree(ids[i]) >= e.cfg.MaxEntanglementsPerNode {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			if e.degree(ids[i]) >= e.cfg.MaxEntanglementsPerNode {
				break
			}
			if e.degree(ids[j]) >= e.cfg.MaxEntanglementsPerNode {
				continue
			}
			sim := similarity(nodes[ids[i]], nodes[ids[j]])
			if sim > threshold {
				e.addEdge(ids[i], ids[j], sim)
				created++
			}
		}
	}
	e.stats.EdgesCreated += int64(created)
	return created
}

// PruneResult reports the outcome of an intelligent-pruning pass.
type PruneResult struct {
	Removed             int
	ImprovementEstimate float64
}

// IntelligentPruning removes edges below PruningThreshold and edges whose
// endpoints have diverged in reward beyond RewardDivergenceMargin.
func (e *Engine) IntelligentPruning(nodes map[string]*mcts.Node) PruneResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var toRemove [][2]string
	seen := make(map[[2]string]bool)
	for a, neighbors := range e.edges {
		for b, weight := range neighbors {
			key := edgeKey(a, b)
			if seen[key] {
				continue
			}
			seen[key] = true
			remove := weight < e.cfg.PruningThreshold
			if na, ok := nodes[a]; ok {
				if nb, ok := nodes[b]; ok {
					if math.Abs(avgReward(na)-avgReward(nb)) > e.cfg.RewardDivergenceMargin {
						remove = true
					}
				}
			}
			if remove {
				toRemove = append(toRemove, [2]string{a, b})
			}
		}
	}

	totalBefore := e.totalWeight()
	for _, pair := range toRemove {
		e.removeEdge(pair[0], pair[1])
	}
	totalAfter := e.totalWeight()

	improvement := 0.0
	if totalBefore > 0 {
		improvement = (totalBefore - totalAfter) / totalBefore
	}
	e.stats.EdgesPruned += int64(len(toRemove))
	return PruneResult{Removed: len(toRemove), ImprovementEstimate: improvement}
}

func edgeKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func (e *Engine) totalWeight() float64 {
	var sum float64
	seen := make(map[[2]string]bool)
	for a, neighbors := range e.edges {
		for b, w := range neighbors {
			key := edgeKey(a, b)
			if seen[key] {
				continue
			}
			seen[key] = true
			sum += w
		}
	}
	return sum
}

// NodeBalance describes one node's entanglement-count balance relative to
// the network average.
type NodeBalance struct {
	NodeID               string
	CurrentEntanglements int
	OptimalEntanglements int
	BalanceScore         float64 // 0 = perfectly balanced, 1 = maximally imbalanced
	RebalancingPriority  float64
}

// NetworkBalanceAnalysis is the engine's full per-node balance snapshot.
type NetworkBalanceAnalysis struct {
	NodeBalances     []NodeBalance
	AverageImbalance float64
	TotalImbalance   float64
	NeedsBalancing   bool
}

func averageDegree(edges map[string]map[string]float64) float64 {
	if len(edges) == 0 {
		return 0
	}
	var sum int
	for _, n := range edges {
		sum += len(n)
	}
	return float64(sum) / float64(len(edges))
}

func optimalEntanglementCount(node *mcts.Node, targetDegree float64, maxPerNode int) int {
	importance := node.TotalReward
	if node.Visits > 0 {
		importance = node.TotalReward / float64(node.Visits)
	}
	factor := float64(node.Visits)*0.001 + math.Abs(importance)*0.1
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 2.0 {
		factor = 2.0
	}
	optimal := int(targetDegree * factor)
	if optimal < 1 {
		optimal = 1
	}
	if optimal > maxPerNode {
		optimal = maxPerNode
	}
	return optimal
}

func balanceScore(current, optimal int) float64 {
	if optimal == 0 {
		if current == 0 {
			return 0
		}
		return 1
	}
	ratio := float64(current) / float64(optimal)
	if ratio > 1.0 {
		v := (ratio - 1.0) / ratio
		if v > 1 {
			return 1
		}
		return v
	}
	v := 1.0 - ratio
	if v > 1 {
		return 1
	}
	return v
}

func rebalancingPriority(node *mcts.Node, score float64) float64 {
	priority := score
	avg := avgReward(node)
	if avg > 0.5 {
		priority *= 1.5
	}
	if node.Visits > 100 {
		priority *= 1.3
	}
	if score > 0.7 {
		priority *= 1.8
	}
	if priority > 10.0 {
		return 10.0
	}
	return priority
}

// Priority classifies a node's rebalancing urgency.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "Critical"
	case PriorityHigh:
		return "High"
	case PriorityMedium:
		return "Medium"
	default:
		return "Low"
	}
}

// ClassifyPriority maps a rebalancing priority score to a Priority tier.
func ClassifyPriority(priority float64) Priority {
	switch {
	case priority > 3.0:
		return PriorityCritical
	case priority > 1.5:
		return PriorityHigh
	case priority > 0.5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// AnalyzeBalance computes a NetworkBalanceAnalysis for nodes.
func (e *Engine) AnalyzeBalance(nodes map[string]*mcts.Node) NetworkBalanceAnalysis {
	e.mu.RLock()
	defer e.mu.RUnlock()

	targetDegree := averageDegree(e.edges)
	var balances []NodeBalance
	var totalImbalance float64

	for id, node := range nodes {
		current := e.degree(id)
		optimal := optimalEntanglementCount(node, targetDegree, e.cfg.MaxEntanglementsPerNode)
		score := balanceScore(current, optimal)
		priority := rebalancingPriority(node, score)
		totalImbalance += score
		balances = append(balances, NodeBalance{
			NodeID:               id,
			CurrentEntanglements: current,
			OptimalEntanglements: optimal,
			BalanceScore:         score,
			RebalancingPriority:  priority,
		})
	}

	sort.Slice(balances, func(i, j int) bool { return balances[i].RebalancingPriority > balances[j].RebalancingPriority })

	avgImbalance := 0.0
	if len(balances) > 0 {
		avgImbalance = totalImbalance / float64(len(balances))
	}

	return NetworkBalanceAnalysis{
		NodeBalances:     balances,
		AverageImbalance: avgImbalance,
		TotalImbalance:   totalImbalance,
		NeedsBalancing:   avgImbalance > 0.3,
	}
}

// strategyFor derives the adaptive redistribution factor/budget for the
// current network density, the way dense networks favor conservative
// rebalancing and sparse ones favor aggressive rebalancing.
type strategy struct {
	factor             float64
	maxRedistributions int
}

func (e *Engine) strategyFor(nodeCount int) strategy {
	density := 0.0
	if nodeCount > 1 {
		density = averageDegree(e.edges) / float64(nodeCount-1)
	}
	s := strategy{factor: 1.0, maxRedistributions: e.cfg.MaxRedistributions}
	if density > 0.7 {
		s.factor *= 0.8
		s.maxRedistributions = int(float64(s.maxRedistributions) * 1.5)
	} else if density < 0.3 {
		s.factor *= 1.2
		s.maxRedistributions = int(float64(s.maxRedistributions) * 1.5)
	}
	return s
}

// BalanceDistribution redistributes edges from over-connected nodes to
// under-connected ones, bounded by the adaptive strategy's redistribution
// budget.
func (e *Engine) BalanceDistribution(nodes map[string]*mcts.Node) int {
	analysis := e.AnalyzeBalance(nodes)
	if !analysis.NeedsBalancing {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.strategyFor(len(nodes))
	redistributed := 0

	var over, under []NodeBalance
	for _, nb := range analysis.NodeBalances {
		if nb.RebalancingPriority < 0.5 {
			continue
		}
		if nb.CurrentEntanglements > nb.OptimalEntanglements {
			over = append(over, nb)
		} else if nb.CurrentEntanglements < nb.OptimalEntanglements {
			under = append(under, nb)
		}
	}

	for _, o := range over {
		if redistributed >= s.maxRedistributions {
			break
		}
		for b := range e.edges[o.NodeID] {
			if redistributed >= s.maxRedistributions || len(under) == 0 {
				break
			}
			target := under[0]
			if target.NodeID == o.NodeID || target.NodeID == b {
				continue
			}
			if _, linked := e.edges[o.NodeID][target.NodeID]; linked {
				continue
			}
			weight := e.edges[o.NodeID][b] * s.factor
			e.removeEdge(o.NodeID, b)
			e.addEdge(o.NodeID, target.NodeID, weight)
			redistributed++
			under = under[1:]
			break
		}
	}

	e.stats.Redistributions += int64(redistributed)
	return redistributed
}

// HealthReport summarizes network topology and balance health.
type HealthReport struct {
	Topology     string
	Density      float64
	Connectivity float64
	HealthScore  float64
}

// HealthCheck computes {topology, density, connectivity, health_score}.
func (e *Engine) HealthCheck(nodes map[string]*mcts.Node) HealthReport {
	analysis := e.AnalyzeBalance(nodes)

	e.mu.RLock()
	avgDeg := averageDegree(e.edges)
	e.mu.RUnlock()

	n := len(nodes)
	density := 0.0
	if n > 1 {
		density = avgDeg / float64(n-1)
	}

	topology := "sparse"
	if density > 0.7 {
		topology = "dense"
	} else if density > 0.3 {
		topology = "balanced"
	}

	connectivity := 0.0
	if n > 0 {
		connectivity = avgDeg / float64(e.cfg.MaxEntanglementsPerNode)
		if connectivity > 1 {
			connectivity = 1
		}
	}

	balanceComponent := math.Max(0, 1.0-math.Min(analysis.AverageImbalance, 1.0))
	healthScore := balanceComponent*0.6 + connectivity*0.4

	return HealthReport{Topology: topology, Density: density, Connectivity: connectivity, HealthScore: healthScore}
}

// EngineStatistics are cumulative operation counters, as exposed by the
// original's EngineStatistics observability struct.
type EngineStatistics struct {
	EdgesCreated    int64
	EdgesPruned     int64
	Redistributions int64
}

func (e *Engine) Statistics() EngineStatistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}
