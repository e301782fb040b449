package mcts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
)

// Generator produces deterministic, deduplicated, bounded candidate
// actions for a state. Implementations are supplied by the caller (the
// orchestrator wires in a domain-specific generator); mcts ships a
// built-in heuristic generator for the well-known noop/reduce-latency/
// increase-memory/improve-relevance action family used throughout the
// test corpus.
type Generator interface {
	Generate(state CodeState) []Action
}

// HeuristicGenerator produces a small fixed action family whose expected
// impact is proportional to the requested percentage deltas.
type HeuristicGenerator struct{}

func (HeuristicGenerator) Generate(state CodeState) []Action {
	return []Action{
		{Name: "noop", Priority: 0.1, RiskScore: 0.0},
		{Name: "reduce_latency_10pct", ExpectedImpact: Impact{LatencyDelta: -0.10}, Priority: 0.8, RiskScore: 0.2},
		{Name: "increase_memory_5pct", ExpectedImpact: Impact{MemoryDelta: 0.05}, Priority: 0.3, RiskScore: 0.3},
		{Name: "improve_relevance_5pct", ExpectedImpact: Impact{RelevanceDelta: 0.05}, Priority: 0.5, RiskScore: 0.25},
	}
}

// cacheEntry stores a previous generation result keyed by state fingerprint.
type cacheEntry struct {
	actions []Action
}

// CacheStats reports action-generation cache effectiveness.
type CacheStats struct {
	Hits   int
	Misses int
	Size   int
}

// ActionManager generates, validates and applies actions, caching
// generation results per state fingerprint.
type ActionManager struct {
	generator Generator

	mu    sync.Mutex
	cache map[string]cacheEntry
	stats CacheStats
}

// NewActionManager builds a manager around gen; a nil gen defaults to
// HeuristicGenerator.
func NewActionManager(gen Generator) *ActionManager {
	if gen == nil {
		gen = HeuristicGenerator{}
	}
	return &ActionManager{generator: gen, cache: make(map[string]cacheEntry)}
}

// fingerprint is a stable content hash of the state used as a cache key.
func fingerprint(state CodeState) string {
	h := sha256.New()
	h.Write(state.Code)
	return hex.EncodeToString(h.Sum(nil))
}

// Generate returns deduplicated actions for state, using the per-state
// fingerprint cache when available.
func (m *ActionManager) Generate(state CodeState) []Action {
	key := fingerprint(state)

	m.mu.Lock()
	if entry, ok := m.cache[key]; ok {
		m.stats.Hits++
		m.mu.Unlock()
		return entry.actions
	}
	m.stats.Misses++
	m.mu.Unlock()

	raw := m.generator.Generate(state)
	seen := make(map[string]bool, len(raw))
	deduped := make([]Action, 0, len(raw))
	for _, a := range raw {
		if seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		deduped = append(deduped, a)
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{actions: deduped}
	m.stats.Size = len(m.cache)
	m.mu.Unlock()

	return deduped
}

// CacheStatistics returns a snapshot of generation cache effectiveness.
func (m *ActionManager) CacheStatistics() CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ClearCache discards every cached generation result.
func (m *ActionManager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]cacheEntry)
	m.stats = CacheStats{}
}

// Validate checks action preconditions and coarse safety: risk score and
// priority must fall within [0,1], the state's latency and memory must be
// positive, and an action whose name contains "unsafe" is rejected.
func (m *ActionManager) Validate(action Action, state CodeState) ValidationResult {
	if action.RiskScore < 0 || action.RiskScore > 1 {
		return ValidationResult{Valid: false, Reason: "risk score out of range"}
	}
	if action.Priority < 0 || action.Priority > 1 {
		return ValidationResult{Valid: false, Reason: "priority out of range"}
	}
	if state.Latency <= 0 || state.Memory <= 0 {
		return ValidationResult{Valid: false, Reason: "state has non-positive baseline metrics"}
	}
	if strings.Contains(strings.ToLower(action.Name), "unsafe") {
		return ValidationResult{Valid: false, Reason: "unsafe transformation rejected"}
	}
	return ValidationResult{Valid: true}
}

// Apply performs the pure transformation an Action describes, returning
// the resulting CodeState. Apply never mutates its input.
func (m *ActionManager) Apply(action Action, state CodeState) CodeState {
	next := CodeState{
		Code:      state.Code,
		Latency:   state.Latency * (1 + action.ExpectedImpact.LatencyDelta),
		Memory:    state.Memory * (1 + action.ExpectedImpact.MemoryDelta),
		Relevance: clamp01(state.Relevance * (1 + action.ExpectedImpact.RelevanceDelta)),
	}
	if next.Latency <= 0 {
		next.Latency = state.Latency
	}
	if next.Memory <= 0 {
		next.Memory = state.Memory
	}
	return next
}

// ValidatedActions generates, validates, and scores every candidate for
// state, sorted by OverallScore descending (highest first).
func (m *ActionManager) ValidatedActions(state CodeState) []ValidatedAction {
	actions := m.Generate(state)
	out := make([]ValidatedAction, 0, len(actions))
	for _, a := range actions {
		vr := m.Validate(a, state)
		if !vr.Valid {
			continue
		}
		out = append(out, ValidatedAction{
			Action:           a,
			Priority:         a.Priority,
			ExpectedImpact:   a.ExpectedImpact,
			RiskScore:        a.RiskScore,
			ValidationResult: vr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverallScore() > out[j].OverallScore() })
	return out
}

// BatchApplyResult is one step of a sequential batch application.
type BatchApplyResult struct {
	Action  string
	Success bool
	State   CodeState
	Err     error
}

// BatchApply runs actions sequentially against state, updating the
// current state between applications. The first invalid/failing action
// aborts the batch but the already-produced partial results are returned.
func (m *ActionManager) BatchApply(actions []Action, state CodeState) []BatchApplyResult {
	results := make([]BatchApplyResult, 0, len(actions))
	current := state
	for _, a := range actions {
		vr := m.Validate(a, current)
		if !vr.Valid {
			results = append(results, BatchApplyResult{Action: a.Name, Success: false, Err: &Failure{Reason: vr.Reason}})
			break
		}
		current = m.Apply(a, current)
		results = append(results, BatchApplyResult{Action: a.Name, Success: true, State: current})
	}
	return results
}

// Failure is the typed error an aborted batch application returns.
type Failure struct{ Reason string }

func (f *Failure) Error() string { return f.Reason }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
