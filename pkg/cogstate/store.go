package cogstate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cogforge/coc/core"
)

const shardCount = 32

// shard holds a fraction of the keyspace behind its own RWMutex. This is
// the fine-grained-locking redesign of a single global Arc<RwLock<Map>>:
// reads on different shards never contend.
type shard struct {
	mu     sync.RWMutex
	states map[string]*CognitiveState
}

// indexBucket maps a secondary key (concept, domain, time bucket) to the
// bounded set of state ids filed under it.
type indexBucket struct {
	mu  sync.Mutex
	ids map[string][]string
}

func newIndexBucket() *indexBucket { return &indexBucket{ids: make(map[string][]string)} }

func (b *indexBucket) add(key, id string, cap int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.ids[key]
	if cap > 0 && len(list) >= cap {
		list = list[1:]
	}
	b.ids[key] = append(list, id)
}

func (b *indexBucket) get(key string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.ids[key]))
	copy(out, b.ids[key])
	return out
}

func (b *indexBucket) remove(ids map[string]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, list := range b.ids {
		kept := list[:0:0]
		for _, id := range list {
			if !ids[id] {
				kept = append(kept, id)
			}
		}
		b.ids[key] = kept
	}
}

// maxPerConcept/maxPerDomain/maxPerMinute bound index fan-in, matching the
// source's fixed-capacity per-key vectors.
const (
	maxPerConcept = 64
	maxPerDomain  = 64
	maxPerMinute  = 16
)

// Store is a sharded, concurrent cognitive state index with concept,
// domain and time-bucket secondary indices. With a RedisClient, each added
// state is also written to Redis as a JSON snapshot; no code path reads
// those snapshots back.
type Store struct {
	shards    [shardCount]*shard
	byConcept *indexBucket
	byDomain  *indexBucket
	byTime    *indexBucket

	redis  *core.RedisClient
	logger core.ComponentAwareLogger
}

// New constructs an empty Store. A nil RedisClient disables persistence;
// the in-memory index is always authoritative for reads.
func New(redis *core.RedisClient, logger core.ComponentAwareLogger) *Store {
	s := &Store{
		byConcept: newIndexBucket(),
		byDomain:  newIndexBucket(),
		byTime:    newIndexBucket(),
		redis:     redis,
		logger:    logger,
	}
	for i := range s.shards {
		s.shards[i] = &shard{states: make(map[string]*CognitiveState)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	var h uint32
	for i := 0; i < len(id); i++ {
		h = h*31 + uint32(id[i])
	}
	return s.shards[h%shardCount]
}

// Add indexes and stores state, returning its id.
func (s *Store) Add(ctx context.Context, state *CognitiveState) string {
	sh := s.shardFor(state.ID)
	sh.mu.Lock()
	sh.states[state.ID] = state
	sh.mu.Unlock()

	for _, c := range state.Semantic.PrimaryConcepts {
		s.byConcept.add(c, state.ID, maxPerConcept)
	}
	for _, d := range state.Semantic.DomainTags {
		s.byDomain.add(d, state.ID, maxPerDomain)
	}
	bucket := state.Timestamp.Unix() / 60
	s.byTime.add(bucketKey(bucket), state.ID, maxPerMinute)

	if s.redis != nil {
		s.persist(ctx, state)
	}
	return state.ID
}

// Get returns the state for id, or nil if absent.
func (s *Store) Get(id string) *CognitiveState {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.states[id]
}

// FindByConcept returns every live state filed under concept.
func (s *Store) FindByConcept(concept string) []*CognitiveState {
	return s.resolve(s.byConcept.get(concept))
}

// FindByDomain returns every live state filed under domain.
func (s *Store) FindByDomain(domain string) []*CognitiveState {
	return s.resolve(s.byDomain.get(domain))
}

func (s *Store) resolve(ids []string) []*CognitiveState {
	out := make([]*CognitiveState, 0, len(ids))
	for _, id := range ids {
		if st := s.Get(id); st != nil {
			out = append(out, st)
		}
	}
	return out
}

// CleanupInactive scans every shard under its own exclusive lock (the
// "slow path takes exclusive ownership" pattern) and evicts states whose
// decayed activation has fallen below threshold, then retracts them from
// every secondary index.
func (s *Store) CleanupInactive(decay time.Duration) int {
	dead := make(map[string]bool)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, st := range sh.states {
			if !st.IsActive(decay) {
				dead[id] = true
			}
		}
		for id := range dead {
			delete(sh.states, id)
		}
		sh.mu.Unlock()
	}
	if len(dead) == 0 {
		return 0
	}
	s.byConcept.remove(dead)
	s.byDomain.remove(dead)
	s.byTime.remove(dead)
	return len(dead)
}

// Len returns the total number of live states across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.states)
		sh.mu.RUnlock()
	}
	return total
}

func (s *Store) persist(ctx context.Context, state *CognitiveState) {
	data, err := json.Marshal(state)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("cogstate: snapshot marshal failed", map[string]interface{}{"id": state.ID, "error": err.Error()})
		}
		return
	}
	if err := s.redis.Set(ctx, state.ID, data, core.DefaultCacheTTL); err != nil {
		if s.logger != nil {
			s.logger.Warn("cogstate: snapshot write failed", map[string]interface{}{"id": state.ID, "error": err.Error()})
		}
	}
}

func bucketKey(bucket int64) string {
	// Decimal formatting without fmt keeps the hot insert path allocation-light.
	if bucket == 0 {
		return "0"
	}
	neg := bucket < 0
	if neg {
		bucket = -bucket
	}
	var buf [20]byte
	i := len(buf)
	for bucket > 0 {
		i--
		buf[i] = byte('0' + bucket%10)
		bucket /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
