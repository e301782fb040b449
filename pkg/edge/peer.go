// Package edge implements the front-door HTTP service: peer discovery
// endpoints, JWT/discovery-token authentication, role authorization, and
// dispatch through per-peer circuit breakers. Grounded on the teacher's
// core/agent.go HTTP bootstrap (mux + middleware stack + graceful Stop)
// and core/discovery.go (peer registration/lookup shape), generalized
// from Redis-backed service discovery to an in-process peer registry.
package edge

import (
	"sync"
	"time"
)

// Peer is a registered edge peer, addressable by id.
type Peer struct {
	PeerID      string    `json:"peer_id"`
	Addr        string    `json:"addr"`
	PublicKeyB64 string   `json:"-"`
	LastSeen    time.Time `json:"-"`
}

// PeerView is the wire shape returned by GET /api/peers.
type PeerView struct {
	PeerID       string  `json:"peer_id"`
	Addr         string  `json:"addr"`
	LastSeenSAgo float64 `json:"last_seen_s_ago"`
}

// PeerRegistry holds known peers, keyed by id. Owned exclusively by the
// edge service, per the ownership note that the Edge Service owns the
// peer registry and per-peer circuit breakers, shared by identifier.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]*Peer)}
}

// Register upserts a peer, refreshes its LastSeen and returns the stored
// entry. The epoch public key sent back to a registrant comes from the
// token manager's PublicKey(), not from this registry.
func (r *PeerRegistry) Register(peerID, addr, publicKeyB64 string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &Peer{PeerID: peerID, Addr: addr, PublicKeyB64: publicKeyB64, LastSeen: time.Now()}
	r.peers[peerID] = p
	return p
}

// Touch refreshes a known peer's LastSeen timestamp without changing its
// address, used when a peer is observed via an authenticated request
// rather than an explicit registration call.
func (r *PeerRegistry) Touch(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[peerID]; ok {
		p.LastSeen = time.Now()
	}
}

// List returns a snapshot of known peers as the GET /api/peers view.
func (r *PeerRegistry) List() []PeerView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	views := make([]PeerView, 0, len(r.peers))
	for _, p := range r.peers {
		views = append(views, PeerView{
			PeerID:       p.PeerID,
			Addr:         p.Addr,
			LastSeenSAgo: now.Sub(p.LastSeen).Seconds(),
		})
	}
	return views
}

// Get returns a peer by id, if known.
func (r *PeerRegistry) Get(peerID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	return p, ok
}

// Count reports the number of known peers.
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
