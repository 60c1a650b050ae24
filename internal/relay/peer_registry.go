package relay

import (
	"sync"
)

// peerRegistry tracks connected peers in a thread-safe manner.
type peerRegistry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{
		peers: make(map[string]*Peer),
	}
}

// register adds p under its id.
func (r *peerRegistry) register(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers[p.id] = p
}

// deregister removes a peer by its ID. It reports whether the peer was
// registered.
func (r *peerRegistry) deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// snapshot returns the registered peers. The slice is owned by the caller.
func (r *peerRegistry) snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// peerCount returns the number of currently connected peers.
func (r *peerRegistry) peerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.peers)
}
