// Package registry maps scooter identifiers to the peer that currently
// reaches them.
package registry

import (
	"sort"
	"sync"

	"scooterlab/internal/transport"
)

// Entry is one registered scooter.
type Entry struct {
	ID   string
	Peer transport.Peer
}

// Registry is safe for concurrent use. Entries are never expired; stream
// transports remove them through RemovePeer when their connection closes.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]transport.Peer
}

func New() *Registry {
	return &Registry{peers: make(map[string]transport.Peer)}
}

// Upsert maps id to peer and reports whether id was unknown.
func (r *Registry) Upsert(id string, p transport.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, known := r.peers[id]
	r.peers[id] = p
	return !known
}

func (r *Registry) Get(id string) (transport.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// RemovePeer deletes every id mapped to p and returns them.
func (r *Registry) RemovePeer(p transport.Peer) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, cur := range r.peers {
		if cur == p {
			delete(r.peers, id)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Peers returns a snapshot sorted by id.
func (r *Registry) Peers() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.peers))
	for id, p := range r.peers {
		out = append(out, Entry{ID: id, Peer: p})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
