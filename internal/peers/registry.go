package peers

import (
	"sort"
	"sync"
	"time"
)

// ConnectionState tracks the link to one remote peer. Transitions come from
// transport callbacks; a local invite only ever produces the Connecting hint.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "not connected"
	}
}

// DiscoveredPeer is one remote peer the transport has reported.
type DiscoveredPeer struct {
	Identity Identity
	State    ConnectionState
	Metadata map[string]string
	LastSeen time.Time
}

// Registry tracks discovered peers and their connection state. The
// coordinator is the only writer; snapshot methods return copies so readers
// never alias registry-owned maps.
type Registry struct {
	mu    sync.Mutex
	peers map[string]DiscoveredPeer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]DiscoveredPeer)}
}

// Found inserts or refreshes a peer: LastSeen is bumped and metadata merged.
// The connection state of an already-known peer is left alone.
func (r *Registry) Found(id Identity, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id.ID]
	if !ok {
		p = DiscoveredPeer{Identity: id, Metadata: make(map[string]string)}
	}
	p.Identity = id
	p.LastSeen = time.Now()
	for k, v := range metadata {
		p.Metadata[k] = v
	}
	r.peers[id.ID] = p
}

// Lost removes the peer only when it is not connected. A peer that drops out
// of discovery range mid-connection stays until the transport reports an
// explicit disconnect. Returns true when the peer was removed.
func (r *Registry) Lost(id Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id.ID]
	if !ok || p.State != NotConnected {
		return false
	}
	delete(r.peers, id.ID)
	return true
}

// SetState updates a peer's connection state, inserting the peer if the
// transport reports a state for one we never saw in discovery. Returns the
// previous state and whether the peer was already known.
func (r *Registry) SetState(id Identity, state ConnectionState) (prev ConnectionState, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id.ID]
	if !ok {
		p = DiscoveredPeer{Identity: id, Metadata: make(map[string]string)}
	}
	prev = p.State
	p.State = state
	p.LastSeen = time.Now()
	r.peers[id.ID] = p
	return prev, ok
}

// Get returns a copy of the peer entry.
func (r *Registry) Get(id string) (DiscoveredPeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return DiscoveredPeer{}, false
	}
	return copyPeer(p), true
}

// IsConnected reports whether the peer is currently connected.
func (r *Registry) IsConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return ok && p.State == Connected
}

// Snapshot returns all known peers ordered by id.
func (r *Registry) Snapshot() []DiscoveredPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DiscoveredPeer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, copyPeer(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out
}

// Connected returns the connected subset, ordered by id.
func (r *Registry) Connected() []DiscoveredPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DiscoveredPeer, 0)
	for _, p := range r.peers {
		if p.State == Connected {
			out = append(out, copyPeer(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out
}

// ClearDiscovered drops peers that are not connected. Used when discovery is
// switched off: connected peers and peers mid-handshake are kept.
func (r *Registry) ClearDiscovered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.peers {
		if p.State == NotConnected {
			delete(r.peers, id)
		}
	}
}

// Clear removes every peer. Used on identity restart.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[string]DiscoveredPeer)
}

func copyPeer(p DiscoveredPeer) DiscoveredPeer {
	meta := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	p.Metadata = meta
	return p
}
