package groups

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientMembers is returned when creating a group with fewer than
// two distinct non-local members.
var ErrInsufficientMembers = errors.New("a group needs at least two members")

// ErrGroupNotFound is returned when mutating an unknown group.
var ErrGroupNotFound = errors.New("group not found")

// Session is one named group of member peer ids. Membership is independent
// of live connectivity; Active is derived from the connected set and
// recomputed whenever connectivity changes.
type Session struct {
	ID        string
	Name      string
	MemberIDs []string // sorted
	CreatedAt time.Time
	Active    bool
}

type groupEntry struct {
	id        string
	name      string
	members   map[string]bool
	createdAt time.Time
	active    bool
}

// Registry holds the group sessions. Groups survive identity restarts; they
// are keyed by their own id, not by any live connection.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*groupEntry
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*groupEntry)}
}

// Create makes a new group. memberIDs are deduplicated and the local id is
// ignored; fewer than two distinct remote members is an error. connected
// reports current connectivity so Active starts out correct.
func (r *Registry) Create(name, localID string, memberIDs []string, connected func(string) bool) (Session, error) {
	members := make(map[string]bool)
	for _, id := range memberIDs {
		if id == "" || id == localID {
			continue
		}
		members[id] = true
	}
	if len(members) < 2 {
		return Session{}, ErrInsufficientMembers
	}

	g := &groupEntry{
		id:        uuid.NewString(),
		name:      name,
		members:   members,
		createdAt: time.Now(),
		active:    anyConnected(members, connected),
	}

	r.mu.Lock()
	r.groups[g.id] = g
	r.mu.Unlock()

	return g.snapshot(), nil
}

// AddMember adds a peer to the group. Adding an existing member is a no-op.
func (r *Registry) AddMember(groupID, peerID string, connected func(string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	g.members[peerID] = true
	g.active = anyConnected(g.members, connected)
	return nil
}

// RemoveMember removes a peer from the group. The group may shrink below two
// members without being deleted.
func (r *Registry) RemoveMember(groupID, peerID string, connected func(string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	delete(g.members, peerID)
	g.active = anyConnected(g.members, connected)
	return nil
}

// Delete removes the group. Returns false when the id is unknown.
func (r *Registry) Delete(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		return false
	}
	delete(r.groups, groupID)
	return true
}

// Get returns a snapshot of one group.
func (r *Registry) Get(groupID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return Session{}, false
	}
	return g.snapshot(), true
}

// Members returns the member id set of one group.
func (r *Registry) Members(groupID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, false
	}
	return sortedIDs(g.members), true
}

// Snapshot returns all groups ordered by creation time.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Recompute re-derives Active for every group from current connectivity.
// Called by the coordinator on every peer state change.
func (r *Registry) Recompute(connected func(string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		g.active = anyConnected(g.members, connected)
	}
}

func (g *groupEntry) snapshot() Session {
	return Session{
		ID:        g.id,
		Name:      g.name,
		MemberIDs: sortedIDs(g.members),
		CreatedAt: g.createdAt,
		Active:    g.active,
	}
}

func anyConnected(members map[string]bool, connected func(string) bool) bool {
	if connected == nil {
		return false
	}
	for id := range members {
		if connected(id) {
			return true
		}
	}
	return false
}

func sortedIDs(members map[string]bool) []string {
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
