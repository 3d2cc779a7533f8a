package invite

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/nearchat/internal/peers"
)

// ErrInvitationNotFound is returned when accepting or declining an id that is
// unknown or already resolved.
var ErrInvitationNotFound = errors.New("invitation not found or already resolved")

// DefaultDecisionTimeout is how long an inbound invitation waits for an
// accept/decline before it is auto-declined.
const DefaultDecisionTimeout = 30 * time.Second

// Decision delivers the accept/decline verdict to the transport. The broker
// guarantees it is invoked at most once per invitation.
type Decision func(accept bool)

// Invitation is one pending inbound connection request.
type Invitation struct {
	ID         string
	From       peers.Identity
	ReceivedAt time.Time
}

type pending struct {
	inv    Invitation
	decide Decision
	timer  *time.Timer
}

// Broker holds inbound invitations awaiting a decision. Each invitation
// carries its own auto-decline timer; a manual decision and the timer race
// first-wins, the loser is a no-op.
type Broker struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]*pending

	// Called after an invitation auto-declines on timeout.
	onExpire func(Invitation)
}

// NewBroker creates a broker. A zero timeout means DefaultDecisionTimeout.
// onExpire may be nil.
func NewBroker(timeout time.Duration, onExpire func(Invitation)) *Broker {
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}
	return &Broker{
		timeout:  timeout,
		pending:  make(map[string]*pending),
		onExpire: onExpire,
	}
}

// Add registers an inbound invitation and starts its decision timer.
func (b *Broker) Add(from peers.Identity, decide Decision) Invitation {
	inv := Invitation{
		ID:         uuid.NewString(),
		From:       from,
		ReceivedAt: time.Now(),
	}

	b.mu.Lock()
	p := &pending{inv: inv, decide: decide}
	p.timer = time.AfterFunc(b.timeout, func() { b.expire(inv.ID) })
	b.pending[inv.ID] = p
	b.mu.Unlock()

	return inv
}

// Accept resolves the invitation positively.
func (b *Broker) Accept(id string) error {
	return b.resolve(id, true)
}

// Decline resolves the invitation negatively.
func (b *Broker) Decline(id string) error {
	return b.resolve(id, false)
}

// DeclineAll declines every pending invitation. Used on identity restart.
func (b *Broker) DeclineAll() {
	b.mu.Lock()
	drained := make([]*pending, 0, len(b.pending))
	for id, p := range b.pending {
		p.timer.Stop()
		drained = append(drained, p)
		delete(b.pending, id)
	}
	b.mu.Unlock()

	for _, p := range drained {
		if p.decide != nil {
			p.decide(false)
		}
	}
}

// Pending returns the outstanding invitations, oldest first.
func (b *Broker) Pending() []Invitation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Invitation, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

func (b *Broker) resolve(id string, accept bool) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if !ok {
		b.mu.Unlock()
		return ErrInvitationNotFound
	}
	p.timer.Stop()
	delete(b.pending, id)
	b.mu.Unlock()

	if p.decide != nil {
		p.decide(accept)
	}
	return nil
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if !ok {
		// Resolved manually before the timer fired.
		b.mu.Unlock()
		return
	}
	delete(b.pending, id)
	b.mu.Unlock()

	if p.decide != nil {
		p.decide(false)
	}
	if b.onExpire != nil {
		b.onExpire(p.inv)
	}
}
