package coordinator

import (
	"github.com/petervdpas/nearchat/internal/chat"
	"github.com/petervdpas/nearchat/internal/peers"
)

// EventType classifies coordinator events delivered to local listeners.
type EventType string

const (
	EventPeers       EventType = "peers"       // discovery or connection change
	EventInvitations EventType = "invitations" // pending set changed
	EventGroups      EventType = "groups"      // group created/mutated/deleted
	EventMessage     EventType = "message"     // message appended to a conversation
)

// Event notifies presentation code that state changed. It carries enough to
// decide what to re-read; the data itself comes from the query surface,
// which always returns snapshots.
type Event struct {
	Type    EventType
	PeerID  string
	Key     string // conversation key for message events
	Message *chat.Message
}

// Subscribe returns a channel of coordinator events. Slow listeners drop
// events rather than block the coordinator.
func (c *Coordinator) Subscribe() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Event, 16)
	c.listeners = append(c.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (c *Coordinator) Unsubscribe(ch <-chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, listener := range c.listeners {
		if listener == ch {
			close(listener)
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) notify(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, listener := range c.listeners {
		select {
		case listener <- evt:
		default:
			// Listener buffer full, skip
		}
	}
}

// ─── Transport callbacks ─────────────────────────────────────────────────────
//
// These arrive on transport-internal goroutines. Each one takes the
// coordinator mutex before touching shared state, which is the whole
// serialization story: commands and callbacks interleave but never overlap.

// PeerFound implements transport.Events.
func (c *Coordinator) PeerFound(identity peers.Identity, metadata map[string]string) {
	c.mu.Lock()
	if identity.ID == c.self.ID {
		c.mu.Unlock()
		return
	}
	c.registry.Found(identity, metadata)
	c.mu.Unlock()

	log.Debugf("peer found: %s", identity.ID)
	c.notify(Event{Type: EventPeers, PeerID: identity.ID})
}

// PeerLost implements transport.Events. Only not-connected peers are
// actually dropped; for anyone mid-handshake or connected this is a no-op.
func (c *Coordinator) PeerLost(identity peers.Identity) {
	c.mu.Lock()
	removed := c.registry.Lost(identity)
	c.mu.Unlock()

	if removed {
		log.Debugf("peer lost: %s", identity.ID)
		c.notify(Event{Type: EventPeers, PeerID: identity.ID})
	}
}

// PeerStateChanged implements transport.Events. This is the authoritative
// source of connection state transitions.
func (c *Coordinator) PeerStateChanged(identity peers.Identity, state peers.ConnectionState) {
	c.mu.Lock()
	if identity.ID == c.self.ID {
		c.mu.Unlock()
		return
	}
	c.applyStateLocked(identity, state)
	c.mu.Unlock()

	log.Infof("peer %s is now %s", identity.ID, state)
	c.notify(Event{Type: EventPeers, PeerID: identity.ID})
}

// applyStateLocked records a state transition, appends join/leave notices
// and re-derives group activity. Caller holds c.mu.
func (c *Coordinator) applyStateLocked(identity peers.Identity, state peers.ConnectionState) {
	prev, known := c.registry.SetState(identity, state)

	switch {
	case state == peers.Connected && prev != peers.Connected:
		c.store.Append(identity.ID, chat.NewSystem(identity.DisplayName+" joined"))
	case state == peers.NotConnected && known && prev != peers.NotConnected:
		c.store.Append(identity.ID, chat.NewSystem(identity.DisplayName+" left"))
	}

	c.groups.Recompute(c.registry.IsConnected)
}

// InvitationReceived implements transport.Events.
func (c *Coordinator) InvitationReceived(from peers.Identity, decide func(accept bool)) {
	c.mu.Lock()
	if from.ID == c.self.ID {
		c.mu.Unlock()
		decide(false)
		return
	}
	c.mu.Unlock()

	inv := c.invites.Add(from, decide)
	log.Infof("invitation %s from %s", inv.ID, from.ID)
	c.notify(Event{Type: EventInvitations, PeerID: from.ID})
}

// DataReceived implements transport.Events. Undecodable or stale frames are
// logged and dropped; they never reach a conversation or the caller.
func (c *Coordinator) DataReceived(data []byte, from peers.Identity) {
	env, err := chat.DecodeEnvelope(data)
	if err != nil {
		log.Warnf("dropping frame from %s: %v", from.ID, err)
		return
	}

	c.mu.Lock()
	// Only frames from peers connected in this session are accepted. After
	// an identity restart the registry is empty, so late data from the old
	// session falls out here.
	if !c.registry.IsConnected(from.ID) {
		c.mu.Unlock()
		log.Warnf("dropping frame from %s: not connected in this session", from.ID)
		return
	}

	// Group-addressed messages file under the group's conversation when the
	// destination names a group we know; everything else files under the
	// sender.
	key := from.ID
	if env.Destination != "" && env.Destination != c.self.ID {
		if _, ok := c.groups.Get(env.Destination); ok {
			key = env.Destination
		}
	}
	msg := env.Message
	c.store.AppendInbound(key, msg)
	c.mu.Unlock()

	c.notify(Event{Type: EventMessage, Key: key, Message: &msg})
}
