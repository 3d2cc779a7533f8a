// Package coordinator implements the connectivity coordinator: the single
// serialization point that owns discovery, the peer registry, pending
// invitations, group sessions and the conversation store, and that routes
// chat messages to one peer or a group of peers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/google/uuid"

	"github.com/petervdpas/nearchat/internal/chat"
	"github.com/petervdpas/nearchat/internal/groups"
	"github.com/petervdpas/nearchat/internal/invite"
	"github.com/petervdpas/nearchat/internal/peers"
	"github.com/petervdpas/nearchat/internal/transport"
)

var log = logging.Logger("nearchat:coord")

var (
	// ErrPeerNotConnected is returned when sending to a peer that is not
	// currently connected.
	ErrPeerNotConnected = errors.New("peer is not connected")

	// ErrNoReachableMembers is returned when sending to a group none of
	// whose members are connected.
	ErrNoReachableMembers = errors.New("no group members are connected")

	// ErrSendFailed wraps a transport failure. The message was not echoed
	// locally; the caller may retry.
	ErrSendFailed = errors.New("send failed")

	// ErrUnknownPeer is returned when inviting a peer that was never
	// discovered.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Options tunes a Coordinator. The zero value is usable.
type Options struct {
	// Metadata is advertised alongside the identity in discovery.
	Metadata map[string]string

	// InviteTimeout overrides the 30s invitation auto-decline, for tests.
	InviteTimeout time.Duration
}

// Coordinator owns all mutable connectivity state. Every command and every
// transport callback funnels through the one mutex, so no two operations
// observe or mutate state concurrently. Blocking transport calls happen
// outside the lock.
type Coordinator struct {
	mu sync.Mutex

	tp transport.Transport

	self      peers.Identity
	sessionID string
	gen       uint64 // bumped on identity restart; guards in-flight sends

	registry *peers.Registry
	invites  *invite.Broker
	groups   *groups.Registry
	store    *chat.Store

	metadata    map[string]string
	discovering bool

	listeners []chan Event
	closed    bool
}

// New constructs a coordinator bound to the given transport and installs
// itself as the transport's event sink. One coordinator per process.
func New(tp transport.Transport, displayName string, opts Options) *Coordinator {
	c := &Coordinator{
		tp:        tp,
		self:      peers.NewIdentity(displayName),
		sessionID: uuid.NewString(),
		registry:  peers.NewRegistry(),
		groups:    groups.NewRegistry(),
		store:     chat.NewStore(),
		metadata:  opts.Metadata,
	}
	c.invites = invite.NewBroker(opts.InviteTimeout, c.invitationExpired)
	tp.SetEvents(c)
	return c
}

// Identity returns the current local identity.
func (c *Coordinator) Identity() peers.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// SessionID returns the current session id. It changes on every identity
// restart.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ─── Discovery ───────────────────────────────────────────────────────────────

// StartDiscovery begins advertising the local identity and browsing for
// peers. Idempotent.
func (c *Coordinator) StartDiscovery(ctx context.Context) error {
	c.mu.Lock()
	if c.discovering {
		c.mu.Unlock()
		return nil
	}
	c.discovering = true
	self, meta := c.self, c.metadata
	c.mu.Unlock()

	if err := c.tp.Advertise(ctx, self, meta); err != nil {
		c.setDiscovering(false)
		return fmt.Errorf("start advertising: %w", err)
	}
	if err := c.tp.Browse(ctx); err != nil {
		_ = c.tp.StopAdvertise(ctx)
		c.setDiscovering(false)
		return fmt.Errorf("start browsing: %w", err)
	}
	log.Infof("discovery started as %s", self.ID)
	return nil
}

// StopDiscovery stops advertising and browsing and clears discovered peers
// that are not connected. Idempotent; connected peers are untouched.
func (c *Coordinator) StopDiscovery(ctx context.Context) error {
	c.mu.Lock()
	if !c.discovering {
		c.mu.Unlock()
		return nil
	}
	c.discovering = false
	c.mu.Unlock()

	err := errors.Join(c.tp.StopBrowse(ctx), c.tp.StopAdvertise(ctx))

	c.mu.Lock()
	c.registry.ClearDiscovered()
	c.mu.Unlock()
	c.notify(Event{Type: EventPeers})

	if err != nil {
		return fmt.Errorf("stop discovery: %w", err)
	}
	log.Infof("discovery stopped")
	return nil
}

func (c *Coordinator) setDiscovering(v bool) {
	c.mu.Lock()
	c.discovering = v
	c.mu.Unlock()
}

// RestartIdentity renames the local participant. Destructive: pending
// invitations are declined, the peer registry is cleared and live
// connections are invalidated, then discovery restarts under the new
// identity. Conversations and groups survive, keyed by ids that outlive the
// rename.
func (c *Coordinator) RestartIdentity(ctx context.Context, newDisplayName string) error {
	// Take the transport down before swapping identities so no presence
	// heartbeat goes out under the old name.
	if err := errors.Join(c.tp.StopBrowse(ctx), c.tp.StopAdvertise(ctx)); err != nil {
		log.Warnf("identity restart: stopping transport: %v", err)
	}

	c.invites.DeclineAll()

	c.mu.Lock()
	old := c.self
	c.self = peers.NewIdentity(newDisplayName)
	c.sessionID = uuid.NewString()
	c.gen++
	c.registry.Clear()
	c.groups.Recompute(c.registry.IsConnected)
	c.discovering = true
	self, meta := c.self, c.metadata
	c.mu.Unlock()

	log.Infof("identity restarted: %s -> %s", old.ID, self.ID)
	c.notify(Event{Type: EventPeers})

	if err := c.tp.Advertise(ctx, self, meta); err != nil {
		return fmt.Errorf("re-advertise after identity restart: %w", err)
	}
	if err := c.tp.Browse(ctx); err != nil {
		return fmt.Errorf("re-browse after identity restart: %w", err)
	}
	return nil
}

// ─── Invitations ─────────────────────────────────────────────────────────────

// Invite asks a discovered peer to connect. The peer's state moves to
// Connecting as a local hint; the authoritative transition arrives from the
// transport once the remote side decides.
func (c *Coordinator) Invite(ctx context.Context, peerID string) error {
	c.mu.Lock()
	p, ok := c.registry.Get(peerID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if p.State == peers.Connected {
		c.mu.Unlock()
		return nil
	}
	c.registry.SetState(p.Identity, peers.Connecting)
	ic := transport.InviteContext{From: c.self, SessionID: c.sessionID}
	c.mu.Unlock()
	c.notify(Event{Type: EventPeers, PeerID: peerID})

	ctxBytes, err := transport.EncodeInviteContext(ic)
	if err != nil {
		return err
	}
	if err := c.tp.Invite(ctx, p.Identity, ctxBytes); err != nil {
		// The handshake never left; undo the hint.
		c.mu.Lock()
		c.registry.SetState(p.Identity, peers.NotConnected)
		c.mu.Unlock()
		c.notify(Event{Type: EventPeers, PeerID: peerID})
		return fmt.Errorf("invite %s: %w", peerID, err)
	}
	return nil
}

// Accept resolves a pending inbound invitation positively. The connection
// itself is reported later by the transport.
func (c *Coordinator) Accept(invitationID string) error {
	if err := c.invites.Accept(invitationID); err != nil {
		return err
	}
	c.notify(Event{Type: EventInvitations})
	return nil
}

// Decline resolves a pending inbound invitation negatively.
func (c *Coordinator) Decline(invitationID string) error {
	if err := c.invites.Decline(invitationID); err != nil {
		return err
	}
	c.notify(Event{Type: EventInvitations})
	return nil
}

// invitationExpired runs on the broker's timer goroutine after an
// auto-decline. Surfaced as a log line only.
func (c *Coordinator) invitationExpired(inv invite.Invitation) {
	log.Infof("invitation from %s timed out, auto-declined", inv.From.ID)
	c.notify(Event{Type: EventInvitations})
}

// Disconnect removes a peer from the connected view locally. The transport
// link is left alone; the remote side sees nothing.
func (c *Coordinator) Disconnect(peerID string) {
	c.mu.Lock()
	p, ok := c.registry.Get(peerID)
	if !ok || p.State != peers.Connected {
		c.mu.Unlock()
		return
	}
	c.applyStateLocked(p.Identity, peers.NotConnected)
	c.mu.Unlock()
	c.notify(Event{Type: EventPeers, PeerID: peerID})
}

// ─── Groups ──────────────────────────────────────────────────────────────────

// CreateGroup creates a named group. Needs at least two distinct non-local
// members; activity is derived from current connectivity.
func (c *Coordinator) CreateGroup(name string, memberIDs []string) (groups.Session, error) {
	c.mu.Lock()
	g, err := c.groups.Create(name, c.self.ID, memberIDs, c.registry.IsConnected)
	c.mu.Unlock()
	if err != nil {
		return groups.Session{}, err
	}
	c.notify(Event{Type: EventGroups, Key: g.ID})
	return g, nil
}

// AddMember adds a peer id to a group.
func (c *Coordinator) AddMember(groupID, peerID string) error {
	c.mu.Lock()
	err := c.groups.AddMember(groupID, peerID, c.registry.IsConnected)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify(Event{Type: EventGroups, Key: groupID})
	return nil
}

// RemoveMember removes a peer id from a group. Groups may shrink below two
// members without being deleted.
func (c *Coordinator) RemoveMember(groupID, peerID string) error {
	c.mu.Lock()
	err := c.groups.RemoveMember(groupID, peerID, c.registry.IsConnected)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notify(Event{Type: EventGroups, Key: groupID})
	return nil
}

// DeleteGroup removes a group and its conversation.
func (c *Coordinator) DeleteGroup(groupID string) error {
	c.mu.Lock()
	ok := c.groups.Delete(groupID)
	if ok {
		c.store.Delete(groupID)
	}
	c.mu.Unlock()
	if !ok {
		return groups.ErrGroupNotFound
	}
	c.notify(Event{Type: EventGroups, Key: groupID})
	return nil
}

// ─── Messaging ───────────────────────────────────────────────────────────────

// Send routes a message to the conversation key: a peer id (the connected
// peer) or a group id (every connected member). On transport failure nothing
// is echoed locally, so the conversation never shows a message that was not
// at least handed to the transport.
func (c *Coordinator) Send(ctx context.Context, msg chat.Message, key string) error {
	c.mu.Lock()
	targets, err := c.resolveTargetsLocked(key)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if msg.Type == chat.TypeFile && msg.File != nil && msg.File.SizeBytes > chat.MaxFileBytes {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d bytes", chat.ErrFileTooLarge, msg.File.SizeBytes)
	}
	env := chat.Envelope{Message: msg, OriginSession: c.sessionID, Destination: key}
	gen := c.gen
	c.mu.Unlock()

	data, err := env.Encode()
	if err != nil {
		return err
	}

	if err := c.tp.SendReliable(ctx, data, targets); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Identity restarted while the send was in flight; the transport
		// handle we used belongs to the old session.
		c.mu.Unlock()
		return fmt.Errorf("%w: identity restarted during send", ErrSendFailed)
	}
	c.store.Append(key, msg)
	c.mu.Unlock()

	c.notify(Event{Type: EventMessage, Key: key, Message: &msg})
	return nil
}

// resolveTargetsLocked maps a conversation key to the connected peer ids the
// message goes to. Caller holds c.mu.
func (c *Coordinator) resolveTargetsLocked(key string) ([]string, error) {
	if members, ok := c.groups.Members(key); ok {
		targets := make([]string, 0, len(members))
		for _, id := range members {
			if c.registry.IsConnected(id) {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			return nil, ErrNoReachableMembers
		}
		return targets, nil
	}

	if !c.registry.IsConnected(key) {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotConnected, key)
	}
	return []string{key}, nil
}

// MarkRead resets a conversation's unread counter.
func (c *Coordinator) MarkRead(key string) {
	c.store.MarkRead(key)
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// Messages returns a copy of one conversation's log.
func (c *Coordinator) Messages(key string) []chat.Message { return c.store.Messages(key) }

// Unread returns the unread count for one conversation.
func (c *Coordinator) Unread(key string) int { return c.store.Unread(key) }

// TotalUnread sums unread counts across all conversations.
func (c *Coordinator) TotalUnread() int { return c.store.TotalUnread() }

// DiscoveredPeers returns every known remote peer.
func (c *Coordinator) DiscoveredPeers() []peers.DiscoveredPeer { return c.registry.Snapshot() }

// ConnectedPeers returns the connected subset.
func (c *Coordinator) ConnectedPeers() []peers.DiscoveredPeer { return c.registry.Connected() }

// PendingInvitations returns inbound invitations awaiting a decision.
func (c *Coordinator) PendingInvitations() []invite.Invitation { return c.invites.Pending() }

// Groups returns all group sessions.
func (c *Coordinator) Groups() []groups.Session { return c.groups.Snapshot() }

// Close shuts the coordinator down: pending invitations are declined and the
// transport is closed.
func (c *Coordinator) Close() error {
	c.invites.DeclineAll()

	c.mu.Lock()
	c.closed = true
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	for _, ch := range ls {
		close(ch)
	}
	return c.tp.Close()
}
