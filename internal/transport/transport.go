// Package transport defines the contract between the connectivity
// coordinator and the underlying peer-to-peer transport. The coordinator
// only ever talks to these interfaces; the libp2p implementation lives in
// the p2p subpackage.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petervdpas/nearchat/internal/peers"
)

// Events is the callback surface a transport drives. Callbacks may arrive
// from arbitrary transport goroutines; the coordinator serializes them
// internally before touching shared state.
type Events interface {
	// PeerFound reports a peer appearing in discovery (or refreshing its
	// presence). Metadata is merged into any earlier announcement.
	PeerFound(identity peers.Identity, metadata map[string]string)

	// PeerLost reports a peer dropping out of discovery range. This is not a
	// disconnect: connected peers are only removed via PeerStateChanged.
	PeerLost(identity peers.Identity)

	// PeerStateChanged reports the authoritative connection state for a peer.
	PeerStateChanged(identity peers.Identity, state peers.ConnectionState)

	// InvitationReceived reports an inbound connection request. decide must
	// be invoked at most once; the transport treats a second call as a no-op.
	InvitationReceived(from peers.Identity, decide func(accept bool))

	// DataReceived delivers one reliable frame from a connected peer.
	DataReceived(data []byte, from peers.Identity)
}

// Transport is the local connectivity capability: presence advertising,
// browsing, the invitation handshake and reliable delivery. Implementations
// must tolerate repeated Advertise calls (identity restarts re-advertise
// under a fresh identity).
type Transport interface {
	// SetEvents installs the event sink. Must be called before Advertise or
	// Browse.
	SetEvents(ev Events)

	Advertise(ctx context.Context, self peers.Identity, metadata map[string]string) error
	StopAdvertise(ctx context.Context) error

	Browse(ctx context.Context) error
	StopBrowse(ctx context.Context) error

	// Invite sends a connection request to the target. It returns once the
	// request is on the wire; the outcome arrives later via PeerStateChanged.
	Invite(ctx context.Context, target peers.Identity, inviteCtx []byte) error

	// SendReliable delivers data to every listed peer id. Any per-recipient
	// failure fails the whole call.
	SendReliable(ctx context.Context, data []byte, toPeerIDs []string) error

	Close() error
}

// InviteContext is the opaque payload attached to an outbound invitation:
// who is asking, under which session.
type InviteContext struct {
	From      peers.Identity `json:"from"`
	SessionID string         `json:"sessionId"`
}

// EncodeInviteContext serializes an invite context for the wire.
func EncodeInviteContext(ic InviteContext) ([]byte, error) {
	b, err := json.Marshal(ic)
	if err != nil {
		return nil, fmt.Errorf("encode invite context: %w", err)
	}
	return b, nil
}

// DecodeInviteContext parses an invite context received from a peer.
func DecodeInviteContext(data []byte) (InviteContext, error) {
	var ic InviteContext
	if err := json.Unmarshal(data, &ic); err != nil {
		return InviteContext{}, fmt.Errorf("decode invite context: %w", err)
	}
	if ic.From.ID == "" {
		return InviteContext{}, fmt.Errorf("decode invite context: missing sender id")
	}
	return ic, nil
}
