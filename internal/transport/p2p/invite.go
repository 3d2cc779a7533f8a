package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/petervdpas/nearchat/internal/peers"
	"github.com/petervdpas/nearchat/internal/transport"
)

// inviteRequest opens the handshake. The context payload is opaque to the
// transport; the coordinator puts the inviter's identity and session in it.
type inviteRequest struct {
	Context json.RawMessage `json:"context"`
}

// inviteResponse closes the handshake.
type inviteResponse struct {
	Accepted bool `json:"accepted"`
}

// Invite implements transport.Transport. It returns once the request is on
// the wire; the remote decision arrives later as a PeerStateChanged event.
func (t *Transport) Invite(ctx context.Context, target peers.Identity, inviteCtx []byte) error {
	t.mu.Lock()
	rp, ok := t.remotes[target.ID]
	var hostID peer.ID
	if ok {
		hostID = rp.host
	}
	ev := t.events
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("peer %s not in discovery", target.ID)
	}

	// Best effort connect (mDNS usually already connected).
	_ = t.host.Connect(ctx, peer.AddrInfo{ID: hostID})

	s, err := t.host.NewStream(ctx, hostID, protocol.ID(InviteProtoID))
	if err != nil {
		return fmt.Errorf("open invite stream: %w", err)
	}

	if err := json.NewEncoder(s).Encode(inviteRequest{Context: inviteCtx}); err != nil {
		_ = s.Reset()
		return fmt.Errorf("send invite: %w", err)
	}

	// Wait for the remote decision off the caller's goroutine. The remote
	// side auto-declines after its own timeout, so this always resolves.
	go func() {
		defer s.Close()
		_ = s.SetReadDeadline(time.Now().Add(inviteResponseTimeout))

		var resp inviteResponse
		if err := json.NewDecoder(s).Decode(&resp); err != nil {
			log.Infof("invite to %s: no decision: %v", target.ID, err)
			if ev != nil {
				ev.PeerStateChanged(target, peers.NotConnected)
			}
			return
		}

		if !resp.Accepted {
			log.Infof("invite to %s declined", target.ID)
			if ev != nil {
				ev.PeerStateChanged(target, peers.NotConnected)
			}
			return
		}

		t.setConnected(target, hostID, true)
		log.Infof("invite to %s accepted", target.ID)
		if ev != nil {
			ev.PeerStateChanged(target, peers.Connected)
		}
	}()

	return nil
}

// handleInviteStream processes an inbound invitation. The stream stays open
// until the local decision handle fires (or the read deadline gives up), so
// the inviter gets an explicit accept/decline.
func (t *Transport) handleInviteStream(s network.Stream) {
	remoteHost := s.Conn().RemotePeer()

	var req inviteRequest
	if err := json.NewDecoder(s).Decode(&req); err != nil {
		log.Warnf("bad invite from %s: %v", remoteHost, err)
		_ = s.Reset()
		return
	}

	ic, err := transport.DecodeInviteContext(req.Context)
	if err != nil {
		log.Warnf("bad invite context from %s: %v", remoteHost, err)
		_ = s.Reset()
		return
	}

	// Make the inviter dialable under its app id even if we never saw its
	// presence announcement.
	t.mu.Lock()
	rp, ok := t.remotes[ic.From.ID]
	if !ok {
		rp = &remotePeer{meta: map[string]string{}}
		t.remotes[ic.From.ID] = rp
	}
	rp.identity = ic.From
	rp.host = remoteHost
	rp.lastSeen = time.Now()
	t.byHost[remoteHost] = ic.From.ID
	ev := t.events
	t.mu.Unlock()

	if ev == nil {
		_ = s.Reset()
		return
	}

	decided := make(chan bool, 1)
	var once sync.Once
	decide := func(accept bool) {
		once.Do(func() { decided <- accept })
	}

	ev.InvitationReceived(ic.From, decide)

	accepted := false
	select {
	case accepted = <-decided:
	case <-time.After(inviteResponseTimeout):
		// The broker's own timer should have declined long before this.
	}

	if err := json.NewEncoder(s).Encode(inviteResponse{Accepted: accepted}); err != nil {
		log.Warnf("invite response to %s failed: %v", ic.From.ID, err)
		_ = s.Reset()
		return
	}
	_ = s.Close()

	if accepted {
		t.setConnected(ic.From, remoteHost, true)
		ev.PeerStateChanged(ic.From, peers.Connected)
	}
}
