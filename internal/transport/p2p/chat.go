package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/petervdpas/nearchat/internal/peers"
)

// SendReliable implements transport.Transport. Each target gets its own
// stream: one frame, write, close. Any per-target failure fails the whole
// call so the caller knows delivery was not complete.
func (t *Transport) SendReliable(ctx context.Context, data []byte, toPeerIDs []string) error {
	var errs []error
	for _, id := range toPeerIDs {
		if err := t.sendOne(ctx, data, id); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Transport) sendOne(ctx context.Context, data []byte, toPeerID string) error {
	t.mu.Lock()
	rp, ok := t.remotes[toPeerID]
	var hostID peer.ID
	connected := false
	if ok {
		hostID = rp.host
		connected = rp.connected
	}
	t.mu.Unlock()

	if !ok || !connected {
		return errors.New("no established link")
	}

	s, err := t.host.NewStream(ctx, hostID, protocol.ID(ChatProtoID))
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if _, err := s.Write(data); err != nil {
		_ = s.Reset()
		return fmt.Errorf("write frame: %w", err)
	}
	return s.Close()
}

// handleChatStream reads one inbound frame and hands it to the event sink.
// Frames from hosts without an established app-level link are dropped.
func (t *Transport) handleChatStream(s network.Stream) {
	defer s.Close()

	data, err := io.ReadAll(io.LimitReader(s, maxFrameBytes))
	if err != nil {
		log.Warnf("chat frame read from %s failed: %v", s.Conn().RemotePeer(), err)
		_ = s.Reset()
		return
	}

	t.mu.Lock()
	var from peers.Identity
	connected := false
	if appID, ok := t.byHost[s.Conn().RemotePeer()]; ok {
		if rp := t.remotes[appID]; rp != nil {
			from = rp.identity
			connected = rp.connected
		}
	}
	ev := t.events
	t.mu.Unlock()

	if !connected {
		log.Debugf("dropping chat frame from unlinked host %s", s.Conn().RemotePeer())
		return
	}
	if ev != nil {
		ev.DataReceived(data, from)
	}
}
