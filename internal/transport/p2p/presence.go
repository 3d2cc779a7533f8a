package p2p

import (
	"context"
	"encoding/json"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/petervdpas/nearchat/internal/peers"
)

const (
	presenceOnline  = "online"
	presenceUpdate  = "update"
	presenceOffline = "offline"
)

// presenceMsg is the JSON payload on the presence topic. Host carries the
// libp2p id so receivers can map the announced identity to a dialable peer.
type presenceMsg struct {
	Type   string            `json:"type"` // online|update|offline
	PeerID string            `json:"peerId"`
	Name   string            `json:"name,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
	Host   string            `json:"host"`
	Addrs  []string          `json:"addrs,omitempty"`
	TS     int64             `json:"ts"`
}

// Advertise implements transport.Transport. Repeated calls re-announce under
// the given identity — that is how an identity restart goes live.
func (t *Transport) Advertise(ctx context.Context, self peers.Identity, metadata map[string]string) error {
	t.mu.Lock()
	t.self = self
	t.meta = metadata
	t.advertising = true
	if t.stopBeat != nil {
		t.stopBeat()
	}
	beatCtx, cancel := context.WithCancel(t.lifeCtx)
	t.stopBeat = cancel
	t.mu.Unlock()

	t.publishPresence(ctx, presenceOnline, self, metadata)

	go func() {
		ticker := time.NewTicker(t.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-beatCtx.Done():
				return
			case <-ticker.C:
				t.mu.Lock()
				self, meta, on := t.self, t.meta, t.advertising
				t.mu.Unlock()
				if on {
					t.publishPresence(beatCtx, presenceUpdate, self, meta)
				}
			}
		}
	}()
	return nil
}

// StopAdvertise implements transport.Transport.
func (t *Transport) StopAdvertise(ctx context.Context) error {
	t.mu.Lock()
	if !t.advertising {
		t.mu.Unlock()
		return nil
	}
	t.advertising = false
	self := t.self
	if t.stopBeat != nil {
		t.stopBeat()
		t.stopBeat = nil
	}
	t.mu.Unlock()

	t.publishPresence(ctx, presenceOffline, self, nil)
	return nil
}

// Browse implements transport.Transport. The presence loop runs for the
// transport's whole lifetime; browsing just opens the gate to the event sink.
func (t *Transport) Browse(ctx context.Context) error {
	t.mu.Lock()
	t.browsing = true
	t.mu.Unlock()
	return nil
}

// StopBrowse implements transport.Transport.
func (t *Transport) StopBrowse(ctx context.Context) error {
	t.mu.Lock()
	t.browsing = false
	// Forget unconnected peers so a later Browse starts from fresh
	// announcements.
	for id, rp := range t.remotes {
		if !rp.connected {
			delete(t.byHost, rp.host)
			delete(t.remotes, id)
		}
	}
	t.mu.Unlock()
	return nil
}

func (t *Transport) publishPresence(ctx context.Context, typ string, self peers.Identity, meta map[string]string) {
	msg := presenceMsg{
		Type:   typ,
		PeerID: self.ID,
		Host:   t.host.ID().String(),
		TS:     time.Now().UnixMilli(),
	}
	if typ != presenceOffline {
		msg.Name = self.DisplayName
		msg.Meta = meta
		msg.Addrs = t.shareableAddrs()
	}
	b, _ := json.Marshal(msg)
	if err := t.topic.Publish(ctx, b); err != nil {
		log.Debugf("presence publish failed: %v", err)
	}
}

// runPresenceLoop consumes presence announcements for the lifetime of the
// transport.
func (t *Transport) runPresenceLoop() {
	go func() {
		for {
			m, err := t.sub.Next(t.lifeCtx)
			if err != nil {
				return
			}

			var pm presenceMsg
			if err := json.Unmarshal(m.Data, &pm); err != nil {
				continue
			}
			if pm.PeerID == "" || pm.Type == "" {
				continue
			}
			if pm.Host == t.host.ID().String() {
				continue
			}
			t.handlePresence(pm)
		}
	}()
}

func (t *Transport) handlePresence(pm presenceMsg) {
	hostID, err := peer.Decode(pm.Host)
	if err != nil {
		return
	}

	switch pm.Type {
	case presenceOnline, presenceUpdate:
		identity := peers.Identity{ID: pm.PeerID, DisplayName: pm.Name}
		t.addPeerAddrs(hostID, pm.Addrs)

		t.mu.Lock()
		rp, ok := t.remotes[pm.PeerID]
		if !ok {
			rp = &remotePeer{meta: map[string]string{}}
			t.remotes[pm.PeerID] = rp
		}
		rp.identity = identity
		rp.host = hostID
		rp.lastSeen = time.Now()
		for k, v := range pm.Meta {
			rp.meta[k] = v
		}
		t.byHost[hostID] = pm.PeerID
		browsing, ev := t.browsing, t.events
		meta := make(map[string]string, len(rp.meta))
		for k, v := range rp.meta {
			meta[k] = v
		}
		t.mu.Unlock()

		if browsing && ev != nil {
			ev.PeerFound(identity, meta)
		}

	case presenceOffline:
		t.mu.Lock()
		rp, ok := t.remotes[pm.PeerID]
		var identity peers.Identity
		if ok && !rp.connected {
			identity = rp.identity
			delete(t.byHost, rp.host)
			delete(t.remotes, pm.PeerID)
		} else {
			ok = false
		}
		browsing, ev := t.browsing, t.events
		t.mu.Unlock()

		if ok && browsing && ev != nil {
			ev.PeerLost(identity)
		}
	}
}

// runPruneLoop expires peers whose presence heartbeats stopped without an
// offline announcement. Connected peers are never pruned; their exit is the
// link dropping.
func (t *Transport) runPruneLoop() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-t.lifeCtx.Done():
				return
			case <-ticker.C:
				t.pruneStale(time.Now().Add(-t.cfg.PresenceTTL))
			}
		}
	}()
}

func (t *Transport) pruneStale(cutoff time.Time) {
	var lost []peers.Identity

	t.mu.Lock()
	for id, rp := range t.remotes {
		if rp.connected || !rp.lastSeen.Before(cutoff) {
			continue
		}
		lost = append(lost, rp.identity)
		delete(t.byHost, rp.host)
		delete(t.remotes, id)
	}
	browsing, ev := t.browsing, t.events
	t.mu.Unlock()

	if !browsing || ev == nil {
		return
	}
	for _, identity := range lost {
		ev.PeerLost(identity)
	}
}

// shareableAddrs filters the host's multiaddresses down to ones worth
// announcing: loopback and link-local addresses are dropped.
func (t *Transport) shareableAddrs() []string {
	var out []string
	for _, a := range t.host.Addrs() {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		out = append(out, a.String())
	}
	return out
}

// addPeerAddrs parses announced multiaddr strings into the peerstore so the
// peer is dialable even before mDNS sees it.
func (t *Transport) addPeerAddrs(pid peer.ID, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	var maddrs []ma.Multiaddr
	for _, s := range addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if ip, err := manet.ToIP(a); err == nil {
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
		}
		maddrs = append(maddrs, a)
	}
	if len(maddrs) > 0 {
		t.host.Peerstore().AddAddrs(pid, maddrs, t.cfg.PresenceTTL*2)
	}
}
