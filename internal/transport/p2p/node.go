// Package p2p implements the transport contract on libp2p: gossipsub
// presence for advertise/browse, mDNS for LAN connectivity, and stream
// protocols for the invitation handshake and reliable chat delivery.
package p2p

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/petervdpas/nearchat/internal/peers"
	"github.com/petervdpas/nearchat/internal/transport"
	"github.com/petervdpas/nearchat/internal/util"
)

var log = logging.Logger("nearchat:p2p")

func init() {
	// Silence noisy libp2p subsystems — dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
}

const (
	// InviteProtoID carries the invitation handshake: one request, one
	// accept/decline response.
	InviteProtoID = "/nearchat/invite/1.0.0"

	// ChatProtoID carries chat envelopes, one write-and-close frame per
	// message.
	ChatProtoID = "/nearchat/chat/1.0.0"

	// maxFrameBytes bounds inbound chat frames: the 10 MiB attachment limit
	// plus envelope overhead.
	maxFrameBytes = 12 * 1024 * 1024

	// inviteResponseTimeout is how long the inviter waits for the remote
	// decision. The remote auto-declines after 30s, so this only trips when
	// the peer vanishes mid-handshake.
	inviteResponseTimeout = 40 * time.Second
)

// Config tunes the libp2p transport.
type Config struct {
	ListenPort  int
	KeyFile     string
	Topic       string
	MdnsTag     string
	PresenceTTL time.Duration
	Heartbeat   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "nearchat.presence.v1"
	}
	if c.MdnsTag == "" {
		c.MdnsTag = "nearchat-mdns"
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 15 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 5 * time.Second
	}
	return c
}

// remotePeer is everything we know about one announced peer.
type remotePeer struct {
	identity  peers.Identity
	meta      map[string]string
	host      peer.ID
	lastSeen  time.Time
	connected bool
}

// Transport is the libp2p-backed transport. App-level peer ids (from
// presence announcements) are mapped to libp2p host ids internally; the
// coordinator never sees a libp2p type.
type Transport struct {
	host  host.Host
	cfg   Config
	mdns  mdns.Service
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	mu          sync.Mutex
	events      transport.Events
	self        peers.Identity
	meta        map[string]string
	advertising bool
	browsing    bool
	remotes     map[string]*remotePeer
	byHost      map[peer.ID]string
	stopBeat    context.CancelFunc

	lifeCtx  context.Context
	lifeStop context.CancelFunc
}

type mdnsNotifee struct {
	t *Transport
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.t.host.Connect(ctx, pi)
}

// loadOrCreateKey loads a persistent transport key from disk, or generates
// a new Ed25519 key and saves it on first run. The transport key outlives
// identity restarts: renaming changes the announced identity, not the host.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, error) {
	if keyFile == "" {
		priv, _, err := crypto.GenerateEd25519Key(nil)
		return priv, err
	}

	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, nil
		}
		log.Warnf("corrupt transport key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal transport key: %w", err)
	}
	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, fmt.Errorf("save transport key: %w", err)
	}
	return priv, nil
}

// New builds the libp2p host, joins the presence topic and registers the
// invite and chat stream handlers. Events must be installed via SetEvents
// before Advertise or Browse.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()

	priv, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	lifeCtx, lifeStop := context.WithCancel(context.Background())
	t := &Transport{
		host:     h,
		cfg:      cfg,
		ps:       ps,
		topic:    topic,
		sub:      sub,
		remotes:  make(map[string]*remotePeer),
		byHost:   make(map[peer.ID]string),
		lifeCtx:  lifeCtx,
		lifeStop: lifeStop,
	}

	h.SetStreamHandler(protocol.ID(InviteProtoID), t.handleInviteStream)
	h.SetStreamHandler(protocol.ID(ChatProtoID), t.handleChatStream)

	// LAN discovery: mDNS gets us TCP connectivity, presence announcements
	// over pubsub carry the app-level identity.
	md := mdns.NewMdnsService(h, cfg.MdnsTag, &mdnsNotifee{t: t})
	if err := md.Start(); err != nil {
		_ = h.Close()
		lifeStop()
		return nil, err
	}
	t.mdns = md

	// Watch for link drops so connected peers transition to not-connected.
	h.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			t.hostDisconnected(conn.RemotePeer())
		},
	})

	t.runPresenceLoop()
	t.runPruneLoop()

	log.Infof("transport host %s listening on port %d", h.ID(), cfg.ListenPort)
	return t, nil
}

// SetEvents implements transport.Transport.
func (t *Transport) SetEvents(ev transport.Events) {
	t.mu.Lock()
	t.events = ev
	t.mu.Unlock()
}

// HostID returns the libp2p host id, for logs and banners.
func (t *Transport) HostID() string {
	return t.host.ID().String()
}

// hostDisconnected handles a dropped libp2p connection. Only fires the
// not-connected transition once the last connection to that host is gone.
func (t *Transport) hostDisconnected(pid peer.ID) {
	if t.host.Network().Connectedness(pid) == network.Connected {
		return
	}

	t.mu.Lock()
	appID, ok := t.byHost[pid]
	if !ok {
		t.mu.Unlock()
		return
	}
	rp := t.remotes[appID]
	if rp == nil || !rp.connected {
		t.mu.Unlock()
		return
	}
	rp.connected = false
	identity := rp.identity
	ev := t.events
	t.mu.Unlock()

	log.Infof("link to %s dropped", identity.ID)
	if ev != nil {
		ev.PeerStateChanged(identity, peers.NotConnected)
	}
}

// setConnected flips the app-level connected flag for a peer.
func (t *Transport) setConnected(identity peers.Identity, hostID peer.ID, connected bool) {
	t.mu.Lock()
	rp, ok := t.remotes[identity.ID]
	if !ok {
		rp = &remotePeer{identity: identity, meta: map[string]string{}}
		t.remotes[identity.ID] = rp
	}
	rp.identity = identity
	rp.lastSeen = time.Now()
	if hostID != "" {
		rp.host = hostID
		t.byHost[hostID] = identity.ID
	}
	rp.connected = connected
	t.mu.Unlock()
}

// Close publishes a final offline announcement and tears the host down.
func (t *Transport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()

	t.mu.Lock()
	advertising := t.advertising
	self := t.self
	t.advertising = false
	t.browsing = false
	if t.stopBeat != nil {
		t.stopBeat()
		t.stopBeat = nil
	}
	t.mu.Unlock()

	if advertising {
		t.publishPresence(ctx, presenceOffline, self, nil)
	}
	t.lifeStop()
	if t.mdns != nil {
		_ = t.mdns.Close()
	}
	return t.host.Close()
}
