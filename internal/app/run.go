// Package app wires the transport, coordinator and config watcher together
// and drives the interactive terminal session.
package app

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/nearchat/internal/config"
	"github.com/petervdpas/nearchat/internal/coordinator"
	"github.com/petervdpas/nearchat/internal/transport/p2p"
	"github.com/petervdpas/nearchat/internal/util"
)

var log = logging.Logger("nearchat:app")

// Options carries what Run needs from the command line.
type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

// Run starts a peer: transport up, coordinator bound, discovery on, config
// watched for live renames, then the interactive loop until ctx is done.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Cfg

	tp, err := p2p.New(ctx, p2p.Config{
		ListenPort:  cfg.P2P.ListenPort,
		KeyFile:     util.ResolvePath(opts.PeerDir, cfg.Identity.KeyFile),
		Topic:       cfg.Presence.Topic,
		MdnsTag:     cfg.P2P.MdnsTag,
		PresenceTTL: time.Duration(cfg.Presence.TTLSec) * time.Second,
		Heartbeat:   time.Duration(cfg.Presence.HeartbeatSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	coord := coordinator.New(tp, cfg.Identity.DisplayName, coordinator.Options{
		Metadata:      map[string]string{"app": "nearchat"},
		InviteTimeout: time.Duration(cfg.Invite.TimeoutSec) * time.Second,
	})
	defer coord.Close()

	if err := coord.StartDiscovery(ctx); err != nil {
		return err
	}

	self := coord.Identity()
	fmt.Printf("You are %s (%s)\n", self.DisplayName, self.ID)
	fmt.Printf("Transport host: %s\n", tp.HostID())
	fmt.Println("Type 'help' for commands.")

	// Live rename: editing display_name in the config file restarts the
	// identity without restarting the process.
	watcher, err := config.Watch(opts.CfgPath, func(next config.Config) {
		if next.Identity.DisplayName == coord.Identity().DisplayName {
			return
		}
		log.Infof("display name changed on disk, restarting identity")
		if err := coord.RestartIdentity(ctx, next.Identity.DisplayName); err != nil {
			log.Warnf("identity restart failed: %v", err)
			return
		}
		self := coord.Identity()
		fmt.Printf("\nYou are now %s (%s)\n> ", self.DisplayName, self.ID)
	})
	if err != nil {
		log.Warnf("config watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	return runREPL(ctx, coord)
}
