// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/nearchat/internal/app"
	"github.com/petervdpas/nearchat/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("nearchat v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: a peer directory is required")
		fmt.Fprintln(os.Stderr, "Usage: nearchat <peer-directory>")
		os.Exit(1)
	}

	runPeer(args[0])
}

func runPeer(peerDirArg string) {
	// Resolve absolute path
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}

	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Cannot create peer directory: %v", err)
	}

	// Load config, creating a default file on first run.
	cfgPath := filepath.Join(absDir, "nearchat.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config at %s\n", cfgPath)
	}

	printPeerBanner(absDir, cfgPath, cfg)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
}

func printPeerBanner(peerDir, cfgPath string, cfg config.Config) {
	fmt.Println("────────────────────────────────────────")
	fmt.Println("nearchat peer")
	fmt.Printf(" Peer folder : %s\n", peerDir)
	fmt.Printf(" Config file : %s\n", cfgPath)
	fmt.Printf(" Display name: %s\n", cfg.Identity.DisplayName)
	fmt.Printf(" mDNS tag    : %s\n", cfg.P2P.MdnsTag)
	fmt.Printf(" Topic       : %s\n", cfg.Presence.Topic)
	fmt.Println("────────────────────────────────────────")
}

func showUsage() {
	fmt.Println("nearchat - LAN chat over libp2p")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  nearchat <directory>    Run a peer from the specified directory")
	fmt.Println()
	fmt.Println("The directory holds the peer's nearchat.json configuration and its")
	fmt.Println("transport key. It is created with defaults on first run.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  nearchat ./peers/alice")
	fmt.Println("  nearchat ./peers/bob")
}
