package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/BjarkeHJ/rosbus/internal/bridge"
	"github.com/BjarkeHJ/rosbus/internal/broker"
	"github.com/BjarkeHJ/rosbus/internal/httpapi"
	"github.com/BjarkeHJ/rosbus/internal/logging"
	"github.com/BjarkeHJ/rosbus/internal/runtime"
	"github.com/BjarkeHJ/rosbus/internal/testnode"
)

const (
	appName    = "rosbusd"
	appVersion = "0.1.0"
)

// Config is the daemon configuration, read from ROSBUS_* environment
// variables (optionally via a .env file).
type Config struct {
	NodeID        string   `envconfig:"NODE_ID"`
	HTTPPort      string   `envconfig:"HTTP_PORT" default:"8081"`
	SecretKey     string   `envconfig:"SECRET_KEY"`
	NoAuth        bool     `envconfig:"NO_AUTH" default:"false"`
	Retention     int      `envconfig:"RETENTION" default:"1024"`
	BridgeListen  string   `envconfig:"BRIDGE_LISTEN"`
	BridgePeers   []string `envconfig:"BRIDGE_PEERS"`
	EmbedTestNode bool     `envconfig:"EMBED_TEST_NODE" default:"false"`
}

func main() {
	var (
		envFile     = flag.String("env-file", "", "Path to .env file (optional)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	// Load .env when present; missing files are fine.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("❌ Failed to load env file %s: %v", *envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("rosbus", &cfg); err != nil {
		log.Fatalf("❌ Failed to read configuration: %v", err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = defaultNodeID()
	}

	logger := logging.New()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("🚀 Starting %s v%s", appName, appVersion)
	log.Printf("📋 Node ID: %s", cfg.NodeID)
	log.Printf("🔌 HTTP Port: %s", cfg.HTTPPort)

	bus := broker.New(broker.Config{Retention: cfg.Retention}, logger)
	rt, err := runtime.New(runtime.Config{}, bus, logger)
	if err != nil {
		log.Fatalf("❌ Failed to create runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional peer bridge.
	var br *bridge.Bridge
	if cfg.BridgeListen != "" {
		br, err = bridge.New(bridge.Config{
			NodeID:        cfg.NodeID,
			ListenAddress: cfg.BridgeListen,
		}, bus, logger)
		if err != nil {
			log.Fatalf("❌ Failed to create bridge: %v", err)
		}
		if err := br.Start(ctx); err != nil {
			log.Fatalf("❌ Failed to start bridge: %v", err)
		}
		log.Printf("🔗 Bridge listening: %s", br.ListeningAddress())

		for _, peer := range cfg.BridgePeers {
			if err := br.Connect(ctx, peer); err != nil {
				log.Printf("⚠️  Failed to connect to peer %s: %v", peer, err)
				continue
			}
			log.Printf("🤝 Connected to peer: %s", peer)
		}
	}

	// Optional embedded test node.
	if cfg.EmbedTestNode {
		node, err := testnode.New(rt, testnode.Config{})
		if err != nil {
			log.Fatalf("❌ Failed to create test node: %v", err)
		}
		go func() {
			if err := node.Spin(ctx); err != nil {
				log.Printf("⚠️  Test node spin ended: %v", err)
			}
		}()
		log.Printf("🧪 Embedded test node publishing on %s", node.Topic())
	}

	var peers httpapi.PeerSource
	if br != nil {
		peers = br
	}
	api := httpapi.NewServer(bus, peers, httpapi.Config{
		Port:      cfg.HTTPPort,
		SecretKey: cfg.SecretKey,
		NoAuth:    cfg.NoAuth,
	}, logger)

	go func() {
		if err := api.Start(); err != nil {
			log.Printf("🛑 HTTP server stopped: %v", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		log.Printf("🛑 Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	log.Printf("✅ %s started successfully!", appName)
	log.Printf("💡 Use Ctrl+C to shutdown gracefully")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := api.Stop(shutdownCtx); err != nil {
		log.Printf("⚠️  Error stopping HTTP server: %v", err)
	}
	if br != nil {
		if err := br.Close(); err != nil {
			log.Printf("⚠️  Error closing bridge: %v", err)
		}
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Error during shutdown: %v", err)
	}

	log.Printf("👋 %s stopped", appName)
}

// defaultNodeID derives a node ID from the hostname.
func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "rosbus-node-1"
	}
	return fmt.Sprintf("rosbus-%s", hostname)
}
