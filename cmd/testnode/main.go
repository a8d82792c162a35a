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

	"github.com/BjarkeHJ/rosbus/internal/broker"
	"github.com/BjarkeHJ/rosbus/internal/logging"
	"github.com/BjarkeHJ/rosbus/internal/runtime"
	"github.com/BjarkeHJ/rosbus/internal/testnode"
)

const (
	appName    = "testnode"
	appVersion = "0.1.0"
)

func main() {
	var (
		nodeName    = flag.String("node-name", testnode.DefaultNodeName, "Process-wide unique node name")
		topic       = flag.String("topic", testnode.DefaultTopic, "Topic to publish on")
		payload     = flag.String("payload", testnode.DefaultPayload, "Message payload")
		period      = flag.Duration("period", testnode.DefaultPeriod, "Wall timer period between publishes")
		queueDepth  = flag.Int("queue-depth", 10, "Publisher QoS history depth")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	logger := logging.New()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("🚀 Starting %s v%s", appName, appVersion)
	log.Printf("📋 Node: %s", *nodeName)
	log.Printf("📡 Topic: %s", *topic)
	log.Printf("⏱️  Period: %s", *period)

	bus := broker.New(broker.Config{}, logger)
	rt, err := runtime.New(runtime.Config{}, bus, logger)
	if err != nil {
		log.Fatalf("❌ Failed to create runtime: %v", err)
	}

	node, err := testnode.New(rt, testnode.Config{
		NodeName:   *nodeName,
		Topic:      *topic,
		Payload:    *payload,
		Period:     *period,
		QueueDepth: *queueDepth,
	})
	if err != nil {
		log.Fatalf("❌ Failed to create node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		log.Printf("🛑 Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	log.Printf("✅ %s started, spinning (Ctrl+C to stop)", *nodeName)

	// Spin blocks until the context is cancelled; callbacks run here.
	if err := node.Spin(ctx); err != nil {
		log.Fatalf("❌ Spin failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := node.Close(); err != nil {
		log.Printf("⚠️  Error closing node: %v", err)
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Error during shutdown: %v", err)
	}

	log.Printf("👋 %s stopped", *nodeName)
}
