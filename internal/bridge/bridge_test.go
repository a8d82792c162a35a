package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/BjarkeHJ/rosbus/internal/broker"
	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

func newTestBridge(t *testing.T, nodeID string) (*Bridge, *broker.Broker) {
	t.Helper()
	b := broker.New(broker.Config{}, nil)
	t.Cleanup(func() { b.Close() })

	br, err := New(Config{
		NodeID:            nodeID,
		ListenAddress:     "localhost:0",
		HeartbeatInterval: 100 * time.Millisecond,
	}, b, nil)
	if err != nil {
		t.Fatalf("Failed to create bridge %s: %v", nodeID, err)
	}
	t.Cleanup(func() { br.Close() })

	if err := br.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start bridge %s: %v", nodeID, err)
	}
	return br, b
}

// waitForPeers blocks until both sides have registered each other. The
// server side finishes its handshake slightly after Connect returns.
func waitForPeers(t *testing.T, bridges ...*Bridge) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for _, br := range bridges {
		for len(br.ConnectedPeers()) == 0 {
			select {
			case <-deadline:
				t.Fatal("Timed out waiting for peer attachment")
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
}

func waitForMessage(t *testing.T, sub rosbus.Subscription) *rosbus.Message {
	t.Helper()
	select {
	case msg := <-sub.C():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for message")
		return nil
	}
}

// TestBridge_ForwardsLocalMessages tests that a message published on one
// bus reaches subscribers on the attached bus
func TestBridge_ForwardsLocalMessages(t *testing.T) {
	bridgeA, busA := newTestBridge(t, "node-a")
	bridgeB, busB := newTestBridge(t, "node-b")

	ctx := context.Background()
	if err := bridgeB.Connect(ctx, bridgeA.ListeningAddress()); err != nil {
		t.Fatalf("Failed to connect bridges: %v", err)
	}
	waitForPeers(t, bridgeA, bridgeB)

	sub, err := busB.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Failed to subscribe on bus B: %v", err)
	}
	defer sub.Close()

	if _, err := busA.Publish(ctx, rosbus.NewStringMessage("/test_topic", "Hello ARM64!")); err != nil {
		t.Fatalf("Failed to publish on bus A: %v", err)
	}

	msg := waitForMessage(t, sub)
	if msg.Data() != "Hello ARM64!" {
		t.Errorf("Expected payload 'Hello ARM64!', got '%s'", msg.Data())
	}
	if msg.Topic != "/test_topic" {
		t.Errorf("Expected topic '/test_topic', got '%s'", msg.Topic)
	}
	if msg.Headers[originHeader] != "node-a" {
		t.Errorf("Expected origin 'node-a', got '%s'", msg.Headers[originHeader])
	}
}

// TestBridge_NoEcho tests that a forwarded message never returns to the
// bus it was published on
func TestBridge_NoEcho(t *testing.T) {
	bridgeA, busA := newTestBridge(t, "node-a")
	bridgeB, busB := newTestBridge(t, "node-b")

	ctx := context.Background()
	if err := bridgeB.Connect(ctx, bridgeA.ListeningAddress()); err != nil {
		t.Fatalf("Failed to connect bridges: %v", err)
	}
	waitForPeers(t, bridgeA, bridgeB)

	subB, err := busB.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Failed to subscribe on bus B: %v", err)
	}
	defer subB.Close()

	if _, err := busA.Publish(ctx, rosbus.NewStringMessage("/test_topic", "Hello ARM64!")); err != nil {
		t.Fatalf("Failed to publish on bus A: %v", err)
	}
	waitForMessage(t, subB)

	// Give any echo time to make the round trip, then check bus A's log
	// still holds only the original publish.
	time.Sleep(300 * time.Millisecond)
	end, err := busA.Log().EndOffset(ctx, "/test_topic")
	if err != nil {
		t.Fatalf("Failed to read end offset: %v", err)
	}
	if end != 1 {
		t.Errorf("Expected exactly 1 message on bus A, got %d", end)
	}
}

// TestBridge_BothDirections tests traffic flowing both ways on one stream
func TestBridge_BothDirections(t *testing.T) {
	bridgeA, busA := newTestBridge(t, "node-a")
	bridgeB, busB := newTestBridge(t, "node-b")

	ctx := context.Background()
	if err := bridgeB.Connect(ctx, bridgeA.ListeningAddress()); err != nil {
		t.Fatalf("Failed to connect bridges: %v", err)
	}
	waitForPeers(t, bridgeA, bridgeB)

	subA, err := busA.Subscribe(ctx, "/from_b", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Failed to subscribe on bus A: %v", err)
	}
	defer subA.Close()
	subB, err := busB.Subscribe(ctx, "/from_a", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Failed to subscribe on bus B: %v", err)
	}
	defer subB.Close()

	if _, err := busA.Publish(ctx, rosbus.NewStringMessage("/from_a", "a to b")); err != nil {
		t.Fatalf("Failed to publish on bus A: %v", err)
	}
	if _, err := busB.Publish(ctx, rosbus.NewStringMessage("/from_b", "b to a")); err != nil {
		t.Fatalf("Failed to publish on bus B: %v", err)
	}

	if msg := waitForMessage(t, subB); msg.Data() != "a to b" {
		t.Errorf("Expected 'a to b' on bus B, got '%s'", msg.Data())
	}
	if msg := waitForMessage(t, subA); msg.Data() != "b to a" {
		t.Errorf("Expected 'b to a' on bus A, got '%s'", msg.Data())
	}
}

// TestBridge_ConnectedPeers tests peer bookkeeping on both sides
func TestBridge_ConnectedPeers(t *testing.T) {
	bridgeA, _ := newTestBridge(t, "node-a")
	bridgeB, _ := newTestBridge(t, "node-b")

	if err := bridgeB.Connect(context.Background(), bridgeA.ListeningAddress()); err != nil {
		t.Fatalf("Failed to connect bridges: %v", err)
	}

	// The server side registers the peer as part of the handshake exchange;
	// allow a moment for it to land.
	deadline := time.After(2 * time.Second)
	for {
		if len(bridgeA.ConnectedPeers()) == 1 && len(bridgeB.ConnectedPeers()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Timed out waiting for peers: a=%v b=%v",
				bridgeA.ConnectedPeers(), bridgeB.ConnectedPeers())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if peers := bridgeA.ConnectedPeers(); peers[0] != "node-b" {
		t.Errorf("Expected bridge A to see 'node-b', got %v", peers)
	}
	if peers := bridgeB.ConnectedPeers(); peers[0] != "node-a" {
		t.Errorf("Expected bridge B to see 'node-a', got %v", peers)
	}
}

// TestBridge_CloseIdempotent tests that Close can be called repeatedly
func TestBridge_CloseIdempotent(t *testing.T) {
	bridgeA, _ := newTestBridge(t, "node-a")

	if err := bridgeA.Close(); err != nil {
		t.Fatalf("Expected no error on first close, got %v", err)
	}
	if err := bridgeA.Close(); err != nil {
		t.Errorf("Expected no error on second close, got %v", err)
	}
	if err := bridgeA.Connect(context.Background(), "localhost:1"); err != ErrBridgeClosed {
		t.Errorf("Expected ErrBridgeClosed after close, got %v", err)
	}
}

// TestBridge_StartValidation tests lifecycle guards
func TestBridge_StartValidation(t *testing.T) {
	b := broker.New(broker.Config{}, nil)
	defer b.Close()

	br, err := New(Config{NodeID: "node-a", ListenAddress: "localhost:0"}, b, nil)
	if err != nil {
		t.Fatalf("Failed to create bridge: %v", err)
	}
	defer br.Close()

	// Connect before Start fails.
	if err := br.Connect(context.Background(), "localhost:1"); err != ErrNotStarted {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}

	if err := br.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	if err := br.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}
