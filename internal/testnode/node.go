package testnode

import (
	"context"
	"fmt"

	"github.com/BjarkeHJ/rosbus/internal/runtime"
	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

// TestNode is a minimal publisher node: it registers under a unique name,
// creates exactly one publisher and one wall timer, and publishes a fixed
// payload on every timer firing while spinning.
//
// Publishing is fire-and-forget; a failed publish is logged at debug level
// and never interrupts the timer cadence.
type TestNode struct {
	config Config
	node   *runtime.Node
	pub    rosbus.Publisher
	timer  rosbus.Timer
}

// New constructs the node against the given runtime: the name is claimed,
// the publisher and wall timer are registered, and the readiness line is
// logged. The node does not publish until Spin is called.
func New(rt *runtime.Runtime, config Config) (*TestNode, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid test node config: %w", err)
	}

	node, err := rt.NewNode(config.NodeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", config.NodeName, err)
	}

	tn := &TestNode{config: config, node: node}

	tn.pub, err = node.CreatePublisher(config.Topic, rosbus.QoSProfile{Depth: config.QueueDepth})
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	tn.timer, err = node.CreateWallTimer(config.Period, tn.tick)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to create wall timer: %w", err)
	}

	node.Logger().Info("TestNode Initialized...")
	return tn, nil
}

// tick publishes one payload. Errors are absorbed; the next firing proceeds
// regardless.
func (tn *TestNode) tick(ctx context.Context) {
	if err := tn.pub.Publish(ctx, []byte(tn.config.Payload)); err != nil {
		tn.node.Logger().Debug("publish failed", "topic", tn.config.Topic, "error", err)
	}
}

// Name returns the node's registered name.
func (tn *TestNode) Name() string {
	return tn.config.NodeName
}

// Topic returns the topic the node publishes on.
func (tn *TestNode) Topic() string {
	return tn.config.Topic
}

// Node exposes the underlying runtime node.
func (tn *TestNode) Node() *runtime.Node {
	return tn.node
}

// Spin runs the node until the context is cancelled or the node is closed.
func (tn *TestNode) Spin(ctx context.Context) error {
	return tn.node.Spin(ctx)
}

// Close tears the node down: the timer stops, the publisher closes, and
// the node name is released. Idempotent.
func (tn *TestNode) Close() error {
	return tn.node.Close()
}
