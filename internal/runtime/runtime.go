// Package runtime provides the host runtime the nodes run under: node
// registration with process-wide unique names, the single-threaded executor
// that dispatches timer and message callbacks, and coordinated shutdown.
//
// The runtime is the explicit context object of the system: it is created
// before any node and torn down after all nodes are released. Nodes never
// drive their own loop; they register callbacks and the executor invokes
// them, one at a time per node.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

var (
	// ErrNilTransport is returned when a runtime is created without a transport
	ErrNilTransport = errors.New("transport cannot be nil")
	// ErrEmptyNodeName is returned when a node name is empty
	ErrEmptyNodeName = errors.New("node name cannot be empty")
	// ErrNodeNameTaken is returned when a node name is already registered
	ErrNodeNameTaken = errors.New("node name already registered")
	// ErrRuntimeClosed is returned on operations against a shut down runtime
	ErrRuntimeClosed = errors.New("runtime is shut down")
)

// Config holds runtime configuration.
type Config struct {
	// ShutdownTimeout bounds how long Shutdown waits for nodes to release
	ShutdownTimeout time.Duration

	// DefaultQoS is applied when a node creates a publisher or subscription
	// with a zero-valued profile
	DefaultQoS rosbus.QoSProfile
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.DefaultQoS.Depth <= 0 {
		c.DefaultQoS = rosbus.DefaultQoS()
	}
}

// Runtime owns the node registry and the transport handed to nodes.
// It is safe for concurrent use.
type Runtime struct {
	mu     sync.RWMutex
	config Config

	transport rosbus.Transport
	logger    *slog.Logger
	nodes     map[string]*Node
	closed    bool
}

// New creates a runtime around the given transport.
func New(config Config, transport rosbus.Transport, logger *slog.Logger) (*Runtime, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	config.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Runtime{
		config:    config,
		transport: transport,
		logger:    logger,
		nodes:     make(map[string]*Node),
	}, nil
}

// NewNode registers a node under a process-wide unique name. Registering a
// name that is already live fails; the error is never suppressed.
func (r *Runtime) NewNode(name string) (*Node, error) {
	if name == "" {
		return nil, ErrEmptyNodeName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if _, exists := r.nodes[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeNameTaken, name)
	}

	node := newNode(name, r)
	r.nodes[name] = node
	r.logger.Debug("node registered", "node", name)
	return node, nil
}

// Transport returns the transport nodes publish and subscribe through.
func (r *Runtime) Transport() rosbus.Transport {
	return r.transport
}

// NodeCount returns the number of live nodes.
func (r *Runtime) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Shutdown closes every live node, then the transport. Idempotent.
// The context bounds the wait; config.ShutdownTimeout applies when the
// context has no earlier deadline.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already shut down, idempotent
	}
	r.closed = true
	nodes := make([]*Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	r.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ShutdownTimeout)
		defer cancel()
	}

	for _, node := range nodes {
		if err := node.Close(); err != nil {
			r.logger.Warn("error closing node during shutdown", "node", node.Name(), "error", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- r.transport.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close transport: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// release frees a node name after the node closed itself.
func (r *Runtime) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, name)
}
