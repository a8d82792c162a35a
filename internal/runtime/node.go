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
	// ErrNodeClosed is returned on operations against a closed node
	ErrNodeClosed = errors.New("node is closed")
	// ErrAlreadySpinning is returned when Spin is called on a spinning node
	ErrAlreadySpinning = errors.New("node is already spinning")
	// ErrEmptyTopic is returned when a topic name is empty
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrNilCallback is returned when a callback is nil
	ErrNilCallback = errors.New("callback cannot be nil")
)

// Node is a unit of execution registered with the runtime. It owns its
// publishers, wall timers, and subscriptions, and has two externally
// visible states: Constructed (handles registered, not yet spinning) and
// Active (under Spin, callbacks firing).
//
// All callbacks of one node run serially on the Spin goroutine; there are
// never concurrent invocations for the same node.
type Node struct {
	mu   sync.RWMutex
	name string
	rt   *Runtime

	publishers    []*publisher
	timers        []*wallTimer
	subscriptions []*nodeSubscription

	// work carries callback invocations into the executor loop
	work     chan func(context.Context)
	done     chan struct{}
	spinCtx  context.Context
	spinning bool
	closed   bool
}

func newNode(name string, rt *Runtime) *Node {
	return &Node{
		name: name,
		rt:   rt,
		work: make(chan func(context.Context)),
		done: make(chan struct{}),
	}
}

// Name returns the node's process-wide unique name.
func (n *Node) Name() string {
	return n.name
}

// Logger returns a logger scoped to this node.
func (n *Node) Logger() *slog.Logger {
	return n.rt.logger.With("node", n.name)
}

// CreatePublisher binds a new publisher to exactly one topic. A zero-valued
// QoS profile takes the runtime default (depth 10).
func (n *Node) CreatePublisher(topic string, qos rosbus.QoSProfile) (rosbus.Publisher, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if qos.Depth == 0 {
		qos = n.rt.config.DefaultQoS
	}
	if err := qos.Validate(); err != nil {
		return nil, fmt.Errorf("invalid QoS profile: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNodeClosed
	}

	pub := &publisher{
		topic:     topic,
		qos:       qos,
		transport: n.rt.transport,
	}
	n.publishers = append(n.publishers, pub)
	return pub, nil
}

// CreateWallTimer registers a periodic timer. The period is an explicit
// configuration value and must be positive; the callback is invoked by the
// executor on every period elapse while the node is spinning.
func (n *Node) CreateWallTimer(period time.Duration, callback rosbus.TimerCallback) (rosbus.Timer, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if callback == nil {
		return nil, ErrNilCallback
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNodeClosed
	}

	timer := newWallTimer(period, callback)
	n.timers = append(n.timers, timer)

	// A timer created on an already-active node starts firing immediately.
	if n.spinning {
		go timer.run(n.spinCtx, n.work)
	}
	return timer, nil
}

// CreateSubscription attaches the node to a topic; the handler runs on the
// executor for each delivered message while the node is spinning.
func (n *Node) CreateSubscription(ctx context.Context, topic string, qos rosbus.QoSProfile, handler rosbus.MessageCallback) (rosbus.Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if handler == nil {
		return nil, ErrNilCallback
	}
	if qos.Depth == 0 {
		qos = n.rt.config.DefaultQoS
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNodeClosed
	}

	sub, err := n.rt.transport.Subscribe(ctx, topic, qos)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	ns := &nodeSubscription{Subscription: sub, handler: handler}
	n.subscriptions = append(n.subscriptions, ns)

	if n.spinning {
		go ns.run(n.spinCtx, n.work)
	}
	return ns, nil
}

// PublisherCount returns the number of publishers created on this node.
func (n *Node) PublisherCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.publishers)
}

// TimerCount returns the number of wall timers created on this node.
func (n *Node) TimerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.timers)
}

// SubscriptionCount returns the number of subscriptions on this node.
func (n *Node) SubscriptionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscriptions)
}

// Spin transitions the node from Constructed to Active and runs the
// executor loop: timer firings and inbound messages are dispatched serially
// on this goroutine until the context is cancelled or the node is closed.
// Spin returns nil on a clean shutdown.
func (n *Node) Spin(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNodeClosed
	}
	if n.spinning {
		n.mu.Unlock()
		return ErrAlreadySpinning
	}

	spinCtx, cancel := context.WithCancel(ctx)
	n.spinning = true
	n.spinCtx = spinCtx

	timers := append([]*wallTimer(nil), n.timers...)
	subs := append([]*nodeSubscription(nil), n.subscriptions...)
	n.mu.Unlock()

	defer func() {
		cancel()
		n.mu.Lock()
		n.spinning = false
		n.spinCtx = nil
		n.mu.Unlock()
	}()

	for _, timer := range timers {
		go timer.run(spinCtx, n.work)
	}
	for _, sub := range subs {
		go sub.run(spinCtx, n.work)
	}

	for {
		select {
		case <-spinCtx.Done():
			return nil
		case <-n.done:
			return nil
		case job := <-n.work:
			job(spinCtx)
		}
	}
}

// Close releases the node: timers stop, subscriptions detach, the name is
// freed in the runtime, and no callback fires afterwards. Idempotent.
// Teardown is normally driven by Runtime.Shutdown.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil // Already closed, idempotent
	}
	n.closed = true
	close(n.done)
	timers := append([]*wallTimer(nil), n.timers...)
	subs := append([]*nodeSubscription(nil), n.subscriptions...)
	pubs := append([]*publisher(nil), n.publishers...)
	n.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
	for _, sub := range subs {
		if err := sub.Subscription.Close(); err != nil {
			n.Logger().Warn("error closing subscription", "topic", sub.Topic(), "error", err)
		}
	}
	for _, pub := range pubs {
		pub.Close()
	}

	n.rt.release(n.name)
	return nil
}
