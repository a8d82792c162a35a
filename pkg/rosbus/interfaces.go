package rosbus

import (
	"context"
	"io"
	"time"
)

// Transport is the publish/subscribe capability a node depends on.
//
// Publishing is fire-and-forget: a publish to a topic with no subscribers
// succeeds silently, and delivery failures are absorbed by the transport.
// Implementations must be safe for concurrent use.
type Transport interface {
	io.Closer

	// Publish hands a message to the transport for transmission on its topic.
	// The returned message carries the offset assigned by the topic log.
	Publish(ctx context.Context, msg *Message) (*Message, error)

	// Subscribe registers interest in a topic. Messages are delivered on the
	// subscription channel through a bounded queue sized by qos.Depth; once
	// full, the oldest undelivered message is dropped.
	Subscribe(ctx context.Context, topic string, qos QoSProfile) (Subscription, error)

	// Topics returns the names of all topics that have seen traffic.
	Topics(ctx context.Context) ([]string, error)
}

// Subscription is a live attachment to one topic.
type Subscription interface {
	io.Closer

	// ID returns the unique identifier of this subscription
	ID() string

	// Topic returns the topic this subscription is attached to
	Topic() string

	// C returns the channel messages are delivered on. The channel is closed
	// when the subscription or the transport is closed.
	C() <-chan *Message
}

// Publisher is a handle bound to exactly one topic, created through a node
// at construction time and destroyed with it.
type Publisher interface {
	io.Closer

	// Topic returns the single topic this publisher is bound to
	Topic() string

	// Publish constructs a message from the payload and hands it to the
	// transport. Sequence numbers are assigned per publisher, starting at 0.
	Publish(ctx context.Context, payload []byte) error
}

// Timer is a periodic timer handle. The registered callback is invoked by
// the node's executor on every period elapse while the node is spinning;
// invocations for one node are never concurrent.
type Timer interface {
	// Period returns the configured firing period
	Period() time.Duration

	// Stop cancels the timer. No callback fires after Stop returns.
	Stop()
}

// TimerCallback is invoked by the executor on each timer firing.
type TimerCallback func(ctx context.Context)

// MessageCallback is invoked by the executor for each delivered message.
type MessageCallback func(ctx context.Context, msg *Message)
