package broker

import (
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

// subscription is a live attachment to one topic with a bounded drop-oldest
// queue between the shared fan-out and the subscriber channel.
type subscription struct {
	id    string
	topic string
	depth int

	out    chan *rosbus.Message
	done   chan struct{}
	once   sync.Once
	broker *Broker
}

func newSubscription(topic string, depth int, b *Broker) *subscription {
	return &subscription{
		id:     uuid.NewString(),
		topic:  topic,
		depth:  depth,
		out:    make(chan *rosbus.Message),
		done:   make(chan struct{}),
		broker: b,
	}
}

// ID returns the unique identifier of this subscription.
func (s *subscription) ID() string {
	return s.id
}

// Topic returns the topic this subscription is attached to.
func (s *subscription) Topic() string {
	return s.topic
}

// C returns the delivery channel. Closed when the subscription closes.
func (s *subscription) C() <-chan *rosbus.Message {
	return s.out
}

// Close detaches the subscription. Idempotent; pending queued messages
// are discarded.
func (s *subscription) Close() error {
	s.stop()
	s.broker.removeSub(s.id)
	return nil
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

// pump moves messages from the watermill channel to the subscriber channel
// through the QoS queue. Runs on its own goroutine until the upstream
// channel closes or the subscription stops.
//
// Invariant: at most depth messages are queued; when a new message arrives
// with the queue full, the OLDEST queued message is dropped.
func (s *subscription) pump(in <-chan *message.Message, logger *slog.Logger) {
	defer close(s.out)
	// Deregister however the pump ends, so a subscription that died with its
	// context (upstream closed) does not linger in the registry.
	defer s.broker.removeSub(s.id)

	var queue []*rosbus.Message
	for {
		// Only offer the head for delivery when the queue is non-empty.
		var sendCh chan *rosbus.Message
		var head *rosbus.Message
		if len(queue) > 0 {
			sendCh = s.out
			head = queue[0]
		}

		select {
		case <-s.done:
			return

		case wmMsg, ok := <-in:
			if !ok {
				// Upstream closed: deliver what is queued, then finish.
				s.drain(queue)
				return
			}
			wmMsg.Ack()
			queue = append(queue, fromWatermill(wmMsg))
			if len(queue) > s.depth {
				logger.Debug("subscriber queue full, dropping oldest message",
					"topic", s.topic, "subscription", s.id, "depth", s.depth)
				queue = queue[1:]
			}

		case sendCh <- head:
			queue = queue[1:]
		}
	}
}

func (s *subscription) drain(queue []*rosbus.Message) {
	for _, msg := range queue {
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

// Verify that subscription implements the Subscription interface at compile time
var _ rosbus.Subscription = (*subscription)(nil)
