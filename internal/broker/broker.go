// Package broker provides the in-process Transport implementation: a
// watermill GoChannel fan-out wrapped with the topic log and per-subscriber
// bounded queues.
//
// Publish order is persist-first: every message is appended to the topic log
// before any subscriber sees it. Delivery is fire-and-forget; a publish with
// zero subscribers succeeds silently.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/BjarkeHJ/rosbus/internal/topiclog"
	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

var (
	// ErrClosed is returned on operations against a closed broker
	ErrClosed = errors.New("broker is closed")
	// ErrEmptyTopic is returned when a topic name is empty
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrNilMessage is returned when a nil message is published
	ErrNilMessage = errors.New("message cannot be nil")
)

// Metadata keys used to carry Message fields through watermill's envelope.
const (
	metaKeyTopic     = "rosbus_topic"
	metaKeySeq       = "rosbus_seq"
	metaKeyOffset    = "rosbus_offset"
	metaKeyTimestamp = "rosbus_timestamp"
)

// tapBuffer is the buffer size of tap channels. Taps are best-effort
// observers; a tap that falls this far behind loses the newest messages.
const tapBuffer = 256

// Config holds broker configuration.
type Config struct {
	// Retention caps retained records per topic in the topic log
	Retention int

	// OutputChannelBuffer is the watermill per-subscriber channel buffer,
	// upstream of the QoS queue
	OutputChannelBuffer int64
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Retention <= 0 {
		c.Retention = topiclog.DefaultRetention
	}
	if c.OutputChannelBuffer <= 0 {
		c.OutputChannelBuffer = 64
	}
}

// Broker implements rosbus.Transport for a single process.
// It is safe for concurrent use.
type Broker struct {
	mu     sync.RWMutex
	config Config

	pubsub *gochannel.GoChannel
	log    *topiclog.InMemoryLog
	logger *slog.Logger

	subs    map[string]*subscription
	taps    map[int]chan *rosbus.Message
	nextTap int
	closed  bool
}

// New creates a broker with the given configuration.
func New(config Config, logger *slog.Logger) *Broker {
	config.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: config.OutputChannelBuffer,
		},
		watermill.NewStdLogger(false, false),
	)

	return &Broker{
		config: config,
		pubsub: pubsub,
		log:    topiclog.NewInMemoryLogWithRetention(config.Retention),
		logger: logger,
		subs:   make(map[string]*subscription),
		taps:   make(map[int]chan *rosbus.Message),
	}
}

// Publish appends the message to the topic log, then fans it out to
// subscribers and taps. The stored message (with its log offset) is returned.
func (b *Broker) Publish(ctx context.Context, msg *rosbus.Message) (*rosbus.Message, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	if msg.Topic == "" {
		return nil, ErrEmptyTopic
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	b.mu.RUnlock()

	// Persist first: the log assigns the topic offset before any delivery.
	stored, err := b.log.Append(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	if err := b.pubsub.Publish(msg.Topic, toWatermill(stored)); err != nil {
		return nil, fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}

	b.notifyTaps(stored)
	return stored, nil
}

// Subscribe attaches a new subscriber to a topic. Messages flow through a
// bounded queue of qos.Depth entries; once full, the oldest queued message
// is dropped so a slow subscriber never blocks the bus.
func (b *Broker) Subscribe(ctx context.Context, topic string, qos rosbus.QoSProfile) (rosbus.Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if err := qos.Validate(); err != nil {
		return nil, fmt.Errorf("invalid QoS profile: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	wmMsgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := newSubscription(topic, qos.Depth, b)
	b.subs[sub.ID()] = sub

	go sub.pump(wmMsgs, b.logger)

	return sub, nil
}

// Topics returns the names of all topics that have seen traffic.
func (b *Broker) Topics(ctx context.Context) ([]string, error) {
	return b.log.Topics(ctx)
}

// Log exposes the topic log for replay and introspection.
func (b *Broker) Log() *topiclog.InMemoryLog {
	return b.log
}

// Tap registers a best-effort observer of every published message,
// regardless of topic. The returned cancel func releases the tap.
func (b *Broker) Tap() (<-chan *rosbus.Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}

	id := b.nextTap
	b.nextTap++
	ch := make(chan *rosbus.Message, tapBuffer)
	b.taps[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if tap, ok := b.taps[id]; ok {
			delete(b.taps, id)
			close(tap)
		}
	}
	return ch, cancel, nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the broker down: all subscription channels and taps are
// closed and the topic log is cleared. Idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	for id, tap := range b.taps {
		delete(b.taps, id)
		close(tap)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return b.log.Close()
}

// notifyTaps delivers a message to every tap without blocking.
func (b *Broker) notifyTaps(msg *rosbus.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, tap := range b.taps {
		select {
		case tap <- msg:
		default:
			b.logger.Debug("tap overflow, message dropped", "topic", msg.Topic)
		}
	}
}

// removeSub drops a subscription from the registry after it closed itself.
func (b *Broker) removeSub(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// toWatermill converts a rosbus message into watermill's envelope.
func toWatermill(msg *rosbus.Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	wmMsg.Metadata.Set(metaKeySeq, strconv.FormatInt(msg.Seq, 10))
	wmMsg.Metadata.Set(metaKeyOffset, strconv.FormatInt(msg.Offset, 10))
	wmMsg.Metadata.Set(metaKeyTimestamp, msg.Timestamp.Format(time.RFC3339Nano))

	for k, v := range msg.Headers {
		wmMsg.Metadata.Set(k, v)
	}
	return wmMsg
}

// fromWatermill converts a watermill envelope back to a rosbus message.
func fromWatermill(wmMsg *message.Message) *rosbus.Message {
	headers := make(map[string]string)
	for k, v := range wmMsg.Metadata {
		switch k {
		case metaKeyTopic, metaKeySeq, metaKeyOffset, metaKeyTimestamp:
		default:
			headers[k] = v
		}
	}

	msg := rosbus.NewMessageWithHeaders(wmMsg.Metadata.Get(metaKeyTopic), wmMsg.Payload, headers)
	if seq, err := strconv.ParseInt(wmMsg.Metadata.Get(metaKeySeq), 10, 64); err == nil {
		msg.Seq = seq
	}
	if offset, err := strconv.ParseInt(wmMsg.Metadata.Get(metaKeyOffset), 10, 64); err == nil {
		msg.Offset = offset
	}
	if ts, err := time.Parse(time.RFC3339Nano, wmMsg.Metadata.Get(metaKeyTimestamp)); err == nil {
		msg.Timestamp = ts
	}
	return msg
}

// Verify that Broker implements the Transport interface at compile time
var _ rosbus.Transport = (*Broker)(nil)
