package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(Config{}, nil)
	t.Cleanup(func() { b.Close() })
	return b
}

// receiveOne waits for a single message or fails the test
func receiveOne(t *testing.T, sub rosbus.Subscription, timeout time.Duration) *rosbus.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		if !ok {
			t.Fatal("Expected message, subscription channel closed")
		}
		return msg
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for message")
	}
	return nil
}

// TestBroker_PublishSubscribe tests the basic roundtrip
func TestBroker_PublishSubscribe(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Expected no error subscribing, got %v", err)
	}
	defer sub.Close()

	stored, err := b.Publish(ctx, rosbus.NewStringMessage("/test_topic", "Hello ARM64!"))
	if err != nil {
		t.Fatalf("Expected no error publishing, got %v", err)
	}
	if stored.Offset != 0 {
		t.Errorf("Expected first message at offset 0, got %d", stored.Offset)
	}

	msg := receiveOne(t, sub, 2*time.Second)
	if msg.Data() != "Hello ARM64!" {
		t.Errorf("Expected payload 'Hello ARM64!', got '%s'", msg.Data())
	}
	if msg.Topic != "/test_topic" {
		t.Errorf("Expected topic '/test_topic', got '%s'", msg.Topic)
	}
	if msg.Offset != 0 {
		t.Errorf("Expected delivered offset 0, got %d", msg.Offset)
	}
}

// TestBroker_PublishNoSubscribers tests fire-and-forget semantics
func TestBroker_PublishNoSubscribers(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Publish(context.Background(), rosbus.NewStringMessage("/test_topic", "Hello ARM64!"))
	if err != nil {
		t.Errorf("Expected publish with zero subscribers to succeed, got %v", err)
	}
}

// TestBroker_PublishValidation tests input validation
func TestBroker_PublishValidation(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if _, err := b.Publish(ctx, nil); !errors.Is(err, ErrNilMessage) {
		t.Errorf("Expected ErrNilMessage, got %v", err)
	}
	if _, err := b.Publish(ctx, rosbus.NewStringMessage("", "x")); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("Expected ErrEmptyTopic, got %v", err)
	}
}

// TestBroker_SubscribeValidation tests subscription validation
func TestBroker_SubscribeValidation(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if _, err := b.Subscribe(ctx, "", rosbus.DefaultQoS()); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("Expected ErrEmptyTopic, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "/test_topic", rosbus.QoSProfile{Depth: 0}); !errors.Is(err, rosbus.ErrInvalidDepth) {
		t.Errorf("Expected ErrInvalidDepth, got %v", err)
	}
}

// TestBroker_PersistBeforeDeliver tests that every publish lands in the log
func TestBroker_PersistBeforeDeliver(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Publish(ctx, rosbus.NewStringMessage("/test_topic", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Expected no error publishing, got %v", err)
		}
	}

	end, err := b.Log().EndOffset(ctx, "/test_topic")
	if err != nil {
		t.Fatalf("Expected no error reading end offset, got %v", err)
	}
	if end != 3 {
		t.Errorf("Expected 3 messages recorded, got %d", end)
	}

	topics, err := b.Topics(ctx)
	if err != nil {
		t.Fatalf("Expected no error listing topics, got %v", err)
	}
	if len(topics) != 1 || topics[0] != "/test_topic" {
		t.Errorf("Expected topic list [/test_topic], got %v", topics)
	}
}

// TestBroker_Ordering tests in-order delivery to a reading subscriber
func TestBroker_Ordering(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "/test_topic", rosbus.QoSProfile{Depth: 100})
	if err != nil {
		t.Fatalf("Expected no error subscribing, got %v", err)
	}
	defer sub.Close()

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := b.Publish(ctx, rosbus.NewStringMessage("/test_topic", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Expected no error publishing, got %v", err)
		}
	}

	for i := 0; i < n; i++ {
		msg := receiveOne(t, sub, 2*time.Second)
		if want := fmt.Sprintf("msg-%d", i); msg.Data() != want {
			t.Fatalf("Expected %q at position %d, got %q", want, i, msg.Data())
		}
	}
}

// TestBroker_QoSDropOldest tests the bounded drop-oldest subscriber queue
func TestBroker_QoSDropOldest(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "/test_topic", rosbus.QoSProfile{Depth: 3})
	if err != nil {
		t.Fatalf("Expected no error subscribing, got %v", err)
	}
	defer sub.Close()

	// Publish more than the queue depth while the subscriber is not reading.
	const n = 15
	for i := 0; i < n; i++ {
		if _, err := b.Publish(ctx, rosbus.NewStringMessage("/test_topic", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Expected no error publishing, got %v", err)
		}
	}

	// Give the queue goroutine time to absorb the backlog and drop.
	time.Sleep(300 * time.Millisecond)

	// Only the newest 3 messages survive, in order.
	for i := n - 3; i < n; i++ {
		msg := receiveOne(t, sub, 2*time.Second)
		if want := fmt.Sprintf("msg-%d", i); msg.Data() != want {
			t.Fatalf("Expected %q after drop-oldest, got %q", want, msg.Data())
		}
	}

	select {
	case msg := <-sub.C():
		t.Fatalf("Expected exactly 3 retained messages, got extra %q", msg.Data())
	case <-time.After(100 * time.Millisecond):
	}
}

// TestBroker_Tap tests that taps observe traffic on every topic
func TestBroker_Tap(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	tap, cancel, err := b.Tap()
	if err != nil {
		t.Fatalf("Expected no error creating tap, got %v", err)
	}
	defer cancel()

	if _, err := b.Publish(ctx, rosbus.NewStringMessage("/test_topic", "a")); err != nil {
		t.Fatalf("Expected no error publishing, got %v", err)
	}
	if _, err := b.Publish(ctx, rosbus.NewStringMessage("/other_topic", "b")); err != nil {
		t.Fatalf("Expected no error publishing, got %v", err)
	}

	seen := make(map[string]string)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-tap:
			seen[msg.Topic] = msg.Data()
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for tap message")
		}
	}
	if seen["/test_topic"] != "a" || seen["/other_topic"] != "b" {
		t.Errorf("Expected tap to observe both topics, got %v", seen)
	}
}

// TestBroker_SubscriptionClose tests detaching a subscriber
func TestBroker_SubscriptionClose(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Expected no error subscribing, got %v", err)
	}
	if b.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", b.SubscriberCount())
	}

	if err := sub.Close(); err != nil {
		t.Errorf("Expected no error closing subscription, got %v", err)
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers after close, got %d", b.SubscriberCount())
	}

	// Channel closes shortly after
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("Expected subscription channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Error("Timed out waiting for subscription channel to close")
	}
}

// TestBroker_SubscriberCountAfterContextCancel tests that a subscription
// whose context is cancelled leaves the registry without an explicit Close
func TestBroker_SubscriberCountAfterContextCancel(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Expected no error subscribing, got %v", err)
	}
	if b.SubscriberCount() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", b.SubscriberCount())
	}

	// Cancelling the context closes the upstream channel; the pump must
	// deregister on its way out, not wait for Close.
	cancel()

	deadline := time.After(2 * time.Second)
	for b.SubscriberCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("Expected 0 subscribers after context cancel, got %d", b.SubscriberCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The delivery channel closes too.
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("Expected subscription channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Error("Timed out waiting for subscription channel to close")
	}
}

// TestBroker_Close tests idempotent shutdown
func TestBroker_Close(t *testing.T) {
	b := New(Config{}, nil)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS())
	if err != nil {
		t.Fatalf("Expected no error subscribing, got %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Expected no error closing broker, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Expected idempotent Close, got %v", err)
	}

	if _, err := b.Publish(ctx, rosbus.NewStringMessage("/test_topic", "x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed publishing after Close, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed subscribing after Close, got %v", err)
	}

	// Subscriber channel drains and closes
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for subscription channel to close after broker Close")
		}
	}
}
