// Package rosbus defines the public contracts of the rosbus runtime.
//
// This package holds the core abstractions shared by the broker, the node
// runtime, and the bridges:
//   - Message: a single transmission on a topic (payload, sequence, headers)
//   - QoSProfile: the bounded-queue policy applied per subscriber
//   - Transport: the publish/subscribe capability injected into nodes
//   - Publisher, Subscription, Timer: handles created through a node
//
// The interfaces use Go idioms:
//   - context.Context on blocking operations
//   - Channels for message delivery (Subscription.C)
//   - io.Closer for resource cleanup
//   - Explicit error returns following Go conventions
//
// Example usage:
//
//	sub, err := transport.Subscribe(ctx, "/test_topic", rosbus.DefaultQoS())
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//
//	for msg := range sub.C() {
//		fmt.Println(string(msg.Payload))
//	}
//
// Implementations live under internal/: internal/broker provides the
// in-process Transport, internal/runtime provides nodes, publishers and
// wall timers on top of it.
package rosbus
