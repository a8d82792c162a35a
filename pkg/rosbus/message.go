package rosbus

import (
	"time"
)

// Message represents a single transmission on a topic.
//
// A message is an ephemeral value object: it is constructed anew for each
// publish and has no identity beyond that transmission. Payload and headers
// are copied at construction so a message never aliases caller memory.
type Message struct {
	// Topic is the topic this message was published on
	Topic string

	// Payload is the raw message data as bytes (immutable after creation)
	Payload []byte

	// Seq is the per-publisher sequence number, starting at 0
	Seq int64

	// Offset is the position of this message in its topic log, assigned by
	// the transport on publish. Each topic has its own sequence from 0.
	Offset int64

	// Timestamp is when this message was constructed
	Timestamp time.Time

	// Headers are key-value metadata attached to this message (immutable after creation)
	Headers map[string]string
}

// NewMessage creates a new Message for the given topic.
// The payload is copied to ensure immutability.
func NewMessage(topic string, payload []byte) *Message {
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return &Message{
		Topic:     topic,
		Payload:   payloadCopy,
		Seq:       0, // Assigned by the publisher on transmission
		Timestamp: time.Now().UTC(),
		Headers:   make(map[string]string),
	}
}

// NewStringMessage creates a new Message whose payload is a single string
// field, the wire shape used by the demo test node.
func NewStringMessage(topic, data string) *Message {
	return NewMessage(topic, []byte(data))
}

// NewMessageWithHeaders creates a new Message with headers.
// Both payload and headers are copied to ensure immutability.
func NewMessageWithHeaders(topic string, payload []byte, headers map[string]string) *Message {
	msg := NewMessage(topic, payload)
	for k, v := range headers {
		msg.Headers[k] = v
	}
	return msg
}

// WithSeq returns a new Message with the given sequence number.
// Used by publishers when assigning transmission order.
func (m *Message) WithSeq(seq int64) *Message {
	return &Message{
		Topic:     m.Topic,
		Payload:   m.Payload, // Already immutable from construction
		Seq:       seq,
		Offset:    m.Offset,
		Timestamp: m.Timestamp,
		Headers:   m.Headers, // Already immutable from construction
	}
}

// WithOffset returns a new Message with the given topic log offset.
// Used internally by the topic log when storing messages.
func (m *Message) WithOffset(offset int64) *Message {
	return &Message{
		Topic:     m.Topic,
		Payload:   m.Payload, // Already immutable from construction
		Seq:       m.Seq,
		Offset:    offset,
		Timestamp: m.Timestamp,
		Headers:   m.Headers, // Already immutable from construction
	}
}

// Copy returns a deep copy of the Message.
func (m *Message) Copy() *Message {
	payloadCopy := make([]byte, len(m.Payload))
	copy(payloadCopy, m.Payload)

	headersCopy := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		headersCopy[k] = v
	}

	return &Message{
		Topic:     m.Topic,
		Payload:   payloadCopy,
		Seq:       m.Seq,
		Offset:    m.Offset,
		Timestamp: m.Timestamp,
		Headers:   headersCopy,
	}
}

// Data returns the payload as a string.
func (m *Message) Data() string {
	return string(m.Payload)
}
