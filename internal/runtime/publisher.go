package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

// ErrPublisherClosed is returned when publishing through a closed publisher.
var ErrPublisherClosed = errors.New("publisher is closed")

// publisher is a handle bound to exactly one topic for the lifetime of its
// node. Sequence numbers are assigned per publisher, starting at 0.
type publisher struct {
	topic     string
	qos       rosbus.QoSProfile
	transport rosbus.Transport

	seq    atomic.Int64
	closed atomic.Bool
}

// Topic returns the single topic this publisher is bound to.
func (p *publisher) Topic() string {
	return p.topic
}

// Publish constructs a fresh message from the payload and hands it to the
// transport. The message has no identity beyond this one transmission.
func (p *publisher) Publish(ctx context.Context, payload []byte) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	msg := rosbus.NewMessage(p.topic, payload)
	msg.Seq = p.seq.Add(1) - 1

	if _, err := p.transport.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", p.topic, err)
	}
	return nil
}

// Close marks the publisher unusable. Idempotent.
func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

// Verify that publisher implements the Publisher interface at compile time
var _ rosbus.Publisher = (*publisher)(nil)
