package rosbus

import "errors"

// ErrInvalidDepth is returned when a QoS profile has a queue depth below 1.
var ErrInvalidDepth = errors.New("queue depth must be at least 1")

// DefaultQueueDepth is the standard bounded queue depth for publishers and
// subscribers: up to 10 undelivered messages are retained before the oldest
// are dropped.
const DefaultQueueDepth = 10

// QoSProfile describes the delivery policy applied between the bus and a
// single subscriber. Delivery is fire-and-forget: the bus never blocks on a
// slow subscriber, it drops the oldest queued message once Depth is reached.
type QoSProfile struct {
	// Depth is the number of undelivered messages retained per subscriber
	// before the oldest are dropped.
	Depth int
}

// DefaultQoS returns the standard profile with queue depth 10.
func DefaultQoS() QoSProfile {
	return QoSProfile{Depth: DefaultQueueDepth}
}

// Validate checks that the profile is usable.
func (q QoSProfile) Validate() error {
	if q.Depth < 1 {
		return ErrInvalidDepth
	}
	return nil
}
