package testnode

import (
	"errors"
	"fmt"
	"time"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

var (
	// ErrEmptyNodeName is returned when the node name is empty
	ErrEmptyNodeName = errors.New("node name cannot be empty")
	// ErrEmptyTopic is returned when the topic is empty
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrInvalidPeriod is returned when the publish period is not positive
	ErrInvalidPeriod = errors.New("publish period must be positive")
)

// Default configuration values
const (
	DefaultNodeName = "test_node"
	DefaultTopic    = "/test_topic"
	DefaultPayload  = "Hello ARM64!"
	DefaultPeriod   = 100 * time.Millisecond
)

// Config holds the test node configuration. The publish period is an
// explicit duration; it is deliberately not derived from a frequency to
// avoid integer-division surprises.
type Config struct {
	// NodeName is the process-wide unique node name
	NodeName string
	// Topic is the single topic the node publishes on
	Topic string
	// Payload is the exact message body published on every firing
	Payload string
	// Period is the wall timer period between publishes
	Period time.Duration
	// QueueDepth is the publisher QoS history depth
	QueueDepth int
}

// DefaultConfig returns a configuration with all default values applied.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in default values for unset fields.
func (c *Config) SetDefaults() {
	if c.NodeName == "" {
		c.NodeName = DefaultNodeName
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Payload == "" {
		c.Payload = DefaultPayload
	}
	if c.Period == 0 {
		c.Period = DefaultPeriod
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = rosbus.DefaultQueueDepth
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.NodeName == "" {
		return ErrEmptyNodeName
	}
	if c.Topic == "" {
		return ErrEmptyTopic
	}
	if c.Period <= 0 {
		return ErrInvalidPeriod
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("%w: %d", rosbus.ErrInvalidDepth, c.QueueDepth)
	}
	return nil
}
