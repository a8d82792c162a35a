package bridge

import (
	"errors"
	"time"
)

var (
	// ErrEmptyNodeID is returned when the bridge node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrEmptyListenAddress is returned when the listen address is empty
	ErrEmptyListenAddress = errors.New("listen address cannot be empty")
)

// Config holds configuration for the topic bridge.
type Config struct {
	// NodeID identifies this bridge endpoint to its peers
	NodeID string
	// ListenAddress is the gRPC listen address, e.g. "localhost:0"
	ListenAddress string
	// SendQueueSize bounds the per-peer outbound frame queue
	SendQueueSize int
	// HeartbeatInterval is the keepalive frame period per peer
	HeartbeatInterval time.Duration
	// MaxMessageSize caps the size of a single frame on the wire
	MaxMessageSize int
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.ListenAddress == "" {
		return ErrEmptyListenAddress
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
}
