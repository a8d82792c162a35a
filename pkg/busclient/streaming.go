package busclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StreamClient handles Server-Sent Events streaming
type StreamClient struct {
	client   *Client
	messages chan MessageItem
	errors   chan error
	done     chan struct{}
	cancel   context.CancelFunc
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Topic to stream, e.g. "/test_topic"
	Topic string

	// BufferSize for the message channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream opens an SSE stream of live messages for a topic
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, fmt.Errorf("client not authenticated - call Authenticate() first")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required for streaming")
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	sc := &StreamClient{
		client:   c,
		messages: make(chan MessageItem, config.BufferSize),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go sc.run(streamCtx, config)

	return sc, nil
}

// Messages returns the channel for receiving messages
func (sc *StreamClient) Messages() <-chan MessageItem {
	return sc.messages
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and waits for the stream loop to exit
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// run handles the SSE streaming loop with reconnection
func (sc *StreamClient) run(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.messages)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := sc.connectAndStream(ctx, config); err != nil {
			select {
			case sc.errors <- fmt.Errorf("streaming error: %w", err):
			case <-ctx.Done():
				return
			default:
			}
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			case <-ctx.Done():
			}
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream establishes the SSE connection and processes messages
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/messages/stream"})
	values := streamURL.Query()
	values.Set("topic", config.Topic)
	streamURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// The stream must outlive the client's request timeout.
	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		if strings.HasPrefix(line, "data: ") {
			jsonData := strings.TrimPrefix(line, "data: ")

			var item MessageItem
			if err := json.Unmarshal([]byte(jsonData), &item); err != nil {
				select {
				case sc.errors <- fmt.Errorf("failed to parse message: %w", err):
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				continue
			}

			select {
			case sc.messages <- item:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Channel full, drop the message
			}
		}
		// Comments (": ...") and blank separators are ignored.
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}

	return nil
}
