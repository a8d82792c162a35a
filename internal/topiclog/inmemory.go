// Package topiclog provides the per-topic bounded message log backing the
// broker. Each topic has its own independent offset sequence starting from 0;
// retention is capped per topic, oldest records evicted first.
package topiclog

import (
	"context"
	"errors"
	"sync"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrNilMessage is returned when a nil message is provided
	ErrNilMessage = errors.New("message cannot be nil")
	// ErrClosed is returned when appending to a closed log
	ErrClosed = errors.New("topic log is closed")
)

// DefaultRetention is the per-topic record cap when none is configured.
const DefaultRetention = 1024

// Statistics provides aggregate counts across the whole log.
// Eviction does not decrement counts: TotalMessages is the number of
// messages ever appended, not the number currently retained.
type Statistics struct {
	TotalMessages int64            // Messages appended across all topics
	TopicCounts   map[string]int64 // Messages appended per topic
	TopicCount    int              // Number of distinct topics
}

// InMemoryLog is an in-memory topic-partitioned message log.
// It is safe for concurrent use.
type InMemoryLog struct {
	mu                 sync.RWMutex
	messagesByTopic    map[string][]*rosbus.Message // topic -> retained messages
	nextOffsetByTopic  map[string]int64             // topic -> next append offset
	appendedByTopic    map[string]int64             // topic -> total appended (survives eviction)
	retentionPerTopic  int
	closed             bool
}

// NewInMemoryLog creates a new in-memory topic log with the default
// per-topic retention cap.
func NewInMemoryLog() *InMemoryLog {
	return NewInMemoryLogWithRetention(DefaultRetention)
}

// NewInMemoryLogWithRetention creates a log that retains at most
// retention records per topic. Values below 1 fall back to the default.
func NewInMemoryLogWithRetention(retention int) *InMemoryLog {
	if retention < 1 {
		retention = DefaultRetention
	}
	return &InMemoryLog{
		messagesByTopic:   make(map[string][]*rosbus.Message),
		nextOffsetByTopic: make(map[string]int64),
		appendedByTopic:   make(map[string]int64),
		retentionPerTopic: retention,
	}
}

// Append stores a message under its topic and assigns the topic-scoped
// offset. The stored copy is returned; the input is not mutated.
func (l *InMemoryLog) Append(ctx context.Context, msg *rosbus.Message) (*rosbus.Message, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	topic := msg.Topic
	offset := l.nextOffsetByTopic[topic]
	stored := msg.WithOffset(offset)

	l.messagesByTopic[topic] = append(l.messagesByTopic[topic], stored)
	l.nextOffsetByTopic[topic]++
	l.appendedByTopic[topic]++

	// Evict oldest once past the retention cap.
	if retained := l.messagesByTopic[topic]; len(retained) > l.retentionPerTopic {
		l.messagesByTopic[topic] = retained[len(retained)-l.retentionPerTopic:]
	}

	return stored, nil
}

// Read returns up to maxCount retained messages from a topic, starting at
// startOffset. Evicted offsets are simply absent from the result.
func (l *InMemoryLog) Read(ctx context.Context, topic string, startOffset int64, maxCount int) ([]*rosbus.Message, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*rosbus.Message, 0, maxCount)
	if maxCount == 0 {
		return results, nil
	}

	for _, msg := range l.messagesByTopic[topic] {
		if msg.Offset >= startOffset {
			results = append(results, msg)
			if len(results) >= maxCount {
				break
			}
		}
	}

	return results, nil
}

// EndOffset returns the next append position for a topic (0 if the topic
// has never seen a message).
func (l *InMemoryLog) EndOffset(ctx context.Context, topic string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffsetByTopic[topic], nil
}

// Replay streams retained messages from a topic starting at startOffset.
// The message channel is closed when all messages are sent or the context
// is cancelled.
func (l *InMemoryLog) Replay(ctx context.Context, topic string, startOffset int64) (<-chan *rosbus.Message, <-chan error) {
	msgChan := make(chan *rosbus.Message)
	errChan := make(chan error, 1) // Buffered to prevent blocking

	go func() {
		defer close(msgChan)
		defer close(errChan)

		if startOffset < 0 {
			errChan <- ErrNegativeOffset
			return
		}

		// Snapshot under the read lock so we never hold it while sending.
		l.mu.RLock()
		var toReplay []*rosbus.Message
		for _, msg := range l.messagesByTopic[topic] {
			if msg.Offset >= startOffset {
				toReplay = append(toReplay, msg)
			}
		}
		l.mu.RUnlock()

		for _, msg := range toReplay {
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			case msgChan <- msg:
			}
		}
	}()

	return msgChan, errChan
}

// Topics returns the names of all topics that have seen at least one message.
func (l *InMemoryLog) Topics(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	topics := make([]string, 0, len(l.appendedByTopic))
	for topic := range l.appendedByTopic {
		topics = append(topics, topic)
	}
	return topics, nil
}

// GetStatistics returns aggregate counts for the whole log.
func (l *InMemoryLog) GetStatistics(ctx context.Context) (Statistics, error) {
	select {
	case <-ctx.Done():
		return Statistics{}, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Statistics{
		TopicCounts: make(map[string]int64, len(l.appendedByTopic)),
		TopicCount:  len(l.appendedByTopic),
	}
	for topic, count := range l.appendedByTopic {
		stats.TopicCounts[topic] = count
		stats.TotalMessages += count
	}
	return stats, nil
}

// Close clears all retained messages. Idempotent.
func (l *InMemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil // Already closed, idempotent
	}

	l.messagesByTopic = make(map[string][]*rosbus.Message)
	l.nextOffsetByTopic = make(map[string]int64)
	l.appendedByTopic = make(map[string]int64)
	l.closed = true
	return nil
}
