package httpapi

import "time"

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents a message publishing request
type PublishRequest struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// PublishResponse represents a message publishing response
type PublishResponse struct {
	MessageID string    `json:"messageId"`
	Topic     string    `json:"topic"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicsResponse represents the list of known topics
type TopicsResponse struct {
	Topics []string `json:"topics"`
	Count  int      `json:"count"`
}

// MessageItem represents one bus message in API responses and SSE frames
type MessageItem struct {
	MessageID string      `json:"messageId"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Seq       int64       `json:"seq"`
	Offset    int64       `json:"offset"`
	Timestamp time.Time   `json:"timestamp"`
}

// ReadMessagesResponse represents a response for reading messages from a topic
type ReadMessagesResponse struct {
	Messages    []MessageItem `json:"messages"`
	Topic       string        `json:"topic"`
	StartOffset int64         `json:"startOffset"`
	Count       int           `json:"count"`
}

// StatsResponse represents bus statistics
type StatsResponse struct {
	TotalMessages int64            `json:"totalMessages"`
	TopicCount    int              `json:"topicCount"`
	TopicMessages map[string]int64 `json:"topicMessages"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy        bool   `json:"healthy"`
	BusHealthy     bool   `json:"busHealthy"`
	TopicCount     int    `json:"topicCount"`
	TotalMessages  int64  `json:"totalMessages"`
	ConnectedPeers int    `json:"connectedPeers"`
	Message        string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
