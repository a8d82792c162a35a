package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/BjarkeHJ/rosbus/internal/broker"
	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

// sseKeepaliveInterval is the ping period on idle SSE streams.
const sseKeepaliveInterval = 15 * time.Second

// defaultReadLimit caps a topic read when no limit is given.
const defaultReadLimit = 100

// PeerSource reports attached bridge peers for the health endpoint.
// The bridge satisfies it; a nil source means no bridge is running.
type PeerSource interface {
	ConnectedPeers() []string
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	bus     *broker.Broker
	peers   PeerSource
	jwtAuth *JWTAuth
	logger  *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(bus *broker.Broker, peers PeerSource, jwtAuth *JWTAuth, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		bus:     bus,
		peers:   peers,
		jwtAuth: jwtAuth,
		logger:  logger,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validateAuthRequest(&req); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Simple clientId-based authentication; credentials live elsewhere.
	isAdmin := req.ClientID == "admin"

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		h.writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Message endpoints

// PublishMessage handles POST /api/v1/messages
func (h *Handlers) PublishMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validateTopic(req.Topic); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	claims := GetClaims(r)
	if claims == nil {
		h.writeError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var payload []byte
	if req.Payload != nil {
		payloadBytes, err := json.Marshal(req.Payload)
		if err != nil {
			h.writeError(w, "Invalid payload format", http.StatusBadRequest)
			return
		}
		payload = payloadBytes
	}

	msg := rosbus.NewMessageWithHeaders(req.Topic, payload, map[string]string{
		"client_id": claims.ClientID,
	})

	published, err := h.bus.Publish(r.Context(), msg)
	if err != nil {
		h.writeError(w, fmt.Sprintf("Failed to publish message: %v", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, PublishResponse{
		MessageID: fmt.Sprintf("%s-%d", published.Topic, published.Offset),
		Topic:     published.Topic,
		Offset:    published.Offset,
		Timestamp: published.Timestamp,
	}, http.StatusCreated)
}

// Topic endpoints

// ListTopics handles GET /api/v1/topics
func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.bus.Topics(r.Context())
	if err != nil {
		h.writeError(w, fmt.Sprintf("Failed to list topics: %v", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, TopicsResponse{
		Topics: topics,
		Count:  len(topics),
	}, http.StatusOK)
}

// ReadTopicMessages handles GET /api/v1/topics/{topic}/messages
func (h *Handlers) ReadTopicMessages(w http.ResponseWriter, r *http.Request) {
	topic := GetTopicFromPath(r)
	if topic == "" {
		h.writeError(w, "Topic name required", http.StatusBadRequest)
		return
	}

	offset, err := h.parseInt64Param(r, "offset", 0)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := h.parseInt64Param(r, "limit", defaultReadLimit)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	msgs, err := h.bus.Log().Read(r.Context(), topic, offset, int(limit))
	if err != nil {
		h.writeError(w, fmt.Sprintf("Failed to read messages: %v", err), http.StatusInternalServerError)
		return
	}

	items := make([]MessageItem, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, h.toMessageItem(msg))
	}

	h.writeJSON(w, ReadMessagesResponse{
		Messages:    items,
		Topic:       topic,
		StartOffset: offset,
		Count:       len(items),
	}, http.StatusOK)
}

// StreamMessages handles GET /api/v1/messages/stream
func (h *Handlers) StreamMessages(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r)
	if claims == nil {
		h.writeError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		h.writeError(w, "topic query parameter required", http.StatusBadRequest)
		return
	}
	if err := h.validateTopic(topic); err != nil {
		h.writeError(w, fmt.Sprintf("Invalid topic filter: %v", err), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.bus.Subscribe(r.Context(), topic, rosbus.DefaultQoS())
	if err != nil {
		h.writeError(w, fmt.Sprintf("Failed to subscribe: %v", err), http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": stream established for topic: %s\n\n", topic)
	flusher.Flush()

	h.logger.Debug("sse stream opened", "client", claims.ClientID, "topic", topic)

	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case msg, open := <-sub.C():
			if !open {
				return
			}
			if err := h.writeSSEMessage(w, h.toMessageItem(msg)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Stats endpoint (admin only)

// GetStats handles GET /api/v1/admin/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bus.Log().GetStatistics(r.Context())
	if err != nil {
		h.writeError(w, fmt.Sprintf("Failed to get statistics: %v", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, StatsResponse{
		TotalMessages: stats.TotalMessages,
		TopicCount:    stats.TopicCount,
		TopicMessages: stats.TopicCounts,
	}, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:    true,
		BusHealthy: true,
		Message:    "All systems operational",
	}

	stats, err := h.bus.Log().GetStatistics(r.Context())
	if err != nil {
		resp.Healthy = false
		resp.BusHealthy = false
		resp.Message = fmt.Sprintf("Bus unavailable: %v", err)
	} else {
		resp.TopicCount = stats.TopicCount
		resp.TotalMessages = stats.TotalMessages
	}

	if h.peers != nil {
		resp.ConnectedPeers = len(h.peers.ConnectedPeers())
	}

	statusCode := http.StatusOK
	if !resp.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, resp, statusCode)
}

// Helper methods

func (h *Handlers) toMessageItem(msg *rosbus.Message) MessageItem {
	// Deliver JSON payloads as JSON, everything else as a string.
	var payload interface{}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			payload = string(msg.Payload)
		}
	}

	return MessageItem{
		MessageID: fmt.Sprintf("%s-%d", msg.Topic, msg.Offset),
		Topic:     msg.Topic,
		Payload:   payload,
		Seq:       msg.Seq,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
	}
}

// writeSSEMessage writes a MessageItem as a properly formatted SSE data message
func (h *Handlers) writeSSEMessage(w http.ResponseWriter, item MessageItem) error {
	jsonData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	return err
}

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handlers) parseInt64Param(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

// validateJSON validates that the request has valid JSON content-type.
// Parameters like "; charset=utf-8" are accepted.
func (h *Handlers) validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	return nil
}

// validateTopic validates topic name format. Topics are slash-rooted,
// e.g. "/test_topic"; the read path resolves "/api/v1/topics/{topic}/messages"
// by restoring that leading slash, so a topic without one would be
// recorded but never readable.
func (h *Handlers) validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if topic[0] != '/' {
		return fmt.Errorf("topic must start with '/', e.g. /test_topic")
	}
	if len(topic) < 2 {
		return fmt.Errorf("topic must be at least 2 characters")
	}
	for _, char := range topic {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '.' || char == '-' ||
			char == '_' || char == '/') {
			return fmt.Errorf("topic contains invalid characters (allowed: letters, numbers, ., -, _, /)")
		}
	}
	return nil
}
