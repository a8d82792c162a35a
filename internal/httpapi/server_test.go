package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

func doRequest(t *testing.T, setup *TestServerSetup, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(rec, req)
	return rec
}

// TestLogin tests the login endpoint
func TestLogin(t *testing.T) {
	setup := NewTestServerSetup(t)

	rec := doRequest(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "test-client"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("Expected non-empty token")
	}
	if resp.ClientID != "test-client" {
		t.Errorf("Expected clientId 'test-client', got '%s'", resp.ClientID)
	}

	// The issued token must validate.
	claims, err := setup.Auth.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("Expected issued token to validate, got %v", err)
	}
	if claims.IsAdmin {
		t.Error("Expected non-admin token for regular client")
	}
}

// TestLogin_Validation tests login request validation
func TestLogin_Validation(t *testing.T) {
	setup := NewTestServerSetup(t)

	rec := doRequest(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty clientId, got %d", rec.Code)
	}

	rec = doRequest(t, setup, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for short clientId, got %d", rec.Code)
	}
}

// TestPublishMessage tests publishing through the API
func TestPublishMessage(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "test-client", false)

	rec := doRequest(t, setup, http.MethodPost, "/api/v1/messages", token, PublishRequest{
		Topic:   "/test_topic",
		Payload: map[string]string{"greeting": "Hello ARM64!"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PublishResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Topic != "/test_topic" {
		t.Errorf("Expected topic '/test_topic', got '%s'", resp.Topic)
	}
	if resp.Offset != 0 {
		t.Errorf("Expected first message at offset 0, got %d", resp.Offset)
	}
	if resp.MessageID != "/test_topic-0" {
		t.Errorf("Expected messageId '/test_topic-0', got '%s'", resp.MessageID)
	}

	// The message must be recorded on the bus.
	end, err := setup.Bus.Log().EndOffset(context.Background(), "/test_topic")
	if err != nil {
		t.Fatalf("Failed to read end offset: %v", err)
	}
	if end != 1 {
		t.Errorf("Expected 1 recorded message, got %d", end)
	}
}

// TestPublishMessage_RequiresAuth tests that publishing needs a token
func TestPublishMessage_RequiresAuth(t *testing.T) {
	setup := NewTestServerSetup(t)

	rec := doRequest(t, setup, http.MethodPost, "/api/v1/messages", "", PublishRequest{
		Topic:   "/test_topic",
		Payload: "hello",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, setup, http.MethodPost, "/api/v1/messages", "garbage", PublishRequest{
		Topic:   "/test_topic",
		Payload: "hello",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with invalid token, got %d", rec.Code)
	}
}

// TestPublishMessage_Validation tests publish request validation
func TestPublishMessage_Validation(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "test-client", false)

	rec := doRequest(t, setup, http.MethodPost, "/api/v1/messages", token, PublishRequest{Topic: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty topic, got %d", rec.Code)
	}

	rec = doRequest(t, setup, http.MethodPost, "/api/v1/messages", token, PublishRequest{Topic: "/bad topic!"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid topic characters, got %d", rec.Code)
	}

	// A topic without the leading slash would be recorded under a name the
	// read path can never resolve, so it is rejected up front.
	rec = doRequest(t, setup, http.MethodPost, "/api/v1/messages", token, PublishRequest{Topic: "sensor"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for topic without leading slash, got %d", rec.Code)
	}
	end, err := setup.Bus.Log().EndOffset(context.Background(), "sensor")
	if err != nil {
		t.Fatalf("Failed to read end offset: %v", err)
	}
	if end != 0 {
		t.Errorf("Expected rejected topic to record nothing, got %d messages", end)
	}
}

// TestPublishThenReadRoundTrip tests that every topic accepted by publish
// can be read back through the topic path
func TestPublishThenReadRoundTrip(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "test-client", false)

	rec := doRequest(t, setup, http.MethodPost, "/api/v1/messages", token, PublishRequest{
		Topic:   "/sensor",
		Payload: map[string]string{"reading": "42"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, setup, http.MethodGet, "/api/v1/topics/sensor/messages", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ReadMessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Topic != "/sensor" {
		t.Errorf("Expected topic '/sensor', got '%s'", resp.Topic)
	}
	if resp.Count != 1 {
		t.Fatalf("Expected the published message to be readable, got %d messages", resp.Count)
	}
	payload, ok := resp.Messages[0].Payload.(map[string]interface{})
	if !ok || payload["reading"] != "42" {
		t.Errorf("Expected payload {reading: 42}, got %v", resp.Messages[0].Payload)
	}
}

// TestPublishMessage_ContentTypeCharset tests that a charset parameter on
// the JSON content type is accepted
func TestPublishMessage_ContentTypeCharset(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "test-client", false)

	body, _ := json.Marshal(PublishRequest{Topic: "/test_topic", Payload: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("Expected status 201 with charset parameter, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-JSON content type, got %d", rec.Code)
	}
}

// TestListTopics tests the topic listing endpoint
func TestListTopics(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "test-client", false)

	ctx := context.Background()
	for _, topic := range []string{"/test_topic", "/other_topic"} {
		if _, err := setup.Bus.Publish(ctx, rosbus.NewStringMessage(topic, "x")); err != nil {
			t.Fatalf("Failed to seed topic %s: %v", topic, err)
		}
	}

	rec := doRequest(t, setup, http.MethodGet, "/api/v1/topics", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp TopicsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 topics, got %d: %v", resp.Count, resp.Topics)
	}
}

// TestReadTopicMessages tests reading recorded messages back
func TestReadTopicMessages(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "test-client", false)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg := rosbus.NewStringMessage("/test_topic", fmt.Sprintf("msg-%d", i))
		if _, err := setup.Bus.Publish(ctx, msg); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}

	rec := doRequest(t, setup, http.MethodGet, "/api/v1/topics/test_topic/messages?offset=2&limit=2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ReadMessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Topic != "/test_topic" {
		t.Errorf("Expected topic '/test_topic', got '%s'", resp.Topic)
	}
	if resp.Count != 2 {
		t.Fatalf("Expected 2 messages, got %d", resp.Count)
	}
	if resp.Messages[0].Offset != 2 {
		t.Errorf("Expected first message at offset 2, got %d", resp.Messages[0].Offset)
	}
	if resp.Messages[0].Payload != "msg-2" {
		t.Errorf("Expected payload 'msg-2', got '%v'", resp.Messages[0].Payload)
	}
}

// TestAdminStats tests that stats require admin privileges
func TestAdminStats(t *testing.T) {
	setup := NewTestServerSetup(t)

	userToken := setup.GenerateTestToken(t, "test-client", false)
	rec := doRequest(t, setup, http.MethodGet, "/api/v1/admin/stats", userToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for non-admin, got %d", rec.Code)
	}

	if _, err := setup.Bus.Publish(context.Background(), rosbus.NewStringMessage("/test_topic", "x")); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	adminToken := setup.GenerateTestToken(t, "admin", true)
	rec = doRequest(t, setup, http.MethodGet, "/api/v1/admin/stats", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.TotalMessages != 1 {
		t.Errorf("Expected 1 total message, got %d", resp.TotalMessages)
	}
	if resp.TopicMessages["/test_topic"] != 1 {
		t.Errorf("Expected 1 message on /test_topic, got %d", resp.TopicMessages["/test_topic"])
	}
}

// TestHealth tests the health endpoint
func TestHealth(t *testing.T) {
	setup := NewTestServerSetup(t)

	rec := doRequest(t, setup, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Healthy || !resp.BusHealthy {
		t.Errorf("Expected healthy response, got %+v", resp)
	}
}

// TestNoAuthMode tests the development bypass
func TestNoAuthMode(t *testing.T) {
	setup := NewTestServerSetup(t)

	// Rebuild the server in no-auth mode against the same bus.
	server := NewServer(setup.Bus, nil, Config{Port: "0", SecretKey: "test-secret-key", NoAuth: true}, nil)

	body, _ := json.Marshal(PublishRequest{Topic: "/test_topic", Payload: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("Expected status 201 without token in no-auth mode, got %d: %s", rec.Code, rec.Body.String())
	}

	// Admin endpoints stay protected even in no-auth mode.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for admin endpoint in no-auth mode, got %d", rec.Code)
	}
}

// TestMethodNotAllowed tests method dispatch on the messages endpoint
func TestMethodNotAllowed(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "test-client", false)

	rec := doRequest(t, setup, http.MethodDelete, "/api/v1/messages", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}
