package busclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/messages/stream", r.URL.Path)
		require.Equal(t, "/test_topic", r.URL.Query().Get("topic"))
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, ": stream established for topic: /test_topic\n\n")
		flusher.Flush()

		item := MessageItem{
			MessageID: "/test_topic-0",
			Topic:     "/test_topic",
			Payload:   "Hello ARM64!",
			Offset:    0,
			Timestamp: time.Now(),
		}
		data, err := json.Marshal(item)
		require.NoError(t, err)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()

		// Keep the stream open until the client goes away.
		<-r.Context().Done()
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, ClientID: "test-client"})
	require.NoError(t, err)
	client.SetToken("test-token")

	stream, err := client.Stream(context.Background(), StreamConfig{Topic: "/test_topic"})
	require.NoError(t, err)
	defer stream.Close()

	select {
	case item := <-stream.Messages():
		assert.Equal(t, "/test_topic", item.Topic)
		assert.Equal(t, "Hello ARM64!", item.Payload)
		assert.Equal(t, int64(0), item.Offset)
	case err := <-stream.Errors():
		t.Fatalf("Unexpected stream error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for streamed message")
	}
}

func TestStream_RequiresAuth(t *testing.T) {
	client, err := NewClient(Config{ServerURL: "http://localhost:8081", ClientID: "test-client"})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), StreamConfig{Topic: "/test_topic"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestStream_RequiresTopic(t *testing.T) {
	client, err := NewClient(Config{ServerURL: "http://localhost:8081", ClientID: "test-client"})
	require.NoError(t, err)
	client.SetToken("test-token")

	_, err = client.Stream(context.Background(), StreamConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "topic is required")
}

func TestStreamConfig_Defaults(t *testing.T) {
	cfg := StreamConfig{}
	cfg.SetDefaults()
	assert.Equal(t, 100, cfg.BufferSize)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
}
