package httpapi

import (
	"testing"

	"github.com/BjarkeHJ/rosbus/internal/broker"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Bus    *broker.Broker
	Server *Server
	Auth   *JWTAuth
}

// NewTestServerSetup creates a common test setup with a bus and HTTP server
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()

	bus := broker.New(broker.Config{}, nil)

	server := NewServer(bus, nil, Config{
		Port:      "0",
		SecretKey: "test-secret-key",
	}, nil)
	if server == nil {
		t.Fatal("Expected server to be created, got nil")
	}

	t.Cleanup(func() { bus.Close() })

	return &TestServerSetup{
		Bus:    bus,
		Server: server,
		Auth:   server.jwtAuth,
	}
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}
