package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BjarkeHJ/rosbus/internal/broker"
)

// Server represents the HTTP API server
type Server struct {
	bus        *broker.Broker
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *slog.Logger
}

// Config holds server configuration
type Config struct {
	Port      string
	SecretKey string
	// NoAuth bypasses authentication on non-admin endpoints for development
	NoAuth bool
}

// NewServer creates a new HTTP API server. The peer source may be nil when
// no bridge is running.
func NewServer(bus *broker.Broker, peers PeerSource, config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	secretKey := config.SecretKey
	if secretKey == "" {
		secretKey = "rosbus-dev-secret-key-change-in-production"
	}

	jwtAuth := NewJWTAuth(secretKey)
	handlers := NewHandlers(bus, peers, jwtAuth, logger)
	middleware := NewMiddleware(jwtAuth, logger, config.NoAuth)

	server := &Server{
		bus:        bus,
		jwtAuth:    jwtAuth,
		handlers:   handlers,
		middleware: middleware,
		logger:     logger,
	}

	mux := server.setupRoutes()
	server.server = &http.Server{
		Addr:           ":" + config.Port,
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // SSE streams must be able to outlive any write deadline
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return server
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("http api listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Message endpoints (auth required)
	mux.Handle("/api/v1/messages", withMiddleware(s.middleware.AuthRequired(s.handleMessages)))
	mux.Handle("/api/v1/messages/stream", withMiddleware(s.middleware.AuthRequired(s.handlers.StreamMessages)))

	// Topic endpoints (auth required)
	mux.Handle("/api/v1/topics", withMiddleware(s.middleware.AuthRequired(s.handlers.ListTopics)))
	mux.Handle("/api/v1/topics/", withMiddleware(s.middleware.AuthRequired(s.handleTopicMessages)))

	// Admin endpoints (admin auth required, never bypassed)
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.GetStats)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleMessages routes message requests based on HTTP method
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlers.PublishMessage(w, r)
	default:
		s.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTopicMessages handles GET /api/v1/topics/{topic}/messages.
// Topics are slash-rooted, so the path looks like
// /api/v1/topics/test_topic/messages for topic "/test_topic".
func (s *Server) handleTopicMessages(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if !strings.HasPrefix(path, "/api/v1/topics/") {
		s.writeError(w, "Invalid topic path", http.StatusNotFound)
		return
	}

	rest := strings.TrimPrefix(path, "/api/v1/topics/")
	if rest == "" {
		s.writeError(w, "Topic name required", http.StatusBadRequest)
		return
	}
	if !strings.HasSuffix(rest, "/messages") {
		s.writeError(w, "Invalid path, expected /messages", http.StatusNotFound)
		return
	}

	topic := strings.TrimSuffix(rest, "/messages")
	if topic == "" {
		s.writeError(w, "Topic name required", http.StatusBadRequest)
		return
	}
	// Restore the leading slash stripped by the URL structure.
	topic = "/" + topic

	switch r.Method {
	case http.MethodGet:
		ctx := context.WithValue(r.Context(), TopicKey, topic)
		s.handlers.ReadTopicMessages(w, r.WithContext(ctx))
	default:
		s.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "rosbus HTTP API",
		"version":     "1.0.0",
		"description": "RESTful HTTP API for the rosbus message bus",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"messages": map[string]string{
				"publish": "POST /api/v1/messages",
				"stream":  "GET /api/v1/messages/stream?topic={topic}",
			},
			"topics": map[string]string{
				"list":         "GET /api/v1/topics",
				"readMessages": "GET /api/v1/topics/{topic}/messages?offset={offset}&limit={limit}",
			},
			"admin": map[string]string{
				"stats": "GET /api/v1/admin/stats",
			},
			"health": "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	s.writeJSON(w, info, http.StatusOK)
}

// writeError writes an error response as JSON
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}
	s.writeJSON(w, errorResp, statusCode)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
