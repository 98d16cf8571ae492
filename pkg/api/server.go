// wabridge - HTTP API server
// Serves the send endpoint, the WebSocket lifecycle feed, status/metrics
// endpoints and the static frontend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/session"
)

// Session is what the HTTP layer needs from the session service.
type Session interface {
	Send(ctx context.Context, number, message string) error
	Status() session.Status
}

// HealthChecker reports whether a backing resource is usable.
type HealthChecker interface {
	Health() error
}

// Server is the HTTP API server for the bridge.
type Server struct {
	config      *config.Config
	session     Session
	messageBus  *bus.MessageBus
	metrics     *metrics.Metrics
	wsHub       *WSHub
	eventBridge *EventBridge
	store       HealthChecker
	startTime   time.Time
	server      *http.Server
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.Config, sess Session, msgBus *bus.MessageBus, m *metrics.Metrics) *Server {
	s := &Server{
		config:     cfg,
		session:    sess,
		messageBus: msgBus,
		metrics:    m,
		startTime:  time.Now(),
	}
	s.wsHub = NewWSHub(s)
	s.eventBridge = NewEventBridge(msgBus, s.wsHub)
	return s
}

// SetStore attaches the session store to the health endpoint.
func (s *Server) SetStore(h HealthChecker) {
	s.store = h
}

// Handler builds the route table wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /send-message", s.handleSendMessage)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// WebSocket for live lifecycle events
	mux.HandleFunc("GET /socket", s.wsHub.HandleWebSocket)

	mux.Handle("/", http.FileServer(http.Dir(s.config.Server.PublicDir)))

	return corsMiddleware(s.config.Server.AllowedOrigins, mux)
}

// RunBackground starts the hub loop and the bus bridge. Both stop with ctx.
func (s *Server) RunBackground(ctx context.Context) {
	go s.wsHub.Run(ctx)
	s.eventBridge.Run(ctx)
}

// Start binds the configured host:port and serves in the background.
// Bind errors are returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.RunBackground(ctx)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	logger.InfoCF("api", "Server listening", map[string]interface{}{
		"url": "http://" + ln.Addr().String(),
	})
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case containsOrigin(allowed, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && containsOrigin(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func containsOrigin(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == origin || strings.EqualFold(strings.TrimSuffix(a, "/"), strings.TrimSuffix(origin, "/")) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	}
	code := http.StatusOK
	if s.store != nil {
		if err := s.store.Health(); err != nil {
			body["status"] = "degraded"
			body["store_error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
