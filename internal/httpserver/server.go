package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/cache"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/metrics"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	InboundWebhook http.Handler
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Repository repo.Repository
	Redis      *cache.Redis
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with health, metrics and
// admin endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		handlers: handlers,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/conversation-mode", server.handleConversationMode)
	mux.HandleFunc("/admin/reload-restaurant-cache", server.handleReloadRestaurantCache)

	if handlers.InboundWebhook != nil {
		mux.Handle("/webhook/inbound", handlers.InboundWebhook)
	}

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// SetDependencies makes dependencies accessible to handlers.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "ok"
	if s.deps.Repository != nil {
		if err := s.deps.Repository.Ping(r.Context()); err != nil {
			s.logger.Warn("health check db ping failed", "error", err)
			status = "degraded"
		}
	}
	writeJSON(w, map[string]string{"status": status})
}

// handleConversationMode lets an operator take over or release a
// conversation. Takeover flips the row to manual; release hands it back to
// the agent.
func (s *Server) handleConversationMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Repository == nil {
		http.Error(w, "repository unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		RestaurantID  string `json:"restaurant_id"`
		CustomerPhone string `json:"customer_phone"`
		Mode          string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.RestaurantID == "" || req.CustomerPhone == "" {
		http.Error(w, "restaurant_id and customer_phone are required", http.StatusBadRequest)
		return
	}
	if req.Mode != repo.ModeAI && req.Mode != repo.ModeManual {
		http.Error(w, "mode must be ai or manual", http.StatusBadRequest)
		return
	}

	if err := s.deps.Repository.SetConversationMode(r.Context(), req.RestaurantID, req.CustomerPhone, req.Mode); err != nil {
		s.logger.Error("failed setting conversation mode", "error", err, "phone", req.CustomerPhone)
		http.Error(w, "failed setting conversation mode", http.StatusInternalServerError)
		return
	}

	s.logger.Info("conversation mode changed", "restaurant_id", req.RestaurantID, "phone", req.CustomerPhone, "mode", req.Mode)
	writeJSON(w, map[string]string{"status": "ok", "mode": req.Mode})
}

func (s *Server) handleReloadRestaurantCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Redis == nil {
		http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
		return
	}

	restaurantID := r.URL.Query().Get("restaurant_id")
	if restaurantID == "" {
		http.Error(w, "restaurant_id is required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Redis.Delete(r.Context(), "restaurant:settings:"+restaurantID); err != nil {
		s.logger.Error("failed evicting restaurant cache", "error", err, "restaurant_id", restaurantID)
		http.Error(w, "failed evicting cache", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "ok", "restaurant_id": restaurantID})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
