package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/history"
	"github.com/raaihank/promptguard/internal/intercept"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/web"
	"github.com/raaihank/promptguard/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
var Version = "0.1.0"

// History is the part of the event history the dashboard API uses
type History interface {
	Stats(ctx context.Context) (*history.Stats, error)
	SetEnabled(ctx context.Context, enabled bool) error
	Clear(ctx context.Context) error
}

// Deps are the collaborators the server exposes over HTTP. Hub and
// History may be nil.
type Deps struct {
	Coordinator *intercept.Coordinator
	Engine      *detect.Engine
	Hub         *websocket.Hub
	History     History
}

// Server inspects chat API traffic on its way upstream and serves the
// dashboard
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	deps      Deps
	router    *mux.Router
	server    *http.Server
	upstreams map[string]*upstream
	transport *http.Transport
	limiter   *rateLimiter

	// inspecting is the dashboard's on/off switch for request inspection
	inspecting atomic.Bool
}

// New creates a new proxy server instance
func New(cfg *config.Config, deps Deps, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if deps.Engine == nil {
		deps.Engine = detect.Default()
	}
	if deps.Coordinator == nil {
		return nil, errors.New("proxy requires an interception coordinator")
	}

	s := &Server{
		config: cfg,
		logger: log.WithComponent("proxy"),
		deps:   deps,
		router: mux.NewRouter(),
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Upstream.Timeout,
		},
		upstreams: make(map[string]*upstream),
	}
	s.inspecting.Store(cfg.Channels.Enabled)

	for provider, raw := range map[string]string{
		"openai":    cfg.Upstream.OpenAI,
		"anthropic": cfg.Upstream.Anthropic,
		"ollama":    cfg.Upstream.Ollama,
	} {
		if raw == "" {
			continue
		}
		target, err := url.Parse(raw)
		if err != nil || target.Host == "" {
			return nil, fmt.Errorf("invalid %s upstream %q", provider, raw)
		}
		s.upstreams[provider] = s.newUpstream(provider, target)
	}

	if cfg.Server.RateLimit.Enabled {
		limiter, err := newRateLimiter(cfg.Server.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		s.limiter = limiter
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	var token string
	if s.deps.Hub != nil {
		token = s.deps.Hub.Token()
	}
	dashboard := web.Dashboard(token)
	s.router.HandleFunc("/", dashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", dashboard).Methods("GET")

	if s.deps.Hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.deps.Hub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/history", s.handleClearHistory).Methods("DELETE")
	api.HandleFunc("/enabled", s.handleSetEnabled).Methods("PUT")

	for _, provider := range []string{"openai", "ollama", "anthropic"} {
		up, ok := s.upstreams[provider]
		if !ok {
			continue
		}
		sub := s.router.PathPrefix("/" + provider).Subrouter()
		sub.Use(s.loggingMiddleware)
		sub.Use(s.rateLimitMiddleware)
		sub.Use(s.inspectionMiddleware)
		sub.PathPrefix("/").Handler(up)
	}
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	fields := []zap.Field{zap.Int("port", s.config.Server.Port)}
	for provider, up := range s.upstreams {
		fields = append(fields, zap.String("upstream_"+provider, up.target.String()))
	}
	s.logger.Info("Starting promptguard proxy server", fields...)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping promptguard proxy server")
	defer s.transport.CloseIdleConnections()
	return s.server.Shutdown(ctx)
}

// Inspecting reports whether proxied requests are scanned
func (s *Server) Inspecting() bool {
	return s.inspecting.Load()
}

// SetInspecting switches request inspection on or off
func (s *Server) SetInspecting(on bool) {
	if s.inspecting.Swap(on) != on {
		s.logger.Info("Request inspection toggled", zap.Bool("inspecting", on))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	providers := make([]string, 0, len(s.upstreams))
	for _, p := range []string{"openai", "ollama", "anthropic"} {
		if _, ok := s.upstreams[p]; ok {
			providers = append(providers, p)
		}
	}
	clients := 0
	if s.deps.Hub != nil {
		clients = s.deps.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "promptguard",
		"version":    Version,
		"inspecting": s.Inspecting(),
		"detectors":  s.deps.Engine.Rules(),
		"upstreams":  providers,
		"clients":    clients,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
