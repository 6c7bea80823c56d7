package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/export"
	"github.com/brandtone/brandtone/internal/format"
	"github.com/brandtone/brandtone/internal/llm"
	"github.com/brandtone/brandtone/internal/logger"
	"github.com/brandtone/brandtone/internal/qa"
	"github.com/brandtone/brandtone/internal/store"
	"github.com/brandtone/brandtone/internal/tone"
	"github.com/brandtone/brandtone/internal/web"
	"github.com/brandtone/brandtone/internal/websocket"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the BrandTone HTTP service
type Server struct {
	totalRequests    int64
	totalConversions int64
	totalViolations  int64

	config    *config.Config
	logger    *logger.Logger
	registry  *tone.Registry
	converter *tone.Converter
	analyzer  *qa.Analyzer
	client    *llm.Client
	cache     *llm.ConversionCache
	store     *store.Store
	exporter  *export.Writer
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	limiter   *rateLimiter

	mu     sync.RWMutex
	engine *format.Engine

	startTime  time.Time
	stopStatus chan struct{}
}

// New creates a BrandTone server. The cache and history store are only
// constructed when enabled in the configuration, so the service runs
// without Redis or PostgreSQL in its default setup.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	engine, err := format.New(cfg.Engine, log.WithComponent("format"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rule engine: %w", err)
	}

	registry := tone.NewRegistry(cfg.Tones, log.WithComponent("tone"))

	client, err := llm.New(cfg.Upstream, log.WithComponent("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	converter := tone.NewConverter(registry, client, log.WithComponent("tone"))

	var analyzer *qa.Analyzer
	if cfg.QA.Enabled {
		generator := client
		if cfg.QA.Model != "" {
			generator = client.WithModel(cfg.QA.Model)
		}
		analyzer = qa.New(cfg.QA, generator, log.WithComponent("qa"))
	}

	var conversionCache *llm.ConversionCache
	if cfg.Cache.Enabled {
		conversionCache, err = llm.NewConversionCache(cfg.Cache, log.WithComponent("cache"))
		if err != nil {
			return nil, fmt.Errorf("failed to create conversion cache: %w", err)
		}
	}

	var history *store.Store
	if cfg.Store.Enabled {
		history, err = store.New(cfg.Store, log.WithComponent("store"))
		if err != nil {
			return nil, fmt.Errorf("failed to create conversion store: %w", err)
		}
	}

	server := &Server{
		config:     cfg,
		logger:     log.WithComponent("server"),
		engine:     engine,
		registry:   registry,
		converter:  converter,
		analyzer:   analyzer,
		client:     client,
		cache:      conversionCache,
		store:      history,
		exporter:   export.NewWriter(cfg.Export, log.WithComponent("export")),
		router:     mux.NewRouter(),
		wsHub:      websocket.NewHub(cfg.WebSocket, log),
		limiter:    newRateLimiter(cfg.Server.RateLimit.RequestsPerMinute),
		startTime:  time.Now(),
		stopStatus: make(chan struct{}),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Dashboard
	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	// WebSocket endpoint for the dashboard
	if s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.handleWebSocket).Methods("GET")
	}

	// API endpoints
	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/convert", s.handleConvert).Methods("POST")
	api.HandleFunc("/lint", s.handleLint).Methods("POST")
	api.HandleFunc("/fix", s.handleFix).Methods("POST")
	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules", s.handleAddRule).Methods("POST")
	api.HandleFunc("/rules/{name}", s.handleRemoveRule).Methods("DELETE")
	api.HandleFunc("/tones", s.handleListTones).Methods("GET")
	api.HandleFunc("/tones", s.handleAddTone).Methods("POST")
	api.HandleFunc("/tones/{name}", s.handleGetTone).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/export", s.handleExport).Methods("POST")
	api.HandleFunc("/cache", s.handleClearCache).Methods("DELETE")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting BrandTone server",
		zap.Int("port", s.config.Server.Port),
		zap.String("upstream", s.config.Upstream.BaseURL),
		zap.String("model", s.client.Model()),
		zap.Bool("qa_enabled", s.analyzer != nil),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("store_enabled", s.store != nil),
	)

	go s.wsHub.Run()
	go s.broadcastStatus()

	if s.config.Server.RateLimit.Enabled {
		s.limiter.startCleanup(s.config.Server.RateLimit.CleanupInterval)
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and closes backing connections
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping BrandTone server")

	close(s.stopStatus)
	s.limiter.stopCleanup()

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Failed to close conversion cache", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close conversion store", zap.Error(err))
		}
	}

	return s.server.Shutdown(ctx)
}

// Engine returns the active rule engine
func (s *Server) Engine() *format.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// ReloadEngine rebuilds the rule engine from updated configuration. Rules
// added over the API do not survive a reload.
func (s *Server) ReloadEngine(cfg config.EngineConfig) error {
	engine, err := format.New(cfg, s.logger.WithComponent("format"))
	if err != nil {
		return fmt.Errorf("failed to rebuild rule engine: %w", err)
	}

	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()

	s.logger.Info("Rule engine reloaded", zap.Int("rules", len(engine.Rules())))
	return nil
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name":"brandtone",
		"version":"0.1.0",
		"default_tone":"%s",
		"rules_count":%d,
		"tones_count":%d,
		"qa_enabled":%t,
		"cache_enabled":%t,
		"store_enabled":%t
	}`, s.config.Tones.Default, len(s.Engine().Rules()), len(s.registry.Names()),
		s.analyzer != nil, s.cache != nil, s.store != nil)
}

// handleWebSocket handles WebSocket connections for the dashboard
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// broadcastStatus periodically pushes a system status event to the dashboard
func (s *Server) broadcastStatus() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopStatus:
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			hubStats := s.wsHub.GetStats()
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data: websocket.SystemStatusEvent{
					Status:           "healthy",
					Uptime:           time.Since(s.startTime).Round(time.Second).String(),
					TotalRequests:    atomic.LoadInt64(&s.totalRequests),
					TotalConversions: atomic.LoadInt64(&s.totalConversions),
					TotalViolations:  atomic.LoadInt64(&s.totalViolations),
					ActiveRules:      len(s.Engine().Rules()),
					ConnectedClients: int(hubStats.ActiveConnections),
					MemoryUsage:      fmt.Sprintf("%.1f MB", float64(m.Alloc)/1024/1024),
				},
			})
		}
	}
}
