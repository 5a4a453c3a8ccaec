package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"agent-desk-sandbox/internal/config"
	"agent-desk-sandbox/internal/monitor"
	"agent-desk-sandbox/internal/sandbox"
)

// Server is the HTTP front-end over the execution subsystem.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and
// middleware.
func NewServer(ctx context.Context, cfg *config.Config, engine sandbox.Engine, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(ctx, engine, cfg, metrics)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, authentication is disabled")
	}

	// Execution API, wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /execute", handlers.HandleExecute)
	apiMux.HandleFunc("POST /ui/start", handlers.HandleUIStart)
	apiMux.HandleFunc("POST /ui/act", handlers.HandleUIAct)
	apiMux.HandleFunc("POST /ui/python", handlers.HandleUIPython)
	apiMux.HandleFunc("GET /ui/screenshot", handlers.HandleUIScreenshot)
	apiMux.HandleFunc("GET /ui/state", handlers.HandleUIState)
	apiMux.HandleFunc("POST /ui/stop", handlers.HandleUIStop)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys)(apiMux)

	// Top-level mux: health and metrics bypass auth.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Middleware chain, outermost first.
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled, running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server and tears down the desktop container.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	if err := s.handlers.StopUI(ctx); err != nil {
		log.Error().Err(err).Msg("desktop container teardown failed during shutdown")
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uiRunning, displayReady := s.handlers.UIStatus()

	resp := HealthResponse{
		Status:       "ok",
		Engine:       true, // connection was verified at startup
		UIRunning:    uiRunning,
		DisplayReady: displayReady,
		Languages:    s.handlers.Languages(),
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
	}

	writeJSON(w, http.StatusOK, resp)
}
