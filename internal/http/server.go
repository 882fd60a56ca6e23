package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/auth"
	"go-helpdesk-insights-ui/internal/config"
	"go-helpdesk-insights-ui/internal/connectors/amqp"
	"go-helpdesk-insights-ui/internal/connectors/archive"
	"go-helpdesk-insights-ui/internal/connectors/statedb"
	"go-helpdesk-insights-ui/internal/dashboard"
	"go-helpdesk-insights-ui/internal/etl"
	"go-helpdesk-insights-ui/internal/insights"
)

// SyncRunner runs one archive sync.
type SyncRunner interface {
	Run(ctx context.Context, p etl.Params) (etl.Stats, error)
}

// ArchiveReader reads archived tickets.
type ArchiveReader interface {
	Search(ctx context.Context, q archive.Query) ([]insights.ArchiveTicket, error)
	Count(ctx context.Context, q archive.Query) (int64, error)
	ServiceStats(ctx context.Context) (*archive.ServiceStats, error)
}

// Deps are the optional integrations the routes serve from. A nil field
// disables the routes that need it.
type Deps struct {
	Logger    *zap.Logger
	Service   *dashboard.Service
	Monitor   *dashboard.LimboMonitor
	Auth      *auth.Gate
	Syncer    SyncRunner
	Archive   ArchiveReader
	State     *statedb.Store
	Publisher *amqp.Publisher
	Redis     redis.UniversalClient
	// Closers run on shutdown after the HTTP server stops.
	Closers []func() error
}

// Server wraps an HTTP server and route handlers.
type Server struct {
	httpServer    *nethttp.Server
	deps          Deps
	limboInterval time.Duration
	limboEnabled  bool
	limboCancel   context.CancelFunc
}

// NewServer creates a configured HTTP server with v1 endpoints.
func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewGate(cfg.AppPassword, cfg.AppPasswordBcrypt, cfg.SessionTTL)
	}
	loc := cfg.DisplayLocation()

	api := nethttp.NewServeMux()
	api.HandleFunc("/api/v1/metrics/app", appMetricsSummaryHandler())
	api.HandleFunc("/api/v1/limbo", limboHandler(deps.Service, deps.Monitor))
	api.HandleFunc("/api/v1/csat", csatHandler(deps.Service))
	api.HandleFunc("/api/v1/volume", volumeHandler(deps.Service))
	api.HandleFunc("/api/v1/away", awayHandler(deps.Service))
	api.HandleFunc("/api/v1/attributes", attributesHandler(deps.Service))
	api.HandleFunc("/api/v1/attributes/export", attributesExportHandler(deps.Service, deps.Logger))
	api.HandleFunc("/api/v1/analyst", analystHandler(deps.Service))
	api.HandleFunc("/api/v1/monitor", monitorHandler(deps.Service))
	api.HandleFunc("/api/v1/admins", adminsHandler(deps.Service))
	api.HandleFunc("/api/v1/conversations/", transcriptHandler(deps.Service))
	api.HandleFunc("/api/v1/sync", syncHandler(deps.Syncer, loc, deps.Logger))
	api.HandleFunc("/api/v1/sync/runs", syncRunsHandler(cfg.DefaultLimit, deps.State))
	api.HandleFunc("/api/v1/archive/tickets", archiveTicketsHandler(cfg.DefaultLimit, deps.Archive, loc))
	api.HandleFunc("/api/v1/archive/stats", archiveStatsHandler(deps.Archive))
	api.HandleFunc("/api/v1/progress", progressHandler(deps.Service))
	api.HandleFunc("/api/v1/cache/clear", cacheClearHandler(deps.Service))
	api.HandleFunc("/api/v1/status/services", servicesStatusHandler(cfg, deps))
	api.HandleFunc("/api/v1/settings", settingsHandler(cfg))
	api.HandleFunc("/", dashboardHandler)

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/favicon.ico", faviconHandler)
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(deps))
	mux.HandleFunc("/login", loginHandler(deps.Auth, deps.Logger))
	mux.HandleFunc("/logout", logoutHandler(deps.Auth))
	mux.Handle("/", deps.Auth.Middleware(api))

	httpServer := &nethttp.Server{
		Addr:         cfg.ListenAddr,
		Handler:      loggingMiddleware(deps.Logger, observabilityMiddleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		httpServer:    httpServer,
		deps:          deps,
		limboInterval: cfg.LimboInterval,
		limboEnabled:  cfg.LimboEnabled && deps.Monitor != nil,
	}
}

// Handler exposes the routed handler chain.
func (s *Server) Handler() nethttp.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the limbo monitor and the HTTP server.
func (s *Server) ListenAndServe() error {
	if s.limboEnabled {
		ctx, cancel := context.WithCancel(context.Background())
		s.limboCancel = cancel
		go s.deps.Monitor.Run(ctx)
		s.deps.Logger.Info("limbo monitor started", zap.Duration("interval", s.limboInterval))
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limboCancel != nil {
		s.limboCancel()
	}
	err := s.httpServer.Shutdown(ctx)
	for _, closeFn := range s.deps.Closers {
		if cerr := closeFn(); cerr != nil {
			s.deps.Logger.Warn("close integration", zap.Error(cerr))
		}
	}
	return err
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// readyHandler reports ready once the helpdesk API is configured.
func readyHandler(deps Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		if deps.Service == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  intercomDisabled,
			})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"status":       "ready",
			"auth_enabled": deps.Auth.Configured(),
		})
	}
}

func loggingMiddleware(logger *zap.Logger, next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w nethttp.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
