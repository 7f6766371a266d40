// Package api provides the HTTP API server for leasevault.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wesm/leasevault/internal/config"
	"github.com/wesm/leasevault/internal/documents"
	"github.com/wesm/leasevault/internal/query"
	"github.com/wesm/leasevault/internal/scheduler"
	"github.com/wesm/leasevault/internal/store"
)

// RecordStore defines the repository operations the API needs.
type RecordStore interface {
	GetAllRecords(ctx context.Context) ([]store.Record, error)
	GetRecord(ctx context.Context, propertyID string) (*store.Record, error)
	AddProperty(ctx context.Context, p store.Property) error
	DeleteProperty(ctx context.Context, propertyID string) (bool, error)
	UpsertTenant(ctx context.Context, in store.TenantInput) (store.WriteKind, error)
	AddLandlord(ctx context.Context, id string) (bool, error)
	ListLandlords(ctx context.Context) ([]string, error)
}

// DocumentService defines the document cache operations the API needs.
type DocumentService interface {
	ListDocuments(ctx context.Context, recipient string, attachmentsOnly bool) ([]store.Document, error)
	Refresh(ctx context.Context, recipient string) (*documents.RefreshSummary, error)
}

// RefreshScheduler defines the scheduler operations the API needs.
type RefreshScheduler interface {
	Trigger(target string) error
	Status() []scheduler.JobStatus
	IsRunning() bool
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	records     RecordStore
	docs        DocumentService
	engine      query.Engine
	scheduler   RefreshScheduler // nil when scheduled refresh is disabled
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. sched may be nil.
func NewServer(cfg *config.Config, records RecordStore, docs DocumentService, engine query.Engine, sched RefreshScheduler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		records:   records,
		docs:      docs,
		engine:    engine,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	s.server = &http.Server{
		Addr:         s.addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // document refresh waits on the mail source
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) addr() string {
	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	return net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(CORSMiddleware(CORSConfig{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         86400,
	}))

	qps := s.cfg.Server.RateLimitQPS
	if qps <= 0 {
		qps = 10
	}
	s.rateLimiter = NewRateLimiter(qps, int(2*qps))
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/records", s.handleListRecords)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Put("/records/{id}/tenant", s.handleSetTenant)

		r.Post("/properties", s.handleAddProperty)
		r.Delete("/properties/{id}", s.handleDeleteProperty)

		r.Get("/landlords", s.handleListLandlords)
		r.Post("/landlords", s.handleAddLandlord)

		r.Get("/documents/{email}", s.handleListDocuments)
		r.Post("/documents/{email}/refresh", s.handleRefreshDocuments)

		r.Get("/stats", s.handleStats)
		r.Get("/stats/landlords", s.handlePropertiesByLandlord)
		r.Get("/stats/occupancy", s.handleOccupancy)

		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/scheduler/trigger", s.handleTriggerRefresh)
	})

	return r
}

// Start begins listening for HTTP requests and blocks until the server
// stops. Returns an error if the security posture is invalid, and
// http.ErrServerClosed after Shutdown, even one that came first.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}
	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key from the Authorization (optionally
// Bearer) or X-API-Key header. Auth is off when no key is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
