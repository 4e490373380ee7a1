// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tender-ingest/internal/config"
	"github.com/tender-ingest/internal/logging"
	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/realtime"
	"github.com/tender-ingest/internal/storage"
)

// Service interfaces for dependency injection and testing

// JobService defines the interface for job orchestration operations
type JobService interface {
	Start(ctx context.Context, tenantID, userID string, opts models.JobOptions) (string, error)
	GetStatus(jobID string) (*models.Job, error)
	List(tenantID string) []*models.Job
	Cancel(jobID string) bool
}

// ScheduleService defines the interface for recurring job operations
type ScheduleService interface {
	Schedule(ctx context.Context, tenantID, userID string, intervalHours int, opts models.JobOptions) (*models.ScheduledJob, error)
	Cancel(ctx context.Context, id string) error
	Update(ctx context.Context, id string, intervalHours int, opts models.JobOptions) (*models.ScheduledJob, error)
	ExecuteNow(ctx context.Context, id string) (string, error)
	ListActive(ctx context.Context, tenantID string) ([]*models.ScheduledJob, error)
}

// MetricsProvider defines the interface for runtime metrics queries
type MetricsProvider interface {
	SystemSnapshot() models.SystemSnapshot
	Active() []*models.JobMetrics
	Get(jobID string) *models.JobMetrics
}

// JobLogReader defines the interface for historical run queries
type JobLogReader interface {
	RecentRuns(ctx context.Context, tenantID string, limit int) ([]*models.JobRunEntry, error)
	RunStats(ctx context.Context, tenantID string, since time.Time) (map[string]uint64, error)
}

// TenderReader defines the interface for stored tender queries
type TenderReader interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.CanonicalTenderRecord, error)
	List(ctx context.Context, tenantID string, filter storage.TenderFilter) ([]*models.CanonicalTenderRecord, error)
	Count(ctx context.Context, tenantID string) (int64, error)
}

// Server represents the HTTP API server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	jobService      JobService
	scheduleService ScheduleService
	metrics         MetricsProvider
	jobLog          JobLogReader
	tenders         TenderReader
	hub             *realtime.Hub
	config          *ServerConfig
	logger          *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimit       config.RateLimitConfig
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	jobService JobService,
	scheduleService ScheduleService,
	metrics MetricsProvider,
	jobLog JobLogReader,
	tenders TenderReader,
	hub *realtime.Hub,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		jobService:      jobService,
		scheduleService: scheduleService,
		metrics:         metrics,
		jobLog:          jobLog,
		tenders:         tenders,
		hub:             hub,
		config:          config,
		logger:          logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimit)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter)) // Rate limiting after CORS

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", s.handleStartJob).Methods("POST")
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/runs", s.handleRecentRuns).Methods("GET")
	api.HandleFunc("/jobs/stats", s.handleRunStats).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/metrics", s.handleJobMetrics).Methods("GET")

	// Schedule endpoints
	api.HandleFunc("/schedules", s.handleCreateSchedule).Methods("POST")
	api.HandleFunc("/schedules", s.handleListSchedules).Methods("GET")
	api.HandleFunc("/schedules/{id}", s.handleUpdateSchedule).Methods("PUT")
	api.HandleFunc("/schedules/{id}", s.handleCancelSchedule).Methods("DELETE")
	api.HandleFunc("/schedules/{id}/run", s.handleRunScheduleNow).Methods("POST")

	// Metrics endpoints
	api.HandleFunc("/metrics/system", s.handleSystemMetrics).Methods("GET")
	api.HandleFunc("/metrics/active", s.handleActiveMetrics).Methods("GET")

	// Tender endpoints
	api.HandleFunc("/tenders", s.handleListTenders).Methods("GET")
	api.HandleFunc("/tenders/{id}", s.handleGetTender).Methods("GET")

	// Live progress stream (no rate limiting on the upgrade path)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "tender-ingest",
	})
}

// handleWebSocket upgrades the connection and attaches it to the
// caller's tenant stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		// Browsers cannot set custom headers on WebSocket dials, so the
		// tenant may arrive as a query parameter instead.
		tenant = r.URL.Query().Get("tenant")
	}
	if tenant == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "tenant is required", nil)
		return
	}
	s.hub.ServeWS(w, r, tenant)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
