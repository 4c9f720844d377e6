// Package worker serves the vocguru HTTP API: feedback intake, feature
// administration, health and metrics.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thebtf/vocguru/internal/collector"
	"github.com/thebtf/vocguru/internal/db/gorm"
	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/internal/worker/sse"
	"github.com/thebtf/vocguru/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout bounds API requests. The event stream is exempt.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps request bodies; call transcripts are the largest.
	DefaultMaxBodyBytes = 4 << 20

	// DefaultReprocessCooldown is the minimum gap between manual reprocess runs.
	DefaultReprocessCooldown = 10 * time.Second
)

// Store is the persistence the API reads and edits directly.
type Store interface {
	ListFeatures(ctx context.Context, filter models.FeatureFilter) ([]*models.Feature, int64, error)
	GetFeatureDetail(ctx context.Context, id uuid.UUID) (*models.FeatureDetail, error)
	PatchFeature(ctx context.Context, id uuid.UUID, patch models.FeaturePatch) (*models.Feature, error)
	GetFeedback(ctx context.Context, id uuid.UUID) (*models.FeedbackItem, error)
	ListFeedback(ctx context.Context, filter gorm.FeedbackFilter) ([]*models.FeedbackItem, int64, error)
	UpsertCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	FeatureIDsForCustomer(ctx context.Context, customerID uuid.UUID) ([]uuid.UUID, error)
	Counts(ctx context.Context) (*gorm.Counts, error)
	HealthCheck(ctx context.Context) *gorm.HealthInfo
}

// Pipeline is the synthesis engine as seen by the API.
type Pipeline interface {
	Merge(ctx context.Context, sourceID, targetID uuid.UUID) (*models.Feature, error)
	Recalculate(ctx context.Context, featureID uuid.UUID) (*models.Feature, error)
	SimilarFeatures(ctx context.Context, featureID uuid.UUID, maxDistance float64) ([]models.SimilarFeature, error)
	Reprocess(ctx context.Context, limit int) (synthesis.ReprocessResult, error)
	OnDecision(fn func(synthesis.Decision))
	Config() synthesis.Config
	Stats() synthesis.Stats
}

// Collector captures raw deliveries.
type Collector interface {
	Capture(ctx context.Context, source string, data map[string]any) (*models.FeedbackItem, bool, error)
}

// QueueStatter reports background queue state.
type QueueStatter interface {
	Stats() collector.QueueStats
}

// StatsProvider reports free-form component statistics.
type StatsProvider interface {
	Stats() map[string]any
}

// Deps are the components attached once initialization finishes.
// Queue and Maintenance may be nil.
type Deps struct {
	Store       Store
	Pipeline    Pipeline
	Collector   Collector
	Queue       QueueStatter
	Maintenance StatsProvider
}

// Options configures the HTTP surface.
type Options struct {
	Version           string
	Port              int
	APIToken          string
	MaxBodyBytes      int64
	RateLimit         float64
	RateBurst         int
	ReprocessCooldown time.Duration
}

// Service is the HTTP API. It starts serving /health immediately; API
// routes answer 503 until Attach supplies the database-backed components.
type Service struct {
	startTime time.Time
	initError error
	deps      Deps
	logger    zerolog.Logger
	router    *chi.Mux
	server    *http.Server
	sse       *sse.Broadcaster
	metrics   *metrics
	auth      *TokenAuth
	limiter   *PerClientRateLimiter
	bulk      *BulkOperationLimiter
	opts      Options
	wg        sync.WaitGroup
	initMu    sync.RWMutex
	ready     atomic.Bool
}

// NewService creates the service with its routes. Nothing is served until Start.
func NewService(opts Options, logger zerolog.Logger) *Service {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.ReprocessCooldown <= 0 {
		opts.ReprocessCooldown = DefaultReprocessCooldown
	}

	s := &Service{
		opts:      opts,
		logger:    logger.With().Str("component", "http").Logger(),
		router:    chi.NewRouter(),
		sse:       sse.NewBroadcaster(logger),
		metrics:   newMetrics(),
		auth:      NewTokenAuth(opts.APIToken),
		limiter:   NewPerClientRateLimiter(opts.RateLimit, opts.RateBurst),
		bulk:      NewBulkOperationLimiter(int64(opts.ReprocessCooldown / time.Second)),
		startTime: time.Now(),
	}
	s.registerGauges()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Attach installs the initialized components and marks the service ready.
func (s *Service) Attach(deps Deps) {
	s.initMu.Lock()
	s.deps = deps
	s.initError = nil
	s.initMu.Unlock()

	if deps.Pipeline != nil {
		deps.Pipeline.OnDecision(s.publishDecision)
	}
	s.ready.Store(true)
	s.logger.Info().Msg("Service ready")
}

// SetInitError records a failed initialization; /api/ready reports it.
func (s *Service) SetInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	s.logger.Error().Err(err).Msg("Initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

func (s *Service) components() Deps {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.deps
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

func (s *Service) registerGauges() {
	queue := func(pick func(collector.QueueStats) int64) func() float64 {
		return func() float64 {
			q := s.components().Queue
			if q == nil {
				return 0
			}
			return float64(pick(q.Stats()))
		}
	}
	s.metrics.gauge("queue_depth", "Feedback items waiting for synthesis",
		queue(func(st collector.QueueStats) int64 { return int64(st.Depth) }))
	s.metrics.gauge("queue_capacity", "Synthesis queue capacity",
		queue(func(st collector.QueueStats) int64 { return int64(st.Capacity) }))
	s.metrics.counter("queue_processed_total", "Queue items handled successfully",
		queue(func(st collector.QueueStats) int64 { return st.Processed }))
	s.metrics.counter("queue_failed_total", "Queue items whose handler failed",
		queue(func(st collector.QueueStats) int64 { return st.Failed }))
	s.metrics.counter("queue_dropped_total", "Items not queued because the queue was full",
		queue(func(st collector.QueueStats) int64 { return st.Dropped }))

	pipeline := func(pick func(synthesis.Stats) int64) func() float64 {
		return func() float64 {
			p := s.components().Pipeline
			if p == nil {
				return 0
			}
			return float64(pick(p.Stats()))
		}
	}
	s.metrics.counter("synthesis_created_total", "Feedback that created a new feature",
		pipeline(func(st synthesis.Stats) int64 { return st.Created }))
	s.metrics.counter("synthesis_merged_total", "Feedback folded into an existing feature",
		pipeline(func(st synthesis.Stats) int64 { return st.Merged }))
	s.metrics.counter("synthesis_skipped_total", "Synthesize calls on already processed feedback",
		pipeline(func(st synthesis.Stats) int64 { return st.Skipped }))
	s.metrics.counter("synthesis_degraded_total", "Decisions made on a fallback extraction",
		pipeline(func(st synthesis.Stats) int64 { return st.Degraded }))
	s.metrics.counter("synthesis_failed_total", "Synthesize calls that returned an error",
		pipeline(func(st synthesis.Stats) int64 { return st.Failed }))
	s.metrics.counter("manual_merges_total", "Manual feature merges",
		pipeline(func(st synthesis.Stats) int64 { return st.Merges }))

	s.metrics.gauge("sse_clients", "Connected event stream clients", func() float64 {
		return float64(s.sse.ClientCount())
	})
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	exempt := map[string]bool{"/health": true, "/api/health": true, "/api/ready": true, "/metrics": true}

	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metrics.instrument)
	s.router.Use(SecurityHeaders)
	s.router.Use(s.auth.Middleware)
	s.router.Use(PerClientRateLimitMiddleware(s.limiter, exempt))
	s.router.Use(MaxBodySize(s.opts.MaxBodyBytes))
	s.router.Use(RequireJSONContentType)
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health answers immediately, even while the database is migrating.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Handle("/metrics", s.metrics.handler())

	// Long-lived; must stay outside the request timeout.
	s.router.Get("/api/events", s.sse.HandleSSE)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.Timeout(DefaultHTTPTimeout))

		r.Get("/api/stats", s.handleStats)

		r.Route("/api/features", func(r chi.Router) {
			r.Get("/", s.handleListFeatures)
			r.Post("/merge", s.handleMergeFeatures)
			r.Post("/reprocess", s.handleReprocess)
			r.Get("/{id}", s.handleGetFeature)
			r.Patch("/{id}", s.handlePatchFeature)
			r.Get("/{id}/similar", s.handleSimilarFeatures)
			r.Post("/{id}/recalculate", s.handleRecalculateFeature)
		})

		r.Route("/api/feedback", func(r chi.Router) {
			r.Get("/", s.handleListFeedback)
			r.Post("/", s.handleCreateFeedback)
			r.Get("/{id}", s.handleGetFeedback)
		})
		r.Post("/api/webhooks/{source}", s.handleWebhook)

		r.Post("/api/customers", s.handleUpsertCustomer)
		r.Get("/api/customers/{email}", s.handleGetCustomer)
	})
}

// requestLogger logs each request at debug level, and failures at warn.
func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		ev := s.logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("request_id", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// requireReady returns 503 until Attach has run.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			if err := s.GetInitError(); err != nil {
				writeJSONStatus(w, http.StatusServiceUnavailable, errorResponse{Error: "initialization failed: " + err.Error()})
				return
			}
			writeJSONStatus(w, http.StatusServiceUnavailable, errorResponse{Error: "service initializing"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// publishDecision forwards committed synthesis decisions to the event stream.
func (s *Service) publishDecision(d synthesis.Decision) {
	if d.Skipped {
		return
	}
	kind := "feedback_merged"
	if d.Created {
		kind = "feature_created"
	}
	s.sse.Broadcast(sse.Event{Type: kind, Data: d})
}

// Start listens on the configured port in the background.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Int("port", s.opts.Port).
		Str("version", s.opts.Version).
		Bool("auth", s.auth.IsEnabled()).
		Msg("HTTP server started")
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.sse.CloseAll()
	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	s.wg.Wait()
	s.logger.Info().Msg("HTTP server stopped")
	return err
}
