package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/config"
	"github.com/JakeFAU/siteaudit-bridge/internal/metrics"
	"github.com/JakeFAU/siteaudit-bridge/internal/policy/ratelimit"
	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
	"github.com/JakeFAU/siteaudit-bridge/internal/store"
	"github.com/JakeFAU/siteaudit-bridge/internal/supervisor"
)

// IDGenerator allocates run ids.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Clock supplies timestamps for run records.
type Clock interface {
	Now() time.Time
}

// Server wires HTTP handlers to the worker supervisor and the run audit trail.
type Server struct {
	router     chi.Router
	supervisor supervisor.Supervisor
	emitter    progress.Emitter
	idGen      IDGenerator
	clock      Clock
	cfg        config.Config
	logger     *zap.Logger
	validate   *validator.Validate
	limiter    *ratelimit.Limiter
}

// NewServer constructs a Server with middleware and routes. emitter and runs
// may be nil, which disables the audit trail and the run query API.
func NewServer(
	sup supervisor.Supervisor,
	emitter progress.Emitter,
	runs store.RunRepository,
	idGen IDGenerator,
	clock Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		supervisor: sup,
		emitter:    emitter,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		validate:   newValidator(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Server.RateLimitRPS,
			Burst: cfg.Server.RateLimitBurst,
		}),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{runIDHeader, requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/health", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	runsHandler := NewRunsHandler(runs, logger)
	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.With(rateLimitMiddleware(s.limiter)).Post("/analyze", s.analyze)
		r.With(rateLimitMiddleware(s.limiter)).Post("/v1/analyze", s.analyze)
		r.Route("/api/runs", func(r chi.Router) {
			r.Get("/", runsHandler.ListRuns)
			r.Get("/{run_id}", runsHandler.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis worker not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
