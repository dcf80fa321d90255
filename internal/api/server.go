// Package api exposes the engine operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/jobs"
	"github.com/aceteam-ai/paygrid/internal/normalize"
	"github.com/aceteam-ai/paygrid/internal/query"
	"github.com/aceteam-ai/paygrid/internal/schedule"
)

// MaxUploadBytes caps a contract upload.
const MaxUploadBytes = 32 << 20

// Jobs is the job orchestrator surface.
type Jobs interface {
	CreateJob(ctx context.Context, req jobs.CreateRequest) (*schedule.ExtractionJob, error)
	GetJob(ctx context.Context, jobID string, limit int) (*jobs.View, error)
	ApplyJob(ctx context.Context, jobID string) (*jobs.ApplyResult, error)
	RejectJob(ctx context.Context, jobID string) error
}

// Normalizer is the normalization engine surface.
type Normalizer interface {
	GetNormalizationStatus(ctx context.Context, recent int) (*normalize.Status, error)
	StartNormalization(ctx context.Context) (*schedule.NormalizationJob, error)
}

// Queries is the read surface.
type Queries interface {
	GetDistrictSchedule(ctx context.Context, districtID, year, period string) ([]schedule.Cell, error)
	LookupDistrictValue(ctx context.Context, req query.LookupRequest) (*query.LookupResult, error)
	CompareAcrossDistricts(ctx context.Context, req query.CompareRequest) (*query.Comparison, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP adapter.
type Server struct {
	jobs       Jobs
	normalizer Normalizer
	queries    Queries
	health     Pinger
	log        *slog.Logger
	validate   *validator.Validate
	httpServer *http.Server
	router     chi.Router
}

// New creates a Server listening on addr once Start is called.
func New(addr string, j Jobs, n Normalizer, q Queries, health Pinger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		jobs:       j,
		normalizer: n,
		queries:    q,
		health:     health,
		log:        log,
		validate:   validator.New(),
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(tracing)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/districts/{district}/jobs", s.handleCreateJob)
		r.Get("/districts/{district}/schedule", s.handleSchedule)
		r.Get("/districts/{district}/lookup", s.handleLookup)

		r.Get("/jobs/{job}", s.handleGetJob)
		r.Post("/jobs/{job}/apply", s.handleApplyJob)
		r.Delete("/jobs/{job}", s.handleRejectJob)

		r.Get("/normalization", s.handleNormalizationStatus)
		r.Post("/normalization", s.handleStartNormalization)

		r.Get("/compare", s.handleCompare)
	})

	r.Get("/healthz", s.handleHealthz)
	return r
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// fail maps an engine error onto a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case apperr.CodeOf(err) == apperr.CodeExtractionFailure:
		status = http.StatusUnprocessableEntity
	}
	code := string(apperr.CodeOf(err))
	if code == "" {
		code = "internal"
	}
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeError(w, status, err.Error(), code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// tracing starts a server span per request, continuing a caller's trace
// when the request carries one.
func tracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("paygrid/api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
