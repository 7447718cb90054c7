// Package api exposes predictions over HTTP and streams new and reconciled
// predictions to websocket subscribers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"match-predictor/internal/ml"
	"match-predictor/internal/pipeline"
	"match-predictor/internal/prediction"
	"match-predictor/internal/provider"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Service is the prediction surface the API serves.
type Service interface {
	PredictForFixture(ctx context.Context, fixtureID string) (*prediction.Prediction, error)
	Reconcile(ctx context.Context, fixtureID, modelVersion string, actual prediction.Outcome) (*prediction.Prediction, error)
	ReconcileFromProvider(ctx context.Context, fixtureID, modelVersion string) (*prediction.Prediction, error)
	Accuracy(ctx context.Context) (prediction.Accuracy, error)
	UpcomingPredictions(ctx context.Context, days int) ([]pipeline.FixturePrediction, error)
	TeamStats(ctx context.Context, teamID int64) (pipeline.TeamStats, error)
	ModelInfo() pipeline.ModelInfo
	Version() string
}

// DefaultUpcomingDays is the window used when days is not given.
const DefaultUpcomingDays = 7

// MetricsInterface defines metrics methods needed by the API
type MetricsInterface interface {
	ObserveRequest(route string, code int)
}

type Config struct {
	Port int
	// RateLimit is the number of requests per second accepted across all clients.
	RateLimit int
}

// ReconcileRequest is the body of a result submission. Without an
// actual_outcome the final score is fetched from the data provider.
type ReconcileRequest struct {
	ActualOutcome string `json:"actual_outcome"`
	ModelVersion  string `json:"model_version"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	svc     Service
	hub     *Hub
	limiter *rate.Limiter
	metrics MetricsInterface
	server  *http.Server
	log     zerolog.Logger

	mu        sync.Mutex
	isRunning bool
}

// Option configures a Server.
type Option func(*Server)

func WithMetrics(m MetricsInterface) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.Router().Handle("/metrics", h).Methods(http.MethodGet)
	}
}

func NewServer(svc Service, hub *Hub, cfg Config, opts ...Option) *Server {
	s := &Server{
		svc: svc,
		hub: hub,
		log: log.With().Str("component", "api").Logger(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	r := mux.NewRouter()
	r.Use(s.instrument, s.rateLimit)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/predictions/{fixtureID}", s.handlePrediction).Methods(http.MethodGet)
	api.HandleFunc("/predictions/{fixtureID}/result", s.handleResult).Methods(http.MethodPost)
	api.HandleFunc("/fixtures/upcoming", s.handleUpcoming).Methods(http.MethodGet)
	api.HandleFunc("/teams/{teamID}/stats", s.handleTeamStats).Methods(http.MethodGet)
	api.HandleFunc("/model", s.handleModelInfo).Methods(http.MethodGet)
	api.HandleFunc("/accuracy", s.handleAccuracy).Methods(http.MethodGet)
	if hub != nil {
		r.Handle("/ws/predictions", hub).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the server's router.
func (s *Server) Router() *mux.Router {
	return s.server.Handler.(*mux.Router)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("api server is already running")
	}

	go func() {
		s.log.Info().Str("address", s.server.Addr).Msg("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("API server failed")
		}
	}()

	s.isRunning = true
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to shutdown API server")
		return err
	}
	s.isRunning = false
	s.log.Info().Msg("API server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"model_version": s.svc.Version(),
		"timestamp":     time.Now().UTC(),
	})
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	fixtureID := mux.Vars(r)["fixtureID"]

	p, err := s.svc.PredictForFixture(r.Context(), fixtureID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	fixtureID := mux.Vars(r)["fixtureID"]

	var req ReconcileRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	var (
		p   *prediction.Prediction
		err error
	)
	if req.ActualOutcome == "" {
		p, err = s.svc.ReconcileFromProvider(r.Context(), fixtureID, req.ModelVersion)
	} else {
		actual, perr := prediction.ParseOutcome(req.ActualOutcome)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: perr.Error()})
			return
		}
		p, err = s.svc.Reconcile(r.Context(), fixtureID, req.ModelVersion, actual)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	days := DefaultUpcomingDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > pipeline.MaxUpcomingDays {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: fmt.Sprintf("days must be an integer between 1 and %d", pipeline.MaxUpcomingDays),
			})
			return
		}
		days = n
	}

	out, err := s.svc.UpcomingPredictions(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":     days,
		"fixtures": out,
	})
}

func (s *Server) handleTeamStats(w http.ResponseWriter, r *http.Request) {
	teamID, err := strconv.ParseInt(mux.Vars(r)["teamID"], 10, 64)
	if err != nil || teamID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid team id"})
		return
	}

	stats, err := s.svc.TeamStats(r.Context(), teamID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ModelInfo())
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	acc, err := s.svc.Accuracy(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		upstream  *provider.UpstreamDataError
		inference *ml.InferenceError
	)
	switch {
	case errors.Is(err, prediction.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotFinished):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrListingUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.As(err, &inference):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	evt := s.log.Warn()
	if code >= http.StatusInternalServerError {
		evt = s.log.Error()
	}
	evt.Err(err).Str("path", r.URL.Path).Int("status", code).Msg("Request failed")
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
