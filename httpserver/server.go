package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/datasmith/databench/dataset"
	"github.com/datasmith/databench/gateway"
	"github.com/datasmith/databench/scanner"
	"github.com/datasmith/databench/workbench"
)

// Config carries the HTTP listener settings.
type Config struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// Server exposes the execution pipeline over HTTP.
type Server struct {
	server  *http.Server
	router  *chi.Mux
	gateway *gateway.Gateway
	logger  *zap.Logger
	limiter *rate.Limiter
	cfg     Config
}

// executeRequest is the wire shape of POST /v1/execute.
type executeRequest struct {
	Code       string           `json:"code"`
	Dataset    *dataset.Dataset `json:"dataset"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

// executeResponse is the wire shape of every terminal outcome.
type executeResponse struct {
	ID          string              `json:"execution_id"`
	Status      workbench.Status    `json:"status"`
	Dataset     *dataset.Dataset    `json:"dataset,omitempty"`
	Diagnostics string              `json:"diagnostics,omitempty"`
	Violations  []scanner.Violation `json:"violations,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds the server and its routes. The caller starts it with Start.
func New(logger *zap.Logger, gw *gateway.Gateway, cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		router:  r,
		gateway: gw,
		logger:  logger,
		cfg:     cfg,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS)
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}
		r.Post("/v1/execute", s.handleExecute)
	})
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server listening", zap.String("addr", s.server.Addr))

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	s.logger.Info("http server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}

	var req executeRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if req.Dataset != nil {
		if err := req.Dataset.Normalize(); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed dataset: %v", err))
			return
		}
	}
	params, err := normalizeParams(req.Parameters)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.gateway.Handle(r.Context(), gateway.Request{
		Code:    req.Code,
		Dataset: req.Dataset,
		Params:  params,
	})
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrBusy):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client gave up; nothing useful left to write.
		return
	default:
		s.logger.Error("execution pipeline failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, executeResponse{
		ID:          resp.ID,
		Status:      resp.Status,
		Dataset:     resp.Dataset,
		Diagnostics: resp.Diagnostics,
		Violations:  resp.Violations,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response write failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// normalizeParams coerces JSON parameter values to canonical scalar types.
func normalizeParams(raw map[string]any) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(raw))
	for key, value := range raw {
		cell, err := dataset.NormalizeCell(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		params[key] = cell
	}
	return params, nil
}
