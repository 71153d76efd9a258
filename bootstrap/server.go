package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"tdrf/detect"
	"tdrf/ingest"
	"tdrf/notify"
	"tdrf/util/goroutine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

// Server exposes metrics, health, engine statistics, recent alerts and event
// ingestion over HTTP.
type Server struct {
	metrics  bool
	detector *detect.Detector
	memory   *notify.MemorySink
	ingest   *ingest.HTTPHandler
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   *zap.SugaredLogger
	done     chan struct{}
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithoutMetrics leaves /metrics unmounted.
func WithoutMetrics() ServerOption {
	return func(s *Server) { s.metrics = false }
}

// NewServer builds the router. memory and ingestHandler may be nil, which
// disables the alert and ingestion routes.
func NewServer(addr string, detector *detect.Detector, memory *notify.MemorySink, ingestHandler *ingest.HTTPHandler, logger *zap.SugaredLogger, opts ...ServerOption) *Server {
	s := &Server{
		metrics:  true,
		detector: detector,
		memory:   memory,
		ingest:   ingestHandler,
		router:   mux.NewRouter(),
		logger:   logger,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	if s.metrics {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.handleRules).Methods(http.MethodGet)
	if s.memory != nil {
		api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
		api.HandleFunc("/alerts/stats", s.handleAlertStats).Methods(http.MethodGet)
		api.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)
		api.HandleFunc("/alerts/{id}/resolve", s.handleResolve).Methods(http.MethodPost)
	}
	if s.ingest != nil {
		s.ingest.RegisterRoutes(s.router)
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening. It returns once the socket is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Infof("HTTP server listening on %s", ln.Addr())

	go func() {
		defer close(s.done)
		defer goroutine.Recover("http-server", s.logger)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	select {
	case <-s.detector.Done():
		status = "detector stopped"
		code = http.StatusServiceUnavailable
	default:
	}
	s.writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.detector.Statistics(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	var rules []detect.Rule
	if err := s.detector.Do(r.Context(), func(e *detect.CorrelationEngine) { rules = e.Rules() }); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertLimit)
	}
	s.writeJSON(w, http.StatusOK, s.memory.Recent(limit))
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.memory.Stats())
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.updateAlert(w, r, s.memory.Acknowledge)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.updateAlert(w, r, s.memory.Resolve)
}

func (s *Server) updateAlert(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := mux.Vars(r)["id"]
	if err := fn(id); err != nil {
		if errors.Is(err, notify.ErrAlertNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec, _ := s.memory.Get(id)
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugf("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
