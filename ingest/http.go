package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"tdrf/core"
	"tdrf/metrics"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultMaxBodySize = 1024 * 1024

// EventsPath is the route HTTPHandler serves.
const EventsPath = "/api/v1/events"

// HTTPHandler accepts event batches over HTTP POST. Bodies are JSON (object,
// array or NDJSON) unless the content type names msgpack. Invalid records
// are rejected individually; the rest are queued without blocking.
type HTTPHandler struct {
	out         chan<- *core.Event
	limiter     *rate.Limiter
	maxBodySize int64
	logger      *zap.SugaredLogger
}

// IngestResponse is the body returned for a POST.
type IngestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Dropped  int `json:"dropped"`
}

// NewHTTPHandler creates a handler. rateLimit is requests per second; 0
// disables throttling.
func NewHTTPHandler(out chan<- *core.Event, rateLimit float64, logger *zap.SugaredLogger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	limit := rate.Inf
	burst := 1
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
		burst = int(rateLimit) + 1
	}
	return &HTTPHandler{
		out:         out,
		limiter:     rate.NewLimiter(limit, burst),
		maxBodySize: defaultMaxBodySize,
		logger:      logger,
	}
}

// RegisterRoutes mounts the handler on r.
func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	r.Handle(EventsPath, h).Methods(http.MethodPost)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.maxBodySize {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	format := FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "msgpack") {
		format = FormatMsgpack
	}

	events, rejected, err := DecodeAll(bytes.NewReader(body), format, true)
	if err != nil {
		h.logger.Warnf("Rejected malformed %s batch from %s: %v", format, r.RemoteAddr, err)
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}

	resp := IngestResponse{Rejected: rejected}
	for _, e := range events {
		select {
		case h.out <- e:
			resp.Accepted++
		default:
			resp.Dropped++
			metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		}
	}
	if resp.Dropped > 0 {
		h.logger.Warnf("Event queue full, dropped %d events", resp.Dropped)
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 && resp.Dropped > 0 {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Debugf("Failed to write ingest response: %v", err)
	}
}
