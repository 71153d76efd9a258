package notify

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tdrf/core"

	"go.uber.org/zap"
)

// WebhookConfig configures WebhookSink.
type WebhookConfig struct {
	URL         string
	Method      string
	Headers     map[string]string
	Timeout     time.Duration
	MinSeverity core.Severity
	Breaker     core.BreakerConfig
}

// WebhookSink posts alerts as JSON to an HTTP endpoint. Alerts below
// MinSeverity are skipped. Delivery goes through a circuit breaker so a dead
// endpoint does not cost a timeout per alert.
type WebhookSink struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig, logger *zap.SugaredLogger) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker == (core.BreakerConfig{}) {
		cfg.Breaker = core.DefaultBreakerConfig()
	}
	breaker, err := core.NewCircuitBreaker(cfg.Breaker)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook circuit breaker: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebhookSink{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		breaker: breaker,
		logger:  logger,
	}, nil
}

type webhookPayload struct {
	Source string      `json:"source"`
	Alert  *core.Alert `json:"alert"`
}

// AddAlert delivers alert unless it is below the severity floor.
func (w *WebhookSink) AddAlert(alert *core.Alert) (string, error) {
	if w.cfg.MinSeverity != "" && !alert.Severity.AtLeast(w.cfg.MinSeverity) {
		return alert.CorrelationID, nil
	}
	body, err := json.Marshal(webhookPayload{Source: "tdrf", Alert: alert})
	if err != nil {
		return "", fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	err = w.breaker.Do(func() error { return w.send(body) })
	if err != nil {
		return "", fmt.Errorf("webhook %s: %w", w.cfg.URL, err)
	}
	w.logger.Debugf("Sent webhook notification for alert %s", alert.CorrelationID)
	return alert.CorrelationID, nil
}

func (w *WebhookSink) send(body []byte) error {
	req, err := http.NewRequest(w.cfg.Method, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tdrf/1.0")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			w.logger.Debugf("Failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// BreakerState exposes the breaker state for health reporting.
func (w *WebhookSink) BreakerState() core.BreakerState {
	return w.breaker.State()
}
