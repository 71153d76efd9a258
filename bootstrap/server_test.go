package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tdrf/core"
	"tdrf/detect"
	"tdrf/ingest"
	"tdrf/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type serverFixture struct {
	server   *Server
	memory   *notify.MemorySink
	detector *detect.Detector
	events   chan *core.Event
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	sugar := zaptest.NewLogger(t).Sugar()

	memory, err := notify.NewMemorySink(100)
	require.NoError(t, err)
	engine, err := detect.NewCorrelationEngine(detect.DefaultEngineConfig(), memory, sugar)
	require.NoError(t, err)

	events := make(chan *core.Event, 16)
	detector := detect.NewDetector(engine, events, nil, sugar)
	detector.Start()
	t.Cleanup(detector.Stop)

	handler := ingest.NewHTTPHandler(events, 0, sugar)
	return &serverFixture{
		server:   NewServer("127.0.0.1:0", detector, memory, handler, sugar),
		memory:   memory,
		detector: detector,
		events:   events,
	}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	f.detector.Stop()
	rec = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Rules(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rules []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.Len(t, rules, len(detect.DefaultRules()))
}

func TestServer_IngestThenStatsAndAlerts(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, ingest.EventsPath, failedLoginLines(5, "203.0.113.9"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp ingest.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Accepted)

	require.Eventually(t, func() bool {
		stats, err := f.detector.Statistics(context.Background())
		return err == nil && stats.EventsBuffered == 5
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats detect.EngineStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.UniqueSources)
	assert.Equal(t, 1, stats.TotalAlerts)

	rec = f.do(t, http.MethodGet, "/api/v1/alerts?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []notify.AlertRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, core.AlertTypeBruteForce, records[0].Alert.AlertType)

	rec = f.do(t, http.MethodGet, "/api/v1/alerts/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestServer_AlertsLimitValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/alerts?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_AcknowledgeAndResolve(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/alerts/missing/acknowledge", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	alert := core.NewAlert(core.AlertTypeRuleMatch, core.SeverityHigh, time.Now(), "test")
	_, err := f.memory.AddAlert(alert)
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+alert.CorrelationID+"/acknowledge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got notify.AlertRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Acknowledged)
	assert.False(t, got.Resolved)

	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+alert.CorrelationID+"/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Resolved)
}

func TestServer_MetricsAndStartStop(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, f.server.Start())
	resp, err := http.Get("http://" + f.server.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, f.server.Stop(ctx))
}
