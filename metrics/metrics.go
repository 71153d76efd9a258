package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdrf_events_ingested_total",
			Help: "Total number of events fed to the correlation engine",
		},
		[]string{"event_type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdrf_events_dropped_total",
			Help: "Total number of events dropped before correlation",
		},
		[]string{"reason"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdrf_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"alert_type", "severity"},
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdrf_sink_failures_total",
			Help: "Total number of alerts a sink failed to accept",
		},
		[]string{"sink"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tdrf_event_processing_duration_seconds",
			Help:    "Time taken to correlate a single event",
			Buckets: prometheus.DefBuckets,
		},
	)

	BufferedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tdrf_buffered_events",
			Help: "Number of events currently held in the correlation window",
		},
	)

	EventsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tdrf_evictions_total",
			Help: "Total number of events evicted from the correlation window",
		},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdrf_ingest_decode_errors_total",
			Help: "Total number of input records that could not be decoded or validated",
		},
		[]string{"format"},
	)
)
