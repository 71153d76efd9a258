package notify

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tdrf/core"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrAlertNotFound is returned for an unknown correlation id.
var ErrAlertNotFound = errors.New("alert not found")

// AlertRecord is an alert held by MemorySink together with its handling state.
type AlertRecord struct {
	Alert        *core.Alert `json:"alert"`
	ReceivedAt   time.Time   `json:"received_at"`
	Acknowledged bool        `json:"acknowledged"`
	Resolved     bool        `json:"resolved"`
}

// SourceCount is one entry of AlertStats.TopSources.
type SourceCount struct {
	SourceIP string `json:"source_ip"`
	Alerts   int    `json:"alerts"`
}

// AlertStats summarizes the alerts held in memory.
type AlertStats struct {
	Total          int                   `json:"total"`
	BySeverity     map[core.Severity]int `json:"by_severity"`
	ByType         map[string]int        `json:"by_type"`
	Acknowledged   int                   `json:"acknowledged"`
	Unacknowledged int                   `json:"unacknowledged"`
	Resolved       int                   `json:"resolved"`
	TopSources     []SourceCount         `json:"top_sources"`
}

// MemorySink keeps the most recent alerts in a bounded LRU keyed by
// correlation id. It is safe for concurrent use.
type MemorySink struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *AlertRecord]
	now   func() time.Time
}

// NewMemorySink creates a sink retaining up to capacity alerts.
func NewMemorySink(capacity int) (*MemorySink, error) {
	cache, err := lru.New[string, *AlertRecord](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert cache: %w", err)
	}
	return &MemorySink{cache: cache, now: time.Now}, nil
}

// AddAlert stores alert.
func (m *MemorySink) AddAlert(alert *core.Alert) (string, error) {
	if alert == nil {
		return "", errors.New("nil alert")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(alert.CorrelationID, &AlertRecord{Alert: alert, ReceivedAt: m.now()})
	return alert.CorrelationID, nil
}

// Get returns a copy of the record for id.
func (m *MemorySink) Get(id string) (AlertRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.cache.Peek(id)
	if !ok {
		return AlertRecord{}, false
	}
	return *rec, true
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (m *MemorySink) Recent(limit int) []AlertRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := m.cache.Values() // oldest first
	if limit <= 0 || limit > len(values) {
		limit = len(values)
	}
	out := make([]AlertRecord, 0, limit)
	for i := len(values) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *values[i])
	}
	return out
}

// Count returns the number of alerts held, optionally only of one severity.
func (m *MemorySink) Count(severity core.Severity) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if severity == "" {
		return m.cache.Len()
	}
	n := 0
	for _, rec := range m.cache.Values() {
		if rec.Alert.Severity == severity {
			n++
		}
	}
	return n
}

// Acknowledge marks an alert as seen.
func (m *MemorySink) Acknowledge(id string) error {
	return m.update(id, func(r *AlertRecord) { r.Acknowledged = true })
}

// Resolve marks an alert resolved. Resolving implies acknowledgement.
func (m *MemorySink) Resolve(id string) error {
	return m.update(id, func(r *AlertRecord) {
		r.Acknowledged = true
		r.Resolved = true
	})
}

func (m *MemorySink) update(id string, fn func(*AlertRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cache.Peek(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	fn(rec)
	return nil
}

// Stats aggregates the held alerts.
func (m *MemorySink) Stats() AlertStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := AlertStats{
		BySeverity: make(map[core.Severity]int),
		ByType:     make(map[string]int),
	}
	sources := make(map[string]int)
	for _, rec := range m.cache.Values() {
		stats.Total++
		stats.BySeverity[rec.Alert.Severity]++
		stats.ByType[rec.Alert.AlertType]++
		if rec.Acknowledged {
			stats.Acknowledged++
		} else {
			stats.Unacknowledged++
		}
		if rec.Resolved {
			stats.Resolved++
		}
		if rec.Alert.SourceIP != "" {
			sources[rec.Alert.SourceIP]++
		}
	}

	for ip, n := range sources {
		stats.TopSources = append(stats.TopSources, SourceCount{SourceIP: ip, Alerts: n})
	}
	sort.Slice(stats.TopSources, func(i, j int) bool {
		if stats.TopSources[i].Alerts != stats.TopSources[j].Alerts {
			return stats.TopSources[i].Alerts > stats.TopSources[j].Alerts
		}
		return stats.TopSources[i].SourceIP < stats.TopSources[j].SourceIP
	})
	if len(stats.TopSources) > 10 {
		stats.TopSources = stats.TopSources[:10]
	}
	return stats
}

// Clear drops every held alert.
func (m *MemorySink) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}
