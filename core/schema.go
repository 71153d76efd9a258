package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event is a normalized security event as produced by upstream collectors.
// Events are created once and treated as read-only by the correlation engine.
type Event struct {
	EventID     string                 `json:"event_id,omitempty" msgpack:"event_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp" msgpack:"timestamp" validate:"required"`
	EventType   string                 `json:"event_type" msgpack:"event_type" validate:"required"`
	SourceIP    string                 `json:"source_ip,omitempty" msgpack:"source_ip,omitempty" validate:"omitempty,ip"`
	TargetIP    string                 `json:"target_ip,omitempty" msgpack:"target_ip,omitempty" validate:"omitempty,ip"`
	Username    string                 `json:"username,omitempty" msgpack:"username,omitempty"`
	Port        int                    `json:"port,omitempty" msgpack:"port,omitempty" validate:"gte=0,lte=65535"`
	Service     string                 `json:"service,omitempty" msgpack:"service,omitempty"`
	Severity    string                 `json:"severity,omitempty" msgpack:"severity,omitempty"`
	Description string                 `json:"description,omitempty" msgpack:"description,omitempty"`
	Extension   map[string]interface{} `json:"extension,omitempty" msgpack:"extension,omitempty"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent(eventType string, ts time.Time) *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Timestamp: ts.UTC(),
		EventType: eventType,
		Extension: make(map[string]interface{}),
	}
}

// ExtensionInt returns an integer extension field. Numeric values decoded from
// JSON (float64), msgpack (int8..uint64) and numeric strings are accepted.
func (e *Event) ExtensionInt(key string) (int64, bool) {
	if e == nil || e.Extension == nil {
		return 0, false
	}
	v, ok := e.Extension[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// String implements fmt.Stringer for log lines.
func (e *Event) String() string {
	if e == nil {
		return "<nil event>"
	}
	return fmt.Sprintf("%s[%s] %s -> %s at %s", e.EventType, e.EventID, e.SourceIP, e.TargetIP, e.Timestamp.Format(time.RFC3339))
}
