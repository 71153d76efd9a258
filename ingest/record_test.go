package ingest

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"tdrf/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFromRecord_MapsFieldsAndAliases(t *testing.T) {
	record := map[string]interface{}{
		"id":         "evt-1",
		"@timestamp": "2024-01-01T12:00:00Z",
		"type":       "failed_password",
		"src_ip":     "192.168.1.100",
		"dst_ip":     "10.0.0.1",
		"user":       "admin",
		"dst_port":   float64(22),
		"service":    "ssh",
		"severity":   "HIGH",
		"message":    "Failed password for admin",
		"pid":        float64(4242),
		"extension":  map[string]interface{}{"event_id": float64(4625)},
	}

	e, err := EventFromRecord(record)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", e.EventID)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), e.Timestamp)
	assert.Equal(t, "failed_password", e.EventType)
	assert.Equal(t, "192.168.1.100", e.SourceIP)
	assert.Equal(t, "10.0.0.1", e.TargetIP)
	assert.Equal(t, "admin", e.Username)
	assert.Equal(t, 22, e.Port)
	assert.Equal(t, "ssh", e.Service)
	assert.Equal(t, "HIGH", e.Severity)
	assert.Equal(t, "Failed password for admin", e.Description)

	assert.Equal(t, float64(4242), e.Extension["pid"])
	id, ok := e.ExtensionInt("event_id")
	require.True(t, ok)
	assert.Equal(t, int64(4625), id)
	assert.NotContains(t, e.Extension, "src_ip")
	assert.NotContains(t, e.Extension, "extension")
}

func TestEventFromRecord_GeneratesID(t *testing.T) {
	e, err := EventFromRecord(map[string]interface{}{"event_type": "port_scan", "timestamp": float64(1704110400)})
	require.NoError(t, err)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, time.Unix(1704110400, 0).UTC(), e.Timestamp)
}

func TestEventFromRecord_RedactsCredentials(t *testing.T) {
	e, err := EventFromRecord(map[string]interface{}{
		"event_type": "failed_password",
		"password":   "hunter2",
		"extension":  map[string]interface{}{"token": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "REDACTED", e.Extension["password"])
	assert.Equal(t, "REDACTED", e.Extension["token"])
}

func TestEventFromRecord_TruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes, so the limit falls inside the last rune
	desc := strings.Repeat("a", maxFieldLength-1) + "é"
	e, err := EventFromRecord(map[string]interface{}{"event_type": "x", "description": desc})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(e.Description))
	assert.Len(t, e.Description, maxFieldLength-1)

	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "h", truncate("héllo", 2))
	assert.Equal(t, "", truncate("é", 1))
}

func TestEventFromRecord_WrongTypes(t *testing.T) {
	_, err := EventFromRecord(map[string]interface{}{"event_type": 12})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "event_type", verr.Field)

	_, err = EventFromRecord(map[string]interface{}{"event_type": "x", "port": "ssh"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "port", verr.Field)

	_, err = EventFromRecord(map[string]interface{}{"event_type": "x", "timestamp": "yesterday"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timestamp", verr.Field)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   interface{}
		want time.Time
	}{
		{"rfc3339", "2024-01-01T12:00:00Z", want},
		{"rfc3339 offset", "2024-01-01T14:00:00+02:00", want},
		{"rfc3339 nano", "2024-01-01T12:00:00.250Z", want.Add(250 * time.Millisecond)},
		{"naive", "2024-01-01 12:00:00", want},
		{"unix seconds", float64(1704110400), want},
		{"unix fractional", 1704110400.5, want.Add(500 * time.Millisecond)},
		{"unix millis", int64(1704110400000), want},
		{"numeric string", "1704110400", want},
		{"msgpack int", uint32(1704110400), want},
		{"time value", want.In(time.FixedZone("X", 3600)), want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := parseTimestamp(true)
	assert.Error(t, err)
}

func TestValidateEvent(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	valid := core.NewEvent("failed_login", ts)
	valid.SourceIP = "192.168.1.100"
	assert.NoError(t, ValidateEvent(valid))

	tests := []struct {
		name  string
		event *core.Event
		field string
	}{
		{"missing type", &core.Event{Timestamp: ts}, "event_type"},
		{"missing timestamp", &core.Event{EventType: "x"}, "timestamp"},
		{"bad source ip", &core.Event{EventType: "x", Timestamp: ts, SourceIP: "not-an-ip"}, "source_ip"},
		{"bad port", &core.Event{EventType: "x", Timestamp: ts, Port: 70000}, "port"},
		{"nil", nil, "event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvent(tt.event)
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
