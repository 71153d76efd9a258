package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"tdrf/core"
	"tdrf/util"

	"github.com/google/uuid"
)

// Accepted aliases for each modeled field. The first present key wins.
var (
	idKeys          = []string{"event_id", "id"}
	timestampKeys   = []string{"timestamp", "@timestamp", "time"}
	typeKeys        = []string{"event_type", "type"}
	sourceIPKeys    = []string{"source_ip", "src_ip", "src"}
	targetIPKeys    = []string{"target_ip", "dest_ip", "dst_ip", "dst"}
	usernameKeys    = []string{"username", "user"}
	portKeys        = []string{"port", "dest_port", "dst_port"}
	serviceKeys     = []string{"service"}
	severityKeys    = []string{"severity"}
	descriptionKeys = []string{"description", "message"}
)

const maxFieldLength = 50000

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// EventFromRecord maps a decoded record onto an Event. Unmodeled keys land in
// Extension; a nested "extension" object is merged into it. A missing event
// id is replaced by a generated UUID. Credential-like extension keys are
// redacted. The result is not validated.
func EventFromRecord(record map[string]interface{}) (*core.Event, error) {
	event := &core.Event{Extension: make(map[string]interface{})}
	used := make(map[string]bool)

	take := func(keys []string) (interface{}, bool) {
		for _, k := range keys {
			if v, ok := record[k]; ok && v != nil {
				for _, alias := range keys {
					used[alias] = true
				}
				return v, true
			}
		}
		return nil, false
	}
	str := func(field string, keys []string) (string, error) {
		v, ok := take(keys)
		if !ok {
			return "", nil
		}
		s, ok := v.(string)
		if !ok {
			return "", &core.ValidationError{Field: field, Message: fmt.Sprintf("expected string, got %T", v)}
		}
		return truncate(s, maxFieldLength), nil
	}

	// Windows logs carry the numeric security event code as event_id; keep it
	// as an extension field for login classification.
	if v, ok := take(idKeys); ok {
		switch id := v.(type) {
		case string:
			event.EventID = id
		default:
			if _, numeric := toFloat(id); !numeric {
				return nil, &core.ValidationError{Field: "event_id", Message: fmt.Sprintf("expected string or number, got %T", v)}
			}
			event.Extension["event_id"] = id
		}
	}

	var err error
	if event.EventType, err = str("event_type", typeKeys); err != nil {
		return nil, err
	}
	if event.SourceIP, err = str("source_ip", sourceIPKeys); err != nil {
		return nil, err
	}
	if event.TargetIP, err = str("target_ip", targetIPKeys); err != nil {
		return nil, err
	}
	if event.Username, err = str("username", usernameKeys); err != nil {
		return nil, err
	}
	if event.Service, err = str("service", serviceKeys); err != nil {
		return nil, err
	}
	if event.Severity, err = str("severity", severityKeys); err != nil {
		return nil, err
	}
	if event.Description, err = str("description", descriptionKeys); err != nil {
		return nil, err
	}

	if v, ok := take(timestampKeys); ok {
		ts, err := parseTimestamp(v)
		if err != nil {
			return nil, &core.ValidationError{Field: "timestamp", Message: err.Error()}
		}
		event.Timestamp = ts
	}
	if v, ok := take(portKeys); ok {
		port, err := parsePort(v)
		if err != nil {
			return nil, &core.ValidationError{Field: "port", Message: err.Error()}
		}
		event.Port = port
	}

	if ext, ok := record["extension"].(map[string]interface{}); ok {
		used["extension"] = true
		for k, v := range ext {
			event.Extension[k] = v
		}
	}
	for k, v := range record {
		if !used[k] {
			event.Extension[k] = v
		}
	}

	event.Extension = util.RedactMap(event.Extension)

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	return event, nil
}

// parseTimestamp accepts RFC3339 strings, numeric strings, unix seconds
// (integer or fractional), unix milliseconds and decoded time values.
func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(f), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", t)
	default:
		if f, ok := toFloat(v); ok {
			return unixTime(f), nil
		}
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// Values beyond this are taken to be milliseconds.
const unixMillisThreshold = 1e11

func unixTime(f float64) time.Time {
	if math.Abs(f) >= unixMillisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func parsePort(v interface{}) (int, error) {
	switch p := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		return n, nil
	default:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return 0, fmt.Errorf("invalid port %v", v)
		}
		return int(f), nil
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
