package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"tdrf/core"
	"tdrf/metrics"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is an input encoding.
type Format string

const (
	// FormatJSON reads newline-delimited or concatenated JSON objects, or a
	// single top-level JSON array of objects.
	FormatJSON Format = "json"
	// FormatMsgpack reads a stream of MessagePack maps.
	FormatMsgpack Format = "msgpack"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "ndjson", "jsonl":
		return FormatJSON, nil
	case "msgpack", "mpk":
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown input format %q", s)
	}
}

// FormatFromPath guesses the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

// RecordError reports a record that was read but could not be turned into a
// valid event. The stream remains usable after a RecordError.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Decoder reads validated events from a stream.
type Decoder struct {
	format Format
	index  int

	br      *bufio.Reader
	jsonDec *json.Decoder
	inArray bool
	started bool

	mpDec *msgpack.Decoder
}

// NewDecoder returns a decoder reading format-encoded events from r.
func NewDecoder(r io.Reader, format Format) *Decoder {
	d := &Decoder{format: format}
	switch format {
	case FormatMsgpack:
		d.mpDec = msgpack.NewDecoder(r)
	default:
		d.format = FormatJSON
		d.br = bufio.NewReader(r)
	}
	return d
}

// Next returns the next event. It returns io.EOF at the end of the stream,
// a *RecordError for a record that failed mapping or validation, and any
// other error when the stream itself is corrupt.
func (d *Decoder) Next() (*core.Event, error) {
	record, err := d.nextRecord()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			metrics.DecodeErrors.WithLabelValues(string(d.format)).Inc()
		}
		return nil, err
	}
	d.index++

	event, err := EventFromRecord(record)
	if err == nil {
		err = ValidateEvent(event)
	}
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(string(d.format)).Inc()
		return nil, &RecordError{Index: d.index, Err: err}
	}
	return event, nil
}

func (d *Decoder) nextRecord() (map[string]interface{}, error) {
	if d.format == FormatMsgpack {
		record, err := d.mpDec.DecodeMap()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to decode msgpack record: %w", err)
		}
		if record == nil {
			return nil, fmt.Errorf("failed to decode msgpack record: nil map")
		}
		return record, nil
	}
	return d.nextJSON()
}

func (d *Decoder) nextJSON() (map[string]interface{}, error) {
	if !d.started {
		d.started = true
		first, err := peekNonSpace(d.br)
		if err != nil {
			return nil, err
		}
		d.jsonDec = json.NewDecoder(d.br)
		if first == '[' {
			if _, err := d.jsonDec.Token(); err != nil {
				return nil, fmt.Errorf("failed to read JSON array: %w", err)
			}
			d.inArray = true
		}
	}

	if d.inArray && !d.jsonDec.More() {
		if _, err := d.jsonDec.Token(); err != nil {
			return nil, fmt.Errorf("failed to close JSON array: %w", err)
		}
		return nil, io.EOF
	}

	var record map[string]interface{}
	if err := d.jsonDec.Decode(&record); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("invalid JSON: null record")
	}
	return record, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// DecodeAll reads every event from r. With skipInvalid, records that fail
// mapping or validation are skipped and counted; otherwise the first one
// aborts. Stream corruption always aborts.
func DecodeAll(r io.Reader, format Format, skipInvalid bool) ([]*core.Event, int, error) {
	dec := NewDecoder(r, format)
	var events []*core.Event
	skipped := 0
	for {
		event, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return events, skipped, nil
		}
		var recErr *RecordError
		if errors.As(err, &recErr) && skipInvalid {
			skipped++
			continue
		}
		if err != nil {
			return events, skipped, err
		}
		events = append(events, event)
	}
}
