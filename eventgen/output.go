package eventgen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tdrf/ingest"

	"github.com/vmihailenco/msgpack/v5"
)

// Write encodes records to w, one JSON object per line or a stream of
// MessagePack maps.
func Write(w io.Writer, records []Record, format ingest.Format) error {
	bw := bufio.NewWriter(w)
	switch format {
	case ingest.FormatMsgpack:
		enc := msgpack.NewEncoder(bw)
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return fmt.Errorf("failed to encode event %d: %w", i, err)
			}
		}
	default:
		enc := json.NewEncoder(bw)
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return fmt.Errorf("failed to encode event %d: %w", i, err)
			}
		}
	}
	return bw.Flush()
}

// Send posts records in batches of batchSize to a tdrf ingest endpoint and
// returns the summed responses.
func Send(ctx context.Context, client *http.Client, url string, records []Record, batchSize int) (ingest.IngestResponse, error) {
	var total ingest.IngestResponse
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		resp, err := sendBatch(ctx, client, url, records[start:end])
		if err != nil {
			return total, err
		}
		total.Accepted += resp.Accepted
		total.Rejected += resp.Rejected
		total.Dropped += resp.Dropped
	}
	return total, nil
}

func sendBatch(ctx context.Context, client *http.Client, url string, batch []Record) (ingest.IngestResponse, error) {
	var out ingest.IngestResponse
	var body bytes.Buffer
	if err := Write(&body, batch, ingest.FormatJSON); err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := client.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to send events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusServiceUnavailable {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return out, fmt.Errorf("ingest endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode ingest response: %w", err)
	}
	return out, nil
}
