package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tdrf/core"

	"go.uber.org/zap"
)

// ErrAlertNotFound is returned by Get for an unknown correlation id.
var ErrAlertNotFound = errors.New("alert not found")

const alertWriteTimeout = 5 * time.Second

// Fixed-width so stored timestamps order lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteAlertStore persists alerts. It implements core.AlertSink.
type SQLiteAlertStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
	closed atomic.Bool
}

// NewSQLiteAlertStore ensures the alerts table exists in sqlite.
func NewSQLiteAlertStore(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteAlertStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &SQLiteAlertStore{sqlite: sqlite, logger: logger}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure alerts table: %w", err)
	}
	return s, nil
}

// OpenSQLiteAlertStore opens the database at path and wraps it in a store.
// Closing the store closes the database.
func OpenSQLiteAlertStore(path string, logger *zap.SugaredLogger) (*SQLiteAlertStore, error) {
	db, err := NewSQLite(path, logger)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteAlertStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAlertStore) ensureTable() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		correlation_id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		severity_rank INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		source_ip TEXT NOT NULL DEFAULT '',
		target_ip TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		rule_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		stored_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_alerts_source_ip ON alerts(source_ip);
	CREATE INDEX IF NOT EXISTS idx_alerts_severity_rank ON alerts(severity_rank);
	`
	if _, err := s.sqlite.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create alerts table: %w", err)
	}
	return nil
}

// AddAlert stores alert. Storing the same correlation id twice is a no-op.
func (s *SQLiteAlertStore) AddAlert(alert *core.Alert) (string, error) {
	if s.closed.Load() {
		return "", core.ErrSinkUnavailable
	}
	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), alertWriteTimeout)
	defer cancel()

	query := `
		INSERT INTO alerts (correlation_id, alert_type, severity, severity_rank, timestamp,
			source_ip, target_ip, username, rule_name, description, metadata, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING
	`
	_, err = s.sqlite.DB.ExecContext(ctx, query,
		alert.CorrelationID,
		alert.AlertType,
		string(alert.Severity),
		alert.Severity.Rank(),
		alert.Timestamp.UTC().Format(timestampLayout),
		alert.SourceIP,
		alert.TargetIP,
		alert.Username,
		alert.RuleName,
		alert.Description,
		string(metadata),
		time.Now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert alert: %w", err)
	}
	return alert.CorrelationID, nil
}

const alertColumns = `correlation_id, alert_type, severity, timestamp, source_ip, target_ip,
	username, rule_name, description, metadata`

// Get returns the alert with the given correlation id.
func (s *SQLiteAlertStore) Get(ctx context.Context, id string) (*core.Alert, error) {
	row := s.sqlite.DB.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE correlation_id = ?", id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return alert, err
}

// AlertFilter narrows Query results. Zero values match everything.
type AlertFilter struct {
	SourceIP    string
	MinSeverity core.Severity
	Since       time.Time
	Limit       int
}

// Recent returns up to limit alerts, newest first.
func (s *SQLiteAlertStore) Recent(ctx context.Context, limit int) ([]*core.Alert, error) {
	return s.Query(ctx, AlertFilter{Limit: limit})
}

// Query returns alerts matching f, newest first.
func (s *SQLiteAlertStore) Query(ctx context.Context, f AlertFilter) ([]*core.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE 1=1"
	var args []interface{}
	if f.SourceIP != "" {
		query += " AND source_ip = ?"
		args = append(args, f.SourceIP)
	}
	if f.MinSeverity != "" {
		query += " AND severity_rank >= ?"
		args = append(args, f.MinSeverity.Rank())
	}
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC().Format(timestampLayout))
	}
	query += " ORDER BY timestamp DESC, stored_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.sqlite.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*core.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// CountBySeverity returns the number of stored alerts per severity.
func (s *SQLiteAlertStore) CountBySeverity(ctx context.Context) (map[core.Severity]int, error) {
	rows, err := s.sqlite.DB.QueryContext(ctx, "SELECT severity, COUNT(*) FROM alerts GROUP BY severity")
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.Severity]int)
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[core.Severity(sev)] = n
	}
	return counts, rows.Err()
}

// PurgeOlderThan deletes alerts whose timestamp is before cutoff.
func (s *SQLiteAlertStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.sqlite.DB.ExecContext(ctx, "DELETE FROM alerts WHERE timestamp < ?", cutoff.UTC().Format(timestampLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to purge alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	if n > 0 {
		s.logger.Infof("Purged %d alerts older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Close closes the underlying database. Later AddAlert calls fail with
// core.ErrSinkUnavailable.
func (s *SQLiteAlertStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.sqlite.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var (
		a        core.Alert
		severity string
		ts       string
		metadata string
	)
	err := row.Scan(&a.CorrelationID, &a.AlertType, &severity, &ts, &a.SourceIP, &a.TargetIP,
		&a.Username, &a.RuleName, &a.Description, &metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.Severity = core.Severity(severity)
	if a.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
		return nil, fmt.Errorf("invalid timestamp for alert %s: %w", a.CorrelationID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata for alert %s: %w", a.CorrelationID, err)
	}
	return &a, nil
}
