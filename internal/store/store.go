// Package store keeps the outbound query log and fetched SOS observations
// in DuckDB.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joeblew999/plat-ows/internal/ows"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_log (
	session_id  VARCHAR NOT NULL,
	kind        VARCHAR NOT NULL,
	primary_url VARCHAR NOT NULL,
	overlay_url VARCHAR,
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	session_id        VARCHAR NOT NULL,
	procedure         VARCHAR NOT NULL,
	observed_property VARCHAR NOT NULL,
	observed_at       TIMESTAMP NOT NULL,
	value             DOUBLE NOT NULL
);`

// QueryRecord is one logged outbound query.
type QueryRecord struct {
	SessionID  string          `json:"sessionId" doc:"Session that submitted the query"`
	Kind       ows.ServiceKind `json:"kind" doc:"Service kind"`
	PrimaryURL string          `json:"primaryUrl" doc:"Full query URL"`
	OverlayURL string          `json:"overlayUrl,omitempty" doc:"Parallel overlay URL"`
	CreatedAt  time.Time       `json:"createdAt" doc:"Submit time (UTC)"`
}

// ObservationRecord is one stored reading.
type ObservationRecord struct {
	Procedure        string    `json:"procedure" doc:"Sensor procedure"`
	ObservedProperty string    `json:"observedProperty" doc:"Observed property URN"`
	ObservedAt       time.Time `json:"observedAt" doc:"Observation instant (UTC)"`
	Value            float64   `json:"value" doc:"Observed value"`
}

// Store implements service.QueryLog on DuckDB.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates the tables if needed.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// RecordQuery appends a submitted query.
func (s *Store) RecordQuery(ctx context.Context, sessionID, primaryURL, overlayURL string, kind ows.ServiceKind) error {
	var overlay any
	if overlayURL != "" {
		overlay = overlayURL
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (session_id, kind, primary_url, overlay_url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, string(kind), primaryURL, overlay, s.now().UTC())
	return err
}

// RecordObservations stores readings in one transaction.
func (s *Store) RecordObservations(ctx context.Context, sessionID, procedure, property string, readings []ows.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (session_id, procedure, observed_property, observed_at, value)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, sessionID, procedure, property, r.At.UTC(), r.Value); err != nil {
			return fmt.Errorf("insert reading %s: %w", r.Timestamp, err)
		}
	}
	return tx.Commit()
}

// Queries returns a session's logged queries, newest first. An empty
// sessionID lists all sessions.
func (s *Store) Queries(ctx context.Context, sessionID string, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, kind, primary_url, COALESCE(overlay_url, ''), created_at
		FROM query_log
		WHERE ? = '' OR session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []QueryRecord{}
	for rows.Next() {
		var (
			r    QueryRecord
			kind string
		)
		if err := rows.Scan(&r.SessionID, &kind, &r.PrimaryURL, &r.OverlayURL, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Kind = ows.ServiceKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Observations returns a session's stored readings for procedure in time order.
func (s *Store) Observations(ctx context.Context, sessionID, procedure string) ([]ObservationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT procedure, observed_property, observed_at, value
		FROM observations
		WHERE session_id = ? AND procedure = ?
		ORDER BY observed_at
	`, sessionID, procedure)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ObservationRecord{}
	for rows.Next() {
		var r ObservationRecord
		if err := rows.Scan(&r.Procedure, &r.ObservedProperty, &r.ObservedAt, &r.Value); err != nil {
			return nil, err
		}
		r.ObservedAt = r.ObservedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
