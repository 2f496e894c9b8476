package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"devicebridge"
)

type ReadingSQLite struct {
	conn *sql.DB
}

func NewReadingSQLite(conn *sql.DB) *ReadingSQLite { return &ReadingSQLite{conn: conn} }

const (
	insertReadingSQL = `
		INSERT INTO device_readings (device_type, device_id, timestamp, payload, alarm, failure, scenario)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectReadingsByDeviceSQL = `
		SELECT device_type, device_id, timestamp, payload, alarm, failure, scenario
		FROM device_readings WHERE device_id = ? ORDER BY timestamp ASC
	`
)

// timestampLayout keeps lexicographic and chronological order aligned so
// ORDER BY timestamp works on the TEXT column.
const timestampLayout = "2006-01-02 15:04:05.000000000"

// InsertBatch writes all readings in one transaction. The caller (database
// sink) accumulates batches; a failed batch is retried or reported there.
func (r *ReadingSQLite) InsertBatch(ctx context.Context, readings []devicebridge.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin readings transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		return fmt.Errorf("prepare readings insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rd := range readings {
		payload, err := json.Marshal(rd.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", rd.DeviceID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rd.DeviceType,
			rd.DeviceID,
			rd.Timestamp.UTC().Format(timestampLayout),
			string(payload),
			rd.Alarm,
			rd.Failure,
			rd.Scenario,
		); err != nil {
			return fmt.Errorf("insert reading for %s: %w", rd.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit readings transaction: %w", err)
	}
	return nil
}

// ListByDevice returns the stored readings for one device ordered by
// timestamp. limit <= 0 means no limit.
func (r *ReadingSQLite) ListByDevice(ctx context.Context, deviceID string, limit int) ([]devicebridge.Reading, error) {
	q := selectReadingsByDeviceSQL
	args := []any{deviceID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]devicebridge.Reading, 0, 64)
	for rows.Next() {
		var (
			rd         devicebridge.Reading
			ts         string
			payloadStr string
		)
		if err := rows.Scan(&rd.DeviceType, &rd.DeviceID, &ts, &payloadStr, &rd.Alarm, &rd.Failure, &rd.Scenario); err != nil {
			return nil, err
		}
		t, err := time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse stored timestamp %q: %w", ts, err)
		}
		rd.Timestamp = t.UTC()
		if err := json.Unmarshal([]byte(payloadStr), &rd.Payload); err != nil {
			return nil, fmt.Errorf("parse stored payload: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}
