package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"devicebridge"

	"github.com/google/uuid"
)

type RunSQLite struct {
	conn *sql.DB
}

func NewRunSQLite(conn *sql.DB) *RunSQLite { return &RunSQLite{conn: conn} }

const insertRunSQL = `
	INSERT INTO simulation_runs (run_id, scenario, started_at, ended_at, total_readings, summary)
	VALUES (?, ?, ?, ?, ?, ?)
`

// Save persists the final run summary. A missing RunID is filled in so the
// row is always addressable.
func (r *RunSQLite) Save(ctx context.Context, summary devicebridge.RunSummary) error {
	if summary.RunID == "" {
		summary.RunID = uuid.NewString()
	}

	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	_, err = r.conn.ExecContext(ctx, insertRunSQL,
		summary.RunID,
		summary.Scenario,
		summary.StartedAt.UTC().Format(time.RFC3339),
		summary.EndedAt.UTC().Format(time.RFC3339),
		summary.TotalReadings,
		string(blob),
	)
	return err
}
