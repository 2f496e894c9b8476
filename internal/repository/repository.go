package repository

import (
	"context"
	"database/sql"

	"devicebridge"
	"devicebridge/internal/repository/db"
)

// ReadingRepo is the write path for the database sink plus the read-back
// used by tests and the cleanup tooling.
type ReadingRepo interface {
	InsertBatch(ctx context.Context, readings []devicebridge.Reading) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]devicebridge.Reading, error)
}

// RunRepo stores one row per completed run.
type RunRepo interface {
	Save(ctx context.Context, summary devicebridge.RunSummary) error
}

type Repository struct {
	Readings ReadingRepo
	Runs     RunRepo
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{
		Readings: NewReadingSQLite(conn),
		Runs:     NewRunSQLite(conn),
	}
}

// InitDB opens the SQLite store and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	return db.InitDB(path)
}
