package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scooterlab/internal/metrics"
)

// SQLiteSink stores each run and its samples in the runs/samples tables.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(db *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

func (s *SQLiteSink) Write(ctx context.Context, run Run, snap metrics.Snapshot) error {
	ended := run.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite sink: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, transport, role, scooter_id, started_at, ended_at, bytes_in, bytes_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Transport), string(run.Role), run.ScooterID,
		run.StartedAt.UTC().Format(time.RFC3339Nano), ended.UTC().Format(time.RFC3339Nano),
		snap.BytesIn, snap.BytesOut,
	)
	if err != nil {
		return fmt.Errorf("sqlite sink: insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (run_id, metric, seq, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite sink: prepare samples: %w", err)
	}
	defer stmt.Close()

	for _, ser := range seriesOf(snap) {
		for i, v := range ser.values {
			if _, err := stmt.ExecContext(ctx, run.ID, ser.name, i, v); err != nil {
				return fmt.Errorf("sqlite sink: insert %s sample %d: %w", ser.name, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite sink: commit: %w", err)
	}
	return nil
}
