package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gentlechase/api/internal/importer"
)

type ImportRun struct {
	ID        uuid.UUID
	Filename  string
	RowsTotal int
	Result    importer.Result
	CreatedAt time.Time
}

func (s *Store) RecordImportRun(ctx context.Context, userID uuid.UUID, filename string, rowsTotal int, res importer.Result) (ImportRun, error) {
	run := ImportRun{Filename: filename, RowsTotal: rowsTotal, Result: res}
	err := s.db.QueryRow(ctx, `
		INSERT INTO import_runs (user_id, filename, rows_total, imported, skipped_duplicate, skipped_rejected, new_clients)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, userID, filename, rowsTotal, res.Imported, res.SkippedDuplicate, res.SkippedRejected, res.NewClients).
		Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return ImportRun{}, fmt.Errorf("insert import run: %w", err)
	}
	return run, nil
}

func (s *Store) ListImportRuns(ctx context.Context, userID uuid.UUID, limit int) ([]ImportRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, filename, rows_total, imported, skipped_duplicate, skipped_rejected, new_clients, created_at
		FROM import_runs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	out := []ImportRun{}
	for rows.Next() {
		var run ImportRun
		if err := rows.Scan(&run.ID, &run.Filename, &run.RowsTotal, &run.Result.Imported, &run.Result.SkippedDuplicate,
			&run.Result.SkippedRejected, &run.Result.NewClients, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
