package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/hibi/internal/apperr"
	"github.com/starford/hibi/internal/models"
)

// InsertRun records a finished synchronization run and returns its id.
func (db *DB) InsertRun(r models.SyncRun) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO runs (date, status, failed_step, command, stderr, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Date, r.Status, r.FailedStep, r.Command, r.Stderr, r.Error, r.StartedAt, r.FinishedAt)
	if err != nil {
		return 0, fmt.Errorf("index: insert run: %w", err)
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, date, status, failed_step, command, stderr, error, started_at, finished_at
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run or apperr.ErrNotFound.
func (db *DB) LastRun() (*models.SyncRun, error) {
	row := db.conn.QueryRow(`
		SELECT id, date, status, failed_step, command, stderr, error, started_at, finished_at
		FROM runs ORDER BY id DESC LIMIT 1
	`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: last run: %w", err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.SyncRun, error) {
	var r models.SyncRun
	if err := s.Scan(&r.ID, &r.Date, &r.Status, &r.FailedStep, &r.Command, &r.Stderr, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
