package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/hibi/internal/apperr"
)

// EntryRow represents a row in the entries table.
type EntryRow struct {
	Path      string
	Date      string
	Title     string
	Checksum  string
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Date    string `json:"date"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertEntry inserts or replaces an entry and its FTS row within a transaction.
func (db *DB) UpsertEntry(e EntryRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err = tx.Exec(`
		INSERT INTO entries (path, date, title, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			date       = excluded.date,
			title      = excluded.title,
			checksum   = excluded.checksum,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, e.Path, e.Date, e.Title, e.Checksum, body, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert entry: %w", err)
	}

	if err := ftsUpsert(tx, e.Path, e.Title, body); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteEntry removes an entry and its FTS row.
func (db *DB) DeleteEntry(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM entries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete entry: %w", err)
	}
	return tx.Commit()
}

// GetEntry returns the indexed entry for a date (YYYY-MM-DD) together with its body.
func (db *DB) GetEntry(date string) (*EntryRow, string, error) {
	var e EntryRow
	var body string
	err := db.conn.QueryRow(`
		SELECT path, date, title, checksum, body, updated_at
		FROM entries WHERE date = ?
		ORDER BY path LIMIT 1
	`, date).Scan(&e.Path, &e.Date, &e.Title, &e.Checksum, &body, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", apperr.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("index: get entry: %w", err)
	}
	return &e, body, nil
}

// ListEntries returns entries newest first, plus the total count.
func (db *DB) ListEntries(limit, offset int) ([]EntryRow, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entries`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count entries: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, date, title, checksum, updated_at
		FROM entries
		ORDER BY date DESC, path DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list entries: %w", err)
	}
	defer rows.Close()

	var out []EntryRow
	for rows.Next() {
		var e EntryRow
		if err := rows.Scan(&e.Path, &e.Date, &e.Title, &e.Checksum, &e.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// AllChecksums maps every indexed path to its stored checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
