package index

import (
	"log/slog"
	"time"

	"github.com/starford/hibi/internal/checksum"
	"github.com/starford/hibi/internal/diary"
	"github.com/starford/hibi/internal/parser"
	"github.com/starford/hibi/internal/storage"
)

// Sync walks the diary tree and brings the index up to date:
//   - new/changed entry files are parsed and upserted
//   - entries removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteEntry(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses an entry file and upserts it. The entry date is derived
// from its yyyy/mm/dd path; files outside that layout are indexed undated.
func IndexFile(db *DB, path string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	var date string
	if d, ok := diary.DateFromRelPath(path); ok {
		date = d.String()
	}
	return db.UpsertEntry(EntryRow{
		Path:      path,
		Date:      date,
		Title:     res.Title,
		Checksum:  checksum.Sum(data),
		UpdatedAt: time.Now(),
	}, res.Body)
}
