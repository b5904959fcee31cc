package index

import "github.com/starford/hibi/internal/models"

// EntryIndex defines the index operations used outside this package.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type EntryIndex interface {
	UpsertEntry(e EntryRow, body string) error
	DeleteEntry(path string) error
	GetEntry(date string) (*EntryRow, string, error)
	ListEntries(limit, offset int) ([]EntryRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	InsertRun(r models.SyncRun) (int64, error)
	ListRuns(limit int) ([]models.SyncRun, error)
	LastRun() (*models.SyncRun, error)
	Close() error
}

// Verify *DB satisfies EntryIndex at compile time.
var _ EntryIndex = (*DB)(nil)
