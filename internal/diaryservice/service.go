// Package diaryservice coordinates diary submissions and reads: it owns the
// exclusive guard, drives the sync sequencer, keeps run history and the entry
// index current, and publishes progress events.
package diaryservice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/hibi/internal/apperr"
	"github.com/starford/hibi/internal/diary"
	"github.com/starford/hibi/internal/git"
	"github.com/starford/hibi/internal/guard"
	"github.com/starford/hibi/internal/index"
	"github.com/starford/hibi/internal/models"
	"github.com/starford/hibi/internal/sse"
	"github.com/starford/hibi/internal/syncer"
)

// Syncer runs one synchronization. *syncer.Sequencer satisfies it.
type Syncer interface {
	SyncDiary(ctx context.Context, rec diary.Record) (*syncer.Result, error)
}

// Publisher receives progress events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(event sse.Event)
}

// EntryListItem is a lightweight item in a list response.
type EntryListItem struct {
	Path      string    `json:"path"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status describes the current state of the synchronization gate.
type Status struct {
	Busy    bool            `json:"busy"`
	LastRun *models.SyncRun `json:"last_run,omitempty"`
}

// Service coordinates the guard, sequencer and index.
type Service struct {
	guard  *guard.Guard
	sync   Syncer
	db     *index.DB
	pub    Publisher
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. db may be nil, in which case run history and
// read operations are unavailable.
func New(g *guard.Guard, sq Syncer, db *index.DB, opts ...Option) *Service {
	s := &Service{guard: g, sync: sq, db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Guard returns the guard shared by every submission path.
func (s *Service) Guard() *guard.Guard {
	return s.guard
}

// Submit runs one synchronization for rec while holding the guard. It returns
// apperr.ErrBusy without side effects when another run is in progress. On
// failure the error is the sequencer's *syncer.StepError.
func (s *Service) Submit(ctx context.Context, rec diary.Record) (*syncer.Result, error) {
	release, ok := s.guard.TryAcquire()
	if !ok {
		s.logger.Info("diary submission refused, sync in progress", slog.String("date", rec.Date))
		return nil, apperr.ErrBusy
	}
	defer release()

	started := time.Now()
	s.publish(sse.TypeSyncStarted, map[string]string{"date": rec.Date})

	// A client that disconnects must not interrupt git halfway through; the
	// runner's own timeout still bounds each command.
	res, err := s.sync.SyncDiary(context.WithoutCancel(ctx), rec)
	run := models.SyncRun{
		Date:       rec.Date,
		Status:     models.RunSucceeded,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		var se *syncer.StepError
		if errors.As(err, &se) {
			run.FailedStep = se.Step
			run.Command = se.Command
			run.Stderr = string(se.Stderr())
		}
		s.record(run)
		s.publish(sse.TypeSyncFailed, map[string]string{
			"date":    rec.Date,
			"step":    run.FailedStep,
			"command": run.Command,
			"error":   run.Error,
		})
		return res, err
	}

	s.record(run)
	if s.db != nil && res.EntryPath != "" {
		if ierr := index.IndexFile(s.db, res.EntryPath, diary.Format(rec)); ierr != nil {
			s.logger.Warn("index written entry", slog.String("path", res.EntryPath), slog.String("error", ierr.Error()))
		}
	}
	s.publish(sse.TypeSyncSucceeded, map[string]string{
		"date": rec.Date,
		"path": res.EntryPath,
	})
	return res, nil
}

func (s *Service) record(run models.SyncRun) {
	if s.db == nil {
		return
	}
	if _, err := s.db.InsertRun(run); err != nil {
		s.logger.Warn("record sync run", slog.String("error", err.Error()))
	}
}

func (s *Service) publish(kind string, data map[string]string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(sse.Event{Type: kind, Data: data})
}

// ListEntries returns indexed entries, newest first.
func (s *Service) ListEntries(_ context.Context, limit, offset int) ([]EntryListItem, int, error) {
	if s.db == nil {
		return []EntryListItem{}, 0, nil
	}
	rows, total, err := s.db.ListEntries(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]EntryListItem, len(rows))
	for i, r := range rows {
		items[i] = EntryListItem{
			Path:      r.Path,
			Date:      r.Date,
			Title:     r.Title,
			Checksum:  r.Checksum,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// GetEntry returns the indexed entry for a YYYY-MM-DD date.
func (s *Service) GetEntry(_ context.Context, date string) (*models.Entry, error) {
	d, err := diary.ParseDate(date)
	if err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, apperr.ErrNotFound
	}
	row, body, err := s.db.GetEntry(d.String())
	if err != nil {
		return nil, err
	}
	return &models.Entry{
		Path:      row.Path,
		Date:      row.Date,
		Title:     row.Title,
		Body:      body,
		Checksum:  row.Checksum,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if s.db == nil {
		return []index.SearchResult{}, nil
	}
	return s.db.Search(query, limit)
}

// Runs returns the most recent synchronization runs.
func (s *Service) Runs(_ context.Context, limit int) ([]models.SyncRun, error) {
	if s.db == nil {
		return []models.SyncRun{}, nil
	}
	runs, err := s.db.ListRuns(limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	return runs, nil
}

// Status reports whether a run is in progress and the last recorded run.
func (s *Service) Status(_ context.Context) (*Status, error) {
	st := &Status{Busy: s.guard.Busy()}
	if s.db == nil {
		return st, nil
	}
	last, err := s.db.LastRun()
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	st.LastRun = last
	return st, nil
}

// FailureDetail extracts what a failure page shows: the failed step, the
// command line and the captured stderr.
func FailureDetail(err error) (step, command string, stderr []byte) {
	var se *syncer.StepError
	if errors.As(err, &se) {
		return se.Step, se.Command, se.Stderr()
	}
	return "", "", git.Stderr(err)
}
