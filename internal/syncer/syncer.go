// Package syncer runs the diary synchronization sequence against a git
// working copy: pull, write the entry, stage, commit, push.
//
// Steps run in a fixed order and the first failure aborts the sequence.
// Nothing is rolled back: a written file or a local commit stays in place
// when a later step fails, and the next successful run restages it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/starford/hibi/internal/apperr"
	"github.com/starford/hibi/internal/diary"
	"github.com/starford/hibi/internal/git"
	"github.com/starford/hibi/internal/storage"
)

// Step names, in execution order.
const (
	StepValidate = "validate"
	StepResolve  = "resolve"
	StepPull     = "pull"
	StepWrite    = "write"
	StepStage    = "stage"
	StepCommit   = "commit"
	StepPush     = "push"
)

// Options controls git targets and the on-disk layout.
type Options struct {
	Remote  string // default "origin"
	PullRef string // default "main"
	PushRef string // default "HEAD"
	Subdir  string // entry directory inside the working copy, "" for the root
	Ext     string // entry extension, default "md"
}

func (o *Options) applyDefaults() {
	if o.Remote == "" {
		o.Remote = "origin"
	}
	if o.PullRef == "" {
		o.PullRef = "main"
	}
	if o.PushRef == "" {
		o.PushRef = "HEAD"
	}
	if o.Ext == "" {
		o.Ext = storage.DefaultExt
	}
}

// StepReport describes a step that completed.
type StepReport struct {
	Name     string        `json:"name"`
	Command  string        `json:"command,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result describes a run. It is returned for failed runs too, listing the
// steps that completed before the failure.
type Result struct {
	Date      diary.Date
	Root      string
	RelPath   string // relative to Root, including the subdirectory
	EntryPath string // relative to the entry directory
	Path      string
	Steps     []StepReport
}

// StepError identifies the step that aborted a run.
type StepError struct {
	Step    string
	Command string
	Err     error
}

func (e *StepError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s step failed (%s): %v", e.Step, e.Command, e.Err)
	}
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Stderr returns the git stderr captured for the failed step, if any.
func (e *StepError) Stderr() []byte {
	return git.Stderr(e.Err)
}

// FailedStep returns the failed step name from err's chain, or "".
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// Sequencer runs the synchronization sequence. It holds no per-run state and
// does not serialize callers; exclusivity belongs to the caller.
type Sequencer struct {
	locator Locator
	runner  git.Runner
	opts    Options
	logger  *slog.Logger
}

// New creates a Sequencer.
func New(locator Locator, runner git.Runner, opts Options, logger *slog.Logger) *Sequencer {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{locator: locator, runner: runner, opts: opts, logger: logger}
}

// run carries state between the steps of one SyncDiary call.
type run struct {
	rec     diary.Record
	store   *storage.FS
	command string
	result  *Result
}

type step struct {
	name string
	fn   func(context.Context, *run) error
}

func (s *Sequencer) pipeline() []step {
	return []step{
		{StepValidate, s.validate},
		{StepResolve, s.resolve},
		{StepPull, s.pull},
		{StepWrite, s.write},
		{StepStage, s.stage},
		{StepCommit, s.commit},
		{StepPush, s.push},
	}
}

// SyncDiary writes rec into the working copy and publishes it. On failure the
// returned error is a *StepError naming the step that failed.
func (s *Sequencer) SyncDiary(ctx context.Context, rec diary.Record) (*Result, error) {
	r := &run{rec: rec, result: &Result{}}
	for _, st := range s.pipeline() {
		r.command = ""
		started := time.Now()
		if err := st.fn(ctx, r); err != nil {
			s.logger.Error("sync step failed",
				slog.String("step", st.name),
				slog.String("command", r.command),
				slog.String("error", err.Error()))
			return r.result, &StepError{Step: st.name, Command: r.command, Err: err}
		}
		elapsed := time.Since(started)
		r.result.Steps = append(r.result.Steps, StepReport{Name: st.name, Command: r.command, Duration: elapsed})
		s.logger.Debug("sync step done", slog.String("step", st.name), slog.Duration("duration", elapsed))
	}
	s.logger.Info("diary synchronized",
		slog.String("date", r.result.Date.String()),
		slog.String("path", r.result.Path))
	return r.result, nil
}

func (s *Sequencer) validate(_ context.Context, r *run) error {
	d, err := diary.ParseDate(r.rec.Date)
	if err != nil {
		return err
	}
	r.result.Date = d
	r.result.EntryPath = d.RelPath(s.opts.Ext)
	r.result.RelPath = path.Join(s.opts.Subdir, r.result.EntryPath)
	return nil
}

func (s *Sequencer) resolve(_ context.Context, r *run) error {
	root, err := s.locator.Locate()
	if err != nil {
		return err
	}
	if root == "" {
		return apperr.ErrConfigurationMissing
	}
	store, err := storage.NewFS(root, s.opts.Ext)
	if err != nil {
		return fmt.Errorf("repository %s: %w", root, err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), ".git")); err != nil {
		return fmt.Errorf("%w: %s is not a git working copy", apperr.ErrFilesystem, store.Root())
	}
	abs, err := store.Abs(r.result.RelPath)
	if err != nil {
		return err
	}
	r.store = store
	r.result.Root = store.Root()
	r.result.Path = abs
	return nil
}

func (s *Sequencer) pull(ctx context.Context, r *run) error {
	return s.git(ctx, r, "pull", s.opts.Remote, s.opts.PullRef)
}

func (s *Sequencer) write(_ context.Context, r *run) error {
	return r.store.Write(r.result.RelPath, diary.Format(r.rec))
}

func (s *Sequencer) stage(ctx context.Context, r *run) error {
	return s.git(ctx, r, "add", "-A")
}

func (s *Sequencer) commit(ctx context.Context, r *run) error {
	return s.git(ctx, r, "commit", "--all", "-m", r.result.Date.CommitMessage())
}

func (s *Sequencer) push(ctx context.Context, r *run) error {
	return s.git(ctx, r, "push", s.opts.Remote, s.opts.PushRef)
}

func (s *Sequencer) git(ctx context.Context, r *run, args ...string) error {
	r.command = git.CommandLine(args)
	out, err := s.runner.Run(ctx, r.result.Root, args...)
	var se *git.SpawnError
	switch {
	case out != nil:
		r.command = out.CommandLine()
	case errors.As(err, &se):
		r.command = se.CommandLine()
	}
	if err != nil {
		return err
	}
	if out != nil && !out.Success() {
		return &git.ExitError{Outcome: out}
	}
	return nil
}
