// Package testutil provides shared test helpers: temporary databases,
// temporary working copies and a recording git runner.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/starford/hibi/internal/git"
	"github.com/starford/hibi/internal/index"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "hibi-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRepo creates a temporary directory that looks like a git working copy
// (it has a .git directory) for use with FakeRunner.
func TestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

// FakeRunner records git invocations instead of running them.
//
// FailOn maps a subcommand ("pull", "add", "commit", "push") to the stderr
// it should fail with. Hook, when set, runs before each invocation and may
// block to hold a run in progress.
type FakeRunner struct {
	FailOn map[string]string
	Hook   func(ctx context.Context, dir string, args []string)

	mu    sync.Mutex
	calls []Call
}

// Call is one recorded invocation.
type Call struct {
	Dir  string
	Args []string
}

// Run implements git.Runner.
func (f *FakeRunner) Run(ctx context.Context, dir string, args ...string) (*git.Outcome, error) {
	if f.Hook != nil {
		f.Hook(ctx, dir, args)
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Dir: dir, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	out := &git.Outcome{Args: args}
	if len(args) > 0 {
		if stderr, ok := f.FailOn[args[0]]; ok {
			out.ExitCode = 1
			out.Stderr = []byte(stderr)
			return out, &git.ExitError{Outcome: out}
		}
	}
	return out, nil
}

// Calls returns a copy of the recorded invocations.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Subcommands returns the first argument of every recorded invocation.
func (f *FakeRunner) Subcommands() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		if len(c.Args) > 0 {
			out[i] = c.Args[0]
		}
	}
	return out
}

// CommandLines returns every recorded invocation rendered as a command line.
func (f *FakeRunner) CommandLines() string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = git.CommandLine(c.Args)
	}
	return strings.Join(lines, "\n")
}

var _ git.Runner = (*FakeRunner)(nil)
