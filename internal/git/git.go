// Package git runs the git executable as an opaque external process and
// reports its exit status together with the captured output streams.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/starford/hibi/internal/apperr"
)

// Runner invokes git with a fixed argument vector in a working directory.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (*Outcome, error)
}

// Outcome is the captured result of one invocation.
type Outcome struct {
	Binary   string // executable that ran; empty means git
	Args     []string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports whether the process exited with status zero.
func (o *Outcome) Success() bool {
	return o.ExitCode == 0
}

// CommandLine renders the invocation as typed in a shell, e.g. "git add -A".
func (o *Outcome) CommandLine() string {
	return commandLine(o.Binary, o.Args)
}

// CommandLine renders args as a git command line.
func CommandLine(args []string) string {
	return commandLine("", args)
}

func commandLine(binary string, args []string) string {
	if binary == "" {
		binary = defaultBinary
	}
	return strings.TrimSpace(binary + " " + strings.Join(args, " "))
}

// SpawnError means the process could not be started (missing binary,
// missing working directory). It wraps apperr.ErrToolSpawn.
type SpawnError struct {
	Binary string
	Args   []string
	Dir    string
	Err    error
}

// CommandLine renders the command that failed to start.
func (e *SpawnError) CommandLine() string {
	return commandLine(e.Binary, e.Args)
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: cannot start in %s: %v", e.CommandLine(), e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{apperr.ErrToolSpawn, e.Err}
}

// ExitError means git ran and exited unsuccessfully. It wraps
// apperr.ErrToolExecution and, for timed-out runs, context.DeadlineExceeded.
type ExitError struct {
	Outcome *Outcome
	Err     error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Outcome.CommandLine(), e.Outcome.ExitCode)
	if stderr := strings.TrimSpace(string(e.Outcome.Stderr)); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ExitError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperr.ErrToolExecution}
	}
	return []error{apperr.ErrToolExecution, e.Err}
}

// Stderr returns the stderr captured from a failed invocation anywhere in
// err's chain, or nil.
func Stderr(err error) []byte {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Outcome.Stderr
	}
	return nil
}

const (
	defaultBinary = "git"

	// waitDelay bounds how long Wait keeps copying output after the
	// process group has been killed.
	waitDelay = 2 * time.Second
)

// Exec is the Runner backed by os/exec.
type Exec struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// ExecOption configures an Exec runner.
type ExecOption func(*Exec)

// WithBinary overrides the executable name or path (default "git").
func WithBinary(binary string) ExecOption {
	return func(e *Exec) {
		if binary != "" {
			e.binary = binary
		}
	}
}

// WithTimeout bounds each invocation. Zero disables the bound.
func WithTimeout(d time.Duration) ExecOption {
	return func(e *Exec) {
		e.timeout = d
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) ExecOption {
	return func(e *Exec) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExec creates an os/exec backed runner.
func NewExec(opts ...ExecOption) *Exec {
	e := &Exec{binary: defaultBinary, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts git, waits for it to exit and captures both output streams.
// Each call runs exactly once; there are no retries.
func (e *Exec) Run(ctx context.Context, dir string, args ...string) (*Outcome, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	line := commandLine(e.binary, args)
	e.logger.Debug("run command", slog.String("command", line), slog.String("dir", dir))

	if err := cmd.Start(); err != nil {
		e.logger.Error("failed to start command",
			slog.String("command", line), slog.String("dir", dir), slog.String("error", err.Error()))
		return nil, &SpawnError{Binary: e.binary, Args: args, Dir: dir, Err: err}
	}

	waitErr := cmd.Wait()
	out := &Outcome{
		Binary:   e.binary,
		Args:     args,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	if waitErr != nil {
		if out.ExitCode == 0 {
			// Killed by signal or I/O copy failure; never report success.
			out.ExitCode = -1
		}
		e.logger.Error("failed on run command",
			slog.String("command", line),
			slog.Int("exit_code", out.ExitCode),
			slog.String("stderr", string(out.Stderr)))
		return out, &ExitError{Outcome: out, Err: ctx.Err()}
	}

	e.logger.Debug("command finished", slog.String("command", line), slog.String("stdout", string(out.Stdout)))
	return out, nil
}

var _ Runner = (*Exec)(nil)
