package git

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/starford/hibi/internal/apperr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestCommandLine(t *testing.T) {
	if got := CommandLine([]string{"commit", "--all", "-m", "msg"}); got != "git commit --all -m msg" {
		t.Errorf("CommandLine = %q", got)
	}
	o := &Outcome{Args: []string{"add", "-A"}}
	if o.CommandLine() != "git add -A" {
		t.Errorf("Outcome.CommandLine = %q", o.CommandLine())
	}
	o = &Outcome{Binary: "/usr/local/bin/git", Args: []string{"add", "-A"}}
	if o.CommandLine() != "/usr/local/bin/git add -A" {
		t.Errorf("Outcome.CommandLine with binary = %q", o.CommandLine())
	}
}

func TestRun_ReportsConfiguredBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	requireBinary(t, "sh")
	r := NewExec(WithBinary("sh"), WithLogger(quietLogger()))
	out, err := r.Run(context.Background(), t.TempDir(), "-c", "exit 3")
	if err == nil {
		t.Fatal("expected error")
	}
	if out.CommandLine() != "sh -c exit 3" {
		t.Errorf("CommandLine = %q", out.CommandLine())
	}
	if !strings.HasPrefix(err.Error(), "sh -c exit 3 failed (exit 3)") {
		t.Errorf("Error = %q", err.Error())
	}

	r = NewExec(WithBinary("hibi-no-such-binary"), WithLogger(quietLogger()))
	_, err = r.Run(context.Background(), t.TempDir(), "status")
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
	if se.CommandLine() != "hibi-no-such-binary status" {
		t.Errorf("SpawnError.CommandLine = %q", se.CommandLine())
	}
}

func TestRun_Success(t *testing.T) {
	requireBinary(t, "git")
	r := NewExec(WithLogger(quietLogger()))
	out, err := r.Run(context.Background(), t.TempDir(), "--version")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Success() {
		t.Errorf("exit code = %d", out.ExitCode)
	}
	if !strings.HasPrefix(string(out.Stdout), "git version") {
		t.Errorf("stdout = %q", out.Stdout)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	requireBinary(t, "git")
	r := NewExec(WithLogger(quietLogger()))
	out, err := r.Run(context.Background(), t.TempDir(), "no-such-subcommand")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperr.ErrToolExecution) {
		t.Errorf("err = %v, want ErrToolExecution", err)
	}
	if errors.Is(err, apperr.ErrToolSpawn) {
		t.Error("exit failure must not be reported as spawn failure")
	}
	if out == nil || out.Success() {
		t.Fatalf("outcome = %+v", out)
	}
	if len(Stderr(err)) == 0 {
		t.Error("stderr not captured")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	r := NewExec(WithBinary("hibi-no-such-binary"), WithLogger(quietLogger()))
	out, err := r.Run(context.Background(), t.TempDir(), "status")
	if !errors.Is(err, apperr.ErrToolSpawn) {
		t.Fatalf("err = %v, want ErrToolSpawn", err)
	}
	if out != nil {
		t.Errorf("outcome should be nil on spawn failure")
	}
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Errorf("err is not *SpawnError: %T", err)
	}
}

func TestRun_MissingDir(t *testing.T) {
	requireBinary(t, "git")
	r := NewExec(WithLogger(quietLogger()))
	_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "absent"), "status")
	if !errors.Is(err, apperr.ErrToolSpawn) {
		t.Fatalf("err = %v, want ErrToolSpawn", err)
	}
}

func TestRun_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	requireBinary(t, "sh")
	r := NewExec(WithBinary("sh"), WithTimeout(100*time.Millisecond), WithLogger(quietLogger()))
	start := time.Now()
	_, err := r.Run(context.Background(), t.TempDir(), "-c", "sleep 5")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded in chain", err)
	}
	if !errors.Is(err, apperr.ErrToolExecution) {
		t.Errorf("err = %v, want ErrToolExecution", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestRun_TimeoutKillsChildProcesses(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	requireBinary(t, "sh")
	requireBinary(t, "sleep")
	r := NewExec(WithBinary("sh"), WithTimeout(100*time.Millisecond), WithLogger(quietLogger()))
	start := time.Now()
	// The shell forks sleep as a child that inherits the output pipes.
	out, err := r.Run(context.Background(), t.TempDir(), "-c", "sleep 5; echo done")
	elapsed := time.Since(start)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded in chain", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("run took %s, child outlived the timeout", elapsed)
	}
	if out == nil || out.Success() {
		t.Fatalf("outcome = %+v", out)
	}
	if strings.Contains(string(out.Stdout), "done") {
		t.Errorf("stdout = %q, command ran to completion", out.Stdout)
	}
}

func TestExitError_Message(t *testing.T) {
	err := &ExitError{Outcome: &Outcome{Args: []string{"push", "origin", "HEAD"}, Stderr: []byte("fatal: unreachable\n"), ExitCode: 128}}
	want := "git push origin HEAD failed (exit 128): fatal: unreachable"
	if err.Error() != want {
		t.Errorf("Error = %q, want %q", err.Error(), want)
	}
}
