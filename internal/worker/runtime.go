package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/me/wdist/pkg/model"
)

// emptyOutput is reported when a command succeeds without printing anything.
const emptyOutput = "Command executed successfully"

// Runtime executes a command line received from the coordinator.
type Runtime interface {
	Run(ctx context.Context, command string) (RunResult, error)
}

// RunResult captures the output of an execution.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// osCommandRunner is the real implementation using os/exec.
type osCommandRunner struct{}

func (r *osCommandRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	// Grandchildren may keep the pipes open after the shell is killed.
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return stdout, stderr, 0, nil
	case ctx.Err() != nil:
		return stdout, stderr, -1, ctx.Err()
	case errors.As(runErr, &exitErr):
		return stdout, stderr, exitErr.ExitCode(), nil
	default:
		return stdout, stderr, -1, runErr
	}
}

// ShellRuntime runs each command through "<shell> -c" with a time limit.
type ShellRuntime struct {
	shell   string
	timeout time.Duration
	runner  CommandRunner
}

// NewShellRuntime creates a ShellRuntime. A zero timeout means no limit.
func NewShellRuntime(shell string, timeout time.Duration) *ShellRuntime {
	return newShellRuntimeWithRunner(shell, timeout, &osCommandRunner{})
}

func newShellRuntimeWithRunner(shell string, timeout time.Duration, runner CommandRunner) *ShellRuntime {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ShellRuntime{shell: shell, timeout: timeout, runner: runner}
}

func (r *ShellRuntime) Run(ctx context.Context, command string) (RunResult, error) {
	if strings.TrimSpace(command) == "" {
		return RunResult{}, fmt.Errorf("shell runtime: empty command")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, exitCode, err := r.runner.Run(ctx, r.shell, "-c", command)
	result := RunResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return result, fmt.Errorf("shell runtime: command timed out after %s", r.timeout)
	}
	if err != nil {
		return result, fmt.Errorf("shell runtime: %w", err)
	}
	return result, nil
}

// FormatResult turns an execution outcome into the payload reported to the
// coordinator. Failures carry the "ERROR:" prefix: a run error, a non-zero
// exit, or a command that printed only to stderr.
func FormatResult(res RunResult, err error) string {
	stdout := strings.TrimSpace(res.Stdout)
	stderr := strings.TrimSpace(res.Stderr)

	switch {
	case err != nil:
		return failure(err.Error())
	case res.ExitCode != 0:
		if stderr == "" {
			stderr = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return failure(stderr)
	case stdout == "" && stderr != "":
		return failure(stderr)
	case stdout == "":
		return emptyOutput
	}
	return stdout
}

func failure(msg string) string {
	return model.ResultErrorPrefix + " " + msg
}
