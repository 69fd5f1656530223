package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// mockCommandRunner records calls and returns canned responses.
type mockCommandRunner struct {
	calls   []mockCall
	results []mockResult
	callIdx int
}

type mockCall struct {
	name string
	args []string
}

type mockResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (m *mockCommandRunner) Run(_ context.Context, name string, args ...string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{name: name, args: args})
	if m.callIdx >= len(m.results) {
		return "", "", -1, fmt.Errorf("unexpected call %d", m.callIdx)
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.stdout, r.stderr, r.exitCode, r.err
}

func TestShellRuntime_Run(t *testing.T) {
	rt := NewShellRuntime("/bin/sh", 10*time.Second)

	result, err := rt.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit_code = %d, want 0", result.ExitCode)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want hello\\n", result.Stdout)
	}
}

func TestShellRuntime_NonZeroExit(t *testing.T) {
	rt := NewShellRuntime("/bin/sh", 10*time.Second)

	result, err := rt.Run(context.Background(), "echo boom >&2; exit 3")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit_code = %d, want 3", result.ExitCode)
	}
	if strings.TrimSpace(result.Stderr) != "boom" {
		t.Errorf("stderr = %q, want boom", result.Stderr)
	}
}

func TestShellRuntime_Timeout(t *testing.T) {
	rt := NewShellRuntime("/bin/sh", 100*time.Millisecond)

	start := time.Now()
	_, err := rt.Run(context.Background(), "sleep 5")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want timed out", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
}

func TestShellRuntime_EmptyCommand(t *testing.T) {
	rt := NewShellRuntime("", 0)
	if _, err := rt.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestShellRuntime_UsesConfiguredShell(t *testing.T) {
	runner := &mockCommandRunner{
		results: []mockResult{{stdout: "root\n"}},
	}
	rt := newShellRuntimeWithRunner("/bin/bash", 0, runner)

	result, err := rt.Run(context.Background(), "whoami")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Stdout != "root\n" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(runner.calls))
	}
	call := runner.calls[0]
	if call.name != "/bin/bash" {
		t.Errorf("shell = %q, want /bin/bash", call.name)
	}
	if len(call.args) != 2 || call.args[0] != "-c" || call.args[1] != "whoami" {
		t.Errorf("args = %v, want [-c whoami]", call.args)
	}
}

func TestShellRuntime_RunnerError(t *testing.T) {
	runner := &mockCommandRunner{
		results: []mockResult{{exitCode: -1, err: errors.New("exec: not found")}},
	}
	rt := newShellRuntimeWithRunner("/nope", 0, runner)
	if _, err := rt.Run(context.Background(), "ls"); err == nil {
		t.Fatal("expected runner error")
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		res  RunResult
		err  error
		want string
	}{
		{"stdout trimmed", RunResult{Stdout: "root\n"}, nil, "root"},
		{"no output", RunResult{}, nil, "Command executed successfully"},
		{"stderr only", RunResult{Stderr: "warning\n"}, nil, "ERROR: warning"},
		{"stdout wins over stderr", RunResult{Stdout: "ok", Stderr: "note"}, nil, "ok"},
		{"non-zero exit with stderr", RunResult{ExitCode: 2, Stderr: "no such file\n"}, nil, "ERROR: no such file"},
		{"non-zero exit silent", RunResult{ExitCode: 1}, nil, "ERROR: exit status 1"},
		{"run error", RunResult{}, errors.New("timed out"), "ERROR: timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResult(tt.res, tt.err); got != tt.want {
				t.Errorf("FormatResult = %q, want %q", got, tt.want)
			}
		})
	}
}
