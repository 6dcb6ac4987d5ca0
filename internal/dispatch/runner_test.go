package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/aobridge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(p, []byte("#!/bin/bash\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return p
}

func TestProcessRunner_CapturesStreams(t *testing.T) {
	script := writeScript(t, `echo "debug line" >&2
echo "{\"success\":true,\"echo\":\"$1\"}"
exit 3
`)
	r := &ProcessRunner{}

	exe, err := r.Run(context.Background(), Invocation{
		ID:         "inv-1",
		Path:       script,
		Args:       []string{"hello"},
		Entrypoint: script,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := string(exe.Stdout); !strings.Contains(got, `"echo":"hello"`) {
		t.Errorf("stdout = %q", got)
	}
	if !strings.Contains(exe.Stderr, "debug line") {
		t.Errorf("stderr = %q", exe.Stderr)
	}
	if exe.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", exe.ExitCode)
	}
}

func TestProcessRunner_PassesEnv(t *testing.T) {
	script := writeScript(t, `echo -n "$AOBRIDGE_MU_URL"`)
	r := &ProcessRunner{}

	exe, err := r.Run(context.Background(), Invocation{
		Path:    script,
		Env:     []string{"PATH=" + os.Getenv("PATH"), "AOBRIDGE_MU_URL=http://mu.test"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(exe.Stdout) != "http://mu.test" {
		t.Errorf("stdout = %q", exe.Stdout)
	}
}

func TestProcessRunner_Timeout(t *testing.T) {
	script := writeScript(t, `echo -n '{"success":'
sleep 10
`)
	r := &ProcessRunner{GracePeriod: 200 * time.Millisecond}

	start := time.Now()
	exe, err := r.Run(context.Background(), Invocation{
		Path:    script,
		Timeout: 300 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if exe == nil || string(exe.Stdout) != `{"success":` {
		t.Errorf("partial stdout not kept: %+v", exe)
	}
}

func TestProcessRunner_Cancelled(t *testing.T) {
	script := writeScript(t, "sleep 10\n")
	r := &ProcessRunner{GracePeriod: 200 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Run(ctx, Invocation{Path: script, Timeout: 10 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestProcessRunner_TimeoutKillsForkedChildren(t *testing.T) {
	// The TERM disposition is inherited, so only SIGKILL to the whole group ends the sleep.
	script := writeScript(t, `trap '' TERM
sleep 30 &
sleep 30
`)
	r := &ProcessRunner{GracePeriod: 200 * time.Millisecond}

	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{Path: script, Timeout: 300 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("termination took %v", elapsed)
	}
}

func TestProcessRunner_LeakedPipeDoesNotBlock(t *testing.T) {
	script := writeScript(t, `echo '{"success":true}'
sleep 30 &
exit 0
`)
	r := &ProcessRunner{}

	start := time.Now()
	exe, err := r.Run(context.Background(), Invocation{Path: script, Timeout: 20 * time.Second})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %v", elapsed)
	}
	if got := strings.TrimSpace(string(exe.Stdout)); got != `{"success":true}` {
		t.Errorf("stdout = %q", got)
	}
	if exe.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", exe.ExitCode)
	}
}

func TestProcessRunner_LaunchFailures(t *testing.T) {
	script := writeScript(t, "exit 0\n")

	tests := []struct {
		name string
		inv  Invocation
	}{
		{"missing runtime", Invocation{Path: "aobridge-no-such-runtime", Args: []string{script, "{}"}, Entrypoint: script}},
		{"missing entrypoint", Invocation{Path: "bash", Args: []string{"/nonexistent/worker.js", "{}"}, Entrypoint: "/nonexistent/worker.js"}},
		{"missing binary", Invocation{Path: "/nonexistent/aobridge-worker", Entrypoint: "/nonexistent/aobridge-worker"}},
	}

	r := &ProcessRunner{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exe, err := r.Run(context.Background(), tt.inv)
			if !errors.Is(err, ErrLaunch) {
				t.Fatalf("Run() error = %v, want ErrLaunch", err)
			}
			if exe != nil {
				t.Errorf("expected no execution, got %+v", exe)
			}
		})
	}
}

func TestTruncateStderr(t *testing.T) {
	long := strings.Repeat("x", maxStderrBytes+10)
	if got := truncateStderr(long); len(got) != maxStderrBytes {
		t.Errorf("len = %d, want %d", len(got), maxStderrBytes)
	}
	if got := truncateStderr("short"); got != "short" {
		t.Errorf("short stderr changed: %q", got)
	}
}
