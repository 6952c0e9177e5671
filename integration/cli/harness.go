//go:build integration

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the hashsync binary once and runs it against a scratch
// workspace holding a source tree, a destination tree and a manifest dir.
type Harness struct {
	t      *testing.T
	binary string
	root   string
}

// NewHarness creates a new test harness rooted in a temporary directory
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{t: t, root: t.TempDir()}
}

// Build compiles the CLI into the workspace
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.root, "bin", "hashsync")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/hashsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Source returns the absolute path of a source tree entry
func (h *Harness) Source(rel string) string {
	return filepath.Join(h.root, "src", filepath.FromSlash(rel))
}

// Dest returns the absolute path of a destination tree entry
func (h *Harness) Dest(rel string) string {
	return filepath.Join(h.root, "dst", filepath.FromSlash(rel))
}

// ManifestPath returns the path of a manifest in the state dir
func (h *Harness) ManifestPath(name string) string {
	return filepath.Join(h.root, "state", name)
}

// ConfigPath returns the path of the generated config file
func (h *Harness) ConfigPath() string {
	return filepath.Join(h.root, "config.yaml")
}

// Setup creates both tree roots and writes a config file pointing at them
func (h *Harness) Setup(extra string) error {
	h.t.Helper()
	for _, dir := range []string{h.Source(""), h.Dest("")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	cfg := fmt.Sprintf("paths:\n  source: %q\n  dest: %q\nmanifests:\n  dir: %q\n%s",
		h.Source(""), h.Dest(""), filepath.Join(h.root, "state"), extra)
	return os.WriteFile(h.ConfigPath(), []byte(cfg), 0644)
}

// Exec runs the binary with the generated config and JSON logs
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	args = append(args, "--config", h.ConfigPath(), "--log-format", "json", "--log-level", "debug")
	cmd := exec.CommandContext(ctx, h.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustExec runs a command and fails the test if it returns non-zero
func (h *Harness) MustExec(ctx context.Context, args ...string) []LogEntry {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	entries, err := ParseLogs(stdout)
	if err != nil {
		h.t.Fatalf("parse logs: %v", err)
	}
	return entries
}

// WriteFile writes a file below the workspace, creating parents
func (h *Harness) WriteFile(path, content string) error {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// ReadFile reads a file from the workspace
func (h *Harness) ReadFile(path string) (string, error) {
	h.t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists reports whether a regular file exists at path
func (h *Harness) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// LogEntry is one JSON log record written by the binary
type LogEntry map[string]any

// Msg returns the record's message
func (e LogEntry) Msg() string {
	msg, _ := e["msg"].(string)
	return msg
}

// Int returns a numeric attribute, or -1 when absent
func (e LogEntry) Int(key string) int {
	v, ok := e[key].(float64)
	if !ok {
		return -1
	}
	return int(v)
}

// String returns a human-readable representation
func (e LogEntry) String() string {
	return fmt.Sprintf("%v %s", e["level"], e.Msg())
}

// ParseLogs decodes JSON log lines; non-JSON lines are skipped
func ParseLogs(out string) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("decode %q: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// FindLog returns the last entry with the given message
func FindLog(entries []LogEntry, msg string) (LogEntry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Msg() == msg {
			return entries[i], true
		}
	}
	return nil, false
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	// Get the directory of this source file
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
