package sandbox

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSession_Run(t *testing.T) {
	s := NewSession(Config{WorkDir: t.TempDir()})

	result, err := s.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "hello" {
		t.Errorf("Stdout = %q, want hello", got)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Duration <= 0 {
		t.Error("Duration not recorded")
	}
}

func TestSession_RunStderrAndExitCode(t *testing.T) {
	s := NewSession(Config{WorkDir: t.TempDir()})

	result, err := s.Run(context.Background(), "echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(result.Stderr); got != "oops" {
		t.Errorf("Stderr = %q, want oops", got)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if result.Error == "" {
		t.Error("expected Error to be set for non-zero exit")
	}
}

func TestSession_RunStripsFences(t *testing.T) {
	s := NewSession(Config{WorkDir: t.TempDir()})

	result, err := s.Run(context.Background(), "```sh\necho fenced\n```")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "fenced" {
		t.Errorf("Stdout = %q, want fenced", got)
	}
}

func TestSession_RunEmptyCode(t *testing.T) {
	s := NewSession(Config{})
	if _, err := s.Run(context.Background(), "   \n"); err == nil {
		t.Fatal("expected error for empty code")
	}
}

func TestSession_WorkDirPersists(t *testing.T) {
	base := t.TempDir()
	s := NewSession(Config{WorkDir: base})

	_, err := s.Run(context.Background(), "mkdir -p sub && cd sub")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	moved := s.WorkDir()
	if filepath.Base(moved) != "sub" {
		t.Fatalf("WorkDir = %q, want a sub directory", moved)
	}

	result, err := s.Run(context.Background(), "pwd")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != moved {
		t.Errorf("pwd = %q, want %q", got, moved)
	}
}

func TestSession_EnvPersists(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(Config{
		WorkDir: dir,
		EnvFile: filepath.Join(dir, "context.env"),
	})

	if _, err := s.Run(context.Background(), "export OPERANT_TEST_VALUE=42"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result, err := s.Run(context.Background(), "echo $OPERANT_TEST_VALUE")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "42" {
		t.Errorf("persisted value = %q, want 42", got)
	}
}

func TestSession_LoggerStream(t *testing.T) {
	s := NewSession(Config{WorkDir: t.TempDir()})

	result, err := s.Run(context.Background(), `echo "from logger" >> "$OPERANT_LOG"`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(result.Logging); got != "from logger" {
		t.Errorf("Logging = %q, want from logger", got)
	}
	if result.Stdout != "" {
		t.Errorf("Stdout = %q, want empty", result.Stdout)
	}
}

func TestSession_Timeout(t *testing.T) {
	s := NewSession(Config{WorkDir: t.TempDir(), Timeout: 100 * time.Millisecond})

	result, err := s.Run(context.Background(), "sleep 5")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut")
	}
	if result.ExitCode == 0 {
		t.Error("timed out run should not report success")
	}
}

func TestSession_Cancelled(t *testing.T) {
	s := NewSession(Config{WorkDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := s.Run(ctx, "sleep 5")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Cancelled {
		t.Error("expected Cancelled")
	}
	if result.Error != CancelledMessage {
		t.Errorf("Error = %q, want %q", result.Error, CancelledMessage)
	}
}

func TestSession_OutputCap(t *testing.T) {
	s := NewSession(Config{WorkDir: t.TempDir(), MaxOutput: 64})

	result, err := s.Run(context.Background(), "i=0; while [ $i -lt 100 ]; do echo 'aaaaaaaaaaaaaaaa'; i=$((i+1)); done")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasSuffix(result.Stdout, truncationNote) {
		t.Error("expected truncation note on capped stdout")
	}
	if len(result.Stdout) > 64+len(truncationNote) {
		t.Errorf("Stdout length = %d, want <= %d", len(result.Stdout), 64+len(truncationNote))
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := newLimitedBuffer(10)

	n, err := b.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = (%d, %v), want (5, nil)", n, err)
	}
	if b.Truncated() {
		t.Error("buffer should not be truncated yet")
	}

	// Writes never error even past the cap.
	n, err = b.Write([]byte("world and more"))
	if err != nil || n != 14 {
		t.Fatalf("Write = (%d, %v), want (14, nil)", n, err)
	}
	if b.String() != "helloworld" {
		t.Errorf("String = %q, want helloworld", b.String())
	}
	if !b.Truncated() {
		t.Error("buffer should report truncation")
	}
}
