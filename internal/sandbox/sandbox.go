// Package sandbox executes model-written code in a subprocess with
// persistent working state per agent session.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultShell interprets code payloads.
	DefaultShell = "/bin/sh"
	// DefaultTimeout bounds one execution.
	DefaultTimeout = 120 * time.Second
	// DefaultMaxOutput caps each captured stream in bytes.
	DefaultMaxOutput = 64000

	// LogSinkEnv names the environment variable pointing code at the
	// logger stream file.
	LogSinkEnv = "OPERANT_LOG"

	truncationNote = "\n[Output truncated]"
)

// CancelledMessage is surfaced when an execution is cancelled mid-run.
const CancelledMessage = "Code execution canceled by user"

// Config configures a session.
type Config struct {
	Shell     string
	Timeout   time.Duration
	MaxOutput int
	// WorkDir is the initial working directory. Empty uses the process cwd.
	WorkDir string
	// EnvFile is the state file sourced before and rewritten after every
	// run so exported variables persist across invocations. Empty
	// disables persistence.
	EnvFile string
}

// Result is the outcome of one execution.
type Result struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Logging   string        `json:"logging"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	WorkDir   string        `json:"work_dir"`
	Cancelled bool          `json:"cancelled"`
	TimedOut  bool          `json:"timed_out"`
	Error     string        `json:"error,omitempty"`
}

// Session runs code payloads one at a time, carrying the working
// directory and exported environment forward between runs.
type Session struct {
	mu        sync.Mutex
	shell     string
	timeout   time.Duration
	maxOutput int
	workDir   string
	envFile   string
}

// NewSession creates a session with defaults applied.
func NewSession(cfg Config) *Session {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	return &Session{
		shell:     cfg.Shell,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutput,
		workDir:   cfg.WorkDir,
		envFile:   cfg.EnvFile,
	}
}

// WorkDir returns the session's current working directory.
func (s *Session) WorkDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workDir
}

// SetWorkDir repoints the session.
func (s *Session) SetWorkDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workDir = dir
}

// Run executes code under the session shell. Fenced payloads are
// unwrapped first. The returned error covers setup failures only;
// execution failures are reported through Result.
func (s *Session) Run(ctx context.Context, code string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code = StripFences(code)
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("code is required")
	}

	stateDir, err := os.MkdirTemp("", "operant-run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	defer os.RemoveAll(stateDir)

	logFile := filepath.Join(stateDir, "logger")
	cwdFile := filepath.Join(stateDir, "cwd")

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.shell, "-c", s.wrap(code, cwdFile, logFile))
	if s.workDir != "" {
		cmd.Dir = s.workDir
	}

	stdout := newLimitedBuffer(s.maxOutput)
	stderr := newLimitedBuffer(s.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()

	result := &Result{
		Stdout:   renderBuffer(stdout),
		Stderr:   renderBuffer(stderr),
		Logging:  readStateFile(logFile),
		Duration: time.Since(start),
		ExitCode: exitCode(runErr),
		WorkDir:  s.workDir,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		result.Cancelled = true
		result.Error = CancelledMessage
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.Error = fmt.Sprintf("execution timed out after %s", s.timeout)
	}

	if dir := strings.TrimSpace(readStateFile(cwdFile)); dir != "" {
		s.workDir = dir
		result.WorkDir = dir
	}

	return result, nil
}

// wrap builds the shell script around the code payload: source the
// persistent environment, point the log sink at this run's file, run the
// code, then record the final working directory and exported variables
// without clobbering the exit status. The log sink is set after sourcing
// so a stale path from a previous run's dump cannot shadow it.
func (s *Session) wrap(code, cwdFile, logFile string) string {
	var b strings.Builder
	if s.envFile != "" {
		q := shellQuote(s.envFile)
		fmt.Fprintf(&b, "if [ -f %s ]; then . %s >/dev/null 2>&1 || true; fi\n", q, q)
	}
	fmt.Fprintf(&b, "export %s=%s\n", LogSinkEnv, shellQuote(logFile))
	b.WriteString(code)
	b.WriteString("\n__operant_rc=$?\n")
	fmt.Fprintf(&b, "pwd > %s 2>/dev/null\n", shellQuote(cwdFile))
	if s.envFile != "" {
		fmt.Fprintf(&b, "export -p > %s 2>/dev/null\n", shellQuote(s.envFile))
	}
	b.WriteString("exit $__operant_rc\n")
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func readStateFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func renderBuffer(b *limitedBuffer) string {
	out := b.String()
	if b.Truncated() {
		out += truncationNote
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		b.truncated = true
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
