package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

// fakeWSL writes a stand-in for the wsl binary that echoes its arguments
// and exits with the requested code.
func fakeWSL(t *testing.T, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary is a shell script")
	}
	path := filepath.Join(t.TempDir(), "wsl")
	script := "#!/bin/sh\necho \"args: $@\"\necho \"warning\" >&2\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWSLToolRunsCommand(t *testing.T) {
	tool := NewWSLTool(fakeWSL(t, 0))

	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"command": "uname -a", "distribution": "Debian", "username": "op"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}

	var out struct {
		Success    bool   `json:"success"`
		Stdout     string `json:"stdout"`
		Stderr     string `json:"stderr"`
		ReturnCode int    `json:"return_code"`
	}
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if !out.Success || out.ReturnCode != 0 {
		t.Errorf("success = %v, return_code = %d", out.Success, out.ReturnCode)
	}
	if !strings.Contains(out.Stdout, "-d Debian") || !strings.Contains(out.Stdout, "-u op") {
		t.Errorf("distribution/user flags not passed: %q", out.Stdout)
	}
	if !strings.Contains(out.Stdout, "uname -a") {
		t.Errorf("command not passed through: %q", out.Stdout)
	}
	if !strings.Contains(out.Stderr, "warning") {
		t.Errorf("stderr not captured: %q", out.Stderr)
	}
}

func TestWSLToolNonZeroExit(t *testing.T) {
	tool := NewWSLTool(fakeWSL(t, 3))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command": "false"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("non-zero exit should produce an error result")
	}

	var out struct {
		Success    bool `json:"success"`
		ReturnCode int  `json:"return_code"`
	}
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out.Success || out.ReturnCode != 3 {
		t.Errorf("success = %v, return_code = %d, want failure with 3", out.Success, out.ReturnCode)
	}
	// Default distribution applies when none is given.
	if !strings.Contains(result.Content, "Ubuntu") {
		t.Errorf("default distribution missing: %s", result.Content)
	}
}

func TestWSLToolMissingCommand(t *testing.T) {
	tool := NewWSLTool(fakeWSL(t, 0))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "Command parameter is required") {
		t.Errorf("result = %+v", result)
	}
}

func TestWSLToolMissingBinary(t *testing.T) {
	tool := NewWSLTool(filepath.Join(t.TempDir(), "absent"))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command": "ls"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "Failed to execute WSL command") {
		t.Errorf("result = %+v", result)
	}
}
