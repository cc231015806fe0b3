package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// wslTimeout bounds one command execution inside the distribution.
const wslTimeout = 2 * time.Minute

// wslMaxOutput caps captured stdout/stderr per stream.
const wslMaxOutput = 64 << 10

type wslParams struct {
	Command      string `json:"command" jsonschema:"description=The command to execute in the WSL2 distribution"`
	Distribution string `json:"distribution,omitempty" jsonschema:"description=The WSL2 distribution to run in. Defaults to Ubuntu."`
	Username     string `json:"username,omitempty" jsonschema:"description=Username to run the command as inside the distribution"`
	Password     string `json:"password,omitempty" jsonschema:"description=Password for the user. Only used when a username is given; sent on stdin if the command prompts for it."`
}

type wslResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

// WSLTool runs commands in a WSL2 distribution from a Windows host.
type WSLTool struct {
	binary string
}

// LookupWSL returns the path of the wsl binary, or "" when the host has
// none. Registration is gated on it so the tool only appears where it
// can run.
func LookupWSL() string {
	for _, name := range []string{"wsl.exe", "wsl"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// NewWSLTool creates the execute_wsl_command tool around the given wsl
// binary.
func NewWSLTool(binary string) *WSLTool {
	return &WSLTool{binary: binary}
}

func (t *WSLTool) Name() string { return "execute_wsl_command" }

func (t *WSLTool) Description() string {
	return "Execute a command inside a WSL2 Linux distribution on a Windows host. Returns the command's stdout, stderr, and return code. Use this to interact with Linux environments when the host shell is Windows."
}

func (t *WSLTool) Schema() json.RawMessage {
	return schemaOf(wslParams{})
}

func (t *WSLTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p wslParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(p.Command) == "" {
		return Errorf("Command parameter is required"), nil
	}
	if p.Distribution == "" {
		p.Distribution = "Ubuntu"
	}

	ctx, cancel := context.WithTimeout(ctx, wslTimeout)
	defer cancel()

	args := []string{"-d", p.Distribution}
	if p.Username != "" {
		args = append(args, "-u", p.Username)
	}
	args = append(args, p.Command)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if p.Username != "" && p.Password != "" {
		cmd.Stdin = strings.NewReader(p.Password + "\n")
	}

	runErr := cmd.Run()
	code := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return Errorf("Failed to execute WSL command: %v", runErr), nil
		}
	}

	out := wslResult{
		Success:    code == 0,
		Stdout:     truncateOutput(stdout.String(), wslMaxOutput),
		Stderr:     truncateOutput(stderr.String(), wslMaxOutput),
		ReturnCode: code,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return Errorf("Failed to encode result: %v", err), nil
	}
	return &Result{Content: string(raw), IsError: !out.Success}, nil
}

func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[output truncated]"
}
