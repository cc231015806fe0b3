package agent

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

const (
	// hudListingMax caps the directory listing entries shown in the HUD.
	hudListingMax = 40
	// hudVarsMax caps the session variables shown in the HUD.
	hudVarsMax = 50
	// hudValueMax caps a single variable value before truncation.
	hudValueMax = 120
)

// systemDetails describes the host once, for the lead system prompt.
func systemDetails() string {
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "os: %s\n", runtime.GOOS)
	fmt.Fprintf(&b, "architecture: %s\n", runtime.GOARCH)
	fmt.Fprintf(&b, "hostname: %s\n", hostname)
	fmt.Fprintf(&b, "username: %s\n", username)
	fmt.Fprintf(&b, "home_directory: %s\n", home)
	fmt.Fprintf(&b, "shell: %s", shell)
	return b.String()
}

// environmentDetails snapshots the working directory and session state for
// the heads-up display. Refreshed before every model call that sees the
// conversation, so failures degrade to notes instead of errors.
func environmentDetails(workDir, envFile string) string {
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "working_directory: %s\n", workDir)

	b.WriteString("directory_listing:\n")
	b.WriteString(directoryListing(workDir))

	b.WriteString("session_variables:\n")
	vars := sessionVariables(envFile)
	if len(vars) == 0 {
		b.WriteString("  [No session variables]")
	} else {
		b.WriteString("  " + strings.Join(vars, "\n  "))
	}
	return b.String()
}

// directoryListing renders one level of the working directory, directories
// first, dotfiles skipped.
func directoryListing(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Sprintf("  [Unable to list directory: %v]\n", err)
	}

	var dirs, files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, name+"/")
			continue
		}
		size := ""
		if info, err := e.Info(); err == nil {
			size = fmt.Sprintf(" (%s)", humanSize(info.Size()))
		}
		files = append(files, name+size)
	}
	sort.Strings(dirs)
	sort.Strings(files)

	all := append(dirs, files...)
	if len(all) == 0 {
		return "  [Empty directory]\n"
	}

	var b strings.Builder
	for i, entry := range all {
		if i == hudListingMax {
			fmt.Fprintf(&b, "  [+%d more entries]\n", len(all)-hudListingMax)
			break
		}
		b.WriteString("  " + entry + "\n")
	}
	return b.String()
}

// sessionVariables reads the sandbox env file and returns the variables
// that differ from the server's own environment, so the display shows what
// the agent's steps exported rather than the inherited process env.
func sessionVariables(envFile string) []string {
	if envFile == "" {
		return nil
	}
	data, err := os.ReadFile(envFile)
	if err != nil {
		return nil
	}

	inherited := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			inherited[k] = v
		}
	}

	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" || strings.ContainsAny(k, " \t") {
			continue
		}
		v = unquoteShell(v)
		if k == "PWD" || k == "OLDPWD" || k == "SHLVL" || k == "_" {
			continue
		}
		if prev, ok := inherited[k]; ok && prev == v {
			continue
		}
		if len(v) > hudValueMax {
			v = v[:hudValueMax] + "..."
		}
		out = append(out, k+"="+v)
		if len(out) == hudVarsMax {
			break
		}
	}
	sort.Strings(out)
	return out
}

// unquoteShell undoes the quoting `export -p` applies to values.
func unquoteShell(s string) string {
	if len(s) >= 2 {
		if s[0] == '\'' && s[len(s)-1] == '\'' {
			return strings.ReplaceAll(s[1:len(s)-1], `'\''`, "'")
		}
		if s[0] == '"' && s[len(s)-1] == '"' {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// resolvePath anchors a model-supplied path at the session working
// directory and expands a leading tilde.
func resolvePath(workDir, path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if filepath.IsAbs(path) || workDir == "" {
		return path
	}
	return filepath.Join(workDir, path)
}
