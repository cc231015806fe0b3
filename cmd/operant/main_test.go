package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/operantlabs/operant/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "run", "agents", "jobs", "credentials", "config", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestAgentsLifecycleCommands(t *testing.T) {
	t.Setenv("OPERANT_HOME", t.TempDir())

	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"agents", "create", "helper", "--hosting", "mock"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("agents create: %v", err)
	}
	if !strings.Contains(out.String(), "Created agent helper") {
		t.Fatalf("create output = %q", out.String())
	}

	out.Reset()
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"agents", "list"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("agents list: %v", err)
	}
	if !strings.Contains(out.String(), "helper") || !strings.Contains(out.String(), "1 agent(s)") {
		t.Fatalf("list output = %q", out.String())
	}
}

func TestConfigShowDefaults(t *testing.T) {
	t.Setenv("OPERANT_HOME", t.TempDir())

	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "show"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "hosting: anthropic") {
		t.Fatalf("show output = %q", out.String())
	}
}

func TestAgentsExportImportRoundTrip(t *testing.T) {
	t.Setenv("OPERANT_HOME", t.TempDir())

	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"agents", "create", "porter", "--hosting", "mock"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("agents create: %v", err)
	}

	fields := strings.Fields(out.String())
	id := strings.Trim(fields[len(fields)-1], "()")
	archive := filepath.Join(t.TempDir(), "porter.zip")

	out.Reset()
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"agents", "export", id, "-o", archive})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("agents export: %v", err)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("exported archive missing: %v", err)
	}

	out.Reset()
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"agents", "import", archive})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("agents import: %v", err)
	}
	if !strings.Contains(out.String(), "Imported agent porter") {
		t.Fatalf("import output = %q", out.String())
	}

	out.Reset()
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"agents", "list"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("agents list: %v", err)
	}
	if !strings.Contains(out.String(), "2 agent(s)") {
		t.Fatalf("list after import = %q", out.String())
	}
}

func TestJobsCommandsAgainstServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs":
			_ = json.NewEncoder(w).Encode(models.CRUDResponse{
				Status:  http.StatusOK,
				Message: "Jobs retrieved successfully",
				Result: []*models.Job{
					{ID: "job-1", Status: models.JobPending, CreatedAt: time.Now()},
					{ID: "job-2", Status: models.JobCompleted, CreatedAt: time.Now()},
				},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/jobs/job-1/cancel":
			_ = json.NewEncoder(w).Encode(models.CRUDResponse{
				Status:  http.StatusOK,
				Message: "Job cancelled successfully",
				Result:  &models.Job{ID: "job-1", Status: models.JobCancelled},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(models.CRUDResponse{Status: http.StatusNotFound, Message: "Not found"})
		}
	}))
	defer ts.Close()

	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"jobs", "list", "--server", ts.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	if !strings.Contains(out.String(), "job-1") || !strings.Contains(out.String(), "2 job(s)") {
		t.Fatalf("jobs list output = %q", out.String())
	}

	out.Reset()
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"jobs", "cancel", "job-1", "--server", ts.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("jobs cancel: %v", err)
	}
	if !strings.Contains(out.String(), "job-1 is now cancelled") {
		t.Fatalf("jobs cancel output = %q", out.String())
	}

	out.Reset()
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"jobs", "cancel", "missing", "--server", ts.URL})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("jobs cancel missing = %v, want HTTP 404 error", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "operant dev") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	home := t.TempDir()
	t.Setenv("OPERANT_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.yml"), []byte("server:\n  port: 2222\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := buildRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"config", "init"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("config init over existing = %v, want already-exists error", err)
	}
}
