package registry

import (
	"archive/zip"
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/operantlabs/operant/pkg/models"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestRegistry(t)
	agent, err := src.Create(models.AgentEditFields{
		Name:        strPtr("Research Assistant"),
		Hosting:     strPtr("anthropic"),
		Model:       strPtr("claude-sonnet-4-20250514"),
		Temperature: floatPtr(0.4),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := src.Update(agent.ID, models.AgentEditFields{CurrentWorkingDirectory: strPtr("/tmp/research")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	state := models.AgentState{
		Conversation: []models.ConversationRecord{
			models.NewSystemPrompt("lead prompt"),
			models.NewRecord(models.RoleUser, "hello"),
		},
		Learnings: []string{"prefers markdown tables"},
	}
	if err := src.SaveState(agent.ID, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	if err := src.SetSystemPrompt(agent.ID, "custom prompt"); err != nil {
		t.Fatalf("SetSystemPrompt() error = %v", err)
	}
	if err := os.WriteFile(src.EnvFilePath(agent.ID), []byte("export FOO=bar\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	filename, err := src.Export(agent.ID, &buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if filename != "Research-Assistant.zip" {
		t.Errorf("Export() filename = %q", filename)
	}
	if buf.Len() == 0 {
		t.Fatal("Export() wrote no archive bytes")
	}

	dst, err := New(WithBasePath(t.TempDir()), WithVersion("9.9.9"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	imported, err := dst.Import(buf.Bytes())
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if imported.ID == agent.ID || imported.ID == "" {
		t.Errorf("Import() id = %q, want a fresh id", imported.ID)
	}
	if imported.Name != "Research Assistant" || imported.Hosting != "anthropic" {
		t.Errorf("Import() metadata = %+v", imported)
	}
	if imported.Temperature == nil || *imported.Temperature != 0.4 {
		t.Errorf("Import() temperature = %v", imported.Temperature)
	}
	if imported.CurrentWorkingDirectory != "" {
		t.Errorf("Import() kept the working directory: %q", imported.CurrentWorkingDirectory)
	}
	if imported.Version != "9.9.9" {
		t.Errorf("Import() version = %q, want restamped 9.9.9", imported.Version)
	}

	loaded, err := dst.LoadState(imported.ID)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(loaded.Conversation) != 2 {
		t.Errorf("imported conversation length = %d, want 2", len(loaded.Conversation))
	}
	if len(loaded.Learnings) != 1 || loaded.Learnings[0] != "prefers markdown tables" {
		t.Errorf("imported learnings = %v", loaded.Learnings)
	}
	if loaded.AgentSystemPrompt != "custom prompt" {
		t.Errorf("imported system prompt = %q", loaded.AgentSystemPrompt)
	}
	env, err := os.ReadFile(dst.EnvFilePath(imported.ID))
	if err != nil {
		t.Fatalf("imported environment file missing: %v", err)
	}
	if string(env) != "export FOO=bar\n" {
		t.Errorf("imported environment = %q", env)
	}
}

func TestImportNestedFolder(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"My Agent/agent.yml":      "id: old-id\nname: Nested Agent\nhosting: openai\n",
		"My Agent/learnings.json": `["remember the nesting"]`,
	}
	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	reg := newTestRegistry(t)
	imported, err := reg.Import(buf.Bytes())
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if imported.Name != "Nested Agent" || imported.ID == "old-id" {
		t.Errorf("Import() = %+v", imported)
	}

	state, err := reg.LoadState(imported.ID)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(state.Learnings) != 1 || state.Learnings[0] != "remember the nesting" {
		t.Errorf("imported learnings = %v", state.Learnings)
	}
}

func TestImportRejectsBadArchives(t *testing.T) {
	buildZip := func(name, content string) []byte {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		f, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{
			name:    "not a zip",
			data:    []byte("this is not an archive"),
			wantErr: "invalid zip archive",
		},
		{
			name:    "no manifest",
			data:    buildZip("conversation.json", "[]"),
			wantErr: "missing agent.yml",
		},
		{
			name:    "corrupt manifest",
			data:    buildZip("agent.yml", "{invalid"),
			wantErr: "invalid agent.yml",
		},
		{
			name:    "nameless manifest",
			data:    buildZip("agent.yml", "id: x\n"),
			wantErr: "missing an agent name",
		},
	}

	reg := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Import(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Import() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}

	if got := reg.List(ListOptions{}).Total; got != 0 {
		t.Errorf("failed imports registered agents: total = %d", got)
	}
}

func TestClone(t *testing.T) {
	reg := newTestRegistry(t)
	agent, err := reg.Create(models.AgentEditFields{
		Name:    strPtr("Original"),
		Hosting: strPtr("google"),
		Model:   strPtr("gemini-2.0-flash"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	state := models.AgentState{
		Conversation: []models.ConversationRecord{models.NewRecord(models.RoleUser, "hi")},
		Learnings:    []string{"a learning"},
	}
	if err := reg.SaveState(agent.ID, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	clone, err := reg.Clone(agent.ID, "Duplicate")
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	if clone.ID == agent.ID || clone.Name != "Duplicate" {
		t.Errorf("Clone() = %+v", clone)
	}
	if clone.Hosting != "google" || clone.Model != "gemini-2.0-flash" {
		t.Errorf("Clone() dropped metadata: %+v", clone)
	}

	cloneState, err := reg.LoadState(clone.ID)
	if err != nil {
		t.Fatalf("LoadState(clone) error = %v", err)
	}
	if len(cloneState.Conversation) != 1 || len(cloneState.Learnings) != 1 {
		t.Errorf("clone state = %+v", cloneState)
	}

	// The copies are independent.
	if err := reg.SaveState(clone.ID, models.AgentState{}); err != nil {
		t.Fatalf("SaveState(clone) error = %v", err)
	}
	srcState, err := reg.LoadState(agent.ID)
	if err != nil {
		t.Fatalf("LoadState(src) error = %v", err)
	}
	if len(srcState.Conversation) != 1 {
		t.Errorf("clearing the clone touched the source: %+v", srcState)
	}

	unnamed, err := reg.Clone(agent.ID, "")
	if err != nil {
		t.Fatalf("Clone() unnamed error = %v", err)
	}
	if unnamed.Name != "Original (copy)" {
		t.Errorf("Clone() default name = %q", unnamed.Name)
	}

	if _, err := reg.Clone("missing", "x"); err == nil {
		t.Error("Clone() accepted an unknown source")
	}
}

func TestExportFilename(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Research Assistant", "Research-Assistant.zip"},
		{"agent_7", "agent_7.zip"},
		{"b@d/n&me", "bdnme.zip"},
		{"", "agent.zip"},
		{"!!!", "agent.zip"},
	}
	for _, tt := range tests {
		if got := exportFilename(tt.name); got != tt.want {
			t.Errorf("exportFilename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
