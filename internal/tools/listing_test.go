package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListWorkingDirTool(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":           "package main",
		"README.md":         "# readme",
		"config.yml":        "a: 1",
		"data/records.csv":  "a,b,c",
		"assets/logo.png":   "xx",
		".gitignore":        "dist/",
		"sub/.hidden":       "secret",
		".git/HEAD":         "ref: refs/heads/main",
		"node_modules/x.js": "ignored",
	})

	tool := NewListWorkingDirTool(func() string { return root })
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}

	out := result.Content
	for _, want := range []string{
		"main.go (code,",
		"README.md (doc,",
		"config.yml (config,",
		"records.csv (data,",
		"logo.png (image,",
		".gitignore (config,", // root dotfiles stay visible
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}

	for _, banned := range []string{".hidden", "x.js", "HEAD"} {
		if strings.Contains(out, banned) {
			t.Errorf("listing should not include %q:\n%s", banned, out)
		}
	}
}

func TestListWorkingDirToolHonorsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":     "dist/\n*.log\n",
		"main.go":        "package main",
		"server.log":     "noise",
		"dist/bundle.js": "built",
		"src/app.js":     "source",
	})

	tool := NewListWorkingDirTool(func() string { return root })
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}

	out := result.Content
	for _, want := range []string{"main.go", "app.js"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
	for _, banned := range []string{"server.log", "bundle.js"} {
		if strings.Contains(out, banned) {
			t.Errorf("listing should not include gitignored %q:\n%s", banned, out)
		}
	}
}

func TestListWorkingDirToolDepthLimit(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/one.txt":       "1",
		"a/b/two.txt":     "2",
		"a/b/c/three.txt": "3",
	})

	tool := NewListWorkingDirTool(func() string { return root })
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"max_depth": 2}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.Contains(result.Content, "one.txt") || !strings.Contains(result.Content, "two.txt") {
		t.Errorf("shallow files missing:\n%s", result.Content)
	}
	if strings.Contains(result.Content, "three.txt") {
		t.Errorf("depth limit not applied:\n%s", result.Content)
	}
}

func TestListWorkingDirToolEmpty(t *testing.T) {
	tool := NewListWorkingDirTool(func() string { return t.TempDir() })
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content != "The working directory is empty." {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestFileKind(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"server.go", "code"},
		{"notes.md", "doc"},
		{"table.csv", "data"},
		{"photo.JPG", "image"},
		{"settings.toml", "config"},
		{"Makefile", "config"},
		{"mystery.bin", "other"},
	}
	for _, tt := range tests {
		if got := fileKind(tt.name); got != tt.want {
			t.Errorf("fileKind(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSizeLabel(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512B"},
		{2048, "2.0KB"},
		{3 << 20, "3.0MB"},
		{5 << 30, "5.0GB"},
	}
	for _, tt := range tests {
		if got := sizeLabel(tt.n); got != tt.want {
			t.Errorf("sizeLabel(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
