package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

const (
	listingDefaultDepth = 3
	listingMaxDepth     = 8
	// listingMaxPerDir caps entries shown per directory.
	listingMaxPerDir = 30
	// listingMaxTotal caps entries across the whole walk.
	listingMaxTotal = 300
)

// Directories that add noise without information. Dotfile directories are
// skipped separately below the root level.
var listingSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".cache":       true,
}

var listingKinds = map[string]string{
	// code
	".go": "code", ".py": "code", ".js": "code", ".ts": "code", ".jsx": "code",
	".tsx": "code", ".java": "code", ".c": "code", ".h": "code", ".cpp": "code",
	".rs": "code", ".rb": "code", ".php": "code", ".sh": "code", ".sql": "code",
	// docs
	".md": "doc", ".txt": "doc", ".rst": "doc", ".pdf": "doc", ".doc": "doc",
	".docx": "doc", ".rtf": "doc", ".tex": "doc", ".html": "doc",
	// data
	".json": "data", ".csv": "data", ".tsv": "data", ".xml": "data",
	".parquet": "data", ".db": "data", ".sqlite": "data", ".xlsx": "data",
	// images
	".jpg": "image", ".jpeg": "image", ".png": "image", ".gif": "image",
	".svg": "image", ".webp": "image", ".bmp": "image", ".ico": "image",
	// config
	".yml": "config", ".yaml": "config", ".toml": "config", ".ini": "config",
	".env": "config", ".conf": "config", ".cfg": "config",
}

var listingConfigNames = map[string]bool{
	"makefile":       true,
	"dockerfile":     true,
	"go.mod":         true,
	"go.sum":         true,
	"package.json":   true,
	"pyproject.toml": true,
	".gitignore":     true,
}

type listingParams struct {
	MaxDepth int `json:"max_depth,omitempty" jsonschema:"description=Maximum directory depth to traverse. Defaults to 3."`
}

// ListWorkingDirTool indexes the working directory so the model can see
// what files exist without shelling out.
type ListWorkingDirTool struct {
	workDir func() string
}

// NewListWorkingDirTool creates the list_working_directory tool. workDir
// resolves the directory at call time; nil uses the process cwd.
func NewListWorkingDirTool(workDir func() string) *ListWorkingDirTool {
	return &ListWorkingDirTool{workDir: workDir}
}

func (t *ListWorkingDirTool) Name() string { return "list_working_directory" }

func (t *ListWorkingDirTool) Description() string {
	return "List the files in the current working directory grouped by folder, showing each file's kind (code, doc, data, image, config, other) and size. Use this to orient yourself before reading or editing files."
}

func (t *ListWorkingDirTool) Schema() json.RawMessage {
	return schemaOf(listingParams{})
}

func (t *ListWorkingDirTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p listingParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = listingDefaultDepth
	}
	if p.MaxDepth > listingMaxDepth {
		p.MaxDepth = listingMaxDepth
	}

	root := "."
	if t.workDir != nil && t.workDir() != "" {
		root = t.workDir()
	}

	index, err := indexDirectory(root, p.MaxDepth)
	if err != nil {
		return Errorf("Failed to list directory: %v", err), nil
	}
	if len(index) == 0 {
		return &Result{Content: "The working directory is empty."}, nil
	}
	return &Result{Content: renderListing(index)}, nil
}

type listedFile struct {
	name string
	kind string
	size int64
}

// indexDirectory walks root to maxDepth and groups files by their
// directory, relative to root. Dotfiles are listed at the root only, and
// entries matched by the root's .gitignore are skipped alongside the
// hard-coded ignore set.
func indexDirectory(root string, maxDepth int) (map[string][]listedFile, error) {
	index := make(map[string][]listedFile)
	total := 0

	// A missing or unreadable .gitignore leaves matcher nil.
	matcher, _ := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator))

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if listingSkipDirs[d.Name()] || depth >= maxDepth {
				return filepath.SkipDir
			}
			if strings.HasPrefix(d.Name(), ".") && depth > 0 {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") && depth > 0 {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		if total >= listingMaxTotal {
			return filepath.SkipAll
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		dir := filepath.Dir(rel)
		index[dir] = append(index[dir], listedFile{
			name: d.Name(),
			kind: fileKind(d.Name()),
			size: info.Size(),
		})
		total++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

func fileKind(name string) string {
	if listingConfigNames[strings.ToLower(name)] {
		return "config"
	}
	if kind, ok := listingKinds[strings.ToLower(filepath.Ext(name))]; ok {
		return kind
	}
	return "other"
}

func renderListing(index map[string][]listedFile) string {
	dirs := make([]string, 0, len(index))
	for dir := range index {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var b strings.Builder
	for _, dir := range dirs {
		files := index[dir]
		sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

		fmt.Fprintf(&b, "%s (%d files)\n", dir, len(files))
		for i, f := range files {
			if i >= listingMaxPerDir {
				fmt.Fprintf(&b, "  [+%d more]\n", len(files)-listingMaxPerDir)
				break
			}
			fmt.Fprintf(&b, "  %s (%s, %s)\n", f.name, f.kind, sizeLabel(f.size))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func sizeLabel(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
