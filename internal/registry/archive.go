package registry

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/operantlabs/operant/pkg/models"
)

// stateFileNames are the files that travel between agents on import and
// clone. agent.yml is rewritten rather than copied because it carries the
// identity.
var stateFileNames = []string{
	conversationFile,
	historyFile,
	learningsFile,
	schedulesFile,
	systemPromptFile,
	envFile,
}

// Export writes the agent's directory as a flat zip archive and returns a
// download filename derived from the agent name.
func (r *Registry) Export(id string, w io.Writer) (string, error) {
	agent, err := r.Get(id)
	if err != nil {
		return "", err
	}

	dir := r.AgentDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read agent directory: %w", err)
	}

	zw := zip.NewWriter(w)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		f, err := zw.Create(entry.Name())
		if err != nil {
			return "", fmt.Errorf("failed to add %s to archive: %w", entry.Name(), err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("failed to write %s to archive: %w", entry.Name(), err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}

	return exportFilename(agent.Name), nil
}

// Import unpacks an exported agent archive under a fresh id. The working
// directory resets to the runtime default and the version is restamped;
// everything else carries over.
func (r *Registry) Import(data []byte) (*models.Agent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}

	// agent.yml may sit at the archive root or inside a single folder;
	// whichever directory holds it anchors the state files.
	var manifest *zip.File
	for _, f := range zr.File {
		if filepath.Base(f.Name) == metadataFile {
			if manifest == nil || len(f.Name) < len(manifest.Name) {
				manifest = f
			}
		}
	}
	if manifest == nil {
		return nil, errors.New("missing agent.yml in archive")
	}
	root := strings.TrimSuffix(manifest.Name, metadataFile)

	agent, err := readArchiveMetadata(manifest)
	if err != nil {
		return nil, err
	}

	agent.ID = uuid.NewString()
	agent.Version = r.version
	agent.CurrentWorkingDirectory = ""
	if agent.Created.IsZero() {
		agent.Created = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.AgentDir(agent.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create agent directory: %w", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, root) {
			continue
		}
		name := strings.TrimPrefix(f.Name, root)
		if !isStateFile(name) {
			continue
		}
		if err := extractArchiveFile(f, filepath.Join(dir, name)); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}

	if err := r.writeMetadata(agent); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	r.agents[agent.ID] = agent
	return cloneAgent(agent), nil
}

// Clone copies an agent's metadata and state files under a fresh id. An
// empty name derives one from the source.
func (r *Registry) Clone(id, name string) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	cp := cloneAgent(src)
	cp.ID = uuid.NewString()
	cp.Created = time.Now().UTC()
	cp.Version = r.version
	if strings.TrimSpace(name) != "" {
		cp.Name = strings.TrimSpace(name)
	} else {
		cp.Name = src.Name + " (copy)"
	}

	srcDir := r.AgentDir(id)
	dstDir := r.AgentDir(cp.ID)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create agent directory: %w", err)
	}
	for _, file := range stateFileNames {
		if err := copyFileIfPresent(filepath.Join(srcDir, file), filepath.Join(dstDir, file)); err != nil {
			os.RemoveAll(dstDir)
			return nil, err
		}
	}
	if err := r.writeMetadata(cp); err != nil {
		os.RemoveAll(dstDir)
		return nil, err
	}
	r.agents[cp.ID] = cp
	return cloneAgent(cp), nil
}

func readArchiveMetadata(f *zip.File) (*models.Agent, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent.yml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent.yml: %w", err)
	}

	var agent models.Agent
	if err := yaml.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("invalid agent.yml: %w", err)
	}
	if strings.TrimSpace(agent.Name) == "" {
		return nil, errors.New("agent.yml is missing an agent name")
	}
	return &agent, nil
}

func isStateFile(name string) bool {
	for _, file := range stateFileNames {
		if name == file {
			return true
		}
	}
	return false
}

func extractArchiveFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(target), err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(target), err)
	}
	return out.Close()
}

func copyFileIfPresent(src, dst string) error {
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(src), err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(dst), err)
	}
	return nil
}

// exportFilename slugs the agent name into a safe download filename.
func exportFilename(name string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, name)
	if slug == "" {
		slug = "agent"
	}
	return slug + ".zip"
}
