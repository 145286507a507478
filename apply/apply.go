// Package apply writes extracted directives into a workspace directory.
package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codesift/codesift/model"
)

// Workspace applies directives to files under a root directory.
// All paths are confined to the root; escapes are rejected.
type Workspace struct {
	Root string
}

// New creates a Workspace rooted at dir.
func New(dir string) *Workspace {
	return &Workspace{Root: dir}
}

// Apply dispatches a directive to the matching file operation.
func (w *Workspace) Apply(d *model.Directive) error {
	switch d.Kind {
	case "new_file":
		return w.NewFile(d.FilePath, d.Content)
	case "rewrite_file":
		return w.RewriteFile(d.FilePath, d.Content)
	case "edit":
		return w.Edit(d.FilePath, d.Search, d.Replace)
	default:
		return fmt.Errorf("unknown directive kind %q", d.Kind)
	}
}

// NewFile creates a file with the given content. It refuses to overwrite an
// existing file; use RewriteFile for that.
func (w *Workspace) NewFile(path, content string) error {
	full, err := w.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err == nil {
		return fmt.Errorf("file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// RewriteFile replaces the full content of an existing file.
func (w *Workspace) RewriteFile(path, content string) error {
	full, err := w.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("file %s does not exist: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Edit replaces the first exact occurrence of search with replace in the
// file. The search text must match verbatim; when it is absent the edit
// fails rather than guessing.
func (w *Workspace) Edit(path, search, replace string) error {
	full, err := w.resolve(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	content := string(data)
	idx := strings.Index(content, search)
	if idx < 0 {
		return fmt.Errorf("search text not found in %s", path)
	}
	updated := content[:idx] + replace + content[idx+len(search):]

	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Read returns the current content of a workspace file.
func (w *Workspace) Read(path string) (string, error) {
	full, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// resolve joins path under the root and rejects paths that escape it.
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute path %q not allowed", path)
	}
	full := filepath.Join(w.Root, path)
	rel, err := filepath.Rel(w.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return full, nil
}
