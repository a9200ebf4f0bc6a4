// Package workspace provides per-operation scratch directories.
//
// Every operation gets its own uuid-named directory under a caller
// supplied root, and the caller releases it with Cleanup on every exit
// path. There are no process-wide upload or output directories and no
// age-based sweeping; retention of async job results is scheduled
// explicitly by the worker.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Workspace is a scoped scratch directory.
type Workspace struct {
	id  string
	dir string
}

// New creates a fresh workspace under root. Root defaults to the OS
// temp dir when empty.
func New(root string) (*Workspace, error) {
	return NewWithID(root, uuid.NewString())
}

// NewWithID creates a workspace with a caller-chosen id, typically a
// job id so that async results can be located later.
func NewWithID(root, id string) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "pdftoolbox", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{id: id, dir: dir}, nil
}

// Attach returns the workspace for an existing id without creating it.
// The second return is false when the directory does not exist.
func Attach(root, id string) (*Workspace, bool) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "pdftoolbox", id)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, false
	}
	return &Workspace{id: id, dir: dir}, true
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return w.id }

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path returns the absolute path for a file name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// WriteFile writes data to a file inside the workspace and returns its path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	p := w.Path(name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("workspace write %s: %w", name, err)
	}
	return p, nil
}

// CreateFile opens a new file inside the workspace for writing.
func (w *Workspace) CreateFile(name string) (*os.File, error) {
	f, err := os.Create(w.Path(name))
	if err != nil {
		return nil, fmt.Errorf("workspace create %s: %w", name, err)
	}
	return f, nil
}

// List returns the names of regular files currently in the workspace.
func (w *Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Cleanup removes the workspace directory and everything in it.
func (w *Workspace) Cleanup() {
	if w == nil || w.dir == "" {
		return
	}
	if err := os.RemoveAll(w.dir); err != nil {
		log.Warn().Err(err).Str("dir", w.dir).Msg("workspace cleanup failed")
	}
}
