package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is the exclusively-owned scratch directory tree for one run.
// It holds key material and the image builder's intermediate state and is
// removed on every exit path, so nothing secret survives the run.
type Workspace struct {
	Root string
}

// AcquireWorkspace creates a fresh scratch workspace under baseDir. The name
// carries a run-unique component so no two runs can ever share a workspace.
// When baseDir is empty the system temporary directory is used.
func AcquireWorkspace(baseDir string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base: %w", err)
	}

	root := filepath.Join(baseDir, "relmedia-"+uuid.NewString())
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{Root: root}
	for _, dir := range []struct {
		path string
		mode os.FileMode
	}{
		{ws.GNUPGHome(), 0o700},
		{ws.KeystoreDir(), 0o700},
		{ws.BuilderWorkDir(), 0o755},
	} {
		if err := os.Mkdir(dir.path, dir.mode); err != nil {
			_ = ws.Release()
			return nil, fmt.Errorf("create workspace subdirectory: %w", err)
		}
	}
	return ws, nil
}

// GNUPGHome is the isolated GnuPG home for the ephemeral signing key.
func (w *Workspace) GNUPGHome() string {
	return filepath.Join(w.Root, "gnupg")
}

// KeystoreDir holds generated private key material, owner-only.
func (w *Workspace) KeystoreDir() string {
	return filepath.Join(w.Root, "keystore")
}

// BuilderWorkDir is handed to the image builder as its scratch directory.
func (w *Workspace) BuilderWorkDir() string {
	return filepath.Join(w.Root, "work")
}

// Release removes the workspace tree. It is safe to call more than once.
func (w *Workspace) Release() error {
	if w == nil || w.Root == "" {
		return nil
	}
	if err := os.RemoveAll(w.Root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}
