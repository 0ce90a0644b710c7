package pipeline

import (
	"os"
	"testing"
)

func TestAcquireWorkspaceCreatesScopedTree(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	workspace, err := AcquireWorkspace(base)
	if err != nil {
		t.Fatalf("AcquireWorkspace() error = %v", err)
	}
	defer workspace.Release()

	for _, dir := range []string{workspace.Root, workspace.GNUPGHome(), workspace.KeystoreDir(), workspace.BuilderWorkDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}

	// Key material directories must be owner-only.
	for _, dir := range []string{workspace.GNUPGHome(), workspace.KeystoreDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o700 {
			t.Errorf("%s permissions = %o, want 700", dir, perm)
		}
	}
}

func TestAcquireWorkspaceIsRunUnique(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	first, err := AcquireWorkspace(base)
	if err != nil {
		t.Fatalf("AcquireWorkspace() error = %v", err)
	}
	defer first.Release()

	second, err := AcquireWorkspace(base)
	if err != nil {
		t.Fatalf("AcquireWorkspace() error = %v", err)
	}
	defer second.Release()

	if first.Root == second.Root {
		t.Fatalf("two runs share workspace %s", first.Root)
	}
}

func TestWorkspaceReleaseRemovesTree(t *testing.T) {
	t.Parallel()

	workspace, err := AcquireWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("AcquireWorkspace() error = %v", err)
	}
	if err := os.WriteFile(workspace.KeystoreDir()+"/secret", []byte("key material"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := workspace.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(workspace.Root); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be removed, stat err = %v", err)
	}

	// Releasing twice must be safe.
	if err := workspace.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}
