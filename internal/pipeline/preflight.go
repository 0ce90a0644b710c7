package pipeline

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultMinFreeBytes is the free-space floor required of the workspace
// filesystem before any expensive work starts.
const DefaultMinFreeBytes = 4 << 30

// Preflight gates the pipeline on conditions that must hold before any
// credential is generated or external tool invoked.
type Preflight struct {
	// WorkspaceBase is the filesystem checked for free space.
	WorkspaceBase string
	// MinFreeBytes overrides DefaultMinFreeBytes when non-zero.
	MinFreeBytes uint64
}

// Check verifies elevated privileges and workspace free space. Failures here
// terminate the run before anything else happens.
func (p Preflight) Check() error {
	if err := requirePrivileges(); err != nil {
		return err
	}

	min := p.MinFreeBytes
	if min == 0 {
		min = DefaultMinFreeBytes
	}
	base := p.WorkspaceBase
	if base == "" {
		base = os.TempDir()
	}
	return checkFreeSpace(base, min)
}

// requirePrivileges fails unless the effective user is root. The image builder
// needs loop devices and chroots, and the layout finalizer restores ownership
// afterwards.
func requirePrivileges() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("%s must be run as root", os.Args[0])
	}
	return nil
}

func checkFreeSpace(path string, minBytes uint64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}

	free := stat.Bavail * uint64(stat.Bsize)
	if free < minBytes {
		return fmt.Errorf("insufficient free space on %s: %d bytes available, %d required", path, free, minBytes)
	}
	return nil
}
