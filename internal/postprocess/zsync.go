package postprocess

import (
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

// bootstrapBlockSize is the fixed block size for bootstrap tarballs. At the
// tool's default block size zsyncmake's delta algorithm fails on the
// tarball's long low-entropy runs; 512 avoids that. Other artifacts use the
// tool default.
const bootstrapBlockSize = "512"

var _ pipeline.DeltaGenerator = (*DeltaGenerator)(nil)

// DeltaGenerator writes a zsync control file next to each artifact.
type DeltaGenerator struct {
	Logger *slog.Logger

	// Binary overrides the zsyncmake executable, mainly for tests.
	Binary string
}

// Generate implements pipeline.DeltaGenerator.
func (d *DeltaGenerator) Generate(paths []string) error {
	logger := logging.Ensure(d.Logger)

	for _, path := range paths {
		args := zsyncArgs(path)
		logger.Info("generating delta-control file", "artifact", filepath.Base(path))

		cmd := exec.Command(d.binary(), args...)
		cmd.Dir = filepath.Dir(path)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("zsyncmake %s: %w: %s", path, err, strings.TrimSpace(string(output)))
		}
	}
	return nil
}

func (d *DeltaGenerator) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "zsyncmake"
}

// zsyncArgs builds the zsyncmake invocation relative to the artifact's own
// directory, so the control file references the bare artifact name.
func zsyncArgs(path string) []string {
	name := filepath.Base(path)

	args := []string{"-C"}
	if isBootstrapTarball(name) {
		args = append(args, "-b", bootstrapBlockSize)
	}
	return append(args, "-u", name, "-o", name+".zsync", name)
}

func isBootstrapTarball(name string) bool {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasSuffix(base, ".tar")
}
