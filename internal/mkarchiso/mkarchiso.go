// Package mkarchiso invokes the external image-building tool. The pipeline's
// role stops at assembling the invocation; the tool's exit code is the sole
// success signal and a non-zero exit aborts the run without retry.
package mkarchiso

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

// Ensure Command satisfies the image builder interface.
var _ pipeline.ImageBuilder = (*Command)(nil)

// Command runs mkarchiso with the run's credentials and build modes.
type Command struct {
	Logger *slog.Logger

	// Binary overrides the mkarchiso executable, mainly for tests.
	Binary string
}

// Build implements pipeline.ImageBuilder.
func (c *Command) Build(ctx context.Context, request pipeline.BuildRequest) error {
	args, err := buildArgs(request)
	if err != nil {
		return err
	}

	logger := logging.Ensure(c.Logger).With(
		"profile", request.ProfileDir,
		"modes", modeList(request.Modes),
	)
	logger.Info("running image builder", "command", c.binary()+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// The builder signs with gpg itself; point it at the run's isolated home.
	cmd.Env = append(os.Environ(), "GNUPGHOME="+request.PGP.HomeDir)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("image builder failed: %w", err)
	}
	return nil
}

func (c *Command) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "mkarchiso"
}

func buildArgs(request pipeline.BuildRequest) ([]string, error) {
	switch {
	case request.ProfileDir == "":
		return nil, fmt.Errorf("profile directory is required")
	case request.InstallDir == "":
		return nil, fmt.Errorf("install directory name is required")
	case request.OutputDir == "":
		return nil, fmt.Errorf("output directory is required")
	case request.WorkDir == "":
		return nil, fmt.Errorf("work directory is required")
	case len(request.Modes) == 0:
		return nil, fmt.Errorf("at least one build mode is required")
	case request.PGP.KeyID == "":
		return nil, fmt.Errorf("signing key id is required")
	case request.Codesign.CertPath == "" || request.Codesign.KeyPath == "":
		return nil, fmt.Errorf("codesigning pair is required")
	}

	args := []string{
		"-D", request.InstallDir,
		"-c", request.Codesign.CertPath + " " + request.Codesign.KeyPath,
		"-g", request.PGP.KeyID,
	}
	if request.PGP.Signer != "" {
		args = append(args, "-G", request.PGP.Signer)
	}
	args = append(args,
		"-o", request.OutputDir,
		"-w", request.WorkDir,
		"-m", modeList(request.Modes),
		"-v", request.ProfileDir,
	)
	return args, nil
}

func modeList(modes []pipeline.BuildMode) string {
	names := make([]string, 0, len(modes))
	for _, mode := range modes {
		names = append(names, mode.String())
	}
	return strings.Join(names, " ")
}
