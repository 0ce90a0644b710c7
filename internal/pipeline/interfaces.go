package pipeline

import (
	"context"
	"time"
)

// SigningKeyCreator provisions the ephemeral PGP signing key for one run.
type SigningKeyCreator interface {
	Create(ctx context.Context, homeDir, keystoreDir string) (PGPIdentity, error)
}

// CodesigningProvisioner selects or generates the codesigning key pair and
// gates the run on its remaining validity.
type CodesigningProvisioner interface {
	Select(ctx context.Context, keystoreDir string) (KeyPair, error)
	CheckValidity(pair KeyPair, minRemaining time.Duration) error
}

// BootScriptPreparer renders the boot-loader control script and produces its
// detached signature, returning the script path.
type BootScriptPreparer interface {
	Prepare(ctx context.Context, outputDir string, pair KeyPair) (string, error)
}

// ImageBuilder invokes the external image-building tool.
type ImageBuilder interface {
	Build(ctx context.Context, request BuildRequest) error
}

// Checksummer writes the full checksum set next to each artifact.
type Checksummer interface {
	Compute(paths []string) error
}

// DeltaGenerator writes a delta-control file next to each artifact.
type DeltaGenerator interface {
	Generate(paths []string) error
}

// MetricsCollector emits the flat text metrics report from the pre-move trees.
type MetricsCollector interface {
	Collect(ctx context.Context, input MetricsInput) error
}

// LayoutFinalizer relocates artifacts into the versioned release layout.
type LayoutFinalizer interface {
	Finalize(outputDir, installDir, version string) error
}

// PreflightChecker verifies run preconditions before any expensive work.
type PreflightChecker interface {
	Check() error
}
