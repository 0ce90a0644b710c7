package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultMinCertLifetime is the minimum remaining codesigning certificate
// validity required before the pipeline will build anything (90 days).
const DefaultMinCertLifetime = 90 * 24 * time.Hour

// Service sequences one release build: credential provisioning, delegated
// image build, artifact post-processing, metrics emission and release layout.
// All collaborators are injected; the service owns only the ordering, the run
// context and the workspace lifecycle.
type Service struct {
	Logger *slog.Logger

	Preflight   PreflightChecker
	SigningKeys SigningKeyCreator
	Codesigning CodesigningProvisioner
	BootScript  BootScriptPreparer
	Builder     ImageBuilder
	Checksums   Checksummer
	Delta       DeltaGenerator
	Metrics     MetricsCollector
	Layout      LayoutFinalizer

	// MinCertLifetime overrides DefaultMinCertLifetime when non-zero.
	MinCertLifetime time.Duration
}

// RunRequest describes one release build.
type RunRequest struct {
	ProfileDir    string
	InstallDir    string
	Modes         []BuildMode
	OutputDir     string
	WorkspaceBase string
	Signer        string

	// Version overrides the calendar-date stamp, for rebuilds of a named release.
	Version string
}

// Run executes the pipeline strictly sequentially. Every failure is fatal and
// surfaced; the only recovery action is the workspace release, which happens
// on every exit path.
func (s *Service) Run(ctx context.Context, request RunRequest) error {
	if err := s.validate(request); err != nil {
		return err
	}

	logger := s.logger().With("profile", request.ProfileDir)

	if err := s.Preflight.Check(); err != nil {
		return stageErr("preflight", err)
	}

	run := &Context{
		Version:   request.Version,
		StartedAt: time.Now().UTC(),
	}
	if run.Version == "" {
		run.Version = run.StartedAt.Format("2006.01.02")
	}
	logger = logger.With("version", run.Version)

	workspace, err := AcquireWorkspace(request.WorkspaceBase)
	if err != nil {
		return stageErr("workspace", err)
	}
	run.Workspace = workspace
	defer func() {
		if err := workspace.Release(); err != nil {
			logger.Error("workspace release failed", "error", err)
		}
	}()
	logger.Info("workspace acquired", "root", workspace.Root)

	if err := s.provision(ctx, run, request, logger); err != nil {
		return err
	}

	if ContainsMode(request.Modes, ModeNetboot) {
		script, err := s.BootScript.Prepare(ctx, request.OutputDir, run.Codesign)
		if err != nil {
			return stageErr("bootscript", err)
		}
		run.BootScript = script
		logger.Info("boot script prepared", "script", script)
	}

	buildRequest := BuildRequest{
		ProfileDir: request.ProfileDir,
		InstallDir: request.InstallDir,
		Modes:      request.Modes,
		OutputDir:  request.OutputDir,
		WorkDir:    workspace.BuilderWorkDir(),
		PGP:        run.PGP,
		Codesign:   run.Codesign,
	}
	if err := s.Builder.Build(ctx, buildRequest); err != nil {
		return stageErr("build", err)
	}
	logger.Info("image builder completed")

	artifacts, err := discoverArtifacts(request.OutputDir, request.InstallDir, request.Modes, run.BootScript)
	if err != nil {
		return stageErr("postprocess", err)
	}

	if err := s.Checksums.Compute(artifacts.checksum); err != nil {
		return stageErr("checksums", err)
	}
	if err := s.Delta.Generate(artifacts.delta); err != nil {
		return stageErr("delta", err)
	}
	logger.Info("artifacts post-processed",
		"checksummed", len(artifacts.checksum),
		"delta_files", len(artifacts.delta),
	)

	// Metrics scan pre-move paths, so they must run before the finalizer.
	metricsInput := MetricsInput{
		WorkDir:    workspace.BuilderWorkDir(),
		OutputDir:  request.OutputDir,
		InstallDir: request.InstallDir,
		Modes:      request.Modes,
		Version:    run.Version,
	}
	if err := s.Metrics.Collect(ctx, metricsInput); err != nil {
		return stageErr("metrics", err)
	}
	logger.Info("metrics report written")

	if err := s.Layout.Finalize(request.OutputDir, request.InstallDir, run.Version); err != nil {
		return stageErr("layout", err)
	}
	logger.Info("release layout finalized", "output", request.OutputDir)

	return nil
}

// provision runs the credential stages: ephemeral PGP key, codesigning pair
// selection and the certificate validity gate.
func (s *Service) provision(ctx context.Context, run *Context, request RunRequest, logger *slog.Logger) error {
	identity, err := s.SigningKeys.Create(ctx, run.Workspace.GNUPGHome(), run.Workspace.KeystoreDir())
	if err != nil {
		return stageErr("pgp", err)
	}
	identity.Signer = request.Signer
	run.PGP = identity
	logger.Info("ephemeral signing key created", "key_id", identity.KeyID)

	pair, err := s.Codesigning.Select(ctx, run.Workspace.KeystoreDir())
	if err != nil {
		return stageErr("codesign", err)
	}
	run.Codesign = pair
	logger.Info("codesigning pair selected", "cert", pair.CertPath, "ephemeral", pair.Ephemeral)

	minLifetime := s.MinCertLifetime
	if minLifetime == 0 {
		minLifetime = DefaultMinCertLifetime
	}
	if err := s.Codesigning.CheckValidity(pair, minLifetime); err != nil {
		return stageErr("codesign", err)
	}
	return nil
}

func (s *Service) validate(request RunRequest) error {
	switch {
	case s.Preflight == nil:
		return errors.New("preflight checker is not configured")
	case s.SigningKeys == nil:
		return errors.New("signing key creator is not configured")
	case s.Codesigning == nil:
		return errors.New("codesigning provisioner is not configured")
	case s.Builder == nil:
		return errors.New("image builder is not configured")
	case s.Checksums == nil:
		return errors.New("checksummer is not configured")
	case s.Delta == nil:
		return errors.New("delta generator is not configured")
	case s.Metrics == nil:
		return errors.New("metrics collector is not configured")
	case s.Layout == nil:
		return errors.New("layout finalizer is not configured")
	}

	if len(request.Modes) == 0 {
		return errors.New("at least one build mode is required")
	}
	for _, mode := range request.Modes {
		if !mode.IsValid() {
			return &StageError{Stage: "validate", Err: errors.New("unsupported build mode " + mode.String())}
		}
	}
	if ContainsMode(request.Modes, ModeNetboot) && s.BootScript == nil {
		return errors.New("boot script preparer is not configured")
	}
	if request.ProfileDir == "" {
		return errors.New("profile directory is required")
	}
	if request.OutputDir == "" {
		return errors.New("output directory is required")
	}
	if request.InstallDir == "" {
		return errors.New("install directory name is required")
	}
	return nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
