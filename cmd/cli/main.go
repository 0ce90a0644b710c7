package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relmedia/relmedia/internal/bootscript"
	"github.com/relmedia/relmedia/internal/config"
	"github.com/relmedia/relmedia/internal/credentials"
	"github.com/relmedia/relmedia/internal/layout"
	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/metrics"
	"github.com/relmedia/relmedia/internal/mkarchiso"
	"github.com/relmedia/relmedia/internal/pipeline"
	"github.com/relmedia/relmedia/internal/postprocess"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted", "error", err)
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(os.Args[0]), err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel

	root := &cobra.Command{
		Use:           "relmedia",
		Short:         "Build signed, checksummed, delta-syncable Arch Linux release media",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newBuildCommand(logger),
		newMetricsCommand(logger),
		newConfigCommand(),
	)
	return root
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print an annotated example configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), config.Example())
			return err
		},
	}
}

func newBuildCommand(logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		profileDir string
		outputDir  string
		modes      []string
		version    string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the full release build pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if profileDir != "" {
				release.ProfileDir = profileDir
			}
			if outputDir != "" {
				release.OutputDir = outputDir
			}
			if len(modes) > 0 {
				release.BuildModes = modes
			}
			if version != "" {
				release.Version = version
			}

			buildModes, err := pipeline.ParseModes(release.BuildModes)
			if err != nil {
				return err
			}

			service := newPipelineService(logger, release)
			return service.Run(cmd.Context(), pipeline.RunRequest{
				ProfileDir:    release.ProfileDir,
				InstallDir:    release.InstallDir,
				Modes:         buildModes,
				OutputDir:     release.OutputDir,
				WorkspaceBase: release.WorkspaceBase,
				Signer:        release.Signer,
				Version:       release.Version,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "relmedia.yaml", "Release configuration file")
	cmd.Flags().StringVar(&profileDir, "profile", "", "Image builder profile directory")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Release output directory")
	cmd.Flags().StringSliceVar(&modes, "modes", nil, "Build modes to produce (iso, netboot, bootstrap)")
	cmd.Flags().StringVar(&version, "version", "", "Release version stamp (default: today, YYYY.MM.DD)")
	return cmd
}

func newMetricsCommand(logger *slog.Logger) *cobra.Command {
	var (
		outputDir  string
		workDir    string
		installDir string
		modes      []string
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Collect build metrics from an existing pre-move output tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			buildModes, err := pipeline.ParseModes(modes)
			if err != nil {
				return err
			}

			collector := &metrics.Collector{Logger: logger.With("component", "metrics")}
			return collector.Collect(cmd.Context(), pipeline.MetricsInput{
				WorkDir:    workDir,
				OutputDir:  outputDir,
				InstallDir: installDir,
				Modes:      buildModes,
			})
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "output", "Output directory to scan")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Builder work directory to scan")
	cmd.Flags().StringVar(&installDir, "install-dir", config.DefaultInstallDir, "Install subdirectory name")
	cmd.Flags().StringSliceVar(&modes, "modes", []string{"iso", "netboot", "bootstrap"}, "Build modes present in the output")
	return cmd
}

func newPipelineService(logger *slog.Logger, release config.Release) *pipeline.Service {
	return &pipeline.Service{
		Logger: logger.With("component", "pipeline"),
		Preflight: pipeline.Preflight{
			WorkspaceBase: release.WorkspaceBase,
			MinFreeBytes:  release.MinFreeBytes,
		},
		SigningKeys: &credentials.EphemeralPGP{
			Logger: logger.With("component", "credentials"),
		},
		Codesigning: &credentials.Codesigning{
			Logger:   logger.With("component", "credentials"),
			CertPath: release.CodesignCert,
			KeyPath:  release.CodesignKey,
		},
		BootScript: &bootscript.Generator{
			Logger:   logger.With("component", "bootscript"),
			Renderer: release.BootScript.Renderer,
			Name:     release.BootScript.Name,
		},
		Builder: &mkarchiso.Command{
			Logger: logger.With("component", "mkarchiso"),
		},
		Checksums: &postprocess.Checksummer{
			Logger: logger.With("component", "postprocess"),
		},
		Delta: &postprocess.DeltaGenerator{
			Logger: logger.With("component", "postprocess"),
		},
		Metrics: &metrics.Collector{
			Logger: logger.With("component", "metrics"),
		},
		Layout: &layout.Finalizer{
			Logger: logger.With("component", "layout"),
		},
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch value {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}
