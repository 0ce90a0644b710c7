// Package config loads the release profile that drives a pipeline run.
// Values come from an optional YAML file, then RELMEDIA_-prefixed environment
// variables, then flags wired by the CLI; later sources win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults matching the reference release engineering setup.
const (
	DefaultInstallDir     = "arch"
	DefaultOutputDir      = "output"
	DefaultSigner         = "Arch Linux Release Engineering <arch-releng@lists.archlinux.org>"
	DefaultCodesignCert   = "codesign.crt"
	DefaultCodesignKey    = "codesign.key"
	DefaultBootScriptName = "archlinux.ipxe"
)

// Release describes one release build.
type Release struct {
	// ProfileDir is the image builder profile to build from.
	ProfileDir string `yaml:"profile" env:"PROFILE"`
	// InstallDir is the name of the install subdirectory inside the media.
	InstallDir string `yaml:"install_dir" env:"INSTALL_DIR"`
	// BuildModes lists the artifact kinds to produce.
	BuildModes []string `yaml:"buildmodes" env:"BUILDMODES"`

	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// WorkspaceBase is where the run's scratch workspace is created.
	WorkspaceBase string `yaml:"workspace_base" env:"WORKSPACE_BASE"`

	// Signer is the human-readable PGP signer identity.
	Signer string `yaml:"gpg_signer" env:"GPG_SIGNER"`

	// CodesignCert/CodesignKey point at an externally managed codesigning
	// pair. When either file is absent an ephemeral pair is generated.
	CodesignCert string `yaml:"codesign_cert" env:"CODESIGN_CERT"`
	CodesignKey  string `yaml:"codesign_key" env:"CODESIGN_KEY"`

	// Version overrides the calendar-date release stamp.
	Version string `yaml:"version" env:"VERSION"`

	// MinFreeBytes is the workspace filesystem free-space floor.
	MinFreeBytes uint64 `yaml:"min_free_bytes" env:"MIN_FREE_BYTES"`

	BootScript BootScript `yaml:"bootscript"`
}

// BootScript configures the external boot-loader script renderer.
type BootScript struct {
	// Renderer is the argv of the external template renderer. The rendered
	// script is read from its stdout.
	Renderer []string `yaml:"renderer" env:"BOOTSCRIPT_RENDERER"`
	// Name is the rendered script's filename.
	Name string `yaml:"name" env:"BOOTSCRIPT_NAME"`
}

// Load reads the YAML file at path (ignored when path is empty or missing),
// applies environment overrides and fills in defaults.
func Load(path string) (Release, error) {
	var release Release

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// fall through to env and defaults
		case err != nil:
			return Release{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &release); err != nil {
				return Release{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(&release, env.Options{Prefix: "RELMEDIA_"}); err != nil {
		return Release{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	release.applyDefaults()
	return release, nil
}

func (r *Release) applyDefaults() {
	if r.InstallDir == "" {
		r.InstallDir = DefaultInstallDir
	}
	if r.OutputDir == "" {
		r.OutputDir = DefaultOutputDir
	}
	if r.Signer == "" {
		r.Signer = DefaultSigner
	}
	if r.CodesignCert == "" {
		r.CodesignCert = DefaultCodesignCert
	}
	if r.CodesignKey == "" {
		r.CodesignKey = DefaultCodesignKey
	}
	if r.BootScript.Name == "" {
		r.BootScript.Name = DefaultBootScriptName
	}
	if len(r.BuildModes) == 0 {
		r.BuildModes = []string{"iso", "netboot", "bootstrap"}
	}
}
