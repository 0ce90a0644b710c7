package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	release, err := Load(filepath.Join(t.TempDir(), "relmedia.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if release.InstallDir != DefaultInstallDir {
		t.Errorf("InstallDir = %q, want %q", release.InstallDir, DefaultInstallDir)
	}
	if release.OutputDir != DefaultOutputDir {
		t.Errorf("OutputDir = %q, want %q", release.OutputDir, DefaultOutputDir)
	}
	if release.Signer != DefaultSigner {
		t.Errorf("Signer = %q, want %q", release.Signer, DefaultSigner)
	}
	if release.BootScript.Name != DefaultBootScriptName {
		t.Errorf("BootScript.Name = %q, want %q", release.BootScript.Name, DefaultBootScriptName)
	}
	if !reflect.DeepEqual(release.BuildModes, []string{"iso", "netboot", "bootstrap"}) {
		t.Errorf("BuildModes = %v, want all three modes", release.BuildModes)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relmedia.yaml")
	content := `
profile: /usr/share/archiso/configs/releng
install_dir: arch
buildmodes: [iso, bootstrap]
output_dir: /srv/release
gpg_signer: Release Builder <builder@example.org>
min_free_bytes: 1073741824
bootscript:
  renderer: [render-ipxe, --template, netboot.tmpl]
  name: custom.ipxe
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	release, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if release.ProfileDir != "/usr/share/archiso/configs/releng" {
		t.Errorf("ProfileDir = %q", release.ProfileDir)
	}
	if !reflect.DeepEqual(release.BuildModes, []string{"iso", "bootstrap"}) {
		t.Errorf("BuildModes = %v, want [iso bootstrap]", release.BuildModes)
	}
	if release.OutputDir != "/srv/release" {
		t.Errorf("OutputDir = %q", release.OutputDir)
	}
	if release.Signer != "Release Builder <builder@example.org>" {
		t.Errorf("Signer = %q", release.Signer)
	}
	if release.MinFreeBytes != 1<<30 {
		t.Errorf("MinFreeBytes = %d, want %d", release.MinFreeBytes, 1<<30)
	}
	if !reflect.DeepEqual(release.BootScript.Renderer, []string{"render-ipxe", "--template", "netboot.tmpl"}) {
		t.Errorf("BootScript.Renderer = %v", release.BootScript.Renderer)
	}
	if release.BootScript.Name != "custom.ipxe" {
		t.Errorf("BootScript.Name = %q, want custom.ipxe", release.BootScript.Name)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relmedia.yaml")
	if err := os.WriteFile(path, []byte("output_dir: /srv/from-file\nversion: 2026.01.01\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RELMEDIA_OUTPUT_DIR", "/srv/from-env")
	t.Setenv("RELMEDIA_VERSION", "2026.08.24")
	t.Setenv("RELMEDIA_BUILDMODES", "netboot")

	release, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if release.OutputDir != "/srv/from-env" {
		t.Errorf("OutputDir = %q, environment must win over the file", release.OutputDir)
	}
	if release.Version != "2026.08.24" {
		t.Errorf("Version = %q, want 2026.08.24", release.Version)
	}
	if !reflect.DeepEqual(release.BuildModes, []string{"netboot"}) {
		t.Errorf("BuildModes = %v, want [netboot]", release.BuildModes)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relmedia.yaml")
	if err := os.WriteFile(path, []byte("output_dir: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for malformed YAML")
	}
}

func TestExampleConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relmedia.yaml")
	if err := os.WriteFile(path, []byte(Example()), 0o644); err != nil {
		t.Fatal(err)
	}

	release, err := Load(path)
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	if release.InstallDir != DefaultInstallDir {
		t.Errorf("example install_dir = %q, want %q", release.InstallDir, DefaultInstallDir)
	}
	if release.Signer != DefaultSigner {
		t.Errorf("example gpg_signer = %q, want the default identity", release.Signer)
	}
	if release.BootScript.Name != DefaultBootScriptName {
		t.Errorf("example bootscript name = %q, want %q", release.BootScript.Name, DefaultBootScriptName)
	}
}

func TestLoadEmptyPathSkipsFile(t *testing.T) {
	release, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if release.InstallDir != DefaultInstallDir {
		t.Errorf("InstallDir = %q, want default", release.InstallDir)
	}
}
