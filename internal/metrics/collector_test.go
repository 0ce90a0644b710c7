package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relmedia/relmedia/internal/pipeline"
)

func TestParsePacmanVersion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		output  string
		pkg     string
		want    string
		wantErr bool
	}{
		{"plain", "archiso 83-1\n", "archiso", "83-1", false},
		{"trailing space", "ipxe 1.21.1-3 \n", "ipxe", "1.21.1-3", false},
		{"wrong package", "archiso 83-1\n", "ipxe", "", true},
		{"empty", "", "archiso", "", true},
		{"error text", "error: package 'archiso' was not found\n", "archiso", "", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			version, err := ParsePacmanVersion(tc.output, tc.pkg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected contract violation, got %q", version)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePacmanVersion() error = %v", err)
			}
			if version != tc.want {
				t.Fatalf("ParsePacmanVersion() = %q, want %q", version, tc.want)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCountPackagesDeduplicatesAcrossArchitectures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pkglist.x86_64.txt"), "linux 6.10.3\nsystemd 256.5\npacman 6.1\n")
	writeFile(t, filepath.Join(dir, "pkglist.i686.txt"), "linux 6.10.3\nbash 5.2\n\n")

	count, err := countPackages(filepath.Join(dir, "pkglist.*.txt"))
	if err != nil {
		t.Fatalf("countPackages() error = %v", err)
	}
	if count != 4 {
		t.Fatalf("countPackages() = %d, want 4 (deduplicated union)", count)
	}
}

func TestCountPackagesRequiresListFiles(t *testing.T) {
	t.Parallel()

	if _, err := countPackages(filepath.Join(t.TempDir(), "pkglist.*.txt")); err == nil {
		t.Fatal("countPackages() expected error for missing package lists")
	}
}

func TestLocalDBVersion(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	db := filepath.Join(workDir, "x86_64", "airootfs", "var", "lib", "pacman", "local")
	for _, entry := range []string{"linux-6.10.3.arch1-1", "linux-firmware-20240804-1", "systemd-256.5-1"} {
		if err := os.MkdirAll(filepath.Join(db, entry), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	version, ok := localDBVersion(workDir, "linux")
	if !ok {
		t.Fatal("localDBVersion() did not find linux")
	}
	if version != "6.10.3.arch1-1" {
		t.Fatalf("localDBVersion(linux) = %q, want 6.10.3.arch1-1", version)
	}

	if _, ok := localDBVersion(workDir, "bash"); ok {
		t.Fatal("localDBVersion() found bash, want absent")
	}
}

func TestKernelVersionFromWorkspace(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	kernel := makeBzImage(t, "6.10.3-arch1-1")
	writeFile(t, filepath.Join(workDir, "x86_64", "airootfs", "boot", "vmlinuz-linux"), string(kernel))

	version, err := kernelVersion(pipeline.MetricsInput{WorkDir: workDir, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("kernelVersion() error = %v", err)
	}
	if version != "6.10.3-arch1-1" {
		t.Fatalf("kernelVersion() = %q, want 6.10.3-arch1-1", version)
	}
}

func TestKernelVersionRequiresASource(t *testing.T) {
	t.Parallel()

	input := pipeline.MetricsInput{WorkDir: t.TempDir(), OutputDir: t.TempDir()}
	if _, err := kernelVersion(input); err == nil {
		t.Fatal("kernelVersion() expected error with no kernel and no iso")
	}
}

func TestCollectSizes(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	outputDir := t.TempDir()

	writeFile(t, filepath.Join(outputDir, "archlinux-2026.08.24-x86_64.iso"), strings.Repeat("i", 1000))
	writeFile(t, filepath.Join(outputDir, "archlinux-2026.08.24-x86_64.iso.sha256"), "sibling")
	writeFile(t, filepath.Join(outputDir, "archlinux-bootstrap.tar.zst"), strings.Repeat("b", 300))
	writeFile(t, filepath.Join(outputDir, "arch", "boot", "vmlinuz-linux"), strings.Repeat("k", 50))
	writeFile(t, filepath.Join(outputDir, "arch", "pkglist.x86_64.txt"), "linux\n")
	writeFile(t, filepath.Join(workDir, "efiboot.img"), strings.Repeat("e", 200))
	writeFile(t, filepath.Join(workDir, "iso", "arch", "boot", "x86_64", "initramfs-linux.img"), strings.Repeat("r", 100))

	input := pipeline.MetricsInput{
		WorkDir:    workDir,
		OutputDir:  outputDir,
		InstallDir: "arch",
		Modes:      []pipeline.BuildMode{pipeline.ModeISO, pipeline.ModeNetboot, pipeline.ModeBootstrap},
	}

	report := &Report{}
	if err := collectSizes(report, input); err != nil {
		t.Fatalf("collectSizes() error = %v", err)
	}

	got := report.String()
	for _, want := range []string{
		`artifact_bytes{name="iso"} 1000`,
		`artifact_bytes{name="eltorito_efi"} 200`,
		`artifact_bytes{name="initramfs"} 100`,
		`artifact_bytes{name="netboot"} 56`,
		`artifact_bytes{name="bootstrap"} 300`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
}

func TestCollectSizesOmitsOptionalArtifacts(t *testing.T) {
	t.Parallel()

	outputDir := t.TempDir()
	writeFile(t, filepath.Join(outputDir, "release.iso"), "iso")

	input := pipeline.MetricsInput{
		WorkDir:    t.TempDir(),
		OutputDir:  outputDir,
		InstallDir: "arch",
		Modes:      []pipeline.BuildMode{pipeline.ModeISO},
	}

	report := &Report{}
	if err := collectSizes(report, input); err != nil {
		t.Fatalf("collectSizes() error = %v", err)
	}
	got := report.String()
	if strings.Contains(got, "eltorito_efi") || strings.Contains(got, "initramfs") {
		t.Fatalf("optional artifacts must be omitted, not zeroed:\n%s", got)
	}
}

func TestCollectSizesFailsOnMissingRequiredArtifact(t *testing.T) {
	t.Parallel()

	input := pipeline.MetricsInput{
		WorkDir:    t.TempDir(),
		OutputDir:  t.TempDir(),
		InstallDir: "arch",
		Modes:      []pipeline.BuildMode{pipeline.ModeISO},
	}
	if err := collectSizes(&Report{}, input); err == nil {
		t.Fatal("collectSizes() expected error for missing iso")
	}
}

func TestCollectPackageCountsAreIndependent(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	outputDir := t.TempDir()

	// The iso staging list and the netboot tree list deliberately differ.
	writeFile(t, filepath.Join(workDir, "iso", "arch", "pkglist.x86_64.txt"), "linux\nsystemd\npacman\n")
	writeFile(t, filepath.Join(outputDir, "arch", "pkglist.x86_64.txt"), "linux\nsystemd\n")

	input := pipeline.MetricsInput{
		WorkDir:    workDir,
		OutputDir:  outputDir,
		InstallDir: "arch",
		Modes:      []pipeline.BuildMode{pipeline.ModeISO, pipeline.ModeNetboot},
	}

	report := &Report{}
	if err := collectPackageCounts(report, input); err != nil {
		t.Fatalf("collectPackageCounts() error = %v", err)
	}

	got := report.String()
	if !strings.Contains(got, `package_count{name="iso"} 3`) {
		t.Errorf("report missing iso count of 3:\n%s", got)
	}
	if !strings.Contains(got, `package_count{name="netboot"} 2`) {
		t.Errorf("report missing netboot count of 2:\n%s", got)
	}
}
