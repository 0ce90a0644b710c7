package metrics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

// ReportName is the metrics file written at the output root before artifacts
// are relocated.
const ReportName = "metrics.txt"

// defaultNotablePackages are the rootfs packages whose versions are worth a
// line in the release metrics.
var defaultNotablePackages = []string{"linux", "systemd", "pacman", "openssl", "mkinitcpio"}

var _ pipeline.MetricsCollector = (*Collector)(nil)

// Collector gathers the release metrics. It must run against the pre-move
// layout: the paths it scans are gone or relocated after the finalizer.
type Collector struct {
	Logger *slog.Logger

	// Pacman overrides the pacman executable, mainly for tests.
	Pacman string
	// NotablePackages overrides defaultNotablePackages when non-nil.
	NotablePackages []string
}

// Collect implements pipeline.MetricsCollector.
func (c *Collector) Collect(ctx context.Context, input pipeline.MetricsInput) error {
	logger := logging.Ensure(c.Logger)
	report := &Report{}

	rootfsBuilt := pipeline.ContainsMode(input.Modes, pipeline.ModeISO) ||
		pipeline.ContainsMode(input.Modes, pipeline.ModeNetboot)

	// Component versions come first, then sizes, then package counts.
	builderVersion, err := c.queryPackageVersion(ctx, "archiso")
	if err != nil {
		return err
	}
	report.AddVersion("mkarchiso", builderVersion)

	if pipeline.ContainsMode(input.Modes, pipeline.ModeNetboot) {
		ipxeVersion, err := c.queryPackageVersion(ctx, "ipxe")
		if err != nil {
			return err
		}
		report.AddVersion("ipxe", ipxeVersion)
	}

	if rootfsBuilt {
		kernel, err := kernelVersion(input)
		if err != nil {
			return err
		}
		report.AddVersion("kernel", kernel)

		for _, name := range c.notablePackages() {
			version, ok := localDBVersion(input.WorkDir, name)
			if !ok {
				logger.Warn("notable package not found in rootfs", "package", name)
				continue
			}
			report.AddPackageVersion(name, version)
		}
	}

	if err := collectSizes(report, input); err != nil {
		return err
	}
	if err := collectPackageCounts(report, input); err != nil {
		return err
	}

	path := filepath.Join(input.OutputDir, ReportName)
	if err := report.WriteFile(path); err != nil {
		return err
	}
	logger.Info("metrics collected", "report", path, "measurements", report.Len())
	return nil
}

func (c *Collector) notablePackages() []string {
	if c.NotablePackages != nil {
		return c.NotablePackages
	}
	return defaultNotablePackages
}

// queryPackageVersion asks the package manager for an installed version.
func (c *Collector) queryPackageVersion(ctx context.Context, name string) (string, error) {
	pacman := c.Pacman
	if pacman == "" {
		pacman = "pacman"
	}

	output, err := exec.CommandContext(ctx, pacman, "-Q", name).Output()
	if err != nil {
		return "", fmt.Errorf("query %s version: %w", name, err)
	}
	return ParsePacmanVersion(string(output), name)
}

// ParsePacmanVersion extracts the version from `pacman -Q <name>` output.
//
// Expected format contract: exactly one line, `<name> <version>`. Anything
// else violates the contract and is an error.
func ParsePacmanVersion(output, name string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) != 2 || fields[0] != name {
		return "", fmt.Errorf("unexpected pacman output for %s: %q", name, strings.TrimSpace(output))
	}
	return fields[1], nil
}

// kernelVersion reads the version embedded in the built kernel image,
// preferring the workspace airootfs copy and falling back to extracting it
// from the produced ISO.
func kernelVersion(input pipeline.MetricsInput) (string, error) {
	matches, _ := filepath.Glob(filepath.Join(input.WorkDir, "*", "airootfs", "boot", "vmlinuz*"))
	if len(matches) > 0 {
		sort.Strings(matches)
		image, err := os.ReadFile(matches[0])
		if err != nil {
			return "", fmt.Errorf("read kernel image: %w", err)
		}
		return ParseBzImageVersion(image)
	}

	isos, _ := filepath.Glob(filepath.Join(input.OutputDir, "*.iso"))
	if len(isos) == 0 {
		return "", fmt.Errorf("no kernel image found under %s and no iso to extract one from", input.WorkDir)
	}
	sort.Strings(isos)
	image, err := readKernelFromISO(isos[0])
	if err != nil {
		return "", err
	}
	return ParseBzImageVersion(image)
}

// localDBVersion looks a package up in the built rootfs's package manager
// database, where each installed package owns a `<name>-<version>-<release>`
// directory.
func localDBVersion(workDir, name string) (string, bool) {
	pattern := filepath.Join(workDir, "*", "airootfs", "var", "lib", "pacman", "local", name+"-[0-9]*")
	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return strings.TrimPrefix(filepath.Base(matches[0]), name+"-"), true
}

func collectSizes(report *Report, input pipeline.MetricsInput) error {
	if pipeline.ContainsMode(input.Modes, pipeline.ModeISO) {
		size, err := globFileSize(filepath.Join(input.OutputDir, "*.iso"), "iso")
		if err != nil {
			return err
		}
		report.AddBytes("iso", size)

		// Present only for EFI-capable images; omitted rather than zeroed.
		if size, err := fileSize(filepath.Join(input.WorkDir, "efiboot.img")); err == nil {
			report.AddBytes("eltorito_efi", size)
		}
		if size, ok := initramfsSize(input); ok {
			report.AddBytes("initramfs", size)
		}
	}

	if pipeline.ContainsMode(input.Modes, pipeline.ModeNetboot) {
		size, err := dirSize(filepath.Join(input.OutputDir, input.InstallDir))
		if err != nil {
			return fmt.Errorf("measure netboot tree: %w", err)
		}
		report.AddBytes("netboot", size)
	}

	if pipeline.ContainsMode(input.Modes, pipeline.ModeBootstrap) {
		size, err := globFileSize(filepath.Join(input.OutputDir, "*.tar.*"), "bootstrap")
		if err != nil {
			return err
		}
		report.AddBytes("bootstrap", size)
	}
	return nil
}

func collectPackageCounts(report *Report, input pipeline.MetricsInput) error {
	// The iso and netboot counts are computed independently from their own
	// package-list files, even though both usually describe the same rootfs.
	if pipeline.ContainsMode(input.Modes, pipeline.ModeISO) {
		count, err := countPackages(filepath.Join(input.WorkDir, "iso", input.InstallDir, "pkglist.*.txt"))
		if err != nil {
			return fmt.Errorf("iso package count: %w", err)
		}
		report.AddPackageCount("iso", count)
	}
	if pipeline.ContainsMode(input.Modes, pipeline.ModeNetboot) {
		count, err := countPackages(filepath.Join(input.OutputDir, input.InstallDir, "pkglist.*.txt"))
		if err != nil {
			return fmt.Errorf("netboot package count: %w", err)
		}
		report.AddPackageCount("netboot", count)
	}
	return nil
}

// countPackages returns the deduplicated union of entries across the
// per-architecture package-list files matching pattern.
func countPackages(pattern string) (int, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("no package-list files match %s", pattern)
	}

	packages := make(map[string]struct{})
	for _, path := range matches {
		file, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("open package list: %w", err)
		}
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				packages[line] = struct{}{}
			}
		}
		err = scanner.Err()
		file.Close()
		if err != nil {
			return 0, fmt.Errorf("read package list %s: %w", path, err)
		}
	}
	return len(packages), nil
}

func initramfsSize(input pipeline.MetricsInput) (int64, bool) {
	patterns := []string{
		filepath.Join(input.WorkDir, "iso", input.InstallDir, "boot", "*", "initramfs*.img"),
		filepath.Join(input.WorkDir, "*", "airootfs", "boot", "initramfs*.img"),
	}
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		if size, err := fileSize(matches[0]); err == nil {
			return size, true
		}
	}
	return 0, false
}

func globFileSize(pattern, kind string) (int64, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	files := matches[:0]
	for _, match := range matches {
		if !isSiblingFile(match) {
			files = append(files, match)
		}
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("no %s artifact matches %s", kind, pattern)
	}
	sort.Strings(files)
	return fileSize(files[0])
}

func isSiblingFile(path string) bool {
	for _, suffix := range pipeline.SiblingSuffixes {
		if filepath.Ext(path) == suffix {
			return true
		}
	}
	return false
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	return info.Size(), nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			info, err := entry.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
