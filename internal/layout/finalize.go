// Package layout moves finished artifacts into the versioned release layout
// and hands the output tree back to the invoking unprivileged user.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

var _ pipeline.LayoutFinalizer = (*Finalizer)(nil)

// Finalizer relocates each artifact kind into `<kind>/<kind>-<version>/`
// under the output root, carrying checksum, delta and signature siblings
// along. Kinds absent from the run are skipped.
type Finalizer struct {
	Logger *slog.Logger
}

// Finalize implements pipeline.LayoutFinalizer.
func (f *Finalizer) Finalize(outputDir, installDir, version string) error {
	logger := logging.Ensure(f.Logger).With("version", version)

	if err := relocateFiles(outputDir, "*.iso", versionedDir(outputDir, "iso", version), logger); err != nil {
		return err
	}
	if err := relocateFiles(outputDir, "*.tar.*", versionedDir(outputDir, "bootstrap", version), logger); err != nil {
		return err
	}
	if err := relocateNetbootTree(outputDir, installDir, version, logger); err != nil {
		return err
	}
	if err := relocateFiles(filepath.Join(outputDir, "ipxe"), "*.ipxe", versionedDir(outputDir, "ipxe", version), logger); err != nil {
		return err
	}

	return restoreOwnership(outputDir, logger)
}

func versionedDir(outputDir, kind, version string) string {
	return filepath.Join(outputDir, kind, kind+"-"+version)
}

// relocateFiles moves the artifacts matching pattern in dir into dest,
// together with any sibling files. No matches means the kind was not part of
// this run.
func relocateFiles(dir, pattern, dest string, logger *slog.Logger) error {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return fmt.Errorf("glob %s: %w", pattern, err)
	}

	var artifacts []string
	for _, match := range matches {
		if isSibling(match) {
			continue
		}
		if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() {
			artifacts = append(artifacts, match)
		}
	}
	if len(artifacts) == 0 {
		return nil
	}
	sort.Strings(artifacts)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	for _, artifact := range artifacts {
		if err := moveFile(artifact, filepath.Join(dest, filepath.Base(artifact))); err != nil {
			return err
		}
		logger.Info("artifact relocated", "artifact", filepath.Base(artifact), "dest", dest)

		for _, suffix := range pipeline.SiblingSuffixes {
			sibling := artifact + suffix
			if _, err := os.Stat(sibling); errors.Is(err, fs.ErrNotExist) {
				continue
			} else if err != nil {
				return fmt.Errorf("stat %s: %w", sibling, err)
			}
			if err := moveFile(sibling, filepath.Join(dest, filepath.Base(sibling))); err != nil {
				return err
			}
		}
	}
	return nil
}

// relocateNetbootTree moves the whole install-directory tree produced for
// network boot under `netboot/netboot-<version>/`.
func relocateNetbootTree(outputDir, installDir, version string, logger *slog.Logger) error {
	src := filepath.Join(outputDir, installDir)
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat netboot tree: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("netboot tree %s is not a directory", src)
	}

	dest := versionedDir(outputDir, "netboot", version)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if err := os.Rename(src, filepath.Join(dest, installDir)); err != nil {
		return fmt.Errorf("move netboot tree: %w", err)
	}
	logger.Info("netboot tree relocated", "dest", dest)
	return nil
}

// restoreOwnership chowns the output tree back to the sudo invoker, fixing
// root-owned files created during the privileged build. A run without
// privilege elevation leaves ownership alone.
func restoreOwnership(outputDir string, logger *slog.Logger) error {
	uid, gid, ok := sudoInvoker()
	if !ok {
		return nil
	}

	err := filepath.WalkDir(outputDir, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
	if err != nil {
		return fmt.Errorf("restore output ownership: %w", err)
	}
	logger.Info("output ownership restored", "uid", uid, "gid", gid)
	return nil
}

func sudoInvoker() (uid, gid int, ok bool) {
	uidValue, gidValue := os.Getenv("SUDO_UID"), os.Getenv("SUDO_GID")
	if uidValue == "" || gidValue == "" {
		return 0, 0, false
	}
	uid, err := strconv.Atoi(uidValue)
	if err != nil {
		return 0, 0, false
	}
	gid, err = strconv.Atoi(gidValue)
	if err != nil {
		return 0, 0, false
	}
	return uid, gid, true
}

func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	return nil
}

func isSibling(path string) bool {
	for _, suffix := range pipeline.SiblingSuffixes {
		if filepath.Ext(path) == suffix {
			return true
		}
	}
	return false
}
