package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// discovered partitions the builder's output files by post-processing need.
// The boot-loader script gets checksums but no delta-control file.
type discovered struct {
	checksum []string
	delta    []string
}

// discoverArtifacts locates the files the enabled build modes must have
// produced. A mode whose artifacts are absent is an error: the builder exited
// zero but did not deliver, and publishing a partial release is worse than
// failing here.
func discoverArtifacts(outputDir, installDir string, modes []BuildMode, bootScript string) (discovered, error) {
	var found discovered

	if ContainsMode(modes, ModeISO) {
		isos, err := requireGlob(filepath.Join(outputDir, "*.iso"), ModeISO)
		if err != nil {
			return discovered{}, err
		}
		found.checksum = append(found.checksum, isos...)
		found.delta = append(found.delta, isos...)
	}

	if ContainsMode(modes, ModeBootstrap) {
		tarballs, err := requireGlob(filepath.Join(outputDir, "*.tar.*"), ModeBootstrap)
		if err != nil {
			return discovered{}, err
		}
		found.checksum = append(found.checksum, tarballs...)
		found.delta = append(found.delta, tarballs...)
	}

	if ContainsMode(modes, ModeNetboot) {
		tree := filepath.Join(outputDir, installDir)
		info, err := os.Stat(tree)
		if err != nil || !info.IsDir() {
			return discovered{}, fmt.Errorf("netboot tree %s missing after build", tree)
		}
	}

	if bootScript != "" {
		found.checksum = append(found.checksum, bootScript)
	}

	sort.Strings(found.checksum)
	sort.Strings(found.delta)
	return found, nil
}

// SiblingSuffixes are the checksum, delta and signature companions that
// travel with an artifact and must never be treated as artifacts themselves.
var SiblingSuffixes = []string{".b2", ".md5", ".sha1", ".sha256", ".sha512", ".zsync", ".sig"}

func requireGlob(pattern string, mode BuildMode) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	files := matches[:0]
	for _, match := range matches {
		if isSibling(match) {
			continue
		}
		if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() {
			files = append(files, match)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s artifact matches %s after build", mode, pattern)
	}
	return files, nil
}

func isSibling(path string) bool {
	for _, suffix := range SiblingSuffixes {
		if filepath.Ext(path) == suffix {
			return true
		}
	}
	return false
}
