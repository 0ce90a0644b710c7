// Package postprocess finalizes builder output: the per-artifact checksum set
// and the zsync delta-control files. Any failure here aborts the run; a
// partial checksum set must never be published.
package postprocess

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

var _ pipeline.Checksummer = (*Checksummer)(nil)

// Checksummer writes the five-digest checksum set next to each artifact.
type Checksummer struct {
	Logger *slog.Logger
}

// digestSet pairs each checksum-file suffix with its hash constructor. The
// suffixes match the coreutils verifiers (b2sum, md5sum, ...).
type digestSet struct {
	suffix string
	make   func() hash.Hash
}

func digests() []digestSet {
	return []digestSet{
		{"b2", func() hash.Hash {
			h, err := blake2b.New256(nil)
			if err != nil {
				// unkeyed construction cannot fail
				panic(err)
			}
			return h
		}},
		{"md5", md5.New},
		{"sha1", sha1.New},
		{"sha256", sha256.New},
		{"sha512", sha512.New},
	}
}

// Compute implements pipeline.Checksummer. Each artifact is read once and fed
// to all five digests. The checksum files embed the bare filename, so
// `<tool> -c` verifies from within the artifact's own directory.
func (c *Checksummer) Compute(paths []string) error {
	logger := logging.Ensure(c.Logger)

	for _, path := range paths {
		if err := c.computeOne(logger, path); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checksummer) computeOne(logger *slog.Logger, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	set := digests()
	hashes := make([]hash.Hash, len(set))
	writers := make([]io.Writer, len(set))
	for i, d := range set {
		hashes[i] = d.make()
		writers[i] = hashes[i]
	}

	if _, err := io.Copy(io.MultiWriter(writers...), file); err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}

	name := filepath.Base(path)
	for i, d := range set {
		sum := hex.EncodeToString(hashes[i].Sum(nil))
		line := fmt.Sprintf("%s  %s\n", sum, name)
		if err := os.WriteFile(path+"."+d.suffix, []byte(line), 0o644); err != nil {
			return fmt.Errorf("write checksum file: %w", err)
		}
		logger.Info("checksum computed", "algorithm", d.suffix, "artifact", name, "digest", sum)
	}
	return nil
}
