// Package bootscript produces the signed boot-loader control script for
// network installs. Rendering is delegated to an external template renderer;
// the detached signature comes from the codesigning identity via openssl.
package bootscript

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

var _ pipeline.BootScriptPreparer = (*Generator)(nil)

// Generator renders and signs the boot script before the image builder runs.
type Generator struct {
	Logger *slog.Logger

	// Renderer is the argv of the external template renderer; the rendered
	// script is read from its stdout.
	Renderer []string
	// Name is the rendered script's filename.
	Name string

	// OpenSSL overrides the openssl executable, mainly for tests.
	OpenSSL string
}

// Prepare implements pipeline.BootScriptPreparer. The script lands in
// <outputDir>/ipxe/<Name> with its CMS/DER signature as a .sig sibling.
func (g *Generator) Prepare(ctx context.Context, outputDir string, pair pipeline.KeyPair) (string, error) {
	if len(g.Renderer) == 0 {
		return "", fmt.Errorf("boot script renderer command is not configured")
	}
	name := g.Name
	if name == "" {
		name = "archlinux.ipxe"
	}

	scriptDir := filepath.Join(outputDir, "ipxe")
	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return "", fmt.Errorf("create boot script directory: %w", err)
	}
	scriptPath := filepath.Join(scriptDir, name)

	logger := logging.Ensure(g.Logger)
	logger.Info("rendering boot script", "renderer", strings.Join(g.Renderer, " "), "script", scriptPath)

	if err := g.render(ctx, scriptPath); err != nil {
		return "", err
	}
	if err := g.sign(ctx, scriptPath, pair); err != nil {
		return "", err
	}

	logger.Info("boot script signed", "signature", scriptPath+".sig")
	return scriptPath, nil
}

func (g *Generator) render(ctx context.Context, scriptPath string) error {
	file, err := os.OpenFile(scriptPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create boot script: %w", err)
	}
	defer file.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.Renderer[0], g.Renderer[1:]...)
	cmd.Stdout = file
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("render boot script: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return file.Close()
}

// sign writes a detached CMS/DER signature with SHA-256 and no signed
// attributes, the format the boot loader's imgverify understands.
func (g *Generator) sign(ctx context.Context, scriptPath string, pair pipeline.KeyPair) error {
	openssl := g.OpenSSL
	if openssl == "" {
		openssl = "openssl"
	}

	cmd := exec.CommandContext(ctx, openssl,
		"cms", "-sign", "-binary", "-noattr", "-nosmimecap",
		"-md", "sha256", "-outform", "DER",
		"-signer", pair.CertPath,
		"-inkey", pair.KeyPath,
		"-in", scriptPath,
		"-out", scriptPath+".sig",
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sign boot script: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
