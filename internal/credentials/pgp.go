// Package credentials provisions the short-lived signing material for one
// pipeline run: an ephemeral PGP signing key and a codesigning X.509 pair.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

// EphemeralPGP generates a fresh signing key per run and imports it into an
// isolated GnuPG home so the image builder's own gpg invocations can use it.
// The key has no passphrase and no expiry; it is discarded with the workspace.
type EphemeralPGP struct {
	Logger *slog.Logger

	// Name and Email form the key's user id.
	Name  string
	Email string

	// Binary overrides the gpg executable, mainly for tests.
	Binary string
}

// Create implements pipeline.SigningKeyCreator. Failure is fatal to the run;
// ephemeral keys are cheap to regenerate on the next run, not mid-run.
func (p *EphemeralPGP) Create(ctx context.Context, homeDir, keystoreDir string) (pipeline.PGPIdentity, error) {
	name := p.Name
	if name == "" {
		name = "Arch Linux Release Engineering"
	}
	email := p.Email
	if email == "" {
		email = "arch-releng@lists.archlinux.org"
	}

	entity, err := openpgp.NewEntity(name, "ephemeral release signing key", email, &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	if err != nil {
		return pipeline.PGPIdentity{}, fmt.Errorf("generate signing key: %w", err)
	}
	// Signing-only key: the run never needs an encryption subkey.
	entity.Subkeys = nil

	keyPath := filepath.Join(keystoreDir, "pgp-signing-key.asc")
	if err := writeArmoredPrivateKey(entity, keyPath); err != nil {
		return pipeline.PGPIdentity{}, err
	}

	if err := p.gpg(ctx, homeDir, "--import", keyPath); err != nil {
		return pipeline.PGPIdentity{}, fmt.Errorf("import signing key: %w", err)
	}

	listing, err := p.gpgOutput(ctx, homeDir, "--with-colons", "--list-secret-keys")
	if err != nil {
		return pipeline.PGPIdentity{}, fmt.Errorf("list secret keys: %w", err)
	}
	keyID, err := ParseSecretKeyFingerprint(listing)
	if err != nil {
		return pipeline.PGPIdentity{}, err
	}

	generated := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
	if keyID != generated {
		return pipeline.PGPIdentity{}, fmt.Errorf("keyring fingerprint %s does not match generated key %s", keyID, generated)
	}

	logging.Ensure(p.Logger).Debug("signing key imported", "key_id", keyID, "home", homeDir)
	return pipeline.PGPIdentity{HomeDir: homeDir, KeyID: keyID}, nil
}

func writeArmoredPrivateKey(entity *openpgp.Entity, path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	defer file.Close()

	encoder, err := armor.Encode(file, openpgp.PrivateKeyType, nil)
	if err != nil {
		return fmt.Errorf("armor key: %w", err)
	}
	if err := entity.SerializePrivate(encoder, nil); err != nil {
		return fmt.Errorf("serialize key: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("armor key: %w", err)
	}
	return file.Close()
}

// ParseSecretKeyFingerprint extracts the primary key fingerprint from
// `gpg --with-colons --list-secret-keys` output.
//
// Expected format contract: colon-separated records, one per line; a `sec`
// record introduces the primary secret key and is followed by an `fpr` record
// whose field 10 is the fingerprint. Output not matching the contract is an
// error, never a best-effort guess.
func ParseSecretKeyFingerprint(listing string) (string, error) {
	sawSecret := false
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Split(line, ":")
		switch fields[0] {
		case "sec":
			sawSecret = true
		case "fpr":
			if !sawSecret {
				continue
			}
			if len(fields) < 10 || fields[9] == "" {
				return "", fmt.Errorf("malformed fpr record %q in gpg listing", line)
			}
			return fields[9], nil
		}
	}
	if sawSecret {
		return "", fmt.Errorf("gpg listing has a sec record but no fingerprint")
	}
	return "", fmt.Errorf("no secret key found in gpg listing")
}

func (p *EphemeralPGP) gpg(ctx context.Context, homeDir string, args ...string) error {
	cmd := p.command(ctx, homeDir, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.binary(), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (p *EphemeralPGP) gpgOutput(ctx context.Context, homeDir string, args ...string) (string, error) {
	output, err := p.command(ctx, homeDir, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.binary(), err)
	}
	return string(output), nil
}

func (p *EphemeralPGP) command(ctx context.Context, homeDir string, args ...string) *exec.Cmd {
	base := []string{"--homedir", homeDir, "--batch", "--no-tty"}
	return exec.CommandContext(ctx, p.binary(), append(base, args...)...)
}

func (p *EphemeralPGP) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "gpg"
}
