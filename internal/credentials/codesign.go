package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/relmedia/relmedia/internal/logging"
	"github.com/relmedia/relmedia/internal/pipeline"
)

// Ephemeral certificate parameters, mirroring the reference release setup.
const (
	codesignRSABits  = 4096
	codesignValidity = 365 * 24 * time.Hour
)

// Codesigning selects the codesigning key pair for a run: an externally
// managed pair when both files exist at the configured paths, otherwise an
// ephemeral self-signed certificate generated into the workspace keystore.
type Codesigning struct {
	Logger *slog.Logger

	// CertPath and KeyPath name the preferred externally supplied pair.
	CertPath string
	KeyPath  string
}

// Select implements pipeline.CodesigningProvisioner.
func (c *Codesigning) Select(ctx context.Context, keystoreDir string) (pipeline.KeyPair, error) {
	logger := logging.Ensure(c.Logger)

	if c.CertPath != "" && c.KeyPath != "" {
		certExists, err := fileExists(c.CertPath)
		if err != nil {
			return pipeline.KeyPair{}, err
		}
		keyExists, err := fileExists(c.KeyPath)
		if err != nil {
			return pipeline.KeyPair{}, err
		}
		if certExists && keyExists {
			logger.Info("using supplied codesigning pair", "cert", c.CertPath)
			return pipeline.KeyPair{CertPath: c.CertPath, KeyPath: c.KeyPath}, nil
		}
	}

	logger.Info("generating ephemeral codesigning pair")
	return generateCodesigningPair(keystoreDir)
}

// CheckValidity parses the pair's certificate and fails when its remaining
// validity is below minRemaining. This is a hard pre-build gate: artifacts
// signed by a near-expiry identity would need re-signing almost immediately.
func (c *Codesigning) CheckValidity(pair pipeline.KeyPair, minRemaining time.Duration) error {
	cert, err := readCertificate(pair.CertPath)
	if err != nil {
		return err
	}

	remaining := time.Until(cert.NotAfter)
	if remaining < minRemaining {
		return fmt.Errorf("codesigning certificate %s expires in %s, less than the required %s",
			pair.CertPath, remaining.Round(time.Hour), minRemaining)
	}
	return nil
}

func generateCodesigningPair(keystoreDir string) (pipeline.KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, codesignRSABits)
	if err != nil {
		return pipeline.KeyPair{}, fmt.Errorf("generate codesigning key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return pipeline.KeyPair{}, fmt.Errorf("generate certificate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization:       []string{"Arch Linux"},
			OrganizationalUnit: []string{"Release Engineering"},
			CommonName:         "archlinux.org",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(codesignValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return pipeline.KeyPair{}, fmt.Errorf("create codesigning certificate: %w", err)
	}

	certPath := filepath.Join(keystoreDir, "codesign.crt")
	keyPath := filepath.Join(keystoreDir, "codesign.key")

	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return pipeline.KeyPair{}, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return pipeline.KeyPair{}, fmt.Errorf("marshal codesigning key: %w", err)
	}
	if err := writePEM(keyPath, "PRIVATE KEY", keyDER, 0o600); err != nil {
		return pipeline.KeyPair{}, err
	}

	return pipeline.KeyPair{CertPath: certPath, KeyPath: keyPath, Ephemeral: true}, nil
}

func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certificate %s is not PEM encoded", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	return cert, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	if err := pem.Encode(file, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return file.Close()
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat %s: %w", path, err)
	case info.IsDir():
		return false, fmt.Errorf("%s is a directory, expected a file", path)
	}
	return true, nil
}
