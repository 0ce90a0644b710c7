package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BuildMode selects one of the artifact kinds the image-building tool can produce.
type BuildMode string

const (
	ModeISO       BuildMode = "iso"
	ModeNetboot   BuildMode = "netboot"
	ModeBootstrap BuildMode = "bootstrap"
)

// SupportedModes returns the full list of supported build modes.
func SupportedModes() []BuildMode {
	return []BuildMode{ModeISO, ModeNetboot, ModeBootstrap}
}

// IsValid reports whether m matches a supported build mode.
func (m BuildMode) IsValid() bool {
	switch m {
	case ModeISO, ModeNetboot, ModeBootstrap:
		return true
	default:
		return false
	}
}

// String returns the build mode as string.
func (m BuildMode) String() string {
	return string(m)
}

// ParseMode returns the canonical BuildMode for the provided string or an error
// if unsupported.
func ParseMode(value string) (BuildMode, error) {
	mode := BuildMode(strings.ToLower(strings.TrimSpace(value)))
	if mode.IsValid() {
		return mode, nil
	}
	return "", fmt.Errorf("unsupported build mode %q (supported: %s)", value, strings.Join(supportedModeStrings(), ", "))
}

// ParseModes parses a list of build mode strings, rejecting duplicates.
func ParseModes(values []string) ([]BuildMode, error) {
	seen := make(map[BuildMode]bool, len(values))
	modes := make([]BuildMode, 0, len(values))
	for _, value := range values {
		mode, err := ParseMode(value)
		if err != nil {
			return nil, err
		}
		if seen[mode] {
			return nil, fmt.Errorf("duplicate build mode %q", mode)
		}
		seen[mode] = true
		modes = append(modes, mode)
	}
	return modes, nil
}

// ContainsMode reports whether modes includes the given mode.
func ContainsMode(modes []BuildMode, mode BuildMode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

func supportedModeStrings() []string {
	all := SupportedModes()
	out := make([]string, 0, len(all))
	for _, m := range all {
		out = append(out, m.String())
	}
	sort.Strings(out)
	return out
}

// ArtifactKind partitions release artifacts for checksum, delta and layout handling.
type ArtifactKind string

const (
	KindISO       ArtifactKind = "iso"
	KindNetboot   ArtifactKind = "netboot"
	KindBootstrap ArtifactKind = "bootstrap"
	KindIPXE      ArtifactKind = "ipxe"
)

// PGPIdentity describes the ephemeral repository signing key for one run.
type PGPIdentity struct {
	// HomeDir is the isolated GnuPG home holding the imported secret key.
	HomeDir string
	// KeyID is the full fingerprint of the generated signing key.
	KeyID string
	// Signer is the human-readable identity passed to tools that support one.
	Signer string
}

// KeyPair is a codesigning certificate and private key on disk.
type KeyPair struct {
	CertPath string
	KeyPath  string
	// Ephemeral is true when the pair was generated for this run rather than
	// supplied by the operator.
	Ephemeral bool
}

// BuildRequest carries everything the delegated image builder invocation needs.
type BuildRequest struct {
	ProfileDir string
	InstallDir string
	Modes      []BuildMode
	OutputDir  string
	WorkDir    string

	PGP      PGPIdentity
	Codesign KeyPair
}

// MetricsInput names the pre-move paths the metrics collector scans.
type MetricsInput struct {
	WorkDir    string
	OutputDir  string
	InstallDir string
	Modes      []BuildMode
	Version    string
}

// Context is the explicit run state threaded through the pipeline stages.
// Stages fill in their produced values instead of mutating ambient globals.
type Context struct {
	Version   string
	StartedAt time.Time

	Workspace *Workspace
	PGP       PGPIdentity
	Codesign  KeyPair

	// BootScript is the rendered boot-loader script path, empty when the
	// netboot mode is not part of the release.
	BootScript string
}
