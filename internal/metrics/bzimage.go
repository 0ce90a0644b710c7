package metrics

import (
	"bytes"
	"fmt"
)

// bzImage setup header layout, from the kernel's Documentation/x86/boot.rst:
// 0x1FE holds the boot-sector magic 0xAA55, 0x202 the "HdrS" header magic and
// 0x20E a 16-bit offset that, plus 0x200, locates a NUL-terminated
// `<version> (<builder>) #<build> ...` string.
const (
	bootSectorMagicOffset = 0x1FE
	headerMagicOffset     = 0x202
	versionPointerOffset  = 0x20E
	versionBase           = 0x200
)

var headerMagic = []byte("HdrS")

// ParseBzImageVersion extracts the kernel version embedded in a bzImage.
// Input not matching the header contract above is rejected outright.
func ParseBzImageVersion(image []byte) (string, error) {
	if len(image) < versionPointerOffset+2 {
		return "", fmt.Errorf("bzImage too short for setup header (%d bytes)", len(image))
	}
	if image[bootSectorMagicOffset] != 0x55 || image[bootSectorMagicOffset+1] != 0xAA {
		return "", fmt.Errorf("missing boot sector magic, not a bzImage")
	}
	if !bytes.Equal(image[headerMagicOffset:headerMagicOffset+4], headerMagic) {
		return "", fmt.Errorf("missing HdrS header magic, not a bzImage")
	}

	pointer := int(image[versionPointerOffset]) | int(image[versionPointerOffset+1])<<8
	if pointer == 0 {
		return "", fmt.Errorf("bzImage has no embedded version string")
	}

	start := versionBase + pointer
	if start >= len(image) {
		return "", fmt.Errorf("version string offset %#x beyond image end", start)
	}

	end := bytes.IndexByte(image[start:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated version string in bzImage")
	}

	full := string(image[start : start+end])
	version, _, _ := cutSpace(full)
	if version == "" {
		return "", fmt.Errorf("empty version string in bzImage")
	}
	return version, nil
}

func cutSpace(s string) (before, after string, found bool) {
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
