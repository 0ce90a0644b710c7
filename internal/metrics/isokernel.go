package metrics

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kdomanski/iso9660"
)

// readKernelFromISO pulls the first vmlinuz* file out of the produced ISO.
// Used when the workspace airootfs is no longer around to read the kernel
// from directly.
func readKernelFromISO(isoPath string) ([]byte, error) {
	file, err := os.Open(isoPath)
	if err != nil {
		return nil, fmt.Errorf("open iso %s: %w", isoPath, err)
	}
	defer file.Close()

	image, err := iso9660.OpenImage(file)
	if err != nil {
		return nil, fmt.Errorf("parse iso %s: %w", isoPath, err)
	}
	root, err := image.RootDir()
	if err != nil {
		return nil, fmt.Errorf("read iso root directory: %w", err)
	}

	kernel, err := findKernelFile(root)
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, isoPath)
	}

	data, err := io.ReadAll(kernel.Reader())
	if err != nil {
		return nil, fmt.Errorf("read kernel from iso: %w", err)
	}
	return data, nil
}

func findKernelFile(dir *iso9660.File) (*iso9660.File, error) {
	children, err := dir.GetChildren()
	if err != nil {
		return nil, fmt.Errorf("read iso directory: %w", err)
	}

	for _, child := range children {
		if child.IsDir() {
			found, err := findKernelFile(child)
			if err == nil {
				return found, nil
			}
			continue
		}
		if strings.HasPrefix(strings.ToLower(child.Name()), "vmlinuz") {
			return child, nil
		}
	}
	return nil, fmt.Errorf("no vmlinuz file found")
}
