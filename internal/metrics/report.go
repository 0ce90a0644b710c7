// Package metrics derives a flat text report from the build workspace and the
// pre-move output tree: component versions, artifact sizes and package counts.
package metrics

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Label is one name="value" pair attached to a measurement.
type Label struct {
	Key   string
	Value string
}

// Report accumulates measurements in insertion order and renders them as
// single-line `name{labels} value` records.
type Report struct {
	lines []string
}

// Add appends one measurement.
func (r *Report) Add(name string, value int64, labels ...Label) {
	var builder strings.Builder
	builder.WriteString(name)
	if len(labels) > 0 {
		builder.WriteByte('{')
		for i, label := range labels {
			if i > 0 {
				builder.WriteByte(',')
			}
			builder.WriteString(label.Key)
			builder.WriteString(`="`)
			builder.WriteString(label.Value)
			builder.WriteByte('"')
		}
		builder.WriteByte('}')
	}
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatInt(value, 10))
	r.lines = append(r.lines, builder.String())
}

// AddVersion records a component version as a version_info measurement.
func (r *Report) AddVersion(name, version string) {
	r.Add("version_info", 1, Label{"name", name}, Label{"version", version})
}

// AddPackageVersion records a notable package version found in the built rootfs.
func (r *Report) AddPackageVersion(name, version string) {
	r.Add("package_version_info", 1, Label{"name", name}, Label{"version", version})
}

// AddBytes records an artifact size.
func (r *Report) AddBytes(name string, size int64) {
	r.Add("artifact_bytes", size, Label{"name", name})
}

// AddPackageCount records the package count for one rootfs kind.
func (r *Report) AddPackageCount(name string, count int) {
	r.Add("package_count", int64(count), Label{"name", name})
}

// Len returns the number of recorded measurements.
func (r *Report) Len() int {
	return len(r.lines)
}

// String renders the report, one measurement per line.
func (r *Report) String() string {
	if len(r.lines) == 0 {
		return ""
	}
	return strings.Join(r.lines, "\n") + "\n"
}

// WriteFile writes the rendered report to path.
func (r *Report) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(r.String()), 0o644); err != nil {
		return fmt.Errorf("write metrics report: %w", err)
	}
	return nil
}
