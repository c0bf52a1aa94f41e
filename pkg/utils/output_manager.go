package utils

import (
	"os"
	"path/filepath"
	"strings"

	"go-etl-pipeline/internal/errors"
)

// OutputManager lays out per-run output files under a base directory.
type OutputManager struct {
	BaseOutputDir string
}

// NewOutputManager creates a new output manager
func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{
		BaseOutputDir: baseOutputDir,
	}
}

// CreateRunOutputDir creates the directory holding one run's outputs.
func (om *OutputManager) CreateRunOutputDir(runID string) (string, error) {
	runDir := filepath.Join(om.BaseOutputDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create run output directory")
	}
	return runDir, nil
}

// DefaultOutputPath returns <base>/<runID>/<pipeline>.csv, creating the
// run directory.
func (om *OutputManager) DefaultOutputPath(runID, pipelineName string) (string, error) {
	runDir, err := om.CreateRunOutputDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(runDir, Slug(pipelineName)+".csv"), nil
}

// MetadataPath returns the metadata sidecar path for an output file:
// "out/clean.csv" becomes "out/clean_metadata.json".
func MetadataPath(outputPath string) string {
	return sidecar(outputPath, "_metadata.json")
}

// ReportPath returns the validation report sidecar path for an output file.
func ReportPath(outputPath string) string {
	return sidecar(outputPath, "_validation.json")
}

// SnapshotPath returns the raw JSON snapshot path for an output file.
func SnapshotPath(outputPath string) string {
	return sidecar(outputPath, ".json")
}

func sidecar(outputPath, suffix string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + suffix
}

// Slug lowercases name and replaces anything but letters and digits with
// underscores, for use in file and table names.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "pipeline"
	}
	return b.String()
}
