package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOutputPath(t *testing.T) {
	om := NewOutputManager(t.TempDir())
	path, err := om.DefaultOutputPath("run-1", "Daily Transactions")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(om.BaseOutputDir, "run-1", "daily_transactions.csv"), path)
	assert.DirExists(t, filepath.Dir(path))
}

func TestSidecarPaths(t *testing.T) {
	out := filepath.Join("out", "clean.csv")
	assert.Equal(t, filepath.Join("out", "clean_metadata.json"), MetadataPath(out))
	assert.Equal(t, filepath.Join("out", "clean_validation.json"), ReportPath(out))
	assert.Equal(t, filepath.Join("out", "clean.json"), SnapshotPath(out))
	assert.Equal(t, "data_metadata.json", MetadataPath("data"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "daily_transactions", Slug("Daily Transactions"))
	assert.Equal(t, "q3_2024_report", Slug("  Q3-2024 report "))
	assert.Equal(t, "pipeline", Slug("   "))
}
