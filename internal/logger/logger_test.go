package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupCreatesLogDirectory(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "sub", "code_scanner.log")

	l := Setup(logPath, "info")
	require.NotNil(t, l)

	_, err := os.Stat(filepath.Dir(logPath))
	require.NoError(t, err)
}

func TestGetLoggerReturnsConfiguredLoggerAfterSetup(t *testing.T) {
	dir := t.TempDir()
	l := Setup(filepath.Join(dir, "code_scanner.log"), "info")
	assert.Equal(t, l, GetLogger())
}
