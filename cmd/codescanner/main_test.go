package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRequiresTargetDirectory(t *testing.T) {
	assert.Equal(t, exitConfig, run(nil))
}

func TestRunVersionFlagExitsOK(t *testing.T) {
	assert.Equal(t, exitOK, run([]string{"--version"}))
	assert.Equal(t, exitOK, run([]string{"version"}))
}

func TestRunHelpFlagExitsOK(t *testing.T) {
	assert.Equal(t, exitOK, run([]string{"--help"}))
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	assert.Equal(t, exitConfig, run([]string{"--bogus-flag"}))
}

func TestRunFailsFastOnMissingConfig(t *testing.T) {
	dir := t.TempDir()
	// Not a Git repo and no config present: fails at the config-load
	// step, before ever touching an LLM backend.
	assert.Equal(t, exitConfig, run([]string{"--no-server", dir}))
}
