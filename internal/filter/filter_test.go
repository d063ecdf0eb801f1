package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSkipScannerFile(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, []string{"code_scanner_results.md", "code_scanner.log"}, nil)
	skip, reason := f.ShouldSkip("code_scanner_results.md")
	assert.True(t, skip)
	assert.Equal(t, "scanner_file", reason)
}

func TestShouldSkipConfigPatternGlob(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, nil, []string{"*.md"})
	skip, reason := f.ShouldSkip("docs/readme.md")
	assert.True(t, skip)
	assert.Contains(t, reason, "config_pattern")
}

func TestShouldSkipConfigPatternDirectoryForm(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, nil, []string{"/*build*/"})
	skip, _ := f.ShouldSkip("build/output/x.cpp")
	assert.True(t, skip)

	skip2, _ := f.ShouldSkip("src/build_notes.txt")
	assert.False(t, skip2)
}

func TestShouldSkipGitignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\nvendor/\n"), 0644))
	f := New(dir, nil, nil)
	skip, reason := f.ShouldSkip("app.log")
	assert.True(t, skip)
	assert.Equal(t, "gitignore", reason)

	skip2, _ := f.ShouldSkip("src/main.go")
	assert.False(t, skip2)
}

func TestShouldSkipNestedGitignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", ".gitignore"), []byte("*.tmp\n"), 0644))

	f := New(dir, nil, nil)
	skip, _ := f.ShouldSkip("sub/scratch.tmp")
	assert.True(t, skip, "nested .gitignore pattern should be merged into the matcher")

	skip2, _ := f.ShouldSkip("sub/keep.go")
	assert.False(t, skip2)
}

func TestFilterPathsPartitions(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, []string{"code_scanner_results.md"}, []string{"*.md"})
	kept, skipped := f.FilterPaths([]string{"main.go", "code_scanner_results.md", "readme.md"})
	assert.Equal(t, []string{"main.go"}, kept)
	assert.Len(t, skipped, 2)
}
