package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed, skipping", name)
	}
}

func TestReadFileRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0644))

	e := New(dir, "", "")
	res := e.ReadFile(map[string]any{"path": "../etc/passwd"})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestReadFileRejectsBinary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin.dat"), []byte{0x00, 0x01, 0x02, 'a', 'b'}, 0644))

	e := New(dir, "", "")
	res := e.ReadFile(map[string]any{"path": "bin.dat"})
	assert.False(t, res.Success)
}

func TestReadFileReturnsLineRange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("line1\nline2\nline3\nline4\n"), 0644))

	e := New(dir, "", "")
	res := e.ReadFile(map[string]any{"path": "a.go", "start_line": 2, "end_line": 3})
	require.True(t, res.Success)
	assert.Equal(t, "line2\nline3", res.Data["content"])
}

func TestReadFileMissingSuggestsSimilar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.go"), []byte("package a\n"), 0644))

	e := New(dir, "", "")
	res := e.ReadFile(map[string]any{"path": "handlr.go"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Suggestions, "handler.go")
}

func TestListDirectoryFiltersHiddenAndBuildDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644))

	e := New(dir, "", "")
	res := e.ListDirectory(map[string]any{"path": ".", "recursive": true})
	require.True(t, res.Success)
	files := res.Data["files"].([]map[string]any)
	for _, f := range files {
		assert.NotContains(t, f["path"], "node_modules")
	}
}

func TestListDirectoryPaginates(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, string(rune('a'+i))+".go"), []byte("package a\n"), 0644))
	}
	e := New(dir, "", "")
	res := e.ListDirectory(map[string]any{"path": "."})
	require.True(t, res.Success)
	assert.Equal(t, 5, res.Data["total_count"])
	assert.False(t, res.Data["has_more"].(bool))
}

func TestSearchTextFindsMatches(t *testing.T) {
	requireBinary(t, "rg")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("func doWork() {}\nvar x = doWork()\n"), 0644))

	e := New(dir, "", "")
	res := e.SearchText(context.Background(), map[string]any{"pattern": "doWork"})
	require.True(t, res.Success)
	matches := res.Data["matches"].([]map[string]any)
	require.Len(t, matches, 2)
}

func TestGetFileSummaryUsesCtags(t *testing.T) {
	requireBinary(t, "ctags")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc DoWork() {}\n"), 0644))

	e := New(dir, "", "")
	res := e.GetFileSummary(context.Background(), map[string]any{"path": "a.go"})
	require.True(t, res.Success)
}

func TestInvokeUnknownToolReturnsError(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, "", "")
	out, isErr := e.Invoke(context.Background(), "delete_everything", nil)
	assert.True(t, isErr)
	assert.Contains(t, out, "unknown tool")
}

func TestMatchesKindHandlesAbbreviation(t *testing.T) {
	assert.True(t, matchesKind("f", "function"))
	assert.True(t, matchesKind("function", "f"))
	assert.False(t, matchesKind("v", "function"))
}
