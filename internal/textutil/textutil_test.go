package textutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarityRatioIdentical(t *testing.T) {
	assert.Equal(t, 1.0, SimilarityRatio("same text", "same text"))
}

func TestSimilarityRatioEmpty(t *testing.T) {
	assert.Equal(t, 1.0, SimilarityRatio("", ""))
	assert.Equal(t, 0.0, SimilarityRatio("x", ""))
}

func TestFuzzyMatchThreshold(t *testing.T) {
	assert.True(t, FuzzyMatch("QApplication* app = new QApplication(argc, argv);", "QApplication* app = new QApplication(argc,argv);", 0.8))
	assert.False(t, FuzzyMatch("hello world", "totally different content here", 0.8))
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("a   b\tc\n"))
}

func TestTruncateOutputLines(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "line"
	}
	content := ""
	for i, l := range lines {
		if i > 0 {
			content += "\n"
		}
		content += l
	}
	out, truncated, hint := TruncateOutput(content, 5, MaxOutputBytes)
	assert.True(t, truncated)
	assert.NotEmpty(t, hint)
	assert.Equal(t, 5, len(splitLines(out)))
}

func splitLines(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}

func TestValidateFilePathEscape(t *testing.T) {
	dir := t.TempDir()
	ok, msg, _ := ValidateFilePath("../etc/passwd", dir)
	assert.False(t, ok)
	assert.Contains(t, msg, "outside repository")
}

func TestValidateFilePathMissingSuggestsSimilar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0644))
	ok, msg, suggestions := ValidateFilePath("man.go", dir)
	assert.False(t, ok)
	assert.Contains(t, msg, "not found")
	assert.NotEmpty(t, suggestions)
}

func TestValidateLineNumber(t *testing.T) {
	ok, _ := ValidateLineNumber(0, 10, "")
	assert.False(t, ok)
	ok, _ = ValidateLineNumber(11, 10, "")
	assert.False(t, ok)
	ok, _ = ValidateLineNumber(5, 10, "")
	assert.True(t, ok)
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary([]byte{0x00, 0x01, 0x02}))
	assert.False(t, IsBinary([]byte("hello world")))
}

func TestGroupFilesByDirectoryDeepestFirst(t *testing.T) {
	groups := GroupFilesByDirectory([]string{"a.go", "sub/b.go", "sub/deep/c.go"})
	require.Len(t, groups, 3)
	assert.Equal(t, "sub/deep", groups[0].Dir)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 3, EstimateTokens("twelve chars"))
}
