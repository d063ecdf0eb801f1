package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `
[llm]
backend = "openai-compatible"
host = "localhost"
port = 1234
context_limit = 8192

[[checks]]
pattern = "*.go"
checks = ["Check for unhandled errors."]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendOpenAICompatible, cfg.LLM.Backend)
	assert.Len(t, cfg.Schedule(), 1)
}

func TestLoadLegacyFlatChecks(t *testing.T) {
	path := writeTemp(t, `
checks = ["Check for memory leaks.", "Check for SQL injection."]

[llm]
backend = "native-chat"
host = "localhost"
port = 11434
model = "qwen2.5-coder"
context_limit = 4096
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, []string{"*"}, cfg.Groups[0].Patterns)
	assert.Len(t, cfg.Schedule(), 2)
}

func TestLoadRejectsUnknownTopLevelSection(t *testing.T) {
	path := writeTemp(t, `
[llm]
backend = "openai-compatible"
host = "localhost"
port = 1234
context_limit = 8192

[[checks]]
pattern = "*.go"
checks = ["x"]

[bogus]
foo = 1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown top-level section")
}

func TestLoadRejectsUnknownLLMKey(t *testing.T) {
	path := writeTemp(t, `
[llm]
backend = "openai-compatible"
host = "localhost"
port = 1234
context_limit = 8192
temperature = 0.5

[[checks]]
pattern = "*.go"
checks = ["x"]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoadRejectsAllIgnoreGroups(t *testing.T) {
	path := writeTemp(t, `
[llm]
backend = "openai-compatible"
host = "localhost"
port = 1234
context_limit = 8192

[[checks]]
pattern = "*.md"
checks = []
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ignore-only")
}

func TestLoadRequiresModelForNativeChat(t *testing.T) {
	path := writeTemp(t, `
[llm]
backend = "native-chat"
host = "localhost"
port = 11434
context_limit = 4096

[[checks]]
pattern = "*.go"
checks = ["x"]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")
}

func TestIgnoreGroupExcludesFromScheduleButFeedsFilter(t *testing.T) {
	path := writeTemp(t, `
[llm]
backend = "openai-compatible"
host = "localhost"
port = 1234
context_limit = 8192

[[checks]]
pattern = "*.md, /*build*/"
checks = []

[[checks]]
pattern = "*.go"
checks = ["Check for bugs."]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Schedule(), 1)
	require.Len(t, cfg.IgnoreGroups(), 1)
	assert.Equal(t, []string{"*.md", "/*build*/"}, cfg.IgnoreGroups()[0].Patterns)
}
