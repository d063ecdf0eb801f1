package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightaudit/codescanner/internal/config"
)

func TestAcquireLockWritesOwnPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code_scanner.lock")

	l, err := AcquireLock(path)
	require.NoError(t, err)
	defer l.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireLockRefusesWhenOwnerLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code_scanner.lock")

	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))

	_, err := AcquireLock(path)
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Msg, "already running")
}

func TestAcquireLockReclaimsDeadOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code_scanner.lock")

	// A PID that is exceedingly unlikely to be live on any real system.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0644))

	l, err := AcquireLock(path)
	require.NoError(t, err)
	defer l.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquireLockReclaimsUnparseableContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code_scanner.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))

	l, err := AcquireLock(path)
	require.NoError(t, err)
	l.Release()

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code_scanner.lock")

	l, err := AcquireLock(path)
	require.NoError(t, err)

	l.Release()
	l.Release() // must not panic or double-remove

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReleaseOnNilLockIsNoop(t *testing.T) {
	var l *Lock
	assert.NotPanics(t, func() { l.Release() })
}

func TestIsGitRepoFalseForPlainDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, isGitRepo(dir))
}

func TestBuildClientRejectsUnknownBackend(t *testing.T) {
	_, err := buildClient(config.LLMConfig{Backend: "smoke-signal", Host: "x", Port: 1, ContextLimit: 8192})
	require.Error(t, err)
}

func TestBuildClientOpenAICompat(t *testing.T) {
	c, err := buildClient(config.LLMConfig{Backend: config.BackendOpenAICompatible, Host: "localhost", Port: 8080, Model: "m", ContextLimit: 8192})
	require.NoError(t, err)
	assert.Equal(t, "openai-compatible", c.BackendName())
}

func TestBuildClientNativeChat(t *testing.T) {
	c, err := buildClient(config.LLMConfig{Backend: config.BackendNativeChat, Host: "localhost", Port: 11434, Model: "m", ContextLimit: 8192})
	require.NoError(t, err)
	assert.Equal(t, "native-chat", c.BackendName())
}
