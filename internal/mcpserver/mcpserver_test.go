package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nightaudit/codescanner/internal/tools"
)

func TestNewRegistersWithoutPanic(t *testing.T) {
	dir := t.TempDir()
	executor := tools.New(dir, "", "")

	assert.NotPanics(t, func() {
		srv := New(executor)
		assert.NotNil(t, srv)
	})
}
