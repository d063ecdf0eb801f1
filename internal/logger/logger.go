// Package logger provides the process-wide structured logger, built
// on arbor exactly as the teacher project's internal/logger does:
// a lazily-initialized singleton guarded by a read/write mutex, with
// console, file, and in-memory writers.
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger, falling back to a bare console
// logger if Setup has not run yet.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		defer loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(consoleConfig())
		globalLogger.Warn().Msg("using fallback logger - Setup() should be called during startup")
	}
	return globalLogger
}

// Setup configures the global logger: console output plus a rotating
// file under logPath, and an in-memory ring buffer the status
// endpoint (internal/api) can read from without touching disk.
func Setup(logPath, level string) arbor.ILogger {
	l := arbor.NewLogger()

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			tmp := arbor.NewLogger().WithConsoleWriter(consoleConfig())
			tmp.Warn().Err(err).Str("log_path", logPath).Msg("failed to create log directory")
		} else {
			l = l.WithFileWriter(fileConfig(logPath))
		}
	}

	l = l.WithConsoleWriter(consoleConfig())
	l = l.WithMemoryWriter(memoryConfig())

	if level == "" {
		level = "info"
	}
	l = l.WithLevelFromString(level)

	loggerMutex.Lock()
	globalLogger = l
	loggerMutex.Unlock()

	return l
}

func consoleConfig() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05.000",
		OutputType:       models.OutputFormatLogfmt,
		DisableTimestamp: false,
	}
}

func fileConfig(path string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeFile,
		FileName:   path,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		OutputType: models.OutputFormatJSON,
		MaxSize:    50 * 1024 * 1024,
		MaxBackups: 3,
	}
}

func memoryConfig() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeMemory,
		OutputType: models.OutputFormatJSON,
	}
}

// Stop flushes any remaining buffered logs. Safe to call multiple
// times; arbor's Stop is idempotent.
func Stop() {
	arborcommon.Stop()
}
