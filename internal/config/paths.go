package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir returns the per-user data directory used for the
// lock file and (when no target-directory log path applies) the
// central log, adapted from the teacher's OS-specific resolution.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "code-scanner")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "code-scanner")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "code-scanner")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "code-scanner")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".code-scanner")
	}
}

// DefaultConfigPath returns the config file path used when --config
// is not supplied on the command line.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.toml")
}

// LockPath returns the fixed per-user lock file path (spec.md §4.I).
func LockPath() string {
	return filepath.Join(DefaultDataDir(), DefaultLockFile)
}

// ReportPath, BackupPath and LogPath are rooted in the scanned
// target directory itself, per spec.md §6's filesystem surface.
func ReportPath(targetDir string) string {
	return filepath.Join(targetDir, DefaultOutputFile)
}

func BackupPath(targetDir string) string {
	return filepath.Join(targetDir, DefaultOutputFile+".bak")
}

func LogPath(targetDir string) string {
	return filepath.Join(targetDir, DefaultLogFile)
}
