package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/nightaudit/codescanner/internal/fileutil"
)

// Lock is the per-user PID lock file from spec.md §4.I: on startup, a
// live owner PID aborts the new instance; a dead one is reclaimed.
// Grounded on the teacher's internal/service/daemon.go PID-file
// pattern, adapted from a bare-PID file to a lock file whose content
// is the owner PID.
type Lock struct {
	path  string
	owned atomic.Bool
}

// AcquireLock claims path, reclaiming it if the recorded PID is dead.
func AcquireLock(path string) (*Lock, error) {
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
			if isPIDLive(pid) {
				return nil, &FatalError{Msg: fmt.Sprintf("another instance is already running (pid %d, lock %s)", pid, path)}
			}
		}
		// Stale lock: PID is dead or unparseable. Reclaim it below.
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	l := &Lock{path: path}
	l.owned.Store(true)
	return l, nil
}

// Release removes the lock file if this process still owns it. Safe
// to call more than once (e.g. from both a signal handler and a
// deferred cleanup) since ownership is checked with an atomic swap.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if l.owned.CompareAndSwap(true, false) {
		_ = os.Remove(l.path)
	}
}

func isPIDLive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
