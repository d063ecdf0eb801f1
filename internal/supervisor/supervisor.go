// Package supervisor owns process lifecycle: the lock file, the
// ordered startup validation sequence, and signal-driven shutdown,
// per spec.md §4.I. Grounded on the teacher's internal/service's
// daemon lifecycle shape (PID file, signal.Notify, graceful
// shutdown), adapted from an HTTP-server daemon to a scanner daemon.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nightaudit/codescanner/internal/batch"
	"github.com/nightaudit/codescanner/internal/config"
	"github.com/nightaudit/codescanner/internal/fileutil"
	"github.com/nightaudit/codescanner/internal/filter"
	"github.com/nightaudit/codescanner/internal/gitwatch"
	"github.com/nightaudit/codescanner/internal/issuetracker"
	"github.com/nightaudit/codescanner/internal/llm"
	"github.com/nightaudit/codescanner/internal/logger"
	"github.com/nightaudit/codescanner/internal/report"
	"github.com/nightaudit/codescanner/internal/scanner"
	"github.com/nightaudit/codescanner/internal/tools"
)

// ConfigError is a startup failure in configuration or arguments,
// mapped to exit code 1 by cmd/codescanner.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// FatalError is a startup failure in the runtime environment (lock
// held, no Git repo, LLM unreachable), mapped to exit code 2.
type FatalError struct{ Msg string }

func (e *FatalError) Error() string { return e.Msg }

// Options configures one Supervisor run.
type Options struct {
	TargetDir  string
	ConfigPath string
	CommitHash string
}

// Supervisor drives the ordered startup validation from spec.md §4.I
// and owns the Watcher/Scanner goroutines and the lock file for the
// life of the process.
type Supervisor struct {
	opts Options

	lock     *Lock
	cfg      *config.Config
	client   llm.Client
	watcher  *gitwatch.Watcher
	scanner  *scanner.Scanner
	tracker  *issuetracker.Tracker
	writer   *report.Writer
	filt     *filter.Filter
	executor *tools.Executor

	ready atomic.Bool
}

// New builds a Supervisor for one run; call Run to execute startup
// validation and drive the daemon until ctx is cancelled or a
// termination signal arrives.
func New(opts Options) *Supervisor {
	return &Supervisor{opts: opts}
}

// Ready reports whether startup validation has completed, for the
// status server's /healthz.
func (s *Supervisor) Ready() bool { return s.ready.Load() }

// Scanner exposes the running Scanner for the status server.
func (s *Supervisor) Scanner() *scanner.Scanner { return s.scanner }

// Tracker exposes the Issue Tracker for the status server.
func (s *Supervisor) Tracker() *issuetracker.Tracker { return s.tracker }

// Run executes the startup validation sequence, then blocks running
// the Watcher and Scanner contexts until ctx is cancelled or a
// SIGINT/SIGTERM/SIGHUP arrives. The lock is always released before
// Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	lock, err := AcquireLock(config.LockPath())
	if err != nil {
		return err
	}
	s.lock = lock
	defer s.lock.Release()
	defer logger.Stop()

	if err := s.startup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		s.watcher.Run(runCtx)
		close(done)
	}()

	scannerDone := make(chan struct{})
	go func() {
		s.scanner.Run(runCtx)
		close(scannerDone)
	}()

	s.ready.Store(true)
	logger.GetLogger().Info().Str("target", s.opts.TargetDir).Msg("code scanner daemon started")

	select {
	case sig := <-sigCh:
		logger.GetLogger().Info().Str("signal", sig.String()).Msg("received termination signal, shutting down")
	case <-ctx.Done():
	}

	cancel()
	<-done
	<-scannerDone
	return nil
}

// startup runs the ordered validation sequence from spec.md §4.I,
// steps 2 through 8 (step 1, the lock, already ran in Run).
func (s *Supervisor) startup(ctx context.Context) error {
	targetDir, err := fileutil.Abs(s.opts.TargetDir)
	if err != nil {
		return &ConfigError{Msg: "resolve target directory: " + err.Error()}
	}
	if !fileutil.IsDir(targetDir) {
		return &ConfigError{Msg: fmt.Sprintf("%s is not a directory", targetDir)}
	}
	s.opts.TargetDir = targetDir

	logger.Setup(config.LogPath(targetDir), "info")

	s.writer = report.New(targetDir, config.DefaultOutputFile, config.DefaultOutputFile+".bak")
	if err := s.writer.RotateExisting(); err != nil {
		return fmt.Errorf("rotate existing report: %w", err)
	}

	cfgPath := s.opts.ConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	s.cfg = cfg

	if !isGitRepo(targetDir) {
		return &FatalError{Msg: fmt.Sprintf("%s is not a Git repository", targetDir)}
	}

	client, err := buildClient(cfg.LLM)
	if err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	s.client = client

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return &FatalError{Msg: "cannot reach LLM backend: " + err.Error()}
	}

	if err := validateContextLimit(cfg.LLM.ContextLimit, client); err != nil {
		return err
	}

	if err := s.writer.CreateEmpty(time.Now()); err != nil {
		return fmt.Errorf("create empty report: %w", err)
	}

	scannerFiles := []string{config.DefaultOutputFile, config.DefaultOutputFile + ".bak", config.DefaultLogFile}
	var configPatterns []string
	for _, g := range cfg.IgnoreGroups() {
		configPatterns = append(configPatterns, g.Patterns...)
	}
	s.filt = filter.New(targetDir, scannerFiles, configPatterns)

	watcher, err := gitwatch.New(targetDir, s.opts.CommitHash, s.filt, time.Duration(config.DefaultGitPollInterval)*time.Second, scannerFiles)
	if err != nil {
		return &FatalError{Msg: err.Error()}
	}
	s.watcher = watcher

	s.tracker = issuetracker.New(config.DefaultSimilarityThreshold)
	s.executor = tools.New(targetDir, "", "")
	planner := batch.New(targetDir, batch.Budget(client.ContextLimit()))
	s.scanner = scanner.New(targetDir, cfg, watcher, s.filt, planner, client, s.tracker, s.writer, s.executor)

	return nil
}

func isGitRepo(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--git-dir")
	return cmd.Run() == nil
}

func buildClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Backend {
	case config.BackendOpenAICompatible:
		return llm.NewOpenAICompatClient(cfg.BaseURL(), cfg.Model, cfg.ContextLimit, cfg.Timeout), nil
	case config.BackendNativeChat:
		return llm.NewNativeChatClient(cfg.BaseURL(), cfg.Model, cfg.ContextLimit, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// validateContextLimit applies spec.md §4.I's variant-specific policy:
// if the backend authoritatively reports a lower limit than
// configured, abort; if the configured value is lower, honor it with
// a warning. Neither reference backend's connectivity probe currently
// surfaces an authoritative limit, so this degrades to trusting the
// configured value — logged at debug rather than enforced.
func validateContextLimit(configured int, client llm.Client) error {
	reported := client.ContextLimit()
	if reported <= 0 || reported == configured {
		logger.GetLogger().Debug().Int("configured", configured).Msg("context limit: backend did not report an authoritative value, trusting config")
		client.SetContextLimit(configured)
		return nil
	}
	if configured > reported {
		return &FatalError{Msg: fmt.Sprintf("configured context_limit %d exceeds server-reported limit %d", configured, reported)}
	}
	logger.GetLogger().Warn().Int("configured", configured).Int("server_reported", reported).
		Msg("configured context_limit is lower than the server's; honoring the configured value")
	client.SetContextLimit(configured)
	return nil
}
