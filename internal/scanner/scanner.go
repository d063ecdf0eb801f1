// Package scanner implements the Scanner Engine from spec.md §4.H: it
// walks the check schedule against the current worktree, applying the
// watermark re-scan algorithm so that a file edited mid-pass causes
// exactly the stale prefix of the schedule to re-run, never the whole
// thing. Grounded on original_source's scanner.py for the overall
// check-group/batch iteration shape, generalized from its
// signal-and-restart-current-check design to the watermark algorithm
// spec.md §4.H mandates.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/nightaudit/codescanner/internal/batch"
	"github.com/nightaudit/codescanner/internal/config"
	"github.com/nightaudit/codescanner/internal/filter"
	"github.com/nightaudit/codescanner/internal/gitwatch"
	"github.com/nightaudit/codescanner/internal/issuetracker"
	"github.com/nightaudit/codescanner/internal/llm"
	"github.com/nightaudit/codescanner/internal/logger"
	"github.com/nightaudit/codescanner/internal/model"
	"github.com/nightaudit/codescanner/internal/report"
	"github.com/nightaudit/codescanner/internal/tools"
)

// idlePoll is how often the Scanner checks the ChangeSet cell for a
// new sequence number while idle.
const idlePoll = 500 * time.Millisecond

// conflictPoll is how long the Scanner waits before re-checking a
// worktree stuck in a merge/rebase conflict.
const conflictPoll = 5 * time.Second

// State is the Scanner's externally observable status, surfaced by
// the status server.
type State string

const (
	StateStarting  State = "starting"
	StateScanning  State = "scanning"
	StatePaused    State = "paused_llm_outage"
	StateIdle      State = "idle"
	StateConflict  State = "conflict"
)

// Scanner drives the check schedule against the Watcher's ChangeSet
// cell and the LLM Client, ingesting results into the Issue Tracker
// and rewriting the report after every check.
type Scanner struct {
	repoRoot string
	schedule []model.ScheduleEntry
	watcher  *gitwatch.Watcher
	filt     *filter.Filter
	planner  *batch.Planner
	client   llm.Client
	tracker  *issuetracker.Tracker
	writer   *report.Writer
	executor *tools.Executor

	startTime  time.Time
	state      State
	lastScanAt time.Time
	watermark  int
}

// New builds a Scanner. planner's budget should already be
// batch.Budget(client.ContextLimit()).
func New(repoRoot string, cfg *config.Config, watcher *gitwatch.Watcher, filt *filter.Filter,
	planner *batch.Planner, client llm.Client, tracker *issuetracker.Tracker,
	writer *report.Writer, executor *tools.Executor) *Scanner {
	return &Scanner{
		repoRoot:  repoRoot,
		schedule:  cfg.Schedule(),
		watcher:   watcher,
		filt:      filt,
		planner:   planner,
		client:    client,
		tracker:   tracker,
		writer:    writer,
		executor:  executor,
		startTime: time.Now(),
		state:     StateStarting,
		watermark: -1,
	}
}

// State reports the Scanner's current externally-observable state.
func (s *Scanner) State() State { return s.state }

// LastScanAt reports when the last scan cycle finished.
func (s *Scanner) LastScanAt() time.Time { return s.lastScanAt }

// ScheduleLen reports the number of (group, prompt) entries.
func (s *Scanner) ScheduleLen() int { return len(s.schedule) }

// Watermark reports the last schedule index of the pass now running
// (the end of the stale prefix being re-run), or -1 when no cycle is
// running.
func (s *Scanner) Watermark() int { return s.watermark }

// Run drives the Scanner context until ctx is cancelled, per spec.md
// §4.H/§5: one logical execution context, serial, never overlapping
// with itself.
func (s *Scanner) Run(ctx context.Context) {
	var lastSeq int64 = -1

	for {
		if ctx.Err() != nil {
			return
		}

		cs := s.watcher.Latest()
		if cs.Conflict {
			s.state = StateConflict
			if !sleepCtx(ctx, conflictPoll) {
				return
			}
			continue
		}

		if len(cs.Paths) == 0 && len(cs.Deleted) == 0 {
			s.state = StateIdle
			if !s.waitForChange(ctx, lastSeq) {
				return
			}
			lastSeq = s.watcher.Latest().Sequence
			continue
		}

		s.state = StateScanning
		s.runCycle(ctx, cs)
		s.lastScanAt = time.Now()
		lastSeq = cs.Sequence

		s.state = StateIdle
		if !s.waitForChange(ctx, lastSeq) {
			return
		}
		lastSeq = s.watcher.Latest().Sequence
	}
}

func (s *Scanner) waitForChange(ctx context.Context, lastSeq int64) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		cur := s.watcher.Latest()
		if cur.Sequence != lastSeq && (len(cur.Paths) > 0 || len(cur.Deleted) > 0 || cur.Conflict) {
			return true
		}
		if !sleepCtx(ctx, idlePoll) {
			return false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// runCycle runs the watermark algorithm to completion for one
// ChangeSet, per spec.md §4.H: repeat shrinking passes over the
// stale prefix until a pass completes clean.
func (s *Scanner) runCycle(ctx context.Context, cs *model.ChangeSet) {
	if len(s.schedule) == 0 {
		return
	}
	s.executor.InvalidateIndex()

	snapshot := map[string]model.FileSnapshot{}
	visited := map[string]int{}
	end := len(s.schedule) - 1
	s.watermark = end

	for end >= 0 {
		if ctx.Err() != nil {
			return
		}
		dirtyFloor := s.runPass(ctx, end, snapshot, visited)
		if dirtyFloor < 0 {
			break
		}
		end = dirtyFloor
		s.watermark = end
	}
	s.watermark = -1

	for f := range cs.Deleted {
		s.tracker.ResolveIssuesForFile(f)
	}
	s.rewriteReport()
}

// runPass executes schedule[0..end] in order, detecting mid-pass
// mutations to files already visited earlier in this pass. Returns
// the earliest schedule index whose consumed content is now stale, or
// -1 if the pass completed clean.
func (s *Scanner) runPass(ctx context.Context, end int, snapshot map[string]model.FileSnapshot, visited map[string]int) int {
	dirtyFloor := -1

	for i := 0; i <= end; i++ {
		if ctx.Err() != nil {
			return -1
		}

		for f, idx := range visited {
			if idx > i-1 {
				continue
			}
			cur, ok := s.currentHash(f)
			old := snapshot[f]
			changed := (!ok && old.ContentHash != "") || (ok && cur != old.ContentHash)
			if changed && (dirtyFloor == -1 || idx < dirtyFloor) {
				dirtyFloor = idx
			}
		}

		entry := s.schedule[i]
		cs := s.watcher.Latest()
		files := s.filesForGroup(entry.Group, cs)
		if len(files) == 0 {
			continue
		}

		for _, f := range files {
			if h, ok := s.currentHash(f); ok {
				snapshot[f] = model.FileSnapshot{Path: f, ContentHash: h}
			}
			visited[f] = i
		}

		s.executeCheck(ctx, entry, files)
	}

	return dirtyFloor
}

// filesForGroup selects the current ChangeSet's non-deleted paths
// that match the group's patterns and survive the file filter.
func (s *Scanner) filesForGroup(group model.CheckGroup, cs *model.ChangeSet) []string {
	var out []string
	for _, f := range cs.SortedPaths() {
		if !group.MatchesPath(f) {
			continue
		}
		if skip, _ := s.filt.ShouldSkip(f); skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (s *Scanner) currentHash(relPath string) (string, bool) {
	abs := filepath.Join(s.repoRoot, relPath)
	if _, err := os.Stat(abs); err != nil {
		return "", false
	}
	snap, err := gitwatch.ContentHash(abs)
	if err != nil {
		return "", false
	}
	return snap.ContentHash, true
}

// executeCheck packs files into batches, queries the model per batch,
// and ingests the union of produced issues once — atomically, per
// spec.md §4.G — rewriting the report after this one check.
func (s *Scanner) executeCheck(ctx context.Context, entry model.ScheduleEntry, files []string) {
	batches, skipped := s.planner.Plan(files)
	for _, f := range skipped {
		logger.GetLogger().Warn().Str("file", f).Str("check", entry.Prompt).Msg("file exceeds token budget, skipped")
	}
	if len(batches) == 0 {
		return
	}

	var allIssues []model.Issue
	var scannedFiles []string

	for _, b := range batches {
		if ctx.Err() != nil {
			return
		}
		contents := map[string][]byte{}
		var order []string
		for _, f := range b.Files {
			data, err := os.ReadFile(filepath.Join(s.repoRoot, f))
			if err != nil {
				logger.GetLogger().Warn().Err(err).Str("file", f).Msg("could not read file for batch, skipping")
				continue
			}
			contents[f] = data
			order = append(order, f)
		}
		if len(order) == 0 {
			continue
		}

		userPrompt := llm.BuildUserPrompt(entry.Prompt, contents, order)
		issues, err := s.client.Query(ctx, llm.SystemPromptTemplate, userPrompt, entry.Prompt, tools.Specs(), s.executor, llm.MaxToolIterations)
		if err != nil {
			var overflow *llm.ContextOverflowError
			if isContextOverflow(err, &overflow) {
				logger.GetLogger().Error().Str("check", entry.Prompt).Msg("context overflow, abandoning batch, no issues produced")
				continue
			}
			logger.GetLogger().Warn().Err(err).Str("check", entry.Prompt).Msg("check failed, skipping")
			continue
		}

		allIssues = append(allIssues, issues...)
		scannedFiles = append(scannedFiles, order...)
	}

	if len(scannedFiles) == 0 {
		return
	}

	newCount, resolvedCount := s.tracker.Ingest(scannedFiles, allIssues)
	if newCount > 0 || resolvedCount > 0 {
		logger.GetLogger().Info().Int("new", newCount).Int("resolved", resolvedCount).
			Str("check", entry.Prompt).Msg("check ingested")
	}
	s.rewriteReport()
}

func isContextOverflow(err error, target **llm.ContextOverflowError) bool {
	if v, ok := err.(*llm.ContextOverflowError); ok {
		*target = v
		return true
	}
	return false
}

func (s *Scanner) rewriteReport() {
	files, byFile := s.tracker.IssuesByFile()
	if err := s.writer.Rewrite(s.startTime, files, byFile); err != nil {
		logger.GetLogger().Error().Err(err).Msg("failed to rewrite report")
	}
}
