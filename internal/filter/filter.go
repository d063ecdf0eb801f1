// Package filter implements the unified file-exclusion predicate
// described in spec.md §4.A: scanner-owned filenames, config ignore
// patterns (including the `/*name*/` directory form), and gitignore
// rules, merged into a single `included(path) -> bool` check.
//
// Ground truth for the three-tier algorithm is original_source's
// file_filter.py; gitignore matching uses go-git's in-memory pathspec
// engine in place of Python's pathspec library.
package filter

import (
	"bufio"
	"bytes"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/nightaudit/codescanner/internal/logger"
)

// Filter combines all three exclusion tiers for one scan cycle. It is
// rebuilt whenever the config's ignore-group patterns or the on-disk
// .gitignore files change.
type Filter struct {
	repoRoot             string
	scannerFiles         map[string]struct{}
	configPatterns       []string
	gitignore            gitignore.Matcher
	gitignoreUnavailable bool
}

// New builds a Filter for repoRoot. scannerFiles are exact basenames
// always excluded (the report, its backup, the log). configPatterns
// come from every ignore CheckGroup's Patterns, already comma-split.
func New(repoRoot string, scannerFiles []string, configPatterns []string) *Filter {
	f := &Filter{
		repoRoot:       repoRoot,
		scannerFiles:   toSet(scannerFiles),
		configPatterns: append([]string(nil), configPatterns...),
	}
	f.reloadGitignore()
	return f
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// reloadGitignore re-reads .gitignore from disk, merging the
// repo-root file with every nested .gitignore under it via go-git's
// ReadPatterns, per spec.md §4.A tier 3. Call after the worktree
// changes materially (e.g. a new pass) if long-lived.
func (f *Filter) reloadGitignore() {
	patterns, err := gitignore.ReadPatterns(osfs.New(f.repoRoot), nil)
	if err != nil {
		f.gitignore = nil
		f.gitignoreUnavailable = true
		return
	}
	f.gitignoreUnavailable = false
	if len(patterns) == 0 {
		f.gitignore = nil
		return
	}
	f.gitignore = gitignore.NewMatcher(patterns)
}

// ShouldSkip reports whether path (repo-relative, forward-slash
// separated) should be excluded, and why.
func (f *Filter) ShouldSkip(path string) (bool, string) {
	path = filepath.ToSlash(path)
	base := filepath.Base(path)

	if _, ok := f.scannerFiles[path]; ok {
		return true, "scanner_file"
	}
	if _, ok := f.scannerFiles[base]; ok {
		return true, "scanner_file"
	}

	for _, pattern := range f.configPatterns {
		if strings.HasPrefix(pattern, "/*") && strings.HasSuffix(pattern, "/") {
			dirPattern := pattern[2 : len(pattern)-1]
			parts := strings.Split(path, "/")
			for _, part := range parts[:len(parts)-1] {
				if ok, _ := filepath.Match(dirPattern, part); ok {
					return true, "config_pattern:" + pattern
				}
			}
			continue
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true, "config_pattern:" + pattern
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true, "config_pattern:" + pattern
		}
	}

	if f.IsGitIgnored(path) {
		return true, "gitignore"
	}
	if f.gitignore == nil && f.gitignoreUnavailable {
		if f.CheckIgnoreFallback([]string{path})[path] {
			return true, "gitignore_fallback"
		}
	}

	return false, ""
}

// FilterPaths partitions paths into kept and skipped (with reasons).
func (f *Filter) FilterPaths(paths []string) (kept []string, skipped map[string]string) {
	skipped = make(map[string]string)
	for _, p := range paths {
		if skip, reason := f.ShouldSkip(p); skip {
			skipped[p] = reason
		} else {
			kept = append(kept, p)
		}
	}
	return kept, skipped
}

// IsGitIgnored reports whether path matches the in-memory gitignore
// tier built from the repo's merged .gitignore files.
func (f *Filter) IsGitIgnored(path string) bool {
	if f.gitignore == nil {
		return false
	}
	return f.gitignore.Match(strings.Split(filepath.ToSlash(path), "/"), false)
}

// Reload re-reads .gitignore from disk, logging the outcome.
func (f *Filter) Reload() {
	f.reloadGitignore()
	logger.GetLogger().Debug().Str("repo_root", f.repoRoot).Msg("file filter gitignore reloaded")
}

// CheckIgnoreFallback batches every candidate through a single
// `git check-ignore --stdin` invocation, used only when the in-memory
// pathspec engine could not be built (spec.md §4.A's stated
// fallback), grounded on original_source's git_watcher.py: _is_ignored.
//
// With -z both stdin and stdout are NUL-delimited rather than
// newline-delimited, and with -v each stdout record is a pair: the
// matching pattern info (empty if the path did not match) followed by
// the pathname.
func (f *Filter) CheckIgnoreFallback(paths []string) map[string]bool {
	result := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return result
	}

	cmd := exec.Command("git", "check-ignore", "--stdin", "-v", "-z")
	cmd.Dir = f.repoRoot
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return result
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Start(); err != nil {
		return result
	}

	go func() {
		w := bufio.NewWriter(stdin)
		for _, p := range paths {
			w.WriteString(p)
			w.WriteByte(0)
		}
		w.Flush()
		stdin.Close()
	}()
	_ = cmd.Wait()

	tokens := strings.Split(strings.TrimRight(out.String(), "\x00"), "\x00")
	for i := 0; i+1 < len(tokens); i += 2 {
		if patternInfo, pathname := tokens[i], tokens[i+1]; patternInfo != "" {
			result[pathname] = true
		}
	}
	return result
}
