// Package model holds the value types shared across the scanner's
// components: issues, check configuration, file snapshots, and the
// change sets produced by the git watcher.
package model

import (
	"path/filepath"
	"sort"
	"time"
)

// IssueStatus is the lifecycle state of an Issue. Once RESOLVED an
// issue never transitions back to OPEN within a process lifetime.
type IssueStatus string

const (
	IssueOpen     IssueStatus = "OPEN"
	IssueResolved IssueStatus = "RESOLVED"
)

// Issue is a single reported finding, keyed for identity by file path
// plus a fuzzy match over its normalized snippet or description.
type Issue struct {
	FilePath         string
	LineNumber       int
	Description      string
	SuggestedFix     string
	CheckPrompt      string
	FirstSeen        time.Time
	Status           IssueStatus
	CodeSnippet      string
	NormalizedSnippet string
}

// CheckGroup is one `[[checks]]` table: a set of glob patterns and an
// ordered list of prompts. A group with no prompts is an ignore group
// whose patterns feed the file filter instead of producing scan work.
type CheckGroup struct {
	Patterns []string
	Prompts  []string
}

// IsIgnoreGroup reports whether this group contributes only exclusion
// patterns and never becomes scan work.
func (g CheckGroup) IsIgnoreGroup() bool {
	return len(g.Prompts) == 0
}

// MatchesPath reports whether path (repo-relative, forward-slash
// separated) matches any of the group's patterns, either against the
// basename or the full path, mirroring original_source's fnmatch use
// in CheckGroup.matches / matches_file.
func (g CheckGroup) MatchesPath(path string) bool {
	base := filepath.Base(path)
	for _, pat := range g.Patterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, path); ok {
			return true
		}
	}
	return false
}

// ScheduleEntry identifies one (group, prompt) pair in the check
// schedule by its flat index plus the originating group/prompt indices.
type ScheduleEntry struct {
	Index      int
	Group      CheckGroup
	GroupIndex int
	Prompt     string
	PromptIdx  int
}

// FileSnapshot captures the identity of a file's content at the
// moment it was read for a batch.
type FileSnapshot struct {
	Path        string
	ContentHash string
	ByteSize    int64
	ModTime     time.Time
}

// ChangeSet is the output of the Git Watcher for one poll: the set of
// repo-relative paths currently considered uncommitted and not
// excluded by the file filter.
type ChangeSet struct {
	Paths     map[string]struct{}
	Deleted   map[string]struct{}
	Conflict  bool
	Sequence  int64
}

// NewChangeSet returns an empty, non-conflicted change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		Paths:   make(map[string]struct{}),
		Deleted: make(map[string]struct{}),
	}
}

// SortedPaths returns the changed (non-deleted) paths in sorted order.
func (c *ChangeSet) SortedPaths() []string {
	out := make([]string, 0, len(c.Paths))
	for p := range c.Paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
