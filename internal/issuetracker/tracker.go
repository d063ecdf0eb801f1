// Package issuetracker maintains the in-memory set of open and
// resolved issues, deduplicating by fuzzy identity and computing
// resolution scoped to the files a check run actually scanned.
//
// Grounded on original_source's issue_tracker.py, with one
// intentional divergence spec.md §8 makes authoritative: a RESOLVED
// issue never reopens within the session, so the original's "reopen a
// previously resolved issue" branch is not carried forward.
package issuetracker

import (
	"sort"
	"sync"
	"time"

	"github.com/nightaudit/codescanner/internal/model"
	"github.com/nightaudit/codescanner/internal/textutil"
)

// Tracker is the sole owner of Issue records for the process lifetime.
type Tracker struct {
	mu        sync.Mutex
	issues    []*model.Issue
	changed   bool
	threshold float64
}

// New creates a Tracker using threshold as the fuzzy-identity cutoff
// (spec.md §4.E default 0.8).
func New(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &Tracker{threshold: threshold}
}

// Issues returns a snapshot copy of every tracked issue.
func (t *Tracker) Issues() []model.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Issue, len(t.issues))
	for i, is := range t.issues {
		out[i] = *is
	}
	return out
}

// OpenIssues returns a snapshot of OPEN issues.
func (t *Tracker) OpenIssues() []model.Issue {
	return t.filterByStatus(model.IssueOpen)
}

// ResolvedIssues returns a snapshot of RESOLVED issues.
func (t *Tracker) ResolvedIssues() []model.Issue {
	return t.filterByStatus(model.IssueResolved)
}

func (t *Tracker) filterByStatus(status model.IssueStatus) []model.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.Issue
	for _, is := range t.issues {
		if is.Status == status {
			out = append(out, *is)
		}
	}
	return out
}

// HasChanged reports whether any issue was added or resolved since
// the last ResetChangedFlag call.
func (t *Tracker) HasChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// ResetChangedFlag clears the changed flag after the report has been
// rewritten.
func (t *Tracker) ResetChangedFlag() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changed = false
}

// Ingest applies one check run's results: new issues are deduplicated
// against existing OPEN issues by fuzzy identity (spec.md §4.E), and
// any OPEN issue in scannedFiles that was not matched by a new issue
// transitions to RESOLVED. Returns (newIssueCount, resolvedCount).
func (t *Tracker) Ingest(scannedFiles []string, newIssues []model.Issue) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*model.Issue]bool)
	newCount := 0

	for _, n := range newIssues {
		n.NormalizedSnippet = textutil.NormalizeWhitespace(n.CodeSnippet)
		match := t.findBestMatch(n)
		if match != nil {
			match.LineNumber = n.LineNumber
			seen[match] = true
			continue
		}
		added := n
		added.Status = model.IssueOpen
		if added.FirstSeen.IsZero() {
			added.FirstSeen = time.Now()
		}
		t.issues = append(t.issues, &added)
		seen[&added] = true
		newCount++
	}

	scannedSet := make(map[string]struct{}, len(scannedFiles))
	for _, f := range scannedFiles {
		scannedSet[f] = struct{}{}
	}

	resolvedCount := 0
	for _, issue := range t.issues {
		if issue.Status != model.IssueOpen {
			continue
		}
		if _, wasScanned := scannedSet[issue.FilePath]; !wasScanned {
			continue
		}
		if seen[issue] {
			continue
		}
		issue.Status = model.IssueResolved
		resolvedCount++
	}

	if newCount > 0 || resolvedCount > 0 {
		t.changed = true
	}
	return newCount, resolvedCount
}

// findBestMatch implements the identity predicate from spec.md §4.E:
// same file, fuzzy similarity over normalized snippet (or, absent a
// snippet, description) at or above the threshold, ties broken by
// highest similarity then lowest existing line number.
func (t *Tracker) findBestMatch(n model.Issue) *model.Issue {
	var best *model.Issue
	bestScore := -1.0

	for _, e := range t.issues {
		if e.Status != model.IssueOpen || e.FilePath != n.FilePath {
			continue
		}
		score := t.similarity(*e, n)
		if score < t.threshold {
			continue
		}
		if score > bestScore || (score == bestScore && best != nil && e.LineNumber < best.LineNumber) {
			best = e
			bestScore = score
		}
	}
	return best
}

func (t *Tracker) similarity(existing, candidate model.Issue) float64 {
	existingSnippet := textutil.NormalizeWhitespace(existing.CodeSnippet)
	candidateSnippet := textutil.NormalizeWhitespace(candidate.CodeSnippet)
	if existingSnippet != "" && candidateSnippet != "" {
		return textutil.SimilarityRatio(existingSnippet, candidateSnippet)
	}
	return textutil.SimilarityRatio(
		textutil.NormalizeWhitespace(existing.Description),
		textutil.NormalizeWhitespace(candidate.Description),
	)
}

// ResolveIssuesForFile marks every OPEN issue for filePath as
// RESOLVED, used when a file disappears from the worktree entirely.
func (t *Tracker) ResolveIssuesForFile(filePath string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, issue := range t.issues {
		if issue.FilePath == filePath && issue.Status == model.IssueOpen {
			issue.Status = model.IssueResolved
			count++
		}
	}
	if count > 0 {
		t.changed = true
	}
	return count
}

// IssuesByFile groups issues by file, OPEN before RESOLVED within
// each file group, sorted by line number, files sorted alphabetically
// — the exact grouping the Report Writer renders from.
func (t *Tracker) IssuesByFile() (files []string, byFile map[string][]model.Issue) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byFile = make(map[string][]model.Issue)
	for _, is := range t.issues {
		byFile[is.FilePath] = append(byFile[is.FilePath], *is)
	}
	for path, issues := range byFile {
		sort.SliceStable(issues, func(i, j int) bool {
			if issues[i].Status != issues[j].Status {
				return issues[i].Status == model.IssueOpen
			}
			return issues[i].LineNumber < issues[j].LineNumber
		})
		byFile[path] = issues
	}
	for path := range byFile {
		files = append(files, path)
	}
	sort.Strings(files)
	return files, byFile
}

// Clear discards all tracked issues.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issues = nil
	t.changed = true
}

// Stats returns open/resolved/total counts.
func (t *Tracker) Stats() (open, resolved, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, is := range t.issues {
		if is.Status == model.IssueOpen {
			open++
		} else {
			resolved++
		}
	}
	return open, resolved, open + resolved
}
