// Package batch implements the context-window packing algorithm from
// spec.md §4.G: try the whole file set as one batch, else partition
// by directory (deepest first), else per-file, skipping any file that
// alone exceeds the budget. Grounded on original_source's scanner.py
// (_create_batches) and utils.py (group_files_by_directory), adapted
// to the 0.55×context_limit budget spec.md mandates in place of the
// original's 0.7×.
package batch

import (
	"os"
	"path/filepath"

	"github.com/nightaudit/codescanner/internal/logger"
	"github.com/nightaudit/codescanner/internal/textutil"
)

// Batch is one set of files to send to the model under one check.
type Batch struct {
	Files []string
}

// Planner packs a set of repo-relative file paths into batches that
// respect the token budget.
type Planner struct {
	repoRoot string
	budget   int
}

// New creates a Planner. budget should already be
// 0.55 × context_limit (spec.md §4.G); computed once by the caller so
// this package stays agnostic of the LLM config shape.
func New(repoRoot string, budget int) *Planner {
	return &Planner{repoRoot: repoRoot, budget: budget}
}

// Plan packs files into batches. Returns the batches plus any files
// skipped for exceeding the budget alone.
func (p *Planner) Plan(files []string) (batches []Batch, skipped []string) {
	tokens := make(map[string]int, len(files))
	usable := make([]string, 0, len(files))

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(p.repoRoot, f))
		if err != nil {
			logger.GetLogger().Warn().Err(err).Str("path", f).Msg("batch planner: could not read file, skipping")
			continue
		}
		est := textutil.EstimateTokens(string(data))
		if est > p.budget {
			logger.GetLogger().Warn().Str("path", f).Int("estimated_tokens", est).Int("budget", p.budget).
				Msg("file exceeds token budget alone; skipping")
			skipped = append(skipped, f)
			continue
		}
		tokens[f] = est
		usable = append(usable, f)
	}

	if len(usable) == 0 {
		return nil, skipped
	}

	if sumTokens(usable, tokens) <= p.budget {
		return []Batch{{Files: usable}}, skipped
	}

	for _, group := range textutil.GroupFilesByDirectory(usable) {
		if sumTokens(group.Files, tokens) <= p.budget {
			batches = append(batches, Batch{Files: group.Files})
			continue
		}
		for _, f := range group.Files {
			batches = append(batches, Batch{Files: []string{f}})
		}
	}

	return batches, skipped
}

func sumTokens(files []string, tokens map[string]int) int {
	total := 0
	for _, f := range files {
		total += tokens[f]
	}
	return total
}

// Budget computes 0.55 × context_limit, the packing budget spec.md
// §4.G specifies.
func Budget(contextLimit int) int {
	return int(float64(contextLimit) * 0.55)
}
