package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nightaudit/codescanner/internal/textutil"
)

// Ripgrep shells out to the rg binary for search_text, matching the
// teacher's style of driving external tools via os/exec rather than
// reimplementing search.
type Ripgrep struct {
	repoRoot string
	bin      string
}

// NewRipgrep builds a Ripgrep runner. bin empty means "rg" from PATH.
func NewRipgrep(repoRoot, bin string) *Ripgrep {
	if bin == "" {
		bin = "rg"
	}
	return &Ripgrep{repoRoot: repoRoot, bin: bin}
}

type rgMatch struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		LineNumber int `json:"line_number"`
		Lines      struct {
			Text string `json:"text"`
		} `json:"lines"`
	} `json:"data"`
}

// SearchText runs ripgrep with --json and returns raw matches, sorted
// so definition-looking lines (containing "func ", "def ", "class ")
// sort before plain usages, per spec.md §4.D.
func (r *Ripgrep) SearchText(ctx context.Context, pattern string, isRegex, wholeWord, caseSensitive bool, filePattern string) ([]TextMatch, error) {
	args := []string{"--json", "--no-heading"}
	if !isRegex {
		args = append(args, "--fixed-strings")
	}
	if wholeWord {
		args = append(args, "--word-regexp")
	}
	if caseSensitive {
		args = append(args, "--case-sensitive")
	} else {
		args = append(args, "--ignore-case")
	}
	if filePattern != "" {
		args = append(args, "--glob", filePattern)
	}
	args = append(args, "--", pattern, ".")

	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = r.repoRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	// rg exits 1 when there are no matches; that's not a failure here.
	runErr := cmd.Run()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("ripgrep: %w", runErr)
	}

	var matches []TextMatch
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var m rgMatch
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}
		if m.Type != "match" {
			continue
		}
		matches = append(matches, TextMatch{
			File:       strings.TrimPrefix(m.Data.Path.Text, "./"),
			LineNumber: m.Data.LineNumber,
			Code:       strings.TrimRight(m.Data.Lines.Text, "\n"),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return isDefinitionLine(matches[i].Code) && !isDefinitionLine(matches[j].Code)
	})
	return matches, nil
}

func isDefinitionLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, marker := range []string{"func ", "def ", "class ", "type ", "struct ", "interface "} {
		if strings.HasPrefix(trimmed, marker) || strings.Contains(trimmed, " "+marker) {
			return true
		}
	}
	return false
}

// TextMatch is one search_text hit.
type TextMatch struct {
	File       string
	LineNumber int
	Code       string
}

// SearchText is the tool entry point, applying pagination and the
// shared error envelope.
func (e *Executor) SearchText(ctx context.Context, args map[string]any) Result {
	pattern := argString(args, "pattern")
	if pattern == "" {
		return errResult("pattern is required", nil)
	}
	filePattern := argString(args, "file_pattern")
	offset := argInt(args, "offset", 0)

	matches, err := e.rg.SearchText(ctx, pattern, argBool(args, "is_regex"), argBool(args, "whole_word"), argBool(args, "case_sensitive"), filePattern)
	if err != nil {
		return errResult(err.Error(), nil)
	}

	total := len(matches)
	end := offset + searchPageSize
	if end > total {
		end = total
	}
	if offset > total {
		offset = total
	}
	page := matches[offset:end]

	items := make([]map[string]any, 0, len(page))
	for _, m := range page {
		items = append(items, map[string]any{"file": m.File, "line_number": m.LineNumber, "code": m.Code})
	}

	data := map[string]any{
		"matches":     items,
		"offset":      offset,
		"has_more":    end < total,
		"total_count": total,
	}
	if end < total {
		data["next_offset"] = end
	}
	return okResult(data)
}

// ReadFile returns a line range from a file, chunked to a token
// budget, per spec.md §4.D.
func (e *Executor) ReadFile(args map[string]any) Result {
	rel := argString(args, "path")
	abs, errRes := e.validatePath(rel)
	if abs == "" {
		return errRes
	}
	data, errRes := e.readAndCheckBinary(abs)
	if data == nil {
		return errRes
	}

	lines := strings.Split(string(data), "\n")
	start := argInt(args, "start_line", 1)
	end := argInt(args, "end_line", len(lines))
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return errResult(fmt.Sprintf("start_line %d exceeds file length %d", start, len(lines)), nil)
	}

	selected := strings.Join(lines[start-1:end], "\n")
	truncated, wasTruncated, warning := textutil.TruncateOutput(selected, textutil.MaxOutputLines, maxReadTokens*textutil.CharsPerToken)

	payload := map[string]any{
		"content":    truncated,
		"start_line": start,
		"has_more":   false,
	}
	if wasTruncated {
		nextStart := start + strings.Count(truncated, "\n") + 1
		payload["has_more"] = nextStart <= end
		payload["next_start_line"] = nextStart
	} else if end < len(lines) {
		payload["has_more"] = true
		payload["next_start_line"] = end + 1
	}

	res := okResult(payload)
	res.Warning = warning
	return res
}

// ListDirectory lists files (with line counts) and subdirectories.
func (e *Executor) ListDirectory(args map[string]any) Result {
	rel := argString(args, "path")
	if rel == "" {
		rel = "."
	}
	abs, errRes := e.validatePath(rel)
	if abs == "" {
		// validatePath accepts regular files only; a directory inside
		// the repository is exactly what this tool lists.
		dir := filepath.Join(e.repoRoot, rel)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || !strings.HasPrefix(errRes.Error, "not a file") {
			return errRes
		}
		abs = dir
	}

	recursive := argBool(args, "recursive")
	offset := argInt(args, "offset", 0)

	var files []string
	var dirs []string
	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		relPath, _ := filepath.Rel(abs, path)
		if relPath == "." {
			return nil
		}
		if info.IsDir() {
			if isSkippedDir(info.Name()) {
				return filepath.SkipDir
			}
			dirs = append(dirs, relPath)
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, relPath)
		return nil
	}
	if err := filepath.Walk(abs, walkFn); err != nil {
		return errResult(err.Error(), nil)
	}

	sort.Strings(files)
	sort.Strings(dirs)

	total := len(files)
	end := offset + listPageSize
	if end > total {
		end = total
	}
	if offset > total {
		offset = total
	}

	items := make([]map[string]any, 0, end-offset)
	for _, f := range files[offset:end] {
		lineCount := 0
		if data, err := os.ReadFile(filepath.Join(abs, f)); err == nil && !textutil.IsBinary(data) {
			lineCount = strings.Count(string(data), "\n") + 1
		}
		items = append(items, map[string]any{"path": f, "lines": lineCount})
	}

	data := map[string]any{
		"files":       items,
		"directories": dirs,
		"offset":      offset,
		"has_more":    end < total,
		"total_count": total,
	}
	if end < total {
		data["next_offset"] = end
	}
	return okResult(data)
}

func isSkippedDir(name string) bool {
	switch name {
	case ".git", "node_modules", "__pycache__", ".venv", "venv", "build", "dist", "target", "vendor":
		return true
	}
	return strings.HasPrefix(name, ".")
}

// GetFileDiff returns the unified diff of a file against HEAD.
func (e *Executor) GetFileDiff(ctx context.Context, args map[string]any) Result {
	rel := argString(args, "path")
	abs, errRes := e.validatePath(rel)
	if abs == "" {
		return errRes
	}
	contextLines := argInt(args, "context_lines", 3)
	if contextLines < 0 {
		contextLines = 0
	}
	if contextLines > 10 {
		contextLines = 10
	}

	cmd := exec.CommandContext(ctx, "git", "-C", e.repoRoot, "diff", fmt.Sprintf("--unified=%d", contextLines), "HEAD", "--", rel)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return errResult("git diff failed: " + string(exitErr.Stderr), nil)
		}
		return errResult(err.Error(), nil)
	}
	_ = abs
	return okResult(map[string]any{"diff": string(out)})
}
