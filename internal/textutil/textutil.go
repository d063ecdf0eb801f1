// Package textutil provides the fuzzy-matching, truncation, and
// path-validation helpers shared by the issue tracker and the AI tool
// executor. Ported from original_source's text_utils.py and utils.py.
package textutil

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// MaxOutputLines caps how many lines a tool result may return
	// before it is truncated and a hint is appended.
	MaxOutputLines = 2000
	// MaxOutputBytes caps the byte size of a tool result body.
	MaxOutputBytes = 50 * 1024
	// CharsPerToken is the conservative chars/4 token estimate used
	// throughout batching and the LLM client's dynamic budget.
	CharsPerToken = 4
)

// EstimateTokens approximates the token count of s using the
// chars/4 heuristic (original_source utils.py: estimate_tokens).
func EstimateTokens(s string) int {
	return len(s) / CharsPerToken
}

// SimilarityRatio returns a similarity ratio in [0,1], the Go analogue
// of Python's difflib.SequenceMatcher.ratio() used by original_source's
// text_utils.py. It is 1 minus a diff's Levenshtein distance divided
// by the length of the longer string (so "code1" vs "code2" is 0.8),
// which follows the same intuition (fraction of matching
// content) using the go-diff library the ecosystem provides instead
// of hand-rolling the matching-blocks algorithm.
func SimilarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// FuzzyMatch reports whether candidate matches target with a
// similarity ratio at or above threshold.
func FuzzyMatch(target, candidate string, threshold float64) bool {
	return SimilarityRatio(target, candidate) >= threshold
}

// NormalizeWhitespace collapses runs of whitespace to single spaces,
// mirroring original_source's _normalize_whitespace.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateOutput truncates content to at most maxLines lines and
// maxBytes bytes, returning the (possibly truncated) content, whether
// truncation occurred, and a human-readable hint. Ported from
// original_source's text_utils.py: truncate_output.
func TruncateOutput(content string, maxLines, maxBytes int) (string, bool, string) {
	truncated := false
	hint := ""

	if len(content) > maxBytes {
		b := []byte(content)[:maxBytes]
		content = string(b)
		truncated = true
		hint = "OUTPUT TRUNCATED: content exceeded byte limit. Use search_text to find specific patterns or read_file with a line range."
	}

	lines := strings.Split(content, "\n")
	if len(lines) > maxLines {
		content = strings.Join(lines[:maxLines], "\n")
		truncated = true
		hint = "OUTPUT TRUNCATED: content exceeded line limit. Use search_text to find specific patterns or read_file with start_line."
	}

	return content, truncated, hint
}

var skipDirNames = map[string]struct{}{
	"node_modules": {}, "__pycache__": {}, "build": {}, "dist": {},
	"target": {}, ".git": {},
}

// SuggestSimilarFiles walks dir looking for files whose name or parent
// path resembles targetPath, returning up to maxSuggestions candidates
// sorted by descending combined similarity. Ported from
// original_source's text_utils.py: suggest_similar_files.
func SuggestSimilarFiles(targetPath string, dir string, maxSuggestions int) []string {
	targetName := filepath.Base(targetPath)
	targetParent := filepath.Dir(targetPath)

	type scored struct {
		path  string
		score float64
	}
	var candidates []scored
	count := 0

	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if strings.HasPrefix(part, ".") {
				return nil
			}
			if _, skip := skipDirNames[part]; skip {
				return nil
			}
		}
		count++
		if count > 10000 {
			return filepath.SkipAll
		}

		relSlash := filepath.ToSlash(rel)
		nameSim := SimilarityRatio(targetName, filepath.Base(relSlash))
		pathSim := 0.0
		if targetParent != "." && targetParent != "" {
			pathSim = SimilarityRatio(targetParent, filepath.Dir(relSlash))
		}
		score := nameSim*0.7 + pathSim*0.3
		if score > 0.3 {
			candidates = append(candidates, scored{relSlash, score})
		}
		return nil
	})

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.path
	}
	return out
}

// FormatValidationError builds a helpful validation error message,
// mirroring original_source's format_validation_error.
func FormatValidationError(field, received, expected, hint string) string {
	msg := "invalid '" + field + "': received '" + received + "', expected " + expected + "."
	if hint != "" {
		msg += " " + hint
	}
	return msg
}

// ValidateFilePath resolves path against baseDir, rejecting escapes
// (after symlink evaluation) and returning similar-file suggestions
// when the target does not exist. Ported from original_source's
// text_utils.py: validate_file_path.
func ValidateFilePath(path, baseDir string) (ok bool, errMsg string, suggestions []string) {
	if path == "" {
		return false, FormatValidationError("file_path", "", "non-empty string",
			"Provide the path relative to the repository root."), nil
	}

	full := filepath.Join(baseDir, path)
	resolvedBase, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		resolvedBase = baseDir
	}
	resolvedFull, err := filepath.EvalSymlinks(full)
	if err != nil {
		// File may not exist yet; fall back to lexical containment check.
		resolvedFull = filepath.Clean(full)
	}
	rel, err := filepath.Rel(resolvedBase, resolvedFull)
	if err != nil || strings.HasPrefix(rel, "..") || rel == ".." {
		return false, "access denied: path '" + path + "' is outside repository.", nil
	}

	info, statErr := os.Stat(full)
	if statErr != nil {
		suggestions = SuggestSimilarFiles(path, baseDir, 5)
		msg := "file not found: " + path
		if len(suggestions) > 0 {
			top := suggestions
			if len(top) > 3 {
				top = top[:3]
			}
			msg += ". Did you mean: " + strings.Join(top, ", ") + "?"
		}
		return false, msg, suggestions
	}
	if info.IsDir() {
		return false, "not a file: " + path + ". This appears to be a directory.", nil
	}
	return true, "", nil
}

// ValidateLineNumber checks that a 1-based line number is within
// [1, totalLines]. Ported from original_source's text_utils.py:
// validate_line_number.
func ValidateLineNumber(line, totalLines int, fieldName string) (bool, string) {
	if fieldName == "" {
		fieldName = "line_number"
	}
	if line < 1 {
		return false, FormatValidationError(fieldName, strconv.Itoa(line), "positive integer >= 1", "Line numbers are 1-based.")
	}
	if line > totalLines {
		return false, FormatValidationError(fieldName, strconv.Itoa(line),
			"integer between 1 and "+strconv.Itoa(totalLines),
			"The file only has "+strconv.Itoa(totalLines)+" lines.")
	}
	return true, ""
}

// IsBinary detects binary content via a NUL-byte heuristic in the
// first 8 KiB, mirroring original_source's utils.py: is_binary_file.
func IsBinary(data []byte) bool {
	limit := 8192
	if len(data) < limit {
		limit = len(data)
	}
	for i := 0; i < limit; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}

// GroupFilesByDirectory groups files by parent directory, ordering
// groups deepest-first so batching proceeds leaf-to-root. Ported from
// original_source's utils.py: group_files_by_directory.
func GroupFilesByDirectory(files []string) []DirGroup {
	groups := make(map[string][]string)
	for _, f := range files {
		parent := filepath.ToSlash(filepath.Dir(f))
		groups[parent] = append(groups[parent], f)
	}
	out := make([]DirGroup, 0, len(groups))
	for dir, fs := range groups {
		out = append(out, DirGroup{Dir: dir, Files: fs})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Count(out[i].Dir, "/") > strings.Count(out[j].Dir, "/")
	})
	return out
}

// DirGroup is one directory's worth of files from GroupFilesByDirectory.
type DirGroup struct {
	Dir   string
	Files []string
}
