// Package tools implements the AI Tool Executor from spec.md §4.D: a
// bounded, stateless-per-call surface of codebase-exploration
// functions the model can invoke mid-check. Backed by ripgrep for
// text search and Universal Ctags for symbol lookups, grounded on
// original_source's ai_tools.py and ctags_index.py.
package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nightaudit/codescanner/internal/llm"
	"github.com/nightaudit/codescanner/internal/textutil"
)

const (
	searchPageSize    = 50
	listPageSize      = 100
	maxReadTokens     = 4000
	maxUsagesLocation = 10
)

// Result is the uniform envelope every tool returns, matching
// spec.md §4.D's "structured error with similar-name suggestions"
// and pagination contract.
type Result struct {
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	Warning     string         `json:"warning,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

func errResult(msg string, suggestions []string) Result {
	return Result{Success: false, Error: msg, Suggestions: suggestions}
}

func okResult(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Executor implements llm.ToolInvoker against one repository root. It
// is stateless per call but shares a ctags index refreshed lazily
// when the worktree changes, per spec.md §4.D.
type Executor struct {
	repoRoot string
	ctags    *CtagsIndex
	rg       *Ripgrep
}

// New builds an Executor rooted at repoRoot. ctagsBin/rgBin may be
// empty to use "ctags"/"rg" from PATH.
func New(repoRoot, ctagsBin, rgBin string) *Executor {
	return &Executor{
		repoRoot: repoRoot,
		ctags:    NewCtagsIndex(repoRoot, ctagsBin),
		rg:       NewRipgrep(repoRoot, rgBin),
	}
}

// InvalidateIndex forces the next symbol-lookup tool to regenerate
// the ctags index, called by the scanner whenever the worktree
// changes between checks.
func (e *Executor) InvalidateIndex() { e.ctags.Invalidate() }

// Invoke satisfies llm.ToolInvoker, dispatching to the named tool and
// marshaling its Result into the text the model sees.
func (e *Executor) Invoke(ctx context.Context, name string, args map[string]any) (string, bool) {
	var res Result
	switch name {
	case "search_text":
		res = e.SearchText(ctx, args)
	case "read_file":
		res = e.ReadFile(args)
	case "list_directory":
		res = e.ListDirectory(args)
	case "get_file_diff":
		res = e.GetFileDiff(ctx, args)
	case "get_file_summary":
		res = e.GetFileSummary(ctx, args)
	case "symbol_exists":
		res = e.SymbolExists(ctx, args)
	case "find_definition":
		res = e.FindDefinition(ctx, args)
	case "find_symbols":
		res = e.FindSymbols(ctx, args)
	case "get_enclosing_scope":
		res = e.GetEnclosingScope(ctx, args)
	case "find_usages":
		res = e.FindUsages(ctx, args)
	default:
		res = errResult("unknown tool: "+name, nil)
	}
	return encodeResult(res), !res.Success
}

// Specs returns the llm.ToolSpec table advertised to the model, in
// the order spec.md §4.D lists them.
func Specs() []llm.ToolSpec {
	str := map[string]any{"type": "string"}
	boolT := map[string]any{"type": "boolean"}
	intT := map[string]any{"type": "integer"}
	obj := func(props map[string]any, required ...string) map[string]any {
		return map[string]any{"type": "object", "properties": props, "required": required}
	}
	return []llm.ToolSpec{
		{Name: "search_text", Description: "Search file contents for a text or regex pattern.",
			Parameters: obj(map[string]any{
				"pattern": str, "is_regex": boolT, "whole_word": boolT, "case_sensitive": boolT,
				"file_pattern": str, "offset": intT,
			}, "pattern")},
		{Name: "read_file", Description: "Read a file, optionally by line range.",
			Parameters: obj(map[string]any{"path": str, "start_line": intT, "end_line": intT}, "path")},
		{Name: "list_directory", Description: "List files and subdirectories.",
			Parameters: obj(map[string]any{"path": str, "recursive": boolT, "offset": intT}, "path")},
		{Name: "get_file_diff", Description: "Get the unified diff of a file against HEAD.",
			Parameters: obj(map[string]any{"path": str, "context_lines": intT}, "path")},
		{Name: "get_file_summary", Description: "Get classes, functions, imports, and constants in a file.",
			Parameters: obj(map[string]any{"path": str}, "path")},
		{Name: "symbol_exists", Description: "Check whether a symbol exists and list its locations.",
			Parameters: obj(map[string]any{"symbol": str, "kind": str}, "symbol")},
		{Name: "find_definition", Description: "Find where a symbol is defined.",
			Parameters: obj(map[string]any{"symbol": str, "kind": str}, "symbol")},
		{Name: "find_symbols", Description: "Find symbols matching a wildcard pattern (* and ?).",
			Parameters: obj(map[string]any{"pattern": str, "kind": str, "case_sensitive": boolT}, "pattern")},
		{Name: "get_enclosing_scope", Description: "Find the innermost symbol enclosing a line and its source.",
			Parameters: obj(map[string]any{"path": str, "line": intT}, "path", "line")},
		{Name: "find_usages", Description: "Find references to a symbol, split into definitions and usages.",
			Parameters: obj(map[string]any{"symbol": str, "path": str, "include_definitions": boolT}, "symbol")},
	}
}

// validatePath resolves and checks a repo-relative path argument,
// returning the absolute path or a structured tool error.
func (e *Executor) validatePath(rel string) (string, Result) {
	ok, errMsg, suggestions := textutil.ValidateFilePath(rel, e.repoRoot)
	if !ok {
		return "", errResult(errMsg, suggestions)
	}
	return filepath.Join(e.repoRoot, rel), Result{}
}

func (e *Executor) readAndCheckBinary(abs string) ([]byte, Result) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errResult("could not read file: "+err.Error(), nil)
	}
	if textutil.IsBinary(data) {
		return nil, errResult("refusing to read binary file", nil)
	}
	return data, Result{}
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func encodeResult(r Result) string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"failed to encode tool result"}`
	}
	return string(data)
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
