package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Symbol mirrors one entry from Universal Ctags's JSON output,
// ported from original_source's ctags_index.py: Symbol.
type Symbol struct {
	Name      string
	FilePath  string
	Line      int
	Kind      string
	Scope     string
	ScopeKind string
	Signature string
	Access    string
	Language  string
}

// kindMap expands ctags's single-letter kind codes to readable
// names, ported from original_source's ctags_index.py: KIND_MAP.
var kindMap = map[string]string{
	"f": "function", "c": "class", "m": "method", "v": "variable",
	"d": "macro", "t": "type", "s": "struct", "e": "enum",
	"g": "enum_value", "n": "namespace", "i": "interface", "p": "property",
	"M": "member", "F": "field", "I": "import", "C": "constant",
	"G": "generator", "w": "field", "a": "alias", "P": "impl",
}

func expandKind(kind string) string {
	if full, ok := kindMap[kind]; ok {
		return full
	}
	return strings.ToLower(kind)
}

func matchesKind(symbolKind, filterKind string) bool {
	if filterKind == "" {
		return true
	}
	sk := strings.ToLower(symbolKind)
	fk := strings.ToLower(filterKind)
	if sk == fk {
		return true
	}
	if expandKind(symbolKind) == fk {
		return true
	}
	if expandKind(filterKind) == sk {
		return true
	}
	aliases := map[string][]string{
		"function": {"f", "function", "func", "method", "m"},
		"class":    {"c", "class", "struct", "s"},
		"variable": {"v", "variable", "var"},
		"method":   {"m", "method", "function", "f"},
		"constant": {"c", "constant", "const", "d"},
		"interface": {"i", "interface"},
		"type":     {"t", "type", "typedef"},
	}
	if set, ok := aliases[fk]; ok {
		for _, a := range set {
			if sk == a {
				return true
			}
		}
	}
	return false
}

// CtagsIndex maintains an in-memory symbol index for one repository,
// regenerated lazily on invalidation, ported from ctags_index.py's
// CtagsIndex.
type CtagsIndex struct {
	repoRoot string
	bin      string

	mu       sync.Mutex
	indexed  bool
	byName   map[string][]Symbol
	byFile   map[string][]Symbol
	all      []Symbol
}

// NewCtagsIndex builds an index for repoRoot. bin empty means "ctags"
// from PATH.
func NewCtagsIndex(repoRoot, bin string) *CtagsIndex {
	if bin == "" {
		bin = "ctags"
	}
	return &CtagsIndex{repoRoot: repoRoot, bin: bin}
}

// Invalidate forces the next lookup to regenerate the index.
func (c *CtagsIndex) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexed = false
}

func (c *CtagsIndex) ensureIndexed(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexed {
		return nil
	}
	return c.generateLocked(ctx)
}

// generateLocked runs ctags -R --output-format=json over the repo
// and parses the NDJSON tag stream, ported from generate_index.
func (c *CtagsIndex) generateLocked(ctx context.Context) error {
	args := []string{
		"--output-format=json", "--fields=*", "--extras=*", "-R",
		"--exclude=.git", "--exclude=node_modules", "--exclude=__pycache__",
		"--exclude=.venv", "--exclude=venv", "--exclude=build", "--exclude=dist",
		"--exclude=target", "--exclude=vendor", "--exclude=*.min.js", "--exclude=*.min.css",
		".",
	}
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = c.repoRoot
	out, err := cmd.Output()
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return fmt.Errorf("universal ctags not found on PATH: %w", err)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("ctags failed: %s", string(exitErr.Stderr))
		}
		return err
	}

	byName := map[string][]Symbol{}
	byFile := map[string][]Symbol{}
	var all []Symbol

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if raw["_type"] != "tag" {
			continue
		}
		sym := symbolFromRaw(raw)
		all = append(all, sym)
		nameLower := strings.ToLower(sym.Name)
		byName[nameLower] = append(byName[nameLower], sym)
		byFile[sym.FilePath] = append(byFile[sym.FilePath], sym)
	}

	c.byName = byName
	c.byFile = byFile
	c.all = all
	c.indexed = true
	return nil
}

func symbolFromRaw(raw map[string]any) Symbol {
	str := func(k string) string {
		if v, ok := raw[k].(string); ok {
			return v
		}
		return ""
	}
	line := 0
	if v, ok := raw["line"].(float64); ok {
		line = int(v)
	}
	return Symbol{
		Name:      str("name"),
		FilePath:  normalizePath(str("path")),
		Line:      line,
		Kind:      str("kind"),
		Scope:     str("scope"),
		ScopeKind: str("scopeKind"),
		Signature: str("signature"),
		Access:    str("access"),
		Language:  str("language"),
	}
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "./")
	return "./" + p
}

// FindSymbol looks up symbols by exact name (case-insensitive),
// optionally filtered by kind.
func (c *CtagsIndex) FindSymbol(ctx context.Context, name, kind string) ([]Symbol, error) {
	if err := c.ensureIndexed(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Symbol
	for _, s := range c.byName[strings.ToLower(name)] {
		if matchesKind(s.Kind, kind) {
			out = append(out, s)
		}
	}
	return out, nil
}

// SymbolsInFile returns symbols defined in file, sorted by line.
func (c *CtagsIndex) SymbolsInFile(ctx context.Context, file string) ([]Symbol, error) {
	if err := c.ensureIndexed(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	syms := append([]Symbol(nil), c.byFile[normalizePath(file)]...)
	sort.Slice(syms, func(i, j int) bool { return syms[i].Line < syms[j].Line })
	return syms, nil
}

// FindByPattern returns symbols whose name matches a glob-like
// pattern (* and ?), optionally filtered by kind.
func (c *CtagsIndex) FindByPattern(ctx context.Context, pattern, kind string) ([]Symbol, error) {
	if err := c.ensureIndexed(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Symbol
	patternLower := strings.ToLower(pattern)
	for _, s := range c.all {
		if ok, _ := filepath.Match(patternLower, strings.ToLower(s.Name)); ok && matchesKind(s.Kind, kind) {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetFileSummary produces the ctags-derived tool entry point for
// get_file_summary.
func (e *Executor) GetFileSummary(ctx context.Context, args map[string]any) Result {
	rel := argString(args, "path")
	abs, errRes := e.validatePath(rel)
	if abs == "" {
		return errRes
	}
	syms, err := e.ctags.SymbolsInFile(ctx, rel)
	if err != nil {
		return errResult(err.Error(), nil)
	}

	var classes, functions, variables, imports []map[string]any
	for _, s := range syms {
		item := map[string]any{"name": s.Name, "line": s.Line}
		switch expandKind(s.Kind) {
		case "class", "struct", "interface":
			classes = append(classes, item)
		case "function", "method":
			item["signature"] = s.Signature
			functions = append(functions, item)
		case "variable", "constant":
			variables = append(variables, item)
		case "import":
			imports = append(imports, item)
		}
	}
	return okResult(map[string]any{
		"file_path": rel, "classes": classes, "functions": functions,
		"variables": variables, "imports": imports,
	})
}

// SymbolExists is the symbol_exists tool entry point.
func (e *Executor) SymbolExists(ctx context.Context, args map[string]any) Result {
	name := argString(args, "symbol")
	if name == "" {
		return errResult("symbol is required", nil)
	}
	syms, err := e.ctags.FindSymbol(ctx, name, argString(args, "kind"))
	if err != nil {
		return errResult(err.Error(), nil)
	}
	if len(syms) > maxUsagesLocation {
		syms = syms[:maxUsagesLocation]
	}
	return okResult(map[string]any{"exists": len(syms) > 0, "locations": symbolLocations(syms)})
}

// FindDefinition is the find_definition tool entry point.
func (e *Executor) FindDefinition(ctx context.Context, args map[string]any) Result {
	name := argString(args, "symbol")
	if name == "" {
		return errResult("symbol is required", nil)
	}
	syms, err := e.ctags.FindSymbol(ctx, name, argString(args, "kind"))
	if err != nil {
		return errResult(err.Error(), nil)
	}
	if len(syms) == 0 {
		return okResult(map[string]any{"definitions": []map[string]any{}})
	}
	items := make([]map[string]any, 0, len(syms))
	for _, s := range syms {
		items = append(items, map[string]any{
			"file": s.FilePath, "line": s.Line, "kind": expandKind(s.Kind),
			"scope": s.Scope, "signature": s.Signature,
		})
	}
	return okResult(map[string]any{"definitions": items})
}

// FindSymbols is the find_symbols tool entry point.
func (e *Executor) FindSymbols(ctx context.Context, args map[string]any) Result {
	pattern := argString(args, "pattern")
	if pattern == "" {
		return errResult("pattern is required", nil)
	}
	syms, err := e.ctags.FindByPattern(ctx, pattern, argString(args, "kind"))
	if err != nil {
		return errResult(err.Error(), nil)
	}
	items := make([]map[string]any, 0, len(syms))
	for _, s := range syms {
		items = append(items, map[string]any{"name": s.Name, "file": s.FilePath, "line": s.Line, "kind": expandKind(s.Kind)})
	}
	return okResult(map[string]any{"symbols": items})
}

// GetEnclosingScope finds the innermost symbol containing line and
// slices its source out of the file.
func (e *Executor) GetEnclosingScope(ctx context.Context, args map[string]any) Result {
	rel := argString(args, "path")
	abs, errRes := e.validatePath(rel)
	if abs == "" {
		return errRes
	}
	line := argInt(args, "line", 0)
	if line < 1 {
		return errResult("line must be >= 1", nil)
	}

	syms, err := e.ctags.SymbolsInFile(ctx, rel)
	if err != nil {
		return errResult(err.Error(), nil)
	}

	var best *Symbol
	for i := range syms {
		s := &syms[i]
		kind := expandKind(s.Kind)
		if kind != "function" && kind != "method" && kind != "class" && kind != "struct" {
			continue
		}
		if s.Line <= line && (best == nil || s.Line > best.Line) {
			best = s
		}
	}
	if best == nil {
		return okResult(map[string]any{"found": false})
	}

	data, errRes := e.readAndCheckBinary(abs)
	if data == nil {
		return errRes
	}
	lines := strings.Split(string(data), "\n")
	end := len(lines)
	for i := range syms {
		if syms[i].Line > best.Line && syms[i].Line < end {
			end = syms[i].Line - 1
		}
	}
	start := best.Line
	if start > len(lines) {
		start = len(lines)
	}
	if end > len(lines) {
		end = len(lines)
	}
	source := strings.Join(lines[start-1:end], "\n")

	return okResult(map[string]any{
		"found": true, "name": best.Name, "kind": expandKind(best.Kind),
		"start_line": start, "end_line": end, "source": source,
	})
}

// FindUsages combines ctags definitions with a ripgrep sweep for
// plain-text references, split into def/usage buckets.
func (e *Executor) FindUsages(ctx context.Context, args map[string]any) Result {
	name := argString(args, "symbol")
	if name == "" {
		return errResult("symbol is required", nil)
	}
	includeDefs := argBool(args, "include_definitions")
	pathFilter := argString(args, "path")

	defs, err := e.ctags.FindSymbol(ctx, name, "")
	if err != nil {
		return errResult(err.Error(), nil)
	}
	defSet := map[string]bool{}
	for _, d := range defs {
		defSet[fmt.Sprintf("%s:%d", d.FilePath, d.Line)] = true
	}

	filePattern := ""
	if pathFilter != "" {
		filePattern = pathFilter
	}
	matches, err := e.rg.SearchText(ctx, name, false, true, true, filePattern)
	if err != nil {
		return errResult(err.Error(), nil)
	}

	var definitions, usages []map[string]any
	if includeDefs {
		for _, d := range defs {
			definitions = append(definitions, map[string]any{"file": d.FilePath, "line": d.Line, "kind": expandKind(d.Kind)})
		}
	}
	for _, m := range matches {
		key := fmt.Sprintf("./%s:%s", m.File, strconv.Itoa(m.LineNumber))
		if defSet[key] {
			continue
		}
		usages = append(usages, map[string]any{"file": m.File, "line": m.LineNumber, "code": m.Code})
	}

	return okResult(map[string]any{"definitions": definitions, "usages": usages})
}

func symbolLocations(syms []Symbol) []map[string]any {
	out := make([]map[string]any, 0, len(syms))
	for _, s := range syms {
		out = append(out, map[string]any{"file": s.FilePath, "line": s.Line, "kind": expandKind(s.Kind)})
	}
	return out
}
