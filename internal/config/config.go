// Package config parses the code-scanner TOML configuration described
// in the external interfaces section: an [llm] table and an ordered
// list of [[checks]] groups, plus the legacy flat `checks = [...]`
// shape original_source's config.py accepted at top level.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nightaudit/codescanner/internal/model"
)

// Backend identifies which LLM wire protocol to speak.
type Backend string

const (
	BackendOpenAICompatible Backend = "openai-compatible"
	BackendNativeChat       Backend = "native-chat"
)

// Defaults mirrored from original_source's config.py, which this
// project's TOML schema supersedes structurally but not numerically.
const (
	DefaultOutputFile         = "code_scanner_results.md"
	DefaultLogFile            = "code_scanner.log"
	DefaultLockFile           = "code_scanner.lock"
	DefaultGitPollInterval    = 30 // seconds
	DefaultLLMRetryInterval   = 10 // seconds
	DefaultMaxLLMRetries      = 3
	DefaultSimilarityThreshold = 0.8
	DefaultTimeout            = 120 // seconds
	DefaultStatusPort         = 8730
)

// LLMConfig is the parsed [llm] table.
type LLMConfig struct {
	Backend      Backend `toml:"backend"`
	Host         string  `toml:"host"`
	Port         int     `toml:"port"`
	Model        string  `toml:"model"`
	Timeout      int     `toml:"timeout"`
	ContextLimit int     `toml:"context_limit"`
}

// BaseURL builds the backend's HTTP root from host/port.
func (l LLMConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", l.Host, l.Port)
}

// llmDoc decodes only the [llm] table; [[checks]] is handled
// separately from the generic map because its shape varies between
// the table form and the legacy flat string-list form.
type llmDoc struct {
	LLM LLMConfig `toml:"llm"`
}

// Config is the fully validated scan configuration.
type Config struct {
	LLM    LLMConfig
	Groups []model.CheckGroup
}

// Error is a configuration error with a fatal, user-facing message
// (spec.md §7: fatal startup errors exit non-zero before any I/O).
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func newErr(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

var allowedLLMKeys = map[string]struct{}{
	"backend": {}, "host": {}, "port": {}, "model": {}, "timeout": {}, "context_limit": {},
}

var allowedCheckKeys = map[string]struct{}{
	"pattern": {}, "checks": {},
}

var allowedTopKeys = map[string]struct{}{
	"llm": {}, "checks": {},
}

// Load parses and strictly validates the TOML file at path.
//
// Strictness is implemented by hand: the file is decoded into a
// generic map and every key is checked against allow-lists, because
// BurntSushi/toml has no "reject unknown fields" mode — every
// unrecognized top-level section or unrecognized key under
// [llm]/[[checks]] is reported by name.
func Load(path string) (*Config, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, newErr("parse config file %s: %v", path, err)
	}

	for key := range raw {
		if _, ok := allowedTopKeys[key]; !ok {
			return nil, newErr("unknown top-level section %q (accepted: llm, checks)", key)
		}
	}

	llmTable, _ := raw["llm"].(map[string]any)
	if llmTable == nil {
		return nil, newErr("missing required [llm] section")
	}
	for key := range llmTable {
		if _, ok := allowedLLMKeys[key]; !ok {
			return nil, newErr("unknown key %q under [llm] (accepted: backend, host, port, model, timeout, context_limit)", key)
		}
	}

	var doc llmDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, newErr("decode config file %s: %v", path, err)
	}

	groups, err := validateAndBuildGroups(raw)
	if err != nil {
		return nil, err
	}

	llm, err := validateLLM(doc.LLM)
	if err != nil {
		return nil, err
	}

	if err := validateGroupsHaveWork(groups); err != nil {
		return nil, err
	}

	return &Config{LLM: llm, Groups: groups}, nil
}

func validateLLM(llm LLMConfig) (LLMConfig, error) {
	if llm.Backend == "" {
		return llm, newErr("[llm].backend is required (openai-compatible or native-chat)")
	}
	if llm.Backend != BackendOpenAICompatible && llm.Backend != BackendNativeChat {
		return llm, newErr("[llm].backend must be one of: openai-compatible, native-chat (got %q)", llm.Backend)
	}
	if llm.Host == "" {
		return llm, newErr("[llm].host is required")
	}
	if llm.Port == 0 {
		return llm, newErr("[llm].port is required")
	}
	if llm.Backend == BackendNativeChat && llm.Model == "" {
		return llm, newErr("[llm].model is required for backend %q", BackendNativeChat)
	}
	if llm.ContextLimit <= 0 {
		return llm, newErr("[llm].context_limit is required and must be positive")
	}
	if llm.Timeout <= 0 {
		llm.Timeout = DefaultTimeout
	}
	return llm, nil
}

// validateAndBuildGroups handles both the [[checks]] table form and
// the legacy flat `checks = ["...", ...]` top-level list, which
// original_source's config.py accepted directly and this schema
// converts into a single group with pattern "*".
func validateAndBuildGroups(raw map[string]any) ([]model.CheckGroup, error) {
	checksVal, ok := raw["checks"]
	if !ok {
		return nil, newErr("missing required [[checks]] section")
	}

	switch v := checksVal.(type) {
	case []map[string]any:
		return buildGroupsFromTables(v)
	case []any:
		// Could be a list of tables (each map[string]any) or a flat
		// list of strings (the legacy shape).
		if len(v) == 0 {
			return nil, newErr("[[checks]] must not be empty")
		}
		if _, isString := v[0].(string); isString {
			legacy := make([]string, 0, len(v))
			for i, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, newErr("legacy checks[%d] must be a string", i)
				}
				legacy = append(legacy, s)
			}
			return []model.CheckGroup{{Patterns: []string{"*"}, Prompts: legacy}}, nil
		}
		tables := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, newErr("[[checks]][%d] must be a table", i)
			}
			tables = append(tables, m)
		}
		return buildGroupsFromTables(tables)
	default:
		return nil, newErr("[[checks]] has an unrecognized shape")
	}
}

func buildGroupsFromTables(tables []map[string]any) ([]model.CheckGroup, error) {
	groups := make([]model.CheckGroup, 0, len(tables))
	for i, t := range tables {
		for key := range t {
			if _, ok := allowedCheckKeys[key]; !ok {
				return nil, newErr("unknown key %q under [[checks]][%d] (accepted: pattern, checks)", key, i)
			}
		}
		pattern, _ := t["pattern"].(string)
		if pattern == "" {
			return nil, newErr("[[checks]][%d].pattern is required", i)
		}
		patterns := splitPatterns(pattern)

		var prompts []string
		if rawPrompts, ok := t["checks"]; ok {
			list, ok := rawPrompts.([]any)
			if !ok {
				return nil, newErr("[[checks]][%d].checks must be a list of strings", i)
			}
			for j, p := range list {
				s, ok := p.(string)
				if !ok || strings.TrimSpace(s) == "" {
					return nil, newErr("[[checks]][%d].checks[%d] must be a non-empty string", i, j)
				}
				prompts = append(prompts, s)
			}
		}
		groups = append(groups, model.CheckGroup{Patterns: patterns, Prompts: prompts})
	}
	return groups, nil
}

func splitPatterns(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validateGroupsHaveWork ensures at least one group carries prompts;
// an all-ignore-groups configuration is fatal (spec.md §8 boundary:
// "fatal only if every group is ignore-only").
func validateGroupsHaveWork(groups []model.CheckGroup) error {
	for _, g := range groups {
		if !g.IsIgnoreGroup() {
			return nil
		}
	}
	return newErr("no [[checks]] group defines any prompts; every group is ignore-only")
}

// Schedule flattens the ordered (group, prompt) pairs into the check
// schedule the scanner executes, per spec.md §3's CheckGroup definition.
func (c *Config) Schedule() []model.ScheduleEntry {
	var out []model.ScheduleEntry
	idx := 0
	for gi, g := range c.Groups {
		if g.IsIgnoreGroup() {
			continue
		}
		for pi, p := range g.Prompts {
			out = append(out, model.ScheduleEntry{
				Index: idx, Group: g, GroupIndex: gi, Prompt: p, PromptIdx: pi,
			})
			idx++
		}
	}
	return out
}

// IgnoreGroups returns the groups that contribute only exclusion
// patterns to the file filter.
func (c *Config) IgnoreGroups() []model.CheckGroup {
	var out []model.CheckGroup
	for _, g := range c.Groups {
		if g.IsIgnoreGroup() {
			out = append(out, g)
		}
	}
	return out
}
