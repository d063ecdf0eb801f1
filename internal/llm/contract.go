// Package llm defines the shared LLM client contract from spec.md
// §4.C — JSON-response enforcement, reformat-on-failure retry, a
// bounded tool-calling loop, dynamic token budgeting, and transient
// transport reconnection — and two concrete backends that speak it:
// an OpenAI-compatible chat-completions wire format and a native
// streaming-chat format (openaicompat.go, nativechat.go).
//
// Grounded on original_source's base_client.py for the contract
// shape and prompt templates, and on the teacher's index/llm.go plus
// morler-codai's providers/ollama/ollama_provider.go for the
// raw-HTTP/JSON and streaming-NDJSON implementation style — no SDK is
// used for either backend, matching what the retrieved examples do.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nightaudit/codescanner/internal/logger"
	"github.com/nightaudit/codescanner/internal/model"
	"github.com/nightaudit/codescanner/internal/textutil"
)

// ClientError is a protocol-level failure: a 4xx status, an error
// body, or a malformed response. Issue JSON that stays unparseable
// after all retries is not a ClientError; the query returns no issues.
// Callers skip the check and continue.
type ClientError struct{ Msg string }

func (e *ClientError) Error() string { return e.Msg }

// ContextOverflowError is fatal to the current batch and must never
// be retried, per original_source's ContextOverflowError.
type ContextOverflowError struct{ Msg string }

func (e *ContextOverflowError) Error() string { return e.Msg }

// TransientError marks a connection-level failure (refused, reset,
// timeout) that the client retries indefinitely every RetryInterval.
type TransientError struct{ Msg string }

func (e *TransientError) Error() string { return e.Msg }

const (
	// MaxRetries bounds the reformat-then-retry loop (spec.md §4.C).
	MaxRetries = 3
	// MaxToolIterations bounds the tool-calling loop.
	MaxToolIterations = 10
	// TokenBudgetFraction is the point in the context limit at which
	// the client stops accepting further tool calls and asks the
	// model to finalize.
	TokenBudgetFraction = 0.85
)

// RetryInterval is the pause between retries of a transiently failed
// call. A var, not a const, so tests can shrink it.
var RetryInterval = 10 * time.Second

// Role names on the wire, shared by both backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in the conversation sent to the backend.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolCall is one function invocation the model requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolSpec describes one callable tool in JSON-schema shape, handed
// to the backend so it can decide when to call it.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolInvoker executes a tool call and returns its textual result.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (result string, isError bool)
}

// Client is the contract every backend variant implements.
type Client interface {
	Connect(ctx context.Context) error
	Query(ctx context.Context, systemPrompt, userPrompt, checkPrompt string, tools []ToolSpec, invoker ToolInvoker, maxToolIterations int) ([]model.Issue, error)
	ContextLimit() int
	ModelID() string
	BackendName() string
	SetContextLimit(limit int)
}

// transport is the minimal per-backend seam: one request/response
// round trip plus a connection probe. Both concrete backends
// implement this and share the retry/tool-loop machinery in
// runQuery below, so the JSON-enforcement and reformat-retry policy
// lives in exactly one place.
type transport interface {
	send(ctx context.Context, messages []Message, tools []ToolSpec, jsonMode bool) (assistant Message, usageTokens int, err error)
	probe(ctx context.Context) (contextLimit int, modelID string, err error)
}

// SystemPromptTemplate is the JSON-only-response instruction sent to
// every backend, ported verbatim in spirit from original_source's
// base_client.py: SYSTEM_PROMPT_TEMPLATE.
const SystemPromptTemplate = `You are a code analysis assistant. Your task is to analyze source code and identify issues based on specific checks.

CRITICAL: Your response must be ONLY a valid JSON object. Do NOT include:
- Markdown code fences (` + "```" + `)
- Explanations or comments before/after the JSON
- Any text outside the JSON object

REQUIRED OUTPUT FORMAT (copy this structure exactly):
{"issues": [{"file": "path/to/file.ext", "line_number": 42, "description": "Issue description", "suggested_fix": "How to fix it", "code_snippet": "problematic code"}]}

Each issue in the array must have these exact keys:
- "file": string - the file path where the issue was found
- "line_number": integer - the line number (1-based)
- "description": string - clear description of the issue
- "suggested_fix": string - the suggested fix
- "code_snippet": string - the problematic code snippet

If no issues are found, return exactly: {"issues": []}

Be precise with line numbers. Only report actual issues, not potential or hypothetical ones.`

// BuildUserPrompt assembles the check query plus file contents into
// the user message, ported from original_source's base_client.py:
// build_user_prompt.
func BuildUserPrompt(checkQuery string, filesContent map[string][]byte, order []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Check to perform:\n%s\n\n", checkQuery)
	b.WriteString("## Files to analyze:\n\n")
	for _, path := range order {
		content := filesContent[path]
		fmt.Fprintf(&b, "### File: %s\n```\n%s\n```\n\n", path, string(content))
	}
	return b.String()
}

// stripFences removes a ```-fenced wrapper (optionally with a
// language tag) around a JSON object, per spec.md §4.C.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		firstLine := s[:nl]
		if !strings.ContainsAny(firstLine, "{}") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type issuesEnvelope struct {
	Issues []rawIssue `json:"issues"`
}

type rawIssue struct {
	File         string `json:"file"`
	LineNumber   int    `json:"line_number"`
	Description  string `json:"description"`
	SuggestedFix string `json:"suggested_fix"`
	CodeSnippet  string `json:"code_snippet"`
}

// parseIssuesJSON parses the assistant's final content into Issues,
// discarding entries with an empty or absolute-escaping path per
// spec.md §6's wire contract.
func parseIssuesJSON(content, checkPrompt string) ([]model.Issue, error) {
	stripped := stripFences(content)
	var env issuesEnvelope
	if err := json.Unmarshal([]byte(stripped), &env); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]model.Issue, 0, len(env.Issues))
	for _, ri := range env.Issues {
		if ri.File == "" || filepath.IsAbs(ri.File) {
			continue
		}
		clean := filepath.ToSlash(filepath.Clean(ri.File))
		if clean == ".." || strings.HasPrefix(clean, "../") {
			continue
		}
		if ri.LineNumber < 1 {
			ri.LineNumber = 1
		}
		out = append(out, model.Issue{
			FilePath:     strings.TrimPrefix(ri.File, "./"),
			LineNumber:   ri.LineNumber,
			Description:  ri.Description,
			SuggestedFix: ri.SuggestedFix,
			CheckPrompt:  checkPrompt,
			FirstSeen:    now,
			Status:       model.IssueOpen,
			CodeSnippet:  ri.CodeSnippet,
		})
	}
	return out, nil
}

// runQuery is the shared retry/tool-loop engine both backends drive
// through their transport implementation, per spec.md §4.C.
func runQuery(ctx context.Context, backendName string, contextLimit int, t transport,
	systemPrompt, userPrompt, checkPrompt string,
	tools []ToolSpec, invoker ToolInvoker, maxToolIterations int) ([]model.Issue, error) {

	messages := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userPrompt},
	}

	retries := 0
	for {
		finalContent, err := runToolLoop(ctx, backendName, contextLimit, t, messages, tools, invoker, maxToolIterations)
		if err != nil {
			var overflow *ContextOverflowError
			if isType(err, &overflow) {
				logger.GetLogger().Error().Err(err).Str("backend", backendName).Msg("context overflow, abandoning batch")
				return nil, err
			}
			return nil, err
		}

		issues, perr := parseIssuesJSON(finalContent, checkPrompt)
		if perr == nil {
			return issues, nil
		}

		if retries >= MaxRetries {
			logger.GetLogger().Warn().Err(perr).Str("backend", backendName).Msg("malformed JSON after all retries, producing empty result")
			return []model.Issue{}, nil
		}

		messages = append(messages,
			Message{Role: RoleAssistant, Content: finalContent},
			Message{Role: RoleUser, Content: "Your previous response was not valid JSON. Reformat your previous message as strict JSON matching the required schema, with no extra text."},
		)
		retries++
	}
}

// runToolLoop drives the send / tool-execute / send cycle, applying
// the dynamic token budget and transient-transport retry.
func runToolLoop(ctx context.Context, backendName string, contextLimit int, t transport,
	messages []Message, tools []ToolSpec, invoker ToolInvoker, maxToolIterations int) (string, error) {

	accumulated := 0
	for i := range messages {
		accumulated += textutil.EstimateTokens(messages[i].Content)
	}
	budgetLimit := int(float64(contextLimit) * TokenBudgetFraction)
	finalizeSent := false

	for iter := 0; iter < maxToolIterations; iter++ {
		activeTools := tools
		if accumulated >= budgetLimit && !finalizeSent {
			messages = append(messages, Message{
				Role:    RoleUser,
				Content: "You are approaching the context limit. Finalize your answer now as the required JSON object; do not call any more tools.",
			})
			activeTools = nil
			finalizeSent = true
		}

		assistant, usage, err := sendWithRetry(ctx, backendName, t, messages, activeTools)
		if err != nil {
			return "", err
		}
		accumulated += usage

		if len(assistant.ToolCalls) == 0 || finalizeSent {
			return assistant.Content, nil
		}

		messages = append(messages, assistant)
		for _, call := range assistant.ToolCalls {
			result, isError := invoker.Invoke(ctx, call.Name, call.Arguments)
			role := RoleTool
			content := result
			if isError {
				content = "error: " + result
			}
			messages = append(messages, Message{
				Role: role, Content: content, ToolCallID: call.ID, Name: call.Name,
			})
		}
	}

	// Exhausted the tool-loop budget without a final answer; ask once
	// more without tools to force a terminal JSON response.
	assistant, _, err := sendWithRetry(ctx, backendName, t, messages, nil)
	if err != nil {
		return "", err
	}
	return assistant.Content, nil
}

// sendWithRetry retries a transiently failed call forever at
// RetryInterval, per spec.md §4.C/§5: "pause the scanner, retry the
// exact call every 10s until it succeeds; never advance the check
// schedule during a pause."
func sendWithRetry(ctx context.Context, backendName string, t transport, messages []Message, tools []ToolSpec) (Message, int, error) {
	for {
		assistant, usage, err := t.send(ctx, messages, tools, true)
		if err == nil {
			return assistant, usage, nil
		}

		var transient *TransientError
		if !isType(err, &transient) {
			return Message{}, 0, err
		}

		logger.GetLogger().Warn().Err(err).Str("backend", backendName).
			Dur("retry_in", RetryInterval).Msg("LLM transport error, pausing scanner and retrying")

		select {
		case <-ctx.Done():
			return Message{}, 0, ctx.Err()
		case <-time.After(RetryInterval):
		}
	}
}

// isType is a tiny helper avoiding a repeated type-switch chain; it
// reports whether err's concrete type matches *target and, if so,
// assigns it.
func isType[T error](err error, target *T) bool {
	if v, ok := err.(T); ok {
		*target = v
		return true
	}
	return false
}
