package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nightaudit/codescanner/internal/model"
)

// OpenAICompatClient speaks the OpenAI chat-completions wire format
// against any compatible endpoint (llama.cpp server, vLLM, LM
// Studio, etc.), grounded on the teacher's index/llm.go: a bare
// net/http client posting hand-built JSON, no SDK.
type OpenAICompatClient struct {
	baseURL      string
	modelID      string
	contextLimit int
	httpClient   *http.Client
	reasoningOK  bool
}

// NewOpenAICompatClient builds a client against baseURL (already
// including scheme and host:port, no trailing slash), for modelID.
func NewOpenAICompatClient(baseURL, modelID string, contextLimit, timeoutSeconds int) *OpenAICompatClient {
	return &OpenAICompatClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		modelID:      modelID,
		contextLimit: contextLimit,
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		reasoningOK:  true,
	}
}

func (c *OpenAICompatClient) BackendName() string   { return "openai-compatible" }
func (c *OpenAICompatClient) ModelID() string       { return c.modelID }
func (c *OpenAICompatClient) ContextLimit() int     { return c.contextLimit }
func (c *OpenAICompatClient) SetContextLimit(n int) { c.contextLimit = n }

// Connect probes /v1/models once; a fatal, single-attempt check used
// only at supervisor startup validation.
func (c *OpenAICompatClient) Connect(ctx context.Context) error {
	limit, model, err := c.probe(ctx)
	if err != nil {
		return err
	}
	if model != "" {
		c.modelID = model
	}
	if limit > 0 {
		c.contextLimit = limit
	}
	return nil
}

func (c *OpenAICompatClient) Query(ctx context.Context, systemPrompt, userPrompt, checkPrompt string, tools []ToolSpec, invoker ToolInvoker, maxToolIterations int) ([]model.Issue, error) {
	return runQuery(ctx, c.BackendName(), c.contextLimit, c, systemPrompt, userPrompt, checkPrompt, tools, invoker, maxToolIterations)
}

func (c *OpenAICompatClient) probe(ctx context.Context) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", classifyTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return 0, "", &TransientError{Msg: fmt.Sprintf("models endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return 0, "", &ClientError{Msg: fmt.Sprintf("models endpoint returned %d", resp.StatusCode)}
	}
	return 0, c.modelID, nil
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaiRequest struct {
	Model           string         `json:"model"`
	Messages        []oaiMessage   `json:"messages"`
	Tools           []oaiTool      `json:"tools,omitempty"`
	ResponseFormat  map[string]any `json:"response_format,omitempty"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func toOAIMessages(messages []Message) []oaiMessage {
	out := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		om := oaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			call := oaiToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

func toOAITools(tools []ToolSpec) []oaiTool {
	out := make([]oaiTool, 0, len(tools))
	for _, t := range tools {
		var ot oaiTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out = append(out, ot)
	}
	return out
}

// send posts one chat-completions request. On the first attempt it
// requests JSON-object mode and, if applicable, a high reasoning
// effort hint; if the backend rejects either parameter it retries
// once without the reasoning hint, and once more without JSON mode,
// per spec.md §4.C.
func (c *OpenAICompatClient) send(ctx context.Context, messages []Message, tools []ToolSpec, jsonMode bool) (Message, int, error) {
	assistant, usage, err := c.doSend(ctx, messages, tools, jsonMode, c.reasoningOK)
	var ce *ClientError
	if err == nil || !isType(err, &ce) {
		return assistant, usage, err
	}

	if c.reasoningOK {
		c.reasoningOK = false
		assistant, usage, err = c.doSend(ctx, messages, tools, jsonMode, false)
		if err == nil || !isType(err, &ce) {
			return assistant, usage, err
		}
	}

	if jsonMode {
		return c.doSend(ctx, messages, tools, false, c.reasoningOK)
	}
	return Message{}, 0, err
}

func (c *OpenAICompatClient) doSend(ctx context.Context, messages []Message, tools []ToolSpec, jsonMode, withReasoning bool) (Message, int, error) {
	reqBody := oaiRequest{
		Model:    c.modelID,
		Messages: toOAIMessages(messages),
		Tools:    toOAITools(tools),
	}
	if jsonMode {
		reqBody.ResponseFormat = map[string]any{"type": "json_object"}
	}
	if withReasoning {
		reqBody.ReasoningEffort = "high"
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Message{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Message{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Message{}, 0, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, 0, classifyTransportErr(err)
	}

	if resp.StatusCode >= 500 {
		return Message{}, 0, &TransientError{Msg: fmt.Sprintf("backend returned %d: %s", resp.StatusCode, string(body))}
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(body, &oaiResp); err != nil {
		return Message{}, 0, &ClientError{Msg: "malformed response body: " + err.Error()}
	}
	if oaiResp.Error != nil {
		if strings.Contains(oaiResp.Error.Message, "context") && strings.Contains(oaiResp.Error.Message, "length") {
			return Message{}, 0, &ContextOverflowError{Msg: oaiResp.Error.Message}
		}
		return Message{}, 0, &ClientError{Msg: oaiResp.Error.Message}
	}
	if resp.StatusCode >= 400 {
		return Message{}, 0, &ClientError{Msg: fmt.Sprintf("backend returned %d: %s", resp.StatusCode, string(body))}
	}
	if len(oaiResp.Choices) == 0 {
		return Message{}, 0, &ClientError{Msg: "backend returned no choices"}
	}

	choice := oaiResp.Choices[0]
	assistant := Message{Role: RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		assistant.ToolCalls = append(assistant.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return assistant, oaiResp.Usage.TotalTokens, nil
}

func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if isType(err, &netErr) {
		return &TransientError{Msg: err.Error()}
	}
	if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "EOF") || strings.Contains(err.Error(), "no such host") {
		return &TransientError{Msg: err.Error()}
	}
	return &TransientError{Msg: err.Error()}
}
