package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nightaudit/codescanner/internal/model"
)

// NativeChatClient speaks a streaming NDJSON chat API, grounded on
// morler-codai's providers/ollama/ollama_provider.go: one JSON object
// per line, the final line carrying "done": true and usage counters.
type NativeChatClient struct {
	baseURL      string
	modelID      string
	contextLimit int
	httpClient   *http.Client
}

// NewNativeChatClient builds a client against baseURL for modelID.
func NewNativeChatClient(baseURL, modelID string, contextLimit, timeoutSeconds int) *NativeChatClient {
	return &NativeChatClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		modelID:      modelID,
		contextLimit: contextLimit,
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

func (c *NativeChatClient) BackendName() string   { return "native-chat" }
func (c *NativeChatClient) ModelID() string       { return c.modelID }
func (c *NativeChatClient) ContextLimit() int     { return c.contextLimit }
func (c *NativeChatClient) SetContextLimit(n int) { c.contextLimit = n }

func (c *NativeChatClient) Connect(ctx context.Context) error {
	_, _, err := c.probe(ctx)
	return err
}

func (c *NativeChatClient) Query(ctx context.Context, systemPrompt, userPrompt, checkPrompt string, tools []ToolSpec, invoker ToolInvoker, maxToolIterations int) ([]model.Issue, error) {
	return runQuery(ctx, c.BackendName(), c.contextLimit, c, systemPrompt, userPrompt, checkPrompt, tools, invoker, maxToolIterations)
}

func (c *NativeChatClient) probe(ctx context.Context) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", classifyTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return 0, "", &TransientError{Msg: fmt.Sprintf("tags endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return 0, "", &ClientError{Msg: fmt.Sprintf("tags endpoint returned %d", resp.StatusCode)}
	}
	return 0, c.modelID, nil
}

type nativeMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []nativeToolCall `json:"tool_calls,omitempty"`
}

type nativeToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type nativeTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type nativeRequest struct {
	Model    string          `json:"model"`
	Messages []nativeMessage `json:"messages"`
	Tools    []nativeTool    `json:"tools,omitempty"`
	Format   string          `json:"format,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type nativeStreamChunk struct {
	Message struct {
		Role      string           `json:"role"`
		Content   string           `json:"content"`
		ToolCalls []nativeToolCall `json:"tool_calls"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
	Error           string `json:"error"`
}

func toNativeMessages(messages []Message) []nativeMessage {
	out := make([]nativeMessage, 0, len(messages))
	for _, m := range messages {
		nm := nativeMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var ntc nativeToolCall
			ntc.Function.Name = tc.Name
			ntc.Function.Arguments = tc.Arguments
			nm.ToolCalls = append(nm.ToolCalls, ntc)
		}
		out = append(out, nm)
	}
	return out
}

func toNativeTools(tools []ToolSpec) []nativeTool {
	out := make([]nativeTool, 0, len(tools))
	for _, t := range tools {
		var nt nativeTool
		nt.Type = "function"
		nt.Function.Name = t.Name
		nt.Function.Description = t.Description
		nt.Function.Parameters = t.Parameters
		out = append(out, nt)
	}
	return out
}

// send posts a streaming chat request and assembles the NDJSON
// chunks into one assistant message, per the ollama provider style.
// If the backend rejects the request in JSON mode it retries once
// with format left unset, per spec.md §4.C.
func (c *NativeChatClient) send(ctx context.Context, messages []Message, tools []ToolSpec, jsonMode bool) (Message, int, error) {
	assistant, usage, err := c.doSend(ctx, messages, tools, jsonMode)
	var ce *ClientError
	if jsonMode && err != nil && isType(err, &ce) {
		return c.doSend(ctx, messages, tools, false)
	}
	return assistant, usage, err
}

func (c *NativeChatClient) doSend(ctx context.Context, messages []Message, tools []ToolSpec, jsonMode bool) (Message, int, error) {
	reqBody := nativeRequest{
		Model:    c.modelID,
		Messages: toNativeMessages(messages),
		Tools:    toNativeTools(tools),
		Stream:   true,
	}
	if jsonMode {
		reqBody.Format = "json"
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Message{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Message{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Message{}, 0, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Message{}, 0, &TransientError{Msg: fmt.Sprintf("backend returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return Message{}, 0, &ClientError{Msg: fmt.Sprintf("backend returned %d", resp.StatusCode)}
	}

	var content strings.Builder
	var toolCalls []nativeToolCall
	usage := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk nativeStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return Message{}, 0, &ClientError{Msg: "malformed stream chunk: " + err.Error()}
		}
		if chunk.Error != "" {
			if strings.Contains(chunk.Error, "context") {
				return Message{}, 0, &ContextOverflowError{Msg: chunk.Error}
			}
			return Message{}, 0, &ClientError{Msg: chunk.Error}
		}
		content.WriteString(chunk.Message.Content)
		if len(chunk.Message.ToolCalls) > 0 {
			toolCalls = chunk.Message.ToolCalls
		}
		if chunk.Done {
			usage = chunk.PromptEvalCount + chunk.EvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return Message{}, 0, classifyTransportErr(err)
	}

	assistant := Message{Role: RoleAssistant, Content: content.String()}
	for _, tc := range toolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return assistant, usage, nil
}
