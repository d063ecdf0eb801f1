package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInvoker struct{}

func (stubInvoker) Invoke(ctx context.Context, name string, args map[string]any) (string, bool) {
	return `{"ok":true}`, false
}

func oaiChoice(content string, toolCalls []oaiToolCall) map[string]any {
	msg := map[string]any{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return map[string]any{
		"choices": []map[string]any{{"message": msg, "finish_reason": "stop"}},
		"usage":   map[string]any{"total_tokens": 42},
	}
}

func TestOpenAICompatQuerySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := oaiChoice(`{"issues":[{"file":"main.go","line_number":3,"description":"leak","suggested_fix":"free it","code_snippet":"x := malloc()"}]}`, nil)
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-model", 8192, 5)
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "main.go", issues[0].FilePath)
	assert.Equal(t, 3, issues[0].LineNumber)
}

func TestOpenAICompatMalformedThenReformat(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var resp map[string]any
		if n == 1 {
			resp = oaiChoice("not json at all", nil)
		} else {
			resp = oaiChoice(`{"issues":[]}`, nil)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-model", 8192, 5)
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAICompatGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(oaiChoice("still not json", nil))
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-model", 8192, 5)
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestOpenAICompatToolCallLoop(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var resp map[string]any
		if n == 1 {
			tc := oaiToolCall{ID: "1", Type: "function"}
			tc.Function.Name = "read_file"
			tc.Function.Arguments = `{"path":"a.go"}`
			resp = oaiChoice("", []oaiToolCall{tc})
		} else {
			resp = oaiChoice(`{"issues":[]}`, nil)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-model", 8192, 5)
	tools := []ToolSpec{{Name: "read_file", Description: "reads a file"}}
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", tools, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAICompatTransientRetrySucceedsAfterOutage(t *testing.T) {
	prev := RetryInterval
	RetryInterval = 10 * time.Millisecond
	defer func() { RetryInterval = prev }()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(oaiChoice(`{"issues":[]}`, nil))
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-model", 8192, 5)
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenAICompatContextOverflowAbandonsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "maximum context length exceeded"},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-model", 8192, 5)
	_, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.Error(t, err)
	var overflow *ContextOverflowError
	require.ErrorAs(t, err, &overflow)
}

func TestOpenAICompatRetriesWithoutJSONModeOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, hasFormat := req["response_format"]; hasFormat {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "unknown parameter response_format"}})
			return
		}
		json.NewEncoder(w).Encode(oaiChoice(`{"issues":[]}`, nil))
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(srv.URL, "test-model", 8192, 5)
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestNativeChatRetriesWithoutJSONModeOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, hasFormat := req["format"]; hasFormat {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"{\"issues\":[]}"},"done":true,"prompt_eval_count":1,"eval_count":1}`)
	}))
	defer srv.Close()

	c := NewNativeChatClient(srv.URL, "test-model", 8192, 5)
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNativeChatStreamingParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"{\"issues\""},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":":[]}"},"done":true,"prompt_eval_count":10,"eval_count":5}`)
	}))
	defer srv.Close()

	c := NewNativeChatClient(srv.URL, "test-model", 8192, 5)
	issues, err := c.Query(context.Background(), SystemPromptTemplate, "check this", "no-leaks", nil, stubInvoker{}, MaxToolIterations)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestParseIssuesJSONDiscardsOutOfTargetPaths(t *testing.T) {
	content := `{"issues":[
		{"file":"main.go","line_number":1,"description":"ok"},
		{"file":"","line_number":1,"description":"empty"},
		{"file":"../secrets.env","line_number":1,"description":"escapes root"},
		{"file":"/etc/passwd","line_number":1,"description":"absolute"},
		{"file":"a..b.txt","line_number":1,"description":"legitimate dotted name"}
	]}`

	issues, err := parseIssuesJSON(content, "check")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "main.go", issues[0].FilePath)
	assert.Equal(t, "a..b.txt", issues[1].FilePath)
}

func TestStripFencesRemovesLanguageTag(t *testing.T) {
	in := "```json\n{\"issues\":[]}\n```"
	assert.Equal(t, `{"issues":[]}`, stripFences(in))
}

func TestBuildUserPromptIncludesFiles(t *testing.T) {
	files := map[string][]byte{"a.go": []byte("package a")}
	prompt := BuildUserPrompt("find bugs", files, []string{"a.go"})
	assert.Contains(t, prompt, "find bugs")
	assert.Contains(t, prompt, "a.go")
	assert.Contains(t, prompt, "package a")
}
