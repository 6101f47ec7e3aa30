package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

func testProvider(url string) config.LLMProvider {
	return config.LLMProvider{
		Type:    "openai",
		APIKey:  "sk-test",
		BaseURL: url,
		Models: map[string]config.LLMModel{
			"small": {Name: "small", APIName: "gpt-small", MaxTokens: 256, Temperature: 0.2, CostPer1K: 1, CostPer1KOutput: 2},
		},
	}
}

func TestGenerateSendsToolsAndParsesToolCalls(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		got = nil
		assert.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{
  "id": "chatcmpl-1",
  "choices": [{"index": 0, "finish_reason": "tool_calls", "message": {"role": "assistant", "content": "",
    "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "read_file", "arguments": "{\"path\":\"outline.json\"}"}}]}}],
  "usage": {"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500}
}`))
	}))
	defer srv.Close()

	tele := telemetry.New(config.TelemetryConfig{Enabled: true, CostTracking: true}, nil)
	p := testProvider(srv.URL)
	cm := NewChatModel("small", p, p.Models["small"], tele, nil)
	bound, err := cm.WithTools([]*schema.ToolInfo{{
		Name: "read_file",
		Desc: "read a file",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"path": {Type: schema.String, Required: true},
		}),
	}})
	require.NoError(t, err)

	msg, err := bound.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("be brief"),
		schema.UserMessage("read the outline"),
	}, model.WithTemperature(0))
	require.NoError(t, err)

	assert.Equal(t, "gpt-small", got["model"])
	assert.EqualValues(t, 0, got["temperature"])
	assert.EqualValues(t, 256, got["max_tokens"])
	tools, ok := got["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "read_file", fn["name"])
	assert.Equal(t, "object", fn["parameters"].(map[string]any)["type"])

	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, `{"path":"outline.json"}`, msg.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "chatcmpl-1:0", msg.Extra["id"])
	assert.Equal(t, 1500, msg.ResponseMeta.Usage.TotalTokens)
	assert.InDelta(t, 2.0, tele.CostSummary().TotalCost, 1e-9)

	// the unbound model sends no tools
	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	_, hasTools := got["tools"]
	assert.False(t, hasTools)
}

func TestGenerateEncodesToolResults(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"done"}}]}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	cm := NewChatModel("small", p, p.Models["small"], nil, nil)
	msgs := []*schema.Message{
		schema.UserMessage("go"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "call_9", Function: schema.FunctionCall{Name: "ls", Arguments: "{}"}}}),
		schema.ToolMessage("a.md\nb.md", "call_9", schema.WithToolName("ls")),
	}
	out, err := cm.Generate(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Content)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	require.Len(t, got.Messages[1].ToolCalls, 1)
	assert.Equal(t, "function", got.Messages[1].ToolCalls[0].Type)
	assert.Equal(t, "tool", got.Messages[2].Role)
	assert.Equal(t, "call_9", got.Messages[2].ToolCallID)
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()
	p := testProvider(srv.URL)
	_, err := NewChatModel("small", p, p.Models["small"], nil, nil).Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.Error(t, err)
}

func TestStreamWrapsGenerate(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"id":"s","choices":[{"index":0,"message":{"role":"assistant","content":"chunk"}}]}`))
	}))
	defer srv.Close()
	p := testProvider(srv.URL)
	sr, err := NewChatModel("small", p, p.Models["small"], nil, nil).Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	msg, err := schema.ConcatMessageStream(sr)
	require.NoError(t, err)
	assert.Equal(t, "chunk", msg.Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRouterFallback(t *testing.T) {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{"openai": testProvider("http://unused")},
		Routing:   config.LLMRoutingConfig{Fallback: "small"},
	}
	r := NewRouter(cfg, nil, nil)
	assert.Equal(t, "small", r.ModelName(RoleWriting))

	a, err := r.For(RoleWriting)
	require.NoError(t, err)
	b, err := r.For(RoleCritique)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = NewRouter(config.LLMConfig{}, nil, nil).For(RolePlanning)
	assert.Error(t, err)
}
