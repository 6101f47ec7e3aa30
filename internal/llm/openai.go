package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/mohammad-safakhou/paperflow/internal/httpclient"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ChatModel talks to an OpenAI-compatible chat completions endpoint and
// satisfies model.ToolCallingChatModel.
type ChatModel struct {
	name     string
	provider config.LLMProvider
	model    config.LLMModel
	http     *httpclient.Client
	tools    []*schema.ToolInfo
	tele     *telemetry.Telemetry
	logger   *zap.Logger
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

// NewChatModel builds a client for one configured model.
func NewChatModel(name string, provider config.LLMProvider, m config.LLMModel, tele *telemetry.Telemetry, logger *zap.Logger) *ChatModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := provider.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &ChatModel{
		name:     name,
		provider: provider,
		model:    m,
		http:     httpclient.New(timeout, provider.MaxRetries, time.Second),
		tele:     tele,
		logger:   logger.With(zap.String("model", name)),
	}
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends one chat completion request.
func (c *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	req, err := c.buildRequest(input, opts...)
	if err != nil {
		return nil, err
	}

	ctx, end := c.tele.StartSpan(ctx, "llm.generate")
	start := time.Now()
	var resp chatResponse
	err = c.http.DoJSON(ctx, http.MethodPost, c.endpoint(), c.headers(), req, &resp)
	end(err)
	if err != nil {
		c.tele.RecordLLMCall(c.name, 0, 0, 0, time.Since(start), err)
		return nil, fmt.Errorf("chat completion %s: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		err = errors.New("no choices in response")
		c.tele.RecordLLMCall(c.name, 0, 0, 0, time.Since(start), err)
		return nil, err
	}

	cost := telemetry.CalculateCost(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens), c.model.CostPer1K, c.model.CostPer1KOutput)
	c.tele.RecordLLMCall(c.name, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost, time.Since(start), nil)
	c.logger.Debug("chat completion",
		zap.String("response_id", resp.ID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("tool_calls", len(resp.Choices[0].Message.ToolCalls)),
		zap.Duration("latency", time.Since(start)))

	choice := resp.Choices[0]
	msg := toSchemaMessage(choice.Message)
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: choice.FinishReason,
		Usage: &schema.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if resp.ID != "" {
		msg.Extra = map[string]any{"id": fmt.Sprintf("%s:%d", resp.ID, choice.Index)}
	}
	return msg, nil
}

// Stream yields the Generate result as a single-chunk stream.
func (c *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := c.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools returns a copy bound to the given tools.
func (c *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	cp := *c
	cp.tools = append([]*schema.ToolInfo(nil), tools...)
	return &cp, nil
}

func (c *ChatModel) endpoint() string {
	base := strings.TrimRight(c.provider.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/chat/completions"
}

func (c *ChatModel) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.provider.APIKey != "" {
		h["Authorization"] = "Bearer " + c.provider.APIKey
	}
	return h
}

func (c *ChatModel) buildRequest(input []*schema.Message, opts ...model.Option) (*chatRequest, error) {
	apiName := c.model.APIName
	if apiName == "" {
		apiName = c.name
	}
	temp := float32(c.model.Temperature)
	base := &model.Options{Model: &apiName, Temperature: &temp, Tools: c.tools}
	if c.model.MaxTokens > 0 {
		mt := c.model.MaxTokens
		base.MaxTokens = &mt
	}
	o := model.GetCommonOptions(base, opts...)

	req := &chatRequest{
		Model:       *o.Model,
		Temperature: o.Temperature,
		TopP:        o.TopP,
		MaxTokens:   o.MaxTokens,
		Stop:        o.Stop,
	}
	for _, m := range input {
		if m == nil {
			continue
		}
		req.Messages = append(req.Messages, fromSchemaMessage(m))
	}
	for _, ti := range o.Tools {
		params, err := toolParameters(ti)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", ti.Name, err)
		}
		req.Tools = append(req.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: ti.Name, Description: ti.Desc, Parameters: params},
		})
	}
	if o.ToolChoice != nil && len(req.Tools) > 0 {
		switch *o.ToolChoice {
		case schema.ToolChoiceForbidden:
			req.ToolChoice = "none"
		case schema.ToolChoiceForced:
			req.ToolChoice = "required"
		default:
			req.ToolChoice = "auto"
		}
	}
	return req, nil
}

func toolParameters(ti *schema.ToolInfo) (json.RawMessage, error) {
	if ti.ParamsOneOf == nil {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	js, err := ti.ParamsOneOf.ToJSONSchema()
	if err != nil {
		return nil, err
	}
	if js == nil {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	b, err := json.Marshal(js)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func fromSchemaMessage(m *schema.Message) chatMessage {
	out := chatMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if m.Role == schema.User {
		out.Name = m.Name
	}
	for _, tc := range m.ToolCalls {
		ct := chatToolCall{ID: tc.ID, Type: "function"}
		ct.Function.Name = tc.Function.Name
		ct.Function.Arguments = tc.Function.Arguments
		out.ToolCalls = append(out.ToolCalls, ct)
	}
	return out
}

func toSchemaMessage(m chatMessage) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}
