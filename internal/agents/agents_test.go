package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/paperflow/internal/budget"
	"github.com/mohammad-safakhou/paperflow/internal/delegation"
	"github.com/mohammad-safakhou/paperflow/internal/llm"
	"github.com/mohammad-safakhou/paperflow/internal/tools"
)

// scriptedModel answers Generate calls from a fixed script and records the
// tools and system prompt it was given.
type scriptedModel struct {
	name    string
	mu      sync.Mutex
	replies []*schema.Message
	calls   int
	tools   []*schema.ToolInfo
	system  string
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(input) > 0 && input[0].Role == schema.System {
		m.system = input[0].Content
	}
	if m.calls >= len(m.replies) {
		return nil, fmt.Errorf("%s: script exhausted", m.name)
	}
	reply := m.replies[m.calls]
	m.calls++
	out := *reply
	out.Extra = map[string]any{"id": fmt.Sprintf("%s-%d:0", m.name, m.calls)}
	out.ResponseMeta = &schema.ResponseMeta{FinishReason: "stop", Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	return &out, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.tools = tools
	m.mu.Unlock()
	return m, nil
}

func (m *scriptedModel) toolNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, t := range m.tools {
		out = append(out, t.Name)
	}
	return out
}

type models map[llm.Role]*scriptedModel

func (ms models) For(role llm.Role) (model.ToolCallingChatModel, error) {
	m, ok := ms[role]
	if !ok {
		return nil, fmt.Errorf("no model for %s", role)
	}
	return m, nil
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func newTeam(t *testing.T, ms models) (*Team, *tools.Workspace) {
	t.Helper()
	ws, err := tools.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	reg, err := tools.NewRegistry(tools.Deps{Workspace: ws})
	require.NoError(t, err)
	team, err := Build(context.Background(), Config{
		Models:    ms,
		Tools:     reg,
		Workspace: ws,
		Now:       func() time.Time { return time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return team, ws
}

func defaultModels() models {
	return models{
		llm.RoleOrchestration: {name: "orchestrator", replies: []*schema.Message{
			schema.AssistantMessage("", []schema.ToolCall{call("call-o1", "task", `{"description": "Collect sources on sparse attention into research/01_background.md", "subagent_type": "researcher"}`)}),
			schema.AssistantMessage("Paper assembled at paper.md", nil),
		}},
		llm.RoleResearch: {name: "researcher", replies: []*schema.Message{
			schema.AssistantMessage("", []schema.ToolCall{call("call-r1", "write_file", `{"path": "research/01_background.md", "content": "Longformer, BigBird"}`)}),
			schema.AssistantMessage("Wrote research/01_background.md", nil),
		}},
		llm.RolePlanning: {name: "planner"},
		llm.RoleWriting:  {name: "writer"},
		llm.RoleCritique: {name: "critic"},
	}
}

func TestBuildWiresTeam(t *testing.T) {
	ms := defaultModels()
	team, _ := newTeam(t, ms)

	assert.Equal(t, []string{"critic", "planner", "researcher", "writer"}, team.SubAgents.Names())
	assert.Equal(t, "orchestrator", team.Orchestrator.Name(context.Background()))

	_, err := Build(context.Background(), Config{})
	assert.Error(t, err)

	ws, err := tools.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	reg, err := tools.NewRegistry(tools.Deps{Workspace: ws})
	require.NoError(t, err)
	_, err = Build(context.Background(), Config{Models: models{}, Tools: reg, Workspace: ws})
	assert.ErrorContains(t, err, "no model for")
}

func TestRunnerDelegatesAndCollectsResult(t *testing.T) {
	ms := defaultModels()
	team, ws := newTeam(t, ms)

	var mu sync.Mutex
	var events []Event
	r := NewRunner(team, ws, WithEventHandler(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	res, err := r.Run(context.Background(), "Write a short survey of sparse attention")
	require.NoError(t, err)

	assert.Equal(t, "Paper assembled at paper.md", res.FinalAnswer)
	assert.Equal(t, []string{"/research/01_background.md"}, res.Artifacts)
	assert.Equal(t, 3, res.Events)
	assert.Equal(t, 60, res.Usage.TotalTokens)

	require.Len(t, res.Delegations, 1)
	inv := res.Delegations[0]
	assert.Equal(t, "call-o1", inv.ParentID)
	assert.Equal(t, "researcher", inv.Agent)
	assert.Equal(t, delegation.StatusCompleted, inv.Status)
	assert.Equal(t, "Wrote research/01_background.md", inv.Result)
	assert.Equal(t, map[string]delegation.ToolCallStatus{"call-r1": delegation.ToolCallCompleted}, inv.ToolCalls)

	content, err := ws.ReadFile("research/01_background.md")
	require.NoError(t, err)
	assert.Equal(t, "Longformer, BigBird", content)

	mu.Lock()
	require.Len(t, events, 3)
	assert.Equal(t, []string{"task"}, events[0].ToolCalls)
	assert.Equal(t, "task", events[1].ToolName)
	assert.Equal(t, "Wrote research/01_background.md", events[1].Content)
	mu.Unlock()

	assert.Contains(t, ms[llm.RoleOrchestration].toolNames(), "task")
	assert.NotContains(t, ms[llm.RoleResearch].toolNames(), "task")
	assert.NotContains(t, ms[llm.RoleCritique].toolNames(), "write_file")
	assert.Contains(t, ms[llm.RoleOrchestration].system, "2025-03-14")
	assert.Contains(t, ms[llm.RoleOrchestration].system, "- researcher:")
	assert.Contains(t, ms[llm.RoleResearch].system, ws.Root())
}

func TestRunnerReportsModelFailure(t *testing.T) {
	ms := defaultModels()
	ms[llm.RoleOrchestration].replies = nil
	team, ws := newTeam(t, ms)

	res, err := NewRunner(team, ws).Run(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script exhausted")
	require.NotNil(t, res)
	assert.Empty(t, res.FinalAnswer)

	_, err = NewRunner(team, ws).Run(context.Background(), "   ")
	assert.Error(t, err)
}

func TestRunnerStopsOverTokenBudget(t *testing.T) {
	team, ws := newTeam(t, defaultModels())

	res, err := NewRunner(team, ws, WithTokenBudget(20)).Run(context.Background(), "Survey sparse attention")
	require.Error(t, err)
	var exceeded budget.ErrExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "tokens", exceeded.Kind)
	require.NotNil(t, res)
	assert.Empty(t, res.FinalAnswer)
}
