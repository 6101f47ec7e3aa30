package delegation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/slongfield/pyfmt"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

const ToolName = "task"

const taskDescription = `Launch a sub-agent to handle one self-contained task in isolation.

Available agent types:
{agents}
The sub-agent starts with an empty conversation: put every detail it needs (file paths, section titles, word targets, what to write where) into the description. It shares the workspace with you, so ask it to save results to files and read them afterwards. Its final message is returned to you as the tool result. Independent tasks can be launched in parallel.`

type taskArgs struct {
	Description  string `json:"description"`
	SubagentType string `json:"subagent_type"`
}

// Tool is the task tool. It runs a registered agent with a fresh history and
// mirrors the agent's progress into State.
type Tool struct {
	registry  *Registry
	state     *State
	streaming bool
	tele      *telemetry.Telemetry
	logger    *zap.Logger
}

type ToolOption func(*Tool)

func WithStreaming(on bool) ToolOption { return func(t *Tool) { t.streaming = on } }

func WithTelemetry(tele *telemetry.Telemetry) ToolOption { return func(t *Tool) { t.tele = tele } }

func WithLogger(l *zap.Logger) ToolOption { return func(t *Tool) { t.logger = l } }

var _ tool.InvokableTool = (*Tool)(nil)

func NewTool(registry *Registry, state *State, opts ...ToolOption) *Tool {
	t := &Tool{registry: registry, state: state}
	for _, o := range opts {
		o(t)
	}
	t.logger = logging.OrNop(t.logger).Named("delegation")
	return t
}

func (t *Tool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	desc, err := pyfmt.Fmt(taskDescription, map[string]any{"agents": t.registry.Describe()})
	if err != nil {
		return nil, err
	}
	return &schema.ToolInfo{
		Name: ToolName,
		Desc: desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"description": {
				Type:     schema.String,
				Desc:     "Complete, self-contained instructions for the sub-agent",
				Required: true,
			},
			"subagent_type": {
				Type:     schema.String,
				Desc:     "Which agent type to launch",
				Enum:     t.registry.Names(),
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun never fails the parent run for problems the model can fix:
// bad arguments, unknown agent types and sub-agent failures all come back as
// text. Only cancellation of ctx is returned as an error.
func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args taskArgs
	if err := sonic.UnmarshalString(argumentsInJSON, &args); err != nil {
		return fmt.Sprintf("Error: invalid task arguments: %v", err), nil
	}
	args.Description = strings.TrimSpace(args.Description)
	if args.Description == "" {
		return "Error: description must not be empty", nil
	}
	agent, ok := t.registry.Lookup(args.SubagentType)
	if !ok {
		return fmt.Sprintf("Error: %v %q; valid types are: %s", ErrUnknownAgent, args.SubagentType, strings.Join(t.registry.Names(), ", ")), nil
	}

	parentID := compose.GetToolCallID(ctx)
	if parentID == "" {
		parentID = "task-" + uuid.NewString()
	}
	inv := newInvocation(parentID, args.SubagentType, args.Description)
	t.state.Merge(inv)

	ctx, end := t.tele.StartSpan(ctx, "delegation.task",
		attribute.String("agent", args.SubagentType),
		attribute.String("parent_tool_call_id", parentID))
	start := time.Now()
	result, err := t.run(ctx, agent, inv)
	end(err)

	if err != nil {
		inv.fail(err)
		t.state.Merge(inv)
		t.tele.RecordDelegation(args.SubagentType, string(StatusFailed), time.Since(start))
		t.logger.Error("sub-agent failed",
			zap.String("agent", args.SubagentType),
			zap.String("parent_id", parentID),
			zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return fmt.Sprintf("Error: sub-agent %s failed: %v", args.SubagentType, err), nil
	}

	if result == "" {
		result = "The sub-agent finished without a final message."
	}
	inv.finish(result)
	t.state.Merge(inv)
	t.tele.RecordDelegation(args.SubagentType, string(StatusCompleted), time.Since(start))
	t.logger.Info("sub-agent finished",
		zap.String("agent", args.SubagentType),
		zap.String("parent_id", parentID),
		zap.Int("messages", len(inv.Messages)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// run drains the agent's events into inv and returns the content of the
// last assistant message without tool calls.
func (t *Tool) run(ctx context.Context, agent adk.Agent, inv *Invocation) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("sub-agent panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	runner := adk.NewRunner(ctx, adk.RunnerConfig{Agent: agent, EnableStreaming: t.streaming})
	iter := runner.Run(ctx, []adk.Message{schema.UserMessage(inv.Description)})
	for {
		event, ok := iter.Next()
		if !ok {
			break
		}
		if event.Err != nil {
			return "", event.Err
		}
		if event.Output == nil || event.Output.MessageOutput == nil {
			continue
		}
		msg, err := event.Output.MessageOutput.GetMessage()
		if err != nil {
			return "", fmt.Errorf("read sub-agent message: %w", err)
		}
		if !inv.Observe(msg) {
			continue
		}
		if msg.Role == schema.Assistant && len(msg.ToolCalls) == 0 && strings.TrimSpace(msg.Content) != "" {
			result = msg.Content
		}
		t.state.Merge(inv)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if result == "" && len(inv.Messages) == 0 {
		return "", errors.New("sub-agent produced no output")
	}
	return result, nil
}
