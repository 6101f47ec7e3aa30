package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/budget"
	"github.com/mohammad-safakhou/paperflow/internal/delegation"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
	"github.com/mohammad-safakhou/paperflow/internal/tools"
)

// Usage sums token usage over the orchestrator and every sub-agent.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *Usage) add(m *schema.Message) {
	if m == nil || m.ResponseMeta == nil || m.ResponseMeta.Usage == nil {
		return
	}
	u.PromptTokens += m.ResponseMeta.Usage.PromptTokens
	u.CompletionTokens += m.ResponseMeta.Usage.CompletionTokens
	u.TotalTokens += m.ResponseMeta.Usage.TotalTokens
}

// Event is one orchestrator message, flattened for logs and observers.
type Event struct {
	Agent     string    `json:"agent"`
	Role      string    `json:"role"`
	ToolName  string    `json:"tool_name,omitempty"`
	ToolCalls []string  `json:"tool_calls,omitempty"`
	Content   string    `json:"content,omitempty"`
	At        time.Time `json:"at"`
}

// Result of an orchestrated run.
type Result struct {
	FinalAnswer string                  `json:"final_answer"`
	Artifacts   []string                `json:"artifacts"`
	Delegations []delegation.Invocation `json:"delegations"`
	Usage       Usage                   `json:"usage"`
	Events      int                     `json:"events"`
	Duration    time.Duration           `json:"duration"`
}

type Runner struct {
	team      *Team
	workspace *tools.Workspace
	streaming bool
	timeout   time.Duration
	onEvent   func(Event)
	budget    *budget.Monitor
	tele      *telemetry.Telemetry
	logger    *zap.Logger
}

type RunnerOption func(*Runner)

func WithTimeout(d time.Duration) RunnerOption { return func(r *Runner) { r.timeout = d } }

func WithEventHandler(fn func(Event)) RunnerOption { return func(r *Runner) { r.onEvent = fn } }

// WithTokenBudget stops the run once orchestrator and sub-agents together
// have used more than limit tokens. limit <= 0 disables the check.
func WithTokenBudget(limit int64) RunnerOption {
	return func(r *Runner) { r.budget = budget.NewMonitor(limit) }
}

func WithRunnerStreaming(on bool) RunnerOption { return func(r *Runner) { r.streaming = on } }

func WithRunnerTelemetry(tele *telemetry.Telemetry) RunnerOption {
	return func(r *Runner) { r.tele = tele }
}

func WithRunnerLogger(l *zap.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

func NewRunner(team *Team, ws *tools.Workspace, opts ...RunnerOption) *Runner {
	r := &Runner{team: team, workspace: ws}
	for _, o := range opts {
		o(r)
	}
	r.logger = logging.OrNop(r.logger).Named("orchestrator")
	return r
}

// Run executes the orchestrator on request. On failure the partial result
// is returned together with the error.
func (r *Runner) Run(ctx context.Context, request string) (*Result, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("empty research request")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, end := r.tele.StartSpan(ctx, "orchestrator.run", attribute.Int("request_chars", len(request)))
	start := time.Now()
	res := &Result{}

	err := r.drain(ctx, request, res)
	res.Duration = time.Since(start)
	r.collect(res)
	end(err)

	status := "completed"
	if err != nil {
		status = "failed"
		r.logger.Error("orchestrated run failed", zap.Error(err), zap.Int("events", res.Events))
	} else {
		r.logger.Info("orchestrated run finished",
			zap.Int("events", res.Events),
			zap.Int("artifacts", len(res.Artifacts)),
			zap.Int("delegations", len(res.Delegations)),
			zap.Int("total_tokens", res.Usage.TotalTokens),
			zap.Duration("duration", res.Duration))
	}
	r.tele.RecordRun("orchestrated", status, res.Duration)
	return res, err
}

func (r *Runner) drain(ctx context.Context, request string, res *Result) error {
	runner := adk.NewRunner(ctx, adk.RunnerConfig{Agent: r.team.Orchestrator, EnableStreaming: r.streaming})
	iter := runner.Query(ctx, request)
	for {
		event, ok := iter.Next()
		if !ok {
			break
		}
		if event.Err != nil {
			return event.Err
		}
		if event.Output == nil || event.Output.MessageOutput == nil {
			continue
		}
		msg, err := event.Output.MessageOutput.GetMessage()
		if err != nil {
			return fmt.Errorf("read orchestrator message: %w", err)
		}
		res.Events++
		res.Usage.add(msg)
		if msg.Role == schema.Assistant && len(msg.ToolCalls) == 0 && strings.TrimSpace(msg.Content) != "" {
			res.FinalAnswer = msg.Content
		}
		r.emit(event.AgentName, event.Output.MessageOutput.ToolName, msg)
		if err := r.budget.Observe(r.spent(res)); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// spent is the orchestrator's usage so far plus every sub-agent message
// recorded by the delegation state.
func (r *Runner) spent(res *Result) int64 {
	if r.budget == nil {
		return 0
	}
	total := int64(res.Usage.TotalTokens)
	for _, inv := range r.team.State.Snapshot() {
		var u Usage
		for _, m := range inv.Messages {
			u.add(m)
		}
		total += int64(u.TotalTokens)
	}
	return total
}

func (r *Runner) emit(agent, toolName string, msg *schema.Message) {
	ev := Event{Agent: agent, Role: string(msg.Role), ToolName: toolName, Content: msg.Content, At: time.Now().UTC()}
	for _, tc := range msg.ToolCalls {
		ev.ToolCalls = append(ev.ToolCalls, tc.Function.Name)
	}
	r.logger.Debug("agent event",
		zap.String("agent", ev.Agent),
		zap.String("role", ev.Role),
		zap.String("tool", ev.ToolName),
		zap.Strings("tool_calls", ev.ToolCalls),
		zap.Int("content_chars", len(ev.Content)))
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

// collect adds workspace artifacts, delegation records and sub-agent usage.
func (r *Runner) collect(res *Result) {
	if r.workspace != nil {
		files, err := r.workspace.Files()
		if err != nil {
			r.logger.Warn("list artifacts", zap.Error(err))
		}
		res.Artifacts = files
	}
	res.Delegations = r.team.State.Snapshot()
	for _, inv := range res.Delegations {
		for _, m := range inv.Messages {
			res.Usage.add(m)
		}
	}
}
