package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/delegation"
	"github.com/mohammad-safakhou/paperflow/internal/llm"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/prompts"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
	"github.com/mohammad-safakhou/paperflow/internal/tools"
)

// ModelSource resolves the chat model for a role; *llm.Router satisfies it.
type ModelSource interface {
	For(role llm.Role) (model.ToolCallingChatModel, error)
}

var modelRoles = map[prompts.Role]llm.Role{
	prompts.Planner:      llm.RolePlanning,
	prompts.Researcher:   llm.RoleResearch,
	prompts.Writer:       llm.RoleWriting,
	prompts.Critic:       llm.RoleCritique,
	prompts.Orchestrator: llm.RoleOrchestration,
}

type Config struct {
	Models                ModelSource
	Tools                 *tools.Registry
	Workspace             *tools.Workspace
	MaxIterations         int
	SubAgentMaxIterations int
	Streaming             bool
	Telemetry             *telemetry.Telemetry
	Logger                *zap.Logger
	// Now stamps the date into instructions; defaults to time.Now.
	Now func() time.Time
}

// Team is the orchestrator plus the sub-agents it can delegate to.
type Team struct {
	Orchestrator adk.Agent
	SubAgents    *delegation.Registry
	State        *delegation.State
	Task         *delegation.Tool
}

// Build creates the planner, researcher, writer and critic agents, registers
// them for delegation and builds the orchestrator on top.
func Build(ctx context.Context, cfg Config) (*Team, error) {
	if cfg.Models == nil || cfg.Tools == nil || cfg.Workspace == nil {
		return nil, errors.New("agents: models, tools and workspace are required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 60
	}
	if cfg.SubAgentMaxIterations <= 0 {
		cfg.SubAgentMaxIterations = 30
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	logger := logging.OrNop(cfg.Logger)
	vars := map[string]any{
		"workspace": cfg.Workspace.Root(),
		"date":      now().Format("2006-01-02"),
	}

	subs := delegation.NewRegistry()
	for _, role := range prompts.SubAgentRoles() {
		a, err := newAgent(ctx, cfg, role, vars, cfg.Tools.ForRole(role), cfg.SubAgentMaxIterations)
		if err != nil {
			return nil, err
		}
		if err := subs.Register(string(role), prompts.Description(role), a); err != nil {
			return nil, err
		}
	}

	state := delegation.NewState()
	task := delegation.NewTool(subs, state,
		delegation.WithStreaming(cfg.Streaming),
		delegation.WithTelemetry(cfg.Telemetry),
		delegation.WithLogger(logger))

	vars["subagents"] = subs.Describe()
	orchestratorTools := append(cfg.Tools.ForRole(prompts.Orchestrator), task)
	orchestrator, err := newAgent(ctx, cfg, prompts.Orchestrator, vars, orchestratorTools, cfg.MaxIterations)
	if err != nil {
		return nil, err
	}
	logger.Debug("agent team built", zap.Strings("subagents", subs.Names()), zap.Int("orchestrator_tools", len(orchestratorTools)))
	return &Team{Orchestrator: orchestrator, SubAgents: subs, State: state, Task: task}, nil
}

func newAgent(ctx context.Context, cfg Config, role prompts.Role, vars map[string]any, toolset []tool.BaseTool, maxIter int) (adk.Agent, error) {
	instruction, err := prompts.RenderInstruction(role, vars)
	if err != nil {
		return nil, fmt.Errorf("%s instruction: %w", role, err)
	}
	cm, err := cfg.Models.For(modelRoles[role])
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", role, err)
	}
	description := prompts.Description(role)
	if description == "" {
		description = "Coordinates the paper-writing team"
	}
	a, err := adk.NewChatModelAgent(ctx, &adk.ChatModelAgentConfig{
		Name:        string(role),
		Description: description,
		Instruction: instruction,
		Model:       cm,
		ToolsConfig: adk.ToolsConfig{
			ToolsNodeConfig: compose.ToolsNodeConfig{Tools: toolset},
		},
		MaxIterations: maxIter,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s agent: %w", role, err)
	}
	return a, nil
}
