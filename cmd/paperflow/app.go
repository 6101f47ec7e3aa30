package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/mohammad-safakhou/paperflow/internal/agents"
	"github.com/mohammad-safakhou/paperflow/internal/fetch"
	"github.com/mohammad-safakhou/paperflow/internal/literature"
	"github.com/mohammad-safakhou/paperflow/internal/llm"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/papergen"
	"github.com/mohammad-safakhou/paperflow/internal/runs"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
	"github.com/mohammad-safakhou/paperflow/internal/tools"
	"github.com/mohammad-safakhou/paperflow/internal/workflow"
)

// app holds the process-wide collaborators shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	tele    *telemetry.Telemetry
	router  *llm.Router
	fetcher *fetch.Fetcher
	rdb     *redis.Client
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.General.LogLevel, cfg.General.Debug)
	tele := telemetry.New(cfg.Telemetry, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		tele:    tele,
		router:  llm.NewRouter(cfg.LLM, tele, logger),
		fetcher: fetch.FromConfig(cfg.Fetch, logger),
	}

	if cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// literature caching is optional
			logger.Warn("redis unavailable, literature cache disabled", zap.String("addr", cfg.Storage.Redis.Addr()), zap.Error(err))
			_ = rdb.Close()
		} else {
			a.rdb = rdb
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) cache() redis.UniversalClient {
	if a.rdb == nil {
		return nil
	}
	return a.rdb
}

// buildTeam wires a fresh agent team to ws. Each team gets its own index of
// collected papers, closed when ctx ends.
func (a *app) buildTeam(ctx context.Context, ws *tools.Workspace) (*agents.Team, error) {
	index, err := literature.NewIndex()
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() { _ = index.Close() })

	registry, err := tools.NewRegistry(tools.Deps{
		Workspace:  ws,
		Literature: literature.FromConfig(a.cfg.Literature, a.cache(), index, a.logger),
		Collected:  index,
		Fetcher:    a.fetcher,
		Tokens:     tools.CL100KTokens,
		Telemetry:  a.tele,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build tools: %w", err)
	}
	return agents.Build(ctx, agents.Config{
		Models:                a.router,
		Tools:                 registry,
		Workspace:             ws,
		MaxIterations:         a.cfg.Agents.MaxIterations,
		SubAgentMaxIterations: a.cfg.Agents.SubAgentMaxIterations,
		Streaming:             a.cfg.Agents.EnableStreaming,
		Telemetry:             a.tele,
		Logger:                a.logger,
	})
}

func (a *app) runnerOptions() []agents.RunnerOption {
	return []agents.RunnerOption{
		agents.WithTimeout(a.cfg.Agents.AgentTimeout),
		agents.WithRunnerStreaming(a.cfg.Agents.EnableStreaming),
		agents.WithTokenBudget(a.cfg.Agents.MaxRunTokens),
		agents.WithRunnerTelemetry(a.tele),
		agents.WithRunnerLogger(a.logger),
	}
}

// workflow builds the stage graph over the writing model, with literature
// search feeding the idea stage.
func (a *app) workflow(ctx context.Context, root string, opts ...workflow.Option) (*workflow.Workflow, error) {
	m, err := a.router.For(llm.RoleWriting)
	if err != nil {
		return nil, err
	}
	gen := papergen.NewLLM(m,
		papergen.WithLiterature(literature.FromConfig(a.cfg.Literature, a.cache(), nil, a.logger), a.cfg.Literature.MaxResults),
		papergen.WithTelemetry(a.tele),
		papergen.WithLogger(a.logger),
	)
	opts = append([]workflow.Option{workflow.WithTelemetry(a.tele), workflow.WithLogger(a.logger)}, opts...)
	return workflow.New(ctx, gen, root, opts...)
}

func (a *app) executors(ctx context.Context) (map[runs.Kind]runs.Executor, error) {
	wf, err := a.workflow(ctx, a.cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}
	return map[runs.Kind]runs.Executor{
		runs.KindOrchestrated: &runs.AgentExecutor{Root: a.cfg.Workspace.Root, Build: a.buildTeam, Options: a.runnerOptions()},
		runs.KindWorkflow:     &runs.WorkflowExecutor{Workflow: wf},
	}, nil
}
