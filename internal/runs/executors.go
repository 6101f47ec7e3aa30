package runs

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/mohammad-safakhou/paperflow/internal/agents"
	"github.com/mohammad-safakhou/paperflow/internal/tools"
	"github.com/mohammad-safakhou/paperflow/internal/workflow"
)

// TeamBuilder builds a fresh agent team bound to a run's workspace.
type TeamBuilder func(ctx context.Context, ws *tools.Workspace) (*agents.Team, error)

// AgentExecutor runs the orchestrator in a workspace of its own under Root.
type AgentExecutor struct {
	Root    string
	Build   TeamBuilder
	Options []agents.RunnerOption
}

func (x *AgentExecutor) Execute(ctx context.Context, runID string, req Request, emit Emitter) (any, error) {
	if x.Build == nil {
		return nil, errors.New("agent executor has no team builder")
	}
	ws, err := tools.NewWorkspace(filepath.Join(x.Root, runID))
	if err != nil {
		return nil, err
	}
	team, err := x.Build(ctx, ws)
	if err != nil {
		return nil, err
	}

	updates, unsubscribe := team.State.Subscribe(256)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for u := range updates {
			emit(EventDelegation, u)
		}
	}()

	opts := append([]agents.RunnerOption{}, x.Options...)
	opts = append(opts, agents.WithEventHandler(func(ev agents.Event) { emit(EventAgent, ev) }))
	res, err := agents.NewRunner(team, ws, opts...).Run(ctx, req.Request)

	unsubscribe()
	<-forwarded
	if res == nil {
		return nil, err
	}
	return res, err
}

// WorkflowExecutor runs the fixed stage pipeline. Runs without a name use the
// run id as their project directory.
type WorkflowExecutor struct {
	Workflow *workflow.Workflow
}

type stageEvent struct {
	Stage     workflow.Stage `json:"stage"`
	Artifacts []string       `json:"artifacts"`
	Skipped   bool           `json:"skipped,omitempty"`
}

func (x *WorkflowExecutor) Execute(ctx context.Context, runID string, req Request, emit Emitter) (any, error) {
	name := req.Name
	if name == "" {
		name = runID
	}
	state, err := x.Workflow.Run(ctx, workflow.Request{
		Name:            name,
		Request:         req.Request,
		DataDescription: req.DataDescription,
		Resume:          req.Resume,
	}, func(st workflow.Stage, s *workflow.State) {
		skipped := false
		for _, sk := range s.Skipped {
			skipped = skipped || sk == st
		}
		emit(EventStage, stageEvent{Stage: st, Artifacts: s.Artifacts[st], Skipped: skipped})
	})
	if state == nil {
		return nil, err
	}
	return state, err
}
