// Package workflow runs the fixed paper pipeline as an eino compose graph:
// initialize -> idea -> method -> results -> paper, with every node able to
// route to a terminal error node.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/document"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/outline"
	"github.com/mohammad-safakhou/paperflow/internal/papergen"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

type Stage string

const (
	StageInitialize Stage = "initialize"
	StageIdea       Stage = "idea"
	StageMethod     Stage = "method"
	StageResults    Stage = "results"
	StagePaper      Stage = "paper"

	nodeError = "error"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{StageInitialize, StageIdea, StageMethod, StageResults, StagePaper}

// marker is the artifact whose presence lets Resume skip a stage.
var marker = map[Stage]string{
	StageIdea:    papergen.IdeaFile,
	StageMethod:  papergen.MethodsFile,
	StageResults: papergen.ResultsFile,
	StagePaper:   papergen.PaperTeXFile,
}

// Request describes one pipeline run.
type Request struct {
	// Name picks the project directory; defaults to a slug of Request.
	Name                string `json:"name,omitempty"`
	Request             string `json:"request"`
	DataDescription     string `json:"data_description,omitempty"`
	DataDescriptionFile string `json:"data_description_file,omitempty"`
	OutlineFile         string `json:"outline_file,omitempty"`
	Resume              bool   `json:"resume,omitempty"`
}

// State flows through the graph.
type State struct {
	Request    Request            `json:"request"`
	ProjectDir string             `json:"project_dir"`
	Artifacts  map[Stage][]string `json:"artifacts"`
	Completed  []Stage            `json:"completed"`
	Skipped    []Stage            `json:"skipped,omitempty"`
	Failed     Stage              `json:"failed,omitempty"`
	Error      string             `json:"error,omitempty"`

	project papergen.Project
	observe func(Stage, *State)
	err     error
}

// StageError reports the stage a run ended on.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("workflow stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

type Workflow struct {
	gen      papergen.Generator
	root     string
	runnable compose.Runnable[*State, *State]
	tele     *telemetry.Telemetry
	logger   *zap.Logger
	onStage  func(Stage, *State)
}

type Option func(*Workflow)

func WithTelemetry(t *telemetry.Telemetry) Option { return func(w *Workflow) { w.tele = t } }

func WithLogger(l *zap.Logger) Option { return func(w *Workflow) { w.logger = l } }

// WithStageHandler is called after every stage that completes or is skipped.
func WithStageHandler(fn func(Stage, *State)) Option { return func(w *Workflow) { w.onStage = fn } }

// New compiles the graph. Project directories are created under root.
func New(ctx context.Context, gen papergen.Generator, root string, opts ...Option) (*Workflow, error) {
	if gen == nil {
		return nil, errors.New("workflow: generator is required")
	}
	if root == "" {
		return nil, errors.New("workflow: project root is required")
	}
	w := &Workflow{gen: gen, root: root}
	for _, o := range opts {
		o(w)
	}
	w.logger = logging.OrNop(w.logger).Named("workflow")

	g := compose.NewGraph[*State, *State]()
	steps := map[Stage]func(context.Context, *State) ([]string, error){
		StageInitialize: w.initialize,
		StageIdea:       func(ctx context.Context, s *State) ([]string, error) { return w.gen.Idea(ctx, s.project) },
		StageMethod:     func(ctx context.Context, s *State) ([]string, error) { return w.gen.Method(ctx, s.project) },
		StageResults:    func(ctx context.Context, s *State) ([]string, error) { return w.gen.Results(ctx, s.project) },
		StagePaper:      func(ctx context.Context, s *State) ([]string, error) { return w.gen.Paper(ctx, s.project) },
	}
	for _, st := range Stages {
		if err := g.AddLambdaNode(string(st), compose.InvokableLambda(w.node(st, steps[st]))); err != nil {
			return nil, err
		}
	}
	if err := g.AddLambdaNode(nodeError, compose.InvokableLambda(w.fail)); err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, string(StageInitialize)); err != nil {
		return nil, err
	}
	for i, st := range Stages {
		next := compose.END
		if i+1 < len(Stages) {
			next = string(Stages[i+1])
		}
		if err := g.AddBranch(string(st), compose.NewGraphBranch(route(next), map[string]bool{next: true, nodeError: true})); err != nil {
			return nil, err
		}
	}
	if err := g.AddEdge(nodeError, compose.END); err != nil {
		return nil, err
	}

	r, err := g.Compile(ctx, compose.WithGraphName("paper_workflow"))
	if err != nil {
		return nil, fmt.Errorf("compile workflow: %w", err)
	}
	w.runnable = r
	return w, nil
}

func route(next string) compose.GraphBranchCondition[*State] {
	return func(_ context.Context, s *State) (string, error) {
		if s.err != nil {
			return nodeError, nil
		}
		return next, nil
	}
}

// node wraps a stage: resume skipping, tracing, artifact bookkeeping and
// turning the stage error into state for the branch.
func (w *Workflow) node(st Stage, step func(context.Context, *State) ([]string, error)) func(context.Context, *State) (*State, error) {
	return func(ctx context.Context, s *State) (*State, error) {
		if name, ok := marker[st]; ok && s.Request.Resume {
			path := filepath.Join(s.ProjectDir, name)
			if _, err := os.Stat(path); err == nil {
				s.Skipped = append(s.Skipped, st)
				s.Artifacts[st] = []string{path}
				w.logger.Info("stage skipped", zap.String("stage", string(st)), zap.String("artifact", path))
				w.notify(st, s)
				return s, nil
			}
		}

		ctx, end := w.tele.StartSpan(ctx, "workflow."+string(st), attribute.String("project", s.ProjectDir))
		start := time.Now()
		paths, err := step(ctx, s)
		end(err)
		if err != nil {
			s.err = err
			s.Failed = st
			s.Error = err.Error()
			return s, nil
		}
		s.Artifacts[st] = paths
		s.Completed = append(s.Completed, st)
		w.logger.Info("stage completed", zap.String("stage", string(st)), zap.Strings("artifacts", paths), zap.Duration("duration", time.Since(start)))
		w.notify(st, s)
		return s, nil
	}
}

func (w *Workflow) notify(st Stage, s *State) {
	if w.onStage != nil {
		w.onStage(st, s)
	}
	if s.observe != nil {
		s.observe(st, s)
	}
}

func (w *Workflow) fail(_ context.Context, s *State) (*State, error) {
	w.logger.Error("workflow failed", zap.String("stage", string(s.Failed)), zap.Error(s.err))
	return s, nil
}

// initialize validates the request, creates the project directory and loads
// the optional data description and outline.
func (w *Workflow) initialize(_ context.Context, s *State) ([]string, error) {
	req := &s.Request
	req.Request = strings.TrimSpace(req.Request)
	if req.Request == "" {
		return nil, errors.New("research request is empty")
	}
	if req.DataDescriptionFile != "" {
		raw, err := os.ReadFile(req.DataDescriptionFile)
		if err != nil {
			return nil, fmt.Errorf("read data description: %w", err)
		}
		req.DataDescription = string(raw)
	}
	var outlineJSON string
	if req.OutlineFile != "" {
		o, err := outline.Load(req.OutlineFile)
		if err != nil {
			return nil, err
		}
		raw, err := sonic.ConfigStd.MarshalIndent(o, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode outline: %w", err)
		}
		outlineJSON = string(raw)
	}

	name := req.Name
	if name == "" {
		name = req.Request
	}
	s.ProjectDir = filepath.Join(w.root, document.Slug(name))
	if err := os.MkdirAll(s.ProjectDir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	requestPath := filepath.Join(s.ProjectDir, "request.md")
	if err := os.WriteFile(requestPath, []byte(req.Request+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	s.project = papergen.Project{
		Dir:             s.ProjectDir,
		Request:         req.Request,
		DataDescription: req.DataDescription,
		Outline:         outlineJSON,
	}
	return []string{requestPath}, nil
}

// Run executes the graph. When a stage fails the final state is returned
// together with a *StageError. observe, when set, sees every finished or
// skipped stage of this run.
func (w *Workflow) Run(ctx context.Context, req Request, observe func(Stage, *State)) (*State, error) {
	start := time.Now()
	ctx, end := w.tele.StartSpan(ctx, "workflow.run")
	s, err := w.runnable.Invoke(ctx, &State{Request: req, Artifacts: map[Stage][]string{}, observe: observe})
	if err == nil && s.err != nil {
		err = &StageError{Stage: s.Failed, Err: s.err}
	}
	end(err)

	status := "completed"
	if err != nil {
		status = "failed"
	}
	w.tele.RecordRun("workflow", status, time.Since(start))
	return s, err
}
