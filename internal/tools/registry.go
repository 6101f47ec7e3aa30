package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/prompts"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

// Deps are the collaborators the tools call into. Only Workspace is
// required; tools whose dependency is nil are left out.
type Deps struct {
	Workspace  *Workspace
	Literature LiteratureSearcher
	Collected  CollectedSearcher
	Fetcher    PageFetcher
	Tokens     TokenCounter
	Telemetry  *telemetry.Telemetry
	Logger     *zap.Logger
}

var roleTools = map[prompts.Role][]string{
	prompts.Planner:    {"read_file", "write_file", "ls", "glob", "validate_json", "search_collected"},
	prompts.Researcher: {"read_file", "ls", "glob", "grep", "write_file", "literature_search", "search_collected", "fetch_paper", "word_count"},
	prompts.Writer:     {"read_file", "write_file", "edit_file", "ls", "glob", "grep", "word_count", "concat_documents", "validate_json", "search_collected"},
	prompts.Critic:     {"read_file", "ls", "glob", "grep", "word_count"},
}

// Registry holds every built tool by name.
type Registry struct {
	tools map[string]tool.InvokableTool
}

func NewRegistry(d Deps) (*Registry, error) {
	if d.Workspace == nil {
		return nil, errors.New("tools: workspace is required")
	}
	logger := logging.OrNop(d.Logger).Named("tools")

	built, err := FileTools(d.Workspace)
	if err != nil {
		return nil, err
	}
	text, err := TextTools(d.Workspace, d.Tokens)
	if err != nil {
		return nil, err
	}
	built = append(built, text...)
	if d.Literature != nil {
		t, err := newLiteratureSearchTool(d.Literature)
		if err != nil {
			return nil, err
		}
		built = append(built, t)
	}
	if d.Collected != nil {
		t, err := newSearchCollectedTool(d.Collected)
		if err != nil {
			return nil, err
		}
		built = append(built, t)
	}
	if d.Fetcher != nil {
		t, err := newFetchPaperTool(d.Fetcher)
		if err != nil {
			return nil, err
		}
		built = append(built, t)
	}

	r := &Registry{tools: make(map[string]tool.InvokableTool, len(built))}
	for _, t := range built {
		info, err := t.Info(context.Background())
		if err != nil {
			return nil, err
		}
		if _, dup := r.tools[info.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", info.Name)
		}
		r.tools[info.Name] = Instrument(t, info.Name, d.Telemetry, logger)
	}
	return r, nil
}

func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ForRole returns the tool set of a role. The orchestrator gets every tool.
func (r *Registry) ForRole(role prompts.Role) []tool.BaseTool {
	names, ok := roleTools[role]
	if !ok {
		names = r.Names()
	}
	out := make([]tool.BaseTool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

type instrumented struct {
	tool.InvokableTool
	name   string
	tele   *telemetry.Telemetry
	logger *zap.Logger
}

// Instrument records every call and turns tool failures into "Error: ..."
// results so the model can correct itself. Cancellation is still returned
// as an error.
func Instrument(t tool.InvokableTool, name string, tele *telemetry.Telemetry, logger *zap.Logger) tool.InvokableTool {
	return &instrumented{InvokableTool: t, name: name, tele: tele, logger: logging.OrNop(logger)}
}

func (i *instrumented) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	start := time.Now()
	out, err := i.InvokableTool.InvokableRun(ctx, args, opts...)
	d := time.Since(start)
	i.tele.RecordToolCall(i.name, d, err)
	if err == nil {
		i.logger.Debug("tool call", zap.String("tool", i.name), zap.Duration("duration", d))
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	cause := err
	if inner := errors.Unwrap(err); inner != nil {
		cause = inner
	}
	i.logger.Warn("tool call failed", zap.String("tool", i.name), zap.Duration("duration", d), zap.Error(cause))
	return "Error: " + cause.Error(), nil
}
