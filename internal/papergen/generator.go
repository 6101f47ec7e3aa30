// Package papergen generates a paper in four stages (idea, method, results,
// paper), each stage reading the artifacts of the previous ones from the
// project directory.
package papergen

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/document"
	"github.com/mohammad-safakhou/paperflow/internal/literature"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
	"github.com/mohammad-safakhou/paperflow/internal/prompts"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
)

// Artifact file names, relative to the project directory.
const (
	LiteratureFile = "literature.md"
	PapersFile     = "papers.json"
	IdeaFile       = "idea.md"
	MethodsFile    = "methods.md"
	ResultsFile    = "results.md"
	PaperJSONFile  = "paper/paper.json"
	PaperTeXFile   = "paper/main.tex"
)

// ErrMissingArtifact is returned when a stage runs before the one it depends on.
var ErrMissingArtifact = errors.New("missing artifact")

// Project is the input shared by every stage.
type Project struct {
	Dir             string
	Request         string
	DataDescription string
	// Outline is optional raw outline JSON the paper stage should follow.
	Outline string
}

// Generator runs the stages. Each method returns the paths it wrote.
type Generator interface {
	Idea(ctx context.Context, p Project) ([]string, error)
	Method(ctx context.Context, p Project) ([]string, error)
	Results(ctx context.Context, p Project) ([]string, error)
	Paper(ctx context.Context, p Project) ([]string, error)
}

// Searcher is satisfied by *literature.Client.
type Searcher interface {
	Search(ctx context.Context, q literature.Query) ([]literature.Paper, error)
}

const systemPrompt = "You are a careful academic writer. Follow the requested output format exactly."

// LLM is the chat-model backed Generator.
type LLM struct {
	model      model.BaseChatModel
	literature Searcher
	papers     int
	tele       *telemetry.Telemetry
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*LLM)

// WithLiterature makes the idea stage search the literature first.
func WithLiterature(s Searcher, limit int) Option {
	return func(g *LLM) {
		g.literature = s
		g.papers = limit
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option { return func(g *LLM) { g.tele = t } }

func WithLogger(l *zap.Logger) Option { return func(g *LLM) { g.logger = l } }

func NewLLM(m model.BaseChatModel, opts ...Option) *LLM {
	g := &LLM{model: m, papers: 15, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	g.logger = logging.OrNop(g.logger).Named("papergen")
	return g
}

var _ Generator = (*LLM)(nil)

func (g *LLM) Idea(ctx context.Context, p Project) ([]string, error) {
	var written []string
	lit := "(none)"
	if g.literature != nil {
		review, paths, err := g.review(ctx, p)
		if err != nil {
			return nil, err
		}
		written = append(written, paths...)
		if review != "" {
			lit = review
		}
	}
	out, err := g.stage(ctx, prompts.StageIdea, p, map[string]any{"literature": lit}, IdeaFile)
	if err != nil {
		return nil, err
	}
	return append(written, out), nil
}

// review searches for the request and writes literature.md and papers.json.
// A search that finds nothing is not an error.
func (g *LLM) review(ctx context.Context, p Project) (string, []string, error) {
	papers, err := g.literature.Search(ctx, literature.Query{Text: p.Request, Limit: g.papers})
	if err != nil {
		g.logger.Warn("literature search failed; continuing without review", zap.Error(err))
		return "", nil, nil
	}
	if len(papers) == 0 {
		return "", nil, nil
	}
	raw, err := sonic.ConfigStd.MarshalIndent(papers, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encode papers: %w", err)
	}
	papersPath, err := write(p.Dir, PapersFile, string(raw))
	if err != nil {
		return "", nil, err
	}
	var listing strings.Builder
	for i, paper := range papers {
		fmt.Fprintf(&listing, "%s\n    %s\n", literature.FormatReference(i+1, paper), oneLine(paper.Abstract, 600))
	}
	reviewPath, err := g.stage(ctx, prompts.StageLiterature, p, map[string]any{"papers": listing.String()}, LiteratureFile)
	if err != nil {
		return "", nil, err
	}
	review, err := read(p.Dir, LiteratureFile)
	if err != nil {
		return "", nil, err
	}
	return review, []string{papersPath, reviewPath}, nil
}

func (g *LLM) Method(ctx context.Context, p Project) ([]string, error) {
	idea, err := read(p.Dir, IdeaFile)
	if err != nil {
		return nil, err
	}
	out, err := g.stage(ctx, prompts.StageMethod, p, map[string]any{"idea": idea}, MethodsFile)
	if err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func (g *LLM) Results(ctx context.Context, p Project) ([]string, error) {
	vars, err := readAll(p.Dir, map[string]string{"idea": IdeaFile, "methods": MethodsFile})
	if err != nil {
		return nil, err
	}
	out, err := g.stage(ctx, prompts.StageResults, p, vars, ResultsFile)
	if err != nil {
		return nil, err
	}
	return []string{out}, nil
}

// Paper asks for the paper as JSON, stores it and renders paper/main.tex.
func (g *LLM) Paper(ctx context.Context, p Project) ([]string, error) {
	vars, err := readAll(p.Dir, map[string]string{"idea": IdeaFile, "methods": MethodsFile, "results": ResultsFile})
	if err != nil {
		return nil, err
	}
	vars["outline"] = p.Outline
	text, err := g.complete(ctx, prompts.StagePaper, p, vars)
	if err != nil {
		return nil, err
	}
	paper, err := ParsePaper(text)
	if err != nil {
		return nil, fmt.Errorf("paper stage: %w", err)
	}
	if len(paper.References) == 0 {
		paper.References = g.collectedReferences(p.Dir)
	}
	if paper.Date == "" {
		paper.Date = g.now().Format("January 2006")
	}

	raw, err := sonic.ConfigStd.MarshalIndent(paper, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode paper: %w", err)
	}
	jsonPath, err := write(p.Dir, PaperJSONFile, string(raw))
	if err != nil {
		return nil, err
	}
	tex, err := document.RenderLaTeX(*paper)
	if err != nil {
		return nil, fmt.Errorf("paper stage: %w", err)
	}
	texPath, err := write(p.Dir, PaperTeXFile, tex)
	if err != nil {
		return nil, err
	}
	return []string{jsonPath, texPath}, nil
}

// ParsePaper decodes the paper stage reply. The JSON object may be fenced
// or surrounded by prose.
func ParsePaper(text string) (*document.Paper, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, fmt.Errorf("decode paper json: %w", err)
	}
	var paper document.Paper
	if err := sonic.UnmarshalString(obj, &paper); err != nil {
		return nil, fmt.Errorf("decode paper json: %w", err)
	}
	if strings.TrimSpace(paper.Title) == "" || len(paper.Sections) == 0 {
		return nil, errors.New("paper json needs a title and at least one section")
	}
	return &paper, nil
}

// collectedReferences falls back to the papers found by the idea stage.
func (g *LLM) collectedReferences(dir string) []document.Reference {
	raw, err := read(dir, PapersFile)
	if err != nil {
		return nil
	}
	var papers []literature.Paper
	if err := sonic.UnmarshalString(raw, &papers); err != nil {
		g.logger.Warn("ignore unreadable papers file", zap.Error(err))
		return nil
	}
	refs := make([]document.Reference, 0, len(papers))
	for _, paper := range papers {
		link := paper.URL
		if paper.DOI != "" {
			link = "https://doi.org/" + paper.DOI
		}
		refs = append(refs, document.Reference{
			Key:     literature.CiteKey(paper),
			Title:   paper.Title,
			Authors: paper.Authors,
			Year:    paper.Year,
			Venue:   paper.Venue,
			URL:     link,
		})
	}
	return refs
}

func (g *LLM) stage(ctx context.Context, stage prompts.Stage, p Project, vars map[string]any, file string) (string, error) {
	text, err := g.complete(ctx, stage, p, vars)
	if err != nil {
		return "", err
	}
	return write(p.Dir, file, strings.TrimSpace(text)+"\n")
}

func (g *LLM) complete(ctx context.Context, stage prompts.Stage, p Project, vars map[string]any) (string, error) {
	vars["request"] = p.Request
	data := p.DataDescription
	if strings.TrimSpace(data) == "" {
		data = "(not provided)"
	}
	vars["data_description"] = data
	prompt, err := prompts.RenderStage(stage, vars)
	if err != nil {
		return "", err
	}

	ctx, end := g.tele.StartSpan(ctx, "papergen."+string(stage), attribute.Int("prompt_chars", len(prompt)))
	start := time.Now()
	msg, err := g.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	})
	end(err)
	if err != nil {
		return "", fmt.Errorf("%s stage: %w", stage, err)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%s stage: model returned no content", stage)
	}
	g.logger.Info("stage completed", zap.String("stage", string(stage)), zap.Duration("duration", time.Since(start)), zap.Int("chars", len(msg.Content)))
	return msg.Content, nil
}

func read(dir, name string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrMissingArtifact, name)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(raw), nil
}

func readAll(dir string, files map[string]string) (map[string]any, error) {
	vars := make(map[string]any, len(files)+3)
	for key, name := range files {
		content, err := read(dir, name)
		if err != nil {
			return nil, err
		}
		vars[key] = content
	}
	return vars, nil
}

func write(dir, name, content string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}
