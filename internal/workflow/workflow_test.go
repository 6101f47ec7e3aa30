package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/paperflow/internal/papergen"
)

// fakeGenerator writes each stage's marker file and can fail one stage.
type fakeGenerator struct {
	mu     sync.Mutex
	calls  []Stage
	failAt Stage
	seen   papergen.Project
}

func (f *fakeGenerator) do(st Stage, p papergen.Project) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, st)
	f.seen = p
	f.mu.Unlock()
	if st == f.failAt {
		return nil, errors.New("model unavailable")
	}
	path := filepath.Join(p.Dir, marker[st])
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return []string{path}, os.WriteFile(path, []byte(string(st)), 0o644)
}

func (f *fakeGenerator) Idea(_ context.Context, p papergen.Project) ([]string, error) {
	return f.do(StageIdea, p)
}

func (f *fakeGenerator) Method(_ context.Context, p papergen.Project) ([]string, error) {
	return f.do(StageMethod, p)
}

func (f *fakeGenerator) Results(_ context.Context, p papergen.Project) ([]string, error) {
	return f.do(StageResults, p)
}

func (f *fakeGenerator) Paper(_ context.Context, p papergen.Project) ([]string, error) {
	return f.do(StagePaper, p)
}

func newWorkflow(t *testing.T, gen *fakeGenerator, opts ...Option) (*Workflow, string) {
	t.Helper()
	root := t.TempDir()
	w, err := New(context.Background(), gen, root, opts...)
	require.NoError(t, err)
	return w, root
}

func TestRunCompletesEveryStage(t *testing.T) {
	gen := &fakeGenerator{}
	var stages []Stage
	w, root := newWorkflow(t, gen, WithStageHandler(func(st Stage, _ *State) { stages = append(stages, st) }))

	var observed []Stage
	s, err := w.Run(context.Background(), Request{Request: "Graph rewiring for oversquashing", DataDescription: "OGB"}, func(st Stage, _ *State) {
		observed = append(observed, st)
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "graph_rewiring_for_oversquashing"), s.ProjectDir)
	assert.Equal(t, Stages, s.Completed)
	assert.Equal(t, Stages, stages)
	assert.Equal(t, Stages, observed)
	assert.Equal(t, []Stage{StageIdea, StageMethod, StageResults, StagePaper}, gen.calls)
	assert.Equal(t, []string{filepath.Join(s.ProjectDir, papergen.PaperTeXFile)}, s.Artifacts[StagePaper])
	assert.Equal(t, []string{filepath.Join(s.ProjectDir, "request.md")}, s.Artifacts[StageInitialize])
	assert.Empty(t, s.Failed)
	assert.Equal(t, "OGB", gen.seen.DataDescription)
}

func TestRunRoutesFailureToError(t *testing.T) {
	gen := &fakeGenerator{failAt: StageMethod}
	w, _ := newWorkflow(t, gen)

	s, err := w.Run(context.Background(), Request{Request: "x"}, nil)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageMethod, se.Stage)
	assert.EqualError(t, err, "workflow stage method: model unavailable")

	require.NotNil(t, s)
	assert.Equal(t, StageMethod, s.Failed)
	assert.Equal(t, "model unavailable", s.Error)
	assert.Equal(t, []Stage{StageInitialize, StageIdea}, s.Completed)
	assert.Equal(t, []Stage{StageIdea, StageMethod}, gen.calls, "no stage runs after a failure")
}

func TestInitializeValidatesRequest(t *testing.T) {
	gen := &fakeGenerator{}
	w, _ := newWorkflow(t, gen)

	s, err := w.Run(context.Background(), Request{Request: "   "}, nil)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageInitialize, se.Stage)
	assert.Equal(t, StageInitialize, s.Failed)
	assert.Empty(t, gen.calls)

	_, err = w.Run(context.Background(), Request{Request: "x", OutlineFile: filepath.Join(t.TempDir(), "missing.json")}, nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageInitialize, se.Stage)
}

func TestInitializeLoadsFiles(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data.md")
	require.NoError(t, os.WriteFile(data, []byte("10k labelled molecules"), 0o644))
	out := filepath.Join(dir, "outline.json")
	require.NoError(t, os.WriteFile(out, []byte(`{"title": "T", "sections": [{"title": "Intro", "order": 1, "description": "why"}]}`), 0o644))

	gen := &fakeGenerator{}
	w, _ := newWorkflow(t, gen)
	_, err := w.Run(context.Background(), Request{Name: "mol", Request: "x", DataDescriptionFile: data, OutlineFile: out}, nil)
	require.NoError(t, err)

	assert.Equal(t, "10k labelled molecules", gen.seen.DataDescription)
	assert.Contains(t, gen.seen.Outline, `"title": "Intro"`)
	assert.Equal(t, "mol", filepath.Base(gen.seen.Dir))
}

func TestResumeSkipsFinishedStages(t *testing.T) {
	gen := &fakeGenerator{failAt: StageResults}
	w, _ := newWorkflow(t, gen)
	req := Request{Name: "resumable", Request: "x"}

	_, err := w.Run(context.Background(), req, nil)
	require.Error(t, err)

	gen.failAt = ""
	gen.calls = nil
	req.Resume = true
	s, err := w.Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageIdea, StageMethod}, s.Skipped)
	assert.Equal(t, []Stage{StageInitialize, StageResults, StagePaper}, s.Completed)
	assert.Equal(t, []Stage{StageResults, StagePaper}, gen.calls)
}

func TestNewRequiresGeneratorAndRoot(t *testing.T) {
	_, err := New(context.Background(), nil, t.TempDir())
	assert.Error(t, err)
	_, err = New(context.Background(), &fakeGenerator{}, "")
	assert.Error(t, err)
}
