package papergen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/paperflow/internal/literature"
)

// stageModel answers by looking for a marker of each stage prompt.
type stageModel struct {
	mu      sync.Mutex
	replies map[string]string
	prompts []string
	err     error
}

func (m *stageModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prompt := input[len(input)-1].Content
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return nil, m.err
	}
	for marker, reply := range m.replies {
		if strings.Contains(prompt, marker) {
			return schema.AssistantMessage(reply, nil), nil
		}
	}
	return nil, errors.New("unexpected prompt")
}

func (m *stageModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not used")
}

const paperReply = "```json\n" + `{"title": "Sparse Attention at Scale", "authors": ["A. Researcher"],
 "abstract": "We study sparse attention.", "keywords": ["attention"],
 "sections": [{"title": "Introduction", "content": "Attention is 100% quadratic."}],
 "references": []}` + "\n```"

func newStageModel() *stageModel {
	return &stageModel{replies: map[string]string{
		"literature review":       "## Prior work\nLongformer [Beltagy, 2020].",
		"testable research idea":  "## Title\nWindowed attention",
		"Design the methodology":  "## Overview\nCompare windows.",
		"results and discussion":  "## Results\n[TO BE MEASURED]",
		"Turn the material below": paperReply,
	}}
}

type fakeSearcher struct {
	papers []literature.Paper
	err    error
}

func (f fakeSearcher) Search(context.Context, literature.Query) ([]literature.Paper, error) {
	return f.papers, f.err
}

func TestStagesWriteArtifacts(t *testing.T) {
	m := newStageModel()
	search := fakeSearcher{papers: []literature.Paper{{
		Title: "Longformer: The Long-Document Transformer", Authors: []string{"Iz Beltagy"}, Year: 2020,
		Venue: "arXiv", DOI: "10.48550/arXiv.2004.05150",
	}}}
	g := NewLLM(m, WithLiterature(search, 5))
	dir := t.TempDir()
	p := Project{Dir: dir, Request: "Efficient attention for long documents", DataDescription: "PG-19"}
	ctx := context.Background()

	idea, err := g.Idea(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, PapersFile),
		filepath.Join(dir, LiteratureFile),
		filepath.Join(dir, IdeaFile),
	}, idea)

	_, err = g.Method(ctx, p)
	require.NoError(t, err)
	_, err = g.Results(ctx, p)
	require.NoError(t, err)
	paper, err := g.Paper(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, PaperJSONFile), filepath.Join(dir, PaperTeXFile)}, paper)

	tex, err := os.ReadFile(filepath.Join(dir, PaperTeXFile))
	require.NoError(t, err)
	assert.Contains(t, string(tex), `\title{Sparse Attention at Scale}`)
	assert.Contains(t, string(tex), `Attention is 100\% quadratic.`)
	// the model gave no references, so the collected papers are used
	assert.Contains(t, string(tex), `\bibitem{beltagy2020longformer} Iz Beltagy. \emph{Longformer: The Long-Document Transformer}. arXiv. 2020. \url{https://doi.org/10.48550/arXiv.2004.05150}`)

	idea0, err := os.ReadFile(filepath.Join(dir, IdeaFile))
	require.NoError(t, err)
	assert.Equal(t, "## Title\nWindowed attention\n", string(idea0))

	require.Len(t, m.prompts, 5)
	assert.Contains(t, m.prompts[1], "Longformer [Beltagy, 2020]", "idea prompt carries the review")
	assert.Contains(t, m.prompts[2], "Windowed attention", "method prompt carries the idea")
	assert.Contains(t, m.prompts[3], "Compare windows.")
	assert.Contains(t, m.prompts[4], "[TO BE MEASURED]")
	assert.Contains(t, m.prompts[4], "PG-19")
}

func TestIdeaWithoutLiterature(t *testing.T) {
	m := newStageModel()
	g := NewLLM(m, WithLiterature(fakeSearcher{err: errors.New("offline")}, 5))
	out, err := g.Idea(context.Background(), Project{Dir: t.TempDir(), Request: "x"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, m.prompts, 1)
	assert.Contains(t, m.prompts[0], "(none)")
	assert.Contains(t, m.prompts[0], "(not provided)")
}

func TestStageNeedsPreviousArtifact(t *testing.T) {
	g := NewLLM(newStageModel())
	_, err := g.Results(context.Background(), Project{Dir: t.TempDir(), Request: "x"})
	require.ErrorIs(t, err, ErrMissingArtifact)
	assert.Contains(t, err.Error(), IdeaFile)
}

func TestModelErrorNamesStage(t *testing.T) {
	m := newStageModel()
	m.err = errors.New("rate limited")
	_, err := NewLLM(m).Idea(context.Background(), Project{Dir: t.TempDir(), Request: "x"})
	require.Error(t, err)
	assert.Equal(t, "idea stage: rate limited", err.Error())
}

func TestParsePaper(t *testing.T) {
	p, err := ParsePaper(paperReply)
	require.NoError(t, err)
	assert.Equal(t, "Sparse Attention at Scale", p.Title)
	require.Len(t, p.Sections, 1)

	_, err = ParsePaper(`{"title": "No sections"}`)
	assert.Error(t, err)
	_, err = ParsePaper("not json")
	assert.Error(t, err)
}
