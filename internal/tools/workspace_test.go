package tools

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/cloudwego/eino/adk/middlewares/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestResolveStaysInsideRoot(t *testing.T) {
	ws := newWorkspace(t)

	for _, p := range []string{"sections/01_intro.md", "/sections/01_intro.md", "./sections/../sections/01_intro.md", filepath.Join(ws.Root(), "sections", "01_intro.md")} {
		abs, err := ws.Resolve(p)
		require.NoError(t, err, p)
		assert.Equal(t, filepath.Join(ws.Root(), "sections", "01_intro.md"), abs, p)
		assert.Equal(t, "/sections/01_intro.md", ws.Virtual(abs))
	}

	root, err := ws.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, ws.Root(), root)

	for _, p := range []string{"../secret", "/../../etc/passwd", "sections/../../x"} {
		_, err := ws.Resolve(p)
		assert.ErrorIs(t, err, ErrOutsideWorkspace, p)
	}
}

func TestWriteReadEdit(t *testing.T) {
	ws := newWorkspace(t)

	n, err := ws.WriteFile("research/notes.md", "alpha\nbeta\nalpha\n")
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.True(t, ws.Exists("research"))

	_, err = ws.ReadFile("missing.md")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ws.EditFile("research/notes.md", "alpha", "gamma", false)
	assert.ErrorContains(t, err, "occurs 2 times")

	_, err = ws.EditFile("research/notes.md", "delta", "gamma", false)
	assert.ErrorContains(t, err, "not found")

	_, err = ws.EditFile("research/notes.md", "", "gamma", false)
	assert.Error(t, err)

	count, err := ws.EditFile("research/notes.md", "alpha", "gamma", true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = ws.EditFile("research/notes.md", "beta", "delta", false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	content, err := ws.ReadFile("/research/notes.md")
	require.NoError(t, err)
	assert.Equal(t, "gamma\ndelta\ngamma\n", content)

	_, err = ws.WriteFile("/", "x")
	assert.Error(t, err)
}

func TestListGlobGrep(t *testing.T) {
	ws := newWorkspace(t)
	files := map[string]string{
		"outline.json":              `{"title": "T"}`,
		"sections/01_intro.md":      "# Introduction\nTransformers changed NLP.\n",
		"sections/02_method.md":     "# Method\nWe fine-tune transformers.\n",
		"research/02_method.md":     "notes on transformers\n",
		"research/deep/appendix.md": "nothing here\n",
	}
	for p, c := range files {
		_, err := ws.WriteFile(p, c)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "blob.bin"), []byte{0x00, 0x01, 't', 'r', 'a', 'n', 's'}, 0o644))

	entries, err := ws.List("/")
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/blob.bin", "/outline.json", "/research", "/sections"}, paths)
	assert.True(t, entries[2].IsDir)

	_, err = ws.List("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	matches, err := ws.Glob("**/*.md", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/research/02_method.md", "/research/deep/appendix.md", "/sections/01_intro.md", "/sections/02_method.md"}, matches)

	matches, err = ws.Glob("*.md", "sections")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	_, err = ws.Glob("[", "/")
	assert.Error(t, err)

	hits, truncated, err := ws.Grep(context.Background(), regexp.MustCompile(`(?i)transformers`), "/", "*.md")
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, hits, 3)
	assert.Equal(t, "/research/02_method.md", hits[0].Path)
	assert.Equal(t, 1, hits[0].Line)

	hits, _, err = ws.Grep(context.Background(), regexp.MustCompile(`tune`), "sections/02_method.md", "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Line)

	// a file path is matched against its own name
	hits, _, err = ws.Grep(context.Background(), regexp.MustCompile(`tune`), "sections/02_method.md", "*.md")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/sections/02_method.md", hits[0].Path)

	hits, _, err = ws.Grep(context.Background(), regexp.MustCompile(`tune`), "sections/02_method.md", "*.json")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGrepCapsMatches(t *testing.T) {
	ws := newWorkspace(t)
	var body []byte
	for i := 0; i < maxGrepMatches+50; i++ {
		body = append(body, "match\n"...)
	}
	_, err := ws.WriteFile("big.txt", string(body))
	require.NoError(t, err)

	hits, truncated, err := ws.Grep(context.Background(), regexp.MustCompile("match"), "/", "")
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, hits, maxGrepMatches)
}

func TestBackendContract(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()
	var b filesystem.Backend = ws

	require.NoError(t, b.Write(ctx, &filesystem.WriteRequest{FilePath: "/a.txt", Content: "one\ntwo\nthree"}))
	out, err := b.Read(ctx, &filesystem.ReadRequest{FilePath: "/a.txt", Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "     2\ttwo", out)

	require.NoError(t, b.Edit(ctx, &filesystem.EditRequest{FilePath: "/a.txt", OldString: "two", NewString: "2"}))
	grep, err := b.GrepRaw(ctx, &filesystem.GrepRequest{Pattern: "2", Path: "/"})
	require.NoError(t, err)
	require.Len(t, grep, 1)
	assert.Equal(t, "/a.txt", grep[0].Path)

	// literal pattern, not a regexp
	grep, err = b.GrepRaw(ctx, &filesystem.GrepRequest{Pattern: "t.o", Path: "/"})
	require.NoError(t, err)
	assert.Empty(t, grep)

	infos, err := b.GlobInfo(ctx, &filesystem.GlobInfoRequest{Pattern: "*.txt", Path: "/"})
	require.NoError(t, err)
	require.Len(t, infos, 1)

	ls, err := b.LsInfo(ctx, &filesystem.LsInfoRequest{Path: "/"})
	require.NoError(t, err)
	require.Len(t, ls, 1)
	assert.Equal(t, "/a.txt", ls[0].Path)
}

func TestNumberLines(t *testing.T) {
	assert.Equal(t, "     1\ta\n     2\tb", numberLines("a\nb", 0, 10))
	assert.Equal(t, "     3\tc", numberLines("a\nb\nc", 2, 0))
	assert.Equal(t, "", numberLines("a", 5, 10))
	assert.Equal(t, "     1\ta\n     2\tb", numberLines("a\nb\n", 0, 10))
	assert.Equal(t, "     1\ta\n     2\t", numberLines("a\n\n", 0, 10))
}
