package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cloudwego/eino/adk/middlewares/filesystem"
)

var (
	// ErrOutsideWorkspace rejects paths that climb out of the workspace root.
	ErrOutsideWorkspace = errors.New("path escapes the workspace")
	ErrNotFound         = errors.New("file not found")
)

const (
	maxGrepMatches  = 200
	maxGrepFileSize = 2 << 20
)

// Workspace is an OS directory exposed to agents as a virtual tree rooted at
// "/". Relative paths, virtual absolute paths and real absolute paths under
// the root all resolve to the same file.
type Workspace struct {
	root string
	mu   sync.Mutex
}

var _ filesystem.Backend = (*Workspace)(nil)

// Entry is one directory listing row.
type Entry struct {
	Path  string
	IsDir bool
	Size  int64
}

func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string { return w.root }

// Resolve maps p to an OS path inside the root.
func (w *Workspace) Resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(w.root, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.Join(w.root, rel), nil
		}
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(filepath.ToSlash(p), "/")))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	if rel == "." {
		return w.root, nil
	}
	return filepath.Join(w.root, rel), nil
}

// Virtual renders an OS path under the root as "/rel/path".
func (w *Workspace) Virtual(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

// ReadFile returns the whole file content.
func (w *Workspace) ReadFile(p string) (string, error) {
	abs, err := w.Resolve(p)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, w.Virtual(abs))
		}
		return "", err
	}
	return string(b), nil
}

// Exists reports whether p names an existing file or directory.
func (w *Workspace) Exists(p string) bool {
	abs, err := w.Resolve(p)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// WriteFile creates parent directories and overwrites p.
func (w *Workspace) WriteFile(p, content string) (int, error) {
	abs, err := w.Resolve(p)
	if err != nil {
		return 0, err
	}
	if abs == w.root {
		return 0, fmt.Errorf("cannot write to the workspace root")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return 0, err
	}
	return len(content), nil
}

// EditFile replaces oldString with newString and returns the replacement count.
// Without replaceAll, oldString must occur exactly once.
func (w *Workspace) EditFile(p, oldString, newString string, replaceAll bool) (int, error) {
	if oldString == "" {
		return 0, fmt.Errorf("old_string must be non-empty")
	}
	if oldString == newString {
		return 0, fmt.Errorf("old_string and new_string are identical")
	}
	abs, err := w.Resolve(p)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, w.Virtual(abs))
		}
		return 0, err
	}
	content := string(b)
	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return 0, fmt.Errorf("old_string not found in %s", w.Virtual(abs))
	case count > 1 && !replaceAll:
		return 0, fmt.Errorf("old_string occurs %d times in %s; pass replace_all or add context to make it unique", count, w.Virtual(abs))
	}
	if replaceAll {
		content = strings.ReplaceAll(content, oldString, newString)
	} else {
		content = strings.Replace(content, oldString, newString, 1)
		count = 1
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return 0, err
	}
	return count, nil
}

// List returns the immediate children of dir, sorted by path.
func (w *Workspace) List(dir string) ([]Entry, error) {
	abs, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, w.Virtual(abs))
		}
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		e := Entry{Path: w.Virtual(filepath.Join(abs, de.Name())), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil && !de.IsDir() {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Glob matches pattern (with ** support) below dir and returns sorted virtual paths.
func (w *Workspace) Glob(pattern, dir string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	base, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	pattern = strings.TrimLeft(pattern, "/")
	matches, err := doublestar.Glob(os.DirFS(base), pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, w.Virtual(filepath.Join(base, filepath.FromSlash(m))))
	}
	sort.Strings(out)
	return out, nil
}

// Grep scans text files below dir for re. glob filters on the path relative
// to dir; a glob without "/" is matched against the base name. The bool
// result reports truncation at the match cap.
func (w *Workspace) Grep(ctx context.Context, re *regexp.Regexp, dir, glob string) ([]filesystem.GrepMatch, bool, error) {
	base, err := w.Resolve(dir)
	if err != nil {
		return nil, false, err
	}
	if glob != "" && !doublestar.ValidatePattern(glob) {
		return nil, false, fmt.Errorf("invalid glob pattern %q", glob)
	}
	info, err := os.Stat(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, w.Virtual(base))
		}
		return nil, false, err
	}

	var matches []filesystem.GrepMatch
	truncated := false
	visit := func(p string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if glob != "" {
			target := filepath.Base(p)
			if p != base && strings.Contains(glob, "/") {
				rel, _ := filepath.Rel(base, p)
				target = filepath.ToSlash(rel)
			}
			if ok, _ := doublestar.Match(glob, target); !ok {
				return nil
			}
		}
		found, err := grepFile(p, re, maxGrepMatches-len(matches))
		if err != nil {
			return nil
		}
		for _, m := range found {
			m.Path = w.Virtual(p)
			matches = append(matches, m)
		}
		if len(matches) >= maxGrepMatches {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	}

	if !info.IsDir() {
		err = visit(base)
	} else {
		err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != base && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			return visit(p)
		})
	}
	if err != nil {
		return nil, false, err
	}
	return matches, truncated, nil
}

func grepFile(p string, re *regexp.Regexp, limit int) ([]filesystem.GrepMatch, error) {
	info, err := os.Stat(p)
	if err != nil || info.Size() > maxGrepFileSize {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, nil
	}
	var out []filesystem.GrepMatch
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxGrepFileSize)
	line := 0
	for sc.Scan() {
		line++
		if re.MatchString(sc.Text()) {
			out = append(out, filesystem.GrepMatch{Line: line, Content: sc.Text()})
			if len(out) >= limit {
				break
			}
		}
	}
	return out, sc.Err()
}

// numberLines renders lines [offset, offset+limit) with 1-based numbers.
func numberLines(content string, offset, limit int) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return ""
	}
	end := offset + limit
	if limit <= 0 || end > len(lines) {
		end = len(lines)
	}
	var sb strings.Builder
	for i := offset; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s", i+1, lines[i])
		if i < end-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// LsInfo implements filesystem.Backend.
func (w *Workspace) LsInfo(_ context.Context, req *filesystem.LsInfoRequest) ([]filesystem.FileInfo, error) {
	entries, err := w.List(req.Path)
	if err != nil {
		return nil, err
	}
	out := make([]filesystem.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, filesystem.FileInfo{Path: e.Path})
	}
	return out, nil
}

// Read implements filesystem.Backend.
func (w *Workspace) Read(_ context.Context, req *filesystem.ReadRequest) (string, error) {
	content, err := w.ReadFile(req.FilePath)
	if err != nil {
		return "", err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	return numberLines(content, req.Offset, limit), nil
}

// GrepRaw implements filesystem.Backend; the pattern is literal.
func (w *Workspace) GrepRaw(ctx context.Context, req *filesystem.GrepRequest) ([]filesystem.GrepMatch, error) {
	re, err := regexp.Compile(regexp.QuoteMeta(req.Pattern))
	if err != nil {
		return nil, err
	}
	matches, _, err := w.Grep(ctx, re, req.Path, req.Glob)
	return matches, err
}

// GlobInfo implements filesystem.Backend.
func (w *Workspace) GlobInfo(_ context.Context, req *filesystem.GlobInfoRequest) ([]filesystem.FileInfo, error) {
	paths, err := w.Glob(req.Pattern, req.Path)
	if err != nil {
		return nil, err
	}
	out := make([]filesystem.FileInfo, 0, len(paths))
	for _, p := range paths {
		out = append(out, filesystem.FileInfo{Path: p})
	}
	return out, nil
}

// Write implements filesystem.Backend.
func (w *Workspace) Write(_ context.Context, req *filesystem.WriteRequest) error {
	_, err := w.WriteFile(req.FilePath, req.Content)
	return err
}

// Edit implements filesystem.Backend.
func (w *Workspace) Edit(_ context.Context, req *filesystem.EditRequest) error {
	_, err := w.EditFile(req.FilePath, req.OldString, req.NewString, req.ReplaceAll)
	return err
}

// Files lists every regular file below the root as sorted virtual paths,
// skipping hidden directories.
func (w *Workspace) Files() ([]string, error) {
	var out []string
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != w.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			out = append(out, w.Virtual(p))
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}
