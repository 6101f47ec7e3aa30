// Package document turns written sections into the final paper: a Markdown
// assembly in outline order and a LaTeX rendering of the generated paper.
package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/paperflow/internal/outline"
)

const maxSlugLen = 48

// Slug lowercases title and joins its alphanumeric runs with underscores.
func Slug(title string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	s := b.String()
	if r := []rune(s); len(r) > maxSlugLen {
		s = strings.TrimRight(string(r[:maxSlugLen]), "_")
	}
	if s == "" {
		return "section"
	}
	return s
}

// SectionFileName is the file name a section is written to, e.g. 03_related_work.md.
func SectionFileName(order int, title string) string {
	return fmt.Sprintf("%02d_%s.md", order, Slug(title))
}

// Document is an assembled Markdown paper.
type Document struct {
	Markdown string   `json:"markdown"`
	Included []string `json:"included"`
	Missing  []string `json:"missing,omitempty"`
}

// Assemble concatenates the section files under dir in outline order. A
// section without a file gets a placeholder so the gap stays visible.
func Assemble(o *outline.Outline, dir string) (*Document, error) {
	if err := outline.Validate(o); err != nil {
		return nil, err
	}
	sorted := *o
	sorted.Sections = append([]outline.Section(nil), o.Sections...)
	sorted.Sort()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSpace(sorted.Title))
	if a := strings.TrimSpace(sorted.Abstract); a != "" {
		fmt.Fprintf(&b, "## Abstract\n\n%s\n\n", a)
	}

	doc := &Document{}
	for _, s := range sorted.Sections {
		path, err := findSection(dir, s)
		if err != nil {
			return nil, err
		}
		if path == "" {
			doc.Missing = append(doc.Missing, SectionFileName(s.Order, s.Title))
			b.WriteString(placeholder(s))
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", path, err)
		}
		body := strings.TrimSpace(string(raw))
		if !strings.HasPrefix(body, "#") {
			body = fmt.Sprintf("## %s\n\n%s", s.Title, body)
		}
		b.WriteString(body)
		b.WriteString("\n\n")
		doc.Included = append(doc.Included, filepath.Base(path))
	}
	doc.Markdown = strings.TrimRight(b.String(), "\n") + "\n"
	return doc, nil
}

// findSection prefers the exact file name and falls back to any NN_*.md file
// for the same order, since writers do not always slug titles the same way.
func findSection(dir string, s outline.Section) (string, error) {
	exact := filepath.Join(dir, SectionFileName(s.Order, s.Title))
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", exact, err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%02d_*.md", s.Order)))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

func placeholder(s outline.Section) string {
	return fmt.Sprintf("## %s\n\n> [Section %d not yet written: %s]\n\n", s.Title, s.Order, strings.TrimSpace(s.Description))
}
