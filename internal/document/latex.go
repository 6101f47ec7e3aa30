package document

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	"github.com/nikolalohinski/gonja/exec"
)

// Paper is the structured paper produced by the final generator stage.
type Paper struct {
	Title      string         `json:"title"`
	Authors    []string       `json:"authors"`
	Abstract   string         `json:"abstract"`
	Keywords   []string       `json:"keywords"`
	Sections   []PaperSection `json:"sections"`
	References []Reference    `json:"references"`
	Date       string         `json:"date,omitempty"`
}

type PaperSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Reference struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Year    int      `json:"year"`
	Venue   string   `json:"venue"`
	URL     string   `json:"url"`
}

const latexTemplate = `\documentclass[11pt]{article}
\usepackage[utf8]{inputenc}
\usepackage[T1]{fontenc}
\usepackage{hyperref}
\usepackage{url}

{{ title|safe }}
{{ author|safe }}
{{ date|safe }}

\begin{document}
\maketitle
{% if abstract %}
\begin{abstract}
{{ abstract|safe }}
\end{abstract}
{% endif %}{% if keywords %}
\noindent\textbf{Keywords:} {{ keywords|safe }}
{% endif %}{% for section in sections %}
{{ section.heading|safe }}

{{ section.body|safe }}
{% endfor %}{% if references %}
\begin{thebibliography}{99}
{% for ref in references %}{{ ref|safe }}
{% endfor %}\end{thebibliography}
{% endif %}
\end{document}
`

var (
	latexOnce sync.Once
	latexTpl  *exec.Template
	latexErr  error
)

func compiledTemplate() (*exec.Template, error) {
	latexOnce.Do(func() {
		env := gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		latexTpl, latexErr = env.FromString(latexTemplate)
		if latexErr != nil {
			latexErr = fmt.Errorf("parse latex template: %w", latexErr)
		}
	})
	return latexTpl, latexErr
}

// RenderLaTeX renders p as a standalone article. All text is escaped; the
// bibliography is omitted when there are no references.
func RenderLaTeX(p Paper) (string, error) {
	if strings.TrimSpace(p.Title) == "" {
		return "", errors.New("paper title is required")
	}
	if len(p.Sections) == 0 {
		return "", errors.New("paper has no sections")
	}
	tpl, err := compiledTemplate()
	if err != nil {
		return "", err
	}

	date := `\date{\today}`
	if p.Date != "" {
		date = command("date", p.Date)
	}
	sections := make([]map[string]any, 0, len(p.Sections))
	for _, s := range p.Sections {
		sections = append(sections, map[string]any{
			"heading": command("section", s.Title),
			"body":    paragraphs(s.Content),
		})
	}
	refs := make([]string, 0, len(p.References))
	for i, r := range p.References {
		refs = append(refs, bibItem(i, r))
	}

	out, err := tpl.Execute(map[string]any{
		"title":      command("title", p.Title),
		"author":     `\author{` + strings.Join(escapeAll(p.Authors), ` \and `) + "}",
		"date":       date,
		"abstract":   paragraphs(p.Abstract),
		"keywords":   strings.Join(escapeAll(p.Keywords), ", "),
		"sections":   sections,
		"references": refs,
	})
	if err != nil {
		return "", fmt.Errorf("render latex: %w", err)
	}
	return out, nil
}

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`{`, `\{`,
	`}`, `\}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// EscapeLaTeX escapes the characters LaTeX treats specially.
func EscapeLaTeX(s string) string {
	return latexEscaper.Replace(s)
}

func escapeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, EscapeLaTeX(s))
		}
	}
	return out
}

// command renders \name{arg} with arg escaped.
func command(name, arg string) string {
	return `\` + name + "{" + EscapeLaTeX(strings.TrimSpace(arg)) + "}"
}

// paragraphs escapes text and keeps blank-line paragraph breaks.
func paragraphs(text string) string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, EscapeLaTeX(p))
		}
	}
	return strings.Join(out, "\n\n")
}

func bibItem(i int, r Reference) string {
	key := strings.Map(func(c rune) rune {
		if c < 0x80 && (unicode.IsLetter(c) || unicode.IsDigit(c) || strings.ContainsRune(":-_.", c)) {
			return c
		}
		return -1
	}, r.Key)
	if key == "" {
		key = fmt.Sprintf("ref%d", i+1)
	}
	var parts []string
	if authors := escapeAll(r.Authors); len(authors) > 0 {
		parts = append(parts, strings.Join(authors, ", "))
	}
	if t := strings.TrimSpace(r.Title); t != "" {
		parts = append(parts, `\emph{`+EscapeLaTeX(t)+`}`)
	}
	if v := strings.TrimSpace(r.Venue); v != "" {
		parts = append(parts, EscapeLaTeX(v))
	}
	if r.Year > 0 {
		parts = append(parts, fmt.Sprint(r.Year))
	}
	line := `\bibitem{` + key + "} " + strings.Join(parts, ". ") + "."
	if u := strings.TrimSpace(r.URL); u != "" {
		line += ` \url{` + u + "}"
	}
	return line
}
