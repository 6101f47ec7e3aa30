package literature

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// FormatReference renders one reference line:
// [n] Authors (Year). Title. Venue. <URL>
func FormatReference(n int, p Paper) string {
	parts := []string{fmt.Sprintf("[%d]", n)}
	if authors := formatAuthors(p.Authors); authors != "" {
		if p.Year > 0 {
			authors = fmt.Sprintf("%s (%d).", authors, p.Year)
		} else {
			authors += "."
		}
		parts = append(parts, authors)
	} else if p.Year > 0 {
		parts = append(parts, fmt.Sprintf("(%d).", p.Year))
	}
	if title := strings.TrimSpace(p.Title); title != "" {
		parts = append(parts, strings.TrimSuffix(title, ".")+".")
	}
	if venue := strings.TrimSpace(p.Venue); venue != "" {
		parts = append(parts, venue+".")
	}
	if link := referenceLink(p); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

// FormatReferences numbers papers from 1.
func FormatReferences(papers []Paper) []string {
	if len(papers) == 0 {
		return nil
	}
	out := make([]string, 0, len(papers))
	for i, p := range papers {
		out = append(out, FormatReference(i+1, p))
	}
	return out
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0]
	case 2:
		return authors[0] + " and " + authors[1]
	default:
		return authors[0] + " et al."
	}
}

func referenceLink(p Paper) string {
	if p.DOI != "" {
		return "https://doi.org/" + p.DOI
	}
	if u, err := url.Parse(strings.TrimSpace(p.URL)); err == nil && u.Host != "" {
		return u.String()
	}
	return ""
}

// CiteKey builds a BibTeX key such as vaswani2017attention.
func CiteKey(p Paper) string {
	var sb strings.Builder
	if len(p.Authors) > 0 {
		fields := strings.Fields(p.Authors[0])
		if len(fields) > 0 {
			sb.WriteString(alnum(fields[len(fields)-1]))
		}
	}
	if p.Year > 0 {
		sb.WriteString(fmt.Sprint(p.Year))
	}
	for _, w := range strings.Fields(p.Title) {
		w = alnum(w)
		if len(w) > 3 {
			sb.WriteString(w)
			break
		}
	}
	if sb.Len() == 0 {
		return "ref"
	}
	return sb.String()
}

func alnum(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// BibTeX renders an @article (or @misc without a venue) entry under key.
func BibTeX(key string, p Paper) string {
	kind := "article"
	if strings.TrimSpace(p.Venue) == "" {
		kind = "misc"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "@%s{%s,\n", kind, key)
	raw := func(name, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&sb, "  %s = {%s},\n", name, value)
		}
	}
	field := func(name, value string) { raw(name, bibEscape(value)) }
	field("title", p.Title)
	field("author", strings.Join(p.Authors, " and "))
	if p.Year > 0 {
		field("year", fmt.Sprint(p.Year))
	}
	if kind == "article" {
		field("journal", p.Venue)
	}
	raw("doi", p.DOI)
	raw("url", p.URL)
	sb.WriteString("}")
	return sb.String()
}

func bibEscape(s string) string {
	r := strings.NewReplacer("{", "\\{", "}", "\\}", "&", "\\&", "%", "\\%", "_", "\\_", "#", "\\#")
	return r.Replace(s)
}
