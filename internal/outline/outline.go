package outline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed outline_schema.json
var outlineSchemaJSON string

// Outline is the ordered section plan of a paper.
type Outline struct {
	Title    string         `json:"title"`
	Abstract string         `json:"abstract,omitempty"`
	Sections []Section      `json:"sections"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Section is one top-level entry of the outline.
type Section struct {
	Title       string       `json:"title"`
	Order       int          `json:"order"`
	Description string       `json:"description"`
	TargetWords int          `json:"target_words,omitempty"`
	Subsections []Subsection `json:"subsections,omitempty"`
}

type Subsection struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// FieldError locates one validation failure. Path is a JSON pointer.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationErrors collects every problem found in an outline.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		path := e.Path
		if path == "" {
			path = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", path, e.Message))
	}
	return "invalid outline: " + strings.Join(parts, "; ")
}

var (
	compileOnce   sync.Once
	outlineSchema *jsonschema.Schema
	compileErr    error
)

// Schema returns the compiled outline JSON Schema.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("outline_schema.json", strings.NewReader(outlineSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		s, err := compiler.Compile("outline_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile outline schema: %w", err)
			return
		}
		outlineSchema = s
	})
	return outlineSchema, compileErr
}

// Load reads and parses an outline file.
func Load(path string) (*Outline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read outline %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates data and returns the outline with sections sorted by order.
func Parse(data []byte) (*Outline, error) {
	s, err := Schema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("outline is not valid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, flatten(ve)
		}
		return nil, err
	}

	var o Outline
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode outline: %w", err)
	}
	if err := Validate(&o); err != nil {
		return nil, err
	}
	o.Sort()
	return &o, nil
}

// Validate checks an outline built in code. Parse runs it after the schema.
func Validate(o *Outline) error {
	if o == nil {
		return ValidationErrors{{Message: "outline is nil"}}
	}
	var errs ValidationErrors
	if strings.TrimSpace(o.Title) == "" {
		errs = append(errs, FieldError{Path: "/title", Message: "title is required"})
	}
	if len(o.Sections) == 0 {
		errs = append(errs, FieldError{Path: "/sections", Message: "at least one section is required"})
	}
	seen := map[int]int{}
	for i, s := range o.Sections {
		base := fmt.Sprintf("/sections/%d", i)
		if strings.TrimSpace(s.Title) == "" {
			errs = append(errs, FieldError{Path: base + "/title", Message: "title is required"})
		}
		if strings.TrimSpace(s.Description) == "" {
			errs = append(errs, FieldError{Path: base + "/description", Message: "description is required"})
		}
		if s.Order < 1 {
			errs = append(errs, FieldError{Path: base + "/order", Message: "order must be >= 1"})
		} else if prev, dup := seen[s.Order]; dup {
			errs = append(errs, FieldError{Path: base + "/order", Message: fmt.Sprintf("order %d duplicates /sections/%d", s.Order, prev)})
		} else {
			seen[s.Order] = i
		}
		if s.TargetWords < 0 {
			errs = append(errs, FieldError{Path: base + "/target_words", Message: "target_words must be >= 0"})
		}
		for j, sub := range s.Subsections {
			if strings.TrimSpace(sub.Title) == "" {
				errs = append(errs, FieldError{Path: fmt.Sprintf("%s/subsections/%d/title", base, j), Message: "title is required"})
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Sort orders sections ascending by order; equal orders keep input order.
func (o *Outline) Sort() {
	sort.SliceStable(o.Sections, func(i, j int) bool { return o.Sections[i].Order < o.Sections[j].Order })
}

// Section returns the section with the given order.
func (o *Outline) Section(order int) (Section, bool) {
	for _, s := range o.Sections {
		if s.Order == order {
			return s, true
		}
	}
	return Section{}, false
}

// TotalTargetWords sums target_words across sections.
func (o *Outline) TotalTargetWords() int {
	total := 0
	for _, s := range o.Sections {
		total += s.TargetWords
	}
	return total
}

func flatten(ve *jsonschema.ValidationError) ValidationErrors {
	var out ValidationErrors
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, FieldError{Path: e.InstanceLocation, Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
