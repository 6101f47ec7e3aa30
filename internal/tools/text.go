package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/pkoukk/tiktoken-go"

	"github.com/mohammad-safakhou/paperflow/internal/outline"
)

// TokenCounter returns a token count, or false when no encoder is available.
type TokenCounter func(text string) (int, bool)

var (
	cl100kOnce sync.Once
	cl100k     *tiktoken.Tiktoken
)

// CL100KTokens counts cl100k_base tokens. The encoder is loaded on first use
// and may need network access; failure disables token counts.
func CL100KTokens(text string) (int, bool) {
	cl100kOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			cl100k = enc
		}
	})
	if cl100k == nil {
		return 0, false
	}
	return len(cl100k.Encode(text, nil, nil)), true
}

type validateJSONArgs struct {
	Path    string `json:"path,omitempty" jsonschema_description:"Workspace file to validate"`
	Content string `json:"content,omitempty" jsonschema_description:"Inline JSON to validate when no path is given"`
	Kind    string `json:"kind,omitempty" jsonschema:"enum=json,enum=outline" jsonschema_description:"outline additionally checks the paper outline structure"`
}

type ValidationReport struct {
	Valid    bool                 `json:"valid"`
	Kind     string               `json:"kind"`
	Errors   []outline.FieldError `json:"errors,omitempty"`
	Sections int                  `json:"sections,omitempty"`
}

type wordCountArgs struct {
	Path    string `json:"path,omitempty" jsonschema_description:"Workspace file to count"`
	Content string `json:"content,omitempty" jsonschema_description:"Inline text to count when no path is given"`
}

type WordCount struct {
	Words      int  `json:"words"`
	Lines      int  `json:"lines"`
	Characters int  `json:"characters"`
	Tokens     *int `json:"tokens,omitempty"`
}

type concatArgs struct {
	Paths     []string `json:"paths" jsonschema:"required" jsonschema_description:"Files to join, in order"`
	Output    string   `json:"output" jsonschema:"required" jsonschema_description:"File to write the joined document to"`
	Separator *string  `json:"separator,omitempty" jsonschema_description:"Text placed between documents (default two newlines)"`
}

type ConcatResult struct {
	Output string `json:"output"`
	Files  int    `json:"files"`
	Bytes  int    `json:"bytes"`
}

// sourceText returns the file content at path, or content when path is empty.
func sourceText(ws *Workspace, path, content string) (string, error) {
	if strings.TrimSpace(path) != "" {
		return ws.ReadFile(path)
	}
	if content == "" {
		return "", errors.New("either path or content is required")
	}
	return content, nil
}

// TextTools builds validate_json, word_count and concat_documents.
func TextTools(ws *Workspace, tokens TokenCounter) ([]tool.InvokableTool, error) {
	validate, err := utils.InferTool("validate_json",
		"Check that a file or inline text is well-formed JSON. With kind=outline it is also checked against the paper outline rules and every problem is listed.",
		func(ctx context.Context, in validateJSONArgs) (*ValidationReport, error) {
			text, err := sourceText(ws, in.Path, in.Content)
			if err != nil {
				return nil, err
			}
			return ValidateJSON(text, in.Kind), nil
		})
	if err != nil {
		return nil, err
	}

	count, err := utils.InferTool("word_count",
		"Count words, lines, characters and model tokens of a file or inline text.",
		func(ctx context.Context, in wordCountArgs) (*WordCount, error) {
			text, err := sourceText(ws, in.Path, in.Content)
			if err != nil {
				return nil, err
			}
			return CountText(text, tokens), nil
		})
	if err != nil {
		return nil, err
	}

	concat, err := utils.InferTool("concat_documents",
		"Concatenate workspace files in the given order into one output file.",
		func(ctx context.Context, in concatArgs) (*ConcatResult, error) {
			sep := "\n\n"
			if in.Separator != nil {
				sep = *in.Separator
			}
			return ConcatDocuments(ws, in.Paths, in.Output, sep)
		})
	if err != nil {
		return nil, err
	}
	return []tool.InvokableTool{validate, count, concat}, nil
}

// ValidateJSON reports syntax problems for any kind and outline rule
// violations for kind "outline".
func ValidateJSON(text, kind string) *ValidationReport {
	if kind == "" {
		kind = "json"
	}
	report := &ValidationReport{Kind: kind}
	var doc any
	if err := sonic.UnmarshalString(text, &doc); err != nil {
		report.Errors = []outline.FieldError{{Path: "/", Message: err.Error()}}
		return report
	}
	if kind != "outline" {
		report.Valid = true
		return report
	}
	o, err := outline.Parse([]byte(text))
	if err != nil {
		var ve outline.ValidationErrors
		if errors.As(err, &ve) {
			report.Errors = ve
		} else {
			report.Errors = []outline.FieldError{{Path: "/", Message: err.Error()}}
		}
		return report
	}
	report.Valid = true
	report.Sections = len(o.Sections)
	return report
}

func CountText(text string, tokens TokenCounter) *WordCount {
	wc := &WordCount{
		Words:      len(strings.Fields(text)),
		Characters: utf8.RuneCountInString(text),
	}
	if text != "" {
		wc.Lines = strings.Count(text, "\n") + 1
		if strings.HasSuffix(text, "\n") {
			wc.Lines--
		}
	}
	if tokens != nil {
		if n, ok := tokens(text); ok {
			wc.Tokens = &n
		}
	}
	return wc
}

// ConcatDocuments joins paths into output. Every input must exist.
func ConcatDocuments(ws *Workspace, paths []string, output, sep string) (*ConcatResult, error) {
	if len(paths) == 0 {
		return nil, errors.New("paths must not be empty")
	}
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		content, err := ws.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		parts = append(parts, strings.TrimRight(content, "\n"))
	}
	joined := strings.Join(parts, sep) + "\n"
	n, err := ws.WriteFile(output, joined)
	if err != nil {
		return nil, err
	}
	abs, _ := ws.Resolve(output)
	return &ConcatResult{Output: ws.Virtual(abs), Files: len(paths), Bytes: n}, nil
}
