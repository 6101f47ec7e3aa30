package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const defaultReadLimit = 2000

type readFileArgs struct {
	FilePath string `json:"path" jsonschema:"required" jsonschema_description:"Path of the file, relative to the workspace root or starting with /"`
	Offset   int    `json:"offset,omitempty" jsonschema_description:"0-based line to start reading from"`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum number of lines to return (default 2000)"`
}

type writeFileArgs struct {
	FilePath string `json:"path" jsonschema:"required" jsonschema_description:"Path of the file to create or overwrite"`
	Content  string `json:"content" jsonschema:"required" jsonschema_description:"Full file content"`
}

type editFileArgs struct {
	FilePath   string `json:"path" jsonschema:"required" jsonschema_description:"Path of the file to edit"`
	OldString  string `json:"old_string" jsonschema:"required" jsonschema_description:"Exact text to replace"`
	NewString  string `json:"new_string" jsonschema:"required" jsonschema_description:"Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema_description:"Replace every occurrence instead of requiring a unique match"`
}

type lsArgs struct {
	Path string `json:"path,omitempty" jsonschema_description:"Directory to list (default /)"`
}

type globArgs struct {
	Pattern string `json:"pattern" jsonschema:"required" jsonschema_description:"Glob pattern such as sections/*.md or **/*.json"`
	Path    string `json:"path,omitempty" jsonschema_description:"Directory to search from (default /)"`
}

type grepArgs struct {
	Pattern    string `json:"pattern" jsonschema:"required" jsonschema_description:"Regular expression (RE2 syntax)"`
	Path       string `json:"path,omitempty" jsonschema_description:"File or directory to search (default /)"`
	Glob       string `json:"glob,omitempty" jsonschema_description:"Only search files matching this glob, e.g. *.md"`
	OutputMode string `json:"output_mode,omitempty" jsonschema:"enum=content,enum=files_with_matches,enum=count" jsonschema_description:"content (default) prints path:line:text"`
}

// FileTools builds read_file, write_file, edit_file, ls, glob and grep over ws.
func FileTools(ws *Workspace) ([]tool.InvokableTool, error) {
	builders := []func(*Workspace) (tool.InvokableTool, error){
		newReadFileTool, newWriteFileTool, newEditFileTool, newLsTool, newGlobTool, newGrepTool,
	}
	out := make([]tool.InvokableTool, 0, len(builders))
	for _, b := range builders {
		t, err := b(ws)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func newReadFileTool(ws *Workspace) (tool.InvokableTool, error) {
	return utils.InferTool("read_file",
		"Read a text file from the workspace. Lines are numbered from 1. Use offset and limit to page through long files.",
		func(ctx context.Context, in readFileArgs) (string, error) {
			content, err := ws.ReadFile(in.FilePath)
			if err != nil {
				return "", err
			}
			if content == "" {
				return "(empty file)", nil
			}
			limit := in.Limit
			if limit <= 0 {
				limit = defaultReadLimit
			}
			out := numberLines(content, in.Offset, limit)
			if out == "" {
				return fmt.Sprintf("offset %d is past the end of the file", in.Offset), nil
			}
			return out, nil
		})
}

func newWriteFileTool(ws *Workspace) (tool.InvokableTool, error) {
	return utils.InferTool("write_file",
		"Create or overwrite a file in the workspace. Parent directories are created as needed.",
		func(ctx context.Context, in writeFileArgs) (string, error) {
			n, err := ws.WriteFile(in.FilePath, in.Content)
			if err != nil {
				return "", err
			}
			abs, _ := ws.Resolve(in.FilePath)
			return fmt.Sprintf("wrote %d bytes to %s", n, ws.Virtual(abs)), nil
		})
}

func newEditFileTool(ws *Workspace) (tool.InvokableTool, error) {
	return utils.InferTool("edit_file",
		"Replace text in an existing workspace file. old_string must match exactly and be unique unless replace_all is set.",
		func(ctx context.Context, in editFileArgs) (string, error) {
			n, err := ws.EditFile(in.FilePath, in.OldString, in.NewString, in.ReplaceAll)
			if err != nil {
				return "", err
			}
			abs, _ := ws.Resolve(in.FilePath)
			return fmt.Sprintf("replaced %d occurrence(s) in %s", n, ws.Virtual(abs)), nil
		})
}

func newLsTool(ws *Workspace) (tool.InvokableTool, error) {
	return utils.InferTool("ls",
		"List the files and directories directly inside a workspace directory. Directories end with /.",
		func(ctx context.Context, in lsArgs) (string, error) {
			entries, err := ws.List(in.Path)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "(empty directory)", nil
			}
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.IsDir {
					lines = append(lines, e.Path+"/")
					continue
				}
				lines = append(lines, fmt.Sprintf("%s (%d bytes)", e.Path, e.Size))
			}
			return strings.Join(lines, "\n"), nil
		})
}

func newGlobTool(ws *Workspace) (tool.InvokableTool, error) {
	return utils.InferTool("glob",
		"Find workspace files by glob pattern. Supports ** for any depth.",
		func(ctx context.Context, in globArgs) (string, error) {
			paths, err := ws.Glob(in.Pattern, in.Path)
			if err != nil {
				return "", err
			}
			if len(paths) == 0 {
				return "no files matched", nil
			}
			return strings.Join(paths, "\n"), nil
		})
}

func newGrepTool(ws *Workspace) (tool.InvokableTool, error) {
	return utils.InferTool("grep",
		fmt.Sprintf("Search workspace files with a regular expression. Returns at most %d matches.", maxGrepMatches),
		func(ctx context.Context, in grepArgs) (string, error) {
			re, err := regexp.Compile(in.Pattern)
			if err != nil {
				return "", fmt.Errorf("invalid pattern: %w", err)
			}
			matches, truncated, err := ws.Grep(ctx, re, in.Path, in.Glob)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "no matches", nil
			}
			var out []string
			switch in.OutputMode {
			case "files_with_matches":
				seen := map[string]bool{}
				for _, m := range matches {
					if !seen[m.Path] {
						seen[m.Path] = true
						out = append(out, m.Path)
					}
				}
			case "count":
				counts := map[string]int{}
				for _, m := range matches {
					counts[m.Path]++
				}
				for p, n := range counts {
					out = append(out, fmt.Sprintf("%s: %d", p, n))
				}
				sort.Strings(out)
			default:
				for _, m := range matches {
					out = append(out, fmt.Sprintf("%s:%d:%s", m.Path, m.Line, m.Content))
				}
			}
			if truncated {
				out = append(out, fmt.Sprintf("(results truncated at %d matches)", maxGrepMatches))
			}
			return strings.Join(out, "\n"), nil
		})
}
