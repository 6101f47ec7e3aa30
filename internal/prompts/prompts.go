// Package prompts holds the instruction text for every agent role and the
// stage prompts of the paper generator. Templates use python-style {field}
// placeholders; literal braces are doubled.
package prompts

import (
	"fmt"
	"sort"

	"github.com/slongfield/pyfmt"
)

// Role names an agent persona.
type Role string

const (
	Planner      Role = "planner"
	Researcher   Role = "researcher"
	Writer       Role = "writer"
	Critic       Role = "critic"
	Orchestrator Role = "orchestrator"
)

// Stage names a paper generator step.
type Stage string

const (
	StageLiterature Stage = "literature"
	StageIdea       Stage = "idea"
	StageMethod     Stage = "method"
	StageResults    Stage = "results"
	StagePaper      Stage = "paper"
)

var instructions = map[Role]string{
	Planner:      plannerInstruction,
	Researcher:   researcherInstruction,
	Writer:       writerInstruction,
	Critic:       criticInstruction,
	Orchestrator: orchestratorInstruction,
}

var descriptions = map[Role]string{
	Planner:    "Designs the paper outline from the research request and literature notes, and writes outline.json.",
	Researcher: "Searches the literature for one section or question, reads sources and writes research notes with citations.",
	Writer:     "Writes or revises one paper section in Markdown from the outline entry and the research notes.",
	Critic:     "Reviews a drafted section against its outline entry and notes, and writes a structured critique.",
}

var stages = map[Stage]string{
	StageLiterature: literaturePrompt,
	StageIdea:       ideaPrompt,
	StageMethod:     methodPrompt,
	StageResults:    resultsPrompt,
	StagePaper:      paperPrompt,
}

// Instruction returns the raw instruction template for role.
func Instruction(role Role) (string, error) {
	s, ok := instructions[role]
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return s, nil
}

// Description is the one-line summary advertised to the orchestrator.
func Description(role Role) string {
	return descriptions[role]
}

// SubAgentRoles lists the delegatable roles in a stable order.
func SubAgentRoles() []Role {
	out := make([]Role, 0, len(descriptions))
	for r := range descriptions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StagePrompt returns the raw template for a generator stage.
func StagePrompt(stage Stage) (string, error) {
	s, ok := stages[stage]
	if !ok {
		return "", fmt.Errorf("unknown stage %q", stage)
	}
	return s, nil
}

// Render fills {placeholders} in tmpl. A placeholder without a value is an error.
func Render(tmpl string, vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	out, err := pyfmt.Fmt(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}

// RenderInstruction is Instruction followed by Render.
func RenderInstruction(role Role, vars map[string]any) (string, error) {
	tmpl, err := Instruction(role)
	if err != nil {
		return "", err
	}
	return Render(tmpl, vars)
}

// RenderStage is StagePrompt followed by Render.
func RenderStage(stage Stage, vars map[string]any) (string, error) {
	tmpl, err := StagePrompt(stage)
	if err != nil {
		return "", err
	}
	return Render(tmpl, vars)
}
