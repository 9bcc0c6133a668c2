// Package generate produces and checks draft documents for the reference backend.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"xynconsole/internal/domain"
)

// Input is everything a generator may draw on for one job.
type Input struct {
	Kind          string
	Title         string
	Prompt        string
	Artifacts     []domain.SourceArtifact
	Packs         []domain.ContextPackSummary
	PreviousDraft json.RawMessage
	Instruction   string
}

// Output is a generated draft plus its summaries.
type Output struct {
	Draft               json.RawMessage
	RequirementsSummary string
	DiffSummary         string
}

type Generator interface {
	Generate(ctx context.Context, in Input) (Output, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, languageCode string) (string, error)
}

// Document is the draft shape the reference backend writes and validates.
type Document struct {
	Kind         string      `json:"kind"`
	Title        string      `json:"title"`
	Summary      string      `json:"summary"`
	Components   []Component `json:"components"`
	ContextPacks []string    `json:"context_packs,omitempty"`
	Revisions    []string    `json:"revisions,omitempty"`
}

type Component struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate returns the problems that block submission of doc.
func Validate(kind string, doc json.RawMessage) []string {
	var d Document
	if err := json.Unmarshal(doc, &d); err != nil {
		return []string{fmt.Sprintf("draft is not a valid document: %v", err)}
	}
	var problems []string
	if strings.TrimSpace(d.Title) == "" {
		problems = append(problems, "draft title is required")
	}
	if len(d.Components) == 0 {
		problems = append(problems, "draft has no components")
	}
	for i, c := range d.Components {
		if strings.TrimSpace(c.Name) == "" {
			problems = append(problems, fmt.Sprintf("component %d has no name", i+1))
		}
	}
	if d.Kind != "" && d.Kind != kind {
		problems = append(problems, fmt.Sprintf("draft kind %s does not match session kind %s", d.Kind, kind))
	}
	return problems
}

// Source joins the prompt and artifact contents into one text.
func Source(in Input) string {
	parts := []string{strings.TrimSpace(in.Prompt)}
	for _, a := range in.Artifacts {
		if c := strings.TrimSpace(a.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
