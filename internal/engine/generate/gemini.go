package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var errEmptyResponse = errors.New("gemini: empty response")

// Gemini generates drafts and transcripts with the Gemini API.
type Gemini struct {
	cli   *genai.Client
	model string
}

// NewGemini builds a client; an empty apiKey lets genai read GEMINI_API_KEY.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{cli: cli, model: model}, nil
}

const draftInstructions = `You write service specification drafts. Reply with one JSON object:
{"kind": string, "title": string, "summary": string, "components": [{"name": kebab-case string, "description": string}]}.
Honor the conventions of the listed context packs.`

func (g *Gemini) Generate(ctx context.Context, in Input) (Output, error) {
	var b strings.Builder
	b.WriteString(draftInstructions)
	fmt.Fprintf(&b, "\n\nKind: %s\nTitle: %s\n", in.Kind, in.Title)
	for _, p := range in.Packs {
		fmt.Fprintf(&b, "Context pack: %s@%s (%s)\n", p.Name, p.Version, p.Purpose)
	}
	if len(in.PreviousDraft) > 0 {
		fmt.Fprintf(&b, "\nCurrent draft:\n%s\n\nRevise it: %s\n", in.PreviousDraft, in.Instruction)
	} else {
		fmt.Fprintf(&b, "\nRequest:\n%s\n", Source(in))
	}
	txt, err := g.call(ctx, []*genai.Part{{Text: b.String()}}, "application/json")
	if err != nil {
		return Output{}, err
	}
	var doc Document
	if err := json.Unmarshal([]byte(txt), &doc); err != nil {
		return Output{}, fmt.Errorf("gemini draft: %w", err)
	}
	diff := "initial draft"
	if len(in.PreviousDraft) > 0 {
		diff = "revised: " + strings.TrimSpace(in.Instruction)
	}
	return Output{
		Draft:               json.RawMessage(txt),
		RequirementsSummary: doc.Summary,
		DiffSummary:         diff,
	}, nil
}

func (g *Gemini) Transcribe(ctx context.Context, audio []byte, mimeType, languageCode string) (string, error) {
	prompt := "Transcribe this audio verbatim. Reply with the transcript only."
	if languageCode != "" {
		prompt += " The speaker uses " + languageCode + "."
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	return g.call(ctx, []*genai.Part{
		{Text: prompt},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: audio}},
	}, "")
}

func (g *Gemini) call(ctx context.Context, parts []*genai.Part, responseMIME string) (string, error) {
	var cfg *genai.GenerateContentConfig
	if responseMIME != "" {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: responseMIME}
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model, []*genai.Content{{Role: "user", Parts: parts}}, cfg)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errEmptyResponse
	}
	var out strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}
	return strings.TrimSpace(out.String()), nil
}
