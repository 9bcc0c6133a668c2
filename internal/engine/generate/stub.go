package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Stub derives a document from the prompt text without any model. Each
// sentence of the source becomes a component; revisions append one.
type Stub struct{}

func (Stub) Generate(_ context.Context, in Input) (Output, error) {
	var doc Document
	diff := "initial draft"
	if len(in.PreviousDraft) > 0 && strings.TrimSpace(in.Instruction) != "" {
		if err := json.Unmarshal(in.PreviousDraft, &doc); err != nil {
			return Output{}, fmt.Errorf("previous draft: %w", err)
		}
		name := componentName(in.Instruction)
		doc.Components = append(doc.Components, Component{Name: name, Description: strings.TrimSpace(in.Instruction)})
		doc.Revisions = append(doc.Revisions, strings.TrimSpace(in.Instruction))
		diff = fmt.Sprintf("added component %s", name)
	} else {
		src := Source(in)
		doc = Document{Kind: in.Kind, Title: in.Title, Summary: firstLine(src)}
		for _, sentence := range sentences(src) {
			doc.Components = append(doc.Components, Component{Name: componentName(sentence), Description: sentence})
		}
	}
	doc.ContextPacks = doc.ContextPacks[:0]
	for _, p := range in.Packs {
		doc.ContextPacks = append(doc.ContextPacks, p.Name+"@"+p.Version)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Draft:               data,
		RequirementsSummary: fmt.Sprintf("%d components from %d source artifacts", len(doc.Components), len(in.Artifacts)),
		DiffSummary:         diff,
	}, nil
}

func sentences(text string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '\n' || r == ';' }) {
		if s = strings.TrimSpace(s); len(strings.Fields(s)) >= 2 {
			out = append(out, s)
		}
	}
	return out
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(line)
}

// componentName builds a kebab-case name from the first three words.
func componentName(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) > 3 {
		words = words[:3]
	}
	if len(words) == 0 {
		return "component"
	}
	return strings.Join(words, "-")
}

// StubTranscriber treats UTF-8 text uploads as their own transcript, which keeps
// local runs and tests deterministic.
type StubTranscriber struct{}

func (StubTranscriber) Transcribe(_ context.Context, audio []byte, mimeType, _ string) (string, error) {
	if utf8.Valid(audio) {
		return strings.TrimSpace(string(audio)), nil
	}
	return fmt.Sprintf("[%d bytes of %s audio]", len(audio), mimeType), nil
}
