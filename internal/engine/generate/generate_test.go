package generate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xynconsole/internal/domain"
)

func TestStubGeneratesValidDocument(t *testing.T) {
	out, err := Stub{}.Generate(context.Background(), Input{
		Kind:   domain.KindBlueprint,
		Title:  "orders",
		Prompt: "Accept orders over HTTP. Store orders in postgres.",
		Packs:  []domain.ContextPackSummary{{Name: "platform-planner", Version: "1.0.0"}},
	})
	require.NoError(t, err)
	assert.Empty(t, Validate(domain.KindBlueprint, out.Draft))

	var doc Document
	require.NoError(t, json.Unmarshal(out.Draft, &doc))
	require.Len(t, doc.Components, 2)
	assert.Equal(t, "accept-orders-over", doc.Components[0].Name)
	assert.Equal(t, []string{"platform-planner@1.0.0"}, doc.ContextPacks)
}

func TestStubRevisionAppendsComponent(t *testing.T) {
	first, err := Stub{}.Generate(context.Background(), Input{Kind: domain.KindSolution, Title: "t", Prompt: "Serve the catalog api"})
	require.NoError(t, err)
	out, err := Stub{}.Generate(context.Background(), Input{Kind: domain.KindSolution, PreviousDraft: first.Draft, Instruction: "Add a redis cache"})
	require.NoError(t, err)
	assert.Equal(t, "added component add-a-redis", out.DiffSummary)

	var doc Document
	require.NoError(t, json.Unmarshal(out.Draft, &doc))
	assert.Len(t, doc.Components, 2)
}

func TestValidateReportsProblems(t *testing.T) {
	assert.Equal(t, []string{"draft title is required", "draft has no components"},
		Validate(domain.KindBlueprint, json.RawMessage(`{"components":[]}`)))
	assert.Len(t, Validate(domain.KindBlueprint, json.RawMessage(`[1,2]`)), 1)
	assert.Equal(t, []string{"draft kind solution does not match session kind blueprint"},
		Validate(domain.KindBlueprint, json.RawMessage(`{"kind":"solution","title":"x","components":[{"name":"a"}]}`)))
}

func TestStubTranscriber(t *testing.T) {
	text, err := StubTranscriber{}.Transcribe(context.Background(), []byte(" add billing \n"), "text/plain", "en")
	require.NoError(t, err)
	assert.Equal(t, "add billing", text)

	text, err = StubTranscriber{}.Transcribe(context.Background(), []byte{0xff, 0xfe}, "audio/webm", "")
	require.NoError(t, err)
	assert.Equal(t, "[2 bytes of audio/webm audio]", text)
}
