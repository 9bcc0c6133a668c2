package submit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xynconsole/internal/domain"
)

type recordingAPI struct {
	updates   []domain.DraftSessionUpdate
	submits   []domain.SubmitRequest
	submitErr error
}

func (r *recordingAPI) UpdateDraftSession(_ context.Context, _ string, u domain.DraftSessionUpdate) error {
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingAPI) SubmitDraftSession(_ context.Context, _ string, req domain.SubmitRequest) (domain.SubmitResult, error) {
	r.submits = append(r.submits, req)
	if r.submitErr != nil {
		return domain.SubmitResult{}, r.submitErr
	}
	return domain.SubmitResult{Status: "submitted", EntityType: "solution", EntityID: "sol-1"}, nil
}

var catalog = []domain.ContextPackSummary{
	{ID: "cp-sec", Name: "security-baseline", Scope: domain.ScopeGlobal},
	{ID: "cp-plan", Name: "platform-planner", Scope: domain.ScopeGlobal},
}

func readySession() domain.DraftSession {
	return domain.DraftSession{
		ID:                 "s1",
		Kind:               domain.KindSolution,
		InitialPrompt:      "Build X",
		Status:             domain.StatusReady,
		HasGeneratedOutput: true,
	}
}

func TestCanSubmit(t *testing.T) {
	s := readySession()
	assert.True(t, CanSubmit(s))
	s.ValidationErrors = []string{"missing port"}
	assert.False(t, CanSubmit(s))
	s = readySession()
	s.HasGeneratedOutput = false
	assert.False(t, CanSubmit(s))
}

func TestMissingRequiredPackRejectedWithoutCalls(t *testing.T) {
	api := &recordingAPI{}
	g := Gate{API: api}
	_, err := g.Submit(context.Background(), Request{
		Session:           readySession(),
		RequiredPackNames: []string{"security-baseline"},
		Catalog:           catalog,
		Target:            Target{Namespace: "payments", Name: "ledger"},
	})
	var missing *MissingPacksError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"security-baseline"}, missing.Names)
	assert.Empty(t, api.updates)
	assert.Empty(t, api.submits)
}

func TestLocalPreconditions(t *testing.T) {
	api := &recordingAPI{}
	g := Gate{API: api}
	ctx := context.Background()

	s := readySession()
	s.ValidationErrors = []string{"bad"}
	_, err := g.Submit(ctx, Request{Session: s, Target: Target{Namespace: "n", Name: "p"}})
	assert.ErrorIs(t, err, ErrNotSubmittable)

	s = readySession()
	s.InitialPrompt = "   "
	_, err = g.Submit(ctx, Request{Session: s, Target: Target{Namespace: "n", Name: "p"}})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = g.Submit(ctx, Request{Session: readySession(), Target: Target{Namespace: "n"}})
	assert.ErrorIs(t, err, ErrMissingTarget)

	assert.Empty(t, api.updates)
	assert.Empty(t, api.submits)
}

func TestSubmitUpdatesPlacementThenSubmits(t *testing.T) {
	api := &recordingAPI{}
	g := Gate{API: api}
	s := readySession()
	s.SelectedContextPackIDs = []string{"cp-sec", "cp-plan"}
	s.SourceArtifacts = []domain.SourceArtifact{{Type: domain.ArtifactAudioTranscript, Content: "hi"}}

	res, err := g.Submit(context.Background(), Request{
		Session:           s,
		RequiredPackNames: []string{"security-baseline"},
		Catalog:           catalog,
		Target:            Target{Namespace: " payments ", Name: "ledger", GenerateCode: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "sol-1", res.EntityID)

	require.Len(t, api.updates, 1)
	assert.Equal(t, "payments", *api.updates[0].Namespace)
	assert.Equal(t, "ledger", *api.updates[0].ProjectKey)
	assert.Nil(t, api.updates[0].InitialPrompt)

	require.Len(t, api.submits, 1)
	assert.Equal(t, "Build X", api.submits[0].InitialPrompt)
	assert.Equal(t, []string{"cp-sec", "cp-plan"}, api.submits[0].SelectedContextPackIDs)
	assert.Len(t, api.submits[0].SourceArtifacts, 1)
	assert.True(t, api.submits[0].GenerateCode)
}

func TestBlueprintNeverGeneratesCode(t *testing.T) {
	api := &recordingAPI{}
	s := readySession()
	s.Kind = domain.KindBlueprint
	_, err := Gate{API: api}.Submit(context.Background(), Request{
		Session: s,
		Target:  Target{Namespace: "n", Name: "p", GenerateCode: true},
	})
	require.NoError(t, err)
	require.Len(t, api.submits, 1)
	assert.False(t, api.submits[0].GenerateCode)
}

func TestPartialFailureIsReported(t *testing.T) {
	cause := errors.New("backend down")
	api := &recordingAPI{submitErr: cause}
	_, err := Gate{API: api}.Submit(context.Background(), Request{
		Session: readySession(),
		Target:  Target{Namespace: "n", Name: "p"},
	})
	var partial *PartialSubmitError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "n", partial.Namespace)
	assert.ErrorIs(t, err, cause)
	assert.Len(t, api.updates, 1)
}
