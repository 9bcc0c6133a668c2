package draft

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xynconsole/internal/domain"
	"xynconsole/internal/submit"
)

func newTestMachine(t *testing.T, api *fakeAPI, opts Options) *Machine {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	opts.Logger = log.New(io.Discard, "", 0)
	m, err := New(api, opts)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func (f *fakeAPI) lastUpdate() domain.DraftSessionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return domain.DraftSessionUpdate{}
	}
	return f.updates[len(f.updates)-1]
}

func readyBlueprint(id, prompt string) domain.DraftSession {
	return domain.DraftSession{
		ID:            id,
		Kind:          domain.KindBlueprint,
		Title:         "session " + id,
		InitialPrompt: prompt,
		Status:        domain.StatusReady,
	}
}

func TestGenerateLocksPromptAndPollsUntilSettled(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	require.NoError(t, m.Generate(ctx))
	v := m.View()
	assert.True(t, v.Session.InitialPromptLocked)
	assert.True(t, domain.IsInFlight(v.Session.Status))
	assert.True(t, v.Polling)
	require.NotNil(t, api.lastUpdate().InitialPrompt)
	assert.Equal(t, "Build X", *api.lastUpdate().InitialPrompt)
	assert.ErrorIs(t, m.SetPrompt("something else"), ErrPromptLocked)

	api.set("s1", func(s *domain.DraftSession) {
		s.Status = domain.StatusReady
		s.HasGeneratedOutput = true
		s.Draft = []byte(`{"services":[]}`)
	})
	require.Eventually(t, func() bool {
		v := m.View()
		return v.Session.Status == domain.StatusReady && !v.Polling
	}, time.Second, 5*time.Millisecond)

	v = m.View()
	assert.True(t, v.Session.HasGeneratedOutput)
	assert.True(t, v.CanSubmit)
	assert.Equal(t, "Build X", v.Session.InitialPrompt)
}

func TestPromptLockAppliedBeforeRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	var during error
	var statusDuring string
	api.onUpdate = func() {
		during = m.SetPrompt("typed while the request was in flight")
		statusDuring = m.View().Session.Status
	}
	require.NoError(t, m.Generate(ctx))
	assert.ErrorIs(t, during, ErrPromptLocked)
	assert.Equal(t, domain.StatusDrafting, statusDuring)
	assert.Equal(t, "Build X", m.View().Session.InitialPrompt)
}

func TestGenerateWithNothingToGenerateMakesNoCalls(t *testing.T) {
	ctx := context.Background()
	s := readyBlueprint("s1", "   ")
	s.SourceArtifacts = []domain.SourceArtifact{{Type: domain.ArtifactAudioTranscript, Content: " "}}
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.resetCalls()

	assert.ErrorIs(t, m.Generate(ctx), ErrNothingToGenerate)
	assert.Zero(t, api.callCount())
	v := m.View()
	assert.Equal(t, domain.StatusReady, v.Session.Status)
	assert.False(t, v.Session.InitialPromptLocked)
	assert.False(t, v.Polling)
}

func TestGenerateFromArtifactsLeavesPromptUnlocked(t *testing.T) {
	ctx := context.Background()
	s := readyBlueprint("s1", "")
	s.SourceArtifacts = []domain.SourceArtifact{{Type: domain.ArtifactAudioTranscript, Content: "we need a ledger"}}
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	require.NoError(t, m.Generate(ctx))
	v := m.View()
	assert.False(t, v.Session.InitialPromptLocked)
	assert.True(t, v.Polling)
	assert.NoError(t, m.SetPrompt("now with words"))
}

func TestReviseRequiresOutputAndInstruction(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.resetCalls()

	require.NoError(t, m.SetInstruction("add a cache"))
	assert.ErrorIs(t, m.Revise(ctx), ErrNoGeneratedOutput)
	assert.Zero(t, api.callCount())

	api.set("s1", func(s *domain.DraftSession) { s.HasGeneratedOutput = true })
	require.NoError(t, m.Select(ctx, "s1"))
	require.NoError(t, m.SetInstruction("   "))
	api.resetCalls()
	assert.ErrorIs(t, m.Revise(ctx), ErrEmptyInstruction)
	assert.Zero(t, api.callCount())

	require.NoError(t, m.SetInstruction("add a cache"))
	require.NoError(t, m.Revise(ctx))
	assert.Equal(t, 1, api.callsOf("enqueue-revision"))
	v := m.View()
	assert.Empty(t, v.Instruction)
	assert.True(t, v.Polling)
	require.Len(t, v.Revisions.Revisions, 1)
	assert.Equal(t, "add a cache", v.Revisions.Revisions[0].Instruction)
}

func TestPromptLockNeverDowngraded(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	api.onEnqueue = func(s *domain.DraftSession) { s.InitialPromptLocked = false }
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	require.NoError(t, m.Generate(ctx))
	assert.True(t, m.View().Session.InitialPromptLocked)

	require.NoError(t, m.SetTitle("renamed"))
	require.NoError(t, m.SaveMetadata(ctx))
	u := api.lastUpdate()
	require.NotNil(t, u.Title)
	assert.Equal(t, "renamed", *u.Title)
	assert.Nil(t, u.InitialPrompt)
	assert.True(t, m.View().Session.InitialPromptLocked)
}

func TestOlderFetchResolvingLateIsDiscarded(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.hold("s1")

	errA := make(chan error, 1)
	go func() { errA <- m.fetch(ctx, "s1", "test") }()
	a := <-api.held
	errB := make(chan error, 1)
	go func() { errB <- m.fetch(ctx, "s1", "test") }()
	b := <-api.held

	b.reply <- domain.DraftSession{ID: "s1", Kind: domain.KindBlueprint, Title: "from B", Status: domain.StatusReady}
	require.NoError(t, <-errB)
	a.reply <- domain.DraftSession{ID: "s1", Kind: domain.KindBlueprint, Title: "from A", Status: domain.StatusReady}
	require.NoError(t, <-errA)

	assert.Equal(t, "from B", m.View().Session.Title)
}

func TestSelectionChangeStopsPollAndDropsLateResult(t *testing.T) {
	ctx := context.Background()
	one := readyBlueprint("s1", "Build X")
	one.Status = domain.StatusQueued
	two := readyBlueprint("s2", "Build Y")
	api := newFakeAPI(one, two)
	m := newTestMachine(t, api, Options{})

	require.NoError(t, m.Select(ctx, "s1"))
	require.True(t, m.View().Polling)
	api.hold("s1")
	late := <-api.held

	require.NoError(t, m.Select(ctx, "s2"))
	v := m.View()
	require.Equal(t, "s2", v.SelectedID)
	require.False(t, v.Polling)

	late.reply <- domain.DraftSession{ID: "s1", Title: "late", Status: domain.StatusQueued}
	time.Sleep(50 * time.Millisecond)

	v = m.View()
	assert.Equal(t, "s2", v.SelectedID)
	assert.Equal(t, "session s2", v.Session.Title)
	assert.False(t, v.Polling)
	select {
	case h := <-api.held:
		h.reply <- domain.DraftSession{}
		t.Fatalf("poll for %s kept running after selection changed", h.id)
	default:
	}
}

func TestNotFoundClearsSelectionAndRelists(t *testing.T) {
	ctx := context.Background()
	s := readyBlueprint("s1", "Build X")
	s.Status = domain.StatusQueued
	api := newFakeAPI(s, readyBlueprint("s2", "other"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.resetCalls()

	api.remove("s1")
	require.Eventually(t, func() bool {
		v := m.View()
		return v.SelectedID == "" && !v.HasSession
	}, time.Second, 5*time.Millisecond)

	v := m.View()
	assert.False(t, v.Polling)
	assert.NoError(t, v.Err)
	assert.Contains(t, v.Notice, "no longer exists")
	require.Eventually(t, func() bool { return api.callsOf("list") >= 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(m.View().Sessions) == 1 }, time.Second, 5*time.Millisecond)
}

func TestActionOnDeletedSessionReportsGone(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.remove("s1")

	assert.ErrorIs(t, m.SaveMetadata(ctx), ErrSessionGone)
	assert.NoError(t, m.Err())
	assert.False(t, m.View().HasSession)
}

func TestPollPreservesFieldsUnderEdit(t *testing.T) {
	ctx := context.Background()
	s := readyBlueprint("s1", "Build X")
	s.Status = domain.StatusQueued
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	m.Focus(FieldTitle)
	require.NoError(t, m.SetTitle("my local title"))
	api.set("s1", func(s *domain.DraftSession) {
		s.Title = "server title"
		s.Namespace = "payments"
		s.Status = domain.StatusReady
	})
	require.Eventually(t, func() bool { return m.View().Session.Status == domain.StatusReady }, time.Second, 5*time.Millisecond)

	v := m.View()
	assert.Equal(t, "my local title", v.Session.Title)
	assert.Equal(t, "payments", v.Session.Namespace)
	assert.Equal(t, []Field{FieldTitle}, v.Focused)
	assert.Equal(t, []Field{FieldTitle}, v.Dirty)
}

func TestReplaceOnPollOverwritesEdits(t *testing.T) {
	ctx := context.Background()
	s := readyBlueprint("s1", "Build X")
	s.Status = domain.StatusQueued
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{ReplaceOnPoll: true})
	require.NoError(t, m.Select(ctx, "s1"))

	m.Focus(FieldTitle)
	require.NoError(t, m.SetTitle("my local title"))
	api.set("s1", func(s *domain.DraftSession) {
		s.Title = "server title"
		s.Status = domain.StatusReady
	})
	require.Eventually(t, func() bool { return m.View().Session.Status == domain.StatusReady }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "server title", m.View().Session.Title)
}

func TestMerge(t *testing.T) {
	local := domain.DraftSession{Title: "local", Namespace: "ns-local", InitialPrompt: "p", InitialPromptLocked: true}
	fetched := domain.DraftSession{Title: "server", Namespace: "ns-server", InitialPrompt: "p", Status: domain.StatusReady}

	out := Merge(local, fetched, func(f Field) bool { return f == FieldTitle })
	assert.Equal(t, "local", out.Title)
	assert.Equal(t, "ns-server", out.Namespace)
	assert.Equal(t, domain.StatusReady, out.Status)
	assert.True(t, out.InitialPromptLocked)

	out = Merge(local, fetched, nil)
	assert.Equal(t, "server", out.Title)
	assert.True(t, out.InitialPromptLocked)
}

func TestResolveContextAsksBeforeDiscardingHash(t *testing.T) {
	ctx := context.Background()
	s := readyBlueprint("s1", "Build X")
	s.EffectiveContextHash = "abc123"
	s.ContextStale = true
	s.SelectedContextPackIDs = []string{"cp-sec"}
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.resetCalls()

	err := m.ResolveContext(ctx, false)
	var discard *DiscardHashError
	require.ErrorAs(t, err, &discard)
	assert.Equal(t, "abc123", discard.Hash)
	assert.Zero(t, api.callCount())

	require.NoError(t, m.ResolveContext(ctx, true))
	v := m.View()
	assert.Equal(t, "hash-1", v.Session.EffectiveContextHash)
	assert.False(t, v.Session.ContextStale)
}

func TestSaveRejectsInvalidJSON(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.resetCalls()

	assert.ErrorIs(t, m.Save(ctx, `{"services": [`), ErrInvalidDraftJSON)
	assert.Zero(t, api.callCount())

	require.NoError(t, m.Save(ctx, ` {"services": []} `))
	assert.JSONEq(t, `{"services": []}`, string(m.View().Session.Draft))
	assert.Equal(t, domain.StatusReady, m.View().Session.Status)
}

func TestSnapshotNeedsDraft(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	assert.ErrorIs(t, m.Snapshot(ctx, "before refactor"), ErrNothingToSnapshot)
	require.NoError(t, m.Save(ctx, `{"a":1}`))
	require.NoError(t, m.Snapshot(ctx, "before refactor"))
	assert.Equal(t, 1, api.callsOf("snapshot"))
	assert.Equal(t, 1, m.View().Revisions.Total)
}

func submittableSolution() domain.DraftSession {
	return domain.DraftSession{
		ID:                 "s1",
		Kind:               domain.KindSolution,
		Title:              "ledger",
		InitialPrompt:      "Build X",
		Status:             domain.StatusReady,
		HasGeneratedOutput: true,
	}
}

func TestSubmitMissingRequiredPackIsRejectedLocally(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(submittableSolution())
	api.defaults = domain.ContextPackDefaults{RequiredPackNames: []string{"security-baseline"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.resetCalls()

	_, err := m.Submit(ctx, submit.Target{Namespace: "payments", Name: "ledger"})
	var missing *submit.MissingPacksError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"security-baseline"}, missing.Names)
	assert.Zero(t, api.callsOf("update"))
	assert.Zero(t, api.callsOf("submit"))
}

func TestSubmitWithSamePlacementMakesNoCalls(t *testing.T) {
	ctx := context.Background()
	s := submittableSolution()
	s.Namespace = "payments"
	s.ProjectKey = "ledger"
	api := newFakeAPI(s)
	api.defaults = domain.ContextPackDefaults{RequiredPackNames: []string{"security-baseline"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	api.resetCalls()

	_, err := m.Submit(ctx, submit.Target{Namespace: "payments", Name: "ledger"})
	var missing *submit.MissingPacksError
	require.ErrorAs(t, err, &missing)
	assert.Zero(t, api.callCount())
}

func TestSubmitChecksRequiredPacksAfterNamespaceChange(t *testing.T) {
	ctx := context.Background()
	s := submittableSolution()
	s.Namespace = "payments"
	s.ProjectKey = "ledger"
	s.SelectedContextPackIDs = []string{"cp-pay", "cp-sec"}
	api := newFakeAPI(s)
	api.defaults = domain.ContextPackDefaults{RequiredPackNames: []string{"payments-conventions"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	require.NoError(t, m.SetNamespace("billing"))
	_, err := m.Submit(ctx, submit.Target{Namespace: "billing", Name: "ledger"})
	var missing *submit.MissingPacksError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"payments-conventions"}, missing.Names)
	assert.Zero(t, api.callsOf("submit"))
	assert.Equal(t, []string{"cp-sec"}, m.View().Session.SelectedContextPackIDs)
}

func TestSubmitSendsSelectionPrunedForTarget(t *testing.T) {
	ctx := context.Background()
	s := submittableSolution()
	s.Namespace = "payments"
	s.ProjectKey = "ledger"
	s.SelectedContextPackIDs = []string{"cp-pay", "cp-sec"}
	api := newFakeAPI(s)
	api.defaults = domain.ContextPackDefaults{RequiredPackNames: []string{"security-baseline"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	_, err := m.Submit(ctx, submit.Target{Namespace: "billing", Name: "ledger"})
	require.NoError(t, err)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.submits, 1)
	assert.Equal(t, []string{"cp-sec"}, api.submits[0].SelectedContextPackIDs)
}

func TestSubmitSucceedsOnceRequiredPackSelected(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(submittableSolution())
	api.defaults = domain.ContextPackDefaults{RequiredPackNames: []string{"security-baseline"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	require.NoError(t, m.TogglePack("cp-sec"))
	m.SetGenerateCode(true)
	res, err := m.Submit(ctx, submit.Target{Namespace: "payments", Name: "ledger", GenerateCode: true})
	require.NoError(t, err)
	assert.Equal(t, "ent-s1", res.EntityID)

	u := api.lastUpdate()
	require.NotNil(t, u.Namespace)
	assert.Equal(t, "payments", *u.Namespace)
	assert.Equal(t, "ledger", *u.ProjectKey)
	assert.Equal(t, 1, api.callsOf("submit"))
	v := m.View()
	assert.Equal(t, domain.StatusPublished, v.Session.Status)
	assert.Contains(t, v.Notice, "ent-s1")
}

func TestRefreshDefaultsPrunesUnresolvablePacks(t *testing.T) {
	ctx := context.Background()
	s := submittableSolution()
	s.Namespace = "payments"
	s.SelectedContextPackIDs = []string{"cp-pay", "cp-sec"}
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	assert.Equal(t, []string{"cp-pay", "cp-sec"}, m.View().Session.SelectedContextPackIDs)

	require.NoError(t, m.SetNamespace("billing"))
	_, err := m.RefreshDefaults(ctx)
	require.NoError(t, err)
	v := m.View()
	assert.Equal(t, []string{"cp-sec"}, v.Session.SelectedContextPackIDs)
	assert.Contains(t, v.Dirty, FieldContextPacks)
	assert.Equal(t, 2, api.callsOf("defaults"))

	// same tuple, answered from memory
	_, err = m.RefreshDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, api.callsOf("defaults"))
}

func TestNamespaceChangeReissuesDefaultsOnSave(t *testing.T) {
	ctx := context.Background()
	s := submittableSolution()
	s.Namespace = "payments"
	s.SelectedContextPackIDs = []string{"cp-pay", "cp-sec"}
	api := newFakeAPI(s)
	api.defaults = domain.ContextPackDefaults{RecommendedContextPackIDs: []string{"cp-plan"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	require.Equal(t, 1, api.callsOf("defaults"))

	require.NoError(t, m.SetNamespace("billing"))
	assert.Empty(t, m.View().Defaults.RecommendedContextPackIDs, "answer for the old namespace is not shown")

	require.NoError(t, m.SaveMetadata(ctx))
	assert.Equal(t, 2, api.callsOf("defaults"))
	u := api.lastUpdate()
	require.NotNil(t, u.SelectedContextPackIDs)
	assert.Equal(t, []string{"cp-sec"}, *u.SelectedContextPackIDs)
	v := m.View()
	assert.Equal(t, []string{"cp-sec"}, v.Session.SelectedContextPackIDs)
	assert.Equal(t, []string{"cp-plan"}, v.Defaults.RecommendedContextPackIDs)
	assert.NotContains(t, v.Dirty, FieldContextPacks)

	// unchanged tuple, no new defaults request
	require.NoError(t, m.SetTitle("renamed"))
	require.NoError(t, m.SaveMetadata(ctx))
	assert.Equal(t, 2, api.callsOf("defaults"))
}

func TestGenerateSendsSelectionPrunedForNewPlacement(t *testing.T) {
	ctx := context.Background()
	s := readyBlueprint("s1", "Build X")
	s.Namespace = "payments"
	s.SelectedContextPackIDs = []string{"cp-pay"}
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	require.NoError(t, m.SetNamespace(""))
	require.NoError(t, m.Generate(ctx))
	assert.Equal(t, 2, api.callsOf("defaults"))
	api.mu.Lock()
	require.NotEmpty(t, api.updates)
	first := api.updates[0]
	api.mu.Unlock()
	require.NotNil(t, first.SelectedContextPackIDs)
	assert.Empty(t, *first.SelectedContextPackIDs)
}

func TestPackSelectionMustResolve(t *testing.T) {
	ctx := context.Background()
	s := submittableSolution()
	s.Namespace = "billing"
	api := newFakeAPI(s)
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	var unresolvable *UnresolvablePackError
	require.ErrorAs(t, m.TogglePack("cp-pay"), &unresolvable)
	assert.Equal(t, "cp-pay", unresolvable.ID)
	require.ErrorAs(t, m.SetSelectedPacks([]string{"cp-sec", "cp-missing"}), &unresolvable)
	assert.Equal(t, "cp-missing", unresolvable.ID)
	assert.Empty(t, m.View().Session.SelectedContextPackIDs)

	require.NoError(t, m.SetSelectedPacks([]string{"cp-sec", "cp-plan"}))
	require.NoError(t, m.SetNamespace("payments"))
	require.NoError(t, m.TogglePack("cp-pay"))
	assert.Equal(t, []string{"cp-sec", "cp-plan", "cp-pay"}, m.View().Session.SelectedContextPackIDs)
}

func TestApplyRecommendedRefusesStaleAnswer(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(submittableSolution())
	api.defaults = domain.ContextPackDefaults{RecommendedContextPackIDs: []string{"cp-plan"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	require.NoError(t, m.SetKind(domain.KindBlueprint))
	assert.ErrorIs(t, m.ApplyRecommended(), ErrDefaultsStale)
	assert.Empty(t, m.View().Session.SelectedContextPackIDs)

	_, err := m.RefreshDefaults(ctx)
	require.NoError(t, err)
	require.NoError(t, m.ApplyRecommended())
	assert.Equal(t, []string{"cp-plan"}, m.View().Session.SelectedContextPackIDs)
}

func TestSelectingAnotherSessionAsksForDefaultsAgain(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"), readyBlueprint("s2", "Build Y"))
	api.defaults = domain.ContextPackDefaults{RecommendedContextPackIDs: []string{"cp-plan"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	require.Equal(t, 1, api.callsOf("defaults"))

	api.mu.Lock()
	api.defaults = domain.ContextPackDefaults{RecommendedContextPackIDs: []string{"cp-sec"}}
	api.mu.Unlock()
	require.NoError(t, m.Select(ctx, "s2"))
	assert.Equal(t, 2, api.callsOf("defaults"))
	assert.Equal(t, []string{"cp-sec"}, m.View().Defaults.RecommendedContextPackIDs)

	// re-selecting the same session keeps the answer
	require.NoError(t, m.Select(ctx, "s2"))
	assert.Equal(t, 2, api.callsOf("defaults"))
}

func TestDefaultsFailureIsNotHidden(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(submittableSolution())
	api.defaults = domain.ContextPackDefaults{RecommendedContextPackIDs: []string{"cp-plan"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	require.Equal(t, []string{"cp-plan"}, m.View().Defaults.RecommendedContextPackIDs)

	api.mu.Lock()
	api.defaultsErr = errors.New("resolver down")
	api.mu.Unlock()
	require.NoError(t, m.SetKind(domain.KindBlueprint))
	_, err := m.RefreshDefaults(ctx)
	require.Error(t, err)
	v := m.View()
	assert.Empty(t, v.Defaults.RecommendedContextPackIDs)
	assert.Error(t, v.Err)
}

func TestApplyRecommended(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(submittableSolution())
	api.defaults = domain.ContextPackDefaults{RecommendedContextPackIDs: []string{"cp-plan", "cp-sec"}}
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))
	require.NoError(t, m.TogglePack("cp-sec"))

	require.NoError(t, m.ApplyRecommended())
	assert.Equal(t, []string{"cp-sec", "cp-plan"}, m.View().Session.SelectedContextPackIDs)
}

func TestTransientFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	api.mu.Lock()
	api.failWith = errors.New("503 service unavailable")
	api.mu.Unlock()
	require.Error(t, m.Generate(ctx))

	v := m.View()
	assert.Equal(t, domain.StatusReady, v.Session.Status)
	assert.False(t, v.Session.InitialPromptLocked)
	assert.False(t, v.Polling)
	require.Error(t, v.Err)

	m.DismissError()
	assert.NoError(t, m.Err())
}

func TestCreateAndDelete(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})

	id, err := m.Create(ctx, domain.DraftSessionFields{Kind: domain.KindSolution, Title: "new one"})
	require.NoError(t, err)
	v := m.View()
	assert.Equal(t, id, v.SelectedID)
	assert.Len(t, v.Sessions, 2)

	require.NoError(t, m.Delete(ctx, id))
	v = m.View()
	assert.Empty(t, v.SelectedID)
	assert.Len(t, v.Sessions, 1)

	// deleting again is not an error
	require.NoError(t, m.Delete(ctx, id))
}

func TestAttachTranscript(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", ""))
	m := newTestMachine(t, api, Options{})
	require.NoError(t, m.Select(ctx, "s1"))

	assert.ErrorIs(t, m.AttachTranscript(domain.VoiceNote{ID: "v1", SessionID: "s1"}), ErrNoTranscript)
	text := "a ledger service with audit trail"
	require.NoError(t, m.AttachTranscript(domain.VoiceNote{ID: "v1", SessionID: "s1", TranscriptText: &text}))

	v := m.View()
	require.Len(t, v.Session.SourceArtifacts, 1)
	assert.Equal(t, domain.ArtifactAudioTranscript, v.Session.SourceArtifacts[0].Type)
	assert.Contains(t, v.Dirty, FieldSourceArtifacts)

	require.NoError(t, m.Generate(ctx))
	assert.Empty(t, m.View().Dirty)
}

func TestSettersNeedSelection(t *testing.T) {
	api := newFakeAPI()
	m := newTestMachine(t, api, Options{})
	assert.ErrorIs(t, m.SetTitle("x"), ErrNoSelection)
	assert.ErrorIs(t, m.Generate(context.Background()), ErrNoSelection)
	assert.ErrorIs(t, m.SetKind("widget"), ErrInvalidKind)
}

func TestOnChangeVersionsIncrease(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(readyBlueprint("s1", "Build X"))
	m := newTestMachine(t, api, Options{})

	var mu sync.Mutex
	var versions []uint64
	unsubscribe := m.OnChange(func(v View) {
		mu.Lock()
		versions = append(versions, v.Version)
		mu.Unlock()
	})
	require.NoError(t, m.Select(ctx, "s1"))
	require.NoError(t, m.SetTitle("x"))
	unsubscribe()
	require.NoError(t, m.SetTitle("y"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	assert.Equal(t, versions[len(versions)-1], m.View().Version-1)
}
