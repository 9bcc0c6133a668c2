package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xynconsole/internal/blob"
	"xynconsole/internal/config"
	"xynconsole/internal/db"
	"xynconsole/internal/domain"
	"xynconsole/internal/engine"
	"xynconsole/internal/migrate"
	xynsdk "xynconsole/sdk/go"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Worker engine.Worker
}

func startTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))

	eng := engine.New(conn, config.Default())
	eng.Blob = blob.FSStore{Root: dir + "/blobs"}
	require.NoError(t, eng.SeedContextPacks(ctx))

	handler, err := New(Config{
		Engine: eng,
		Auth:   AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(handler)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)

	return testServer{URL: srv.URL + "/v0", Engine: eng, Worker: engine.Worker{Engine: eng}}
}

func (ts testServer) client(actor string) *xynsdk.Client {
	c := xynsdk.New(ts.URL)
	c.ActorID = actor
	return c
}

func (ts testServer) drain(t *testing.T) {
	t.Helper()
	for {
		ran, err := ts.Worker.RunOnce(context.Background())
		require.NoError(t, err)
		if !ran {
			return
		}
	}
}

func TestSessionRoundTripOverHTTP(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()
	c := ts.client("alice")

	id, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{
		Kind:          domain.KindBlueprint,
		Title:         "Ledger",
		Namespace:     "payments",
		ProjectKey:    "ledger",
		InitialPrompt: "Build a ledger service. Expose balances over HTTP.",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, c.EnqueueDraftGeneration(ctx, id))
	queued, err := c.GetDraftSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, queued.Status)
	assert.True(t, queued.InitialPromptLocked)

	ts.drain(t)

	got, err := c.GetDraftSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, got.Status)
	assert.True(t, got.HasGeneratedOutput)
	assert.True(t, got.HasDraft())
	assert.Empty(t, got.ValidationErrors)

	list, err := c.ListDraftSessions(ctx, domain.DraftSessionFilter{Namespace: "payments"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Empty(t, list[0].Draft)

	require.NoError(t, c.EnqueueDraftRevision(ctx, id, "Add an audit trail"))
	ts.drain(t)
	page, err := c.ListDraftSessionRevisions(ctx, id, domain.RevisionQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.NotEmpty(t, page.Revisions)
	assert.Equal(t, domain.ActionRevise, page.Revisions[0].Action)

	require.NoError(t, c.SaveDraftSession(ctx, id, got.Draft))
	require.NoError(t, c.SnapshotDraftSession(ctx, id, "before submit"))

	res, err := c.SubmitDraftSession(ctx, id, domain.SubmitRequest{InitialPrompt: got.InitialPrompt})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, res.Status)
	assert.Equal(t, domain.KindBlueprint, res.EntityType)
	assert.NotEmpty(t, res.EntityID)
}

func TestMissingSessionMapsToNotFound(t *testing.T) {
	ts := startTestServer(t)
	_, err := ts.client("alice").GetDraftSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	var apiErr *xynsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestErrorEnvelope(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()
	c := ts.client("alice")
	id, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindSolution, Title: "Empty"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/draft-sessions/"+id+"/enqueue-generation", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "precondition_failed", body.Error.Code)
	assert.Contains(t, body.Error.Message, "initial prompt")
}

func TestConflictOnLockedPrompt(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()
	c := ts.client("alice")
	id, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindBlueprint, Title: "Locked", InitialPrompt: "Keep this prompt stable."})
	require.NoError(t, err)
	require.NoError(t, c.EnqueueDraftGeneration(ctx, id))
	ts.drain(t)

	changed := "Something else entirely."
	err = c.UpdateDraftSession(ctx, id, domain.DraftSessionUpdate{InitialPrompt: &changed})
	var apiErr *xynsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	title := "Renamed"
	require.NoError(t, c.UpdateDraftSession(ctx, id, domain.DraftSessionUpdate{Title: &title}))
}

func TestContextPackEndpoints(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()
	c := ts.client("alice")

	packs, err := c.ListContextPacks(ctx, domain.ContextPackFilter{Purpose: "planner"})
	require.NoError(t, err)
	require.NotEmpty(t, packs)
	for _, p := range packs {
		assert.Equal(t, "planner", p.Purpose)
	}

	defaults, err := c.GetContextPackDefaults(ctx, domain.ContextPackQuery{DraftKind: domain.KindSolution, GenerateCode: true})
	require.NoError(t, err)
	assert.Contains(t, defaults.RecommendedContextPackIDs, "cp-go-service-coder")
	assert.Contains(t, defaults.RequiredPackNames, "security-baseline")

	id, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindSolution, Title: "Ctx"})
	require.NoError(t, err)
	require.NoError(t, c.ResolveDraftSessionContext(ctx, id, []string{"cp-security-baseline"}))
	got, err := c.GetDraftSession(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, got.EffectiveContextHash)
	assert.False(t, got.ContextStale)
}

func TestVoiceNoteUploadAndTranscription(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()
	c := ts.client("alice")
	id, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindBlueprint, Title: "Voice"})
	require.NoError(t, err)

	noteID, err := c.UploadVoiceNote(ctx, "memo.txt", strings.NewReader("Add rate limiting to the gateway."), id, "en")
	require.NoError(t, err)
	require.NotEmpty(t, noteID)

	require.NoError(t, c.EnqueueVoiceNoteTranscription(ctx, noteID))
	ts.drain(t)

	notes, err := c.ListDraftSessionVoiceNotes(ctx, id)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.VoiceTranscribed, notes[0].Status)
	require.NotNil(t, notes[0].TranscriptText)
	assert.Equal(t, "Add rate limiting to the gateway.", *notes[0].TranscriptText)
}

func TestAuthentication(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()

	anon := xynsdk.New(ts.URL)
	require.NoError(t, anon.Health(ctx))
	_, err := anon.ListDraftSessions(ctx, domain.DraftSessionFilter{})
	var apiErr *xynsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	bad := xynsdk.New(ts.URL)
	bad.BearerToken = "not-a-jwt"
	_, err = bad.ListDraftSessions(ctx, domain.DraftSessionFilter{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_credentials", apiErr.Code)

	token, err := anon.DevLogin(ctx, "bob")
	require.NoError(t, err)
	authed := xynsdk.New(ts.URL)
	authed.BearerToken = token
	_, err = authed.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindBlueprint, Title: "Bob's"})
	require.NoError(t, err)

	plain, _, err := ts.Engine.Repo.CreateAPIKey(ctx, "carol", "ci")
	require.NoError(t, err)
	keyed := xynsdk.New(ts.URL)
	keyed.APIKey = plain
	list, err := keyed.ListDraftSessions(ctx, domain.DraftSessionFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeleteSession(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()
	c := ts.client("alice")
	id, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindBlueprint, Title: "Doomed"})
	require.NoError(t, err)
	require.NoError(t, c.DeleteDraftSession(ctx, id))
	_, err = c.GetDraftSession(ctx, id)
	assert.True(t, xynsdk.IsNotFound(err))
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []webhookEvent
		sigs     []string
	)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(data, &evt)
		mu.Lock()
		received = append(received, evt)
		sigs = append(sigs, r.Header.Get("X-Xyn-Signature"))
		mu.Unlock()
		assert.Equal(t, signPayload("s3cret", data), r.Header.Get("X-Xyn-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hookSrv.Close)

	c := ts.client("alice")
	_, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindBlueprint, Title: "Before"})
	require.NoError(t, err)

	d := newWebhookDispatcher(ts.Engine, []config.WebhookConfig{{
		URL:     hookSrv.URL,
		Events:  []string{"session.created"},
		Secret:  "s3cret",
		Timeout: time.Second,
	}})
	d.prime(ctx)

	id, err := c.CreateDraftSession(ctx, domain.DraftSessionFields{Kind: domain.KindBlueprint, Title: "After"})
	require.NoError(t, err)
	title := "After, renamed"
	require.NoError(t, c.UpdateDraftSession(ctx, id, domain.DraftSessionUpdate{Title: &title}))

	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "session.created", received[0].Type)
	assert.Equal(t, id, received[0].SessionID)
	assert.Equal(t, "alice", received[0].ActorID)
	assert.NotEmpty(t, sigs[0])
}

func TestEventFilterPrefix(t *testing.T) {
	f := newEventFilter([]string{"voice_note.*", " "})
	assert.True(t, f.match("voice_note.transcribed"))
	assert.False(t, f.match("session.created"))
	assert.True(t, newEventFilter(nil).match("anything"))
}
