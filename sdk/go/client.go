package xynsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"xynconsole/internal/domain"
)

var tracer = otel.Tracer("xynsdk")

// Client is a minimal HTTP client for the draft-session API.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Is lets callers match a 404 with errors.Is(err, domain.ErrNotFound).
func (e *APIError) Is(target error) bool {
	return target == domain.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Transient reports whether retrying the same request may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err means the requested resource is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// ListDraftSessions returns sessions matching the filter.
func (c *Client) ListDraftSessions(ctx context.Context, f domain.DraftSessionFilter) ([]domain.DraftSession, error) {
	q := url.Values{}
	setIf(q, "status", f.Status)
	setIf(q, "kind", f.Kind)
	setIf(q, "namespace", f.Namespace)
	setIf(q, "project_key", f.ProjectKey)
	setIf(q, "q", f.Q)
	var resp listResponse[domain.DraftSession]
	err := c.do(ctx, http.MethodGet, withQuery("draft-sessions", q), nil, &resp)
	return resp.Items, err
}

// CreateDraftSession creates a session and returns its id.
func (c *Client) CreateDraftSession(ctx context.Context, fields domain.DraftSessionFields) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := c.do(ctx, http.MethodPost, "draft-sessions", fields, &resp)
	return resp.SessionID, err
}

// GetDraftSession fetches the full session detail including the draft document.
func (c *Client) GetDraftSession(ctx context.Context, id string) (domain.DraftSession, error) {
	var resp domain.DraftSession
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp)
	return resp, err
}

// UpdateDraftSession patches session metadata.
func (c *Client) UpdateDraftSession(ctx context.Context, id string, u domain.DraftSessionUpdate) error {
	return c.do(ctx, http.MethodPatch, sessionPath(id, ""), u, nil)
}

// DeleteDraftSession hard-deletes a session.
func (c *Client) DeleteDraftSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

// ResolveDraftSessionContext pins the given packs and recomputes the effective context hash.
func (c *Client) ResolveDraftSessionContext(ctx context.Context, id string, packIDs []string) error {
	if packIDs == nil {
		packIDs = []string{}
	}
	body := map[string]any{"context_pack_ids": packIDs}
	return c.do(ctx, http.MethodPost, sessionPath(id, "resolve-context"), body, nil)
}

// EnqueueDraftGeneration asks the backend to generate a draft from the prompt and artifacts.
func (c *Client) EnqueueDraftGeneration(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, sessionPath(id, "enqueue-generation"), map[string]any{}, nil)
}

// EnqueueDraftRevision asks the backend to revise the current draft.
func (c *Client) EnqueueDraftRevision(ctx context.Context, id, instruction string) error {
	body := map[string]any{"instruction": instruction}
	return c.do(ctx, http.MethodPost, sessionPath(id, "enqueue-revision"), body, nil)
}

// SaveDraftSession stores a manually edited draft document.
func (c *Client) SaveDraftSession(ctx context.Context, id string, draft json.RawMessage) error {
	body := map[string]any{"draft_json": draft}
	return c.do(ctx, http.MethodPost, sessionPath(id, "save"), body, nil)
}

// SnapshotDraftSession records a checkpoint revision.
func (c *Client) SnapshotDraftSession(ctx context.Context, id, note string) error {
	body := map[string]any{"note": note}
	return c.do(ctx, http.MethodPost, sessionPath(id, "snapshot"), body, nil)
}

// SubmitDraftSession converts the session into a downstream entity.
func (c *Client) SubmitDraftSession(ctx context.Context, id string, req domain.SubmitRequest) (domain.SubmitResult, error) {
	if req.SelectedContextPackIDs == nil {
		req.SelectedContextPackIDs = []string{}
	}
	if req.SourceArtifacts == nil {
		req.SourceArtifacts = []domain.SourceArtifact{}
	}
	var resp domain.SubmitResult
	err := c.do(ctx, http.MethodPost, sessionPath(id, "submit"), req, &resp)
	return resp, err
}

// ListDraftSessionRevisions returns one page of revisions.
func (c *Client) ListDraftSessionRevisions(ctx context.Context, id string, rq domain.RevisionQuery) (domain.RevisionPage, error) {
	q := url.Values{}
	setIf(q, "q", rq.Q)
	if rq.Page > 0 {
		q.Set("page", strconv.Itoa(rq.Page))
	}
	if rq.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(rq.PageSize))
	}
	var resp domain.RevisionPage
	err := c.do(ctx, http.MethodGet, withQuery(sessionPath(id, "revisions"), q), nil, &resp)
	return resp, err
}

// GetContextPackDefaults returns recommended pack ids and required pack names for the tuple.
func (c *Client) GetContextPackDefaults(ctx context.Context, cq domain.ContextPackQuery) (domain.ContextPackDefaults, error) {
	q := url.Values{}
	q.Set("draft_kind", cq.DraftKind)
	setIf(q, "namespace", cq.Namespace)
	setIf(q, "project_key", cq.ProjectKey)
	q.Set("generate_code", strconv.FormatBool(cq.GenerateCode))
	var resp domain.ContextPackDefaults
	err := c.do(ctx, http.MethodGet, withQuery("context-packs/defaults", q), nil, &resp)
	return resp, err
}

// ListContextPacks returns the context pack catalog.
func (c *Client) ListContextPacks(ctx context.Context, f domain.ContextPackFilter) ([]domain.ContextPackSummary, error) {
	q := url.Values{}
	setIf(q, "scope", f.Scope)
	setIf(q, "namespace", f.Namespace)
	setIf(q, "project_key", f.ProjectKey)
	setIf(q, "purpose", f.Purpose)
	var resp listResponse[domain.ContextPackSummary]
	err := c.do(ctx, http.MethodGet, withQuery("context-packs", q), nil, &resp)
	return resp.Items, err
}

// ListDraftSessionVoiceNotes returns the voice notes attached to a session.
func (c *Client) ListDraftSessionVoiceNotes(ctx context.Context, id string) ([]domain.VoiceNote, error) {
	var resp listResponse[domain.VoiceNote]
	err := c.do(ctx, http.MethodGet, sessionPath(id, "voice-notes"), nil, &resp)
	return resp.Items, err
}

// UploadVoiceNote uploads an audio file for a session and returns the voice note id.
func (c *Client) UploadVoiceNote(ctx context.Context, filename string, audio io.Reader, sessionID, languageCode string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return "", err
	}
	if languageCode != "" {
		if err := mw.WriteField("language_code", languageCode); err != nil {
			return "", err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	var resp struct {
		VoiceNoteID string `json:"voice_note_id"`
	}
	err = c.send(ctx, http.MethodPost, "voice-notes", mw.FormDataContentType(), &buf, &resp)
	return resp.VoiceNoteID, err
}

// GetVoiceNote fetches one voice note with its transcript.
func (c *Client) GetVoiceNote(ctx context.Context, voiceNoteID string) (domain.VoiceNote, error) {
	var note domain.VoiceNote
	err := c.do(ctx, http.MethodGet, "voice-notes/"+url.PathEscape(voiceNoteID), nil, &note)
	return note, err
}

// ListDraftSessionEvents returns the newest audit events of a session.
func (c *Client) ListDraftSessionEvents(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp listResponse[domain.Event]
	err := c.do(ctx, http.MethodGet, withQuery(sessionPath(id, "events"), q), nil, &resp)
	return resp.Items, err
}

// EnqueueVoiceNoteTranscription starts transcription of an uploaded voice note.
func (c *Client) EnqueueVoiceNoteTranscription(ctx context.Context, voiceNoteID string) error {
	endpoint := fmt.Sprintf("voice-notes/%s/enqueue-transcription", url.PathEscape(voiceNoteID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{}, nil)
}

// DevLogin mints a development bearer token; only reference backends expose it.
func (c *Client) DevLogin(ctx context.Context, actorID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"actor_id": actorID}, &resp)
	return resp.Token, err
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) (err error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	route := strings.SplitN(endpoint, "?", 2)[0]
	ctx, span := tracer.Start(ctx, method+" "+route)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	)

	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func sessionPath(id, action string) string {
	p := "draft-sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func setIf(q url.Values, key, value string) {
	if strings.TrimSpace(value) != "" {
		q.Set(key, value)
	}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
