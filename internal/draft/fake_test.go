package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"xynconsole/internal/domain"
)

// heldGet is a detail request parked until the test replies.
type heldGet struct {
	id    string
	reply chan domain.DraftSession
}

// fakeAPI is an in-memory backend. Requests for holdID are parked on held.
type fakeAPI struct {
	mu        sync.Mutex
	sessions  map[string]domain.DraftSession
	order     []string
	revisions map[string][]domain.DraftRevision
	defaults  domain.ContextPackDefaults
	catalog   []domain.ContextPackSummary
	calls     []string
	updates   []domain.DraftSessionUpdate
	resolved  [][]string
	submits   []domain.SubmitRequest
	nextID    int

	holdID string
	held   chan heldGet

	failWith    error
	onUpdate    func()
	onEnqueue   func(s *domain.DraftSession)
	defaultsErr error
}

func newFakeAPI(sessions ...domain.DraftSession) *fakeAPI {
	f := &fakeAPI{
		sessions:  map[string]domain.DraftSession{},
		revisions: map[string][]domain.DraftRevision{},
		held:      make(chan heldGet, 8),
		catalog: []domain.ContextPackSummary{
			{ID: "cp-sec", Name: "security-baseline", Purpose: "any", Scope: domain.ScopeGlobal},
			{ID: "cp-plan", Name: "platform-planner", Purpose: "planner", Scope: domain.ScopeGlobal},
			{ID: "cp-pay", Name: "payments-conventions", Purpose: "planner", Scope: domain.ScopeNamespace, Namespace: "payments"},
		},
	}
	for _, s := range sessions {
		f.sessions[s.ID] = s
		f.order = append(f.order, s.ID)
	}
	return f
}

func (f *fakeAPI) record(call string) {
	f.calls = append(f.calls, call)
}

// callsOf returns how many calls named name were made.
func (f *fakeAPI) callsOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeAPI) resetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) set(id string, mutate func(s *domain.DraftSession)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	mutate(&s)
	f.sessions[id] = s
}

func (f *fakeAPI) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
}

func (f *fakeAPI) hold(id string) {
	f.mu.Lock()
	f.holdID = id
	f.mu.Unlock()
}

func notFound(id string) error {
	return fmt.Errorf("draft session %s: %w", id, domain.ErrNotFound)
}

func (f *fakeAPI) ListDraftSessions(_ context.Context, flt domain.DraftSessionFilter) ([]domain.DraftSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	var out []domain.DraftSession
	for _, id := range f.order {
		s, ok := f.sessions[id]
		if !ok {
			continue
		}
		if flt.Status != "" && s.Status != flt.Status {
			continue
		}
		if flt.Q != "" && !strings.Contains(s.Title, flt.Q) {
			continue
		}
		s.Draft = nil
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeAPI) CreateDraftSession(_ context.Context, fields domain.DraftSessionFields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	f.nextID++
	id := fmt.Sprintf("new-%d", f.nextID)
	f.sessions[id] = domain.DraftSession{
		ID:            id,
		Kind:          fields.Kind,
		Title:         fields.Title,
		InitialPrompt: fields.InitialPrompt,
		Status:        domain.StatusReady,
	}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeAPI) GetDraftSession(_ context.Context, id string) (domain.DraftSession, error) {
	f.mu.Lock()
	f.record("get")
	hold := f.holdID != "" && f.holdID == id
	s, ok := f.sessions[id]
	fail := f.failWith
	f.mu.Unlock()
	if hold {
		h := heldGet{id: id, reply: make(chan domain.DraftSession, 1)}
		f.held <- h
		// the reply arrives even if the caller gave up, like a slow server
		return <-h.reply, nil
	}
	if fail != nil {
		return domain.DraftSession{}, fail
	}
	if !ok {
		return domain.DraftSession{}, notFound(id)
	}
	return s.Clone(), nil
}

func (f *fakeAPI) UpdateDraftSession(_ context.Context, id string, u domain.DraftSessionUpdate) error {
	f.mu.Lock()
	f.record("update")
	hook := f.onUpdate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	s, ok := f.sessions[id]
	if !ok {
		return notFound(id)
	}
	f.updates = append(f.updates, u)
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.Kind != nil {
		s.Kind = *u.Kind
	}
	if u.Namespace != nil {
		s.Namespace = *u.Namespace
	}
	if u.ProjectKey != nil {
		s.ProjectKey = *u.ProjectKey
	}
	if u.InitialPrompt != nil {
		s.InitialPrompt = *u.InitialPrompt
	}
	if u.SourceArtifacts != nil {
		s.SourceArtifacts = *u.SourceArtifacts
	}
	if u.SelectedContextPackIDs != nil {
		s.SelectedContextPackIDs = *u.SelectedContextPackIDs
	}
	f.sessions[id] = s
	return nil
}

func (f *fakeAPI) DeleteDraftSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete")
	if _, ok := f.sessions[id]; !ok {
		return notFound(id)
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeAPI) ResolveDraftSessionContext(_ context.Context, id string, packIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("resolve")
	s, ok := f.sessions[id]
	if !ok {
		return notFound(id)
	}
	f.resolved = append(f.resolved, packIDs)
	s.SelectedContextPackIDs = packIDs
	s.EffectiveContextHash = fmt.Sprintf("hash-%d", len(f.resolved))
	s.ContextStale = false
	f.sessions[id] = s
	return nil
}

func (f *fakeAPI) EnqueueDraftGeneration(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("enqueue-generation")
	if f.failWith != nil {
		return f.failWith
	}
	s, ok := f.sessions[id]
	if !ok {
		return notFound(id)
	}
	s.Status = domain.StatusQueued
	if strings.TrimSpace(s.InitialPrompt) != "" {
		s.InitialPromptLocked = true
	}
	if f.onEnqueue != nil {
		f.onEnqueue(&s)
	}
	f.sessions[id] = s
	return nil
}

func (f *fakeAPI) EnqueueDraftRevision(_ context.Context, id, instruction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("enqueue-revision")
	s, ok := f.sessions[id]
	if !ok {
		return notFound(id)
	}
	s.Status = domain.StatusQueued
	f.sessions[id] = s
	f.revisions[id] = append(f.revisions[id], domain.DraftRevision{
		ID:             fmt.Sprintf("%s-r%d", id, len(f.revisions[id])+1),
		RevisionNumber: len(f.revisions[id]) + 1,
		Action:         domain.ActionRevise,
		Instruction:    instruction,
	})
	return nil
}

func (f *fakeAPI) SaveDraftSession(_ context.Context, id string, draft json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("save")
	s, ok := f.sessions[id]
	if !ok {
		return notFound(id)
	}
	s.Draft = draft
	f.sessions[id] = s
	return nil
}

func (f *fakeAPI) SnapshotDraftSession(_ context.Context, id, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("snapshot")
	if _, ok := f.sessions[id]; !ok {
		return notFound(id)
	}
	f.revisions[id] = append(f.revisions[id], domain.DraftRevision{
		RevisionNumber: len(f.revisions[id]) + 1,
		Action:         domain.ActionSnapshot,
		Instruction:    note,
	})
	return nil
}

func (f *fakeAPI) SubmitDraftSession(_ context.Context, id string, req domain.SubmitRequest) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("submit")
	s, ok := f.sessions[id]
	if !ok {
		return domain.SubmitResult{}, notFound(id)
	}
	f.submits = append(f.submits, req)
	s.Status = domain.StatusPublished
	s.SubmittedEntityType = s.Kind
	s.SubmittedEntityID = "ent-" + id
	f.sessions[id] = s
	return domain.SubmitResult{Status: domain.StatusPublished, EntityType: s.Kind, EntityID: s.SubmittedEntityID}, nil
}

func (f *fakeAPI) ListDraftSessionRevisions(_ context.Context, id string, q domain.RevisionQuery) (domain.RevisionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("revisions")
	all := f.revisions[id]
	start := (q.Page - 1) * q.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + q.PageSize
	if end > len(all) {
		end = len(all)
	}
	return domain.RevisionPage{Revisions: append([]domain.DraftRevision(nil), all[start:end]...), Total: len(all)}, nil
}

func (f *fakeAPI) GetContextPackDefaults(_ context.Context, _ domain.ContextPackQuery) (domain.ContextPackDefaults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("defaults")
	if f.defaultsErr != nil {
		return domain.ContextPackDefaults{}, f.defaultsErr
	}
	return f.defaults, nil
}

func (f *fakeAPI) ListContextPacks(_ context.Context, _ domain.ContextPackFilter) ([]domain.ContextPackSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("packs")
	return append([]domain.ContextPackSummary(nil), f.catalog...), nil
}
