package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"xynconsole/internal/contextpack"
	"xynconsole/internal/domain"
	"xynconsole/internal/revisions"
	"xynconsole/internal/submit"
)

// Generate persists the working metadata and enqueues generation. The prompt
// lock and drafting status are applied before any request is sent.
func (m *Machine) Generate(ctx context.Context) error {
	if err := m.checkGenerate(ctx); err != nil {
		return err
	}
	if err := m.syncDefaults(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	w := m.work
	if w == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	hasPrompt := strings.TrimSpace(w.session.InitialPrompt) != ""
	id := m.selected
	update := metadataUpdate(w.session)
	sent := w.session.Clone()
	prevStatus, prevLocked := w.session.Status, w.session.InitialPromptLocked
	w.session.Status = domain.StatusDrafting
	if hasPrompt {
		w.session.InitialPromptLocked = true
	}
	m.mu.Unlock()
	m.notify()

	if err := m.api.UpdateDraftSession(ctx, id, update); err != nil {
		m.rollbackGenerate(id, prevStatus, prevLocked)
		return m.fail(ctx, id, fmt.Errorf("update draft session: %w", err))
	}
	m.markSaved(id, sent, Fields...)
	if err := m.api.EnqueueDraftGeneration(ctx, id); err != nil {
		m.rollbackGenerate(id, prevStatus, prevLocked)
		return m.fail(ctx, id, fmt.Errorf("enqueue generation: %w", err))
	}
	m.metrics.RecordAction(ctx, domain.ActionGenerate)
	return m.reconcile(ctx, id)
}

func (m *Machine) checkGenerate(ctx context.Context) error {
	m.mu.Lock()
	if m.work == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	s := m.work.session
	ok := strings.TrimSpace(s.InitialPrompt) != "" || hasArtifactContent(s.SourceArtifacts)
	m.mu.Unlock()
	if !ok {
		m.metrics.RecordRejected(ctx, domain.ActionGenerate, "nothing_to_generate")
		return ErrNothingToGenerate
	}
	return nil
}

// rollbackGenerate undoes the optimistic transition when no job was queued,
// unless a fetch has replaced the status meanwhile.
func (m *Machine) rollbackGenerate(id, status string, locked bool) {
	m.mu.Lock()
	if m.selected == id && m.work != nil && m.work.session.Status == domain.StatusDrafting {
		m.work.session.Status = status
		m.work.session.InitialPromptLocked = locked
	}
	m.mu.Unlock()
}

// Revise enqueues a revision with the current instruction.
func (m *Machine) Revise(ctx context.Context) error {
	m.mu.Lock()
	w := m.work
	if w == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	if !w.session.HasGeneratedOutput {
		m.mu.Unlock()
		m.metrics.RecordRejected(ctx, domain.ActionRevise, "no_generated_output")
		return ErrNoGeneratedOutput
	}
	instruction := strings.TrimSpace(w.instruction)
	if instruction == "" {
		m.mu.Unlock()
		m.metrics.RecordRejected(ctx, domain.ActionRevise, "empty_instruction")
		return ErrEmptyInstruction
	}
	id := m.selected
	m.mu.Unlock()

	if err := m.api.EnqueueDraftRevision(ctx, id, instruction); err != nil {
		return m.fail(ctx, id, fmt.Errorf("enqueue revision: %w", err))
	}
	m.metrics.RecordAction(ctx, domain.ActionRevise)
	m.mu.Lock()
	if m.selected == id && m.work != nil && strings.TrimSpace(m.work.instruction) == instruction {
		m.work.instruction = ""
	}
	m.mu.Unlock()
	return m.reconcile(ctx, id)
}

// Save stores a manually edited draft document. text must parse as JSON.
func (m *Machine) Save(ctx context.Context, text string) error {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		m.metrics.RecordRejected(ctx, domain.ActionSave, "invalid_json")
		return fmt.Errorf("%w: %v", ErrInvalidDraftJSON, err)
	}
	id, err := m.selectedID()
	if err != nil {
		return err
	}
	if err := m.api.SaveDraftSession(ctx, id, json.RawMessage(strings.TrimSpace(text))); err != nil {
		return m.fail(ctx, id, fmt.Errorf("save draft: %w", err))
	}
	m.metrics.RecordAction(ctx, domain.ActionSave)
	return m.reconcile(ctx, id)
}

// Snapshot records a checkpoint revision with an optional note.
func (m *Machine) Snapshot(ctx context.Context, note string) error {
	m.mu.Lock()
	w := m.work
	if w == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	if !w.session.HasGeneratedOutput && !w.session.HasDraft() {
		m.mu.Unlock()
		m.metrics.RecordRejected(ctx, domain.ActionSnapshot, "no_draft")
		return ErrNothingToSnapshot
	}
	id := m.selected
	m.mu.Unlock()

	if err := m.api.SnapshotDraftSession(ctx, id, strings.TrimSpace(note)); err != nil {
		return m.fail(ctx, id, fmt.Errorf("snapshot: %w", err))
	}
	m.metrics.RecordAction(ctx, domain.ActionSnapshot)
	return m.reconcile(ctx, id)
}

// SaveMetadata persists the working metadata without generating.
func (m *Machine) SaveMetadata(ctx context.Context) error {
	if err := m.syncDefaults(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	w := m.work
	if w == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	id := m.selected
	update := metadataUpdate(w.session)
	sent := w.session.Clone()
	m.mu.Unlock()

	if err := m.api.UpdateDraftSession(ctx, id, update); err != nil {
		return m.fail(ctx, id, fmt.Errorf("update draft session: %w", err))
	}
	m.markSaved(id, sent, Fields...)
	m.metrics.RecordAction(ctx, "update")
	return m.reconcile(ctx, id)
}

// ResolveContext pins the selected packs. Replacing an existing effective
// context hash requires confirmDiscard.
func (m *Machine) ResolveContext(ctx context.Context, confirmDiscard bool) error {
	m.mu.Lock()
	w := m.work
	if w == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	if hash := w.session.EffectiveContextHash; hash != "" && !confirmDiscard {
		m.mu.Unlock()
		return &DiscardHashError{Hash: hash}
	}
	m.mu.Unlock()
	if err := m.syncDefaults(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	w = m.work
	if w == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	id := m.selected
	sent := w.session.Clone()
	ids := append([]string{}, w.session.SelectedContextPackIDs...)
	m.mu.Unlock()

	if err := m.api.ResolveDraftSessionContext(ctx, id, ids); err != nil {
		return m.fail(ctx, id, fmt.Errorf("resolve context: %w", err))
	}
	m.markSaved(id, sent, FieldContextPacks)
	m.metrics.RecordAction(ctx, "resolve_context")
	return m.reconcile(ctx, id)
}

// RefreshDefaults asks for recommendations for the current kind, namespace,
// project key and generate-code tuple and drops selected packs that no longer
// resolve for it.
func (m *Machine) RefreshDefaults(ctx context.Context) (domain.ContextPackDefaults, error) {
	m.mu.Lock()
	if m.work == nil {
		m.mu.Unlock()
		return domain.ContextPackDefaults{}, ErrNoSelection
	}
	id := m.selected
	q := m.queryLocked()
	m.mu.Unlock()

	d, err := m.resolver.Defaults(ctx, q)
	if err != nil {
		m.mu.Lock()
		if m.selected == id {
			m.defaults = domain.ContextPackDefaults{}
			m.defaultsFor = nil
			m.err = fmt.Errorf("context pack defaults: %w", err)
		}
		m.mu.Unlock()
		m.notify()
		return domain.ContextPackDefaults{}, err
	}
	catalog, catErr := m.catalog.All(ctx)

	m.mu.Lock()
	if m.selected != id || m.work == nil || m.queryLocked() != q {
		m.mu.Unlock()
		m.metrics.RecordDiscarded(ctx, "defaults")
		return d, nil
	}
	m.defaults = d
	m.defaultsFor = &q
	if catErr == nil {
		m.pruneLocked(catalog)
	} else {
		m.err = fmt.Errorf("context pack catalog: %w", catErr)
	}
	m.mu.Unlock()
	m.notify()
	return d, catErr
}

// syncDefaults re-issues the recommendation when kind, namespace, project key
// or generate-code changed since the last answer. Either way the selection is
// pruned to packs that resolve for the current tuple.
func (m *Machine) syncDefaults(ctx context.Context) error {
	m.mu.Lock()
	if m.work == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	current := m.defaultsCurrentLocked()
	pruned := false
	if current {
		if catalog, ok := m.catalog.Cached(); ok {
			pruned = m.pruneLocked(catalog)
		}
	}
	m.mu.Unlock()
	if current {
		if pruned {
			m.notify()
		}
		return nil
	}
	_, err := m.RefreshDefaults(ctx)
	return err
}

func (m *Machine) defaultsCurrentLocked() bool {
	return m.work != nil && m.defaultsFor != nil && *m.defaultsFor == m.queryLocked()
}

// pruneLocked drops selected packs that do not resolve for the working tuple.
func (m *Machine) pruneLocked(catalog []domain.ContextPackSummary) bool {
	s := &m.work.session
	kept := contextpack.FilterResolvable(catalog, s.SelectedContextPackIDs, s.Kind, s.Namespace, s.ProjectKey)
	if len(kept) == len(s.SelectedContextPackIDs) {
		return false
	}
	s.SelectedContextPackIDs = kept
	m.work.dirty[FieldContextPacks] = true
	return true
}

// checkResolvableLocked rejects ids that do not resolve for the working
// tuple. Without a cached catalog the ids are accepted and pruned on the
// next save.
func (m *Machine) checkResolvableLocked(ids []string) error {
	catalog, ok := m.catalog.Cached()
	if !ok {
		return nil
	}
	s := m.work.session
	kept := contextpack.FilterResolvable(catalog, ids, s.Kind, s.Namespace, s.ProjectKey)
	for _, id := range ids {
		if !slices.Contains(kept, id) {
			return &UnresolvablePackError{ID: id, Namespace: s.Namespace, ProjectKey: s.ProjectKey}
		}
	}
	return nil
}

// ApplyRecommended adds the recommended packs to the selection. The
// recommendation must belong to the current tuple.
func (m *Machine) ApplyRecommended() error {
	m.mu.Lock()
	if m.work == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	if !m.defaultsCurrentLocked() {
		m.mu.Unlock()
		return ErrDefaultsStale
	}
	s := &m.work.session
	changed := false
	for _, id := range m.defaults.RecommendedContextPackIDs {
		if !slices.Contains(s.SelectedContextPackIDs, id) {
			s.SelectedContextPackIDs = append(s.SelectedContextPackIDs, id)
			changed = true
		}
	}
	if changed {
		m.work.dirty[FieldContextPacks] = true
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// Submit converts the session into a downstream entity at target. The target
// becomes the working placement first; required packs and the selection sent
// are those for that tuple.
func (m *Machine) Submit(ctx context.Context, target submit.Target) (domain.SubmitResult, error) {
	m.mu.Lock()
	if m.work == nil {
		m.mu.Unlock()
		return domain.SubmitResult{}, ErrNoSelection
	}
	id := m.selected
	submittable := submit.CanSubmit(m.work.session)
	m.mu.Unlock()

	if !submittable {
		m.metrics.RecordRejected(ctx, "submit", "not_submittable")
		return domain.SubmitResult{}, submit.ErrNotSubmittable
	}
	m.placeTarget(id, target)
	if err := m.syncDefaults(ctx); err != nil {
		return domain.SubmitResult{}, err
	}

	m.mu.Lock()
	if m.selected != id || m.work == nil {
		m.mu.Unlock()
		return domain.SubmitResult{}, ErrNoSelection
	}
	if !m.defaultsCurrentLocked() {
		m.mu.Unlock()
		return domain.SubmitResult{}, ErrDefaultsStale
	}
	session := m.work.session.Clone()
	required := append([]string(nil), m.defaults.RequiredPackNames...)
	m.mu.Unlock()

	catalog, err := m.catalog.All(ctx)
	if err != nil {
		m.setErr(err)
		return domain.SubmitResult{}, err
	}

	res, err := m.gate.Submit(ctx, submit.Request{
		Session:           session,
		RequiredPackNames: required,
		Catalog:           catalog,
		Target:            target,
	})
	var partial *submit.PartialSubmitError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		m.setErr(err)
		m.clearDirty(id, FieldNamespace, FieldProjectKey)
		_ = m.reconcile(ctx, id)
		return res, err
	case isLocal(err):
		m.metrics.RecordRejected(ctx, "submit", "precondition")
		return res, err
	default:
		return res, m.fail(ctx, id, err)
	}
	m.metrics.RecordAction(ctx, "submit")
	m.mu.Lock()
	if m.selected == id {
		m.notice = fmt.Sprintf("submitted as %s %s", res.EntityType, res.EntityID)
	}
	m.mu.Unlock()
	m.clearDirty(id, FieldNamespace, FieldProjectKey)
	return res, m.reconcile(ctx, id)
}

// placeTarget moves the working session to the submission placement so that
// recommendations and pruning are computed for it.
func (m *Machine) placeTarget(id string, t submit.Target) {
	namespace, name := strings.TrimSpace(t.Namespace), strings.TrimSpace(t.Name)
	if namespace == "" || name == "" {
		return
	}
	m.mu.Lock()
	if m.selected == id && m.work != nil {
		s := &m.work.session
		if s.Namespace != namespace {
			s.Namespace = namespace
			m.work.dirty[FieldNamespace] = true
		}
		if s.ProjectKey != name {
			s.ProjectKey = name
			m.work.dirty[FieldProjectKey] = true
		}
	}
	m.mu.Unlock()
}

func isLocal(err error) bool {
	var missing *submit.MissingPacksError
	return errors.As(err, &missing) ||
		errors.Is(err, submit.ErrNotSubmittable) ||
		errors.Is(err, submit.ErrEmptyPrompt) ||
		errors.Is(err, submit.ErrMissingTarget)
}

// AttachTranscript appends a transcribed voice note as a source artifact.
func (m *Machine) AttachTranscript(note domain.VoiceNote) error {
	if note.TranscriptText == nil || strings.TrimSpace(*note.TranscriptText) == "" {
		return ErrNoTranscript
	}
	text := *note.TranscriptText
	return m.edit(FieldSourceArtifacts, func(w *working) error {
		if note.SessionID != "" && note.SessionID != w.session.ID {
			return fmt.Errorf("voice note %s belongs to session %s", note.ID, note.SessionID)
		}
		w.session.SourceArtifacts = append(w.session.SourceArtifacts, domain.SourceArtifact{
			Type:    domain.ArtifactAudioTranscript,
			Content: text,
		})
		return nil
	})
}

func (m *Machine) SetTitle(title string) error {
	return m.edit(FieldTitle, func(w *working) error {
		w.session.Title = title
		return nil
	})
}

func (m *Machine) SetKind(kind string) error {
	if !domain.ValidKind(kind) {
		return ErrInvalidKind
	}
	return m.edit(FieldKind, func(w *working) error {
		w.session.Kind = kind
		return nil
	})
}

func (m *Machine) SetNamespace(namespace string) error {
	return m.edit(FieldNamespace, func(w *working) error {
		w.session.Namespace = strings.TrimSpace(namespace)
		return nil
	})
}

func (m *Machine) SetProjectKey(projectKey string) error {
	return m.edit(FieldProjectKey, func(w *working) error {
		w.session.ProjectKey = strings.TrimSpace(projectKey)
		return nil
	})
}

// SetPrompt edits the initial prompt; refused once the prompt is locked.
func (m *Machine) SetPrompt(prompt string) error {
	return m.edit(FieldPrompt, func(w *working) error {
		if w.session.InitialPromptLocked {
			return ErrPromptLocked
		}
		w.session.InitialPrompt = prompt
		return nil
	})
}

func (m *Machine) SetSourceArtifacts(artifacts []domain.SourceArtifact) error {
	return m.edit(FieldSourceArtifacts, func(w *working) error {
		w.session.SourceArtifacts = append([]domain.SourceArtifact(nil), artifacts...)
		return nil
	})
}

func (m *Machine) AddSourceArtifact(a domain.SourceArtifact) error {
	return m.edit(FieldSourceArtifacts, func(w *working) error {
		w.session.SourceArtifacts = append(w.session.SourceArtifacts, a)
		return nil
	})
}

// SetSelectedPacks replaces the selection. Every id must resolve for the
// current kind, namespace and project key.
func (m *Machine) SetSelectedPacks(ids []string) error {
	return m.edit(FieldContextPacks, func(w *working) error {
		ids = dedupe(ids)
		if err := m.checkResolvableLocked(ids); err != nil {
			return err
		}
		w.session.SelectedContextPackIDs = ids
		return nil
	})
}

// TogglePack adds or removes a pack from the selection.
func (m *Machine) TogglePack(id string) error {
	return m.edit(FieldContextPacks, func(w *working) error {
		ids := w.session.SelectedContextPackIDs
		if slices.Contains(ids, id) {
			out := make([]string, 0, len(ids))
			for _, x := range ids {
				if x != id {
					out = append(out, x)
				}
			}
			w.session.SelectedContextPackIDs = out
			return nil
		}
		if err := m.checkResolvableLocked([]string{id}); err != nil {
			return err
		}
		w.session.SelectedContextPackIDs = append(ids, id)
		return nil
	})
}

// SetInstruction sets the pending revision instruction.
func (m *Machine) SetInstruction(text string) error {
	m.mu.Lock()
	if m.work == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	m.work.instruction = text
	m.mu.Unlock()
	m.notify()
	return nil
}

// SetGenerateCode toggles code generation for submissions and recommendations.
func (m *Machine) SetGenerateCode(on bool) {
	m.mu.Lock()
	m.generateCode = on
	m.mu.Unlock()
	m.notify()
}

// Focus marks f as under active edit; fetched values do not overwrite it.
func (m *Machine) Focus(f Field) {
	m.mu.Lock()
	if m.work != nil {
		m.work.focused[f] = true
	}
	m.mu.Unlock()
}

func (m *Machine) Blur(f Field) {
	m.mu.Lock()
	if m.work != nil {
		delete(m.work.focused, f)
	}
	m.mu.Unlock()
}

// Revision history navigation for the selected session.

func (m *Machine) SearchRevisions(ctx context.Context, q string) (revisions.Page, error) {
	return m.revisionCall(ctx, func(id string) (revisions.Page, error) { return m.history.Search(ctx, id, q) })
}

func (m *Machine) RevisionPage(ctx context.Context, page int) (revisions.Page, error) {
	return m.revisionCall(ctx, func(id string) (revisions.Page, error) { return m.history.SetPage(ctx, id, page) })
}

func (m *Machine) NextRevisions(ctx context.Context) (revisions.Page, error) {
	return m.revisionCall(ctx, func(id string) (revisions.Page, error) { return m.history.Next(ctx, id) })
}

func (m *Machine) PrevRevisions(ctx context.Context) (revisions.Page, error) {
	return m.revisionCall(ctx, func(id string) (revisions.Page, error) { return m.history.Prev(ctx, id) })
}

func (m *Machine) openRevisions(ctx context.Context, id string) error {
	_, err := m.applyRevisions(ctx, id, func() (revisions.Page, error) { return m.history.Open(ctx, id) })
	return err
}

func (m *Machine) refreshRevisions(ctx context.Context, id string) error {
	_, err := m.applyRevisions(ctx, id, func() (revisions.Page, error) { return m.history.Refresh(ctx, id) })
	return err
}

func (m *Machine) revisionCall(ctx context.Context, call func(id string) (revisions.Page, error)) (revisions.Page, error) {
	id, err := m.selectedID()
	if err != nil {
		return revisions.Page{}, err
	}
	return m.applyRevisions(ctx, id, func() (revisions.Page, error) { return call(id) })
}

func (m *Machine) applyRevisions(ctx context.Context, id string, call func() (revisions.Page, error)) (revisions.Page, error) {
	page, err := call()
	m.mu.Lock()
	if m.selected != id {
		m.mu.Unlock()
		m.metrics.RecordDiscarded(ctx, "revisions")
		return page, nil
	}
	m.revPage = page
	m.mu.Unlock()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.sessionGone(ctx, id)
			return page, ErrSessionGone
		}
		if ctx.Err() == nil {
			m.setErr(fmt.Errorf("revisions: %w", err))
		}
		return page, err
	}
	m.notify()
	return page, nil
}

func (m *Machine) edit(f Field, apply func(w *working) error) error {
	m.mu.Lock()
	if m.work == nil {
		m.mu.Unlock()
		return ErrNoSelection
	}
	if err := apply(m.work); err != nil {
		m.mu.Unlock()
		return err
	}
	m.work.dirty[f] = true
	m.mu.Unlock()
	m.notify()
	return nil
}

// markSaved clears the dirty flag of fields whose value still equals what
// was sent.
func (m *Machine) markSaved(id string, sent domain.DraftSession, fields ...Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected != id || m.work == nil {
		return
	}
	for _, f := range fields {
		if fieldEqual(f, m.work.session, sent) {
			delete(m.work.dirty, f)
		}
	}
}

func (m *Machine) clearDirty(id string, fields ...Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected != id || m.work == nil {
		return
	}
	for _, f := range fields {
		delete(m.work.dirty, f)
	}
}

func (m *Machine) selectedID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.work == nil {
		return "", ErrNoSelection
	}
	return m.selected, nil
}

func (m *Machine) queryLocked() domain.ContextPackQuery {
	s := m.work.session
	return domain.ContextPackQuery{
		DraftKind:    s.Kind,
		Namespace:    s.Namespace,
		ProjectKey:   s.ProjectKey,
		GenerateCode: m.generateCode && s.Kind != domain.KindBlueprint,
	}
}

func hasArtifactContent(artifacts []domain.SourceArtifact) bool {
	for _, a := range artifacts {
		if strings.TrimSpace(a.Content) != "" {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
