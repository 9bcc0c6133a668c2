package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"xynconsole/internal/contextpack"
	"xynconsole/internal/domain"
	"xynconsole/internal/events"
	"xynconsole/internal/repo"
)

// CreateSession stores a new, settled session.
func (e Engine) CreateSession(ctx context.Context, fields domain.DraftSessionFields, actorID string) (domain.DraftSession, error) {
	kind := strings.TrimSpace(fields.Kind)
	if kind == "" {
		kind = domain.KindBlueprint
	}
	if !domain.ValidKind(kind) {
		return domain.DraftSession{}, invalidf("kind must be blueprint or solution")
	}
	title := strings.TrimSpace(fields.Title)
	if title == "" {
		title = "Untitled draft"
	}
	catalog, err := e.catalog(ctx)
	if err != nil {
		return domain.DraftSession{}, err
	}
	if err := knownPacks(catalog, fields.SelectedContextPackIDs); err != nil {
		return domain.DraftSession{}, err
	}
	now := e.now()
	s := domain.DraftSession{
		ID:                     uuid.NewString(),
		Kind:                   kind,
		Namespace:              strings.TrimSpace(fields.Namespace),
		ProjectKey:             strings.TrimSpace(fields.ProjectKey),
		Title:                  title,
		InitialPrompt:          fields.InitialPrompt,
		SourceArtifacts:        fields.SourceArtifacts,
		SelectedContextPackIDs: fields.SelectedContextPackIDs,
		Status:                 domain.StatusReady,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	err = e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertSession(ctx, tx, s, actorID); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return e.Events.Append(ctx, tx, events.SessionCreated, s.ID, actorID, events.Payload{"kind": s.Kind, "title": s.Title})
	})
	if err != nil {
		return domain.DraftSession{}, err
	}
	return s, nil
}

// GetSession loads a session with its server-computed staleness.
func (e Engine) GetSession(ctx context.Context, id string) (domain.DraftSession, error) {
	s, err := e.Repo.GetSession(ctx, nil, id)
	if err != nil {
		return domain.DraftSession{}, fmt.Errorf("draft session %s: %w", id, err)
	}
	catalog, err := e.catalog(ctx)
	if err != nil {
		return domain.DraftSession{}, err
	}
	markStale(&s, catalog)
	return s, nil
}

func (e Engine) ListSessions(ctx context.Context, f domain.DraftSessionFilter) ([]domain.DraftSession, error) {
	items, err := e.Repo.ListSessions(ctx, repo.SessionFilters{
		Status:     f.Status,
		Kind:       f.Kind,
		Namespace:  f.Namespace,
		ProjectKey: f.ProjectKey,
		Q:          f.Q,
	})
	if err != nil {
		return nil, err
	}
	catalog, err := e.catalog(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		markStale(&items[i], catalog)
	}
	return items, nil
}

// UpdateSession applies a partial metadata update. A locked prompt may only be
// resent unchanged.
func (e Engine) UpdateSession(ctx context.Context, id string, u domain.DraftSessionUpdate, actorID string) (domain.DraftSession, error) {
	if u.Empty() {
		return domain.DraftSession{}, invalidf("update carries no fields")
	}
	var out domain.DraftSession
	err := e.mutate(ctx, id, func(tx *sql.Tx, s *domain.DraftSession) error {
		var changed []string
		if u.Title != nil {
			title := strings.TrimSpace(*u.Title)
			if title == "" {
				return invalidf("title must not be empty")
			}
			s.Title = title
			changed = append(changed, "title")
		}
		if u.Kind != nil {
			if !domain.ValidKind(*u.Kind) {
				return invalidf("kind must be blueprint or solution")
			}
			s.Kind = *u.Kind
			changed = append(changed, "kind")
		}
		if u.Namespace != nil {
			s.Namespace = strings.TrimSpace(*u.Namespace)
			changed = append(changed, "namespace")
		}
		if u.ProjectKey != nil {
			s.ProjectKey = strings.TrimSpace(*u.ProjectKey)
			changed = append(changed, "project_key")
		}
		if u.InitialPrompt != nil && *u.InitialPrompt != s.InitialPrompt {
			if s.InitialPromptLocked {
				return conflictf("initial prompt is locked")
			}
			s.InitialPrompt = *u.InitialPrompt
			changed = append(changed, "initial_prompt")
		}
		if u.SourceArtifacts != nil {
			s.SourceArtifacts = *u.SourceArtifacts
			changed = append(changed, "source_artifacts")
		}
		if u.SelectedContextPackIDs != nil {
			catalog, err := e.catalog(ctx)
			if err != nil {
				return err
			}
			if err := knownPacks(catalog, *u.SelectedContextPackIDs); err != nil {
				return err
			}
			s.SelectedContextPackIDs = *u.SelectedContextPackIDs
			changed = append(changed, "selected_context_pack_ids")
		}
		if u.Status != nil && *u.Status != s.Status {
			if *u.Status != domain.StatusArchived {
				return invalidf("status can only be set to archived")
			}
			if domain.IsInFlight(s.Status) {
				return conflictf("cannot archive while a job is in flight")
			}
			s.Status = domain.StatusArchived
			changed = append(changed, "status")
		}
		out = *s
		return e.Events.Append(ctx, tx, events.SessionUpdated, id, actorID, events.Payload{"fields": changed})
	})
	return out, err
}

// DeleteSession hard-removes a session and its revisions.
func (e Engine) DeleteSession(ctx context.Context, id, actorID string) error {
	return e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteSession(ctx, tx, id); err != nil {
			return fmt.Errorf("draft session %s: %w", id, err)
		}
		return e.Events.Append(ctx, tx, events.SessionDeleted, id, actorID, nil)
	})
}

// ResolveContext pins the selection and records its hash.
func (e Engine) ResolveContext(ctx context.Context, id string, packIDs []string, actorID string) (domain.DraftSession, error) {
	catalog, err := e.catalog(ctx)
	if err != nil {
		return domain.DraftSession{}, err
	}
	if err := knownPacks(catalog, packIDs); err != nil {
		return domain.DraftSession{}, err
	}
	var out domain.DraftSession
	err = e.mutate(ctx, id, func(tx *sql.Tx, s *domain.DraftSession) error {
		if dropped := unresolvable(catalog, packIDs, s); len(dropped) > 0 {
			return invalidf("context packs not resolvable for this session: %s", strings.Join(dropped, ", "))
		}
		s.SelectedContextPackIDs = slices.Clone(packIDs)
		s.EffectiveContextHash = ContextHash(catalog, packIDs)
		at := e.now()
		s.ContextResolvedAt = &at
		s.ContextStale = false
		out = *s
		return e.Events.Append(ctx, tx, events.SessionContextResolved, id, actorID, events.Payload{
			"context_pack_ids": packIDs,
			"hash":             s.EffectiveContextHash,
		})
	})
	return out, err
}

// mutate loads a session in a transaction, applies fn and saves the result.
func (e Engine) mutate(ctx context.Context, id string, fn func(tx *sql.Tx, s *domain.DraftSession) error) error {
	return e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetSession(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("draft session %s: %w", id, err)
		}
		if err := fn(tx, &s); err != nil {
			return err
		}
		s.UpdatedAt = e.now()
		return e.Repo.SaveSession(ctx, tx, s)
	})
}

func knownPacks(catalog []domain.ContextPackSummary, ids []string) error {
	var unknown []string
	for _, id := range ids {
		if !slices.ContainsFunc(catalog, func(p domain.ContextPackSummary) bool { return p.ID == id }) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return invalidf("unknown context packs: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func unresolvable(catalog []domain.ContextPackSummary, ids []string, s *domain.DraftSession) []string {
	kept := contextpack.FilterResolvable(catalog, ids, s.Kind, s.Namespace, s.ProjectKey)
	var dropped []string
	for _, id := range ids {
		if !slices.Contains(kept, id) {
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// SessionEvents returns the audit trail of a session, newest first.
func (e Engine) SessionEvents(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	if _, err := e.Repo.GetSession(ctx, nil, id); err != nil {
		return nil, fmt.Errorf("draft session %s: %w", id, err)
	}
	return e.Repo.SessionEvents(ctx, id, limit)
}
