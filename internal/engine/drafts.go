package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"xynconsole/internal/contextpack"
	"xynconsole/internal/domain"
	"xynconsole/internal/engine/generate"
	"xynconsole/internal/events"
	"xynconsole/internal/repo"
)

func hasArtifactContent(artifacts []domain.SourceArtifact) bool {
	return slices.ContainsFunc(artifacts, func(a domain.SourceArtifact) bool {
		return strings.TrimSpace(a.Content) != ""
	})
}

// EnqueueGeneration queues a generation job. A present prompt becomes locked.
func (e Engine) EnqueueGeneration(ctx context.Context, id, actorID string) (domain.DraftSession, error) {
	var out domain.DraftSession
	err := e.mutate(ctx, id, func(tx *sql.Tx, s *domain.DraftSession) error {
		hasPrompt := strings.TrimSpace(s.InitialPrompt) != ""
		if !hasPrompt && !hasArtifactContent(s.SourceArtifacts) {
			return preconditionf("an initial prompt or source artifact is required")
		}
		if domain.IsInFlight(s.Status) {
			return conflictf("a job is already in flight for this session")
		}
		job := repo.Job{ID: uuid.NewString(), Type: repo.JobGenerate, SubjectID: id, CreatedAt: e.now()}
		if err := e.Repo.InsertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		s.Status = domain.StatusQueued
		s.JobID = job.ID
		s.LastError = ""
		if hasPrompt {
			s.InitialPromptLocked = true
		}
		out = *s
		return e.Events.Append(ctx, tx, events.SessionGenerationQueued, id, actorID, events.Payload{"job_id": job.ID})
	})
	if err == nil {
		e.Metrics.RecordJobEnqueued(ctx, repo.JobGenerate)
	}
	return out, err
}

// EnqueueRevision queues a revision of the generated draft.
func (e Engine) EnqueueRevision(ctx context.Context, id, instruction, actorID string) (domain.DraftSession, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return domain.DraftSession{}, invalidf("instruction is required")
	}
	var out domain.DraftSession
	err := e.mutate(ctx, id, func(tx *sql.Tx, s *domain.DraftSession) error {
		if !s.HasGeneratedOutput {
			return preconditionf("nothing has been generated yet")
		}
		if domain.IsInFlight(s.Status) {
			return conflictf("a job is already in flight for this session")
		}
		job := repo.Job{ID: uuid.NewString(), Type: repo.JobRevise, SubjectID: id, Instruction: instruction, CreatedAt: e.now()}
		if err := e.Repo.InsertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		s.Status = domain.StatusQueued
		s.JobID = job.ID
		s.LastError = ""
		out = *s
		return e.Events.Append(ctx, tx, events.SessionRevisionQueued, id, actorID, events.Payload{"job_id": job.ID, "instruction": instruction})
	})
	if err == nil {
		e.Metrics.RecordJobEnqueued(ctx, repo.JobRevise)
	}
	return out, err
}

// SaveDraft replaces the draft document and re-validates it. Status is unchanged.
func (e Engine) SaveDraft(ctx context.Context, id string, draft json.RawMessage, actorID string) (domain.DraftSession, error) {
	if !json.Valid(draft) {
		return domain.DraftSession{}, invalidf("draft_json is not valid JSON")
	}
	var out domain.DraftSession
	err := e.mutate(ctx, id, func(tx *sql.Tx, s *domain.DraftSession) error {
		if domain.IsInFlight(s.Status) {
			return conflictf("a job is in flight for this session")
		}
		s.Draft = append(json.RawMessage(nil), draft...)
		s.ValidationErrors = generate.Validate(s.Kind, draft)
		rev, err := e.Repo.InsertRevision(ctx, tx, domain.DraftRevision{
			ID:                    uuid.NewString(),
			SessionID:             id,
			Action:                domain.ActionSave,
			DiffSummary:           "manual edit",
			ValidationErrorsCount: len(s.ValidationErrors),
			CreatedAt:             e.now(),
		}, draft)
		if err != nil {
			return err
		}
		s.DiffSummary = rev.DiffSummary
		out = *s
		return e.Events.Append(ctx, tx, events.SessionSaved, id, actorID, events.Payload{"revision": rev.RevisionNumber})
	})
	return out, err
}

// Snapshot records the current draft as a checkpoint revision.
func (e Engine) Snapshot(ctx context.Context, id, note, actorID string) (domain.DraftRevision, error) {
	var out domain.DraftRevision
	err := e.mutate(ctx, id, func(tx *sql.Tx, s *domain.DraftSession) error {
		if !s.HasGeneratedOutput && !s.HasDraft() {
			return preconditionf("there is no draft to snapshot")
		}
		rev, err := e.Repo.InsertRevision(ctx, tx, domain.DraftRevision{
			ID:                    uuid.NewString(),
			SessionID:             id,
			Action:                domain.ActionSnapshot,
			Instruction:           strings.TrimSpace(note),
			ValidationErrorsCount: len(s.ValidationErrors),
			CreatedAt:             e.now(),
		}, s.Draft)
		if err != nil {
			return err
		}
		out = rev
		return e.Events.Append(ctx, tx, events.SessionSnapshot, id, actorID, events.Payload{"revision": rev.RevisionNumber, "note": note})
	})
	return out, err
}

// ListRevisions pages a session's revision history.
func (e Engine) ListRevisions(ctx context.Context, id string, q domain.RevisionQuery) (domain.RevisionPage, error) {
	if _, err := e.Repo.GetSession(ctx, nil, id); err != nil {
		return domain.RevisionPage{}, fmt.Errorf("draft session %s: %w", id, err)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 5
	}
	return e.Repo.ListRevisions(ctx, id, q)
}

// Submit converts a session into a blueprint or solution entity. Resubmitting a
// published session returns the same entity.
func (e Engine) Submit(ctx context.Context, id string, req domain.SubmitRequest, actorID string) (domain.SubmitResult, error) {
	catalog, err := e.catalog(ctx)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	var out domain.SubmitResult
	err = e.mutate(ctx, id, func(tx *sql.Tx, s *domain.DraftSession) error {
		if s.Status == domain.StatusPublished && s.SubmittedEntityID != "" {
			out = domain.SubmitResult{Status: s.Status, EntityType: s.SubmittedEntityType, EntityID: s.SubmittedEntityID}
			return nil
		}
		if domain.IsInFlight(s.Status) {
			return conflictf("a job is in flight for this session")
		}
		if !s.HasGeneratedOutput || len(s.ValidationErrors) > 0 {
			return preconditionf("session has no valid generated output")
		}
		if strings.TrimSpace(req.InitialPrompt) == "" {
			return invalidf("initial_prompt is required")
		}
		if s.Namespace == "" || s.ProjectKey == "" {
			return preconditionf("namespace and project_key must be set before submission")
		}
		if err := knownPacks(catalog, req.SelectedContextPackIDs); err != nil {
			return err
		}
		generateCode := req.GenerateCode && s.Kind == domain.KindSolution
		defaults := defaultsFor(e.Config, catalog, domain.ContextPackQuery{
			DraftKind:    s.Kind,
			Namespace:    s.Namespace,
			ProjectKey:   s.ProjectKey,
			GenerateCode: generateCode,
		})
		if missing := contextpack.MissingNames(catalog, req.SelectedContextPackIDs, defaults.RequiredPackNames); len(missing) > 0 {
			return preconditionf("missing required context packs: %s", strings.Join(missing, ", "))
		}
		entityID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.Kind+"/"+s.Namespace+"/"+s.ProjectKey)).String()
		s.Status = domain.StatusPublished
		s.SubmittedEntityType = s.Kind
		s.SubmittedEntityID = entityID
		out = domain.SubmitResult{Status: s.Status, EntityType: s.Kind, EntityID: entityID}
		return e.Events.Append(ctx, tx, events.SessionSubmitted, id, actorID, events.Payload{
			"entity_type":      s.Kind,
			"entity_id":        entityID,
			"generate_code":    generateCode,
			"context_pack_ids": req.SelectedContextPackIDs,
			"artifacts":        len(req.SourceArtifacts),
		})
	})
	return out, err
}
