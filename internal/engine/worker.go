package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"xynconsole/internal/domain"
	"xynconsole/internal/engine/generate"
	"xynconsole/internal/events"
	"xynconsole/internal/repo"
)

// Worker drains the job queue one job at a time.
type Worker struct {
	Engine   Engine
	Interval time.Duration
}

// Run processes jobs until ctx is done, sleeping Interval when the queue is empty.
func (w Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			ran, err := w.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				w.Engine.logger().Printf("worker: %v", err)
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes the next job. It reports false when the queue is empty.
func (w Worker) RunOnce(ctx context.Context) (bool, error) {
	e := w.Engine
	job, err := e.Repo.ClaimNextJob(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	started := time.Now()
	e.Metrics.RecordJobStarted(ctx, job.Type)
	switch job.Type {
	case repo.JobGenerate, repo.JobRevise:
		err = e.runDraftJob(ctx, job)
	case repo.JobTranscribe:
		err = e.runTranscription(ctx, job)
	default:
		err = fmt.Errorf("unknown job type %s", job.Type)
	}
	status, lastError := repo.JobSucceeded, ""
	if err != nil {
		status, lastError = repo.JobFailed, err.Error()
		e.Metrics.RecordJobFailed(ctx, job.Type, time.Since(started))
		e.logger().Printf("job %s (%s %s) failed: %v", job.ID, job.Type, job.SubjectID, err)
	} else {
		e.Metrics.RecordJobCompleted(ctx, job.Type, time.Since(started))
	}
	if ferr := e.Repo.FinishJob(ctx, nil, job.ID, status, lastError); ferr != nil {
		return true, fmt.Errorf("finish job %s: %w", job.ID, ferr)
	}
	return true, nil
}

// runDraftJob moves the session to drafting, runs the generator outside any
// transaction and stores the result. Generator errors leave the session failed.
func (e Engine) runDraftJob(ctx context.Context, job repo.Job) error {
	var in generate.Input
	catalog, err := e.catalog(ctx)
	if err != nil {
		return err
	}
	err = e.mutate(ctx, job.SubjectID, func(_ *sql.Tx, s *domain.DraftSession) error {
		s.Status = domain.StatusDrafting
		in = generate.Input{
			Kind:      s.Kind,
			Title:     s.Title,
			Prompt:    s.InitialPrompt,
			Artifacts: s.SourceArtifacts,
			Packs:     selectedPacks(catalog, s.SelectedContextPackIDs),
		}
		if job.Type == repo.JobRevise {
			in.PreviousDraft = s.Draft
			in.Instruction = job.Instruction
		}
		return nil
	})
	if err != nil {
		return err
	}

	out, genErr := e.Generator.Generate(ctx, in)

	action := domain.ActionGenerate
	if job.Type == repo.JobRevise {
		action = domain.ActionRevise
	}
	err = e.mutate(ctx, job.SubjectID, func(tx *sql.Tx, s *domain.DraftSession) error {
		if s.JobID != job.ID {
			return nil
		}
		if genErr != nil {
			s.Status = domain.StatusFailed
			s.LastError = genErr.Error()
			return e.Events.Append(ctx, tx, events.SessionJobFailed, s.ID, "", events.Payload{"job_id": job.ID, "error": genErr.Error()})
		}
		s.Draft = out.Draft
		s.HasGeneratedOutput = true
		s.ValidationErrors = generate.Validate(s.Kind, out.Draft)
		s.RequirementsSummary = out.RequirementsSummary
		s.DiffSummary = out.DiffSummary
		s.LastError = ""
		s.Status = domain.StatusReady
		if len(s.ValidationErrors) > 0 {
			s.Status = domain.StatusReadyWithErrors
		}
		rev, err := e.Repo.InsertRevision(ctx, tx, domain.DraftRevision{
			ID:                    uuid.NewString(),
			SessionID:             s.ID,
			Action:                action,
			Instruction:           job.Instruction,
			DiffSummary:           out.DiffSummary,
			ValidationErrorsCount: len(s.ValidationErrors),
			CreatedAt:             e.now(),
		}, out.Draft)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SessionGenerated, s.ID, "", events.Payload{
			"job_id":            job.ID,
			"revision":          rev.RevisionNumber,
			"validation_errors": len(s.ValidationErrors),
		})
	})
	if err != nil {
		return err
	}
	return genErr
}

func selectedPacks(catalog []domain.ContextPackSummary, ids []string) []domain.ContextPackSummary {
	var out []domain.ContextPackSummary
	for _, id := range ids {
		for _, p := range catalog {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out
}
