// Package submit converts a settled, valid draft session into a downstream
// entity.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"xynconsole/internal/contextpack"
	"xynconsole/internal/domain"
)

var (
	ErrNotSubmittable = errors.New("session has no generated output or has validation errors")
	ErrEmptyPrompt    = errors.New("initial prompt is required to submit")
	ErrMissingTarget  = errors.New("target namespace and name are required to submit")
)

// MissingPacksError lists required pack names not covered by the selection.
type MissingPacksError struct {
	Names []string
}

func (e *MissingPacksError) Error() string {
	return fmt.Sprintf("required context packs not selected: %s", strings.Join(e.Names, ", "))
}

// PartialSubmitError means placement metadata was saved but the submit call
// failed. Submitting again reuses the saved metadata.
type PartialSubmitError struct {
	Namespace  string
	ProjectKey string
	Err        error
}

func (e *PartialSubmitError) Error() string {
	return fmt.Sprintf("placement saved as %s/%s but submit failed: %v", e.Namespace, e.ProjectKey, e.Err)
}

func (e *PartialSubmitError) Unwrap() error { return e.Err }

// API is the subset of the draft-session backend the gate calls.
type API interface {
	UpdateDraftSession(ctx context.Context, id string, u domain.DraftSessionUpdate) error
	SubmitDraftSession(ctx context.Context, id string, req domain.SubmitRequest) (domain.SubmitResult, error)
}

// Target is the user-confirmed placement of the new entity.
type Target struct {
	Namespace    string
	Name         string
	GenerateCode bool
}

// Request carries everything the gate checks. The gate reads it and never
// writes back.
type Request struct {
	Session           domain.DraftSession
	RequiredPackNames []string
	Catalog           []domain.ContextPackSummary
	Target            Target
}

type Gate struct {
	API API
}

// CanSubmit reports whether the session is in a submittable state.
func CanSubmit(s domain.DraftSession) bool {
	return s.HasGeneratedOutput && len(s.ValidationErrors) == 0
}

// Check runs every local precondition without touching the network.
func Check(req Request) error {
	if !CanSubmit(req.Session) {
		return ErrNotSubmittable
	}
	if strings.TrimSpace(req.Session.InitialPrompt) == "" {
		return ErrEmptyPrompt
	}
	if strings.TrimSpace(req.Target.Namespace) == "" || strings.TrimSpace(req.Target.Name) == "" {
		return ErrMissingTarget
	}
	missing := contextpack.MissingNames(req.Catalog, req.Session.SelectedContextPackIDs, req.RequiredPackNames)
	if len(missing) > 0 {
		return &MissingPacksError{Names: missing}
	}
	return nil
}

// Submit checks preconditions, saves the placement, then submits.
func (g Gate) Submit(ctx context.Context, req Request) (domain.SubmitResult, error) {
	if err := Check(req); err != nil {
		return domain.SubmitResult{}, err
	}
	s := req.Session
	namespace := strings.TrimSpace(req.Target.Namespace)
	projectKey := strings.TrimSpace(req.Target.Name)
	if err := g.API.UpdateDraftSession(ctx, s.ID, domain.DraftSessionUpdate{
		Namespace:  &namespace,
		ProjectKey: &projectKey,
	}); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("save placement: %w", err)
	}
	generateCode := req.Target.GenerateCode && s.Kind != domain.KindBlueprint
	res, err := g.API.SubmitDraftSession(ctx, s.ID, domain.SubmitRequest{
		InitialPrompt:          s.InitialPrompt,
		SelectedContextPackIDs: append([]string{}, s.SelectedContextPackIDs...),
		SourceArtifacts:        append([]domain.SourceArtifact{}, s.SourceArtifacts...),
		GenerateCode:           generateCode,
	})
	if err != nil {
		return domain.SubmitResult{}, &PartialSubmitError{Namespace: namespace, ProjectKey: projectKey, Err: err}
	}
	return res, nil
}
