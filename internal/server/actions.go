package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"xynconsole/internal/domain"
	"xynconsole/internal/engine"
)

type resolveContextInput struct {
	ID   string `path:"id"`
	Body ResolveContextRequest
}

type revisionInput struct {
	ID   string `path:"id"`
	Body RevisionRequest
}

type saveDraftInput struct {
	ID   string `path:"id"`
	Body SaveDraftRequest
}

type snapshotInput struct {
	ID   string `path:"id"`
	Body SnapshotRequest
}

type revisionOutput struct {
	Body domain.DraftRevision
}

type submitInput struct {
	ID   string `path:"id"`
	Body domain.SubmitRequest
}

type submitOutput struct {
	Body domain.SubmitResult
}

type listRevisionsInput struct {
	ID       string `path:"id"`
	Q        string `query:"q" doc:"Matches action, instruction or diff summary"`
	Page     int    `query:"page" minimum:"0"`
	PageSize int    `query:"page_size" minimum:"0" maximum:"100"`
}

type listRevisionsOutput struct {
	Body domain.RevisionPage
}

func registerSessionActions(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "resolve-draft-session-context",
		Method:      http.MethodPost,
		Path:        "/draft-sessions/{id}/resolve-context",
		Summary:     "Pin the effective context for the selected packs",
		Tags:        []string{"Draft actions"},
	}, func(ctx context.Context, input *resolveContextInput) (*sessionOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		s, err := eng.ResolveContext(ctx, input.ID, input.Body.ContextPackIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-draft-generation",
		Method:        http.MethodPost,
		Path:          "/draft-sessions/{id}/enqueue-generation",
		Summary:       "Queue draft generation",
		Tags:          []string{"Draft actions"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *sessionPathInput) (*sessionOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		s, err := eng.EnqueueGeneration(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-draft-revision",
		Method:        http.MethodPost,
		Path:          "/draft-sessions/{id}/enqueue-revision",
		Summary:       "Queue a revision of the generated draft",
		Tags:          []string{"Draft actions"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *revisionInput) (*sessionOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		s, err := eng.EnqueueRevision(ctx, input.ID, input.Body.Instruction, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-draft",
		Method:      http.MethodPost,
		Path:        "/draft-sessions/{id}/save",
		Summary:     "Replace the draft document",
		Tags:        []string{"Draft actions"},
	}, func(ctx context.Context, input *saveDraftInput) (*sessionOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		doc, err := input.Body.document()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		s, err := eng.SaveDraft(ctx, input.ID, doc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "snapshot-draft",
		Method:      http.MethodPost,
		Path:        "/draft-sessions/{id}/snapshot",
		Summary:     "Record a checkpoint revision",
		Tags:        []string{"Draft actions"},
	}, func(ctx context.Context, input *snapshotInput) (*revisionOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		rev, err := eng.Snapshot(ctx, input.ID, input.Body.Note, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &revisionOutput{Body: rev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-draft-session",
		Method:      http.MethodPost,
		Path:        "/draft-sessions/{id}/submit",
		Summary:     "Submit the draft as a blueprint or solution",
		Tags:        []string{"Draft actions"},
	}, func(ctx context.Context, input *submitInput) (*submitOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		res, err := eng.Submit(ctx, input.ID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &submitOutput{Body: res}, nil
	})
}

func registerRevisions(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-draft-revisions",
		Method:      http.MethodGet,
		Path:        "/draft-sessions/{id}/revisions",
		Summary:     "Page a session's revision history, newest first",
		Tags:        []string{"Draft revisions"},
	}, func(ctx context.Context, input *listRevisionsInput) (*listRevisionsOutput, error) {
		page, err := eng.ListRevisions(ctx, input.ID, domain.RevisionQuery{
			Q:        input.Q,
			Page:     input.Page,
			PageSize: input.PageSize,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &listRevisionsOutput{Body: page}, nil
	})
}
