package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"xynconsole/internal/domain"
	"xynconsole/internal/engine"
)

type sessionPathInput struct {
	ID string `path:"id" doc:"Draft session id"`
}

type sessionOutput struct {
	Body domain.DraftSession
}

type listSessionsInput struct {
	Status     string `query:"status"`
	Kind       string `query:"kind"`
	Namespace  string `query:"namespace"`
	ProjectKey string `query:"project_key"`
	Q          string `query:"q" doc:"Substring match on title"`
}

type listSessionsOutput struct {
	Body ListResponse[domain.DraftSession]
}

type createSessionInput struct {
	Body domain.DraftSessionFields
}

type createSessionOutput struct {
	Body CreateSessionResponse
}

type updateSessionInput struct {
	ID   string `path:"id"`
	Body domain.DraftSessionUpdate
}

type eventsInput struct {
	ID    string `path:"id"`
	Limit int    `query:"limit" minimum:"0" maximum:"500"`
}

type eventsOutput struct {
	Body EventsResponse
}

func registerSessions(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-draft-sessions",
		Method:      http.MethodGet,
		Path:        "/draft-sessions",
		Summary:     "List draft sessions",
		Tags:        []string{"Draft sessions"},
	}, func(ctx context.Context, input *listSessionsInput) (*listSessionsOutput, error) {
		items, err := eng.ListSessions(ctx, domain.DraftSessionFilter{
			Status:     input.Status,
			Kind:       input.Kind,
			Namespace:  input.Namespace,
			ProjectKey: input.ProjectKey,
			Q:          input.Q,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &listSessionsOutput{Body: ListResponse[domain.DraftSession]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-draft-session",
		Method:        http.MethodPost,
		Path:          "/draft-sessions",
		Summary:       "Create a draft session",
		Tags:          []string{"Draft sessions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *createSessionInput) (*createSessionOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		s, err := eng.CreateSession(ctx, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &createSessionOutput{Body: CreateSessionResponse{SessionID: s.ID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft-session",
		Method:      http.MethodGet,
		Path:        "/draft-sessions/{id}",
		Summary:     "Get a draft session with its draft",
		Tags:        []string{"Draft sessions"},
	}, func(ctx context.Context, input *sessionPathInput) (*sessionOutput, error) {
		s, err := eng.GetSession(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draft-session",
		Method:      http.MethodPatch,
		Path:        "/draft-sessions/{id}",
		Summary:     "Update session metadata",
		Tags:        []string{"Draft sessions"},
	}, func(ctx context.Context, input *updateSessionInput) (*sessionOutput, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		s, err := eng.UpdateSession(ctx, input.ID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-draft-session",
		Method:        http.MethodDelete,
		Path:          "/draft-sessions/{id}",
		Summary:       "Delete a draft session",
		Tags:          []string{"Draft sessions"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *sessionPathInput) (*struct{}, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		if err := eng.DeleteSession(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-draft-session-events",
		Method:      http.MethodGet,
		Path:        "/draft-sessions/{id}/events",
		Summary:     "List a session's audit events",
		Tags:        []string{"Draft sessions"},
	}, func(ctx context.Context, input *eventsInput) (*eventsOutput, error) {
		items, err := eng.SessionEvents(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &eventsOutput{Body: EventsResponse{Items: items}}, nil
	})
}
