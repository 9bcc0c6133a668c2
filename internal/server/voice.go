package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"xynconsole/internal/domain"
	"xynconsole/internal/engine"
)

type listPacksInput struct {
	Scope      string `query:"scope"`
	Namespace  string `query:"namespace"`
	ProjectKey string `query:"project_key"`
	Purpose    string `query:"purpose"`
}

type listPacksOutput struct {
	Body ListResponse[domain.ContextPackSummary]
}

type packDefaultsInput struct {
	DraftKind    string `query:"draft_kind" required:"true"`
	Namespace    string `query:"namespace"`
	ProjectKey   string `query:"project_key"`
	GenerateCode bool   `query:"generate_code"`
}

type packDefaultsOutput struct {
	Body domain.ContextPackDefaults
}

type voiceNotesOutput struct {
	Body ListResponse[domain.VoiceNote]
}

type voiceNotePathInput struct {
	ID string `path:"id" doc:"Voice note id"`
}

type voiceNoteOutput struct {
	Body domain.VoiceNote
}

type devLoginInput struct {
	Body DevLoginRequest
}

type devLoginOutput struct {
	Body DevLoginResponse
}

func registerContextPacks(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-context-packs",
		Method:      http.MethodGet,
		Path:        "/context-packs",
		Summary:     "List the context pack catalog",
		Tags:        []string{"Context packs"},
	}, func(ctx context.Context, input *listPacksInput) (*listPacksOutput, error) {
		items, err := eng.ListContextPacks(ctx, domain.ContextPackFilter{
			Scope:      input.Scope,
			Namespace:  input.Namespace,
			ProjectKey: input.ProjectKey,
			Purpose:    input.Purpose,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &listPacksOutput{Body: ListResponse[domain.ContextPackSummary]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "context-pack-defaults",
		Method:      http.MethodGet,
		Path:        "/context-packs/defaults",
		Summary:     "Recommended and required packs for a draft",
		Tags:        []string{"Context packs"},
	}, func(ctx context.Context, input *packDefaultsInput) (*packDefaultsOutput, error) {
		defaults, err := eng.Defaults(ctx, domain.ContextPackQuery{
			DraftKind:    input.DraftKind,
			Namespace:    input.Namespace,
			ProjectKey:   input.ProjectKey,
			GenerateCode: input.GenerateCode,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &packDefaultsOutput{Body: defaults}, nil
	})
}

func registerVoiceNotes(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-session-voice-notes",
		Method:      http.MethodGet,
		Path:        "/draft-sessions/{id}/voice-notes",
		Summary:     "List voice notes attached to a session",
		Tags:        []string{"Voice notes"},
	}, func(ctx context.Context, input *sessionPathInput) (*voiceNotesOutput, error) {
		items, err := eng.ListVoiceNotes(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &voiceNotesOutput{Body: ListResponse[domain.VoiceNote]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-voice-note",
		Method:      http.MethodGet,
		Path:        "/voice-notes/{id}",
		Summary:     "Get a voice note",
		Tags:        []string{"Voice notes"},
	}, func(ctx context.Context, input *voiceNotePathInput) (*voiceNoteOutput, error) {
		note, err := eng.GetVoiceNote(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &voiceNoteOutput{Body: note}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-voice-transcription",
		Method:        http.MethodPost,
		Path:          "/voice-notes/{id}/enqueue-transcription",
		Summary:       "Queue transcription of a voice note",
		Tags:          []string{"Voice notes"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *voiceNotePathInput) (*struct{}, error) {
		actorID, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		if err := eng.EnqueueTranscription(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerVoiceUpload mounts the multipart upload on the router directly.
func registerVoiceUpload(r chi.Router, basePath string, eng engine.Engine) {
	r.Post(path.Join(basePath, "voice-notes"), func(w http.ResponseWriter, req *http.Request) {
		actorID, aerr := actorIDFromContext(req.Context())
		if aerr != nil {
			respondStatusError(w, aerr)
			return
		}
		if err := req.ParseMultipartForm(8 << 20); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form required: "+err.Error(), nil))
			return
		}
		defer req.MultipartForm.RemoveAll()
		file, header, err := req.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file is required", nil))
			return
		}
		defer file.Close()
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		note, err := eng.UploadVoiceNote(req.Context(), engine.VoiceUpload{
			SessionID:    req.FormValue("session_id"),
			LanguageCode: req.FormValue("language_code"),
			Filename:     header.Filename,
			ContentType:  contentType,
			Size:         header.Size,
			Body:         file,
		}, actorID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(VoiceNoteUploadResponse{VoiceNoteID: note.ID})
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token for an actor",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *devLoginInput) (*devLoginOutput, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(cfg.JWTSecret, input.Body.ActorID, time.Now())
		if err != nil {
			if errors.Is(err, errNoSecret) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "dev login requires a jwt secret", nil)
			}
			return nil, handleError(err)
		}
		return &devLoginOutput{Body: DevLoginResponse{Token: token}}, nil
	})
}
