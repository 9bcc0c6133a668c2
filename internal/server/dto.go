package server

import (
	"encoding/json"
	"fmt"

	"xynconsole/internal/domain"
)

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type ResolveContextRequest struct {
	ContextPackIDs []string `json:"context_pack_ids"`
}

type RevisionRequest struct {
	Instruction string `json:"instruction"`
}

// SaveDraftRequest accepts the draft either as a JSON value or as JSON text.
type SaveDraftRequest struct {
	DraftJSON any `json:"draft_json"`
}

func (r SaveDraftRequest) document() (json.RawMessage, error) {
	if text, ok := r.DraftJSON.(string); ok {
		return json.RawMessage(text), nil
	}
	data, err := json.Marshal(r.DraftJSON)
	if err != nil {
		return nil, fmt.Errorf("draft_json: %w", err)
	}
	return data, nil
}

type SnapshotRequest struct {
	Note string `json:"note,omitempty"`
}

type VoiceNoteUploadResponse struct {
	VoiceNoteID string `json:"voice_note_id"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventsResponse struct {
	Items []domain.Event `json:"items"`
}
