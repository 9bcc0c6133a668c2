package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SessionCreated          = "session.created"
	SessionUpdated          = "session.updated"
	SessionDeleted          = "session.deleted"
	SessionContextResolved  = "session.context_resolved"
	SessionGenerationQueued = "session.generation_queued"
	SessionRevisionQueued   = "session.revision_queued"
	SessionGenerated        = "session.generated"
	SessionJobFailed        = "session.job_failed"
	SessionSaved            = "session.saved"
	SessionSnapshot         = "session.snapshot"
	SessionSubmitted        = "session.submitted"
	VoiceNoteUploaded       = "voice_note.uploaded"
	VoiceNoteTranscribed    = "voice_note.transcribed"
)

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, sessionID, actorID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	var session any
	if sessionID != "" {
		session = sessionID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts, type, session_id, actor_id, payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evtType, session, actorID, string(data))
	return err
}
