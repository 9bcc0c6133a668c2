package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"xynconsole/internal/domain"
	"xynconsole/internal/events"
	"xynconsole/internal/repo"
)

// VoiceUpload is one uploaded audio file.
type VoiceUpload struct {
	SessionID    string
	LanguageCode string
	Filename     string
	ContentType  string
	Size         int64
	Body         io.Reader
}

// UploadVoiceNote stores the audio and records an uploaded note.
func (e Engine) UploadVoiceNote(ctx context.Context, up VoiceUpload, actorID string) (domain.VoiceNote, error) {
	if e.Blob == nil {
		return domain.VoiceNote{}, errors.New("blob store not configured")
	}
	if up.Body == nil {
		return domain.VoiceNote{}, invalidf("file is required")
	}
	sessionID := strings.TrimSpace(up.SessionID)
	if sessionID != "" {
		if _, err := e.Repo.GetSession(ctx, nil, sessionID); err != nil {
			return domain.VoiceNote{}, fmt.Errorf("draft session %s: %w", sessionID, err)
		}
	}
	id := uuid.NewString()
	key := "voice/" + id + path.Ext(up.Filename)
	if err := e.Blob.Put(ctx, key, up.Body, up.Size, up.ContentType); err != nil {
		return domain.VoiceNote{}, fmt.Errorf("store audio: %w", err)
	}
	note := repo.VoiceNoteRecord{
		VoiceNote: domain.VoiceNote{
			ID:           id,
			SessionID:    sessionID,
			Status:       domain.VoiceUploaded,
			LanguageCode: strings.TrimSpace(up.LanguageCode),
			CreatedAt:    e.now(),
		},
		BlobKey:     key,
		ContentType: up.ContentType,
	}
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertVoiceNote(ctx, tx, note); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.VoiceNoteUploaded, sessionID, actorID, events.Payload{"voice_note_id": id, "bytes": up.Size})
	})
	if err != nil {
		_ = e.Blob.Delete(ctx, key)
		return domain.VoiceNote{}, err
	}
	return note.VoiceNote, nil
}

func (e Engine) ListVoiceNotes(ctx context.Context, sessionID string) ([]domain.VoiceNote, error) {
	if _, err := e.Repo.GetSession(ctx, nil, sessionID); err != nil {
		return nil, fmt.Errorf("draft session %s: %w", sessionID, err)
	}
	return e.Repo.ListVoiceNotes(ctx, sessionID)
}

func (e Engine) GetVoiceNote(ctx context.Context, id string) (domain.VoiceNote, error) {
	note, err := e.Repo.GetVoiceNote(ctx, nil, id)
	if err != nil {
		return domain.VoiceNote{}, fmt.Errorf("voice note %s: %w", id, err)
	}
	return note.VoiceNote, nil
}

// EnqueueTranscription queues a note that is uploaded or previously failed.
func (e Engine) EnqueueTranscription(ctx context.Context, id, actorID string) error {
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		note, err := e.Repo.GetVoiceNote(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("voice note %s: %w", id, err)
		}
		if note.Status != domain.VoiceUploaded && note.Status != domain.VoiceFailed {
			return conflictf("voice note is %s", note.Status)
		}
		if err := e.Repo.InsertJob(ctx, tx, repo.Job{ID: uuid.NewString(), Type: repo.JobTranscribe, SubjectID: id, CreatedAt: e.now()}); err != nil {
			return err
		}
		return e.Repo.UpdateVoiceNoteStatus(ctx, tx, id, domain.VoiceQueued, nil, "")
	})
	if err == nil {
		e.Metrics.RecordJobEnqueued(ctx, repo.JobTranscribe)
	}
	return err
}

func (e Engine) runTranscription(ctx context.Context, job repo.Job) error {
	note, err := e.Repo.GetVoiceNote(ctx, nil, job.SubjectID)
	if err != nil {
		return fmt.Errorf("voice note %s: %w", job.SubjectID, err)
	}
	if err := e.Repo.UpdateVoiceNoteStatus(ctx, nil, note.ID, domain.VoiceTranscribing, nil, ""); err != nil {
		return err
	}
	text, err := e.transcribe(ctx, note)
	if err != nil {
		if uerr := e.Repo.UpdateVoiceNoteStatus(ctx, nil, note.ID, domain.VoiceFailed, nil, err.Error()); uerr != nil {
			return errors.Join(err, uerr)
		}
		return err
	}
	return e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateVoiceNoteStatus(ctx, tx, note.ID, domain.VoiceTranscribed, &text, ""); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.VoiceNoteTranscribed, note.SessionID, "", events.Payload{"voice_note_id": note.ID, "chars": len(text)})
	})
}

func (e Engine) transcribe(ctx context.Context, note repo.VoiceNoteRecord) (string, error) {
	if e.Blob == nil || e.Transcriber == nil {
		return "", errors.New("transcription not configured")
	}
	audio, err := e.Blob.Get(ctx, note.BlobKey)
	if err != nil {
		return "", fmt.Errorf("load audio: %w", err)
	}
	return e.Transcriber.Transcribe(ctx, audio, note.ContentType, note.LanguageCode)
}
