package repo

import (
	"context"
	"database/sql"
	"errors"

	"xynconsole/internal/domain"
)

// VoiceNoteRecord is a voice note plus the storage details clients never see.
type VoiceNoteRecord struct {
	domain.VoiceNote
	BlobKey     string
	ContentType string
	LastError   string
}

const voiceNoteColumns = `id, COALESCE(session_id,''), status, COALESCE(language_code,''), transcript_text, created_at, blob_key, COALESCE(content_type,''), COALESCE(last_error,'')`

func scanVoiceNote(row scanner) (VoiceNoteRecord, error) {
	var (
		v          VoiceNoteRecord
		transcript sql.NullString
	)
	err := row.Scan(&v.ID, &v.SessionID, &v.Status, &v.LanguageCode, &transcript, &v.CreatedAt, &v.BlobKey, &v.ContentType, &v.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return VoiceNoteRecord{}, ErrNotFound
	}
	if err != nil {
		return VoiceNoteRecord{}, err
	}
	if transcript.Valid {
		text := transcript.String
		v.TranscriptText = &text
	}
	return v, nil
}

func (r Repo) InsertVoiceNote(ctx context.Context, tx *sql.Tx, v VoiceNoteRecord) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO voice_notes(id, session_id, status, language_code, blob_key, content_type, transcript_text, last_error, created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		v.ID, nullable(v.SessionID), v.Status, nullable(v.LanguageCode), v.BlobKey, nullable(v.ContentType),
		nullableStringPtr(v.TranscriptText), nullable(v.LastError), v.CreatedAt)
	return err
}

func (r Repo) GetVoiceNote(ctx context.Context, tx *sql.Tx, id string) (VoiceNoteRecord, error) {
	return scanVoiceNote(r.conn(tx).QueryRowContext(ctx, `SELECT `+voiceNoteColumns+` FROM voice_notes WHERE id=?`, id))
}

// ListVoiceNotes returns a session's notes, oldest first.
func (r Repo) ListVoiceNotes(ctx context.Context, sessionID string) ([]domain.VoiceNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+voiceNoteColumns+` FROM voice_notes WHERE session_id=? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.VoiceNote{}
	for rows.Next() {
		v, err := scanVoiceNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v.VoiceNote)
	}
	return out, rows.Err()
}

// UpdateVoiceNoteStatus records a status transition and, when non-nil, the transcript.
func (r Repo) UpdateVoiceNoteStatus(ctx context.Context, tx *sql.Tx, id, status string, transcript *string, lastError string) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE voice_notes SET status=?, transcript_text=COALESCE(?, transcript_text), last_error=? WHERE id=?`,
		status, nullableStringPtr(transcript), nullable(lastError), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
