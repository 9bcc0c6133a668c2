package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"xynconsole/internal/domain"
)

const sessionColumns = `id, kind, COALESCE(namespace,''), COALESCE(project_key,''), title, initial_prompt,
initial_prompt_locked, source_artifacts_json, COALESCE(draft_json,''), status, has_generated_output,
validation_errors_json, COALESCE(requirements_summary,''), COALESCE(diff_summary,''),
selected_context_pack_ids_json, COALESCE(effective_context_hash,''), context_resolved_at,
COALESCE(job_id,''), COALESCE(last_error,''), COALESCE(submitted_entity_type,''),
COALESCE(submitted_entity_id,''), created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.DraftSession, error) {
	var (
		s                             domain.DraftSession
		locked, hasOutput             int
		artifacts, draft, errs, packs string
		resolvedAt                    sql.NullString
	)
	err := row.Scan(&s.ID, &s.Kind, &s.Namespace, &s.ProjectKey, &s.Title, &s.InitialPrompt,
		&locked, &artifacts, &draft, &s.Status, &hasOutput,
		&errs, &s.RequirementsSummary, &s.DiffSummary,
		&packs, &s.EffectiveContextHash, &resolvedAt,
		&s.JobID, &s.LastError, &s.SubmittedEntityType,
		&s.SubmittedEntityID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DraftSession{}, ErrNotFound
	}
	if err != nil {
		return domain.DraftSession{}, err
	}
	s.InitialPromptLocked = locked == 1
	s.HasGeneratedOutput = hasOutput == 1
	if draft != "" {
		s.Draft = json.RawMessage(draft)
	}
	if resolvedAt.Valid {
		v := resolvedAt.String
		s.ContextResolvedAt = &v
	}
	if s.SourceArtifacts, err = unmarshalList[domain.SourceArtifact](artifacts); err != nil {
		return domain.DraftSession{}, fmt.Errorf("session %s source artifacts: %w", s.ID, err)
	}
	if s.ValidationErrors, err = unmarshalList[string](errs); err != nil {
		return domain.DraftSession{}, fmt.Errorf("session %s validation errors: %w", s.ID, err)
	}
	if s.SelectedContextPackIDs, err = unmarshalList[string](packs); err != nil {
		return domain.DraftSession{}, fmt.Errorf("session %s context packs: %w", s.ID, err)
	}
	return s, nil
}

type sessionJSON struct {
	artifacts, errs, packs string
	draft                  any
}

func encodeSession(s domain.DraftSession) (sessionJSON, error) {
	var out sessionJSON
	var err error
	if out.artifacts, err = marshalList(s.SourceArtifacts); err != nil {
		return out, err
	}
	if out.errs, err = marshalList(s.ValidationErrors); err != nil {
		return out, err
	}
	if out.packs, err = marshalList(s.SelectedContextPackIDs); err != nil {
		return out, err
	}
	if s.HasDraft() {
		out.draft = string(s.Draft)
	}
	return out, nil
}

// InsertSession stores a new draft session row.
func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.DraftSession, createdBy string) error {
	enc, err := encodeSession(s)
	if err != nil {
		return err
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO draft_sessions(
id, kind, namespace, project_key, title, initial_prompt, initial_prompt_locked, source_artifacts_json,
draft_json, status, has_generated_output, validation_errors_json, requirements_summary, diff_summary,
selected_context_pack_ids_json, effective_context_hash, context_resolved_at, job_id, last_error,
submitted_entity_type, submitted_entity_id, created_by, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Kind, nullable(s.Namespace), nullable(s.ProjectKey), s.Title, s.InitialPrompt,
		boolInt(s.InitialPromptLocked), enc.artifacts, enc.draft, s.Status, boolInt(s.HasGeneratedOutput),
		enc.errs, nullable(s.RequirementsSummary), nullable(s.DiffSummary),
		enc.packs, nullable(s.EffectiveContextHash), nullableStringPtr(s.ContextResolvedAt),
		nullable(s.JobID), nullable(s.LastError), nullable(s.SubmittedEntityType), nullable(s.SubmittedEntityID),
		createdBy, s.CreatedAt, s.UpdatedAt)
	return err
}

// SaveSession overwrites every mutable column of an existing session.
func (r Repo) SaveSession(ctx context.Context, tx *sql.Tx, s domain.DraftSession) error {
	enc, err := encodeSession(s)
	if err != nil {
		return err
	}
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE draft_sessions SET
kind=?, namespace=?, project_key=?, title=?, initial_prompt=?, initial_prompt_locked=?, source_artifacts_json=?,
draft_json=?, status=?, has_generated_output=?, validation_errors_json=?, requirements_summary=?, diff_summary=?,
selected_context_pack_ids_json=?, effective_context_hash=?, context_resolved_at=?, job_id=?, last_error=?,
submitted_entity_type=?, submitted_entity_id=?, updated_at=?
WHERE id=?`,
		s.Kind, nullable(s.Namespace), nullable(s.ProjectKey), s.Title, s.InitialPrompt,
		boolInt(s.InitialPromptLocked), enc.artifacts, enc.draft, s.Status, boolInt(s.HasGeneratedOutput),
		enc.errs, nullable(s.RequirementsSummary), nullable(s.DiffSummary),
		enc.packs, nullable(s.EffectiveContextHash), nullableStringPtr(s.ContextResolvedAt),
		nullable(s.JobID), nullable(s.LastError), nullable(s.SubmittedEntityType), nullable(s.SubmittedEntityID),
		s.UpdatedAt, s.ID)
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

// GetSession loads one session including its draft document.
func (r Repo) GetSession(ctx context.Context, tx *sql.Tx, id string) (domain.DraftSession, error) {
	row := r.conn(tx).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM draft_sessions WHERE id=?`, id)
	return scanSession(row)
}

// SessionFilters narrows ListSessions. Q matches title or prompt.
type SessionFilters struct {
	Status     string
	Kind       string
	Namespace  string
	ProjectKey string
	Q          string
	Limit      int
}

// ListSessions returns sessions, most recently updated first. Draft documents are omitted.
func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.DraftSession, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.Status != "" {
		add("status=?", f.Status)
	}
	if f.Kind != "" {
		add("kind=?", f.Kind)
	}
	if f.Namespace != "" {
		add("namespace=?", f.Namespace)
	}
	if f.ProjectKey != "" {
		add("project_key=?", f.ProjectKey)
	}
	if q := strings.TrimSpace(f.Q); q != "" {
		where = append(where, `(title LIKE ? ESCAPE '\' OR initial_prompt LIKE ? ESCAPE '\')`)
		args = append(args, likePattern(q), likePattern(q))
	}
	query := `SELECT ` + sessionColumns + ` FROM draft_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.DraftSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		s.Draft = nil
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session; revisions cascade.
func (r Repo) DeleteSession(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM draft_sessions WHERE id=?`, id)
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
