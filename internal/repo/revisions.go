package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"xynconsole/internal/domain"
)

// InsertRevision appends a revision, assigning the next revision number for the session.
func (r Repo) InsertRevision(ctx context.Context, tx *sql.Tx, rev domain.DraftRevision, draft json.RawMessage) (domain.DraftRevision, error) {
	c := r.conn(tx)
	var next int
	if err := c.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision_number),0)+1 FROM draft_revisions WHERE session_id=?`, rev.SessionID).Scan(&next); err != nil {
		return domain.DraftRevision{}, err
	}
	rev.RevisionNumber = next
	if rev.CreatedAt == "" {
		rev.CreatedAt = timestamp()
	}
	var doc any
	if len(draft) > 0 {
		doc = string(draft)
	}
	_, err := c.ExecContext(ctx, `INSERT INTO draft_revisions(id, session_id, revision_number, action, instruction, diff_summary, validation_errors_count, draft_json, created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rev.ID, rev.SessionID, rev.RevisionNumber, rev.Action, nullable(rev.Instruction), nullable(rev.DiffSummary),
		rev.ValidationErrorsCount, doc, rev.CreatedAt)
	if err != nil {
		return domain.DraftRevision{}, err
	}
	return rev, nil
}

// ListRevisions returns one page of a session's revisions, newest first, with the
// total matching count. Q matches action, instruction or diff summary.
func (r Repo) ListRevisions(ctx context.Context, sessionID string, q domain.RevisionQuery) (domain.RevisionPage, error) {
	where := "session_id=?"
	args := []any{sessionID}
	if term := strings.TrimSpace(q.Q); term != "" {
		pattern := likePattern(term)
		where += ` AND (action LIKE ? ESCAPE '\' OR COALESCE(instruction,'') LIKE ? ESCAPE '\' OR COALESCE(diff_summary,'') LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern, pattern)
	}
	page := domain.RevisionPage{Revisions: []domain.DraftRevision{}}
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM draft_revisions WHERE `+where, args...).Scan(&page.Total); err != nil {
		return domain.RevisionPage{}, err
	}
	size := q.PageSize
	if size <= 0 {
		size = 5
	}
	offset := 0
	if q.Page > 1 {
		offset = (q.Page - 1) * size
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, session_id, revision_number, action, COALESCE(instruction,''), COALESCE(diff_summary,''), validation_errors_count, created_at
FROM draft_revisions WHERE `+where+` ORDER BY revision_number DESC LIMIT ? OFFSET ?`, append(args, size, offset)...)
	if err != nil {
		return domain.RevisionPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var rev domain.DraftRevision
		if err := rows.Scan(&rev.ID, &rev.SessionID, &rev.RevisionNumber, &rev.Action, &rev.Instruction, &rev.DiffSummary, &rev.ValidationErrorsCount, &rev.CreatedAt); err != nil {
			return domain.RevisionPage{}, err
		}
		page.Revisions = append(page.Revisions, rev)
	}
	return page, rows.Err()
}
