package repo

import (
	"context"
	"database/sql"
	"errors"
)

const (
	JobGenerate   = "draft.generate"
	JobRevise     = "draft.revise"
	JobTranscribe = "voice.transcribe"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job is a unit of background work; SubjectID is a session or voice note id.
type Job struct {
	ID          string
	Type        string
	SubjectID   string
	Instruction string
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   string
	UpdatedAt   string
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j Job) error {
	if j.Status == "" {
		j.Status = JobQueued
	}
	if j.CreatedAt == "" {
		j.CreatedAt = timestamp()
	}
	if j.UpdatedAt == "" {
		j.UpdatedAt = j.CreatedAt
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO jobs(id, type, subject_id, instruction, status, attempts, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.Type, j.SubjectID, nullable(j.Instruction), j.Status, j.Attempts, j.CreatedAt, j.UpdatedAt)
	return err
}

// ClaimNextJob marks the oldest queued job running and returns it.
// ErrNotFound means the queue is empty.
func (r Repo) ClaimNextJob(ctx context.Context) (Job, error) {
	var job Job
	err := r.InTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT id, type, subject_id, COALESCE(instruction,''), status, attempts, COALESCE(last_error,''), created_at, updated_at
FROM jobs WHERE status=? ORDER BY created_at, id LIMIT 1`, JobQueued)
		err := row.Scan(&job.ID, &job.Type, &job.SubjectID, &job.Instruction, &job.Status, &job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		job.Status = JobRunning
		job.Attempts++
		job.UpdatedAt = timestamp()
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status=?, attempts=?, updated_at=? WHERE id=?`, job.Status, job.Attempts, job.UpdatedAt, job.ID)
		return err
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// FinishJob records the terminal status of a job.
func (r Repo) FinishJob(ctx context.Context, tx *sql.Tx, id, status, lastError string) error {
	_, err := r.conn(tx).ExecContext(ctx, `UPDATE jobs SET status=?, last_error=?, updated_at=? WHERE id=?`, status, nullable(lastError), timestamp(), id)
	return err
}

// CountJobs returns job counts keyed by status.
func (r Repo) CountJobs(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
