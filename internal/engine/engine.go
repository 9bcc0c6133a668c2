package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"xynconsole/internal/blob"
	"xynconsole/internal/config"
	"xynconsole/internal/engine/generate"
	"xynconsole/internal/events"
	"xynconsole/internal/metrics"
	"xynconsole/internal/repo"
)

var (
	// ErrInvalid marks malformed input.
	ErrInvalid = errors.New("invalid request")
	// ErrConflict marks a request that clashes with current session state.
	ErrConflict = errors.New("conflict")
	// ErrPrecondition marks an operation the session is not ready for.
	ErrPrecondition = errors.New("precondition failed")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Engine holds the reference backend's domain logic.
type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Blob        blob.Store
	Generator   generate.Generator
	Transcriber generate.Transcriber
	Metrics     *metrics.JobMetrics
	Logger      *log.Logger
	Now         func() time.Time
}

// New wires an engine with the deterministic generator and an in-workspace blob store.
// Callers replace Generator, Transcriber or Blob as configured.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Events:      events.Writer{},
		Config:      cfg,
		Generator:   generate.Stub{},
		Transcriber: generate.StubTranscriber{},
		Now:         time.Now,
	}
}

func (e Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339Nano)
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// SeedContextPacks upserts the configured catalog.
func (e Engine) SeedContextPacks(ctx context.Context) error {
	return e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		for _, seed := range e.Config.ContextPacks {
			if err := e.Repo.UpsertContextPack(ctx, tx, seed.Summary()); err != nil {
				return fmt.Errorf("seed context pack %s: %w", seed.ID, err)
			}
		}
		return nil
	})
}
