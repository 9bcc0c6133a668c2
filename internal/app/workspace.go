// Package app wires a workspace's configuration into the client-side session
// machine and the embedded reference backend.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"xynconsole/internal/blob"
	"xynconsole/internal/config"
	"xynconsole/internal/db"
	"xynconsole/internal/draft"
	"xynconsole/internal/engine"
	"xynconsole/internal/engine/generate"
	"xynconsole/internal/metrics"
	"xynconsole/internal/migrate"
	xynsdk "xynconsole/sdk/go"
)

// GeminiKeyEnv names the environment variable holding the Gemini API key.
const GeminiKeyEnv = "GEMINI_API_KEY"

// Backend is the reference backend opened on a workspace database.
type Backend struct {
	DB     *sql.DB
	Engine engine.Engine
}

// OpenBackend opens and migrates the workspace database, seeds the configured
// context packs and picks the generator and blob store named in cfg.
func OpenBackend(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*Backend, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	b, err := newBackend(ctx, conn, workspace, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func newBackend(ctx context.Context, conn *sql.DB, workspace string, cfg *config.Config, logger *log.Logger) (*Backend, error) {
	if err := migrate.Migrate(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	eng.Logger = logger
	store, err := blob.Open(workspace, cfg.Server.Blob)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	eng.Blob = store
	if cfg.Server.Generator == "gemini" {
		key := os.Getenv(GeminiKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("generator gemini requires %s", GeminiKeyEnv)
		}
		g, err := generate.NewGemini(ctx, key, cfg.Server.GeminiModel)
		if err != nil {
			return nil, err
		}
		eng.Generator = g
		eng.Transcriber = g
	}
	jm, err := metrics.NewJobMetrics()
	if err != nil {
		if logger != nil {
			logger.Printf("job metrics disabled: %v", err)
		}
	} else {
		eng.Metrics = jm
	}
	if err := eng.SeedContextPacks(ctx); err != nil {
		return nil, err
	}
	return &Backend{DB: conn, Engine: eng}, nil
}

func (b *Backend) Close() error {
	return b.DB.Close()
}

// NewClient builds an API client from the api section. Credentials are tried
// in the order bearer token, API key, actor header.
func NewClient(cfg *config.Config) *xynsdk.Client {
	c := xynsdk.New(cfg.API.BaseURL)
	c.BearerToken = cfg.API.Token
	c.APIKey = cfg.API.APIKey
	c.ActorID = cfg.API.ActorID
	if cfg.API.Timeout > 0 {
		c.Timeout = cfg.API.Timeout
	}
	return c
}

// MachineOptions maps the poll, revision and catalog settings onto draft.Options.
func MachineOptions(cfg *config.Config, logger *log.Logger) draft.Options {
	return draft.Options{
		PollInterval:      cfg.Poll.Interval,
		ReplaceOnPoll:     !cfg.MergePreserve(),
		RevisionPageSize:  cfg.Revisions.PageSize,
		RevisionCacheSize: cfg.Revisions.CacheSize,
		CatalogSize:       cfg.Catalog.Size,
		CatalogTTL:        cfg.Catalog.TTL,
		Logger:            logger,
		Metrics:           metrics.NewSessionMetricsOrNoop(),
	}
}

// OpenLog opens the append-only console log under the state directory.
func OpenLog(workspace string) (*log.Logger, *os.File, error) {
	dir := filepath.Join(config.StateDir(workspace), "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "console.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return log.New(f, "xyn ", log.LstdFlags|log.Lmicroseconds), f, nil
}
