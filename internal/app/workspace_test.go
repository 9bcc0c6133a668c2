package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xynconsole/internal/config"
	"xynconsole/internal/domain"
)

func TestOpenBackendSeedsCatalog(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	b, err := OpenBackend(ctx, t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer b.Close()

	packs, err := b.Engine.ListContextPacks(ctx, domain.ContextPackFilter{})
	require.NoError(t, err)
	assert.Len(t, packs, len(cfg.ContextPacks))
	assert.NotNil(t, b.Engine.Blob)
}

func TestOpenBackendRequiresGeminiKey(t *testing.T) {
	t.Setenv(GeminiKeyEnv, "")
	cfg := config.Default()
	cfg.Server.Generator = "gemini"
	_, err := OpenBackend(context.Background(), t.TempDir(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), GeminiKeyEnv)
}

func TestClientAndMachineOptionsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.API.BaseURL = "http://example.test/v0"
	cfg.API.APIKey = "xyn_key"
	cfg.API.Timeout = 3 * time.Second
	cfg.Poll.Merge = "replace"
	cfg.Revisions.PageSize = 7

	c := NewClient(cfg)
	assert.Equal(t, "http://example.test/v0", c.BaseURL)
	assert.Equal(t, "xyn_key", c.APIKey)
	assert.Equal(t, 3*time.Second, c.Timeout)

	opts := MachineOptions(cfg, nil)
	assert.True(t, opts.ReplaceOnPoll)
	assert.Equal(t, 7, opts.RevisionPageSize)
	assert.NotNil(t, opts.Metrics)
}
