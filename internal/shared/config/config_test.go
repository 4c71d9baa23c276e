package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "local", cfg.ObjectStoreType)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.ProcessingTimeout)
	assert.Equal(t, 5, cfg.Webhook.AttachmentConcurrency)
	assert.Equal(t, 1, cfg.Credits.FullAnalysisFullCredits)
	assert.True(t, cfg.IsDevLike())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("WEBHOOK_ATTACHMENT_CONCURRENCY", "2")
	t.Setenv("OBJECT_STORE", "S3")
	t.Setenv("ENV", "prod")
	t.Setenv("DATABASE_URL", "postgres://localhost/caseflow")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CREDITS_UNLIMITED_WORKSPACES", "ws-internal, ws-demo")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, 2, cfg.Webhook.AttachmentConcurrency)
	assert.Equal(t, "s3", cfg.ObjectStoreType)
	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.IsDevLike())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowOrigin)
	assert.Equal(t, []string{"ws-internal", "ws-demo"}, cfg.Credits.UnlimitedWorkspaces)
}

func TestLoadRequiresDatabaseInProduction(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}
