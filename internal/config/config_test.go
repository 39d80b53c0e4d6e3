package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkforge/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.ChunkWindowSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, "cl100k_base", cfg.TokenizerEncoding)
	assert.InDelta(t, 0.1, cfg.CitationThreshold, 1e-9)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file\nCHUNK_WINDOW_SIZE=800")
	require.NoError(t, os.WriteFile(".env", content, 0o644))
	defer os.Remove(".env")
	// godotenv never overrides variables that are already set
	os.Unsetenv("DB_HOST")
	os.Unsetenv("CHUNK_WINDOW_SIZE")
	defer os.Unsetenv("DB_HOST")
	defer os.Unsetenv("CHUNK_WINDOW_SIZE")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
	assert.Equal(t, 800, cfg.ChunkWindowSize)
}

func TestLoadConfig_Toggles(t *testing.T) {
	t.Setenv("ENABLE_API", "false")
	t.Setenv("ENABLE_EMBEDDER_WORKER", "false")
	t.Setenv("INGESTION_CONCURRENCY", "10")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.False(t, cfg.EnableEmbedderWorker)
	assert.True(t, cfg.EnableResultWorker)
	assert.Equal(t, 10, cfg.IngestionConcurrency)
}

func TestLoadConfig_InvalidChunking(t *testing.T) {
	t.Setenv("CHUNK_WINDOW_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrInvalidChunking)
}
