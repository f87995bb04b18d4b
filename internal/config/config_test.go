package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"bookscroll/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_PipelineDefaults(t *testing.T) {
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 5, cfg.SentenceMinWords)
	assert.Equal(t, 20, cfg.ChunkWindow)
	assert.Equal(t, 15, cfg.ExtractionConcurrency)
	assert.Equal(t, 15, cfg.EmbeddingConcurrency)
	assert.Equal(t, config.SectionFilterLLM, cfg.SectionFilter)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadConfig_Toggles(t *testing.T) {
	t.Setenv("ENABLE_API", "false")
	t.Setenv("ENABLE_EMBEDDER_WORKER", "true")
	t.Setenv("EXTRACTION_CONCURRENCY", "4")
	t.Setenv("CHUNK_WINDOW", "8")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.True(t, cfg.EnableEmbedderWorker)
	assert.Equal(t, 4, cfg.ExtractionConcurrency)
	assert.Equal(t, 8, cfg.ChunkWindow)
}

func TestLoadConfig_InvalidSectionFilter(t *testing.T) {
	t.Setenv("SECTION_FILTER", "magic")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}
