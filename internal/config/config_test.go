package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{
		"SERVER_PORT", "DATABASE_URL", "STORAGE_DRIVER", "EMBEDDING_PROVIDER",
		"EMBEDDING_TIMEOUT_MS", "CONTRADICTION_THRESHOLD", "CONTRADICTION_LIMIT",
		"REINDEX_INTERVAL_SECONDS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}

	assert.Equal(t, ":8080", ServerAddr())
	assert.Equal(t, StorageMemory, StorageDriver())
	assert.Equal(t, "none", EmbeddingProvider())
	assert.Equal(t, "", EmbeddingAPIKey())
	assert.Equal(t, 5*time.Second, EmbeddingTimeout())
	assert.Equal(t, 0.7, ContradictionThreshold())
	assert.Equal(t, 5, ContradictionLimit())
	assert.Equal(t, 30*time.Second, ReindexInterval())
	assert.Equal(t, 100.0, RateLimitRPS())
	assert.Equal(t, 20, RateLimitBurst())
	assert.Equal(t, "info", LogLevel())
}

func TestStorageDriver_InfersPostgres(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/canon")
	assert.Equal(t, StoragePostgres, StorageDriver())

	t.Setenv("STORAGE_DRIVER", StorageBadger)
	assert.Equal(t, StorageBadger, StorageDriver())
}

func TestOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_TIMEOUT_MS", "250")
	t.Setenv("CONTRADICTION_THRESHOLD", "0.85")
	t.Setenv("REINDEX_INTERVAL_SECONDS", "2")

	assert.Equal(t, "sk-test", EmbeddingAPIKey())
	assert.Equal(t, 250*time.Millisecond, EmbeddingTimeout())
	assert.Equal(t, 0.85, ContradictionThreshold())
	assert.Equal(t, 2*time.Second, ReindexInterval())

	t.Setenv("CONTRADICTION_THRESHOLD", "1.5")
	assert.Equal(t, 0.7, ContradictionThreshold())

	t.Setenv("CONTRADICTION_THRESHOLD", "0")
	assert.Equal(t, 0.0, ContradictionThreshold())
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CANON_API_KEY=from-file\n"), 0o600))
	require.NoError(t, os.WriteFile(envFile+".secret", []byte("OPENAI_API_KEY=from-secret\n"), 0o600))

	t.Setenv("CANON_ENV", envFile)
	t.Setenv("CANON_API_KEY", "")
	os.Unsetenv("CANON_API_KEY")
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")

	require.NoError(t, Load())
	assert.Equal(t, "from-file", APIKey())
	assert.Equal(t, "from-secret", OpenAIAPIKey())
}
