package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "classcare-chatbot", cfg.App.Name)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 4, cfg.RAG.TopK)
	assert.Equal(t, 10, cfg.RAG.MaxHistory)
	assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.Model)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, "milvus", cfg.VectorStore.Driver)
	assert.Equal(t, 1536, cfg.VectorStore.Dimension)
	assert.Equal(t, "chat.message.persist", cfg.RabbitMQ.MessagePersistQueue)
	assert.Equal(t, "document.ingest", cfg.RabbitMQ.DocumentIngestQueue)
}

func TestLoadFromTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 9000

[rag]
chunk_size = 500
top_k = 2

[vector_store]
driver = "mysql"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 2, cfg.RAG.TopK)
	assert.Equal(t, "mysql", cfg.VectorStore.Driver)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	t.Setenv("CHUNK_SIZE", "256")
	t.Setenv("MAX_CONVERSATION_HISTORY", "5")
	t.Setenv("MILVUS_ADDR", "http://milvus:19530")
	t.Setenv("MILVUS_COLLECTION_NAME", "docs_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
	assert.Equal(t, 256, cfg.RAG.ChunkSize)
	assert.Equal(t, 5, cfg.RAG.MaxHistory)
	assert.Equal(t, "http://milvus:19530", cfg.VectorStore.MilvusAddr)
	assert.Equal(t, "docs_test", cfg.VectorStore.Collection)
}

func TestEnvOverridesUploadMaxSize(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("UPLOAD_MAX_SIZE_BYTES", "1048576")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(1048576), cfg.Upload.MaxSizeBytes)
}

func TestEnvOverrideIgnoresUnparsableInt(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("CHUNK_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.User = "app"
	cfg.MySQL.Password = "pw"
	cfg.MySQL.Host = "db"
	cfg.MySQL.Port = 3307
	cfg.MySQL.DB = "chat"
	cfg.MySQL.Params = "parseTime=true"

	assert.Equal(t, "app:pw@tcp(db:3307)/chat?parseTime=true", cfg.MySQLDSN())
}

func TestHTTPAddr(t *testing.T) {
	cfg := defaultConfig()
	cfg.App.Host = "127.0.0.1"
	cfg.App.Port = 8081

	assert.Equal(t, "127.0.0.1:8081", cfg.HTTPAddr())
}
