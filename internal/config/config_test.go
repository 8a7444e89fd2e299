package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  mode: release\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.True(t, cfg.Server.CORS.AllowAllOrigins)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "qdrant", cfg.Vector.Backend)
	assert.Equal(t, 6334, cfg.Vector.Qdrant.Port)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "/static/uploads", cfg.Storage.PublicURL)
	assert.Equal(t, 60*time.Second, cfg.VLM.Timeout)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, "jina", cfg.Embedding.Provider)
	assert.Equal(t, 1024, cfg.Embedding.Dimensions)
	// Index dimensions follow the embedding model unless set.
	assert.Equal(t, 1024, cfg.Vector.Dimensions)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  driver: postgres
  host: db
vector:
  backend: memory
  dimensions: 512
embedding:
  provider: openai-compatible
  model: clip
  dimensions: 768
ingest:
  workers: 8
`)
	t.Setenv("DATABASE_PASSWORD", "s3cret")
	t.Setenv("INGEST_QUEUE_SIZE", "7")
	t.Setenv("JINA_API_KEY", "jina-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "memory", cfg.Vector.Backend)
	assert.Equal(t, 512, cfg.Vector.Dimensions)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 7, cfg.Ingest.QueueSize)
	assert.Equal(t, "jina-key", cfg.Embedding.APIKey)
	assert.Contains(t, cfg.Database.DSN(), "host=db")
	assert.Contains(t, cfg.Database.DSN(), "password=s3cret")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(writeConfig(t, "embedding:\n  provider: nope\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [unclosed\n"))
	assert.Error(t, err)
}

func TestEmbeddingConfig_Validate(t *testing.T) {
	valid := EmbeddingConfig{Name: "clip", Provider: "jina", Model: "jina-clip-v2", Dimensions: 1024}

	tests := []struct {
		name    string
		mutate  func(c *EmbeddingConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*EmbeddingConfig) {}},
		{name: "missing name", mutate: func(c *EmbeddingConfig) { c.Name = "" }, wantErr: true},
		{name: "missing model", mutate: func(c *EmbeddingConfig) { c.Model = "" }, wantErr: true},
		{name: "zero dimensions", mutate: func(c *EmbeddingConfig) { c.Dimensions = 0 }, wantErr: true},
		{name: "unknown provider", mutate: func(c *EmbeddingConfig) { c.Provider = "local" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}

	noKey := valid
	assert.Error(t, noKey.ValidateWithAPIKey())
	noKey.APIKey = "k"
	assert.NoError(t, noKey.ValidateWithAPIKey())
}

func TestEmbeddingConfig_ResolveEnvVars(t *testing.T) {
	t.Setenv("CLIP_KEY", "from-env")
	t.Setenv("CLIP_URL", "http://clip.local")

	c := EmbeddingConfig{APIKeyEnv: "CLIP_KEY", BaseURLEnv: "CLIP_URL"}
	c.ResolveEnvVars()
	assert.Equal(t, "from-env", c.APIKey)
	assert.Equal(t, "http://clip.local", c.BaseURL)

	direct := EmbeddingConfig{APIKey: "direct", APIKeyEnv: "CLIP_KEY"}
	direct.ResolveEnvVars()
	assert.Equal(t, "direct", direct.APIKey)
}
