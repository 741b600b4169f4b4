package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the data dir at a temp dir and clears env that would leak in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SWEETSPOT_DATA_DIR", dir)
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "SWEETSPOT_BATCH_POLICY", "EMAIL_RECIPIENT", "LOG_LEVEL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "products.db"), cfg.StorePath())
	assert.Equal(t, filepath.Join(dir, "backups"), cfg.BackupDir())
	assert.Equal(t, "gpt-4o-mini", cfg.Inference.TextModel)
	assert.Equal(t, "gpt-4o", cfg.Inference.VisionModel)
	assert.Equal(t, 20, cfg.Inference.MaxImageMB)
	assert.Equal(t, 0, cfg.Inference.MaxRetries)
	assert.Equal(t, PolicyAbort, cfg.Batch.Policy)
	assert.Equal(t, time.Second, cfg.Batch.SkipDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.NextDelay)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := isolate(t)

	yml := []byte(`
batch:
  policy: skip
  skip_delay: 10ms
inference:
  text_model: local-model
  timeout: 30s
report:
  recipients: [a@example.com]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), yml, 0o644))
	t.Setenv("EMAIL_RECIPIENT", "x@example.com, y@example.com ,")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, PolicySkip, cfg.Batch.Policy)
	assert.Equal(t, 10*time.Millisecond, cfg.Batch.SkipDelay)
	assert.Equal(t, "local-model", cfg.Inference.TextModel)
	assert.Equal(t, 30*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, []string{"x@example.com", "y@example.com"}, cfg.Report.Recipients)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_APIKeyFromSettingsFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, godotenv.Write(map[string]string{"OPENAI_API_KEY": "sk-from-file"}, filepath.Join(dir, EnvFileName)))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", cfg.Inference.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad policy", mutate: func(c *Config) { c.Batch.Policy = "retry" }, wantErr: true},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = " " }, wantErr: true},
		{name: "zero image size", mutate: func(c *Config) { c.Inference.MaxImageMB = 0 }, wantErr: true},
		{name: "quality out of range", mutate: func(c *Config) { c.Pipeline.JPEGQuality = 101 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAPIKey(t *testing.T) {
	dir := isolate(t)
	t.Setenv("OPENAI_API_KEY", "")

	cfg := DefaultConfig()
	cfg.DataDir = dir
	require.NoError(t, godotenv.Write(map[string]string{"OTHER": "kept"}, cfg.EnvPath()))

	require.NoError(t, cfg.SaveAPIKey("  sk-new  "))
	assert.Equal(t, "sk-new", cfg.Inference.APIKey)

	env, err := godotenv.Read(cfg.EnvPath())
	require.NoError(t, err)
	assert.Equal(t, "sk-new", env["OPENAI_API_KEY"])
	assert.Equal(t, "kept", env["OTHER"])

	info, err := os.Stat(cfg.EnvPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Error(t, cfg.SaveAPIKey(""))
}
