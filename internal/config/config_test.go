package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/clearbg/internal/envvar"
)

const sampleConfig = `
version: "1"
server:
  http_port: 8080
  grpc_port: 9090
  processing_timeout: 90s
logging:
  level: DEBUG
upload:
  max_file_size_mb: 5
  allowed_extensions: [JPG, .png]
models:
  default: withoutbg
  warmup:
    mode: rembg
    order: [withoutbg, rembg]
    settle_delay: 1s
    inter_model_delay: 250ms
  rembg:
    model: u2net
    source:
      huggingface:
        repo: tomjackson2023/rembg
        include: ["u2net.onnx"]
  withoutbg:
    base_url: http://127.0.0.1:7000
monitor:
  schedule: "@every 30s"
`

func TestParse_MergesOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Server.ProcessingTimeout)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"jpg", "png"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, int64(5*1024*1024), cfg.Upload.MaxFileSizeBytes())
	assert.Equal(t, "rembg", cfg.Models.Warmup.Mode)
	assert.Equal(t, []string{"withoutbg", "rembg"}, cfg.Models.Warmup.Order)
	assert.Equal(t, 250*time.Millisecond, cfg.Models.Warmup.InterModelDelay)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Models.WithoutBG.BaseURL)
	assert.Equal(t, "@every 30s", cfg.Monitor.Schedule)

	src, err := cfg.Models.Rembg.Source.GetSource()
	require.NoError(t, err)
	assert.Equal(t, SourceTypeHuggingFace, src.Type())
}

func TestParse_RejectsSchemaViolations(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "version: \"1\"\nbogus: true\n",
		"bad duration":  "models:\n  warmup:\n    settle_delay: soon\n",
		"port too high": "server:\n  http_port: 70000\n",
		"bad level":     "logging:\n  level: loud\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), "")
			assert.Error(t, err)
		})
	}
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""), "")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.HTTPPort, cfg.Server.HTTPPort)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(envvar.ClearbgServerHTTPPort, "8123")
	t.Setenv(envvar.ClearbgWarmupMode, "none")

	cfg, err := Parse([]byte(sampleConfig), "")
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.HTTPPort)
	assert.Equal(t, WarmupNone, cfg.Models.Warmup.Mode)
}

func TestParse_InvalidEnvOverride(t *testing.T) {
	t.Setenv(envvar.ClearbgServerHTTPPort, "eighty")

	_, err := Parse([]byte(sampleConfig), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.GRPCPort = cfg.Server.HTTPPort
	cfg.Upload.MaxFileSizeMB = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grpc_port")
	assert.Contains(t, err.Error(), "max_file_size_mb")
}

func TestUploadConfig_IsAllowedExtension(t *testing.T) {
	u := Default().Upload

	assert.True(t, u.IsAllowedExtension("jpg"))
	assert.True(t, u.IsAllowedExtension(".PNG"))
	assert.False(t, u.IsAllowedExtension("gif"))
	assert.False(t, u.IsAllowedExtension(""))
}

func TestLoadAndValidate_MissingFile(t *testing.T) {
	_, err := LoadAndValidate(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  max_file_size_mb: 5\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, "", func(cfg *Config, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 5, w.Snapshot().Upload.MaxFileSizeMB)

	require.NoError(t, os.WriteFile(path, []byte("upload:\n  max_file_size_mb: 7\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.Upload.MaxFileSizeMB)
		assert.Equal(t, 7, w.Snapshot().Upload.MaxFileSizeMB)
		assert.GreaterOrEqual(t, w.ReloadCount(), uint32(1))
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
