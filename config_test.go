package ghostline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://localhost:11434", cfg.Backend.URL)
	assert.Equal(t, "qwen2.5-coder", cfg.Backend.Model)
	assert.Equal(t, 15, cfg.Backend.KeepAliveMinutes)
	assert.Equal(t, 5, cfg.Backend.Concurrency)
	assert.True(t, CompletionEnabled(cfg))
	assert.Equal(t, 300, cfg.Completion.DebounceMS)
	assert.Equal(t, 500, cfg.Completion.TypingDebounceMS)
	assert.Equal(t, 5, cfg.Completion.PrecedingLines)
	assert.Equal(t, "default", cfg.Storage.Workspace)
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("GHOSTLINE_CONFIG_DIR", "/custom/dir")
	assert.Equal(t, "/custom/dir", ConfigDir())
	assert.Equal(t, "/custom/dir/config.toml", ConfigPath())
	assert.Equal(t, "/custom/dir/prompts", PromptDir())
	assert.Equal(t, "/custom/dir/state.db", DefaultStoragePath())

	t.Setenv("GHOSTLINE_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/ghostline", ConfigDir())
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
model = "deepseek-coder"

[completion]
enable = false
file_pattern = "**/*.go"
`), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-coder", cfg.Backend.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Backend.URL)
	assert.Equal(t, 5, cfg.Backend.Concurrency)
	assert.False(t, CompletionEnabled(cfg))
	assert.Equal(t, "**/*.go", cfg.Completion.FilePattern)
	assert.Equal(t, 300, cfg.Completion.DebounceMS)
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend\nurl = "), 0o644))

	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("GHOSTLINE_OLLAMA_URL", "http://gpu-box:11434")
	t.Setenv("GHOSTLINE_MODEL", "codellama")
	t.Setenv("GHOSTLINE_CONCURRENCY", "2")
	assert.Equal(t, "http://gpu-box:11434", ResolveURL(cfg))
	assert.Equal(t, "codellama", ResolveModel(cfg))
	assert.Equal(t, 2, ResolveConcurrency(cfg))

	t.Setenv("GHOSTLINE_CONCURRENCY", "zero")
	assert.Equal(t, 5, ResolveConcurrency(cfg))

	t.Setenv("GHOSTLINE_CONCURRENCY", "")
	assert.Equal(t, 5, ResolveConcurrency(nil))
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("GHOSTLINE_MODEL", "")
	assert.Empty(t, ValidateConfig(DefaultConfig()))

	cfg := DefaultConfig()
	cfg.Backend.Model = ""
	cfg.Backend.Concurrency = -1
	cfg.Completion.DebounceMS = -5
	assert.Len(t, ValidateConfig(cfg), 3)
}

func TestResolveStoragePath(t *testing.T) {
	t.Setenv("GHOSTLINE_CONFIG_DIR", "/cfg")
	cfg := DefaultConfig()
	assert.Equal(t, "/cfg/state.db", ResolveStoragePath(cfg))

	cfg.Storage.Path = "/data/ghostline.db"
	assert.Equal(t, "/data/ghostline.db", ResolveStoragePath(cfg))
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend]\nconcurrency = 2\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- WatchConfig(ctx, path, func(cfg *Config) { changed <- cfg }) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[backend]\nconcurrency = 7\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 7, cfg.Backend.Concurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not delivered")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatchConfigIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() { done <- WatchConfig(ctx, path, func(cfg *Config) { changed <- cfg }) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case <-changed:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(2 * configSettle):
	}

	cancel()
	require.NoError(t, <-done)
}
