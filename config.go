package ghostline

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	defaults "github.com/Paranoid-AF/ghostline/default"
)

// Config represents the user's ghostline configuration.
type Config struct {
	Version    int              `toml:"version" json:"version"`
	Backend    BackendConfig    `toml:"backend" json:"backend"`
	Completion CompletionConfig `toml:"completion" json:"completion"`
	Storage    StorageConfig    `toml:"storage" json:"storage"`
}

// BackendConfig holds settings for the Ollama backend.
type BackendConfig struct {
	URL              string  `toml:"url" json:"url"`
	Model            string  `toml:"model" json:"model"`
	KeepAliveMinutes int     `toml:"keep_alive_minutes,omitempty" json:"keep_alive_minutes,omitempty"`
	Concurrency      int     `toml:"concurrency,omitempty" json:"concurrency,omitempty"`
	RequestsPerSec   float64 `toml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
}

// CompletionConfig holds settings for the inline completion engine.
type CompletionConfig struct {
	Enable           *bool  `toml:"enable,omitempty" json:"enable,omitempty"`
	FilePattern      string `toml:"file_pattern" json:"file_pattern"`
	DebounceMS       int    `toml:"debounce_ms,omitempty" json:"debounce_ms,omitempty"`
	TypingDebounceMS int    `toml:"typing_debounce_ms,omitempty" json:"typing_debounce_ms,omitempty"`
	PrecedingLines   int    `toml:"preceding_lines,omitempty" json:"preceding_lines,omitempty"`
	DiffTTLSeconds   int    `toml:"diff_ttl_seconds,omitempty" json:"diff_ttl_seconds,omitempty"`
}

// StorageConfig holds settings for session storage of suggestions.
type StorageConfig struct {
	Path      string `toml:"path,omitempty" json:"path,omitempty"`
	Workspace string `toml:"workspace,omitempty" json:"workspace,omitempty"`
}

// ConfigDir returns the config directory path.
// Resolution order: $GHOSTLINE_CONFIG_DIR > $XDG_CONFIG_HOME/ghostline > ~/.config/ghostline
func ConfigDir() string {
	if dir := os.Getenv("GHOSTLINE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "ghostline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "ghostline-config")
	}
	return filepath.Join(home, ".config", "ghostline")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// PromptDir returns the directory holding custom prompt templates.
func PromptDir() string {
	return filepath.Join(ConfigDir(), "prompts")
}

// DefaultStoragePath is where suggestions are persisted when the config
// does not name a path.
func DefaultStoragePath() string {
	return filepath.Join(ConfigDir(), "state.db")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("ghostline: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path, filling missing fields with defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = defaults.Backend.URL
	}
	if cfg.Backend.Model == "" {
		cfg.Backend.Model = defaults.Backend.Model
	}
	if cfg.Backend.KeepAliveMinutes == 0 {
		cfg.Backend.KeepAliveMinutes = defaults.Backend.KeepAliveMinutes
	}
	if cfg.Backend.Concurrency == 0 {
		cfg.Backend.Concurrency = defaults.Backend.Concurrency
	}
	if cfg.Completion.Enable == nil {
		cfg.Completion.Enable = defaults.Completion.Enable
	}
	if cfg.Completion.FilePattern == "" {
		cfg.Completion.FilePattern = defaults.Completion.FilePattern
	}
	if cfg.Completion.DebounceMS == 0 {
		cfg.Completion.DebounceMS = defaults.Completion.DebounceMS
	}
	if cfg.Completion.TypingDebounceMS == 0 {
		cfg.Completion.TypingDebounceMS = defaults.Completion.TypingDebounceMS
	}
	if cfg.Completion.PrecedingLines == 0 {
		cfg.Completion.PrecedingLines = defaults.Completion.PrecedingLines
	}
	if cfg.Completion.DiffTTLSeconds == 0 {
		cfg.Completion.DiffTTLSeconds = defaults.Completion.DiffTTLSeconds
	}
	if cfg.Storage.Workspace == "" {
		cfg.Storage.Workspace = defaults.Storage.Workspace
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if ResolveModel(cfg) == "" {
		warnings = append(warnings, "backend.model is not set; completions are disabled until a model is selected")
	}
	if cfg.Backend.Concurrency < 0 {
		warnings = append(warnings, "backend.concurrency is negative; the default of 5 is used")
	}
	if cfg.Backend.RequestsPerSec < 0 {
		warnings = append(warnings, "backend.requests_per_second is negative; rate limiting is disabled")
	}
	if cfg.Completion.DebounceMS < 0 || cfg.Completion.TypingDebounceMS < 0 {
		warnings = append(warnings, "negative debounce delays are treated as zero")
	}
	return warnings
}

// CompletionEnabled reports whether inline completion is switched on.
func CompletionEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Completion.Enable == nil {
		return true
	}
	return *cfg.Completion.Enable
}

// ResolveURL returns the Ollama base URL.
// Priority: $GHOSTLINE_OLLAMA_URL env > config value.
func ResolveURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_OLLAMA_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Backend.URL
	}
	return ""
}

// ResolveModel returns the code completion model name.
// Priority: $GHOSTLINE_MODEL env > config value.
func ResolveModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLINE_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Backend.Model
	}
	return ""
}

// ResolveConcurrency returns the request concurrency budget.
// Priority: $GHOSTLINE_CONCURRENCY env > config value > 5.
func ResolveConcurrency(cfg *Config) int {
	if v := os.Getenv("GHOSTLINE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if cfg != nil && cfg.Backend.Concurrency > 0 {
		return cfg.Backend.Concurrency
	}
	return 5
}

// ResolveStoragePath returns the session storage database path.
func ResolveStoragePath(cfg *Config) string {
	if cfg != nil && cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return DefaultStoragePath()
}
