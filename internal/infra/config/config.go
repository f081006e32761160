package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Provider       ProviderConfig       `yaml:"provider"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Stream         StreamConfig         `yaml:"stream"`
	Retry          RetryConfig          `yaml:"retry"`
	Image          ImageConfig          `yaml:"image"`
	Moderation     ModerationConfig     `yaml:"moderation"`
	Transcription  TranscriptionConfig  `yaml:"transcription"`
	Audit          AuditConfig          `yaml:"audit"`
	Logger         LoggerConfig         `yaml:"logger"`
	Tracer         TracerConfig         `yaml:"tracer"`
}

// PoolConfig holds HTTP connection pool settings for the provider clients.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for the text-generation provider.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	ConnTimeout       time.Duration `yaml:"conn_timeout"`
	RespTimeout       time.Duration `yaml:"resp_timeout"`
	Pool              PoolConfig    `yaml:"pool"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // 0 = unlimited
}

// CircuitBreakerConfig holds circuit breaker settings for the provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// StreamConfig controls streaming generation.
type StreamConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	SystemPrompt string        `yaml:"system_prompt"`
	OutputPrefix string        `yaml:"output_prefix"`
	ReadBuffer   int           `yaml:"read_buffer"` // bytes per body read
}

// RetryConfig controls the retry policy for idempotent requests.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ImageConfig holds image-generation settings. BaseURL and APIKey fall back
// to the provider's when empty.
type ImageConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Size              string        `yaml:"size"`
	Style             string        `yaml:"style"`
	Quality           string        `yaml:"quality"`
	TriggerKeywords   []string      `yaml:"trigger_keywords"`
	ContextMarkers    []string      `yaml:"context_markers"`
	QuotaRetries      int           `yaml:"quota_retries"`
	QuotaRetryDelay   time.Duration `yaml:"quota_retry_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // 0 = unlimited
}

// ModerationConfig holds local and remote moderation settings.
type ModerationConfig struct {
	LocalEnabled  bool   `yaml:"local_enabled"`
	RulesFile     string `yaml:"rules_file"` // empty = built-in table
	RemoteEnabled bool   `yaml:"remote_enabled"`
	Model         string `yaml:"model"`
}

// TranscriptionConfig holds speech-to-text settings.
type TranscriptionConfig struct {
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// AuditConfig holds audit logging settings.
type AuditConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	MaxAge  time.Duration `yaml:"max_age"`  // 0 = keep forever
	MaxSize string        `yaml:"max_size"` // e.g. "10MB"; empty = unbounded
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.scribeai/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".scribeai", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     false,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Stream: StreamConfig{
			Timeout:    120 * time.Second,
			ReadBuffer: 4096,
		},
		Retry: RetryConfig{
			MaxAttempts: 7,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
		Image: ImageConfig{
			Enabled:         false,
			Model:           "dall-e-3",
			Size:            "1024x1024",
			Style:           "vivid",
			Quality:         "standard",
			TriggerKeywords: []string{"插图", "配图", "画面", "[image]"},
			ContextMarkers:  []string{"\n---\n", "<!--system-->"},
			QuotaRetries:    3,
			QuotaRetryDelay: 10 * time.Second,
		},
		Moderation: ModerationConfig{
			LocalEnabled:  true,
			RemoteEnabled: false,
			Model:         "omni-moderation-latest",
		},
		Transcription: TranscriptionConfig{
			Model: "whisper-1",
		},
		Audit: AuditConfig{
			Enabled: false,
			Path:    filepath.Join(defaultDataDir(), "audit.jsonl"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SCRIBEAI_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps SCRIBEAI_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCRIBEAI_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("SCRIBEAI_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("SCRIBEAI_PROVIDER_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("SCRIBEAI_PROVIDER_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Provider.Temperature = f
		}
	}
	if v := os.Getenv("SCRIBEAI_PROVIDER_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Provider.MaxTokens = n
		}
	}
	if v := os.Getenv("SCRIBEAI_STREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Stream.Timeout = d
		}
	}
	if v := os.Getenv("SCRIBEAI_STREAM_OUTPUT_PREFIX"); v != "" {
		cfg.Stream.OutputPrefix = v
	}
	if v := os.Getenv("SCRIBEAI_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("SCRIBEAI_IMAGE_ENABLED"); v == "true" {
		cfg.Image.Enabled = true
	} else if v == "false" {
		cfg.Image.Enabled = false
	}
	if v := os.Getenv("SCRIBEAI_IMAGE_API_KEY"); v != "" {
		cfg.Image.APIKey = v
	}
	if v := os.Getenv("SCRIBEAI_IMAGE_MODEL"); v != "" {
		cfg.Image.Model = v
	}
	if v := os.Getenv("SCRIBEAI_IMAGE_SIZE"); v != "" {
		cfg.Image.Size = v
	}
	if v := os.Getenv("SCRIBEAI_IMAGE_TRIGGER_KEYWORDS"); v != "" {
		cfg.Image.TriggerKeywords = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SCRIBEAI_MODERATION_LOCAL_ENABLED"); v == "false" {
		cfg.Moderation.LocalEnabled = false
	}
	if v := os.Getenv("SCRIBEAI_MODERATION_REMOTE_ENABLED"); v == "true" {
		cfg.Moderation.RemoteEnabled = true
	}
	if v := os.Getenv("SCRIBEAI_MODERATION_RULES_FILE"); v != "" {
		cfg.Moderation.RulesFile = v
	}
	if v := os.Getenv("SCRIBEAI_AUDIT_ENABLED"); v == "true" {
		cfg.Audit.Enabled = true
	} else if v == "false" {
		cfg.Audit.Enabled = false
	}
	if v := os.Getenv("SCRIBEAI_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("SCRIBEAI_AUDIT_MAX_SIZE"); v != "" {
		cfg.Audit.MaxSize = v
	}
	if v := os.Getenv("SCRIBEAI_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SCRIBEAI_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SCRIBEAI_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SCRIBEAI_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
