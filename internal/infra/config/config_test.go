package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Stream.Timeout != 120*time.Second {
		t.Errorf("Stream.Timeout = %v, want 120s", cfg.Stream.Timeout)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("Retry.MaxAttempts = %d, want 7", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("Retry.BaseDelay = %v, want 500ms", cfg.Retry.BaseDelay)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("Provider.Name = %q, want %q", cfg.Provider.Name, "openai")
	}
	if !cfg.Moderation.LocalEnabled {
		t.Error("Moderation.LocalEnabled should default to true")
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent-scribe-config-12345.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("expected defaults, got MaxAttempts=%d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
provider:
  base_url: "https://api.groq.com/openai/v1"
  api_key: "test-key"
  model: "llama3-8b"
  requests_per_minute: 30
stream:
  timeout: 45s
  output_prefix: "AI: "
retry:
  max_attempts: 3
image:
  enabled: true
  size: "512x512"
  trigger_keywords: ["插图"]
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "test-key" || cfg.Provider.Model != "llama3-8b" {
		t.Errorf("Provider mismatch: %+v", cfg.Provider)
	}
	if cfg.Provider.RequestsPerMinute != 30 {
		t.Errorf("RequestsPerMinute = %d, want 30", cfg.Provider.RequestsPerMinute)
	}
	if cfg.Stream.Timeout != 45*time.Second {
		t.Errorf("Stream.Timeout = %v, want 45s", cfg.Stream.Timeout)
	}
	if cfg.Stream.OutputPrefix != "AI: " {
		t.Errorf("OutputPrefix = %q", cfg.Stream.OutputPrefix)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if !cfg.Image.Enabled || cfg.Image.Size != "512x512" {
		t.Errorf("Image mismatch: %+v", cfg.Image)
	}
	// Untouched fields keep their defaults.
	if cfg.Image.Model != "dall-e-3" {
		t.Errorf("Image.Model = %q, want default", cfg.Image.Model)
	}
}

func TestLoadInvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  max_attempts: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBEAI_PROVIDER_MODEL", "gpt-4o")
	t.Setenv("SCRIBEAI_PROVIDER_API_KEY", "sk-env")
	t.Setenv("SCRIBEAI_PROVIDER_TEMPERATURE", "0.2")
	t.Setenv("SCRIBEAI_STREAM_TIMEOUT", "30s")
	t.Setenv("SCRIBEAI_RETRY_MAX_ATTEMPTS", "2")
	t.Setenv("SCRIBEAI_LOGGER_LEVEL", "debug")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("Model = %q, want %q", cfg.Provider.Model, "gpt-4o")
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want %q", cfg.Provider.APIKey, "sk-env")
	}
	if cfg.Provider.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", cfg.Provider.Temperature)
	}
	if cfg.Stream.Timeout != 30*time.Second {
		t.Errorf("Stream.Timeout = %v, want 30s", cfg.Stream.Timeout)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Retry.MaxAttempts)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
}

func TestEnvOverridesIgnoreMalformedNumbers(t *testing.T) {
	t.Setenv("SCRIBEAI_PROVIDER_MAX_TOKENS", "lots")
	t.Setenv("SCRIBEAI_STREAM_TIMEOUT", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Provider.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want default 2048", cfg.Provider.MaxTokens)
	}
	if cfg.Stream.Timeout != 120*time.Second {
		t.Errorf("Stream.Timeout = %v, want default", cfg.Stream.Timeout)
	}
}

func TestEnvOverridesImageKeywords(t *testing.T) {
	t.Setenv("SCRIBEAI_IMAGE_ENABLED", "true")
	t.Setenv("SCRIBEAI_IMAGE_TRIGGER_KEYWORDS", " 插图 , illustrate ,,")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if !cfg.Image.Enabled {
		t.Error("Image.Enabled should be true")
	}
	want := []string{"插图", "illustrate"}
	if len(cfg.Image.TriggerKeywords) != len(want) {
		t.Fatalf("TriggerKeywords = %v, want %v", cfg.Image.TriggerKeywords, want)
	}
	for i := range want {
		if cfg.Image.TriggerKeywords[i] != want[i] {
			t.Errorf("TriggerKeywords[%d] = %q, want %q", i, cfg.Image.TriggerKeywords[i], want[i])
		}
	}
}

func TestEnvOverridesModerationAndAudit(t *testing.T) {
	t.Setenv("SCRIBEAI_MODERATION_LOCAL_ENABLED", "false")
	t.Setenv("SCRIBEAI_MODERATION_REMOTE_ENABLED", "true")
	t.Setenv("SCRIBEAI_AUDIT_ENABLED", "true")
	t.Setenv("SCRIBEAI_AUDIT_PATH", "/tmp/scribe-audit.jsonl")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Moderation.LocalEnabled {
		t.Error("LocalEnabled should be false")
	}
	if !cfg.Moderation.RemoteEnabled {
		t.Error("RemoteEnabled should be true")
	}
	if !cfg.Audit.Enabled || cfg.Audit.Path != "/tmp/scribe-audit.jsonl" {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
}

func TestApplyEnvOverridesTracer(t *testing.T) {
	t.Setenv("SCRIBEAI_TRACER_ENABLED", "true")
	t.Setenv("SCRIBEAI_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
	if cfg.Tracer.Exporter != "stdout" {
		t.Errorf("Tracer.Exporter = %q, want %q", cfg.Tracer.Exporter, "stdout")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: [yaml: bad"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  max_attempts: 5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Chmod after write so the umask cannot mask the bits.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()

	for _, tc := range []struct {
		name    string
		mode    os.FileMode
		wantErr bool
	}{
		{"owner only", 0600, false},
		{"world readable", 0644, false},
		{"world writable", 0666, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte("test"), 0600); err != nil {
				t.Fatal(err)
			}
			if err := os.Chmod(path, tc.mode); err != nil {
				t.Fatal(err)
			}
			err := validatePermissions(path)
			if (err != nil) != tc.wantErr {
				t.Errorf("validatePermissions(%o) err = %v, wantErr %v", tc.mode, err, tc.wantErr)
			}
		})
	}
}

func TestValidatePermissionsStatError(t *testing.T) {
	err := validatePermissions("/tmp/nonexistent-file-for-stat-test-scribe.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}
