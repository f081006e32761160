package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribe-ai/internal/infra/config"
)

func TestCheckConfigFile_NotFound(t *testing.T) {
	fn := checkConfigFile("/nonexistent/path/config.yaml", nil)
	result := fn(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	fn := checkConfigFile("config.yaml", &config.ValidationError{Errors: []string{"bad yaml"}})
	result := fn(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for load error, got %s", result.Status)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := writeTestFile(t, cfgPath, "provider:\n  model: gpt-4o-mini\n"); err != nil {
		t.Fatal(err)
	}

	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for valid config, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckAPIKey(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want CheckStatus
	}{
		{"nil config", nil, StatusFail},
		{"missing", &config.Config{}, StatusFail},
		{"encrypted", &config.Config{Provider: config.ProviderConfig{APIKey: "enc:abc:def"}}, StatusFail},
		{"present", &config.Config{Provider: config.ProviderConfig{APIKey: "sk-test"}}, StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkAPIKey(tt.cfg).Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckConnectivity_NoAPIKey(t *testing.T) {
	result := checkConnectivity(config.Defaults())
	if result.Status != StatusWarn {
		t.Errorf("expected WARN without key, got %s", result.Status)
	}
}

func TestCheckConnectivity(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   CheckStatus
	}{
		{"ok", http.StatusOK, StatusPass},
		{"unauthorized", http.StatusUnauthorized, StatusFail},
		{"not found", http.StatusNotFound, StatusWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/models" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer sk-test" {
					t.Errorf("missing bearer token")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			cfg := config.Defaults()
			cfg.Provider.BaseURL = srv.URL + "/"
			cfg.Provider.APIKey = "sk-test"
			if got := checkConnectivity(cfg).Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckConnectivity_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := config.Defaults()
	cfg.Provider.BaseURL = url
	cfg.Provider.APIKey = "sk-test"
	result := checkConnectivity(cfg)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for closed server, got %s", result.Status)
	}
}

func TestCheckRuleTable(t *testing.T) {
	cfg := config.Defaults()
	if got := checkRuleTable(cfg); got.Status != StatusPass || !strings.Contains(got.Message, "built-in") {
		t.Errorf("built-in table: %s %s", got.Status, got.Message)
	}

	cfg.Moderation.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if got := checkRuleTable(cfg); got.Status != StatusFail {
		t.Errorf("missing rules file: expected FAIL, got %s", got.Status)
	}

	cfg.Moderation.LocalEnabled = false
	if got := checkRuleTable(cfg); got.Status != StatusWarn {
		t.Errorf("disabled: expected WARN, got %s", got.Status)
	}
}

func TestCheckAuditLog(t *testing.T) {
	cfg := config.Defaults()
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(t.TempDir(), "nested", "audit.jsonl")

	result := checkAuditLog(cfg)
	if result.Status != StatusPass {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
	entries, err := os.ReadDir(filepath.Dir(cfg.Audit.Path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch file left behind: %v", entries)
	}

	cfg.Audit.MaxSize = "lots"
	if got := checkAuditLog(cfg); got.Status != StatusFail {
		t.Errorf("bad max_size: expected FAIL, got %s", got.Status)
	}
}

func TestCheckImage(t *testing.T) {
	cfg := config.Defaults()
	if got := checkImage(cfg); got.Status != StatusPass {
		t.Errorf("disabled: got %s", got.Status)
	}
	cfg.Image.Enabled = true
	if got := checkImage(cfg); got.Status != StatusFail {
		t.Errorf("no key: expected FAIL, got %s", got.Status)
	}
	cfg.Provider.APIKey = "sk-test"
	if got := checkImage(cfg); got.Status != StatusPass {
		t.Errorf("with provider key: got %s", got.Status)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[CheckStatus]string{
		StatusPass: "[PASS]",
		StatusWarn: "[WARN]",
		StatusFail: "[FAIL]",
		"OTHER":    "[????]",
	}
	for status, want := range tests {
		if got := statusIcon(status); got != want {
			t.Errorf("statusIcon(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	flags := parseFlags([]string{
		"--model", "gpt-4o", "--key=sk-x", "--markdown",
		"--config", "c.yaml", "--out", "o.md", "write", "a story",
	})
	if flags.Model != "gpt-4o" || flags.APIKey != "sk-x" || !flags.Markdown || flags.Out != "o.md" {
		t.Errorf("flags = %+v", flags)
	}
	if strings.Join(flags.Args, " ") != "write a story" {
		t.Errorf("Args = %q", flags.Args)
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"a", "b"}, strings.NewReader("ignored"))
	if err != nil || got != "a b" {
		t.Errorf("args: %q, %v", got, err)
	}
	got, err = readPrompt(nil, strings.NewReader("  from stdin\n"))
	if err != nil || got != "from stdin" {
		t.Errorf("stdin: %q, %v", got, err)
	}
	if _, err := readPrompt(nil, strings.NewReader("  ")); err == nil {
		t.Error("expected error for empty prompt")
	}
}

// writeTestFile is a test helper that creates a file with the given content.
func writeTestFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0644)
}
