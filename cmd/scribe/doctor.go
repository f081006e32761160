package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/security"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var doctorClient = &http.Client{Timeout: 10 * time.Second}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config; some checks work without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Provider API key", Fn: checkAPIKey},
		{Name: "Provider connectivity", Fn: checkConnectivity},
		{Name: "Moderation rules", Fn: checkRuleTable},
		{Name: "Audit log", Fn: checkAuditLog},
		{Name: "Image generation", Fn: checkImage},
	}

	fmt.Println("scribe doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above to ensure scribe runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nscribe should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! scribe is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file loads. A
// missing file is only a warning: defaults and environment still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the values reported above",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
				Fix:     "Create config.yaml or set SCRIBEAI_CONFIG",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkAPIKey verifies the provider has an API key.
func checkAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Provider.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "no API key configured",
			Fix:     "Set SCRIBEAI_PROVIDER_API_KEY or provider.api_key",
		}
	}
	if strings.HasPrefix(cfg.Provider.APIKey, "enc:") {
		return CheckResult{
			Status:  StatusFail,
			Message: "API key is encrypted but SCRIBEAI_CONFIG_KEY is not set",
			Fix:     "Export SCRIBEAI_CONFIG_KEY with the passphrase used by 'scribe encrypt'",
		}
	}
	return CheckResult{Status: StatusPass, Message: "API key configured"}
}

// checkConnectivity lists models on the provider endpoint.
func checkConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Provider.APIKey == "" {
		return CheckResult{Status: StatusWarn, Message: "skipped, no API key"}
	}

	endpoint := strings.TrimRight(cfg.Provider.BaseURL, "/") + "/models"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Provider.APIKey)

	resp, err := doctorClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and provider.base_url",
		}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s rejected the API key (HTTP %d)", endpoint, resp.StatusCode),
			Fix:     "Verify the key hasn't expired",
		}
	case resp.StatusCode >= 400:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s reachable but returned HTTP %d", endpoint, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", cfg.Provider.BaseURL, latency.Milliseconds()),
	}
}

// checkRuleTable loads the moderation table.
func checkRuleTable(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Moderation.LocalEnabled {
		return CheckResult{Status: StatusWarn, Message: "local moderation is disabled"}
	}
	table, err := loadRuleTable(cfg.Moderation)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Fix moderation.rules_file or remove it to use the built-in table",
		}
	}
	source := "built-in"
	if cfg.Moderation.RulesFile != "" {
		source = cfg.Moderation.RulesFile
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d categories (%s)", len(table.Categories()), source),
	}
}

// checkAuditLog verifies the audit directory is writable.
func checkAuditLog(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Audit.Enabled {
		return CheckResult{Status: StatusPass, Message: "audit logging is disabled"}
	}
	if _, err := security.ParseRetentionMaxSize(cfg.Audit.MaxSize); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("audit.max_size: %v", err),
			Fix:     "Use a size such as 10MB",
		}
	}

	dir := filepath.Dir(cfg.Audit.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("audit directory %s cannot be created: %v", dir, err),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", dir),
		}
	}
	scratch, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("audit directory %s is not writable: %v", dir, err),
			Fix:     fmt.Sprintf("Check permissions on %s", dir),
		}
	}
	scratch.Close()
	os.Remove(scratch.Name())

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("writing to %s", cfg.Audit.Path)}
}

// checkImage reports whether image generation is configured.
func checkImage(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Image.Enabled {
		return CheckResult{Status: StatusPass, Message: "image generation is disabled"}
	}
	if cfg.Image.APIKey == "" && cfg.Provider.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "image generation enabled without an API key",
			Fix:     "Set image.api_key or provider.api_key",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s %s, triggers %s", cfg.Image.Model, cfg.Image.Size, strings.Join(cfg.Image.TriggerKeywords, " ")),
	}
}
