package main

import (
	"context"
	"fmt"
	"log/slog"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/security"
)

// SecurityComponents holds the audit logger. AuditLogger is nil when audit
// is disabled.
type SecurityComponents struct {
	AuditLogger domain.AuditLogger
}

// initSecurity opens the audit log and prunes it per the retention policy.
// Returns the components, a cleanup function, and any error.
func initSecurity(ctx context.Context, cfg *config.Config, log *slog.Logger) (*SecurityComponents, func(), error) {
	comp := &SecurityComponents{}
	cleanup := func() {}

	fileAudit, err := security.OpenAuditLogger(ctx, cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("audit logger: %w", err)
	}
	if fileAudit != nil {
		comp.AuditLogger = fileAudit
		cleanup = func() {
			if err := fileAudit.Close(); err != nil {
				log.Warn("audit log close failed", "error", err)
			}
		}
		log.Info("audit logging enabled",
			"path", cfg.Audit.Path,
			"max_age", cfg.Audit.MaxAge,
			"max_size", cfg.Audit.MaxSize,
		)
	}
	return comp, cleanup, nil
}
