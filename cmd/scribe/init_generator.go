package main

import (
	"context"
	"log/slog"
	"os"

	"scribe-ai/internal/adapter/llm"
	"scribe-ai/internal/adapter/rules"
	"scribe-ai/internal/adapter/terminal"
	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/usecase"
	"scribe-ai/internal/usecase/eventbus"
)

// initGenerator wires the generation pipeline. The returned cleanup drains
// the event bus.
func initGenerator(cfg *config.Config, llmComp *LLMComponents, sec *SecurityComponents, sink *terminal.Sink, log *slog.Logger) (*usecase.Generator, func(), error) {
	var moderation *usecase.ModerationClassifier
	if cfg.Moderation.LocalEnabled {
		table, err := loadRuleTable(cfg.Moderation)
		if err != nil {
			return nil, nil, err
		}
		moderation = usecase.NewModerationClassifier(table)
		log.Debug("moderation rules loaded", "categories", len(table.Categories()), "file", cfg.Moderation.RulesFile)
	}

	bus := eventbus.New(log)
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		log.Debug("event", "type", string(e.Type), "session_id", e.SessionID, "payload", string(e.Payload))
	})

	classifier := usecase.NewErrorClassifier(log)
	gen := usecase.NewGenerator(usecase.GeneratorDeps{
		Provider:    llmComp.Provider,
		NewDecoder:  func() domain.ChunkDecoder { return llm.NewSSEDecoder() },
		Images:      llmComp.Images,
		Moderator:   llmComp.Moderator,
		Transcriber: llmComp.Transcriber,
		Moderation:  moderation,
		Detector:    usecase.NewImagePromptDetector(cfg.Image.TriggerKeywords, cfg.Image.ContextMarkers),
		Retry:       usecase.NewRetryPolicy(cfg.Retry, classifier, log),
		Classifier:  classifier,
		Sink:        sink,
		Notifier:    terminal.NewNotifier(os.Stderr),
		Bus:         bus,
		Audit:       sec.AuditLogger,
		Logger:      log,
		Stream:      cfg.Stream,
	})
	return gen, bus.Close, nil
}

// loadRuleTable reads moderation.rules_file, or the built-in table.
func loadRuleTable(cfg config.ModerationConfig) (domain.RuleTable, error) {
	return rules.Load(cfg.RulesFile)
}
