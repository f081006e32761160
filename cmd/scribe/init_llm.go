package main

import (
	"log/slog"

	"scribe-ai/internal/adapter/llm"
	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
)

// LLMComponents holds the provider and the auxiliary API clients. Optional
// clients are nil when disabled.
type LLMComponents struct {
	Provider    domain.StreamingProvider
	Images      domain.ImageGenerator
	Moderator   domain.Moderator
	Transcriber domain.Transcriber
}

// initLLM builds the provider, wrapped with a circuit breaker when enabled,
// and the image, moderation and transcription clients.
func initLLM(cfg *config.Config, log *slog.Logger) *LLMComponents {
	var provider domain.StreamingProvider = llm.NewOpenAIProvider(cfg.Provider, log)

	cbCfg := cfg.CircuitBreaker
	if cbCfg.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cbCfg, log)
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	comp := &LLMComponents{
		Provider:    provider,
		Transcriber: llm.NewTranscriptionClient(cfg.Transcription, cfg.Provider, log),
	}
	if cfg.Image.Enabled {
		comp.Images = llm.NewImageClient(cfg.Image, cfg.Provider, log)
		log.Info("image generation enabled", "model", cfg.Image.Model, "size", cfg.Image.Size)
	}
	if cfg.Moderation.RemoteEnabled {
		comp.Moderator = llm.NewModerationClient(cfg.Moderation, cfg.Provider, log)
		log.Info("provider moderation enabled", "model", cfg.Moderation.Model)
	}
	return comp
}
