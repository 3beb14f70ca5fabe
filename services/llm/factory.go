// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/inocula/pkg/secrets"
)

// Backend names accepted by New.
const (
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

// Config selects and configures a generation backend.
type Config struct {
	Backend string `yaml:"backend"`

	// Models is the ordered candidate list. Empty uses the backend default.
	Models []string `yaml:"models"`

	BaseURL      string `yaml:"base_url"`
	SystemPrompt string `yaml:"system_prompt"`

	// APIKey is resolved by the caller (environment or mounted secret).
	APIKey *secrets.Secret `yaml:"-"`
}

// New builds the generator described by cfg as an ordered FallbackChain.
//
// # Description
//
// Every configured model becomes one candidate. Gemini candidates share one
// SDK client. The chain moves to the next model only when a model is
// reported as not found.
//
// # Outputs
//
//   - *FallbackChain: ready to use
//   - error: unknown backend or a client that could not be constructed
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*FallbackChain, error) {
	switch cfg.Backend {
	case BackendGemini, "":
		return NewGeminiChain(ctx, GeminiConfig{APIKey: cfg.APIKey, Models: cfg.Models}, logger)

	case BackendOpenAI:
		return buildChain(cfg, logger, func(model string) (LLMClient, error) {
			return NewOpenAIClient(OpenAIConfig{
				APIKey:       cfg.APIKey,
				Model:        model,
				BaseURL:      cfg.BaseURL,
				SystemPrompt: cfg.SystemPrompt,
			})
		})

	case BackendAnthropic, "claude":
		return buildChain(cfg, logger, func(model string) (LLMClient, error) {
			return NewAnthropicClient(AnthropicConfig{
				APIKey:       cfg.APIKey,
				Model:        model,
				BaseURL:      cfg.BaseURL,
				SystemPrompt: cfg.SystemPrompt,
			})
		})

	case BackendOllama:
		return buildChain(cfg, logger, func(model string) (LLMClient, error) {
			return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model})
		})

	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.Backend)
	}
}

func buildChain(cfg Config, logger *slog.Logger, build func(model string) (LLMClient, error)) (*FallbackChain, error) {
	models := cfg.Models
	if len(models) == 0 {
		models = []string{""}
	}
	candidates := make([]Candidate, 0, len(models))
	for _, m := range models {
		client, err := build(m)
		if err != nil {
			return nil, fmt.Errorf("%s backend: %w", cfg.Backend, err)
		}
		name := cfg.Backend
		if m != "" {
			name += "/" + m
		}
		candidates = append(candidates, Candidate{Name: name, Client: client})
	}
	return NewFallbackChain(logger, candidates...), nil
}
