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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/inocula/pkg/secrets"
	"google.golang.org/genai"
)

// DefaultGeminiModels is the candidate order used when none is configured.
var DefaultGeminiModels = []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey *secrets.Secret

	// Models is the ordered list of model names to try. Each becomes one
	// candidate of the returned FallbackChain.
	Models []string
}

// GeminiClient generates text with one Gemini model.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiChain creates one GeminiClient per configured model, sharing a
// single SDK client, and wraps them in a FallbackChain.
func NewGeminiChain(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*FallbackChain, error) {
	apiKey, err := cfg.APIKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("gemini api key: %w", err)
	}
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultGeminiModels
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	candidates := make([]Candidate, 0, len(models))
	for _, m := range models {
		candidates = append(candidates, Candidate{
			Name:   "gemini/" + m,
			Client: &GeminiClient{client: client, model: m},
		})
	}
	slog.Info("Initializing Gemini client", "models", models)
	return NewFallbackChain(logger, candidates...), nil
}

// Generate implements LLMClient.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if params.Temperature != nil {
		cfg.Temperature = params.Temperature
	}
	if params.TopP != nil {
		cfg.TopP = params.TopP
	}
	if params.TopK != nil {
		k := float32(*params.TopK)
		cfg.TopK = &k
	}
	if params.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*params.MaxTokens)
	}
	if len(params.Stop) > 0 {
		cfg.StopSequences = params.Stop
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", wrapGeminiError(g.model, err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func wrapGeminiError(model string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", Model: model, StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{Provider: "gemini", Model: model, StatusCode: apiErrPtr.Code, Err: err}
	}
	return fmt.Errorf("gemini call failed: %w", err)
}

var _ LLMClient = (*GeminiClient)(nil)
