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
	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAI (or OpenAI-compatible) backend.
type OpenAIConfig struct {
	APIKey       *secrets.Secret
	Model        string
	BaseURL      string
	SystemPrompt string
}

// OpenAIClient generates text with the chat completions API.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIClient creates an OpenAI backend.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey, err := cfg.APIKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("openai api key: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, defaulting", "model", cfg.Model)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a careful misinformation analyst."
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI client", "model", cfg.Model)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Generate implements LLMClient.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text via OpenAI", "model", o.model)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapOpenAIError(o.model, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func wrapOpenAIError(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "openai", Model: model, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Provider: "openai", Model: model, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("openai call failed: %w", err)
}

var _ LLMClient = (*OpenAIClient)(nil)
