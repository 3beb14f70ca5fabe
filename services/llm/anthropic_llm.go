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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/inocula/pkg/secrets"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultURL   = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel = "claude-3-5-haiku-latest"
	anthropicMaxTokens    = 1024
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey       *secrets.Secret
	Model        string
	BaseURL      string
	SystemPrompt string
	Timeout      time.Duration
}

// AnthropicClient calls the Messages API over plain HTTP.
type AnthropicClient struct {
	httpClient   *http.Client
	apiKey       string
	model        string
	baseURL      string
	systemPrompt string
}

// NewAnthropicClient creates an Anthropic backend.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	apiKey, err := cfg.APIKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("anthropic api key: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
		slog.Info("Anthropic model not set, defaulting", "model", cfg.Model)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &AnthropicClient{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		apiKey:       apiKey,
		model:        cfg.Model,
		baseURL:      cfg.BaseURL,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Generate implements LLMClient.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	reqPayload := anthropicRequest{
		Model:       a.model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		System:      a.systemPrompt,
		MaxTokens:   anthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", a.model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			Provider:   "anthropic",
			Model:      a.model,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncate(string(bodyBytes), 512)),
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ LLMClient = (*AnthropicClient)(nil)
