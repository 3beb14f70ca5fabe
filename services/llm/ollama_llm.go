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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("inocula.llm")

// OllamaConfig configures a local Ollama backend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaClient generates text with a local Ollama server.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates an Ollama backend.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ollama base URL not set")
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
		slog.Warn("Ollama model not set, defaulting", "model", cfg.Model)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		model:      cfg.Model,
	}, nil
}

// Generate implements LLMClient.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	options := map[string]any{"temperature": float32(0.2)}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	reqBodyBytes, err := json.Marshal(ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return "", failSpan(span, fmt.Errorf("failed to marshal request to Ollama: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(reqBodyBytes))
	if err != nil {
		return "", failSpan(span, fmt.Errorf("failed to create request to Ollama: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", failSpan(span, fmt.Errorf("Ollama API call failed: %w", err))
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failSpan(span, fmt.Errorf("failed to read response body from Ollama: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		// Ollama answers 404 with {"error":"model ... not found"} for unpulled models.
		var errResp struct {
			Error string `json:"error"`
		}
		msg := string(respBodyBytes)
		if json.Unmarshal(respBodyBytes, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return "", failSpan(span, &APIError{
			Provider:   "ollama",
			Model:      o.model,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncate(msg, 512)),
		})
	}

	var ollamaResp ollamaGenerateResponse
	if err := json.Unmarshal(respBodyBytes, &ollamaResp); err != nil {
		return "", failSpan(span, fmt.Errorf("failed to parse Ollama response: %w", err))
	}
	if ollamaResp.Response == "" {
		return "", failSpan(span, ErrEmptyResponse)
	}
	return ollamaResp.Response, nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

var _ LLMClient = (*OllamaClient)(nil)
