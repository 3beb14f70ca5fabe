// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/inocula/pkg/secrets"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultHFBaseURL       = "https://api-inference.huggingface.co/models"
	defaultToxicityModel   = "unitary/toxic-bert"
	defaultEmotionModel    = "j-hartmann/emotion-english-distilroberta-base"
	defaultZeroShotModel   = "sileod/deberta-v3-base-tasksource-nli"
	defaultHFRetryMaxTotal = 30 * time.Second
	toxicLabel             = "toxic"

	// maxResponseBytes caps what is read from a collaborator response.
	maxResponseBytes = 1 << 20
)

// HFConfig configures an HFClient.
type HFConfig struct {
	// BaseURL is the prefix the model id is appended to. A self-hosted
	// text-embeddings-inference or TGI gateway can be used instead of the
	// public endpoint.
	BaseURL string

	// Token is the optional bearer token.
	Token *secrets.Secret

	ToxicityModel string
	EmotionModel  string
	ZeroShotModel string

	// RetryMaxElapsed bounds retries of "model is loading" answers.
	RetryMaxElapsed time.Duration

	HTTPClient *http.Client
}

// HFClient calls Hugging Face Inference compatible classification endpoints.
//
// It implements ToxicityClassifier, EmotionClassifier and FallacyRanker.
type HFClient struct {
	cfg        HFConfig
	token      string
	httpClient *http.Client
}

// NewHFClient creates an HFClient, filling in default models.
func NewHFClient(cfg HFConfig) (*HFClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultHFBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.ToxicityModel == "" {
		cfg.ToxicityModel = defaultToxicityModel
	}
	if cfg.EmotionModel == "" {
		cfg.EmotionModel = defaultEmotionModel
	}
	if cfg.ZeroShotModel == "" {
		cfg.ZeroShotModel = defaultZeroShotModel
	}
	if cfg.RetryMaxElapsed == 0 {
		cfg.RetryMaxElapsed = defaultHFRetryMaxTotal
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	var token string
	if cfg.Token != nil {
		t, err := cfg.Token.Reveal()
		if err != nil {
			return nil, fmt.Errorf("hugging face token: %w", err)
		}
		token = t
	}

	slog.Info("Initializing Hugging Face classifiers",
		"base_url", cfg.BaseURL,
		"toxicity_model", cfg.ToxicityModel,
		"emotion_model", cfg.EmotionModel,
		"zero_shot_model", cfg.ZeroShotModel)

	return &HFClient{cfg: cfg, token: token, httpClient: httpClient}, nil
}

type hfLabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type hfZeroShotResponse struct {
	Sequence string    `json:"sequence"`
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
}

// Toxicity implements ToxicityClassifier. The probability is the score of
// the "toxic" label; a model that does not emit it yields 0.
func (c *HFClient) Toxicity(ctx context.Context, text string) (float64, error) {
	scores, err := c.classify(ctx, c.cfg.ToxicityModel, text)
	if err != nil {
		return 0, err
	}
	for _, s := range scores {
		if strings.EqualFold(s.Label, toxicLabel) {
			return s.Score, nil
		}
	}
	return 0, nil
}

// Emotions implements EmotionClassifier.
func (c *HFClient) Emotions(ctx context.Context, text string) (map[string]float64, error) {
	scores, err := c.classify(ctx, c.cfg.EmotionModel, text)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(scores))
	for _, s := range scores {
		out[strings.ToLower(s.Label)] = s.Score
	}
	return out, nil
}

// Rank implements FallacyRanker with zero-shot classification.
func (c *HFClient) Rank(ctx context.Context, text string, labels []string) ([]Ranked, error) {
	payload := map[string]any{
		"inputs":     text,
		"parameters": map[string]any{"candidate_labels": labels},
	}
	body, err := c.post(ctx, c.cfg.ZeroShotModel, payload)
	if err != nil {
		return nil, err
	}

	var resp hfZeroShotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: zero-shot: %v", ErrBadResponse, err)
	}
	if len(resp.Labels) == 0 || len(resp.Labels) != len(resp.Scores) {
		return nil, fmt.Errorf("%w: zero-shot returned %d labels and %d scores",
			ErrBadResponse, len(resp.Labels), len(resp.Scores))
	}

	ranked := make([]Ranked, len(resp.Labels))
	for i := range resp.Labels {
		ranked[i] = Ranked{Label: resp.Labels[i], Confidence: resp.Scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked, nil
}

// classify runs a text-classification model and returns every label score.
func (c *HFClient) classify(ctx context.Context, model, text string) ([]hfLabelScore, error) {
	payload := map[string]any{
		"inputs":  text,
		"options": map[string]any{"wait_for_model": true},
		// top_k=null asks the pipeline for every label instead of the best one.
		"parameters": map[string]any{"top_k": nil},
	}
	body, err := c.post(ctx, model, payload)
	if err != nil {
		return nil, err
	}

	// The endpoint answers [[{...}]] for a single input; some gateways flatten it.
	var nested [][]hfLabelScore
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	var flat []hfLabelScore
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("%w: classification: %v", ErrBadResponse, err)
	}
	return flat, nil
}

// post sends payload to the model endpoint, retrying 503 "model loading"
// answers with exponential backoff.
func (c *HFClient) post(ctx context.Context, model string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.cfg.BaseURL + "/" + model

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.RetryMaxElapsed

	return backoff.RetryWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		defer resp.Body.Close()

		body, err := readBody(resp.Body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusServiceUnavailable:
			slog.Debug("Hugging Face model loading, retrying", "model", model)
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
		default:
			return nil, backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)})
		}
	}, backoff.WithContext(bo, ctx))
}

// readBody reads at most maxResponseBytes. A longer body is a bad response.
func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrBadResponse, maxResponseBytes)
	}
	return body, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

var (
	_ ToxicityClassifier = (*HFClient)(nil)
	_ EmotionClassifier  = (*HFClient)(nil)
	_ FallacyRanker      = (*HFClient)(nil)
)
