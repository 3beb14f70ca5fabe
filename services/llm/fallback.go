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
)

// ErrNoCandidates is returned by a chain built without candidates.
var ErrNoCandidates = errors.New("fallback chain has no candidates")

// Candidate is one entry of a FallbackChain.
type Candidate struct {
	Name   string
	Client LLMClient
}

// FallbackChain tries candidates in order.
//
// # Description
//
// A candidate that reports ClassNotFound (the model is not offered to this
// key) hands over to the next one. Any other failure stops the chain and is
// returned as-is, so an auth or rate-limit error is never masked by trying
// more models against the same account.
//
// # Thread Safety
//
// Safe for concurrent use if the candidates are.
type FallbackChain struct {
	candidates []Candidate
	logger     *slog.Logger
}

// NewFallbackChain builds a chain. Nil clients are skipped.
func NewFallbackChain(logger *slog.Logger, candidates ...Candidate) *FallbackChain {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Client != nil {
			kept = append(kept, c)
		}
	}
	return &FallbackChain{candidates: kept, logger: logger}
}

// Len returns the number of usable candidates.
func (f *FallbackChain) Len() int {
	return len(f.candidates)
}

// Generate implements LLMClient.
func (f *FallbackChain) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if len(f.candidates) == 0 {
		return "", ErrNoCandidates
	}

	var lastErr error
	for i, c := range f.candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := c.Client.Generate(ctx, prompt, params)
		if err == nil {
			if i > 0 {
				f.logger.Info("Generation served by fallback candidate", "candidate", c.Name, "position", i)
			}
			return text, nil
		}

		class := Classify(err)
		if class != ClassNotFound {
			f.logger.Warn("Generation candidate failed, stopping chain",
				"candidate", c.Name,
				"class", class.String(),
				"error", err)
			return "", err
		}

		f.logger.Info("Generation candidate not available, trying next",
			"candidate", c.Name,
			"error", err)
		lastErr = err
	}

	return "", fmt.Errorf("all %d candidates unavailable: %w", len(f.candidates), lastErr)
}

var _ LLMClient = (*FallbackChain)(nil)
