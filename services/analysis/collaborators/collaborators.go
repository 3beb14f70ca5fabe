// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collaborators defines the external capabilities the analysis
// stages depend on and the uniform way they are called.
//
// # Description
//
// Each capability (toxicity, emotion, fallacy ranking, fact lookup) is an
// interface with a narrow contract. Stages never call an implementation
// directly; they go through Invoke, which applies a deadline, recovers
// panics and turns every failure into an *Error with a Kind. A stage that
// receives an *Error contributes nothing and the job carries on.
//
// # Implementations
//
//   - HFClient: Hugging Face Inference compatible classifiers
//   - WikipediaLookup: search + page summary fact lookup
package collaborators

import "context"

// ToxicityClassifier returns the probability in [0,1] that text is toxic.
type ToxicityClassifier interface {
	Toxicity(ctx context.Context, text string) (float64, error)
}

// EmotionClassifier returns a confidence in [0,1] per emotion label.
// Labels are lower case (e.g. "anger", "fear").
type EmotionClassifier interface {
	Emotions(ctx context.Context, text string) (map[string]float64, error)
}

// Ranked is one label of a ranking with its confidence.
type Ranked struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// FallacyRanker scores text against the candidate labels. The result is
// sorted by descending confidence.
type FallacyRanker interface {
	Rank(ctx context.Context, text string, labels []string) ([]Ranked, error)
}

// Fact is the context a FactLookup found for a query.
type Fact struct {
	// Source names the reference work, e.g. "Wikipedia".
	Source    string `json:"source"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	SourceURL string `json:"source_url"`
}

// FactLookup finds reference context for a query. A nil Fact with a nil
// error means nothing relevant was found.
type FactLookup interface {
	Lookup(ctx context.Context, query string) (*Fact, error)
}
