// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/AleutianAI/inocula/pkg/secrets"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ErrEmptyEmbedding is returned when a provider yields no vector.
var ErrEmptyEmbedding = errors.New("embedding provider returned an empty vector")

// Embedder converts text into a vector.
//
// Implementations need not normalize; the indexes do.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// SquaredL2 returns the squared Euclidean distance between a and b.
// Vectors of different length are compared over the shorter prefix.
func SquaredL2(a, b []float32) float32 {
	n := min(len(a), len(b))
	var sum float32
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// =============================================================================
// Hashing Embedder
// =============================================================================

// HashingEmbedder is a deterministic, dependency-free embedder based on
// feature hashing of lower-cased word unigrams and bigrams.
//
// It recognizes near-verbatim repeats of a known claim, which is what the
// gate needs in lightweight mode, but has no notion of paraphrase.
type HashingEmbedder struct {
	Dim int
}

// NewHashingEmbedder returns a HashingEmbedder with dim buckets (default 384).
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashingEmbedder{Dim: dim}
}

// Embed implements Embedder.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	v := make([]float32, h.Dim)
	for i, w := range words {
		h.add(v, w)
		if i > 0 {
			h.add(v, words[i-1]+" "+w)
		}
	}
	return Normalize(v), nil
}

func (h *HashingEmbedder) add(v []float32, feature string) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.Dim))
	// The top bit picks the sign so collisions partly cancel out.
	if sum>>63 == 1 {
		v[idx]--
	} else {
		v[idx]++
	}
}

// =============================================================================
// Embedding Service (HTTP)
// =============================================================================

type embeddingServiceRequest struct {
	Text string `json:"text"`
}

type embeddingServiceResponse struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
	Dim    int       `json:"dim"`
}

// ServiceEmbedder calls a local sentence-transformers embedding service that
// accepts {"text": ...} and answers {"vector": [...]}.
type ServiceEmbedder struct {
	url        string
	httpClient *http.Client
}

// NewServiceEmbedder creates a ServiceEmbedder for the given endpoint URL.
func NewServiceEmbedder(url string) *ServiceEmbedder {
	return &ServiceEmbedder{url: url, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Embed implements Embedder.
func (s *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embeddingServiceRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var out embeddingServiceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(out.Vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return out.Vector, nil
}

// =============================================================================
// OpenAI
// =============================================================================

// OpenAIEmbedder uses the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an OpenAIEmbedder. An empty model uses
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey *secrets.Secret, model string) (*OpenAIEmbedder, error) {
	key, err := apiKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("openai api key: %w", err)
	}
	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	return &OpenAIEmbedder{client: openai.NewClient(key), model: m}, nil
}

// Embed implements Embedder.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// =============================================================================
// Gemini
// =============================================================================

// GeminiEmbedder uses the Gemini embeddings API with the semantic
// similarity task type.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates a GeminiEmbedder. An empty model uses
// gemini-embedding-001.
func NewGeminiEmbedder(ctx context.Context, apiKey *secrets.Secret, model string) (*GeminiEmbedder, error) {
	key, err := apiKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("gemini api key: %w", err)
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

// Embed implements Embedder.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := g.client.Models.EmbedContent(ctx,
		g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return result.Embeddings[0].Values, nil
}
