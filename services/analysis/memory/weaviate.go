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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ClaimClass is the Weaviate class holding adjudicated claims.
const ClaimClass = "DebunkedClaim"

var tracer = otel.Tracer("inocula.memory")

// ClaimSchema returns the class definition for ClaimClass.
//
// Vectors are supplied by the caller and compared by squared L2 so that
// reported distances match FlatIndex.
func ClaimSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClaimClass,
		Description: "Claims that were already fact-checked, with their verdict label.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "l2-squared",
		},
		Properties: []*models.Property{
			{
				Name:        "text",
				DataType:    []string{"text"},
				Description: "The claim as originally submitted.",
			},
			{
				Name:            "label",
				DataType:        []string{"text"},
				Description:     "Verdict shown to users when the claim reappears.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "added_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the claim was stored.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

type claimQueryResponse struct {
	Get struct {
		DebunkedClaim []struct {
			Text       string `json:"text"`
			Label      string `json:"label"`
			Additional struct {
				ID       string   `json:"id"`
				Distance *float32 `json:"distance"`
			} `json:"_additional"`
		} `json:"DebunkedClaim"`
	} `json:"Get"`
}

// parseGraphQL converts Weaviate's dynamic response into T.
func parseGraphQL[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal graphql data: %w", err)
	}
	return &out, nil
}

// WeaviateIndex stores claims in a Weaviate ClaimClass collection.
type WeaviateIndex struct {
	client   *weaviate.Client
	embedder Embedder
	logger   *slog.Logger
}

// NewWeaviateClient builds a client from a URL such as http://weaviate:8080.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// NewWeaviateIndex creates the index and makes sure ClaimClass exists.
func NewWeaviateIndex(ctx context.Context, client *weaviate.Client, embedder Embedder, logger *slog.Logger) (*WeaviateIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WeaviateIndex{client: client, embedder: embedder, logger: logger}
	if err := w.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WeaviateIndex) ensureSchema(ctx context.Context) error {
	class := ClaimSchema()
	if _, err := w.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		w.logger.Debug("Schema already exists", "class", class.Class)
		return nil
	}
	w.logger.Info("Schema not found, creating it", "class", class.Class)
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	return nil
}

// Add implements Memory. The object id is derived from the text, so a
// repeated claim overwrites the stored one.
func (w *WeaviateIndex) Add(ctx context.Context, text, label string) error {
	ctx, span := tracer.Start(ctx, "memory.weaviate.add")
	defer span.End()

	vec, err := w.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return fmt.Errorf("embed claim: %w", err)
	}
	if len(vec) == 0 {
		return ErrEmptyEmbedding
	}

	obj := &models.Object{
		Class:  ClaimClass,
		ID:     strfmt.UUID(ClaimID(text)),
		Vector: Normalize(vec),
		Properties: map[string]interface{}{
			"text":     text,
			"label":    label,
			"added_at": time.Now().UnixMilli(),
		},
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return fmt.Errorf("save claim to weaviate: %w", err)
	}
	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil || len(item.Result.Errors.Error) == 0 {
			continue
		}
		msg := item.Result.Errors.Error[0].Message
		span.SetStatus(codes.Error, msg)
		return fmt.Errorf("save claim to weaviate: %s", msg)
	}
	return nil
}

// Query implements Memory.
func (w *WeaviateIndex) Query(ctx context.Context, text string) (*Match, error) {
	ctx, span := tracer.Start(ctx, "memory.weaviate.query")
	defer span.End()

	vec, err := w.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(Normalize(vec))
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "label"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(ClaimClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := parseGraphQL[claimQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	hits := parsed.Get.DebunkedClaim
	if len(hits) == 0 {
		span.SetAttributes(attribute.Bool("memory.match", false))
		return nil, nil
	}

	hit := hits[0]
	m := &Match{ID: hit.Additional.ID, Text: hit.Text, Label: hit.Label}
	if hit.Additional.Distance != nil {
		m.Distance = *hit.Additional.Distance
	} else {
		// Without a distance the result cannot be trusted as a match.
		m.Distance = float32(DefaultThreshold) * 4
	}
	span.SetAttributes(
		attribute.Bool("memory.match", true),
		attribute.Float64("memory.distance", float64(m.Distance)),
	)
	return m, nil
}

var _ Memory = (*WeaviateIndex)(nil)
