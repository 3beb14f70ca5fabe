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
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// claimNamespace derives stable claim ids from their text.
var claimNamespace = uuid.MustParse("6f1d2a52-7c1e-4f4e-9b1a-1f0d0c5e8a11")

// ClaimID returns the stable id of a claim text.
func ClaimID(text string) string {
	return uuid.NewSHA1(claimNamespace, []byte(text)).String()
}

type flatEntry struct {
	id     string
	text   string
	label  string
	vector []float32
}

// FlatIndex is an exact in-process nearest-neighbour index.
//
// Every query scans all entries, which is fine for the few hundred claims a
// deployment curates by hand.
type FlatIndex struct {
	embedder Embedder

	mu      sync.RWMutex
	entries []flatEntry
	byID    map[string]int
}

// NewFlatIndex creates an empty FlatIndex.
func NewFlatIndex(embedder Embedder) *FlatIndex {
	return &FlatIndex{embedder: embedder, byID: make(map[string]int)}
}

// Len returns the number of stored claims.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Add implements Memory.
func (f *FlatIndex) Add(ctx context.Context, text, label string) error {
	if text == "" {
		return errors.New("claim text is empty")
	}
	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed claim: %w", err)
	}
	if len(vec) == 0 {
		return ErrEmptyEmbedding
	}
	entry := flatEntry{id: ClaimID(text), text: text, label: label, vector: Normalize(vec)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.byID[entry.id]; ok {
		f.entries[i] = entry
		return nil
	}
	f.byID[entry.id] = len(f.entries)
	f.entries = append(f.entries, entry)
	return nil
}

// Query implements Memory.
func (f *FlatIndex) Query(ctx context.Context, text string) (*Match, error) {
	f.mu.RLock()
	empty := len(f.entries) == 0
	f.mu.RUnlock()
	if empty {
		return nil, nil
	}

	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}
	Normalize(vec)

	f.mu.RLock()
	defer f.mu.RUnlock()

	best := -1
	var bestDist float32
	for i := range f.entries {
		d := SquaredL2(vec, f.entries[i].vector)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil, nil
	}
	e := f.entries[best]
	return &Match{ID: e.id, Text: e.text, Label: e.label, Distance: bestDist}, nil
}

var _ Memory = (*FlatIndex)(nil)
