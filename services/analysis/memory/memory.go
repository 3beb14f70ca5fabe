// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory holds previously adjudicated claims and the gate that
// short-circuits analysis when a new input repeats one of them.
//
// # Distance
//
// All indexes compare unit-normalized embeddings by squared Euclidean
// distance. For unit vectors this is 2 - 2*cos(θ), so a threshold of 0.5
// corresponds to a cosine similarity above 0.75.
package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/state"
)

// DefaultThreshold is the squared-L2 distance below which a match counts.
const DefaultThreshold = 0.5

// HistoricalMatchReason is the single reason recorded for a memory hit.
const HistoricalMatchReason = "Historical Match: This claim matches a previously debunked narrative."

// Match is the nearest known claim.
type Match struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Label    string  `json:"label"`
	Distance float32 `json:"distance"`
}

// Memory is a store of adjudicated claims searchable by similarity.
type Memory interface {
	// Query returns the single nearest claim, or nil if the store is empty.
	Query(ctx context.Context, text string) (*Match, error)

	// Add records a claim with its verdict label. Adding the same text
	// twice replaces the label.
	Add(ctx context.Context, text, label string) error
}

// Seed is a claim to preload.
type Seed struct {
	Text  string `yaml:"text" json:"text"`
	Label string `yaml:"label" json:"label"`
}

// DefaultSeeds are the claims every fresh deployment knows about.
var DefaultSeeds = []Seed{
	{Text: "The moon is made of green cheese.", Label: "Debunked Fact: Moon is rock."},
	{Text: "Drinking bleach cures viruses.", Label: "Dangerous Hoax: Bleach is toxic."},
	{Text: "Bananas are actually radioactive fish.", Label: "Satire: Bananas are fruit."},
}

// Load adds every seed to m.
func Load(ctx context.Context, m Memory, seeds []Seed) error {
	for _, s := range seeds {
		if err := m.Add(ctx, s.Text, s.Label); err != nil {
			return fmt.Errorf("seed %q: %w", s.Text, err)
		}
	}
	return nil
}

// =============================================================================
// Gate
// =============================================================================

// Decision is the gate's routing verdict.
type Decision int

const (
	// RouteFullScan sends the job through every analysis stage.
	RouteFullScan Decision = iota + 1

	// RouteMemoryHit sends the job straight to the terminal stage.
	RouteMemoryHit
)

func (d Decision) String() string {
	switch d {
	case RouteFullScan:
		return "full_scan"
	case RouteMemoryHit:
		return "memory_hit"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// GateConfig configures a Gate.
type GateConfig struct {
	// Threshold is the exclusive upper bound on match distance.
	// Zero uses DefaultThreshold.
	Threshold float64

	Guard  collaborators.Guard
	Logger *slog.Logger
}

// Gate decides whether a known verdict applies to the input.
type Gate struct {
	mem       Memory
	threshold float64
	guard     collaborators.Guard
	logger    *slog.Logger
}

// NewGate creates a Gate over mem. A nil mem always routes to the full scan.
func NewGate(mem Memory, cfg GateConfig) *Gate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{mem: mem, threshold: cfg.Threshold, guard: cfg.Guard, logger: cfg.Logger}
}

// Threshold returns the configured distance threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Decide routes a job.
//
// Description:
//
//	Queries the memory for the top-1 neighbour of the input text. A
//	distance strictly below the threshold is a hit: the partial marks the
//	state as a memory hit, records the match label as context, sets the
//	score to 0 and appends HistoricalMatchReason. Anything else, including a
//	failed query, is a full scan with an empty partial.
//
// Inputs:
//
//	ctx - Job context.
//	snap - Read-only view of the job state.
//
// Outputs:
//
//	Decision - RouteMemoryHit or RouteFullScan.
//	state.Partial - The update to merge with state.WriterGate.
//	*collaborators.Error - Non-nil when the memory could not be queried.
func (g *Gate) Decide(ctx context.Context, snap state.State) (Decision, state.Partial, *collaborators.Error) {
	if g.mem == nil {
		return RouteFullScan, state.Partial{}, nil
	}

	match, cerr := collaborators.Invoke(ctx, g.guard, "similarity_memory",
		func(ctx context.Context) (*Match, error) {
			return g.mem.Query(ctx, snap.InputText)
		})
	if cerr != nil {
		return RouteFullScan, state.Partial{}, cerr
	}

	if match == nil || float64(match.Distance) >= g.threshold {
		return RouteFullScan, state.Partial{}, nil
	}

	g.logger.Info("Memory hit, skipping full scan",
		"match_id", match.ID,
		"distance", match.Distance,
		"label", match.Label)

	return RouteMemoryHit, state.Partial{
		IsMemoryHit:   state.Some(true),
		MemoryContext: state.Some(match.Label),
		TrustScore:    state.Some(0),
		Reasons:       []string{HistoricalMatchReason},
	}, nil
}
