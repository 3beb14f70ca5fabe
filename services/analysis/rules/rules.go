// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package rules implements the quick scan: a synchronous, model-free heuristic
score used to answer immediately and to decide whether a text deserves the
full pipeline. The rule set is embedded in the binary from quick_rules.yaml.
*/
package rules

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed quick_rules.yaml
var defaultRules []byte

// Quick scan statuses.
const (
	StatusComplete        = "quick_analysis_complete"
	StatusDetailedPending = "detailed_pending"
)

// UncertainReason is appended when the score falls in the uncertain band.
const UncertainReason = "Score is uncertain. Queued for deeper AI analysis."

// RuleSet is the parsed form of quick_rules.yaml.
type RuleSet struct {
	Keywords struct {
		Deduction int      `yaml:"deduction"`
		Terms     []string `yaml:"terms"`
	} `yaml:"keywords"`

	Domains struct {
		Deduction int      `yaml:"deduction"`
		Hosts     []string `yaml:"hosts"`
	} `yaml:"domains"`

	Exclamations struct {
		Max       int `yaml:"max"`
		Deduction int `yaml:"deduction"`
	} `yaml:"exclamations"`

	Capitalization struct {
		MaxWords  int `yaml:"max_words"`
		MinLength int `yaml:"min_length"`
		Deduction int `yaml:"deduction"`
	} `yaml:"capitalization"`

	Uncertain Band `yaml:"uncertain"`
}

// Band is an inclusive score range.
type Band struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Contains reports whether score lies in the band.
func (b Band) Contains(score int) bool {
	return score >= b.Min && score <= b.Max
}

// UnmarshalYAML rejects an inverted band.
func (b *Band) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Min int `yaml:"min"`
		Max int `yaml:"max"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Min > raw.Max || raw.Min < 0 || raw.Max > 100 {
		return fmt.Errorf("invalid uncertain band [%d, %d]", raw.Min, raw.Max)
	}
	*b = Band(raw)
	return nil
}

// Result is the outcome of one quick scan.
type Result struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`

	// Uncertain is true when the score lies in the uncertain band and the
	// text should go through the full pipeline.
	Uncertain bool `json:"-"`
}

// Engine scores text with a fixed rule set. It is immutable and safe for
// concurrent use.
type Engine struct {
	rules RuleSet
}

// NewEngine loads the embedded rule set.
func NewEngine() (*Engine, error) {
	return Parse(defaultRules)
}

// Parse builds an Engine from YAML rule data.
func Parse(data []byte) (*Engine, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse quick rules: %w", err)
	}
	for i, t := range rs.Keywords.Terms {
		rs.Keywords.Terms[i] = strings.ToLower(t)
	}
	for i, h := range rs.Domains.Hosts {
		rs.Domains.Hosts[i] = strings.ToLower(h)
	}
	return &Engine{rules: rs}, nil
}

// Rules returns the loaded rule set. Callers must not modify its slices.
func (e *Engine) Rules() RuleSet {
	return e.rules
}

// Scan applies every rule to text. Matching is case-insensitive for
// keywords and domains.
func (e *Engine) Scan(text string) Result {
	r := e.rules
	score := 100
	reasons := make([]string, 0, 4)
	lower := strings.ToLower(text)

	for _, kw := range r.Keywords.Terms {
		if strings.Contains(lower, kw) {
			score -= r.Keywords.Deduction
			reasons = append(reasons, fmt.Sprintf("Contains sensational keyword: '%s'", kw))
		}
	}

	for _, host := range r.Domains.Hosts {
		if strings.Contains(lower, host) {
			score -= r.Domains.Deduction
			reasons = append(reasons, fmt.Sprintf("Mentions an untrusted source: '%s'", host))
		}
	}

	if strings.Count(text, "!") > r.Exclamations.Max {
		score -= r.Exclamations.Deduction
		reasons = append(reasons, "Contains excessive exclamation marks.")
	}

	if caps := shoutedWords(text, r.Capitalization.MinLength); len(caps) > r.Capitalization.MaxWords {
		score -= r.Capitalization.Deduction
		reasons = append(reasons, "Contains excessive capitalization: "+strings.Join(caps, ", "))
	}

	score = max(score, 0)
	return Result{
		Score:     score,
		Reasons:   reasons,
		Uncertain: r.Uncertain.Contains(score),
	}
}

// shoutedWords returns the whitespace-separated words of at least minLen
// runes that contain a letter and no lowercase letter.
func shoutedWords(text string, minLen int) []string {
	var out []string
	for _, w := range strings.Fields(text) {
		if utf8.RuneCountInString(w) < minLen {
			continue
		}
		if isShouted(w) {
			out = append(out, w)
		}
	}
	return out
}

func isShouted(w string) bool {
	cased := false
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}
