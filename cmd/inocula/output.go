// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

var (
	colorTrusted = lipgloss.Color("#2CD7C7")
	colorMixed   = lipgloss.Color("#F4D03F")
	colorSuspect = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTrusted)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

// Score bands used for coloring.
const (
	trustedFrom = 70
	mixedFrom   = 40
)

// printer renders command output. Styling is applied only when w is a
// terminal; JSON mode bypasses it entirely.
type printer struct {
	w     io.Writer
	color bool
	json  bool
}

func newPrinter(w io.Writer, jsonOut bool) *printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{w: w, color: color && !jsonOut, json: jsonOut}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) printJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) score(score int) string {
	style := lipgloss.NewStyle().Bold(true)
	switch {
	case score >= trustedFrom:
		style = style.Foreground(colorTrusted)
	case score >= mixedFrom:
		style = style.Foreground(colorMixed)
	default:
		style = style.Foreground(colorSuspect)
	}
	return p.render(style, fmt.Sprintf("%d/100", score))
}

func (p *printer) reasons(reasons []string) {
	for _, r := range reasons {
		p.println("  • " + r)
	}
}

// Job prints a finished analysis.
func (p *printer) Job(job jobs.Job) error {
	if p.json {
		return p.printJSON(job)
	}
	if job.Status != jobs.StatusSucceeded || job.Result == nil {
		p.println(p.render(lipgloss.NewStyle().Foreground(colorSuspect), "Analysis "+string(job.Status)+": "+job.Error))
		return nil
	}

	res := job.Result
	p.println(p.render(titleStyle, "Trust score"), p.score(res.Score))
	if res.IsMemoryHit {
		p.println(p.render(mutedStyle, "Matched a known claim."))
	}
	p.reasons(res.Reasons)
	if len(res.DetectedEmotions) > 0 {
		p.println(p.render(mutedStyle, "Emotions: "+strings.Join(res.DetectedEmotions, ", ")))
	}
	if res.VerificationLink != "" {
		p.println(p.render(mutedStyle, "Source: "+res.VerificationLink))
	}
	if res.Explanation != "" {
		p.println(p.render(boxStyle, res.Explanation))
	}
	for _, d := range job.Degraded {
		p.println(p.render(mutedStyle, fmt.Sprintf("degraded: %s (%s)", d.Collaborator, d.Kind)))
	}
	if job.RecordID != "" {
		p.println(p.render(mutedStyle, "record "+job.RecordID))
	}
	return nil
}

// Quick prints a quick-scan verdict.
func (p *printer) Quick(resp datatypes.QuickScanResponse) error {
	if p.json {
		return p.printJSON(resp)
	}
	p.println(p.render(titleStyle, "Quick score"), p.score(resp.Score))
	p.reasons(resp.Reasons)
	if resp.JobID != "" {
		p.println(p.render(mutedStyle, "Detailed analysis queued as "+resp.JobID))
	}
	return nil
}

// Records prints one line per record.
func (p *printer) Records(recs []records.Record) error {
	if p.json {
		return p.printJSON(recs)
	}
	if len(recs) == 0 {
		p.println(p.render(mutedStyle, "No records yet."))
		return nil
	}
	for _, r := range recs {
		p.println(fmt.Sprintf("%s  %s  %s  %s",
			r.RecordID,
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			p.score(r.Result.Score),
			truncate(r.OriginalText, 60),
		))
	}
	return nil
}

// Match prints the nearest known claim.
func (p *printer) Match(m memory.Match) error {
	if p.json {
		return p.printJSON(m)
	}
	p.println(p.render(titleStyle, "Nearest claim"), p.render(mutedStyle, fmt.Sprintf("(distance %.3f)", m.Distance)))
	p.println("  " + m.Text)
	p.println("  " + p.render(mutedStyle, m.Label))
	return nil
}

// Answer prints a chat reply.
func (p *printer) Answer(resp datatypes.ChatResponse) error {
	if p.json {
		return p.printJSON(resp)
	}
	p.println(resp.Answer)
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
