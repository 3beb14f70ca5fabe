// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat answers follow-up questions about a persisted analysis.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/llm"
)

// Apology is returned when the generator cannot answer.
const Apology = "I'm sorry, I'm having trouble retrieving the context for that follow-up. Please try again."

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Answer is the reply to one follow-up question.
type Answer struct {
	RecordID string `json:"record_id"`
	Answer   string `json:"answer"`

	// Degraded is set when Answer is the apology.
	Degraded *collaborators.Error `json:"-"`
}

// Service answers follow-ups. Records are read, never written.
type Service struct {
	records   records.Store
	generator llm.LLMClient
	guard     collaborators.Guard
	logger    *slog.Logger
}

// NewService creates a Service. A nil generator makes every answer the
// apology.
func NewService(recs records.Store, generator llm.LLMClient, guard collaborators.Guard) *Service {
	logger := guard.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: recs, generator: generator, guard: guard, logger: logger}
}

// Ask answers question in the context of the record.
//
// Outputs:
//
//	Answer - The reply. A generator failure yields the apology, not an error.
//	error - records.ErrNotFound for an unknown record, ErrEmptyQuestion.
func (s *Service) Ask(ctx context.Context, recordID, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return Answer{}, fmt.Errorf("load record %s: %w", recordID, err)
	}

	out := Answer{RecordID: rec.RecordID}
	if s.generator == nil {
		out.Answer = Apology
		out.Degraded = &collaborators.Error{Collaborator: "generator", Kind: collaborators.KindUnavailable, Err: errors.New("no generator configured")}
		return out, nil
	}

	prompt := BuildPrompt(*rec, question)
	reply, cerr := collaborators.Invoke(ctx, s.guard, "generator",
		func(ctx context.Context) (string, error) {
			return s.generator.Generate(ctx, prompt, llm.GenerationParams{})
		})
	reply = strings.TrimSpace(reply)
	if cerr == nil && reply == "" {
		cerr = collaborators.Classify("generator", llm.ErrEmptyResponse)
	}
	if cerr != nil {
		s.logger.Warn("chat follow-up degraded",
			slog.String("record_id", rec.RecordID),
			slog.String("kind", string(cerr.Kind)),
		)
		out.Answer = Apology
		out.Degraded = cerr
		return out, nil
	}
	out.Answer = reply
	return out, nil
}

// BuildPrompt renders the follow-up prompt for rec.
func BuildPrompt(rec records.Record, question string) string {
	var b strings.Builder
	b.WriteString("You are the Inocula Assistant. A user just received a misinformation analysis\n")
	b.WriteString("and has a follow-up question.\n\n")
	b.WriteString("CONTEXT OF PREVIOUS ANALYSIS:\n")
	fmt.Fprintf(&b, "- Analyzed Text: %q\n", rec.OriginalText)
	fmt.Fprintf(&b, "- AI Score: %d/100\n", rec.Result.Score)
	fmt.Fprintf(&b, "- AI Explanation: %s\n", rec.Result.Explanation)
	fmt.Fprintf(&b, "- Key Factors: %s\n\n", strings.Join(rec.Result.Reasons, ", "))
	fmt.Fprintf(&b, "USER FOLLOW-UP QUESTION: %q\n\n", question)
	b.WriteString("TASK: Answer the user's question based on the context above.\n")
	b.WriteString("Be helpful, objective, and keep the answer to 2-3 sentences.\n")
	return b.String()
}
