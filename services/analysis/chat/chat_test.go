// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/llm"
	store "github.com/AleutianAI/inocula/services/storage/badger"
)

type scriptedGenerator struct {
	reply  string
	err    error
	prompt string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}

func seedRecord(t *testing.T) (records.Store, records.Record) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	recs := records.NewBadgerStore(db)

	rec := records.New("job-1", "5G towers spread viruses", records.Result{
		Score:       20,
		Reasons:     []string{"High toxicity detected (Level: 80%)", "Logical flaw detected"},
		Explanation: "High Risk: the claim contradicts established science.",
	}, false)
	_, _, err = recs.InsertOnce(context.Background(), rec)
	require.NoError(t, err)
	return recs, rec
}

func TestAsk_Answers(t *testing.T) {
	// Arrange
	recs, rec := seedRecord(t)
	gen := &scriptedGenerator{reply: "  Radio waves cannot carry viruses.  "}
	svc := NewService(recs, gen, collaborators.Guard{Timeout: time.Second})

	// Act
	ans, err := svc.Ask(context.Background(), rec.RecordID, "Why is this false?")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Radio waves cannot carry viruses.", ans.Answer)
	assert.Nil(t, ans.Degraded)
	assert.Contains(t, gen.prompt, `"5G towers spread viruses"`)
	assert.Contains(t, gen.prompt, "AI Score: 20/100")
	assert.Contains(t, gen.prompt, "High toxicity detected (Level: 80%), Logical flaw detected")
	assert.Contains(t, gen.prompt, `USER FOLLOW-UP QUESTION: "Why is this false?"`)
}

func TestAsk_GeneratorFailureApologizes(t *testing.T) {
	recs, rec := seedRecord(t)
	gen := &scriptedGenerator{err: &llm.APIError{Provider: "gemini", StatusCode: 503, Err: errors.New("overloaded")}}
	svc := NewService(recs, gen, collaborators.Guard{})

	ans, err := svc.Ask(context.Background(), rec.RecordID, "Is it true?")

	require.NoError(t, err)
	assert.Equal(t, Apology, ans.Answer)
	require.NotNil(t, ans.Degraded)
	assert.Equal(t, collaborators.KindUnavailable, ans.Degraded.Kind)
}

func TestAsk_EmptyReplyApologizes(t *testing.T) {
	recs, rec := seedRecord(t)
	svc := NewService(recs, &scriptedGenerator{reply: "   "}, collaborators.Guard{})

	ans, err := svc.Ask(context.Background(), rec.RecordID, "Is it true?")

	require.NoError(t, err)
	assert.Equal(t, Apology, ans.Answer)
	require.NotNil(t, ans.Degraded)
	assert.Equal(t, collaborators.KindBadResponse, ans.Degraded.Kind)
}

func TestAsk_NoGenerator(t *testing.T) {
	recs, rec := seedRecord(t)

	ans, err := NewService(recs, nil, collaborators.Guard{}).Ask(context.Background(), rec.RecordID, "?")

	require.NoError(t, err)
	assert.Equal(t, Apology, ans.Answer)
}

func TestAsk_Errors(t *testing.T) {
	recs, rec := seedRecord(t)
	svc := NewService(recs, &scriptedGenerator{reply: "ok"}, collaborators.Guard{})

	_, err := svc.Ask(context.Background(), "missing", "why?")
	assert.ErrorIs(t, err, records.ErrNotFound)

	_, err = svc.Ask(context.Background(), rec.RecordID, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}
