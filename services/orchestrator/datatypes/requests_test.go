// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/inocula/services/analysis/reports"
)

func TestValidate_AnalyzeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     AnalyzeRequest
		wantErr string
	}{
		{name: "valid", req: AnalyzeRequest{Text: "The moon is made of cheese."}},
		{name: "empty", req: AnalyzeRequest{}, wantErr: "text is required"},
		{name: "blank", req: AnalyzeRequest{Text: " \n\t "}, wantErr: "text is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ChatRequestReportsEveryField(t *testing.T) {
	err := Validate(ChatRequest{Question: strings.Repeat("?", MaxQuestionLength+1)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record_id is required")
	assert.Contains(t, err.Error(), "question must be at most 2000 characters")
}

func TestValidate_ReportStatusRequest(t *testing.T) {
	assert.NoError(t, Validate(ReportStatusRequest{Status: "escalated"}))

	err := Validate(ReportStatusRequest{Status: "closed"})
	assert.EqualError(t, err, "status must be one of [submitted escalated resolved]")

	st, err := ReportStatusRequest{Status: "resolved"}.ParsedStatus()
	require.NoError(t, err)
	assert.Equal(t, reports.StatusResolved, st)
}

func TestValidate_MemoryRequest(t *testing.T) {
	assert.NoError(t, Validate(MemoryRequest{Text: "Claim", Label: "Debunked"}))
	assert.EqualError(t, Validate(MemoryRequest{Text: "Claim"}), "label is required")
}

func TestValidate_ReportRequestAllowsEmptyComment(t *testing.T) {
	assert.NoError(t, Validate(ReportRequest{}))
	assert.Error(t, Validate(ReportRequest{Comment: strings.Repeat("x", MaxCommentLength+1)}))
}
