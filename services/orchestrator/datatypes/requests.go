// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the JSON bodies of the analysis HTTP API and
// their validation rules.
package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/analysis/reports"
)

// Length limits for free-text fields other than the analyzed text, whose
// limit belongs to the job manager.
const (
	MaxQuestionLength = 2000
	MaxCommentLength  = 2000
	MaxLabelLength    = 500
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", validateNotBlank)

	// Report fields by the key clients send.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateNotBlank rejects strings made only of whitespace, which "required"
// lets through.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate checks v against its validate tags and returns a single error
// naming every failing field by its JSON name.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return name + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}

// =============================================================================
// Analysis
// =============================================================================

// AnalyzeRequest is the body of POST /v1/analyze and /v1/analyze/quick.
type AnalyzeRequest struct {
	Text string `json:"text" validate:"required,notblank"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

// QuickScanResponse is the synchronous heuristic verdict. JobID is set when
// the score was uncertain and a full analysis was queued. RecordID is the
// history entry of the verdict, empty if it could not be saved.
type QuickScanResponse struct {
	Status   string   `json:"status"`
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
	JobID    string   `json:"job_id,omitempty"`
	RecordID string   `json:"record_id,omitempty"`
}

// =============================================================================
// Follow-up chat
// =============================================================================

// ChatRequest asks a question about a persisted analysis.
type ChatRequest struct {
	RecordID string `json:"record_id" validate:"required,notblank"`
	Question string `json:"question" validate:"required,notblank,max=2000"`
}

// ChatResponse carries the answer. Degraded is true when the answer is the
// fixed apology.
type ChatResponse struct {
	RecordID string `json:"record_id"`
	Answer   string `json:"answer"`
	Degraded bool   `json:"degraded,omitempty"`
}

// =============================================================================
// Reports
// =============================================================================

// ReportRequest files a user report against a record.
type ReportRequest struct {
	Comment string `json:"comment" validate:"max=2000"`
}

// ReportStatusRequest moves a report along the workflow.
type ReportStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=submitted escalated resolved"`
}

// ParsedStatus returns the validated status.
func (r ReportStatusRequest) ParsedStatus() (reports.Status, error) {
	return reports.ParseStatus(r.Status)
}

// =============================================================================
// Memory
// =============================================================================

// MemoryRequest adds an adjudicated claim to the similarity memory.
type MemoryRequest struct {
	Text  string `json:"text" validate:"required,notblank"`
	Label string `json:"label" validate:"required,notblank,max=500"`
}

// =============================================================================
// Errors
// =============================================================================

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
