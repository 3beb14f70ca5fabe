// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reports stores user reports filed against analysis records and
// the moderation workflow around them.
package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	store "github.com/AleutianAI/inocula/services/storage/badger"
)

// Status is a report's place in the moderation workflow.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{StatusSubmitted, StatusEscalated, StatusResolved}

var (
	ErrNotFound          = errors.New("report not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid status")
)

// transitions lists the allowed moves out of each status.
var transitions = map[Status][]Status{
	StatusSubmitted: {StatusEscalated, StatusResolved},
	StatusEscalated: {StatusResolved},
	StatusResolved:  nil,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Report is a user complaint about one analysis.
type Report struct {
	ReportID  string    `json:"report_id"`
	RecordID  string    `json:"record_id"`
	Comment   string    `json:"comment,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DayCount is the number of reports filed on one UTC day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Analytics summarizes the report backlog.
type Analytics struct {
	StatusCounts map[Status]int `json:"status_counts"`
	DailyReports []DayCount     `json:"daily_reports"`
}

const reportPrefix = "report/"

// Store keeps reports in BadgerDB.
type Store struct {
	db  *store.DB
	now func() time.Time
}

// NewStore creates a Store over db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create files a new report in the submitted state.
func (s *Store) Create(ctx context.Context, recordID, comment string) (*Report, error) {
	now := s.now()
	r := &Report{
		ReportID:  uuid.Must(uuid.NewV7()).String(),
		RecordID:  recordID,
		Comment:   comment,
		Status:    StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		return store.InsertIfAbsent(txn, reportPrefix+r.ReportID, r)
	})
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	return r, nil
}

// Get returns one report.
func (s *Store) Get(ctx context.Context, reportID string) (*Report, error) {
	var out *Report
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = store.Get[Report](txn, reportPrefix+reportID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// UpdateStatus moves a report along the workflow.
func (s *Store) UpdateStatus(ctx context.Context, reportID string, to Status) (*Report, error) {
	var out *Report
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		r, err := store.Get[Report](txn, reportPrefix+reportID)
		if err != nil {
			return err
		}
		if !CanTransition(r.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
		}
		r.Status = to
		r.UpdatedAt = s.now()
		out = r
		return store.Put(txn, reportPrefix+reportID, r, 0)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns up to limit reports, newest first. A non-empty status
// filters the result.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]Report, 0)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return store.Scan(txn, reportPrefix, true, func(_ string, r *Report) bool {
			if status == "" || r.Status == status {
				out = append(out, *r)
			}
			return len(out) < limit
		})
	})
	return out, err
}

// Analytics counts reports per status and per creation day over all reports.
func (s *Store) Analytics(ctx context.Context) (*Analytics, error) {
	a := &Analytics{StatusCounts: make(map[Status]int, len(AllStatuses))}
	for _, st := range AllStatuses {
		a.StatusCounts[st] = 0
	}
	daily := map[string]int{}

	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return store.Scan(txn, reportPrefix, false, func(_ string, r *Report) bool {
			a.StatusCounts[r.Status]++
			daily[r.CreatedAt.UTC().Format(time.DateOnly)]++
			return true
		})
	})
	if err != nil {
		return nil, err
	}

	for day, n := range daily {
		a.DailyReports = append(a.DailyReports, DayCount{Day: day, Count: n})
	}
	sort.Slice(a.DailyReports, func(i, j int) bool { return a.DailyReports[i].Day < a.DailyReports[j].Day })
	if a.DailyReports == nil {
		a.DailyReports = []DayCount{}
	}
	return a, nil
}
