// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package records persists finished analyses.
//
// A record is written once per job and never modified afterwards.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/inocula/services/analysis/state"
	store "github.com/AleutianAI/inocula/services/storage/badger"
)

// Record statuses of full analyses. Quick scan records carry the quick
// scan status instead.
const (
	StatusComplete = "complete"
	StatusDegraded = "degraded"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")

	// ErrPersist wraps every storage failure.
	ErrPersist = errors.New("persist analysis record")
)

// Result is the user-facing part of an analysis.
type Result struct {
	Score            int      `json:"score"`
	Reasons          []string `json:"reasons"`
	Explanation      string   `json:"explanation"`
	DetectedEmotions []string `json:"detected_emotions"`
	IsMemoryHit      bool     `json:"is_memory_hit,omitempty"`
	VerificationLink string   `json:"verification_link,omitempty"`
}

// ResultFromState extracts the result of a finished state.
func ResultFromState(s state.State) Result {
	reasons := s.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	emotions := s.DetectedEmotions
	if emotions == nil {
		emotions = []string{}
	}
	return Result{
		Score:            s.TrustScore,
		Reasons:          reasons,
		Explanation:      s.Explanation,
		DetectedEmotions: emotions,
		IsMemoryHit:      s.IsMemoryHit,
		VerificationLink: s.Metadata["verification_link"],
	}
}

// Record is one persisted analysis.
type Record struct {
	RecordID     string    `json:"record_id"`
	JobID        string    `json:"job_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	OriginalText string    `json:"original_text"`
	Result       Result    `json:"result"`
	Status       string    `json:"status"`

	// QueuedJobID links a quick verdict to the full analysis it queued.
	QueuedJobID string `json:"queued_job_id,omitempty"`
}

// New builds a record with a fresh, time-ordered id.
func New(jobID, text string, result Result, degraded bool) Record {
	status := StatusComplete
	if degraded {
		status = StatusDegraded
	}
	return Record{
		RecordID:     uuid.Must(uuid.NewV7()).String(),
		JobID:        jobID,
		Timestamp:    time.Now().UTC(),
		OriginalText: text,
		Result:       result,
		Status:       status,
	}
}

// NewQuick builds the record of a quick scan verdict. It has no job id, so
// it never takes the place of the record of the analysis it queued.
func NewQuick(text, status string, score int, reasons []string, queuedJobID string) Record {
	if reasons == nil {
		reasons = []string{}
	}
	return Record{
		RecordID:     uuid.Must(uuid.NewV7()).String(),
		Timestamp:    time.Now().UTC(),
		OriginalText: text,
		Result: Result{
			Score:            score,
			Reasons:          reasons,
			DetectedEmotions: []string{},
		},
		Status:      status,
		QueuedJobID: queuedJobID,
	}
}

// Store persists records.
type Store interface {
	// InsertOnce stores rec unless a record for rec.JobID already exists.
	// It returns the record that is stored afterwards and whether this call
	// inserted it.
	InsertOnce(ctx context.Context, rec Record) (Record, bool, error)

	Get(ctx context.Context, recordID string) (*Record, error)
	GetByJob(ctx context.Context, jobID string) (*Record, error)

	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)
}

const (
	recordPrefix = "record/"
	jobPrefix    = "record_job/"
)

// BadgerStore keeps records in BadgerDB.
type BadgerStore struct {
	db *store.DB
}

// NewBadgerStore creates a BadgerStore over db.
func NewBadgerStore(db *store.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// InsertOnce implements Store.
//
// The job index and the record commit in one transaction. Two concurrent
// inserts for the same job conflict; the retry sees the index entry.
func (s *BadgerStore) InsertOnce(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.RecordID == "" {
		return Record{}, false, fmt.Errorf("%w: empty record id", ErrPersist)
	}

	var stored Record
	inserted := false
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		inserted = false
		if rec.JobID != "" {
			existingID, err := store.Get[string](txn, jobPrefix+rec.JobID)
			switch {
			case err == nil:
				existing, gerr := store.Get[Record](txn, recordPrefix+*existingID)
				if gerr != nil {
					return gerr
				}
				stored = *existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			if err := store.InsertIfAbsent(txn, jobPrefix+rec.JobID, rec.RecordID); err != nil {
				return err
			}
		}
		if err := store.InsertIfAbsent(txn, recordPrefix+rec.RecordID, rec); err != nil {
			return err
		}
		stored = rec
		inserted = true
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return stored, inserted, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, recordID string) (*Record, error) {
	var out *Record
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = store.Get[Record](txn, recordPrefix+recordID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByJob implements Store.
func (s *BadgerStore) GetByJob(ctx context.Context, jobID string) (*Record, error) {
	var out *Record
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		id, err := store.Get[string](txn, jobPrefix+jobID)
		if err != nil {
			return err
		}
		out, err = store.Get[Record](txn, recordPrefix+*id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List implements Store. Record ids are UUIDv7, so key order is time order.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	out := make([]Record, 0, limit)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return store.Scan(txn, recordPrefix, true, func(_ string, r *Record) bool {
			out = append(out, *r)
			return len(out) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*BadgerStore)(nil)
