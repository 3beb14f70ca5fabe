// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	store "github.com/AleutianAI/inocula/services/storage/badger"
)

// Store holds job state between submission and retention expiry.
//
// Implementations must make Update atomic per job: fn sees the latest
// stored value and its changes are visible to the next Get.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)

	// Update applies fn to the stored job and returns the result. An error
	// from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, fn func(*Job) error) (Job, error)

	// Delete removes a job. Missing ids are not an error.
	Delete(ctx context.Context, id string) error

	// Unfinished returns every job that is not in a terminal state.
	Unfinished(ctx context.Context) ([]Job, error)

	// DeleteFinishedBefore removes terminal jobs finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// =============================================================================
// In-memory store
// =============================================================================

// MemoryStore keeps jobs in a map. State is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	j := job.clone()
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	next := j.clone()
	if err := fn(&next); err != nil {
		return Job{}, err
	}
	s.jobs[id] = &next
	return next.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Unfinished(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Job
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			out = append(out, j.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Badger store
// =============================================================================

const jobPrefix = "job/"

// BadgerStore keeps jobs in BadgerDB so that status survives a restart.
// Entries also carry a badger TTL as a backstop for the sweeper.
type BadgerStore struct {
	db  *store.DB
	ttl time.Duration
}

// NewBadgerStore creates a BadgerStore. A zero ttl keeps entries until swept.
func NewBadgerStore(db *store.DB, ttl time.Duration) *BadgerStore {
	return &BadgerStore{db: db, ttl: ttl}
}

func (s *BadgerStore) Create(ctx context.Context, job Job) error {
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		if err := store.InsertIfAbsent(txn, jobPrefix+job.ID, job); err != nil {
			return fmt.Errorf("create job %s: %w", job.ID, err)
		}
		if s.ttl > 0 {
			return store.Put(txn, jobPrefix+job.ID, job, s.ttl)
		}
		return nil
	})
}

func (s *BadgerStore) Get(ctx context.Context, id string) (Job, error) {
	var out Job
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		j, err := store.Get[Job](txn, jobPrefix+id)
		if err != nil {
			return err
		}
		out = *j
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return Job{}, ErrJobNotFound
	}
	return out, err
}

func (s *BadgerStore) Update(ctx context.Context, id string, fn func(*Job) error) (Job, error) {
	var out Job
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		j, err := store.Get[Job](txn, jobPrefix+id)
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}
		out = *j
		return store.Put(txn, jobPrefix+id, j, s.ttl)
	})
	if errors.Is(err, store.ErrNotFound) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return store.Delete(txn, jobPrefix+id)
	})
}

func (s *BadgerStore) Unfinished(ctx context.Context) ([]Job, error) {
	var out []Job
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return store.Scan(txn, jobPrefix, false, func(_ string, j *Job) bool {
			if !j.Status.Terminal() {
				out = append(out, *j)
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []string
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return store.Scan(txn, jobPrefix, false, func(key string, j *Job) bool {
			if j.Status.Terminal() && j.FinishedAt.Before(cutoff) {
				expired = append(expired, key)
			}
			return true
		})
	})
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := store.Delete(txn, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	return len(expired), nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BadgerStore)(nil)
)
