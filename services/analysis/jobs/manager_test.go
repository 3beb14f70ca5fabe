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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/pipeline"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/analysis/state"
	store "github.com/AleutianAI/inocula/services/storage/badger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRecords struct {
	mu       sync.Mutex
	byJob    map[string]records.Record
	inserts  atomic.Int32
	failNext atomic.Int32
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byJob: map[string]records.Record{}}
}

func (f *fakeRecords) InsertOnce(_ context.Context, rec records.Record) (records.Record, bool, error) {
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		return records.Record{}, false, errors.Join(records.ErrPersist, errors.New("disk full"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byJob[rec.JobID]; ok {
		return existing, false, nil
	}
	f.byJob[rec.JobID] = rec
	f.inserts.Add(1)
	return rec, true, nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.byJob {
		if r.RecordID == id {
			return &r, nil
		}
	}
	return nil, records.ErrNotFound
}

func (f *fakeRecords) GetByJob(_ context.Context, jobID string) (*records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byJob[jobID]
	if !ok {
		return nil, records.ErrNotFound
	}
	return &r, nil
}

func (f *fakeRecords) List(context.Context, int) ([]records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]records.Record, 0, len(f.byJob))
	for _, r := range f.byJob {
		out = append(out, r)
	}
	return out, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Status
	saved       int
}

func (o *recordingObserver) JobTransition(job Job, _ Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, job.Status)
}

func (o *recordingObserver) JobSaved(Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saved++
}

func (o *recordingObserver) snapshot() ([]Status, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Status(nil), o.transitions...), o.saved
}

func scoredResult(text string, score int, degraded ...*collaborators.Error) *pipeline.Result {
	s := state.New(text)
	_ = s.Merge(state.WriterStage, state.Partial{
		TrustScore: state.Some(score),
		Reasons:    []string{"scored"},
	})
	return &pipeline.Result{
		State:    s.Snapshot(),
		Route:    memory.RouteFullScan,
		Visited:  []pipeline.StageName{pipeline.StageGate, pipeline.StageExplain},
		Degraded: degraded,
	}
}

func succeedWith(score int) RunnerFunc {
	return func(_ context.Context, text string) (*pipeline.Result, error) {
		return scoredResult(text, score), nil
	}
}

func newTestManager(t *testing.T, runner Runner, recs records.Store, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(runner, NewMemoryStore(), recs, cfg)
	require.NoError(t, err)
	return m
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Stop(ctx))
	})
}

func waitTerminal(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.store.Get(context.Background(), id)
		return err == nil && job.Status.Terminal()
	}, 3*time.Second, 5*time.Millisecond)
	return job
}

// =============================================================================
// Tests
// =============================================================================

func TestSubmit_ValidatesText(t *testing.T) {
	m := newTestManager(t, succeedWith(90), newFakeRecords(), Config{MaxTextBytes: 8})

	_, err := m.Submit(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrInvalidText)

	_, err = m.Submit(context.Background(), "123456789")
	assert.ErrorIs(t, err, ErrInvalidText)
}

func TestSubmit_QueueFullDoesNotBlock(t *testing.T) {
	// Arrange: no workers started, one queue slot.
	obs := &recordingObserver{}
	m := newTestManager(t, succeedWith(90), newFakeRecords(), Config{QueueSize: 1, Observers: []Observer{obs}})

	// Act
	first, err1 := m.Submit(context.Background(), "one")
	rejected, err2 := m.Submit(context.Background(), "two")

	// Assert
	require.NoError(t, err1)
	assert.NotEmpty(t, first)
	assert.ErrorIs(t, err2, ErrQueueFull)
	assert.Empty(t, rejected)
	assert.Equal(t, 1, m.QueueDepth())

	stored, err := m.store.Unfinished(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1, "a rejected submission is not stored")
	assert.Equal(t, first, stored[0].ID)

	transitions, _ := obs.snapshot()
	assert.Equal(t, []Status{StatusPending}, transitions, "observers never see the rejected job")
}

func TestManager_SucceedsAndPersistsOnPoll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// Arrange
	recs := newFakeRecords()
	obs := &recordingObserver{}
	m := newTestManager(t, succeedWith(72), recs, Config{Workers: 2, Observers: []Observer{obs}})
	startManager(t, m)

	// Act
	id, err := m.Submit(context.Background(), "the moon is made of cheese")
	require.NoError(t, err)
	raw := waitTerminal(t, m, id)
	snap, err := m.Status(context.Background(), id)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, SaveNone, raw.SaveStatus, "nothing is persisted before the first poll")
	assert.Equal(t, StatusSucceeded, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 72, snap.Result.Score)
	assert.Equal(t, SaveSaved, snap.SaveStatus)
	assert.NotEmpty(t, snap.RecordID)
	assert.Equal(t, "full_scan", snap.Route)
	assert.Equal(t, []string{"gate", "explain"}, snap.Visited)
	assert.Equal(t, int32(1), recs.inserts.Load())

	transitions, saved := obs.snapshot()
	assert.Equal(t, []Status{StatusPending, StatusRunning, StatusSucceeded}, transitions)
	assert.Equal(t, 1, saved)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestStatus_PollsBeforeCompletionHaveNoSideEffects(t *testing.T) {
	// Arrange: the runner holds the job in running until released.
	recs := newFakeRecords()
	release := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, text string) (*pipeline.Result, error) {
		select {
		case <-release:
			return scoredResult(text, 45), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	m := newTestManager(t, runner, recs, Config{Workers: 1})
	startManager(t, m)
	id, err := m.Submit(context.Background(), "claim")
	require.NoError(t, err)

	// Act: three polls while the job is unfinished.
	for i := 0; i < 3; i++ {
		snap, err := m.Status(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, snap.Status.Terminal(), "poll %d", i+1)
		assert.Nil(t, snap.Result, "poll %d", i+1)
		assert.Empty(t, snap.RecordID, "poll %d", i+1)
		assert.Equal(t, int32(0), recs.inserts.Load(), "poll %d", i+1)
	}
	close(release)
	waitTerminal(t, m, id)
	final, err := m.Status(context.Background(), id)

	// Assert: the first poll after completion inserts exactly once.
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, 45, final.Result.Score)
	assert.Equal(t, SaveSaved, final.SaveStatus)
	assert.Equal(t, int32(1), recs.inserts.Load())

	again, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, final.RecordID, again.RecordID)
	assert.Equal(t, int32(1), recs.inserts.Load())
}

func TestStatus_ConcurrentPollsPersistOnce(t *testing.T) {
	// Arrange
	recs := newFakeRecords()
	m := newTestManager(t, succeedWith(50), recs, Config{})
	startManager(t, m)
	id, err := m.Submit(context.Background(), "claim")
	require.NoError(t, err)
	waitTerminal(t, m, id)

	// Act
	var wg sync.WaitGroup
	recordIDs := make([]string, 16)
	for i := range recordIDs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := m.Status(context.Background(), id)
			if err == nil {
				recordIDs[i] = snap.RecordID
			}
		}(i)
	}
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), recs.inserts.Load())
	for _, rid := range recordIDs {
		assert.Equal(t, recordIDs[0], rid)
	}
}

func TestStatus_RepeatedPollsAreSideEffectFree(t *testing.T) {
	recs := newFakeRecords()
	m := newTestManager(t, succeedWith(50), recs, Config{})
	startManager(t, m)
	id, err := m.Submit(context.Background(), "claim")
	require.NoError(t, err)
	waitTerminal(t, m, id)

	first, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	second, err := m.Status(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, int32(1), recs.inserts.Load())
}

func TestStatus_SaveFailureKeepsResultAndRetries(t *testing.T) {
	// Arrange
	recs := newFakeRecords()
	recs.failNext.Store(1)
	m := newTestManager(t, succeedWith(30), recs, Config{})
	startManager(t, m)
	id, err := m.Submit(context.Background(), "claim")
	require.NoError(t, err)
	waitTerminal(t, m, id)

	// Act
	failed, err1 := m.Status(context.Background(), id)
	retried, err2 := m.Status(context.Background(), id)

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, StatusSucceeded, failed.Status)
	assert.Equal(t, SaveFailed, failed.SaveStatus)
	assert.Contains(t, failed.SaveError, "disk full")
	require.NotNil(t, failed.Result)
	assert.Equal(t, 30, failed.Result.Score)

	assert.Equal(t, SaveSaved, retried.SaveStatus)
	assert.Empty(t, retried.SaveError)
	assert.Equal(t, int32(1), recs.inserts.Load())
}

func TestManager_PersistOnCompletion(t *testing.T) {
	recs := newFakeRecords()
	m := newTestManager(t, succeedWith(88), recs, Config{PersistMode: PersistOnCompletion})
	startManager(t, m)

	id, err := m.Submit(context.Background(), "claim")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := m.store.Get(context.Background(), id)
		return err == nil && job.SaveStatus == SaveSaved
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), recs.inserts.Load())

	snap, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, SaveSaved, snap.SaveStatus)
	assert.Equal(t, int32(1), recs.inserts.Load())
}

func TestManager_DegradedJobRecordIsDegraded(t *testing.T) {
	recs := newFakeRecords()
	runner := RunnerFunc(func(_ context.Context, text string) (*pipeline.Result, error) {
		return scoredResult(text, 100, &collaborators.Error{
			Collaborator: "fact_lookup", Kind: collaborators.KindTimeout, Err: context.DeadlineExceeded,
		}), nil
	})
	m := newTestManager(t, runner, recs, Config{})
	startManager(t, m)

	id, err := m.Submit(context.Background(), "claim")
	require.NoError(t, err)
	waitTerminal(t, m, id)
	snap, err := m.Status(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, snap.Degraded, 1)
	assert.Equal(t, "fact_lookup", snap.Degraded[0].Collaborator)
	assert.Equal(t, "timeout", snap.Degraded[0].Kind)
	rec, err := recs.GetByJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, records.StatusDegraded, rec.Status)
}

func TestManager_TimeoutFailsJobAndWorkerContinues(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// Arrange
	var calls atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, text string) (*pipeline.Result, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return scoredResult(text, 60), nil
	})
	m := newTestManager(t, runner, newFakeRecords(), Config{Workers: 1, JobTimeout: 50 * time.Millisecond})
	require.NoError(t, m.Start(context.Background()))

	// Act
	slow, err := m.Submit(context.Background(), "slow")
	require.NoError(t, err)
	fast, err := m.Submit(context.Background(), "fast")
	require.NoError(t, err)

	// Assert
	slowJob := waitTerminal(t, m, slow)
	assert.Equal(t, StatusFailed, slowJob.Status)
	assert.Contains(t, slowJob.Error, ErrJobTimeout.Error())
	assert.Nil(t, slowJob.Result)

	fastJob := waitTerminal(t, m, fast)
	assert.Equal(t, StatusSucceeded, fastJob.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestManager_PanicIsContained(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, text string) (*pipeline.Result, error) {
		if strings.Contains(text, "boom") {
			panic("classifier exploded")
		}
		return scoredResult(text, 80), nil
	})
	m := newTestManager(t, runner, newFakeRecords(), Config{Workers: 1})
	startManager(t, m)

	bad, err := m.Submit(context.Background(), "boom")
	require.NoError(t, err)
	good, err := m.Submit(context.Background(), "fine")
	require.NoError(t, err)

	badJob := waitTerminal(t, m, bad)
	assert.Equal(t, StatusFailed, badJob.Status)
	assert.Contains(t, badJob.Error, ErrJobPanic.Error())
	assert.Contains(t, badJob.Error, "classifier exploded")

	assert.Equal(t, StatusSucceeded, waitTerminal(t, m, good).Status)
}

func TestManager_ExecutorErrorFailsJob(t *testing.T) {
	runner := RunnerFunc(func(context.Context, string) (*pipeline.Result, error) {
		return nil, &pipeline.StageError{Stage: pipeline.StageDetect, Err: errors.New("merge rejected")}
	})
	m := newTestManager(t, runner, newFakeRecords(), Config{})
	startManager(t, m)

	id, err := m.Submit(context.Background(), "x")
	require.NoError(t, err)

	job := waitTerminal(t, m, id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "merge rejected")

	snap, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, SaveNone, snap.SaveStatus)
}

func TestStatus_UnknownJob(t *testing.T) {
	m := newTestManager(t, succeedWith(1), newFakeRecords(), Config{})

	_, err := m.Status(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSweep_RemovesExpiredTerminalJobs(t *testing.T) {
	m := newTestManager(t, succeedWith(90), newFakeRecords(), Config{Retention: time.Millisecond})
	startManager(t, m)
	id, err := m.Submit(context.Background(), "claim")
	require.NoError(t, err)
	waitTerminal(t, m, id)
	time.Sleep(5 * time.Millisecond)

	n, err := m.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = m.Status(context.Background(), id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStop_RejectsSubmitAndIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := newTestManager(t, succeedWith(90), newFakeRecords(), Config{Workers: 3})
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	_, err := m.Submit(context.Background(), "late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, NewMemoryStore(), newFakeRecords(), Config{})
	assert.Error(t, err)

	_, err = NewManager(succeedWith(1), NewMemoryStore(), newFakeRecords(), Config{PersistMode: "sometimes"})
	assert.Error(t, err)
}

func TestBadgerStore_Lifecycle(t *testing.T) {
	// Arrange
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewBadgerStore(db, time.Hour)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	// Act
	require.NoError(t, s.Create(ctx, Job{ID: "a", Status: StatusPending}))
	require.NoError(t, s.Create(ctx, Job{ID: "b", Status: StatusPending}))
	assert.Error(t, s.Create(ctx, Job{ID: "a"}))

	updated, err := s.Update(ctx, "a", func(j *Job) error {
		j.Status = StatusSucceeded
		j.FinishedAt = old
		j.Result = &records.Result{Score: 42, Reasons: []string{}}
		return nil
	})
	require.NoError(t, err)
	swept, err := s.DeleteFinishedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	// Assert
	assert.Equal(t, StatusSucceeded, updated.Status)
	assert.Equal(t, 1, swept)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrJobNotFound)
	b, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	_, err = s.Update(ctx, "zzz", func(*Job) error { return nil })
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestBadgerStore_UnfinishedAndDelete(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewBadgerStore(db, 0)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, Job{ID: "p", Status: StatusPending}))
	require.NoError(t, s.Create(ctx, Job{ID: "r", Status: StatusRunning}))
	require.NoError(t, s.Create(ctx, Job{ID: "f", Status: StatusFailed}))

	unfinished, err := s.Unfinished(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(unfinished))
	for _, j := range unfinished {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"p", "r"}, ids)

	require.NoError(t, s.Delete(ctx, "p"))
	require.NoError(t, s.Delete(ctx, "p"))
	_, err = s.Get(ctx, "p")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStop_FailsQueuedJobs(t *testing.T) {
	// Arrange: a manager that never ran its workers.
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	jobs := NewBadgerStore(db, 0)
	obs := &recordingObserver{}

	first, err := NewManager(succeedWith(90), jobs, newFakeRecords(), Config{Observers: []Observer{obs}})
	require.NoError(t, err)
	id, err := first.Submit(context.Background(), "queued at shutdown")
	require.NoError(t, err)

	// Act
	require.NoError(t, first.Stop(context.Background()))

	// Assert
	job, err := jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, ErrInterrupted.Error(), job.Error)
	assert.False(t, job.FinishedAt.IsZero())
	assert.Equal(t, 0, first.QueueDepth())
	transitions, _ := obs.snapshot()
	assert.Equal(t, []Status{StatusPending, StatusFailed}, transitions)

	// A new manager on the same store reports the job as failed.
	second, err := NewManager(succeedWith(90), jobs, newFakeRecords(), Config{JobTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	startManager(t, second)
	snap, err := second.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
}

func TestStart_RecoversUnfinishedJobs(t *testing.T) {
	// Arrange: jobs left behind by a process that died mid-flight.
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	jobs := NewBadgerStore(db, 0)
	ctx := context.Background()
	earlier := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, jobs.Create(ctx, Job{ID: "waiting", Text: "never started", Status: StatusPending, CreatedAt: earlier}))
	require.NoError(t, jobs.Create(ctx, Job{ID: "crashed", Text: "mid run", Status: StatusRunning, CreatedAt: earlier, StartedAt: earlier}))
	require.NoError(t, jobs.Create(ctx, Job{ID: "done", Status: StatusSucceeded, CreatedAt: earlier, FinishedAt: earlier}))

	recs := newFakeRecords()
	m, err := NewManager(succeedWith(77), jobs, recs, Config{Workers: 1, JobTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	// Act
	startManager(t, m)

	// Assert
	waiting := waitTerminal(t, m, "waiting")
	assert.Equal(t, StatusSucceeded, waiting.Status)
	snap, err := m.Status(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, SaveSaved, snap.SaveStatus)
	assert.Equal(t, int32(1), recs.inserts.Load())

	crashed := waitTerminal(t, m, "crashed")
	assert.Equal(t, StatusFailed, crashed.Status)
	assert.Equal(t, ErrInterrupted.Error(), crashed.Error)

	done, err := jobs.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
}

func TestStart_FailsRecoveredJobsBeyondQueueCapacity(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	jobs := NewBadgerStore(db, 0)
	ctx := context.Background()
	earlier := time.Now().UTC().Add(-time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, jobs.Create(ctx, Job{ID: id, Text: id, Status: StatusPending, CreatedAt: earlier}))
	}

	m, err := NewManager(succeedWith(10), jobs, newFakeRecords(), Config{Workers: 1, QueueSize: 1})
	require.NoError(t, err)
	startManager(t, m)

	var succeeded, interrupted int
	for _, id := range []string{"a", "b", "c"} {
		job := waitTerminal(t, m, id)
		switch {
		case job.Status == StatusSucceeded:
			succeeded++
		case job.Error == ErrInterrupted.Error():
			interrupted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, interrupted)
}

func TestStop_RunningJobIsInterrupted(t *testing.T) {
	// Arrange
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, _ string) (*pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	m := newTestManager(t, runner, newFakeRecords(), Config{Workers: 1})
	require.NoError(t, m.Start(context.Background()))
	id, err := m.Submit(context.Background(), "long running")
	require.NoError(t, err)
	<-started

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	// Assert
	job, err := m.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, ErrInterrupted.Error())
}

func TestManager_WithBadgerStores(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	recs := records.NewBadgerStore(db)

	m, err := NewManager(succeedWith(64), NewBadgerStore(db, 0), recs, Config{})
	require.NoError(t, err)
	startManager(t, m)

	id, err := m.Submit(context.Background(), "vaccines contain microchips")
	require.NoError(t, err)
	waitTerminal(t, m, id)
	snap, err := m.Status(context.Background(), id)
	require.NoError(t, err)

	rec, err := recs.GetByJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, snap.RecordID, rec.RecordID)
	assert.Equal(t, 64, rec.Result.Score)
	assert.Equal(t, "vaccines contain microchips", rec.OriginalText)
}
