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
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/inocula/services/analysis/pipeline"
	"github.com/AleutianAI/inocula/services/analysis/records"
)

// Runner executes the analysis pipeline for one text.
// *pipeline.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, text string) (*pipeline.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, text string) (*pipeline.Result, error)

func (f RunnerFunc) Run(ctx context.Context, text string) (*pipeline.Result, error) {
	return f(ctx, text)
}

// PersistMode selects who writes the analysis record.
type PersistMode string

const (
	// PersistOnPoll writes the record when a caller first observes success.
	PersistOnPoll PersistMode = "on_poll"

	// PersistOnCompletion writes the record from the worker. Polls retry a
	// failed write.
	PersistOnCompletion PersistMode = "on_completion"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds worker pool and retention settings.
//
// # Fields
//
//   - Workers: Concurrent pipeline runs. Default: 4.
//   - QueueSize: Pending jobs accepted before Submit fails. Default: 64.
//   - JobTimeout: Wall-clock budget of one job. Default: 600s.
//   - MaxTextBytes: Largest accepted input. Default: 20000.
//   - PersistMode: on_poll (default) or on_completion.
//   - Retention: Terminal jobs older than this are swept. Default: 24h.
//   - SweepInterval: Sweeper period. Default: 10m.
type Config struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	MaxTextBytes  int           `yaml:"max_text_bytes"`
	PersistMode   PersistMode   `yaml:"persist_mode"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	Observers []Observer   `yaml:"-"`
	Logger    *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		QueueSize:     64,
		JobTimeout:    600 * time.Second,
		MaxTextBytes:  20000,
		PersistMode:   PersistOnPoll,
		Retention:     24 * time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}

func (c *Config) applyDefaults() error {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.MaxTextBytes <= 0 {
		c.MaxTextBytes = d.MaxTextBytes
	}
	if c.PersistMode == "" {
		c.PersistMode = d.PersistMode
	}
	if c.PersistMode != PersistOnPoll && c.PersistMode != PersistOnCompletion {
		return fmt.Errorf("unknown persist mode %q", c.PersistMode)
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// =============================================================================
// Manager
// =============================================================================

// Manager accepts analysis jobs, runs them on a worker pool and persists
// each succeeded job's record once.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	runner  Runner
	store   Store
	records records.Store
	cfg     Config
	logger  *slog.Logger
	obs     observers

	queue   chan string
	queueMu sync.Mutex
	saves   singleflight.Group
	created time.Time

	mu      sync.RWMutex
	started bool
	stopped bool
	done    chan struct{}
	cancel  context.CancelFunc

	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// NewManager creates a Manager. Call Start to launch the workers.
//
// # Inputs
//
//   - runner: Pipeline to execute per job.
//   - store: Job state store.
//   - recs: Durable analysis record store.
//   - cfg: Pool settings. Zero fields take defaults.
//
// # Outputs
//
//   - *Manager: Ready to accept submissions.
//   - error: Non-nil for a missing dependency or bad setting.
func NewManager(runner Runner, store Store, recs records.Store, cfg Config) (*Manager, error) {
	if runner == nil || store == nil || recs == nil {
		return nil, errors.New("jobs: runner, job store and record store are required")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}
	return &Manager{
		runner:  runner,
		store:   store,
		records: recs,
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "jobs")),
		obs:     observers{list: cfg.Observers, logger: cfg.Logger},
		queue:   make(chan string, cfg.QueueSize),
		done:    make(chan struct{}),
		created: time.Now().UTC(),
	}, nil
}

// Start launches the workers and the retention sweeper.
//
// # Description
//
// Jobs run under a context derived from ctx, so cancelling ctx fails the
// running jobs. Jobs submitted before Start wait in the queue.
//
// Unfinished jobs left in the store by an earlier manager are settled
// first: pending jobs are queued again while slots remain, and the rest,
// including jobs that were running, are marked failed with ErrInterrupted.
//
// # Outputs
//
//   - error: Non-nil if the manager was already started or stopped, or
//     the store could not be scanned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return errors.New("jobs: manager already started or stopped")
	}
	if err := m.recoverUnfinished(ctx); err != nil {
		return fmt.Errorf("jobs: start: %w", err)
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i := 0; i < m.cfg.Workers; i++ {
		m.loops.Add(1)
		go m.worker(runCtx, i)
	}
	m.loops.Add(1)
	go m.sweepLoop(runCtx)

	m.logger.Info("job manager started",
		slog.Int("workers", m.cfg.Workers),
		slog.Int("queue_size", m.cfg.QueueSize),
		slog.Duration("job_timeout", m.cfg.JobTimeout),
		slog.String("persist_mode", string(m.cfg.PersistMode)),
	)
	return nil
}

// Stop cancels running jobs, stops the workers and waits for them until
// ctx expires. Jobs still queued are marked failed with ErrInterrupted.
// Safe to call more than once.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.done)
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		m.loops.Wait()
		m.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		n := m.failQueued(context.WithoutCancel(ctx))
		m.logger.Info("job manager stopped", slog.Int("interrupted", n))
		return nil
	case <-ctx.Done():
		m.failQueued(context.WithoutCancel(ctx))
		return fmt.Errorf("jobs: stop: %w", ctx.Err())
	}
}

// recoverUnfinished settles jobs that a previous manager on the same store
// never finished. Jobs submitted to this manager are skipped; they are
// already on the queue.
func (m *Manager) recoverUnfinished(ctx context.Context) error {
	stale, err := m.store.Unfinished(ctx)
	if err != nil {
		return err
	}

	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	requeued, failed := 0, 0
	for _, job := range stale {
		if !job.CreatedAt.Before(m.created) {
			continue
		}
		if job.Status == StatusPending && len(m.queue) < cap(m.queue) {
			m.queue <- job.ID
			requeued++
			continue
		}
		if m.interrupt(ctx, job.ID) {
			failed++
		}
	}
	if requeued+failed > 0 {
		m.logger.Info("recovered unfinished jobs",
			slog.Int("requeued", requeued),
			slog.Int("failed", failed),
		)
	}
	return nil
}

// failQueued empties the queue, failing every job in it.
func (m *Manager) failQueued(ctx context.Context) int {
	n := 0
	for {
		select {
		case id := <-m.queue:
			if m.interrupt(ctx, id) {
				n++
			}
		default:
			return n
		}
	}
}

var errSettled = errors.New("job already terminal")

// interrupt marks a non-terminal job failed with ErrInterrupted and
// reports whether it changed anything.
func (m *Manager) interrupt(ctx context.Context, id string) bool {
	var from Status
	job, err := m.store.Update(ctx, id, func(j *Job) error {
		if j.Status.Terminal() {
			return errSettled
		}
		from = j.Status
		j.Status = StatusFailed
		j.Error = ErrInterrupted.Error()
		j.FinishedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSettled) {
			m.logger.Error("failed to mark interrupted job", slog.String("job_id", id), slog.Any("error", err))
		}
		return false
	}
	m.obs.transition(job, from)
	m.logger.Warn("job interrupted", slog.String("job_id", id), slog.String("was", string(from)))
	return true
}

// QueueDepth is the number of jobs waiting for a worker.
func (m *Manager) QueueDepth() int {
	return len(m.queue)
}

// Submit validates text and enqueues a job without blocking. A rejected
// submission leaves nothing in the store.
//
// # Outputs
//
//   - string: The new job id.
//   - error: ErrInvalidText, ErrQueueFull, ErrClosed or a store error.
func (m *Manager) Submit(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidText)
	}
	if len(text) > m.cfg.MaxTextBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidText, len(text), m.cfg.MaxTextBytes)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return "", ErrClosed
	}

	// Only holders of queueMu send on the queue, so a free slot checked
	// here is still free at the send below.
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) >= cap(m.queue) {
		m.logger.Warn("job rejected", slog.Int("queue_size", m.cfg.QueueSize))
		return "", ErrQueueFull
	}

	job := Job{
		ID:        uuid.NewString(),
		Text:      text,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("jobs: submit: %w", err)
	}
	m.obs.transition(job, "")
	m.queue <- job.ID

	m.logger.Debug("job submitted", slog.String("job_id", job.ID), slog.Int("text_bytes", len(text)))
	return job.ID, nil
}

// Status returns a snapshot of the job.
//
// # Description
//
// The first observation of a succeeded job persists its record. Later
// observations reuse the stored record id and have no side effects. A
// failed write does not hide the result: the snapshot carries
// SaveStatus "failed" and the next call retries.
//
// # Outputs
//
//   - Job: Snapshot of the job.
//   - error: ErrJobNotFound for an unknown or swept id.
func (m *Manager) Status(ctx context.Context, id string) (Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if m.needsSave(job) {
		return m.persist(ctx, id)
	}
	return job, nil
}

func (m *Manager) needsSave(job Job) bool {
	if job.Status != StatusSucceeded || job.SaveStatus == SaveSaved {
		return false
	}
	if m.cfg.PersistMode == PersistOnCompletion {
		return job.SaveStatus == SaveFailed
	}
	return true
}

// persist writes the record for a succeeded job. Concurrent callers for
// the same job share one attempt.
func (m *Manager) persist(ctx context.Context, id string) (Job, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := m.saves.Do(id, func() (any, error) {
		job, err := m.store.Get(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.SaveStatus == SaveSaved || job.Result == nil {
			return job, nil
		}

		rec := records.New(job.ID, job.Text, *job.Result, len(job.Degraded) > 0)
		stored, inserted, perr := m.records.InsertOnce(ctx, rec)

		updated, uerr := m.store.Update(ctx, id, func(j *Job) error {
			if perr != nil {
				j.SaveStatus = SaveFailed
				j.SaveError = perr.Error()
				return nil
			}
			j.SaveStatus = SaveSaved
			j.SaveError = ""
			j.RecordID = stored.RecordID
			return nil
		})
		if uerr != nil {
			m.logger.Error("failed to record save status", slog.String("job_id", id), slog.Any("error", uerr))
			job.SaveStatus = SaveFailed
			if perr == nil {
				job.SaveStatus = SaveSaved
				job.RecordID = stored.RecordID
			}
			return job, nil
		}

		if perr != nil {
			m.logger.Error("failed to persist analysis record",
				slog.String("job_id", id),
				slog.Any("error", perr),
			)
		} else {
			m.logger.Info("analysis record persisted",
				slog.String("job_id", id),
				slog.String("record_id", stored.RecordID),
				slog.Bool("inserted", inserted),
			)
			m.obs.saved(updated, inserted)
		}
		return updated, nil
	})
	if err != nil {
		return Job{}, err
	}
	return v.(Job).clone(), nil
}

// =============================================================================
// Workers
// =============================================================================

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.loops.Done()
	logger := m.logger.With(slog.Int("worker", n))
	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.process(ctx, logger, id)
		}
	}
}

// process runs one job to a terminal state. Nothing a job does can stop
// the worker.
func (m *Manager) process(ctx context.Context, logger *slog.Logger, id string) {
	storeCtx := context.WithoutCancel(ctx)
	logger = logger.With(slog.String("job_id", id))

	job, err := m.store.Update(storeCtx, id, func(j *Job) error {
		if j.Status != StatusPending {
			return fmt.Errorf("job is %s", j.Status)
		}
		j.Status = StatusRunning
		j.StartedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		logger.Warn("skipping job", slog.Any("error", err))
		return
	}
	m.obs.transition(job, StatusPending)

	res, runErr := m.execute(ctx, job.Text)

	job, err = m.store.Update(storeCtx, id, func(j *Job) error {
		j.FinishedAt = time.Now().UTC()
		if runErr != nil {
			j.Status = StatusFailed
			j.Error = runErr.Error()
			return nil
		}
		j.Status = StatusSucceeded
		j.applyResult(res)
		return nil
	})
	if err != nil {
		logger.Error("failed to store job outcome", slog.Any("error", err))
		return
	}
	m.obs.transition(job, StatusRunning)

	if runErr != nil {
		logger.Error("job failed", slog.Any("error", runErr), slog.Duration("duration", job.Duration()))
		return
	}
	logger.Info("job succeeded",
		slog.Int("trust_score", job.Result.Score),
		slog.String("route", job.Route),
		slog.Int("degraded", len(job.Degraded)),
		slog.Duration("duration", job.Duration()),
	)

	if m.cfg.PersistMode == PersistOnCompletion {
		if _, err := m.persist(storeCtx, id); err != nil {
			logger.Error("persist on completion failed", slog.Any("error", err))
		}
	}
}

type outcome struct {
	res *pipeline.Result
	err error
}

// execute runs the pipeline under the job budget. The worker returns when
// the budget expires even if the pipeline ignores cancellation; the
// pipeline goroutine is tracked until it exits.
func (m *Manager) execute(ctx context.Context, text string) (*pipeline.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrJobPanic, r)}
			}
		}()
		res, err := m.runner.Run(ctx, text)
		if err == nil && res == nil {
			err = errors.New("pipeline returned no result")
		}
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil {
			return nil, m.budgetError(ctx, o.err)
		}
		return o.res, o.err
	case <-ctx.Done():
		return nil, m.budgetError(ctx, nil)
	}
}

// budgetError explains why ctx ended: the job budget ran out, or the
// manager is shutting down.
func (m *Manager) budgetError(ctx context.Context, cause error) error {
	if cause == nil {
		cause = ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrJobTimeout, m.cfg.JobTimeout, cause)
	}
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}

// =============================================================================
// Retention
// =============================================================================

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.loops.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("job sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep removes terminal jobs older than the retention period now.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.DeleteFinishedBefore(ctx, time.Now().Add(-m.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("expired jobs swept", slog.Int("count", n), slog.Duration("retention", m.cfg.Retention))
	}
	return n, nil
}
