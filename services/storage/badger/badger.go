// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the embedded BadgerDB that holds analysis records,
// user reports and job snapshots, and provides small JSON helpers over it.
//
// Keys are namespaced by a prefix per entity ("record/", "report/", ...).
// Values are JSON documents.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrExists is returned by InsertIfAbsent when the key is already present.
	ErrExists = errors.New("key already exists")
)

// Config holds configuration for the store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. Used by tests and the CLI.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// ConflictRetries bounds retries of a read-write transaction that lost
	// a write conflict.
	ConflictRetries int `yaml:"conflict_retries"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults for a store under path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		SyncWrites:      true,
		GCInterval:      5 * time.Minute,
		GCDiscardRatio:  0.5,
		ConflictRetries: 3,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, ConflictRetries: 3}
}

// badgerLogger routes BadgerDB's internal logs to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is an open store.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db       *badger.DB
	cfg      Config
	stopGC   chan struct{}
	gcDone   chan struct{}
	stopOnce sync.Once
}

// Open opens the store described by cfg and starts value log GC when
// configured.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	d := &DB{db: bdb, cfg: cfg}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio > 1 {
			cfg.GCDiscardRatio = 0.5
		}
		d.stopGC = make(chan struct{})
		d.gcDone = make(chan struct{})
		go d.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return d, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			err := d.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && d.cfg.Logger != nil {
				d.cfg.Logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database. Safe to call more than once.
func (d *DB) Close() error {
	var err error
	d.stopOnce.Do(func() {
		if d.stopGC != nil {
			close(d.stopGC)
			<-d.gcDone
		}
		err = d.db.Close()
	})
	return err
}

// InMemory reports whether the store is RAM-only.
func (d *DB) InMemory() bool {
	return d.cfg.InMemory
}

// Update runs fn in a read-write transaction and commits it. A commit that
// loses a write conflict is retried up to ConflictRetries times.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	attempts := d.cfg.ConflictRetries + 1
	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("context cancelled: %w", cerr)
		}
		err = d.update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (d *DB) update(fn func(txn *badger.Txn) error) error {
	txn := d.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// =============================================================================
// JSON helpers
// =============================================================================

// Get decodes the value at key into a new T.
func Get[T any](txn *badger.Txn, key string) (*T, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var out T
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &out) }); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &out, nil
}

// Put encodes v and stores it at key. A positive ttl expires the entry.
func Put(txn *badger.Txn, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	e := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

// InsertIfAbsent stores v at key unless the key exists, in which case it
// returns ErrExists. Run it inside Update so the read and the write commit
// together; a racing insert surfaces as a conflict and is retried, at which
// point the key is seen.
func InsertIfAbsent(txn *badger.Txn, key string, v any) error {
	_, err := txn.Get([]byte(key))
	if err == nil {
		return ErrExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("check %s: %w", key, err)
	}
	return Put(txn, key, v, 0)
}

// Delete removes key. Missing keys are not an error.
func Delete(txn *badger.Txn, key string) error {
	return txn.Delete([]byte(key))
}

// Scan calls fn with every value under prefix in key order until fn
// returns false.
func Scan[T any](txn *badger.Txn, prefix string, reverse bool, fn func(key string, v *T) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	start := []byte(prefix)
	if reverse {
		// Seek lands on the largest key <= start, so jump past every key with
		// this prefix.
		start = append([]byte(prefix), 0xFF)
	}
	for it.Seek(start); it.ValidForPrefix([]byte(prefix)); it.Next() {
		item := it.Item()
		var v T
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			return fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		if !fn(string(item.KeyCopy(nil)), &v) {
			return nil
		}
	}
	return nil
}
