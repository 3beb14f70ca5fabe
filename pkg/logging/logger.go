// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures log/slog for the Inocula binaries.
//
// # Overview
//
// Every component takes a *slog.Logger. This package builds the one that the
// server and the CLI hand out: a stderr handler (text for terminals, JSON for
// containers) plus an optional JSON file under a log directory, fanned out
// through a multi-handler so both sinks see the same records.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Service: "orchestrator"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Format selects the stderr encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config configures a Logger. The zero value logs info and above as text to
// stderr.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`

	// Format of the stderr handler. Empty means text.
	Format Format `yaml:"format"`

	// Dir, when set, receives a JSON copy of every record in
	// <Dir>/<Service>_<date>.log. A leading ~ is expanded.
	Dir string `yaml:"dir"`

	// Service is attached to every record as "service".
	Service string `yaml:"service"`

	// Quiet drops the stderr handler. Ignored unless Dir is set.
	Quiet bool `yaml:"quiet"`

	// Output replaces stderr. Used by tests.
	Output io.Writer `yaml:"-"`
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger owns the handlers built from a Config and any file they write to.
type Logger struct {
	slog *slog.Logger
	file *os.File

	// closeOnce guards file so that derived loggers share one close.
	closeOnce *sync.Once
}

// New builds a Logger from cfg.
//
// # Description
//
// Creates the log directory when Dir is set. A bad level is an error
// rather than a silent fallback so that a typo in inocula.yaml surfaces at
// startup.
//
// # Outputs
//
//   - *Logger: ready to use; call Close to release the log file
//   - error: invalid level or format, or the log file could not be opened
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if !cfg.Quiet || cfg.Dir == "" {
		switch cfg.Format {
		case FormatText, "":
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		case FormatJSON:
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		default:
			return nil, fmt.Errorf("unknown log format %q", cfg.Format)
		}
	}

	var file *os.File
	if cfg.Dir != "" {
		file, err = openLogFile(expandPath(cfg.Dir), cfg.Service, time.Now())
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With(slog.String("service", cfg.Service))
	}
	return &Logger{slog: logger, file: file, closeOnce: &sync.Once{}}, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{slog: slog.New(slog.DiscardHandler), closeOnce: &sync.Once{}}
}

// Slog returns the underlying *slog.Logger for injection into components.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a Logger that adds args to every record. It shares the log
// file with l; closing either closes it for both.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file, closeOnce: l.closeOnce}
}

// Close syncs and closes the log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if syncErr := l.file.Sync(); syncErr != nil {
			err = syncErr
		}
		if closeErr := l.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

func openLogFile(dir, service string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	if service == "" {
		service = "inocula"
	}
	name := fmt.Sprintf("%s_%s.log", service, now.Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// =============================================================================
// Multi-Handler
// =============================================================================

// multiHandler sends each record to every handler that accepts its level.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps writing to the remaining handlers when one fails and returns
// the first error.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
