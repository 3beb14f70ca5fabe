// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/inocula/services/analysis/stages"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// ReloadFunc receives every configuration that loaded and validated cleanly.
type ReloadFunc func(Config)

// Watch reloads path whenever it changes and passes the result to onReload.
//
// # Description
//
// The parent directory is watched rather than the file itself, since many
// editors and config-map mounts replace the file by rename. Events for other
// files are ignored. A reload that fails to parse or validate is logged and
// skipped; the previous configuration stays in effect.
//
// Watch blocks until ctx is canceled.
//
// # Outputs
//
//   - error: nil on cancellation, or the watcher could not be created
func Watch(ctx context.Context, path string, debounce time.Duration, onReload ReloadFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("Watching config for changes", "path", abs)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("Config reload rejected", "path", abs, "error", err)
				continue
			}
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)
		}
	}
}

// ApplyThresholds returns a ReloadFunc that publishes the reloaded stage
// thresholds to tuning. Other sections need a restart.
func ApplyThresholds(tuning *stages.Tuning, logger *slog.Logger) ReloadFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(cfg Config) {
		before := tuning.Load()
		after := cfg.Pipeline.Thresholds
		if before == after {
			return
		}
		if err := tuning.Store(after); err != nil {
			logger.Warn("Threshold reload rejected", "error", err)
			return
		}
		logger.Info("Stage thresholds reloaded",
			"toxicity", after.Toxicity,
			"emotion", after.Emotion,
			"fallacy", after.Fallacy,
		)
	}
}
