// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor save produces
// into one reload.
const reloadDebounce = 300 * time.Millisecond

// Watch reloads the configuration at path whenever it changes and hands
// each successfully loaded and validated result to onReload. The parent
// directory is watched so that editors which replace the file by rename
// keep triggering reloads. Watch returns once the watcher is running;
// it stops when ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(absolute)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(absolute), err)
	}

	go func() {
		defer watcher.Close()

		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absolute {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce.Reset(reloadDebounce)
				}
			case <-debounce.C:
				cfg, err := LoadFile(absolute)
				if err != nil {
					logger.Warn("config reload failed", "path", absolute, "error", err)
					continue
				}
				if err := cfg.Validate(); err != nil {
					logger.Warn("reloaded config is invalid, keeping the previous one", "path", absolute, "error", err)
					continue
				}
				logger.Info("config reloaded", "path", absolute)
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watch error", "error", err)
			}
		}
	}()
	return nil
}
