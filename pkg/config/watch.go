package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/statorq/statorq/internal/logger"
)

// debounceInterval coalesces the write bursts editors and atomic-rename
// writers produce into a single reload.
const debounceInterval = 250 * time.Millisecond

// Watch reloads the configuration file on change and invokes onChange with
// each successfully loaded and validated configuration. Invalid intermediate
// states are logged and skipped, keeping the last good configuration active.
//
// The watcher runs until ctx is cancelled. The parent directory is watched
// rather than the file itself, so atomic replaces (write to temp, rename over)
// are picked up.
func Watch(ctx context.Context, configPath string, onChange func(*Config)) error {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger.Debug("Config watcher started", logger.KeyPath, configPath)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceInterval)
				timerCh = timer.C
			} else {
				timer.Reset(debounceInterval)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil

			cfg, err := Load(configPath)
			if err != nil {
				logger.Warn("Config reload failed, keeping previous configuration",
					logger.KeyPath, configPath,
					logger.KeyError, err)
				continue
			}
			logger.Info("Configuration reloaded", logger.KeyPath, configPath)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", logger.KeyError, err)
		}
	}
}
