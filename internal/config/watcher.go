package config

import (
	"context"
	"fmt"
	"path/filepath"

	"devauth/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads config.yaml from configPath whenever it changes and passes the
// new configuration to onChange. Invalid files are logged and skipped. Watch
// blocks until ctx is cancelled.
//
// The directory is watched rather than the file so that editors which replace
// the file on save are handled.
func Watch(ctx context.Context, configPath string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", configPath, err)
	}

	target := filepath.Clean(ConfigFilePath(configPath))
	logging.Info("Config", "Watching %s for changes", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := LoadConfig(configPath)
			if err != nil {
				logging.Warn("Config", "Ignoring invalid configuration change: %v", err)
				continue
			}
			if err := cfg.Server.Validate(); err != nil {
				logging.Warn("Config", "Ignoring invalid configuration change: %v", err)
				continue
			}
			logging.Info("Config", "Reloaded configuration from %s", target)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Config", "Config watcher error: %v", err)
		}
	}
}
