package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors a config file and invokes onChange with the re-resolved
// configuration each time the file is rewritten. Parse or resolve failures
// keep the previous configuration in effect. Blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Resolved)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := slog.Default().With("component", "config-watch")
	base := filepath.Base(path)

	// Editors fire bursts of write events; coalesce before reloading.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				pending = time.After(200 * time.Millisecond)
			}

		case <-pending:
			pending = nil
			cfg, err := LoadFile(path)
			if err != nil {
				logger.Warn("config reload failed", "path", path, "err", err)
				continue
			}
			resolved, err := Resolve(cfg)
			if err != nil {
				logger.Warn("config resolve failed", "path", path, "err", err)
				continue
			}
			logger.Info("config reloaded", "path", path, "tools", resolved.AllowedTools)
			onChange(resolved)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "err", err)
		}
	}
}
