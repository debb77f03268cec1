package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file when it changes. Wake rules, reply
// decoration, agent bounds, providers, personas, and moderation pick up
// the new values on the next pipeline run; platform and history sections
// need a restart. Blocks until ctx is done.
func Watch(ctx context.Context, path string, cfg *Config) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				reload(path, cfg)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "error", err)
		}
	}
}

func reload(path string, cfg *Config) {
	fresh, err := Load(path)
	if err != nil {
		slog.Error("config: reload rejected", "path", path, "error", err)
		return
	}
	cfg.apply(fresh)
	slog.Info("config: reloaded", "path", path)
}
