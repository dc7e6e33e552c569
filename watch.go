package ghostline

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// configSettle is how long the watcher waits after the last write before
// reloading, so editors that save in several steps trigger one reload.
const configSettle = 200 * time.Millisecond

// WatchConfig reloads the config file at path whenever it changes and hands
// the result to onChange. It watches the parent directory so atomic
// rename-on-save editors are picked up. Blocks until ctx is done.
func WatchConfig(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create config watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}
	slog.Debug("watching config", "path", path)

	var settle *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(configSettle)
			fire = settle.C

		case <-fire:
			fire = nil
			cfg, err := LoadConfigFile(path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "error", err)
				continue
			}
			for _, w := range ValidateConfig(cfg) {
				slog.Warn("config warning", "warning", w)
			}
			slog.Info("config reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
