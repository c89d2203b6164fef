package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Badareenadh/sip-event-processor/internal/log"
)

// RuntimeUpdate carries the configuration subset that may change without a
// restart. Everything else in the file is read once at startup; edits to
// restart-only keys are logged and ignored until the next start.
type RuntimeUpdate struct {
	LogLevel              string
	SlowWarnThreshold     time.Duration
	SlowErrorThreshold    time.Duration
	SlowCriticalThreshold time.Duration
}

// Watch re-reads the config file whenever it changes and invokes apply with
// the runtime-adjustable subset. It returns when ctx is cancelled. Editors
// that write via rename (vim, kubelet configmap updates) are handled by
// watching the directory rather than the file.
func Watch(ctx context.Context, path string, apply func(RuntimeUpdate)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logger := log.WithComponent("config")
	logger.Info().Str("event", "config.watch_started").Str("path", path).Msg("watching config file for runtime updates")

	target := filepath.Clean(path)
	// Coalesce bursts: editors often emit several events per save.
	var pending *time.Timer
	pendingC := make(chan struct{}, 1)

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
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case pendingC <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("event", "config.watch_error").Msg("config watcher error")
		case <-pendingC:
			update, err := readRuntimeUpdate(path)
			if err != nil {
				logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config change ignored")
				continue
			}
			logger.Info().
				Str("event", "config.reloaded").
				Str("log_level", update.LogLevel).
				Dur("slow_warn", update.SlowWarnThreshold).
				Dur("slow_error", update.SlowErrorThreshold).
				Dur("slow_critical", update.SlowCriticalThreshold).
				Msg("applied runtime configuration update")
			apply(update)
		}
	}
}

func readRuntimeUpdate(path string) (RuntimeUpdate, error) {
	loader := NewLoader(path, "")
	cfg, err := loader.Load()
	if err != nil {
		return RuntimeUpdate{}, err
	}
	return RuntimeUpdate{
		LogLevel:              cfg.LogLevel,
		SlowWarnThreshold:     cfg.SlowWarnThreshold,
		SlowErrorThreshold:    cfg.SlowErrorThreshold,
		SlowCriticalThreshold: cfg.SlowCriticalThreshold,
	}, nil
}
