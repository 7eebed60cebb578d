package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the configuration file at path whenever it changes and calls
// onChange with the new, validated configuration. Files that fail to load
// are logged and skipped; the previous configuration stays in effect.
//
// The parent directory is watched rather than the file so that editors
// which save by rename are followed.
//
// Watch blocks until ctx is cancelled and then returns nil.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	logger.Debug("Watching configuration file", logger.ConfigFile(abs))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
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
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("Ignoring invalid configuration change", logger.ConfigFile(abs), logger.Err(err))
				continue
			}
			logger.Info("Configuration reloaded", logger.ConfigFile(abs))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Configuration watcher error", logger.Err(err))
		}
	}
}

// ApplyReload applies the settings of next that can change at runtime:
// the log level and the ticket capacity. tickets may be nil when throttling
// is off. It returns the top-level sections whose other changes only take
// effect after a restart.
func ApplyReload(ctx context.Context, current, next *Config, tickets *lock.TicketHolder) ([]string, error) {
	if next.Logging.Level != current.Logging.Level {
		logger.SetLevel(next.Logging.Level)
		logger.Info("Log level changed", "from", current.Logging.Level, "to", next.Logging.Level)
	}

	if tickets != nil && next.Lock.TicketCapacity != tickets.Capacity() {
		from := tickets.Capacity()
		if err := tickets.Resize(ctx, next.Lock.TicketCapacity); err != nil {
			return nil, fmt.Errorf("failed to resize ticket holder: %w", err)
		}
		logger.Info("Ticket capacity changed", "from", from, logger.Tickets(next.Lock.TicketCapacity))
	}

	// Compare the remaining settings with the reloadable ones masked out.
	cur, nxt := *current, *next
	nxt.Logging.Level = cur.Logging.Level
	nxt.Lock.TicketCapacity = cur.Lock.TicketCapacity

	var restart []string
	sections := []struct {
		name string
		a, b any
	}{
		{"logging", cur.Logging, nxt.Logging},
		{"telemetry", cur.Telemetry, nxt.Telemetry},
		{"shutdown_timeout", cur.ShutdownTimeout, nxt.ShutdownTimeout},
		{"metrics", cur.Metrics, nxt.Metrics},
		{"api", cur.API, nxt.API},
		{"lock", cur.Lock, nxt.Lock},
		{"storage", cur.Storage, nxt.Storage},
		{"workload", cur.Workload, nxt.Workload},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			restart = append(restart, s.name)
		}
	}
	if len(restart) > 0 {
		logger.Warn("Configuration changes require a restart", "sections", restart)
	}

	return restart, nil
}
