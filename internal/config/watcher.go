package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"whatslog/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultWatchInterval = 5 * time.Second

// Change describes one setting that differs between two loaded configs.
// Live changes are applied by the registered handlers; the rest only take
// effect after a restart.
type Change struct {
	Setting string
	Old     string
	New     string
	Live    bool
}

// Diff lists the settings the watcher reports on, in a stable order.
func Diff(old, updated *models.Config) []Change {
	if old == nil || updated == nil {
		return nil
	}

	var changes []Change
	add := func(setting string, o, n interface{}, live bool) {
		before, after := fmt.Sprint(o), fmt.Sprint(n)
		if before != after {
			changes = append(changes, Change{Setting: setting, Old: before, New: after, Live: live})
		}
	}

	add("logLevel", old.LogLevel, updated.LogLevel, true)
	add("retentionDays", old.RetentionDays, updated.RetentionDays, old.RetentionDays > 0)
	add("retention.schedule", old.Retention.Schedule, updated.Retention.Schedule, false)
	add("evolution.apiBaseUrl", old.Evolution.APIBaseURL, updated.Evolution.APIBaseURL, false)
	add("server.port", old.Server.Port, updated.Server.Port, false)
	add("database.path", old.Database.Path, updated.Database.Path, false)
	return changes
}

// Watcher polls the config file and hands every successfully parsed revision
// to its handlers. A revision is a change in file content, not mtime.
type Watcher struct {
	path     string
	logger   *logrus.Logger
	interval time.Duration

	mu       sync.RWMutex
	current  *models.Config
	checksum [sha256.Size]byte
	handlers []func(*models.Config)
}

func NewWatcher(path string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		interval: defaultWatchInterval,
	}
}

// OnChange registers fn. Handlers run in registration order on the watcher
// goroutine.
func (w *Watcher) OnChange(fn func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Current returns the last config the watcher accepted, or nil before Run.
func (w *Watcher) Current() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run loads the file once and then polls it until ctx is done. Only the
// initial load can fail; later read or parse errors are logged and the
// previous config stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	content, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current = cfg
	w.checksum = sha256.Sum256(content)
	w.mu.Unlock()

	w.logger.WithField("path", w.path).Info("Watching configuration file")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	content, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Failed to read configuration file")
		return
	}

	sum := sha256.Sum256(content)
	w.mu.RLock()
	unchanged := bytes.Equal(sum[:], w.checksum[:])
	w.mu.RUnlock()
	if unchanged {
		return
	}

	w.reload(sum)
}

func (w *Watcher) reload(sum [sha256.Size]byte) {
	updated, err := LoadConfig(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	w.mu.Lock()
	previous := w.current
	w.current = updated
	w.checksum = sum
	handlers := append([]func(*models.Config){}, w.handlers...)
	w.mu.Unlock()

	for _, change := range Diff(previous, updated) {
		entry := w.logger.WithFields(logrus.Fields{
			"setting": change.Setting,
			"old":     change.Old,
			"new":     change.New,
		})
		if change.Live {
			entry.Info("Configuration setting changed")
		} else {
			entry.Warn("Configuration setting changed, restart required to apply")
		}
	}

	for _, fn := range handlers {
		w.dispatch(fn, updated)
	}
}

func (w *Watcher) dispatch(fn func(*models.Config), cfg *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Configuration handler panicked")
		}
	}()
	fn(cfg)
}

// ApplyLogLevel returns a handler that moves logger to the configured level.
func ApplyLogLevel(logger *logrus.Logger) func(*models.Config) {
	return func(c *models.Config) {
		if c.LogLevel == "" {
			return
		}
		level, err := logrus.ParseLevel(c.LogLevel)
		if err != nil {
			logger.WithError(err).WithField("log_level", c.LogLevel).Warn("Ignoring invalid log level")
			return
		}
		logger.SetLevel(level)
	}
}
