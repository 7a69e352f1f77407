package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the settings file and reloads the cached configuration
// when it changes. It watches the parent directory since editors commonly
// replace the file via rename.
type Watcher struct {
	settingsPath string
	onReload     func(*Config)
	watcher      *fsnotify.Watcher
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.Mutex
	running      bool
	debounce     time.Duration
}

// NewWatcher creates a watcher for the settings file. onReload is called
// with the freshly loaded configuration after each change; it may be nil.
func NewWatcher(onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		settingsPath: SettingsPath(),
		onReload:     onReload,
		watcher:      fsw,
		ctx:          ctx,
		cancel:       cancel,
		debounce:     200 * time.Millisecond,
	}, nil
}

// Start begins watching for settings changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.settingsPath)); err != nil {
		log.Warn().Err(err).Str("path", w.settingsPath).Msg("Failed to watch settings directory")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.settingsPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.handleChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Settings watcher error")
		}
	}
}

func (w *Watcher) handleChange() {
	cfg := Reload()
	log.Info().Str("path", w.settingsPath).Msg("Settings reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
