package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk.
//
// Provisioning tools rewrite the file atomically (write temp, rename), so
// the watcher watches the parent directory and debounces rapid events the
// same way the mirror daemon debounces its own change queue.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *log.Logger

	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a config file watcher. onChange is called with the
// freshly loaded config after every successful reload; a file that fails to
// parse is logged and ignored, keeping the previous config in effect.
func NewWatcher(path string, onChange func(*Config), logger *log.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}
	if logger == nil {
		logger = log.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Call Stop to shut down.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	w.wg.Add(2)
	go w.watchEvents()
	go w.reloadLoop()
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) watchEvents() {
	defer w.wg.Done()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reloadLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case <-ticker.C:
			w.mu.Lock()
			pending := w.pending
			w.pending = false
			w.mu.Unlock()

			if !pending {
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Printf("Warning: config reload failed, keeping previous: %v", err)
				continue
			}

			w.logger.Printf("Config reloaded from %s", w.path)
			w.onChange(cfg)
		}
	}
}
