// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package queue

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
)

// ErrWatcherStopped is returned when operations are attempted on a stopped watcher.
var ErrWatcherStopped = errors.New("watcher is stopped")

// Watcher turns filesystem changes under a root directory into ChangeEvents
// for a named source container and enqueues them on a Producer. It lets a
// local mount participate in the incremental pipeline exactly like an
// event-emitting bucket.
type Watcher struct {
	source        string
	root          string
	producer      Producer
	watcher       *fsnotify.Watcher
	logger        adapters.Logger
	debounceDelay time.Duration

	mu        sync.Mutex
	watching  map[string]bool
	lastEvent map[string]time.Time
	stopped   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Source is the container name stamped on emitted events.
	Source string

	// Root is the directory watched recursively.
	Root string

	// Producer receives the change events.
	Producer Producer

	Logger        adapters.Logger
	DebounceDelay time.Duration
}

// NewWatcher creates and starts a recursive filesystem watcher.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		source:        config.Source,
		root:          filepath.Clean(config.Root),
		producer:      config.Producer,
		watcher:       fsw,
		logger:        config.Logger,
		debounceDelay: config.DebounceDelay,
		watching:      make(map[string]bool),
		lastEvent:     make(map[string]time.Time),
		cancel:        cancel,
	}

	if err := w.addRecursive(w.root); err != nil {
		cancel()
		_ = fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.processEvents(ctx)
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	w.watching[root] = true

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root || !d.IsDir() {
			return nil
		}
		if addErr := w.watcher.Add(path); addErr != nil {
			w.logger.Warn(context.Background(), "failed to watch subdirectory",
				adapters.Field{Key: "path", Value: path},
				adapters.Field{Key: "error", Value: addErr.Error()})
			return nil
		}
		w.watching[path] = true
		return nil
	})
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(ctx, "filesystem watcher error",
				adapters.Field{Key: "error", Value: err.Error()})

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if w.shouldIgnore(event.Name) || !w.shouldProcess(event.Name) {
		return
	}

	var eventType common.EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		w.handleCreate(event.Name)
		eventType = common.EventCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = common.EventCreated
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = common.EventRemoved
	default:
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	change := &common.ChangeEvent{
		SourceContainer: w.source,
		ObjectKey:       filepath.ToSlash(rel),
		EventTime:       time.Now().UTC(),
		EventType:       eventType,
	}
	if info, err := os.Stat(event.Name); err == nil {
		change.Size = info.Size()
	}

	if err := w.producer.Enqueue(change); err != nil {
		w.logger.Error(ctx, "failed to enqueue change event",
			adapters.Field{Key: "key", Value: change.ObjectKey},
			adapters.Field{Key: "error", Value: err.Error()})
		return
	}
	w.logger.Debug(ctx, "change event enqueued",
		adapters.Field{Key: "key", Value: change.ObjectKey},
		adapters.Field{Key: "event_type", Value: string(eventType)})
}

// handleCreate extends the watch to newly created directories.
func (w *Watcher) handleCreate(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.watching[path] {
		return
	}
	if err := w.addRecursive(path); err != nil {
		w.logger.Warn(context.Background(), "failed to watch new directory",
			adapters.Field{Key: "path", Value: path},
			adapters.Field{Key: "error", Value: err.Error()})
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, ".metadata.json") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}

func (w *Watcher) shouldProcess(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if last, exists := w.lastEvent[path]; exists && now.Sub(last) < w.debounceDelay {
		return false
	}
	w.lastEvent[path] = now
	return true
}
