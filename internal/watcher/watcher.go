// Package watcher turns hwloc files appearing and disappearing in a folder
// into host events.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"landscaper/internal/hub"
	"landscaper/internal/topology"
)

// Events emitted by the watcher. The body is the path of the hwloc file.
const (
	EventHostAdded   = "host.added"
	EventHostRemoved = "host.removed"
)

// Watcher watches a folder of {host}_hwloc.xml files
type Watcher struct {
	dir      string
	out      hub.Dispatcher
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a new folder watcher
func New(dir string, out hub.Dispatcher, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		out:      out,
		debounce: 500 * time.Millisecond,
		logger:   logger.With(zap.String("component", "watcher"), zap.String("dir", dir)),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Name implements hub.Listener
func (w *Watcher) Name() string { return "hwloc_watcher" }

// Events implements hub.Listener
func (w *Watcher) Events() []string {
	return []string{EventHostAdded, EventHostRemoved}
}

type fired struct {
	path string
	gen  uint64
}

// Listen watches the folder until ctx is cancelled. A file that is created
// or written emits host.added once it has been quiet for the debounce
// period; removal emits host.removed immediately and cancels a pending add.
func (w *Watcher) Listen(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for hwloc files")

	var gen uint64
	pending := make(map[string]uint64)
	timers := make(map[string]*time.Timer)
	fire := make(chan fired)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if _, ok := topology.MachineFromPath(event.Name); !ok {
				continue
			}

			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if t, ok := timers[event.Name]; ok {
					t.Stop()
				}
				gen++
				f := fired{path: event.Name, gen: gen}
				pending[event.Name] = gen
				timers[event.Name] = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- f:
					case <-ctx.Done():
					}
				})

			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if t, ok := timers[event.Name]; ok {
					t.Stop()
					delete(timers, event.Name)
					delete(pending, event.Name)
				}
				if err := w.emit(ctx, EventHostRemoved, event.Name); err != nil {
					return err
				}
			}

		case f := <-fire:
			if pending[f.path] != f.gen {
				continue
			}
			delete(pending, f.path)
			delete(timers, f.path)
			if err := w.emit(ctx, EventHostAdded, f.path); err != nil {
				return err
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) emit(ctx context.Context, name, path string) error {
	w.logger.Info("hwloc file changed", zap.String("event", name), zap.String("path", path))
	return w.out.Dispatch(ctx, hub.Event{Name: name, Body: []byte(path), At: time.Now()})
}
