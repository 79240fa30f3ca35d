// Package signals lets a person stop a running sprint by dropping a file
// into .drover/signals/.
package signals

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopFile is the name of the stop signal inside the signals directory.
const StopFile = "stop"

// Dir returns the signals directory under a project dir.
func Dir(projectDir string) string {
	return filepath.Join(projectDir, "signals")
}

// SendStop asks a running sprint in projectDir to stop after its current iteration.
func SendStop(projectDir string) error {
	dir := Dir(projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, StopFile), []byte(time.Now().Format(time.RFC3339)), 0o644)
}

// Clear removes a leftover stop signal.
func Clear(projectDir string) error {
	err := os.Remove(filepath.Join(Dir(projectDir), StopFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear stop signal: %w", err)
	}
	return nil
}

// Watcher closes its Stop channel once the stop file appears.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
	done    chan struct{}
}

// Watch starts watching the signals directory of projectDir. If fsnotify
// is unavailable the watcher still works through ShouldStop, which checks
// the file directly.
func Watch(projectDir string) (*Watcher, error) {
	dir := Dir(projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}

	w := &Watcher{
		dir:  dir,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if w.stopFilePresent() {
		w.trigger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == StopFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.trigger()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) trigger() {
	w.once.Do(func() { close(w.stop) })
}

func (w *Watcher) stopFilePresent() bool {
	_, err := os.Stat(filepath.Join(w.dir, StopFile))
	return err == nil
}

// Stop is closed when a stop signal arrives.
func (w *Watcher) Stop() <-chan struct{} {
	return w.stop
}

// ShouldStop reports whether a stop signal has arrived. It also checks the
// file directly in case the watcher missed the event.
func (w *Watcher) ShouldStop() bool {
	if w.stopFilePresent() {
		w.trigger()
	}
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Close stops watching.
func (w *Watcher) Close() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
