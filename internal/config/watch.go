// SPDX-License-Identifier: MIT
package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"beatbox/internal/log"
)

// watchDebounce coalesces the bursts of write events editors emit
// when saving a file.
const watchDebounce = 200 * time.Millisecond

// Watcher reloads the config file on change and hands each valid new
// configuration to the registered callback. Invalid intermediate
// states are logged and skipped, keeping the last good config live.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	onLoad  func(*Config)
	stopped chan struct{}
}

// Watch starts watching path. The callback runs on the watcher
// goroutine; it should hand off quickly.
func Watch(path string, onLoad func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors that rename-over the file would
	// otherwise detach the watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		fsw:     fsw,
		onLoad:  onLoad,
		stopped: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.stopped
	return err
}

func (w *Watcher) run() {
	defer close(w.stopped)

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(watchDebounce)

		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				log.Warnf("config: reload of %s failed: %v", w.path, err)
				continue
			}
			log.Infof("config: reloaded %s", w.path)
			w.onLoad(cfg)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warnf("config: watch error: %v", err)
		}
	}
}
