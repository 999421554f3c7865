package modtest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// sourceWatcher reloads property sources when their files change on
// disk and drives a refresh cycle with the resulting diff. Editors that
// replace files atomically (rename-over) drop the inode watch, so
// removed files are re-armed before reloading.
type sourceWatcher struct {
	tc      *TestContext
	watcher *fsnotify.Watcher
	files   map[string]*resolvedSource
	done    chan struct{}
	stopped chan struct{}
}

func newSourceWatcher(tc *TestContext) (*sourceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating source watcher: %w", err)
	}

	files := make(map[string]*resolvedSource)
	for _, source := range tc.sources {
		for _, file := range source.files {
			if err := watcher.Add(file); err != nil {
				_ = watcher.Close()
				return nil, fmt.Errorf("watching %s: %w", file, err)
			}
			files[filepath.Clean(file)] = source
		}
	}

	sw := &sourceWatcher{
		tc:      tc,
		watcher: watcher,
		files:   files,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go sw.run()

	tc.logger.Debug("Watching property sources", "files", len(files))
	return sw, nil
}

func (sw *sourceWatcher) run() {
	defer close(sw.stopped)
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handle(event)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.tc.logger.Error("Source watcher error", "error", err)
		}
	}
}

func (sw *sourceWatcher) handle(event fsnotify.Event) {
	file := filepath.Clean(event.Name)
	source, watched := sw.files[file]
	if !watched {
		return
	}

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		sw.reload(source, file)
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if sw.rearm(file) {
			sw.reload(source, file)
		}
	}
}

// rearm re-adds a watch dropped by an atomic replace, retrying briefly
// while the editor finishes writing the new file.
func (sw *sourceWatcher) rearm(file string) bool {
	for attempt := 0; attempt < 50; attempt++ {
		if err := sw.watcher.Add(file); err == nil {
			return true
		}
		select {
		case <-sw.done:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
	sw.tc.logger.Warn("Lost watch on property source", "file", file)
	return false
}

// reload re-parses every source, swaps the store's source layer, and
// refreshes subscribers with whatever effectively changed. A file
// caught mid-write fails to parse and is skipped; the write completing
// fires another event.
func (sw *sourceWatcher) reload(source *resolvedSource, file string) {
	diff, err := sw.tc.reloadSources("file:" + file)
	if err != nil {
		sw.tc.logger.Error("Reloading property sources failed", "file", file, "error", err)
		return
	}

	sw.tc.emitEvent(EventTypeSourceReloaded, SourceLoadedEvent{
		Path:     source.path,
		Files:    source.files,
		KeyCount: len(source.values),
		Reloaded: true,
	})

	if err := sw.tc.orchestrator.Refresh(context.Background(), RefreshTriggerFileWatch, diff); err != nil {
		sw.tc.logger.Error("Refresh after source reload failed", "file", file, "error", err)
	}
}

func (sw *sourceWatcher) stop() {
	close(sw.done)
	_ = sw.watcher.Close()
	<-sw.stopped
}
