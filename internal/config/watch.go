package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the multiple write events a single save can
// produce (e.g. editors that write-then-rename) into one reload signal.
const debounceDelay = 200 * time.Millisecond

// Watch watches path's containing directory (some filesystems don't
// support watching a single file directly) and sends on the returned
// channel whenever path is written or recreated. The channel is closed
// when ctx is done or the watcher fails to start watching. Grounded on the
// same directory-watch + debounce-timer shape as other example repos'
// config file watchers.
func Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	ch := make(chan struct{}, 1)
	go watchLoop(ctx, watcher, file, ch)
	return ch, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, file string, ch chan struct{}) {
	defer close(ch)
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case ch <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
