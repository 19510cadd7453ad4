package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
)

// watchDebounce collapses the burst of events editors emit on save.
const watchDebounce = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and hands the
// result to onChange. A reload that fails to load or validate is passed
// as an error and the previous config stays in force with the caller.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	path = expandHomeDir(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return sberrors.Wrap(err, sberrors.ErrCodeConfigLoad, "resolve config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sberrors.Wrap(err, sberrors.ErrCodeConfigLoad, "create config watcher")
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return sberrors.Wrap(err, sberrors.ErrCodeConfigLoad, "watch config directory").
			WithContext("path", abs)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			cfg, err := LoadFromPath(abs)
			onChange(cfg, err)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onChange(nil, sberrors.Wrap(err, sberrors.ErrCodeConfigLoad, "config watcher"))
		}
	}
}
