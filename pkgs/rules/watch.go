package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type watchCfg struct {
	debounce time.Duration
	onReload func(*Set, error)
}

// WatchOption are options that can be given to Watch().
type WatchOption func(*watchCfg)

// OptWatchDebounce sets how long to wait after the last
// file event before reloading. Defaults to 250ms.
func OptWatchDebounce(d time.Duration) WatchOption {
	return func(cfg *watchCfg) {
		cfg.debounce = d
	}
}

// OptWatchOnReload sets a function called after every reload
// attempt, with the new set or the error that prevented it.
func OptWatchOnReload(f func(*Set, error)) WatchOption {
	return func(cfg *watchCfg) {
		cfg.onReload = f
	}
}

// Watch watches the rule file at path and swaps a newly parsed
// set into the store every time it changes. An invalid file is
// logged and the store keeps the previous set.
// Watch blocks until the context is canceled.
func Watch(ctx context.Context, path string, store *Store, opts ...WatchOption) error {

	cfg := watchCfg{
		debounce: 250 * time.Millisecond,
	}

	for _, o := range opts {
		o(&cfg)
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("unable to resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create rules watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors and config maps replace the file instead
	// of writing it, so the folder is watched. Config maps
	// swap a symlink, so the resolved target is tracked too.
	target, _ := filepath.EvalSymlinks(path)

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("unable to watch rules folder: %w", err)
	}

	timer := time.NewTimer(cfg.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {

		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			current, _ := filepath.EvalSymlinks(path)
			retargeted := current != "" && current != target
			if retargeted {
				target = current
			}

			onFile := filepath.Clean(ev.Name) == path &&
				(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename))

			if !onFile && !retargeted {
				continue
			}

			timer.Reset(cfg.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Rules watcher error", "path", path, "err", err)

		case <-timer.C:
			reload(path, store, cfg.onReload)
		}
	}
}

func reload(path string, store *Store, onReload func(*Set, error)) {

	set, err := Load(path)
	if err != nil {
		slog.Error("Unable to reload rules, keeping previous ones", "path", path, "err", err)
	} else {
		old := store.Swap(set)
		if old.Fingerprint() != set.Fingerprint() {
			slog.Info("Rules reloaded", "path", path, "fingerprint", set.Fingerprint())
		}
	}

	if onReload != nil {
		onReload(set, err)
	}
}
