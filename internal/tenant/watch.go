package tenant

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

const watchDebounce = 400 * time.Millisecond

// Watch reloads the registry when the tenants file changes on disk, so
// hand edits take effect without a restart. Blocks until ctx is done.
// Events are debounced; editors tend to fire several per save.
func (r *Registry) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory, not the file: atomic saves replace the inode.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("tenants watch error", logx.Err(err))
		case <-timerC:
			timer = nil
			timerC = nil
			if err := r.Load(); err != nil {
				r.log.Error("tenants reload failed", logx.String("path", path), logx.Err(err))
				continue
			}
			r.log.Info("tenants reloaded from disk", logx.Int("tenants", r.Count()))
		}
	}
}
