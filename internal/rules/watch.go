package rules

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch starts a background watcher on the rules directory using
// fsnotify; any write/create/remove/rename event triggers Reload,
// debounced by 500ms so a multi-file rsync reloads once instead of once
// per file. This supplements, never replaces, the
// explicit rules:reload control-plane command. The returned stop func
// closes the watcher; Watch itself never blocks the caller.
func (e *Engine) Watch(logger *zap.Logger) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(e.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		reloadNow := func() {
			if errs, err := e.Reload(); err != nil {
				logger.Error("rules watcher reload failed", zap.Error(err))
			} else {
				for _, le := range errs {
					logger.Warn("rule file skipped", zap.String("path", le.Path), zap.Error(le.Err))
				}
				logger.Info("rules reloaded from filesystem watch")
			}
		}
		for {
			select {
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(500*time.Millisecond, reloadNow)
				} else {
					timer.Reset(500 * time.Millisecond)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rules watcher error", zap.Error(werr))
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
