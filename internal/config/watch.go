package config

import (
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch hot-reloads the YAML file at path, invoking onReload with the
// freshly loaded Config whenever the file changes on disk. It is best
// effort: a failed reload is logged and the previous Config stays live.
// Returns the fsnotify.Watcher so the caller can Close it during
// shutdown; a no-op watcher is returned if path is empty.
func Watch(path string, onReload func(*Config)) (*fsnotify.Watcher, error) {
	if path == "" {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.WithError(err).WithField("path", path).Warn("config reload failed, keeping previous config")
					continue
				}
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()

	return watcher, nil
}
