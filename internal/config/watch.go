package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("nearchat:config")

// Watcher reloads the config file when it changes on disk and calls onChange
// with the freshly validated config. Invalid edits are logged and skipped;
// the previous config stays in effect.
type Watcher struct {
	w      *fsnotify.Watcher
	closed chan struct{}
}

// Watch starts watching the directory containing path. Watching the directory
// rather than the file survives editors that replace files on save.
func Watch(path string, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	cw := &Watcher{w: fw, closed: make(chan struct{})}
	target := filepath.Base(path)

	go func() {
		for {
			select {
			case <-cw.closed:
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warnf("config reload failed: %v", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher error: %v", err)
			}
		}
	}()

	return cw, nil
}

func (cw *Watcher) Close() error {
	close(cw.closed)
	return cw.w.Close()
}
