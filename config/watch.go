package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"wsproxy/util"
)

// Watcher reloads a config file when it changes on disk and hands the
// freshly parsed Config to a callback.  Only settings that can change
// under a running server are worth reacting to; today that is the
// allowed origin list.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	logger   *util.Logger
	onChange func(*Config)
	debounce time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewWatcher watches path.  The parent directory is watched rather than
// the file so that editors which save by rename are noticed too.
func NewWatcher(path string, logger *util.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		fs:       fw,
		logger:   logger,
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		stop:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// Saves often arrive as several events; reload once they settle.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher: %v", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg := Default()
	if err := LoadFile(w.path, cfg); err != nil {
		w.logger.Warn("keeping previous config: %v", err)
		return
	}
	w.logger.Info("reloaded %s", w.path)
	w.onChange(cfg)
}
