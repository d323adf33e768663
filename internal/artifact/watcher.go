package artifact

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher observes the content directory for writes the registry did not
// make itself. Any external modification marks the registry dirty so the
// next lookup re-verifies against durable state instead of trusting the
// in-memory view.
type watcher struct {
	fs     *fsnotify.Watcher
	done   chan struct{}
	logger *zap.Logger
}

func newWatcher(dir string, onChange func(), logger *zap.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &watcher{
		fs:     fsw,
		done:   make(chan struct{}),
		logger: logger,
	}

	go w.run(onChange)
	return w, nil
}

func (w *watcher) run(onChange func()) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			// Atomic saves go through .tmp files; the rename target is
			// what matters.
			if strings.HasSuffix(event.Name, ".tmp") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Debug("backing store changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
				onChange()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("backing store watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
