package symbol

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates cached symbol trees when files change outside
// the tool surface (an editor, a git checkout). The mtime-keyed cache
// already refuses stale entries on read; the watcher reclaims their
// memory and clears the coalescer's result window eagerly.
type Watcher struct {
	retriever *Retriever
	rootPath  string
	fsw       *fsnotify.Watcher
	log       *zap.Logger
	done      chan struct{}
}

// NewWatcher starts watching the project tree. Directories are added
// recursively; new directories are picked up as they appear.
func NewWatcher(retriever *Retriever, rootPath string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		retriever: retriever,
		rootPath:  rootPath,
		fsw:       fsw,
		log:       log,
		done:      make(chan struct{}),
	}

	if err := w.addRecursive(rootPath); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// addRecursive registers a directory tree, skipping dot directories.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (name[0] == '.' || name == "node_modules" || name == "vendor") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Debug("watch add failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
	}

	rel, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		return
	}
	w.retriever.InvalidatePath(rel)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
