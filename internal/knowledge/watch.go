package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"testnerd/internal/logging"
)

// Watcher reloads a Store when its file changes on disk, so patterns curated
// in an editor or by another process take effect without a restart.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	reloads int
}

// Watch starts watching the store's directory. The file itself is replaced
// by rename on every write, so the directory is what fsnotify follows.
// Call Stop to release the watcher.
func (s *Store) Watch(ctx context.Context) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Get(logging.CategoryKnowledge).Warn("Watch: failed to create %s: %v", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		store:    s,
		watcher:  fw,
		debounce: 150 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run(ctx)
	logging.Knowledge("watching %s for changes", s.path)
	return w, nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		if err := w.watcher.Close(); err != nil {
			logging.KnowledgeError("Watch: close failed: %v", err)
		}
	})
}

// Reloads returns how many reloads the watcher has triggered.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.store.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
				continue
			}
			logging.KnowledgeDebug("Watch: %s %s", ev.Op, ev.Name)
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.KnowledgeError("Watch: %v", err)
		case <-timer.C:
			w.store.Reload()
			w.mu.Lock()
			w.reloads++
			w.mu.Unlock()
		}
	}
}
