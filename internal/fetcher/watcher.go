package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

// reingestTimeout bounds reindexing one externally edited doc.
const reingestTimeout = 30 * time.Second

// Reingester reindexes an externally edited raw doc in place.
type Reingester interface {
	Reingest(ctx context.Context, project, docPath string) error
}

// Watcher keeps the index in step with raw docs that change on disk
// outside the fetcher. An edited doc is reindexed in place so the edit
// survives; a removed doc has its sidecar dropped so the next fetch
// refreshes it.
type Watcher struct {
	raw     *RawStore
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	reingest Reingester
	projects map[string]string // raw root -> project ID
	done     chan struct{}
}

// NewWatcher creates a raw-doc watcher with an empty watch set. Add
// projects with WatchProject; call Close to stop it.
func NewWatcher(raw *RawStore) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		raw:      raw,
		watcher:  fsw,
		projects: make(map[string]string),
		done:     make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

// SetReingester installs the callback that reindexes edited docs.
func (w *Watcher) SetReingester(r Reingester) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reingest = r
}

// WatchProject adds a project's raw-doc tree to the watch set. Calling
// it again for the same project is a no-op, so callers may register
// every store open.
func (w *Watcher) WatchProject(projectID string) error {
	root := w.raw.ProjectDir(projectID)

	w.mu.Lock()
	if _, ok := w.projects[root]; ok {
		w.mu.Unlock()
		return nil
	}
	w.projects[root] = projectID
	w.mu.Unlock()

	if err := os.MkdirAll(root, 0700); err != nil {
		return err
	}

	// Watch the whole tree; fsnotify is not recursive on its own.
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// projectFor resolves which watched project a path belongs to.
func (w *Watcher) projectFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, id := range w.projects {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return id, true
		}
	}
	return "", false
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Raw-doc watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New directories must be added to the watch set.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				logger.Warn("Raw-doc watcher: adding %s: %v", event.Name, err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	// The fetcher's own atomic writes land as renames with a matching
	// sidecar hash; anything else is an external change.
	if w.matchesSidecar(event.Name) {
		return
	}

	// An edited doc is reindexed in place. Invalidating instead would
	// trigger a refetch that overwrites the user's edit.
	if event.Op.Has(fsnotify.Write) {
		if w.reindex(event.Name) {
			return
		}
	}

	logger.Debug("Raw doc gone or unreadable, invalidating: %s", event.Name)
	if err := w.raw.Invalidate(event.Name); err != nil {
		logger.Warn("Raw-doc watcher: invalidating %s: %v", event.Name, err)
	}
}

// reindex routes an edited doc through the reingester, reporting
// whether it was handled.
func (w *Watcher) reindex(docPath string) bool {
	project, ok := w.projectFor(docPath)
	if !ok {
		return false
	}

	w.mu.Lock()
	r := w.reingest
	w.mu.Unlock()
	if r == nil {
		return false
	}

	logger.Debug("Raw doc edited externally, reindexing: %s", docPath)
	ctx, cancel := context.WithTimeout(context.Background(), reingestTimeout)
	defer cancel()
	if err := r.Reingest(ctx, project, docPath); err != nil {
		logger.Warn("Raw-doc watcher: reindexing %s: %v", docPath, err)
	}
	return true
}

// matchesSidecar reports whether the doc file's content still matches
// its sidecar hash.
func (w *Watcher) matchesSidecar(docPath string) bool {
	content, meta, err := w.raw.Read(docPath)
	if err != nil || meta == nil {
		return false
	}
	return domain.ContentHash(content) == meta.ContentHash
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
