package syncer

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const renameWindow = 2 * time.Second

// renameTracker pairs a deletion with a creation carrying the same content
// fingerprint inside a short window, turning the pair into a single moved
// event so the peer renames instead of delete + re-transfer.
type renameTracker struct {
	mu      sync.Mutex
	pending map[string]pendingDelete // fingerprint -> delete
	window  time.Duration
	lookup  func(rel string) (string, bool) // last known fingerprint
	probe   func(rel string) (string, error)
	emit    func(ChangeEvent)
	side    Side
}

type pendingDelete struct {
	path  string
	at    time.Time
	timer *time.Timer
}

func newRenameTracker(side Side, lookup func(string) (string, bool), probe func(string) (string, error), emit func(ChangeEvent)) *renameTracker {
	return &renameTracker{
		pending: make(map[string]pendingDelete),
		window:  renameWindow,
		lookup:  lookup,
		probe:   probe,
		emit:    emit,
		side:    side,
	}
}

// Deleted holds the deletion back for the pairing window. If no matching
// creation shows up it fires as a plain delete.
func (t *renameTracker) Deleted(rel string, at time.Time) {
	hash, ok := t.lookup(rel)
	if !ok || hash == "" {
		t.emit(ChangeEvent{Kind: EventDeleted, Path: rel, Side: t.side, At: at})
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, exists := t.pending[hash]; exists {
		prev.timer.Stop()
		t.emit(ChangeEvent{Kind: EventDeleted, Path: prev.path, Side: t.side, At: prev.at})
	}
	timer := time.AfterFunc(t.window, func() { t.expire(hash) })
	t.pending[hash] = pendingDelete{path: rel, at: at, timer: timer}
}

func (t *renameTracker) expire(hash string) {
	t.mu.Lock()
	pd, ok := t.pending[hash]
	if ok {
		delete(t.pending, hash)
	}
	t.mu.Unlock()
	if ok {
		t.emit(ChangeEvent{Kind: EventDeleted, Path: pd.path, Side: t.side, At: pd.at})
	}
}

// Created either completes a pending move or passes the creation through.
func (t *renameTracker) Created(rel string, at time.Time) {
	hash, err := t.probe(rel)
	if err == nil && hash != "" {
		t.mu.Lock()
		pd, ok := t.pending[hash]
		if ok {
			pd.timer.Stop()
			delete(t.pending, hash)
		}
		t.mu.Unlock()
		if ok && pd.path != rel {
			t.emit(ChangeEvent{Kind: EventMoved, Path: rel, OldPath: pd.path, Side: t.side, At: at})
			return
		}
	}
	t.emit(ChangeEvent{Kind: EventCreated, Path: rel, Side: t.side, At: at})
}

// Flush fires all still-pending deletions immediately.
func (t *renameTracker) Flush() {
	t.mu.Lock()
	pendings := make([]pendingDelete, 0, len(t.pending))
	for hash, pd := range t.pending {
		pd.timer.Stop()
		pendings = append(pendings, pd)
		delete(t.pending, hash)
	}
	t.mu.Unlock()
	for _, pd := range pendings {
		t.emit(ChangeEvent{Kind: EventDeleted, Path: pd.path, Side: t.side, At: pd.at})
	}
}

// localWatcher watches one local root recursively with fsnotify. New
// directories are added to the watch as they appear.
type localWatcher struct {
	side    Side
	root    string
	filter  *pathFilter
	tracker *renameTracker
	emit    func(ChangeEvent)

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

func newLocalWatcher(side Side, root string, filter *pathFilter, tracker *renameTracker, emit func(ChangeEvent)) *localWatcher {
	return &localWatcher{
		side:    side,
		root:    filepath.Clean(root),
		filter:  filter,
		tracker: tracker,
		emit:    emit,
		done:    make(chan struct{}),
	}
}

func (w *localWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if err := w.addRecursive(w.root); err != nil {
		_ = fsw.Close()
		return err
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *localWatcher) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.wg.Wait()
	w.tracker.Flush()
}

func (w *localWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.rel(p)
		if rel != "" && w.filter.Skip(rel, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *localWatcher) rel(p string) string {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (w *localWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				log.Printf("syncer: watcher error on %s: %v", w.root, err)
			}
		}
	}
}

func (w *localWatcher) handle(ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	if rel == "" {
		return
	}
	now := time.Now()

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()
	if w.filter.Skip(rel, isDir) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir {
			// Pick up the subtree; files created before the watch attached
			// would otherwise be missed.
			if err := w.addRecursive(ev.Name); err != nil {
				log.Printf("syncer: watch new dir %s: %v", ev.Name, err)
			}
			w.emitTree(ev.Name, now)
			return
		}
		if statErr == nil && info.Mode().IsRegular() {
			w.tracker.Created(rel, now)
		}
	case ev.Op&fsnotify.Write != 0:
		if statErr == nil && info.Mode().IsRegular() {
			w.emit(ChangeEvent{Kind: EventModified, Path: rel, Side: w.side, At: now})
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// Rename reports the old name; the new name arrives as Create, so the
		// tracker turns the pair into a move when fingerprints agree.
		w.tracker.Deleted(rel, now)
	}
}

// emitTree emits created events for regular files already inside a freshly
// watched directory.
func (w *localWatcher) emitTree(dir string, at time.Time) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel := w.rel(p)
		if rel == "" || w.filter.Skip(rel, false) {
			return nil
		}
		w.tracker.Created(rel, at)
		return nil
	})
}
