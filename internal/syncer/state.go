package syncer

import (
	"sync"
	"time"
)

const suppressWindow = 2 * time.Second

// stateTable is the in-memory per-path view of both sides of a task, plus
// the self-write markers used for echo suppression. It is rebuilt by a full
// scan on every start and reconnect, never persisted.
type stateTable struct {
	mu      sync.Mutex
	entries map[string]*pathState
	// (side, path, fingerprint) -> marker expiry. A watcher event matching a
	// live marker is the engine observing its own write and is dropped.
	suppress map[suppressKey]time.Time
}

type pathState struct {
	a *FileMeta
	b *FileMeta
}

type suppressKey struct {
	side Side
	path string
	hash string
}

func newStateTable() *stateTable {
	return &stateTable{
		entries:  make(map[string]*pathState),
		suppress: make(map[suppressKey]time.Time),
	}
}

func (st *stateTable) meta(ps *pathState, side Side) *FileMeta {
	if side == SideA {
		return ps.a
	}
	return ps.b
}

func (st *stateTable) setMeta(ps *pathState, side Side, meta *FileMeta) {
	if side == SideA {
		ps.a = meta
	} else {
		ps.b = meta
	}
}

// Meta returns the last known metadata for a path on one side; nil when the
// path is not known to exist there.
func (st *stateTable) Meta(side Side, path string) *FileMeta {
	st.mu.Lock()
	defer st.mu.Unlock()
	ps, ok := st.entries[path]
	if !ok {
		return nil
	}
	return st.meta(ps, side)
}

// Hash returns the last recorded fingerprint for a path on one side.
func (st *stateTable) Hash(side Side, path string) (string, bool) {
	meta := st.Meta(side, path)
	if meta == nil || meta.Hash == "" {
		return "", false
	}
	return meta.Hash, true
}

// Set records the current metadata for a path on one side; nil removes it.
// Entries empty on both sides are dropped.
func (st *stateTable) Set(side Side, path string, meta *FileMeta) {
	st.mu.Lock()
	defer st.mu.Unlock()
	ps, ok := st.entries[path]
	if !ok {
		if meta == nil {
			return
		}
		ps = &pathState{}
		st.entries[path] = ps
	}
	st.setMeta(ps, side, meta)
	if ps.a == nil && ps.b == nil {
		delete(st.entries, path)
	}
}

// ReplaceSide installs a fresh listing for one side, clearing paths that no
// longer exist there. Used by the scan phase.
func (st *stateTable) ReplaceSide(side Side, listing map[string]FileMeta) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for path, ps := range st.entries {
		if _, ok := listing[path]; !ok {
			st.setMeta(ps, side, nil)
			if ps.a == nil && ps.b == nil {
				delete(st.entries, path)
			}
		}
	}
	for path, meta := range listing {
		m := meta
		ps, ok := st.entries[path]
		if !ok {
			ps = &pathState{}
			st.entries[path] = ps
		}
		st.setMeta(ps, side, &m)
	}
}

// Paths returns the union of known paths on both sides.
func (st *stateTable) Paths() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, 0, len(st.entries))
	for path := range st.entries {
		out = append(out, path)
	}
	return out
}

// MarkSelfWrite arms an echo-suppression marker before the engine mutates a
// side. An empty hash marks a deletion.
func (st *stateTable) MarkSelfWrite(side Side, path, hash string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.suppress[suppressKey{side: side, path: path, hash: hash}] = time.Now().Add(suppressWindow)
	st.sweepLocked()
}

// ConsumeEcho reports whether an observed change matches a live marker and
// consumes the marker if so.
func (st *stateTable) ConsumeEcho(side Side, path, hash string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := suppressKey{side: side, path: path, hash: hash}
	expiry, ok := st.suppress[key]
	if !ok {
		return false
	}
	delete(st.suppress, key)
	return time.Now().Before(expiry)
}

func (st *stateTable) sweepLocked() {
	now := time.Now()
	for key, expiry := range st.suppress {
		if now.After(expiry) {
			delete(st.suppress, key)
		}
	}
}
