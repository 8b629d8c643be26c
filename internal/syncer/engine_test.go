package syncer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mycoool/tongbu/internal/types"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) Emit(out Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

func (r *outcomeRecorder) list() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func (r *outcomeRecorder) count(status string) int {
	n := 0
	for _, o := range r.list() {
		if o.Status == status {
			n++
		}
	}
	return n
}

func localTask(t *testing.T, mode string) (types.TaskConfig, string, string) {
	t.Helper()
	rootA := t.TempDir()
	rootB := t.TempDir()
	cfg := types.TaskConfig{
		ID:   1,
		Name: "test-task",
		Mode: mode,
		A:    types.EndpointConfig{Type: "local", Path: rootA},
		B:    types.EndpointConfig{Type: "local", Path: rootB},
		// Keep the pool small and deterministic in tests.
		Workers:      2,
		EOLNormalize: "keep",
		Enabled:      true,
	}
	return cfg, rootA, rootB
}

func startEngine(t *testing.T, cfg types.TaskConfig, rec *outcomeRecorder) *Engine {
	t.Helper()
	e := NewEngine(cfg, types.SSHConfig{}, rec, nil)
	if err := e.Start(); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func readSide(t *testing.T, root, rel string) (string, bool) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false
		}
		t.Fatal(err)
	}
	return string(data), true
}

func TestEngineBaselineScanTwoWay(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	writeTestFile(t, rootA, "only-a.txt", "from a")
	writeTestFile(t, rootA, "sub/deep.txt", "deep")
	writeTestFile(t, rootB, "only-b.txt", "from b")

	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)

	waitFor(t, 5*time.Second, func() bool {
		_, okA := readSide(t, rootA, "only-b.txt")
		_, okB1 := readSide(t, rootB, "only-a.txt")
		_, okB2 := readSide(t, rootB, "sub/deep.txt")
		return okA && okB1 && okB2
	})

	if got := rec.count(StatusConflict); got != 0 {
		t.Fatalf("baseline of disjoint trees must not conflict, got %d", got)
	}
}

func TestEngineScanIsIdempotent(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	writeTestFile(t, rootA, "a.txt", "hello")

	rec := &outcomeRecorder{}
	e := startEngine(t, cfg, rec)

	waitFor(t, 5*time.Second, func() bool {
		_, ok := readSide(t, rootB, "a.txt")
		return ok
	})
	waitFor(t, 5*time.Second, func() bool { return rec.count(StatusSynced) >= 1 })
	before := rec.count(StatusSynced)

	if err := e.TriggerSync(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	if after := rec.count(StatusSynced); after != before {
		t.Fatalf("second scan must transfer nothing: %d -> %d", before, after)
	}
}

func TestEngineOneWayMirror(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "one_way")
	writeTestFile(t, rootA, "src.txt", "hi")
	writeTestFile(t, rootB, "stray.txt", "should vanish")

	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)

	waitFor(t, 5*time.Second, func() bool {
		got, ok := readSide(t, rootB, "src.txt")
		_, strayLeft := readSide(t, rootB, "stray.txt")
		return ok && got == "hi" && !strayLeft
	})

	// The stray file went to trash, not oblivion.
	trashRoot := filepath.Join(rootB, trashDirName)
	found := false
	_ = filepath.Walk(trashRoot, func(p string, info os.FileInfo, err error) error {
		if err == nil && info != nil && !info.IsDir() && info.Name() == "stray.txt" {
			found = true
		}
		return nil
	})
	if !found {
		t.Fatal("mirrored deletion must land in trash")
	}

	// Nothing may ever flow b -> a.
	if _, ok := readSide(t, rootA, "stray.txt"); ok {
		t.Fatal("one-way task wrote to side a")
	}
}

func TestEngineLiveChangePropagates(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)

	writeTestFile(t, rootA, "live.txt", "v1")
	waitFor(t, 10*time.Second, func() bool {
		got, ok := readSide(t, rootB, "live.txt")
		return ok && got == "v1"
	})

	writeTestFile(t, rootB, "live.txt", "v2 from b")
	waitFor(t, 10*time.Second, func() bool {
		got, ok := readSide(t, rootA, "live.txt")
		return ok && got == "v2 from b"
	})
}

func TestEngineDoesNotEchoItsOwnWrites(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)

	writeTestFile(t, rootA, "once.txt", "payload")
	waitFor(t, 10*time.Second, func() bool {
		_, ok := readSide(t, rootB, "once.txt")
		return ok
	})

	// Give the echo (if any) time to bounce.
	time.Sleep(1500 * time.Millisecond)
	if got := rec.count(StatusSynced); got != 1 {
		t.Fatalf("one write must produce exactly one transfer, got %d", got)
	}
}

func TestEngineLiveDeletePropagatesToTrash(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	writeTestFile(t, rootA, "doomed.txt", "bye")

	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)
	waitFor(t, 5*time.Second, func() bool {
		_, ok := readSide(t, rootB, "doomed.txt")
		return ok
	})

	if err := os.Remove(filepath.Join(rootA, "doomed.txt")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 15*time.Second, func() bool {
		_, ok := readSide(t, rootB, "doomed.txt")
		return !ok
	})
}

func TestEngineEOLNormalization(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	cfg.EOLNormalize = "lf"
	writeTestFile(t, rootA, "notes.txt", "line1\r\nline2\r\n")

	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)

	waitFor(t, 5*time.Second, func() bool {
		got, ok := readSide(t, rootB, "notes.txt")
		return ok && got == "line1\nline2\n"
	})
}

func TestEngineConflictNewerWinsAndLoserIsBackedUp(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	writeTestFile(t, rootA, "clash.txt", "newer content")
	writeTestFile(t, rootB, "clash.txt", "older content")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(rootB, "clash.txt"), old, old); err != nil {
		t.Fatal(err)
	}

	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)

	waitFor(t, 5*time.Second, func() bool {
		got, ok := readSide(t, rootB, "clash.txt")
		return ok && got == "newer content"
	})
	waitFor(t, 5*time.Second, func() bool { return rec.count(StatusConflict) >= 1 })

	// The overwritten b content survives in backup.
	backupRoot := filepath.Join(rootB, backupDirName)
	found := false
	_ = filepath.Walk(backupRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr == nil && string(data) == "older content" {
			found = true
		}
		return nil
	})
	if !found {
		t.Fatal("losing side of a conflict must be backed up before overwrite")
	}
}

func TestEngineExcludedPathsNeverSync(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	cfg.ExcludePatterns = []string{"*.log"}
	writeTestFile(t, rootA, "keep.txt", "yes")
	writeTestFile(t, rootA, "skip.log", "no")

	rec := &outcomeRecorder{}
	startEngine(t, cfg, rec)

	waitFor(t, 5*time.Second, func() bool {
		_, ok := readSide(t, rootB, "keep.txt")
		return ok
	})
	if _, ok := readSide(t, rootB, "skip.log"); ok {
		t.Fatal("excluded file must not sync")
	}
}

func TestEngineRejectsBadConfig(t *testing.T) {
	cfg, _, _ := localTask(t, "two_way")
	cfg.A.Path = filepath.Join(t.TempDir(), "does-not-exist")

	e := NewEngine(cfg, types.SSHConfig{}, nil, nil)
	if err := e.Start(); err == nil {
		t.Fatal("missing root must fail startup")
	}
	if st := e.Status(); st.State != StateStopped {
		t.Fatalf("failed start must leave the task stopped, got %s", st.State)
	}
}

func TestEngineStatusLifecycle(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	writeTestFile(t, rootA, "x.txt", "x")

	rec := &outcomeRecorder{}
	e := startEngine(t, cfg, rec)

	waitFor(t, 5*time.Second, func() bool {
		_, ok := readSide(t, rootB, "x.txt")
		return ok && e.Status().State == StateWatching
	})
	st := e.Status()
	if !st.IsRunning || !st.Connected {
		t.Fatalf("running local task status: %+v", st)
	}

	e.Stop()
	if st := e.Status(); st.State != StateStopped || st.IsRunning {
		t.Fatalf("stopped task status: %+v", st)
	}
}

func TestEngineRecoveryRacesStop(t *testing.T) {
	cfg, rootA, rootB := localTask(t, "two_way")
	writeTestFile(t, rootA, "x.txt", "x")

	rec := &outcomeRecorder{}
	e := startEngine(t, cfg, rec)
	waitFor(t, 5*time.Second, func() bool {
		_, ok := readSide(t, rootB, "x.txt")
		return ok
	})

	// Reconnect recovery can fire from both connections at once while the
	// task is being shut down; the three must serialize cleanly.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.onConnUp()
		}()
	}
	e.Stop()
	wg.Wait()

	if st := e.Status(); st.State != StateStopped {
		t.Fatalf("shutdown during recovery must end stopped, got %s", st.State)
	}
}
