package syncer

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mycoool/tongbu/internal/syncer/eol"
)

// flakyEndpoint fails a configurable number of writes with a transport
// error before recovering.
type flakyEndpoint struct {
	Endpoint
	failures atomic.Int32
}

func (f *flakyEndpoint) WriteAtomic(rel string, data []byte) error {
	if f.failures.Add(-1) >= 0 {
		return transportError(errors.New("injected failure"))
	}
	return f.Endpoint.WriteAtomic(rel, data)
}

func TestTransferRetriesTransportErrors(t *testing.T) {
	src := newTestLocal(t, SideA)
	dst := &flakyEndpoint{Endpoint: newTestLocal(t, SideB)}
	dst.failures.Store(2)
	writeTestFile(t, src.Root(), "f.txt", "payload")

	var done sync.WaitGroup
	done.Add(1)
	var finalErr error
	te := newTransferEngine(1, eol.Keep, newStateTable(), func(_ *transferJob, err error) {
		finalErr = err
		done.Done()
	})
	te.Start()
	defer te.Stop(false)

	te.Submit(&transferJob{op: opCopy, src: src, dst: dst, path: "f.txt", kind: EventCreated})
	done.Wait()

	if finalErr != nil {
		t.Fatalf("transfer must succeed after retries: %v", finalErr)
	}
	data, err := dst.Read("f.txt")
	if err != nil || string(data) != "payload" {
		t.Fatalf("destination content: %q, %v", data, err)
	}
}

func TestTransferGivesUpAfterMaxAttempts(t *testing.T) {
	src := newTestLocal(t, SideA)
	dst := &flakyEndpoint{Endpoint: newTestLocal(t, SideB)}
	dst.failures.Store(100)
	writeTestFile(t, src.Root(), "f.txt", "payload")

	var done sync.WaitGroup
	done.Add(1)
	var finalErr error
	te := newTransferEngine(1, eol.Keep, newStateTable(), func(_ *transferJob, err error) {
		finalErr = err
		done.Done()
	})
	te.Start()
	defer te.Stop(false)

	te.Submit(&transferJob{op: opCopy, src: src, dst: dst, path: "f.txt", kind: EventCreated})
	done.Wait()

	if finalErr == nil {
		t.Fatal("exhausted retries must surface the error")
	}
	if int(100-dst.failures.Load()) != maxAttempts {
		t.Fatalf("want exactly %d attempts, got %d", maxAttempts, 100-dst.failures.Load())
	}
}

func TestTransferConfigErrorsAreNotRetried(t *testing.T) {
	if IsRetryable(configErrorf("bad")) {
		t.Fatal("config errors must not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatal("unclassified errors must not be retryable")
	}
	if !IsRetryable(transportError(errors.New("io"))) {
		t.Fatal("transport errors must be retryable")
	}
	if IsRetryable(ErrAuth) {
		t.Fatal("auth errors must be terminal")
	}
}

func TestTransferPerPathExclusion(t *testing.T) {
	src := newTestLocal(t, SideA)
	dst := newTestLocal(t, SideB)
	writeTestFile(t, src.Root(), "hot.txt", "v")

	var mu sync.Mutex
	running := 0
	overlapped := false
	var done sync.WaitGroup

	te := newTransferEngine(4, eol.Keep, newStateTable(), func(_ *transferJob, _ error) {
		mu.Lock()
		running--
		mu.Unlock()
		done.Done()
	})
	// Wrap the source so starts are observable.
	slow := &slowEndpoint{Endpoint: src, onRead: func() {
		mu.Lock()
		running++
		if running > 1 {
			overlapped = true
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
	}}
	te.Start()
	defer te.Stop(false)

	const jobs = 5
	done.Add(jobs)
	for i := 0; i < jobs; i++ {
		te.Submit(&transferJob{op: opCopy, src: slow, dst: dst, path: "hot.txt", kind: EventModified})
	}
	done.Wait()

	if overlapped {
		t.Fatal("two jobs for the same path ran concurrently")
	}
}

type slowEndpoint struct {
	Endpoint
	onRead func()
}

func (s *slowEndpoint) Read(rel string) ([]byte, error) {
	s.onRead()
	return s.Endpoint.Read(rel)
}

// crashingEndpoint stages a partial temp file and then fails, the way a
// process killed between staging and rename would.
type crashingEndpoint struct {
	Endpoint
}

func (c *crashingEndpoint) WriteAtomic(rel string, data []byte) error {
	tmp := filepath.Join(c.Endpoint.Root(), rel+".999"+tmpSuffix)
	_ = os.WriteFile(tmp, data[:len(data)/2], 0644)
	return errors.New("interrupted mid-write")
}

func TestTransferInterruptedWriteNeverTouchesDestination(t *testing.T) {
	src := newTestLocal(t, SideA)
	inner := newTestLocal(t, SideB)
	dst := &crashingEndpoint{Endpoint: inner}
	writeTestFile(t, src.Root(), "f.txt", "incoming content")
	writeTestFile(t, inner.Root(), "f.txt", "previous content")

	var done sync.WaitGroup
	done.Add(1)
	var finalErr error
	te := newTransferEngine(1, eol.Keep, newStateTable(), func(_ *transferJob, err error) {
		finalErr = err
		done.Done()
	})
	te.Start()
	defer te.Stop(false)

	te.Submit(&transferJob{op: opCopy, src: src, dst: dst, path: "f.txt", kind: EventModified})
	done.Wait()

	if finalErr == nil {
		t.Fatal("interrupted write must be reported as failed")
	}
	data, err := inner.Read("f.txt")
	if err != nil || string(data) != "previous content" {
		t.Fatalf("final path must keep its prior content: %q, %v", data, err)
	}
	listing, err := inner.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 1 {
		t.Fatalf("partial staging file must not be visible: %v", listing)
	}
}

// countingEndpoint flags any two destination mutations running at once.
type countingEndpoint struct {
	Endpoint
	mu         sync.Mutex
	active     int
	overlapped bool
}

func (c *countingEndpoint) enter() {
	c.mu.Lock()
	c.active++
	if c.active > 1 {
		c.overlapped = true
	}
	c.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
}

func (c *countingEndpoint) leave() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
}

func (c *countingEndpoint) Rename(oldRel, newRel string) error {
	c.enter()
	defer c.leave()
	return c.Endpoint.Rename(oldRel, newRel)
}

func (c *countingEndpoint) WriteAtomic(rel string, data []byte) error {
	c.enter()
	defer c.leave()
	return c.Endpoint.WriteAtomic(rel, data)
}

func TestTransferMoveReservesBothPaths(t *testing.T) {
	src := newTestLocal(t, SideA)
	dst := &countingEndpoint{Endpoint: newTestLocal(t, SideB)}
	writeTestFile(t, src.Root(), "old.txt", "v")
	writeTestFile(t, dst.Root(), "old.txt", "v")

	var done sync.WaitGroup
	done.Add(2)
	te := newTransferEngine(4, eol.Keep, newStateTable(), func(_ *transferJob, _ error) {
		done.Done()
	})
	te.Start()
	defer te.Stop(false)

	// The move renames old.txt; the copy rewrites old.txt. They must not
	// run concurrently even though the move is queued under the new name.
	te.Submit(&transferJob{op: opMove, src: src, dst: dst, path: "new.txt", oldPath: "old.txt", kind: EventMoved})
	te.Submit(&transferJob{op: opCopy, src: src, dst: dst, path: "old.txt", kind: EventModified})
	done.Wait()

	if dst.overlapped {
		t.Fatal("a move and a job for its old name ran concurrently")
	}
}
