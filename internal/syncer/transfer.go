package syncer

import (
	"errors"
	"io/fs"
	"log"
	"sync"
	"time"

	"github.com/mycoool/tongbu/internal/syncer/eol"
)

const (
	defaultWorkers = 4
	maxAttempts    = 5
	retryBackoff   = 500 * time.Millisecond
)

type xferOp int

const (
	opCopy xferOp = iota
	opDelete
	opMove
)

// transferJob is one queued mutation of the destination side.
type transferJob struct {
	op       xferOp
	src, dst Endpoint
	path     string
	oldPath  string // moves only
	kind     EventKind
	conflict bool
	reason   string
}

// lockPaths lists every relative path the job mutates. Moves touch both the
// old and the new name, so both are reserved for the duration of the job.
func (j *transferJob) lockPaths() []string {
	if j.op == opMove && j.oldPath != "" && j.oldPath != j.path {
		return []string{j.path, j.oldPath}
	}
	return []string{j.path}
}

// transferEngine runs jobs on a fixed worker pool. At most one job per
// relative path is in flight at any time; later jobs for the same path wait
// in arrival order.
type transferEngine struct {
	workers int
	eolMode eol.Mode
	st      *stateTable
	onDone  func(job *transferJob, err error)

	wg sync.WaitGroup

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*transferJob
	inflight map[string]bool
	closing  bool
}

func newTransferEngine(workers int, mode eol.Mode, st *stateTable, onDone func(*transferJob, error)) *transferEngine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	te := &transferEngine{
		workers:  workers,
		eolMode:  mode,
		st:       st,
		onDone:   onDone,
		inflight: make(map[string]bool),
	}
	te.cond = sync.NewCond(&te.mu)
	return te
}

func (te *transferEngine) Start() {
	for i := 0; i < te.workers; i++ {
		te.wg.Add(1)
		go te.worker()
	}
}

// Submit queues a job. Jobs for the same path run one at a time in arrival
// order.
func (te *transferEngine) Submit(job *transferJob) {
	te.mu.Lock()
	if te.closing {
		te.mu.Unlock()
		return
	}
	te.queue = append(te.queue, job)
	te.mu.Unlock()
	te.cond.Signal()
}

// next blocks until a runnable job exists (one whose paths are all idle) or
// the pool shuts down.
func (te *transferEngine) next() *transferJob {
	te.mu.Lock()
	defer te.mu.Unlock()
	for {
	scan:
		for i, job := range te.queue {
			for _, p := range job.lockPaths() {
				if te.inflight[p] {
					continue scan
				}
			}
			for _, p := range job.lockPaths() {
				te.inflight[p] = true
			}
			te.queue = append(te.queue[:i], te.queue[i+1:]...)
			return job
		}
		if te.closing {
			return nil
		}
		te.cond.Wait()
	}
}

func (te *transferEngine) release(job *transferJob) {
	te.mu.Lock()
	for _, p := range job.lockPaths() {
		delete(te.inflight, p)
	}
	te.mu.Unlock()
	// A queued job for these paths may be runnable now.
	te.cond.Broadcast()
}

// Stop shuts the pool down. With drain set, queued jobs finish first;
// otherwise they are discarded and only in-flight jobs complete.
func (te *transferEngine) Stop(drain bool) {
	te.mu.Lock()
	if !drain {
		te.closing = true
		te.queue = nil
	} else {
		// Let the queue empty before closing.
		for len(te.queue) > 0 || len(te.inflight) > 0 {
			te.mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			te.mu.Lock()
		}
		te.closing = true
	}
	te.mu.Unlock()
	te.cond.Broadcast()
	te.wg.Wait()
}

func (te *transferEngine) worker() {
	defer te.wg.Done()
	for {
		job := te.next()
		if job == nil {
			return
		}
		err := te.runWithRetry(job)
		te.onDone(job, err)
		te.release(job)
	}
}

func (te *transferEngine) runWithRetry(job *transferJob) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = te.run(job)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt < maxAttempts {
			delay := time.Duration(attempt) * retryBackoff
			log.Printf("syncer: transfer %s failed (attempt %d/%d), retrying in %s: %v",
				job.path, attempt, maxAttempts, delay, err)
			time.Sleep(delay)
		}
	}
	return err
}

func (te *transferEngine) run(job *transferJob) error {
	switch job.op {
	case opCopy:
		return te.copy(job)
	case opDelete:
		return te.delete(job)
	case opMove:
		return te.move(job)
	}
	return nil
}

func (te *transferEngine) copy(job *transferJob) error {
	data, err := job.src.Read(job.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Source vanished between decision and transfer; nothing to do.
			return nil
		}
		return err
	}
	normalized := eol.NormalizeForPath(job.path, data, te.eolMode)
	hash := eol.Fingerprint(job.path, data, te.eolMode)

	// Preserve the destination's previous content before overwriting it.
	if prev, statErr := job.dst.Stat(job.path); statErr == nil && prev != nil {
		if err := job.dst.Backup(job.path, Stamp(time.Now())); err != nil {
			return err
		}
	} else if statErr != nil {
		return statErr
	}

	te.st.MarkSelfWrite(job.dst.Side(), job.path, hash)
	if err := job.dst.WriteAtomic(job.path, normalized); err != nil {
		return err
	}

	meta, err := job.dst.Stat(job.path)
	if err != nil || meta == nil {
		meta = &FileMeta{Size: int64(len(normalized)), ModTime: time.Now()}
	}
	meta.Hash = hash
	te.st.Set(job.dst.Side(), job.path, meta)
	srcMeta, _ := job.src.Stat(job.path)
	if srcMeta != nil {
		srcMeta.Hash = hash
		te.st.Set(job.src.Side(), job.path, srcMeta)
	}
	return nil
}

func (te *transferEngine) delete(job *transferJob) error {
	te.st.MarkSelfWrite(job.dst.Side(), job.path, "")
	if err := job.dst.MoveToTrash(job.path, Stamp(time.Now())); err != nil {
		return err
	}
	te.st.Set(job.dst.Side(), job.path, nil)
	te.st.Set(job.src.Side(), job.path, nil)
	return nil
}

func (te *transferEngine) move(job *transferJob) error {
	old, err := job.dst.Stat(job.oldPath)
	if err != nil {
		return err
	}
	if old == nil {
		// Old name already gone on the destination; fall back to a copy of
		// the new name.
		return te.copy(job)
	}
	hash, _ := te.st.Hash(job.src.Side(), job.path)
	te.st.MarkSelfWrite(job.dst.Side(), job.oldPath, "")
	te.st.MarkSelfWrite(job.dst.Side(), job.path, hash)
	if err := job.dst.Rename(job.oldPath, job.path); err != nil {
		return err
	}
	te.st.Set(job.dst.Side(), job.oldPath, nil)
	te.st.Set(job.src.Side(), job.oldPath, nil)
	meta, _ := job.dst.Stat(job.path)
	if meta != nil {
		meta.Hash = hash
		te.st.Set(job.dst.Side(), job.path, meta)
	}
	return nil
}
