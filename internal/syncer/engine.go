package syncer

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mycoool/tongbu/internal/syncer/eol"
	"github.com/mycoool/tongbu/internal/types"
	"golang.org/x/sync/errgroup"
)

// Task lifecycle states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateScanning = "scanning"
	StateWatching = "watching"
	StateSyncing  = "syncing"
	StateDegraded = "degraded"
	StateStopping = "stopping"
)

const sweepEvery = time.Hour

// Engine runs one sync task: two endpoints, watchers feeding a debounce
// table, a resolver, and the transfer pool. One Engine per started task.
type Engine struct {
	cfg    types.TaskConfig
	sshCfg types.SSHConfig
	filter *pathFilter
	mode   eol.Mode

	epA, epB Endpoint
	conns    map[Side]*Conn

	st  *stateTable
	agg *aggregator
	te  *transferEngine

	// srcMu guards the change-source slices below and serializes
	// startWatchers, teardown and the reconnect recovery path against
	// each other.
	srcMu          sync.Mutex
	localWatchers  []*localWatcher
	remoteWatchers []*remoteWatcher
	pollers        []*poller

	logs   LogSink
	status StatusSink

	mu       sync.Mutex
	state    string
	lastErr  string
	lastAct  time.Time
	stopOnce sync.Once
	done     chan struct{}

	pending atomic.Int64
}

// NewEngine builds a stopped engine for one task configuration. Endpoint
// credentials must already be decrypted.
func NewEngine(cfg types.TaskConfig, sshCfg types.SSHConfig, logs LogSink, status StatusSink) *Engine {
	if logs == nil {
		logs = nopSink{}
	}
	if status == nil {
		status = nopSink{}
	}
	return &Engine{
		cfg:    cfg,
		sshCfg: sshCfg,
		filter: newPathFilter(cfg.ExcludePatterns, cfg.FileExtensions),
		mode:   eol.ParseMode(cfg.EOLNormalize),
		conns:  make(map[Side]*Conn),
		st:     newStateTable(),
		logs:   logs,
		status: status,
		state:  StateStopped,
		done:   make(chan struct{}),
	}
}

func (e *Engine) oneWay() bool { return e.cfg.Mode == "one_way" }

// Start connects both endpoints, runs the baseline scan and enters watching.
// Configuration and authentication failures return immediately; transport
// failures after startup degrade the task instead of stopping it.
func (e *Engine) Start() error {
	e.setState(StateStarting, "")

	var err error
	e.epA, err = e.buildEndpoint(SideA, e.cfg.A)
	if err == nil {
		e.epB, err = e.buildEndpoint(SideB, e.cfg.B)
	}
	if err == nil {
		err = e.epA.Connect()
	}
	if err == nil {
		err = e.epB.Connect()
	}
	if err != nil {
		e.setState(StateStopped, err.Error())
		return err
	}

	for _, conn := range e.conns {
		conn.OnStateChange(e.onConnDown, e.onConnUp)
	}

	e.te = newTransferEngine(e.cfg.Workers, e.mode, e.st, e.onTransferDone)
	e.te.Start()
	e.agg = newAggregator(defaultDebounce, e.processEvent)

	e.setState(StateScanning, "")
	if err := e.fullScan(); err != nil {
		// A failed baseline scan on a transport error degrades; the
		// reconnect loop will re-run it.
		if errors.Is(err, ErrTransport) {
			e.setState(StateDegraded, err.Error())
		} else {
			e.teardown(false)
			e.setState(StateStopped, err.Error())
			return err
		}
	}

	if err := e.startWatchers(); err != nil {
		if errors.Is(err, ErrTransport) {
			e.setState(StateDegraded, err.Error())
		} else {
			e.teardown(false)
			e.setState(StateStopped, err.Error())
			return err
		}
	} else if e.currentState() == StateScanning {
		e.setState(StateWatching, "")
	}

	e.epA.SweepRetention(e.cfg.TrashRetentionDays, e.cfg.BackupRetentionDays)
	e.epB.SweepRetention(e.cfg.TrashRetentionDays, e.cfg.BackupRetentionDays)
	go e.sweepLoop()

	log.Printf("syncer: task %q started (%s %s <-> %s %s)",
		e.cfg.Name, e.epA.Kind(), e.epA.Root(), e.epB.Kind(), e.epB.Root())
	return nil
}

func (e *Engine) buildEndpoint(side Side, cfg types.EndpointConfig) (Endpoint, error) {
	var conn *Conn
	if cfg.Type == "ssh" {
		conn = NewConn(cfg, e.sshCfg)
		e.conns[side] = conn
	}
	return newEndpoint(side, cfg, e.filter, conn)
}

// Stop winds the task down. Per task policy, queued transfers either drain
// or are dropped; in-flight transfers always finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.setState(StateStopping, "")
		close(e.done)
		e.teardown(e.cfg.DrainOnStop)
		e.setState(StateStopped, "")
		log.Printf("syncer: task %q stopped", e.cfg.Name)
	})
}

func (e *Engine) teardown(drain bool) {
	e.srcMu.Lock()
	for _, w := range e.localWatchers {
		w.Stop()
	}
	for _, w := range e.remoteWatchers {
		w.Stop()
	}
	for _, p := range e.pollers {
		p.Stop()
	}
	e.localWatchers, e.remoteWatchers, e.pollers = nil, nil, nil
	e.srcMu.Unlock()
	if e.agg != nil {
		if drain {
			e.agg.Drain()
		} else {
			e.agg.DiscardAll()
		}
	}
	if e.te != nil {
		e.te.Stop(drain)
	}
	for _, conn := range e.conns {
		_ = conn.Close()
	}
	if e.epA != nil {
		_ = e.epA.Close()
	}
	if e.epB != nil {
		_ = e.epB.Close()
	}
}

// Status snapshots the runtime view for the API and websocket stream.
func (e *Engine) Status() types.TaskRuntimeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	connected := true
	for _, conn := range e.conns {
		if !conn.Healthy() {
			connected = false
		}
	}
	state := e.state
	if state == StateWatching && e.pending.Load() > 0 {
		state = StateSyncing
	}
	return types.TaskRuntimeStatus{
		TaskID:       e.cfg.ID,
		Name:         e.cfg.Name,
		State:        state,
		Enabled:      e.cfg.Enabled,
		IsRunning:    state != StateStopped && state != StateStopping,
		Connected:    connected,
		LastActivity: e.lastAct,
		LastError:    e.lastErr,
	}
}

func (e *Engine) currentState() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(state, errMsg string) {
	e.mu.Lock()
	e.state = state
	e.lastErr = errMsg
	e.lastAct = time.Now()
	e.mu.Unlock()
	e.status.Publish(e.Status())
}

// TriggerSync forces a full reconciliation pass, as the manual "sync now"
// action does.
func (e *Engine) TriggerSync() error {
	state := e.currentState()
	if state == StateStopped || state == StateStopping {
		return configErrorf("task %q is not running", e.cfg.Name)
	}
	return e.fullScan()
}

// fullScan lists both trees concurrently and resolves every path in the
// union of the listings and the previous state. Running it twice in a row
// produces no transfers the second time.
func (e *Engine) fullScan() error {
	var listA, listB map[string]FileMeta
	var g errgroup.Group
	g.Go(func() error {
		var err error
		listA, err = e.epA.List()
		return err
	})
	g.Go(func() error {
		var err error
		listB, err = e.epB.List()
		return err
	})
	if err := g.Wait(); err != nil {
		return transportError(err)
	}

	union := make(map[string]bool, len(listA)+len(listB))
	for path := range listA {
		union[path] = true
	}
	for path := range listB {
		union[path] = true
	}
	for _, path := range e.st.Paths() {
		union[path] = true
	}

	for path := range union {
		var ma, mb *FileMeta
		if m, ok := listA[path]; ok {
			cp := m
			ma = &cp
		}
		if m, ok := listB[path]; ok {
			cp := m
			mb = &cp
		}
		e.dispatch(path, ma, mb)
	}
	return nil
}

// startWatchers wires change sources for both sides. Local sides get
// fsnotify; ssh sides get the inotifywait stream when available, otherwise
// snapshot polling.
func (e *Engine) startWatchers() error {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	sides := []struct {
		side Side
		ep   Endpoint
	}{{SideA, e.epA}, {SideB, e.epB}}

	for _, s := range sides {
		if e.oneWay() && s.side == SideB {
			continue
		}
		switch s.ep.Kind() {
		case "local":
			tracker := newRenameTracker(s.side,
				func(rel string) (string, bool) { return e.st.Hash(s.side, rel) },
				func(rel string) (string, error) { return e.fingerprintOf(s.ep, rel) },
				e.enqueue)
			w := newLocalWatcher(s.side, s.ep.Root(), e.filter, tracker, e.enqueue)
			if err := w.Start(); err != nil {
				return err
			}
			e.localWatchers = append(e.localWatchers, w)
		case "ssh":
			if err := e.startRemoteSource(s.side, s.ep); err != nil {
				return err
			}
		}
	}
	return nil
}

// startRemoteSource wires the inotifywait stream or polling fallback for one
// ssh side. Callers must hold srcMu.
func (e *Engine) startRemoteSource(side Side, ep Endpoint) error {
	conn := e.conns[side]
	rw := newRemoteWatcher(side, ep.Root(), e.filter, conn, e.enqueue)
	ok, err := rw.Probe()
	if err != nil {
		return err
	}
	if ok {
		if err := rw.Start(); err != nil {
			return err
		}
		e.remoteWatchers = append(e.remoteWatchers, rw)
		return nil
	}
	log.Printf("syncer: inotifywait not available on %s, falling back to polling", ep.Root())
	interval := time.Duration(e.cfg.PollIntervalMs) * time.Millisecond
	p := newPoller(ep, interval, e.enqueue)
	if err := p.Start(); err != nil {
		return err
	}
	e.pollers = append(e.pollers, p)
	return nil
}

// enqueue feeds a raw watcher event into the debounce table.
func (e *Engine) enqueue(ev ChangeEvent) {
	select {
	case <-e.done:
		return
	default:
	}
	e.agg.Add(ev)
}

func (e *Engine) endpointOf(side Side) Endpoint {
	if side == SideA {
		return e.epA
	}
	return e.epB
}

// processEvent handles one debounced event. Echoes of the engine's own
// writes are consumed here; everything else goes through the resolver.
func (e *Engine) processEvent(ev ChangeEvent) {
	if e.currentState() == StateDegraded {
		// Reconciliation after reconnect covers whatever happened meanwhile.
		return
	}
	if e.filter.Skip(ev.Path, false) {
		e.logs.Emit(Outcome{
			TaskID:   e.cfg.ID,
			TaskName: e.cfg.Name,
			Kind:     ev.Kind,
			Path:     ev.Path,
			Status:   StatusSkipped,
			Reason:   "path excluded by filter",
			At:       time.Now(),
		})
		return
	}
	src := e.endpointOf(ev.Side)

	switch ev.Kind {
	case EventDeleted:
		if e.st.ConsumeEcho(ev.Side, ev.Path, "") {
			e.st.Set(ev.Side, ev.Path, nil)
			return
		}
	case EventMoved:
		meta, err := e.statWithHash(src, ev.Side, ev.Path)
		if err != nil || meta == nil {
			break
		}
		if e.st.ConsumeEcho(ev.Side, ev.Path, meta.Hash) {
			e.st.ConsumeEcho(ev.Side, ev.OldPath, "")
			e.st.Set(ev.Side, ev.OldPath, nil)
			e.st.Set(ev.Side, ev.Path, meta)
			return
		}
		e.st.Set(ev.Side, ev.OldPath, nil)
		e.st.Set(ev.Side, ev.Path, meta)
		e.submit(&transferJob{
			op:      opMove,
			src:     src,
			dst:     e.endpointOf(ev.Side.Other()),
			path:    ev.Path,
			oldPath: ev.OldPath,
			kind:    EventMoved,
		})
		return
	default:
		meta, err := e.statWithHash(src, ev.Side, ev.Path)
		if err == nil && meta != nil && e.st.ConsumeEcho(ev.Side, ev.Path, meta.Hash) {
			e.st.Set(ev.Side, ev.Path, meta)
			return
		}
	}

	e.resolvePath(ev.Path)
}

// resolvePath stats the path fresh on both sides and dispatches.
func (e *Engine) resolvePath(path string) {
	ma, errA := e.epA.Stat(path)
	mb, errB := e.epB.Stat(path)
	if errA != nil || errB != nil {
		return
	}
	e.dispatch(path, ma, mb)
}

// dispatch resolves one path and submits the resulting transfer, if any.
// metas carry size/mtime; fingerprints are filled lazily, reusing the prior
// hash when size and mtime are unchanged.
func (e *Engine) dispatch(path string, ma, mb *FileMeta) {
	prevA := e.st.Meta(SideA, path)
	prevB := e.st.Meta(SideB, path)

	if ma != nil {
		e.fillHash(e.epA, SideA, path, ma)
	}
	if mb != nil {
		e.fillHash(e.epB, SideB, path, mb)
	}

	var d decision
	if e.oneWay() {
		d = e.resolveOneWay(ma, mb)
	} else {
		d = resolve(ma, mb, prevA, prevB)
	}

	switch d.action {
	case actionNone:
		e.st.Set(SideA, path, ma)
		e.st.Set(SideB, path, mb)
		return
	case actionCopyAToB:
		e.submit(&transferJob{op: opCopy, src: e.epA, dst: e.epB, path: path, kind: kindForCopy(mb), conflict: d.conflict, reason: d.reason})
	case actionCopyBToA:
		e.submit(&transferJob{op: opCopy, src: e.epB, dst: e.epA, path: path, kind: kindForCopy(ma), conflict: d.conflict, reason: d.reason})
	case actionDeleteOnA:
		e.submit(&transferJob{op: opDelete, src: e.epB, dst: e.epA, path: path, kind: EventDeleted, conflict: d.conflict, reason: d.reason})
	case actionDeleteOnB:
		e.submit(&transferJob{op: opDelete, src: e.epA, dst: e.epB, path: path, kind: EventDeleted, conflict: d.conflict, reason: d.reason})
	}
}

// resolveOneWay mirrors side A onto side B; changes on B are overwritten or
// removed, never propagated back.
func (e *Engine) resolveOneWay(ma, mb *FileMeta) decision {
	switch {
	case ma == nil && mb == nil:
		return decision{action: actionNone}
	case ma == nil:
		return decision{action: actionDeleteOnB}
	case mb == nil || ma.Hash == "" || ma.Hash != mb.Hash:
		return decision{action: actionCopyAToB}
	default:
		return decision{action: actionNone}
	}
}

func kindForCopy(dstMeta *FileMeta) EventKind {
	if dstMeta == nil {
		return EventCreated
	}
	return EventModified
}

func (e *Engine) submit(job *transferJob) {
	e.pending.Add(1)
	e.te.Submit(job)
	e.status.Publish(e.Status())
}

func (e *Engine) onTransferDone(job *transferJob, err error) {
	e.pending.Add(-1)
	out := Outcome{
		TaskID:   e.cfg.ID,
		TaskName: e.cfg.Name,
		Kind:     job.kind,
		Path:     job.path,
		At:       time.Now(),
	}
	if job.op == opMove {
		out.Path = job.oldPath
		out.DestPath = job.path
	}
	switch {
	case err != nil:
		out.Status = StatusFailed
		out.Reason = err.Error()
		log.Printf("syncer: task %q: %s %s failed: %v", e.cfg.Name, job.kind, job.path, err)
	case job.conflict:
		out.Status = StatusConflict
		out.Reason = job.reason
	default:
		out.Status = StatusSynced
	}
	e.logs.Emit(out)

	e.mu.Lock()
	e.lastAct = time.Now()
	e.mu.Unlock()
	e.status.Publish(e.Status())
}

// fillHash ensures meta.Hash is set, reusing the recorded fingerprint when
// size and mtime match the last observation.
func (e *Engine) fillHash(ep Endpoint, side Side, path string, meta *FileMeta) {
	prev := e.st.Meta(side, path)
	if prev != nil && prev.Hash != "" && prev.Size == meta.Size && prev.ModTime.Equal(meta.ModTime) {
		meta.Hash = prev.Hash
		return
	}
	hash, err := e.fingerprintOf(ep, path)
	if err == nil {
		meta.Hash = hash
	}
}

func (e *Engine) fingerprintOf(ep Endpoint, rel string) (string, error) {
	data, err := ep.Read(rel)
	if err != nil {
		return "", err
	}
	return eol.Fingerprint(rel, data, e.mode), nil
}

func (e *Engine) statWithHash(ep Endpoint, side Side, path string) (*FileMeta, error) {
	meta, err := ep.Stat(path)
	if err != nil || meta == nil {
		return meta, err
	}
	e.fillHash(ep, side, path, meta)
	return meta, nil
}

// onConnDown moves the task into degraded; watcher events are ignored until
// the reconciliation scan after reconnect.
func (e *Engine) onConnDown(err error) {
	select {
	case <-e.done:
		return
	default:
	}
	log.Printf("syncer: task %q degraded: %v", e.cfg.Name, err)
	e.setState(StateDegraded, err.Error())
}

// onConnUp restarts the remote change sources and reconciles everything that
// happened while degraded.
func (e *Engine) onConnUp() {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	select {
	case <-e.done:
		return
	default:
	}
	e.setState(StateScanning, "")

	for _, w := range e.remoteWatchers {
		w.Stop()
	}
	e.remoteWatchers = nil
	for _, p := range e.pollers {
		p.Stop()
	}
	e.pollers = nil

	if err := e.fullScan(); err != nil {
		e.setState(StateDegraded, err.Error())
		return
	}
	for side, conn := range e.conns {
		if !conn.Healthy() {
			continue
		}
		if e.oneWay() && side == SideB {
			continue
		}
		if err := e.startRemoteSource(side, e.endpointOf(side)); err != nil {
			e.setState(StateDegraded, err.Error())
			return
		}
	}
	e.setState(StateWatching, "")
	log.Printf("syncer: task %q reconciled after reconnect", e.cfg.Name)
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.epA.SweepRetention(e.cfg.TrashRetentionDays, e.cfg.BackupRetentionDays)
			e.epB.SweepRetention(e.cfg.TrashRetentionDays, e.cfg.BackupRetentionDays)
		}
	}
}
