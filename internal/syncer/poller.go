package syncer

import (
	"log"
	"sync"
	"time"
)

const defaultPollInterval = 1500 * time.Millisecond

// poller watches an endpoint without notification support by diffing full
// tree listings on a fixed interval.
type poller struct {
	ep       Endpoint
	interval time.Duration
	emit     func(ChangeEvent)

	prev map[string]FileMeta
	done chan struct{}
	wg   sync.WaitGroup
}

func newPoller(ep Endpoint, interval time.Duration, emit func(ChangeEvent)) *poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &poller{ep: ep, interval: interval, emit: emit, done: make(chan struct{})}
}

// Start takes the baseline listing and begins the poll loop. Entries present
// at baseline are not reported; the scan phase already reconciled them.
func (p *poller) Start() error {
	snap, err := p.ep.List()
	if err != nil {
		return err
	}
	p.prev = snap
	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *poller) Stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.wg.Wait()
}

func (p *poller) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *poller) tick() {
	cur, err := p.ep.List()
	if err != nil {
		// Transport errors already kicked the reconnect path inside the
		// endpoint; keep the previous snapshot so nothing is reported twice.
		log.Printf("syncer: poll listing on %s failed: %v", p.ep.Root(), err)
		return
	}
	now := time.Now()
	for rel, meta := range cur {
		old, existed := p.prev[rel]
		switch {
		case !existed:
			p.emit(ChangeEvent{Kind: EventCreated, Path: rel, Side: p.ep.Side(), At: now})
		case meta.Size != old.Size || !meta.ModTime.Equal(old.ModTime):
			p.emit(ChangeEvent{Kind: EventModified, Path: rel, Side: p.ep.Side(), At: now})
		}
	}
	for rel := range p.prev {
		if _, ok := cur[rel]; !ok {
			p.emit(ChangeEvent{Kind: EventDeleted, Path: rel, Side: p.ep.Side(), At: now})
		}
	}
	p.prev = cur
}
