package syncer

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const moveCookieWindow = 500 * time.Millisecond

// remoteWatcher streams inotifywait output over a dedicated SSH session.
// When inotifywait is missing on the remote host the task falls back to
// snapshot polling instead.
type remoteWatcher struct {
	side   Side
	root   string
	filter *pathFilter
	conn   *Conn
	emit   func(ChangeEvent)

	mu      sync.Mutex
	session *ssh.Session
	done    chan struct{}
	wg      sync.WaitGroup

	// moved_from waiting for its moved_to partner
	pendingMove     string
	pendingMoveTime time.Time
}

func newRemoteWatcher(side Side, root string, filter *pathFilter, conn *Conn, emit func(ChangeEvent)) *remoteWatcher {
	return &remoteWatcher{
		side:   side,
		root:   root,
		filter: filter,
		conn:   conn,
		emit:   emit,
		done:   make(chan struct{}),
	}
}

// Probe reports whether inotifywait exists on the remote host.
func (w *remoteWatcher) Probe() (bool, error) {
	client, err := w.conn.Client()
	if err != nil {
		return false, err
	}
	session, err := client.NewSession()
	if err != nil {
		return false, transportError(err)
	}
	defer session.Close()
	out, err := session.CombinedOutput("command -v inotifywait")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// Start launches the event stream. The stream ending for any reason other
// than Stop is treated as a transport failure.
func (w *remoteWatcher) Start() error {
	client, err := w.conn.Client()
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return transportError(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return transportError(err)
	}
	cmd := fmt.Sprintf(
		"inotifywait -m -r -q -e create,close_write,modify,delete,moved_from,moved_to --format '%%e\t%%w%%f' %s",
		shellQuote(w.root),
	)
	if err := session.Start(cmd); err != nil {
		session.Close()
		return transportError(err)
	}

	w.mu.Lock()
	w.session = session
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			w.handleLine(scanner.Text())
		}
		select {
		case <-w.done:
			return
		default:
		}
		err := session.Wait()
		log.Printf("syncer: remote watch stream on %s ended: %v", w.root, err)
		if err == nil {
			err = fmt.Errorf("inotifywait stream closed")
		}
		w.conn.MarkFailure(err)
	}()
	return nil
}

func (w *remoteWatcher) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.mu.Lock()
	if w.session != nil {
		_ = w.session.Close()
		w.session = nil
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// handleLine parses one "EVENTS\t/abs/path" line from inotifywait.
func (w *remoteWatcher) handleLine(line string) {
	parts := strings.SplitN(line, "\t", 2)
	if len(parts) != 2 {
		return
	}
	events, abs := parts[0], parts[1]
	if strings.Contains(events, "ISDIR") {
		return
	}
	rel := relPosix(w.root, abs)
	if rel == "" || rel == abs || w.filter.Skip(rel, false) {
		return
	}
	now := time.Now()

	switch {
	case strings.Contains(events, "MOVED_FROM"):
		w.mu.Lock()
		w.pendingMove = rel
		w.pendingMoveTime = now
		w.mu.Unlock()
		// If no MOVED_TO follows, the file left the tree.
		time.AfterFunc(moveCookieWindow, func() { w.expireMove(rel) })
	case strings.Contains(events, "MOVED_TO"):
		w.mu.Lock()
		old := ""
		if w.pendingMove != "" && now.Sub(w.pendingMoveTime) <= moveCookieWindow {
			old = w.pendingMove
			w.pendingMove = ""
		}
		w.mu.Unlock()
		if old != "" {
			w.emit(ChangeEvent{Kind: EventMoved, Path: rel, OldPath: old, Side: w.side, At: now})
		} else {
			w.emit(ChangeEvent{Kind: EventCreated, Path: rel, Side: w.side, At: now})
		}
	case strings.Contains(events, "DELETE"):
		w.emit(ChangeEvent{Kind: EventDeleted, Path: rel, Side: w.side, At: now})
	case strings.Contains(events, "CREATE"):
		w.emit(ChangeEvent{Kind: EventCreated, Path: rel, Side: w.side, At: now})
	case strings.Contains(events, "CLOSE_WRITE"), strings.Contains(events, "MODIFY"):
		w.emit(ChangeEvent{Kind: EventModified, Path: rel, Side: w.side, At: now})
	}
}

func (w *remoteWatcher) expireMove(rel string) {
	w.mu.Lock()
	fire := w.pendingMove == rel
	if fire {
		w.pendingMove = ""
	}
	w.mu.Unlock()
	if fire {
		w.emit(ChangeEvent{Kind: EventDeleted, Path: rel, Side: w.side, At: time.Now()})
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
