package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/mycoool/tongbu/internal/types"
)

// Side identifies one endpoint of a task.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// EventKind change event type
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
	EventMoved    EventKind = "moved"
)

// ChangeEvent a raw or coalesced filesystem change on one side.
type ChangeEvent struct {
	Kind    EventKind `json:"kind"`
	Path    string    `json:"path"`              // relative, slash-separated
	OldPath string    `json:"oldPath,omitempty"` // moved only
	Side    Side      `json:"side"`
	At      time.Time `json:"at"`
}

// FileMeta size/mtime/fingerprint snapshot of one path on one endpoint.
type FileMeta struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	Hash    string    `json:"hash,omitempty"` // fingerprint after EOL normalization
}

// Outcome statuses forwarded to the log sink.
const (
	StatusSynced   = "synced"
	StatusSkipped  = "skipped"
	StatusConflict = "conflict"
	StatusFailed   = "failed"
)

// Outcome result of one attempted path sync.
type Outcome struct {
	TaskID   uint      `json:"taskId"`
	TaskName string    `json:"taskName"`
	Kind     EventKind `json:"kind"`
	Path     string    `json:"path"`
	DestPath string    `json:"destPath,omitempty"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// LogSink receives sync outcomes; the engine never stores them itself.
type LogSink interface {
	Emit(outcome Outcome)
}

// StatusSink receives task runtime status transitions.
type StatusSink interface {
	Publish(status types.TaskRuntimeStatus)
}

// nopSink is used when no sink is wired (tests).
type nopSink struct{}

func (nopSink) Emit(Outcome)                    {}
func (nopSink) Publish(types.TaskRuntimeStatus) {}

// Error taxonomy. Per-path transfer failures never halt a task; only
// configuration and connection level failures change task state.
var (
	ErrConfig    = errors.New("invalid sync configuration")
	ErrAuth      = errors.New("authentication failed")
	ErrTransport = errors.New("transport failure")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func transportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// IsRetryable reports whether an operation failure should be re-queued with
// backoff. Auth failures are terminal; transport failures are retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) && !errors.Is(err, ErrAuth)
}
