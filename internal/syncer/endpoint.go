package syncer

import (
	"time"

	"github.com/mycoool/tongbu/internal/types"
)

// Endpoint is the capability surface the orchestrator and transfer engine use
// for one side of a task. Two implementations exist: local filesystem and
// SFTP over a pooled SSH connection, selected once at task start.
type Endpoint interface {
	Side() Side
	Kind() string // "local" | "ssh"
	Root() string

	Connect() error
	Close() error

	// List walks the whole tree and returns rel path -> size/mtime metadata.
	// Hashes are not computed during listing.
	List() (map[string]FileMeta, error)
	// Stat returns nil, nil when the path does not exist.
	Stat(rel string) (*FileMeta, error)
	Read(rel string) ([]byte, error)
	// WriteAtomic stages content into a temp file next to the destination and
	// renames it into place, so a reader never observes a partial file.
	WriteAtomic(rel string, data []byte) error
	Delete(rel string) error
	Rename(oldRel, newRel string) error

	// MoveToTrash relocates the current content into the task trash directory
	// under the given stamp. Missing files are a no-op.
	MoveToTrash(rel, stamp string) error
	// Backup copies the current content into the task backup directory.
	Backup(rel, stamp string) error
	// SweepRetention purges trash/backup stamp directories older than the
	// given retention windows (days; <=0 disables that sweep).
	SweepRetention(trashDays, backupDays int)
}

const stampLayout = "20060102_150405"

// Stamp formats a trash/backup directory name.
func Stamp(t time.Time) string {
	return t.Format(stampLayout)
}

func parseStamp(name string) (time.Time, bool) {
	t, err := time.ParseInLocation(stampLayout, name, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// newEndpoint builds the endpoint implementation for one configured side.
// SSH endpoints share the task connection passed in.
func newEndpoint(side Side, cfg types.EndpointConfig, filter *pathFilter, conn *Conn) (Endpoint, error) {
	switch cfg.Type {
	case "local":
		return newLocalEndpoint(side, cfg.Path, filter), nil
	case "ssh":
		if conn == nil {
			return nil, configErrorf("ssh endpoint %s has no connection", side)
		}
		return newSSHEndpoint(side, cfg.Path, filter, conn), nil
	default:
		return nil, configErrorf("unsupported endpoint type: %s", cfg.Type)
	}
}
