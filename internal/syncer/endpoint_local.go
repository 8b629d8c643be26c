package syncer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type localEndpoint struct {
	side   Side
	root   string
	filter *pathFilter
}

func newLocalEndpoint(side Side, root string, filter *pathFilter) *localEndpoint {
	return &localEndpoint{side: side, root: filepath.Clean(root), filter: filter}
}

func (e *localEndpoint) Side() Side   { return e.side }
func (e *localEndpoint) Kind() string { return "local" }
func (e *localEndpoint) Root() string { return e.root }

func (e *localEndpoint) Connect() error {
	info, err := os.Stat(e.root)
	if err != nil {
		return configErrorf("local root not accessible: %s: %v", e.root, err)
	}
	if !info.IsDir() {
		return configErrorf("local root is not a directory: %s", e.root)
	}
	return nil
}

func (e *localEndpoint) Close() error { return nil }

func (e *localEndpoint) abs(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func (e *localEndpoint) List() (map[string]FileMeta, error) {
	out := make(map[string]FileMeta)
	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, relErr := filepath.Rel(e.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if e.filter.Skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		out[rel] = FileMeta{Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *localEndpoint) Stat(rel string) (*FileMeta, error) {
	info, err := os.Stat(e.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return &FileMeta{Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (e *localEndpoint) Read(rel string) ([]byte, error) {
	return os.ReadFile(e.abs(rel))
}

func (e *localEndpoint) WriteAtomic(rel string, data []byte) error {
	dest := e.abs(rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d%s", dest, time.Now().UnixNano(), tmpSuffix)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (e *localEndpoint) Delete(rel string) error {
	err := os.Remove(e.abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (e *localEndpoint) Rename(oldRel, newRel string) error {
	dest := e.abs(newRel)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.Rename(e.abs(oldRel), dest)
}

func (e *localEndpoint) MoveToTrash(rel, stamp string) error {
	src := e.abs(rel)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	dest := filepath.Join(e.root, trashDirName, stamp, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// Rename can fail across filesystems; fall back to copy + delete.
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func (e *localEndpoint) Backup(rel, stamp string) error {
	src := e.abs(rel)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	dest := filepath.Join(e.root, backupDirName, stamp, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return copyFile(src, dest)
}

func (e *localEndpoint) SweepRetention(trashDays, backupDays int) {
	now := time.Now()
	if trashDays > 0 {
		sweepStampedDir(filepath.Join(e.root, trashDirName), trashDays, now)
	}
	if backupDays > 0 {
		sweepStampedDir(filepath.Join(e.root, backupDirName), backupDays, now)
	}
}

func sweepStampedDir(base string, retentionDays int, now time.Time) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stamp, ok := parseStamp(entry.Name())
		if !ok {
			if info, infoErr := entry.Info(); infoErr == nil {
				stamp = info.ModTime()
			} else {
				continue
			}
		}
		if now.Sub(stamp) >= time.Duration(retentionDays)*24*time.Hour {
			_ = os.RemoveAll(filepath.Join(base, entry.Name()))
		}
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
