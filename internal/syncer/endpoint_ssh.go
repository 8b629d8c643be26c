package syncer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/pkg/sftp"
)

// sftpEndpoint serves one remote side over the task's shared SSH connection.
// Remote paths are POSIX; all joins go through path, never filepath.
type sftpEndpoint struct {
	side   Side
	root   string
	filter *pathFilter
	conn   *Conn
}

func newSSHEndpoint(side Side, root string, filter *pathFilter, conn *Conn) *sftpEndpoint {
	return &sftpEndpoint{side: side, root: path.Clean(root), filter: filter, conn: conn}
}

func (e *sftpEndpoint) Side() Side   { return e.side }
func (e *sftpEndpoint) Kind() string { return "ssh" }
func (e *sftpEndpoint) Root() string { return e.root }

func (e *sftpEndpoint) Connect() error {
	if err := e.conn.Dial(); err != nil {
		return err
	}
	cli, err := e.conn.SFTP()
	if err != nil {
		return err
	}
	info, err := cli.Stat(e.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return configErrorf("remote root does not exist: %s", e.root)
		}
		return e.fail(err)
	}
	if !info.IsDir() {
		return configErrorf("remote root is not a directory: %s", e.root)
	}
	return nil
}

// Close is a no-op; the connection is owned by the task, not the endpoint.
func (e *sftpEndpoint) Close() error { return nil }

func (e *sftpEndpoint) abs(rel string) string {
	return path.Join(e.root, rel)
}

// fail classifies an operation error and kicks the reconnect loop for
// transport-level failures.
func (e *sftpEndpoint) fail(err error) error {
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return err
	}
	wrapped := transportError(err)
	e.conn.MarkFailure(err)
	return wrapped
}

func (e *sftpEndpoint) List() (map[string]FileMeta, error) {
	cli, err := e.conn.SFTP()
	if err != nil {
		return nil, err
	}
	out := make(map[string]FileMeta)
	walker := cli.Walk(e.root)
	for walker.Step() {
		if werr := walker.Err(); werr != nil {
			if errors.Is(werr, fs.ErrNotExist) {
				continue
			}
			return nil, e.fail(werr)
		}
		p := walker.Path()
		if p == e.root {
			continue
		}
		rel := relPosix(e.root, p)
		info := walker.Stat()
		if e.filter.Skip(rel, info.IsDir()) {
			if info.IsDir() {
				walker.SkipDir()
			}
			continue
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			continue
		}
		out[rel] = FileMeta{Size: info.Size(), ModTime: info.ModTime()}
	}
	return out, nil
}

func relPosix(root, p string) string {
	if p == root {
		return ""
	}
	if len(p) > len(root) && p[:len(root)] == root && p[len(root)] == '/' {
		return p[len(root)+1:]
	}
	return p
}

func (e *sftpEndpoint) Stat(rel string) (*FileMeta, error) {
	cli, err := e.conn.SFTP()
	if err != nil {
		return nil, err
	}
	info, err := cli.Stat(e.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, e.fail(err)
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return &FileMeta{Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (e *sftpEndpoint) Read(rel string) ([]byte, error) {
	cli, err := e.conn.SFTP()
	if err != nil {
		return nil, err
	}
	f, err := cli.Open(e.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, e.fail(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, e.fail(err)
	}
	return data, nil
}

func (e *sftpEndpoint) WriteAtomic(rel string, data []byte) error {
	cli, err := e.conn.SFTP()
	if err != nil {
		return err
	}
	dest := e.abs(rel)
	if err := cli.MkdirAll(path.Dir(dest)); err != nil {
		return e.fail(err)
	}
	tmp := fmt.Sprintf("%s.%d%s", dest, time.Now().UnixNano(), tmpSuffix)
	f, err := cli.Create(tmp)
	if err != nil {
		return e.fail(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = cli.Remove(tmp)
		return e.fail(err)
	}
	if err := f.Close(); err != nil {
		_ = cli.Remove(tmp)
		return e.fail(err)
	}
	if err := e.rename(cli, tmp, dest); err != nil {
		_ = cli.Remove(tmp)
		return e.fail(err)
	}
	return nil
}

// rename prefers posix-rename@openssh.com, which atomically replaces the
// destination; plain SFTP rename fails when the destination exists.
func (e *sftpEndpoint) rename(cli *sftp.Client, from, to string) error {
	if err := cli.PosixRename(from, to); err == nil {
		return nil
	}
	_ = cli.Remove(to)
	return cli.Rename(from, to)
}

func (e *sftpEndpoint) Delete(rel string) error {
	cli, err := e.conn.SFTP()
	if err != nil {
		return err
	}
	if err := cli.Remove(e.abs(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return e.fail(err)
	}
	return nil
}

func (e *sftpEndpoint) Rename(oldRel, newRel string) error {
	cli, err := e.conn.SFTP()
	if err != nil {
		return err
	}
	dest := e.abs(newRel)
	if err := cli.MkdirAll(path.Dir(dest)); err != nil {
		return e.fail(err)
	}
	if err := e.rename(cli, e.abs(oldRel), dest); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *sftpEndpoint) MoveToTrash(rel, stamp string) error {
	cli, err := e.conn.SFTP()
	if err != nil {
		return err
	}
	src := e.abs(rel)
	if _, err := cli.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	dest := path.Join(e.root, trashDirName, stamp, rel)
	if err := cli.MkdirAll(path.Dir(dest)); err != nil {
		return e.fail(err)
	}
	if err := e.rename(cli, src, dest); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *sftpEndpoint) Backup(rel, stamp string) error {
	cli, err := e.conn.SFTP()
	if err != nil {
		return err
	}
	src := e.abs(rel)
	if _, err := cli.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	dest := path.Join(e.root, backupDirName, stamp, rel)
	if err := cli.MkdirAll(path.Dir(dest)); err != nil {
		return e.fail(err)
	}
	in, err := cli.Open(src)
	if err != nil {
		return e.fail(err)
	}
	defer in.Close()
	out, err := cli.Create(dest)
	if err != nil {
		return e.fail(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return e.fail(err)
	}
	if err := out.Close(); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *sftpEndpoint) SweepRetention(trashDays, backupDays int) {
	cli, err := e.conn.SFTP()
	if err != nil {
		return
	}
	now := time.Now()
	if trashDays > 0 {
		e.sweepStamped(cli, path.Join(e.root, trashDirName), trashDays, now)
	}
	if backupDays > 0 {
		e.sweepStamped(cli, path.Join(e.root, backupDirName), backupDays, now)
	}
}

func (e *sftpEndpoint) sweepStamped(cli *sftp.Client, base string, retentionDays int, now time.Time) {
	entries, err := cli.ReadDir(base)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stamp, ok := parseStamp(entry.Name())
		if !ok {
			stamp = entry.ModTime()
		}
		if now.Sub(stamp) >= time.Duration(retentionDays)*24*time.Hour {
			_ = cli.RemoveAll(path.Join(base, entry.Name()))
		}
	}
}
