package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/sftp"

	"pkt.systems/cortex/schema"
)

// MaxReadSize bounds remote file reads.
const MaxReadSize = 64 << 20

func (s *Session) sftpClient() (*sftp.Client, uint64, error) {
	client, gen, err := s.current()
	if err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	if s.sftp != nil && s.gen == gen {
		c := s.sftp
		s.mu.Unlock()
		return c, gen, nil
	}
	s.mu.Unlock()
	c, err := sftp.NewClient(client)
	if err != nil {
		if isTransportErr(err) {
			return nil, 0, s.opErr(gen, err)
		}
		return nil, 0, schema.Unsupported("sftp on this host")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.closed {
		_ = c.Close()
		return nil, 0, schema.TransportClosed(nil)
	}
	if s.sftp != nil {
		_ = c.Close()
		return s.sftp, gen, nil
	}
	s.sftp = c
	return c, gen, nil
}

// fsErr maps an SFTP error for p into the taxonomy.
func (s *Session) fsErr(gen uint64, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return schema.NotFound("remote path", p)
	case errors.Is(err, os.ErrPermission):
		return schema.IO(err)
	case isTransportErr(err):
		return s.opErr(gen, err)
	default:
		return schema.IO(err)
	}
}

// dropSFTP closes c and forgets it when it is still the session's client.
func (s *Session) dropSFTP(c *sftp.Client) {
	s.mu.Lock()
	if s.sftp == c {
		s.sftp = nil
	}
	s.mu.Unlock()
	_ = c.Close()
}

// sftpOp is one SFTP call bound to the client it runs on.
type sftpOp struct {
	s   *Session
	c   *sftp.Client
	gen uint64

	mu        sync.Mutex
	abandoned bool
}

// err maps err for p. Failures on a client dropped by a cancelled call are
// reported as TransportClosed without failing the session.
func (op *sftpOp) err(p string, err error) error {
	if err == nil {
		return nil
	}
	op.s.mu.Lock()
	dropped := op.s.sftp != op.c
	op.s.mu.Unlock()
	if dropped && isTransportErr(err) {
		return schema.TransportClosed(err)
	}
	return op.s.fsErr(op.gen, p, err)
}

// withSFTP runs fn on the session's SFTP client and returns when fn does or
// ctx ends. A cancelled call closes and drops the client so the stalled
// request unblocks; the next call opens a fresh one.
func withSFTP[T any](ctx context.Context, s *Session, fn func(op *sftpOp) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, schema.FromContext(err)
	}
	op := &sftpOp{s: s}
	done := make(chan result, 1)
	go func() {
		c, gen, err := s.sftpClient()
		if err != nil {
			done <- result{err: err}
			return
		}
		op.mu.Lock()
		if op.abandoned {
			op.mu.Unlock()
			return
		}
		op.c, op.gen = c, gen
		op.mu.Unlock()
		v, err := fn(op)
		done <- result{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		op.mu.Lock()
		op.abandoned = true
		c := op.c
		op.mu.Unlock()
		if c != nil {
			s.dropSFTP(c)
		}
		s.logger.Debug("ssh sftp call abandoned", "err", ctx.Err())
		return zero, schema.FromContext(ctx.Err())
	}
}

func entryFrom(dir string, info fs.FileInfo) schema.RemoteEntry {
	return schema.RemoteEntry{
		Name:        info.Name(),
		Path:        path.Join(dir, info.Name()),
		IsDirectory: info.IsDir(),
		IsSymlink:   info.Mode()&fs.ModeSymlink != 0,
		Size:        info.Size(),
		Modified:    schema.UnixSeconds(info.ModTime()),
		Permissions: uint32(info.Mode().Perm()),
	}
}

// ListDir lists a remote directory, directories first.
func (s *Session) ListDir(ctx context.Context, p string) ([]schema.RemoteEntry, error) {
	dir := s.resolve(p)
	out, err := withSFTP(ctx, s, func(op *sftpOp) ([]schema.RemoteEntry, error) {
		infos, err := op.c.ReadDir(dir)
		if err != nil {
			return nil, op.err(dir, err)
		}
		out := make([]schema.RemoteEntry, 0, len(infos))
		for _, info := range infos {
			entry := entryFrom(dir, info)
			if entry.IsSymlink {
				if target, err := op.c.Stat(entry.Path); err == nil {
					entry.IsDirectory = target.IsDir()
				}
			}
			out = append(out, entry)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDirectory != out[j].IsDirectory {
			return out[i].IsDirectory
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Stat describes one remote path.
func (s *Session) Stat(ctx context.Context, p string) (schema.RemoteEntry, error) {
	full := s.resolve(p)
	return withSFTP(ctx, s, func(op *sftpOp) (schema.RemoteEntry, error) {
		info, err := op.c.Lstat(full)
		if err != nil {
			return schema.RemoteEntry{}, op.err(full, err)
		}
		entry := entryFrom(path.Dir(full), info)
		entry.Path = full
		if entry.IsSymlink {
			if target, err := op.c.Stat(full); err == nil {
				entry.IsDirectory = target.IsDir()
			}
		}
		return entry, nil
	})
}

// ReadFile reads a remote file.
func (s *Session) ReadFile(ctx context.Context, p string) ([]byte, error) {
	full := s.resolve(p)
	return withSFTP(ctx, s, func(op *sftpOp) ([]byte, error) {
		f, err := op.c.Open(full)
		if err != nil {
			return nil, op.err(full, err)
		}
		defer func() { _ = f.Close() }()
		data, err := io.ReadAll(io.LimitReader(f, MaxReadSize+1))
		if err != nil {
			return nil, op.err(full, err)
		}
		if len(data) > MaxReadSize {
			return nil, schema.BadArgument("path", "remote file is larger than the read limit")
		}
		return data, nil
	})
}

// ReadText reads a remote file that must be valid UTF-8.
func (s *Session) ReadText(ctx context.Context, p string) (string, error) {
	data, err := s.ReadFile(ctx, p)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", schema.BadArgument("path", "file is not valid UTF-8 text")
	}
	return string(data), nil
}

// WriteFile creates or truncates a remote file with data.
func (s *Session) WriteFile(ctx context.Context, p string, data []byte) error {
	full := s.resolve(p)
	_, err := withSFTP(ctx, s, func(op *sftpOp) (struct{}, error) {
		f, err := op.c.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return struct{}{}, op.err(full, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return struct{}{}, op.err(full, err)
		}
		return struct{}{}, op.err(full, f.Close())
	})
	return err
}

// CreateDir creates a remote directory, with parents when recursive.
func (s *Session) CreateDir(ctx context.Context, p string, recursive bool) error {
	full := s.resolve(p)
	_, err := withSFTP(ctx, s, func(op *sftpOp) (struct{}, error) {
		if recursive {
			return struct{}{}, op.err(full, op.c.MkdirAll(full))
		}
		return struct{}{}, op.err(full, op.c.Mkdir(full))
	})
	return err
}

// Delete removes a remote file or directory. A recursive directory delete
// runs rm -rf on POSIX hosts.
func (s *Session) Delete(ctx context.Context, p string, recursive bool) error {
	full := s.resolve(p)
	if clean := path.Clean(full); clean == "/" || clean == "." || strings.TrimSpace(full) == "" {
		return schema.BadArgument("path", "refusing to delete "+full)
	}
	s.mu.Lock()
	platform := s.platform
	s.mu.Unlock()
	removed, err := withSFTP(ctx, s, func(op *sftpOp) (bool, error) {
		info, err := op.c.Lstat(full)
		if err != nil {
			return false, op.err(full, err)
		}
		if !info.IsDir() {
			return true, op.err(full, op.c.Remove(full))
		}
		if !recursive {
			return true, op.err(full, op.c.RemoveDirectory(full))
		}
		if err := op.c.RemoveDirectory(full); err == nil {
			return true, nil
		}
		if isWindowsPlatform(platform) {
			return true, op.err(full, op.c.RemoveAll(full))
		}
		return false, nil
	})
	if err != nil || removed {
		return err
	}
	res, err := s.Exec(ctx, "rm -rf -- "+ShellQuote(full))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return schema.Remote("rm", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Rename moves a remote path, replacing the target when the server
// supports posix-rename.
func (s *Session) Rename(ctx context.Context, from, to string) error {
	src, dst := s.resolve(from), s.resolve(to)
	_, err := withSFTP(ctx, s, func(op *sftpOp) (struct{}, error) {
		if _, ok := op.c.HasExtension("posix-rename@openssh.com"); ok {
			return struct{}{}, op.err(src, op.c.PosixRename(src, dst))
		}
		return struct{}{}, op.err(src, op.c.Rename(src, dst))
	})
	return err
}
