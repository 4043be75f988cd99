// Package localfs implements remote.Store on a directory tree, typically a mounted network share.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/spf13/afero"
)

const tempSuffix = ".diskmirror-tmp"

// Store keeps the mirror under Root on Target. Local files are read from Source.
type Store struct {
	root   string
	target afero.Fs
	source afero.Fs
	logger *slog.Logger
}

var _ remote.Store = (*Store)(nil)

type Options struct {
	// Root is prepended to every remote path.
	Root string
	// Target holds the mirror. Defaults to the OS filesystem.
	Target afero.Fs
	// Source is where local files are read from. Defaults to the OS filesystem.
	Source afero.Fs
	Logger *slog.Logger
}

func New(opts *Options) *Store {
	if opts == nil {
		opts = &Options{}
	}
	target := opts.Target
	if target == nil {
		target = afero.NewOsFs()
	}
	source := opts.Source
	if source == nil {
		source = afero.NewOsFs()
	}
	root := opts.Root
	if root == "" {
		root = "/"
	}

	return &Store{
		root:   filepath.Clean(root),
		target: target,
		source: source,
		logger: utils.LoggerOrDefault(opts.Logger).With("component", "localfs", "root", root),
	}
}

func (s *Store) Name() string {
	return "dir"
}

func (s *Store) abs(remotePath string) string {
	clean := path.Clean("/" + filepath.ToSlash(remotePath))
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

func (s *Store) EnsureFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.abs(folder)
	info, err := s.target.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return &remote.RemoteError{Op: "check folder", Path: folder, Status: 409, Message: "path is a file"}
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return remote.Unavailable("check folder", folder, err)
	}

	if err := s.target.MkdirAll(dir, 0o755); err != nil {
		return remote.Unavailable("create folder", folder, err)
	}
	s.logger.Info("remote folder created", "path", folder)
	return nil
}

func (s *Store) ListFolder(ctx context.Context, folder string, recursive bool) ([]*remote.Entry, error) {
	base := s.abs(folder)
	if _, err := s.target.Stat(base); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &remote.RemoteError{Op: "list folder", Path: folder, Status: 404, Message: "folder not found"}
		}
		return nil, remote.Unavailable("list folder", folder, err)
	}

	var entries []*remote.Entry
	err := afero.Walk(s.target, base, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == base {
			return nil
		}

		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = utils.NormPath(rel)
		remotePath := utils.JoinRemote(folder, rel)

		if info.IsDir() {
			entries = append(entries, &remote.Entry{
				Name:    info.Name(),
				Path:    remotePath,
				RelPath: rel,
				Kind:    remote.KindFolder,
			})
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasSuffix(info.Name(), tempSuffix) {
			return nil
		}

		hash, err := utils.FileHash(s.target, p)
		if err != nil {
			return err
		}
		entries = append(entries, &remote.Entry{
			Name:         info.Name(),
			Path:         remotePath,
			RelPath:      rel,
			Hash:         hash,
			Kind:         remote.KindFile,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, remote.Unavailable("list folder", folder, err)
	}

	return entries, nil
}

func (s *Store) GetRemoteHash(ctx context.Context, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p := s.abs(remotePath)
	info, err := s.target.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("get hash %s: %w", remotePath, remote.ErrNotFound)
		}
		return "", remote.Unavailable("get hash", remotePath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("get hash %s: %w", remotePath, remote.ErrNotFound)
	}

	hash, err := utils.FileHash(s.target, p)
	if err != nil {
		return "", remote.Unavailable("get hash", remotePath, err)
	}
	return hash, nil
}

// Upload copies into a temp file next to the destination and renames it into place.
func (s *Store) Upload(ctx context.Context, localPath string, remotePath string) error {
	src, err := s.source.Open(localPath)
	if err != nil {
		return &remote.LocalIOError{Path: localPath, Err: err}
	}
	defer src.Close()

	dst := s.abs(remotePath)
	if info, err := s.target.Stat(filepath.Dir(dst)); err != nil || !info.IsDir() {
		return &remote.RemoteError{Op: "upload", Path: remotePath, Status: 409, Message: "parent folder missing"}
	}

	tmp := dst + tempSuffix
	out, err := s.target.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return remote.Unavailable("upload", remotePath, err)
	}

	_, copyErr := io.Copy(out, &ctxReader{ctx: ctx, r: src})
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = s.target.Remove(tmp)
		if copyErr == nil {
			copyErr = closeErr
		}
		var readErr *sourceReadError
		if errors.As(copyErr, &readErr) {
			return &remote.LocalIOError{Path: localPath, Err: readErr.err}
		}
		if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return copyErr
		}
		return remote.Unavailable("upload", remotePath, copyErr)
	}

	if err := s.target.Rename(tmp, dst); err != nil {
		_ = s.target.Remove(tmp)
		return remote.Unavailable("upload", remotePath, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := s.abs(remotePath)
	info, err := s.target.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &remote.RemoteError{Op: "delete", Path: remotePath, Status: 404, Message: "not found"}
		}
		return remote.Unavailable("delete", remotePath, err)
	}
	if info.IsDir() {
		return &remote.RemoteError{Op: "delete", Path: remotePath, Status: 409, Message: "path is a folder"}
	}

	if err := s.target.Remove(p); err != nil {
		return remote.Unavailable("delete", remotePath, err)
	}
	return nil
}

type sourceReadError struct {
	err error
}

func (e *sourceReadError) Error() string { return e.err.Error() }

// ctxReader stops a copy when the context is done and tags read failures as local.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &sourceReadError{err: err}
	}
	return n, err
}
