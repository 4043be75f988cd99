package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/spf13/afero"
)

// LocalFile is one regular file found under the local root during a pass.
type LocalFile struct {
	// RelPath is slash separated and relative to the local root.
	RelPath string
	AbsPath string
	Size    int64
	ModTime time.Time
	Hash    string
}

// Name is the base name used as key in name match mode.
func (f *LocalFile) Name() string {
	return path.Base(f.RelPath)
}

// SkippedFile is a local file that could not be read this pass.
type SkippedFile struct {
	RelPath string
	// Dir is set when a whole directory could not be read.
	Dir bool
	Err error
}

// Scanner walks the local root and hashes every file on every pass.
type Scanner struct {
	fs     afero.Fs
	root   string
	ignore *IgnoreList
	logger *slog.Logger
}

func NewScanner(fsys afero.Fs, root string, ignore *IgnoreList, logger *slog.Logger) *Scanner {
	return &Scanner{
		fs:     fsys,
		root:   root,
		ignore: ignore,
		logger: utils.LoggerOrDefault(logger),
	}
}

// ScanResult holds the outcome of one walk, sorted by relative path.
type ScanResult struct {
	Files   []*LocalFile
	Skipped []*SkippedFile
	Ignored []string
}

// Scan fails only when the root itself cannot be walked. Per-file failures end up in Skipped.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	res := &ScanResult{}

	err := afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p == s.root {
			if walkErr != nil {
				return &remote.LocalIOError{Path: p, Err: walkErr}
			}
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rel = utils.NormPath(rel)

		if walkErr != nil {
			s.logger.Warn("cannot read local path", "path", rel, "error", walkErr)
			isDir := info != nil && info.IsDir()
			res.Skipped = append(res.Skipped, &SkippedFile{RelPath: rel, Dir: isDir, Err: &remote.LocalIOError{Path: p, Err: walkErr}})
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if s.ignore.shouldSkipDir(rel) {
				res.Ignored = append(res.Ignored, rel+"/")
				return filepath.SkipDir
			}
			return nil
		}

		if s.ignore.ShouldIgnore(rel) {
			res.Ignored = append(res.Ignored, rel)
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := s.fs.Stat(p)
			if err != nil {
				s.logger.Warn("broken symlink", "path", rel, "error", err)
				res.Skipped = append(res.Skipped, &SkippedFile{RelPath: rel, Err: &remote.LocalIOError{Path: p, Err: err}})
				return nil
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			s.logger.Debug("not a regular file", "path", rel, "mode", info.Mode())
			return nil
		}

		hash, err := remote.ComputeLocalHash(s.fs, p)
		if err != nil {
			s.logger.Warn("cannot hash local file", "path", rel, "error", err)
			res.Skipped = append(res.Skipped, &SkippedFile{RelPath: rel, Err: err})
			return nil
		}

		res.Files = append(res.Files, &LocalFile{
			RelPath: rel,
			AbsPath: p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Hash:    hash,
		})
		return nil
	})
	if err != nil {
		var localErr *remote.LocalIOError
		if errors.As(err, &localErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("local scan: %w", err)
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].RelPath < res.Files[j].RelPath })
	return res, nil
}
