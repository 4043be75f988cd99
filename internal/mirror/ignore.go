package mirror

import (
	"bufio"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/diskmirror/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

// IgnoreFileName is read from the root of the local directory.
const IgnoreFileName = ".mirrorignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	// partial copies left by the dir backend
	"*.diskmirror-tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// office lock files
	".~lock.*#",
}

// IgnoreList decides which local paths are not mirrored.
// Ignored paths are never uploaded and their remote counterparts are never deleted.
type IgnoreList struct {
	fs       afero.Fs
	baseDir  string
	excludes []string
	ignore   *gitignore.GitIgnore
	logger   *slog.Logger
}

// NewIgnoreList validates the exclude globs. Call Load before use.
func NewIgnoreList(fsys afero.Fs, baseDir string, excludes []string, logger *slog.Logger) (*IgnoreList, error) {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	return &IgnoreList{
		fs:       fsys,
		baseDir:  baseDir,
		excludes: excludes,
		logger:   utils.LoggerOrDefault(logger).With("component", "ignore"),
	}, nil
}

// Load compiles the defaults plus the rules in the ignore file, if there is one.
func (l *IgnoreList) Load() {
	ignorePath := filepath.Join(l.baseDir, IgnoreFileName)
	lines := append([]string{}, defaultIgnoreLines...)

	file, err := l.fs.Open(ignorePath)
	if err == nil {
		defer file.Close()

		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
			rules++
		}

		if err := scanner.Err(); err != nil {
			l.logger.Warn("error reading ignore file", "path", ignorePath, "error", err)
		} else {
			l.logger.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether the slash separated relative path is excluded.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	if l == nil {
		return false
	}
	relPath = utils.NormPath(relPath)

	for _, pattern := range l.excludes {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}

	if l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(relPath)
}

// shouldSkipDir also tries the trailing slash form so `dir/` rules prune the walk.
func (l *IgnoreList) shouldSkipDir(relPath string) bool {
	return l.ShouldIgnore(relPath) || (l != nil && l.ignore != nil && l.ignore.MatchesPath(utils.NormPath(relPath)+"/"))
}
