package utils

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ResolvePath expands a leading `~` and returns a clean absolute path.
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("path cannot be empty")
	}

	if strings.HasPrefix(p, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		p = strings.Replace(p, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(p string) error {
	return EnsureDir(filepath.Dir(p))
}

func EnsureDir(p string) error {
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.MkdirAll(p, 0o755)
}

func DirExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// NormPath converts an OS relative path into the slash separated form used for remote keys.
func NormPath(rel string) string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	return strings.TrimPrefix(rel, "./")
}

// JoinRemote joins a remote folder with a slash separated relative path.
// Scheme-like prefixes such as `disk:` are left untouched.
func JoinRemote(folder string, rel string) string {
	rel = strings.TrimPrefix(NormPath(rel), "/")
	if rel == "" || rel == "." {
		return folder
	}
	if folder == "" || folder == "/" {
		return "/" + rel
	}
	if strings.HasSuffix(folder, "/") {
		return folder + rel
	}
	return folder + "/" + path.Clean(rel)
}
