// Package remote defines the contract between the reconciler and a remote storage backend.
package remote

import (
	"context"
	"time"
)

// Kind tells files and folders apart in a listing.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "dir"
)

// Entry is one item of a remote folder listing.
type Entry struct {
	// Name is the base name of the item.
	Name string
	// Path is the backend path that Delete and GetRemoteHash accept.
	Path string
	// RelPath is the slash separated path relative to the listed folder.
	RelPath string
	// Hash is the hex MD5 of the content. Empty for folders.
	Hash         string
	Kind         Kind
	Size         int64
	LastModified time.Time
}

func (e *Entry) IsFile() bool {
	return e.Kind == KindFile
}

// Store is a remote storage backend. Implementations must be safe for concurrent use.
type Store interface {
	// EnsureFolder returns nil if the folder exists or was created.
	EnsureFolder(ctx context.Context, path string) error
	// ListFolder returns the children of path. With recursive set it returns the whole subtree.
	ListFolder(ctx context.Context, path string, recursive bool) ([]*Entry, error)
	// GetRemoteHash returns the content hash of a single remote file, or ErrNotFound.
	GetRemoteHash(ctx context.Context, path string) (string, error)
	// Upload writes localPath to remotePath, overwriting any existing file.
	Upload(ctx context.Context, localPath string, remotePath string) error
	// Delete removes remotePath. Only a definitive deletion is reported as success.
	Delete(ctx context.Context, remotePath string) error
	// Name identifies the backend in logs.
	Name() string
}
