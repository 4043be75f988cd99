package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/openmined/diskmirror/internal/remote/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirror_DirBackendEndToEnd(t *testing.T) {
	ctx := context.Background()
	local := afero.NewMemMapFs()
	share := afero.NewMemMapFs()
	require.NoError(t, local.MkdirAll(localRoot, 0o755))
	writeLocal(t, local, "a.txt", "hello")
	writeLocal(t, local, "docs/b.txt", "b")
	writeLocal(t, local, "docs/deep/c.txt", "c")

	store := localfs.New(&localfs.Options{Root: "/share", Target: share, Source: local})
	m, err := New(&Options{Store: store, LocalDir: localRoot, RemoteDir: remoteRoot, Fs: local, Workers: 2})
	require.NoError(t, err)
	require.NoError(t, m.EnsureRemoteFolder(ctx))

	result, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Uploaded())

	assertShareFile(t, share, "/share/Backup/a.txt", "hello")
	assertShareFile(t, share, "/share/Backup/docs/deep/c.txt", "c")

	// edit, delete and add
	writeLocal(t, local, "a.txt", "hello again")
	require.NoError(t, local.Remove(localRoot+"/docs/b.txt"))
	writeLocal(t, local, "new.txt", "new")

	result, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Uploaded())
	assert.Equal(t, 1, result.Deleted())
	assertShareFile(t, share, "/share/Backup/a.txt", "hello again")
	exists, err := afero.Exists(share, "/share/Backup/docs/b.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	result, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, result.Plan.HasChanges())
	assert.Len(t, result.Plan.UpToDate, 3)
}

func TestMirror_SameSizeEditWithPreservedModTime(t *testing.T) {
	ctx := context.Background()
	local := afero.NewMemMapFs()
	share := afero.NewMemMapFs()
	require.NoError(t, local.MkdirAll(localRoot, 0o755))

	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	writeLocal(t, local, "a.txt", "hello")
	require.NoError(t, local.Chtimes(localRoot+"/a.txt", mtime, mtime))

	store := localfs.New(&localfs.Options{Root: "/share", Target: share, Source: local})
	m, err := New(&Options{Store: store, LocalDir: localRoot, RemoteDir: remoteRoot, Fs: local})
	require.NoError(t, err)
	require.NoError(t, m.EnsureRemoteFolder(ctx))

	_, err = m.Sync(ctx)
	require.NoError(t, err)
	assertShareFile(t, share, "/share/Backup/a.txt", "hello")

	// restored with the original timestamp, like tar x or cp -p
	writeLocal(t, local, "a.txt", "world")
	require.NoError(t, local.Chtimes(localRoot+"/a.txt", mtime, mtime))

	result, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded())
	assert.Empty(t, result.Plan.UpToDate)
	assertShareFile(t, share, "/share/Backup/a.txt", "world")
}

func assertShareFile(t *testing.T, fsys afero.Fs, p string, want string) {
	t.Helper()
	data, err := afero.ReadFile(fsys, p)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}
