package s3store

import (
	"context"
	"sort"
	"testing"

	"github.com/openmined/diskmirror/internal/remote"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "Backup/a.txt", objectKey("/Backup/a.txt"))
	assert.Equal(t, "Backup/", folderPrefix("/Backup/"))
	assert.Equal(t, "", folderPrefix("/"))
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", trimETag(`"0CC175B9C0F1B6A831C399E269772661"`))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), &Options{})
	assert.ErrorIs(t, err, ErrNoBucket)
}

func TestStore_EnsureFolder(t *testing.T) {
	f := newFakeS3(t)
	s := f.store(t, afero.NewMemMapFs())
	ctx := context.Background()

	require.NoError(t, s.EnsureFolder(ctx, "/Backup"))
	assert.True(t, f.has("Backup/"))
	assert.Equal(t, 1, f.puts)

	// marker present now
	require.NoError(t, s.EnsureFolder(ctx, "/Backup"))
	assert.Equal(t, 1, f.puts)

	// implicit folder: keys exist under the prefix but no marker
	f.put("Photos/2024/x.jpg", "x")
	require.NoError(t, s.EnsureFolder(ctx, "/Photos"))
	assert.False(t, f.has("Photos/"))
}

func TestStore_ListFolder(t *testing.T) {
	f := newFakeS3(t)
	f.put("Backup/", "")
	f.put("Backup/a.txt", "a")
	f.put("Backup/docs/d.txt", "d")
	f.put("Other/z.txt", "z")
	s := f.store(t, afero.NewMemMapFs())
	ctx := context.Background()

	entries, err := s.ListFolder(ctx, "/Backup", false)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]*remote.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "a.txt")
	assert.Equal(t, remote.KindFile, byName["a.txt"].Kind)
	assert.Equal(t, "Backup/a.txt", byName["a.txt"].Path)
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", byName["a.txt"].Hash)
	require.Contains(t, byName, "docs")
	assert.Equal(t, remote.KindFolder, byName["docs"].Kind)

	entries, err = s.ListFolder(ctx, "/Backup", true)
	require.NoError(t, err)
	var rel []string
	for _, e := range entries {
		if e.IsFile() {
			rel = append(rel, e.RelPath)
		}
	}
	sort.Strings(rel)
	assert.Equal(t, []string{"a.txt", "docs/d.txt"}, rel)
}

func TestStore_UploadHashDelete(t *testing.T) {
	f := newFakeS3(t)
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/local/a.txt", []byte("hello"), 0o644))
	s := f.store(t, fsys)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "/local/a.txt", "/Backup/a.txt"))
	assert.True(t, f.has("Backup/a.txt"))

	hash, err := s.GetRemoteHash(ctx, "/Backup/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", hash)

	require.NoError(t, s.Delete(ctx, "/Backup/a.txt"))
	_, err = s.GetRemoteHash(ctx, "/Backup/a.txt")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestStore_Upload_MissingLocalFile(t *testing.T) {
	f := newFakeS3(t)
	s := f.store(t, afero.NewMemMapFs())

	err := s.Upload(context.Background(), "/local/gone.txt", "/Backup/gone.txt")
	assert.Equal(t, remote.OutcomeLocalFailure, remote.Classify(err))
	assert.Zero(t, f.puts)
}
