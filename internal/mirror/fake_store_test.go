package mirror

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/spf13/afero"
)

// fakeStore is an in-memory remote.Store that records every call.
type fakeStore struct {
	mu      sync.Mutex
	local   afero.Fs
	files   map[string]string // remote path -> md5
	folders map[string]bool

	calls []string

	listErr    error
	staleList  []*remote.Entry
	hashErr    map[string]error
	uploadErr  map[string]error
	deleteErr  map[string]error
	ensureErr  map[string]error
	listGate   chan struct{}
	listCalled chan struct{}
}

func newFakeStore(local afero.Fs, root string) *fakeStore {
	return &fakeStore{
		local:     local,
		files:     map[string]string{},
		folders:   map[string]bool{root: true},
		hashErr:   map[string]error{},
		uploadErr: map[string]error{},
		deleteErr: map[string]error{},
		ensureErr: map[string]error{},
	}
}

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) record(op string, p string) {
	f.calls = append(f.calls, op+" "+p)
}

func (f *fakeStore) put(p string, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum, _ := utils.ReaderHash(strings.NewReader(content))
	f.files[p] = sum
	for d := path.Dir(p); d != "/" && d != "."; d = path.Dir(d) {
		f.folders[d] = true
	}
}

func (f *fakeStore) EnsureFolder(_ context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ensure", p)
	if err := f.ensureErr[p]; err != nil {
		return err
	}
	f.folders[p] = true
	return nil
}

func (f *fakeStore) ListFolder(ctx context.Context, folder string, recursive bool) ([]*remote.Entry, error) {
	if f.listCalled != nil {
		close(f.listCalled)
	}
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list", folder)
	if f.listErr != nil {
		return nil, f.listErr
	}
	if !f.folders[folder] {
		return nil, &remote.RemoteError{Op: "list folder", Path: folder, Status: 404}
	}
	if f.staleList != nil {
		return f.staleList, nil
	}

	prefix := strings.TrimSuffix(folder, "/") + "/"
	var entries []*remote.Entry
	for p, hash := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := strings.TrimPrefix(p, prefix)
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		entries = append(entries, &remote.Entry{Name: path.Base(p), Path: p, RelPath: rel, Hash: hash, Kind: remote.KindFile})
	}
	for p := range f.folders {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := strings.TrimPrefix(p, prefix)
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		entries = append(entries, &remote.Entry{Name: path.Base(p), Path: p, RelPath: rel, Kind: remote.KindFolder})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (f *fakeStore) GetRemoteHash(_ context.Context, p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("hash", p)
	if err := f.hashErr[p]; err != nil {
		return "", err
	}
	hash, ok := f.files[p]
	if !ok {
		return "", fmt.Errorf("get hash %s: %w", p, remote.ErrNotFound)
	}
	return hash, nil
}

func (f *fakeStore) Upload(_ context.Context, localPath string, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upload", remotePath)
	if err := f.uploadErr[remotePath]; err != nil {
		return err
	}
	if !f.folders[path.Dir(remotePath)] {
		return &remote.RemoteError{Op: "upload", Path: remotePath, Status: 409, Message: "parent missing"}
	}
	hash, err := remote.ComputeLocalHash(f.local, localPath)
	if err != nil {
		return err
	}
	f.files[remotePath] = hash
	return nil
}

func (f *fakeStore) Delete(_ context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete", p)
	if err := f.deleteErr[p]; err != nil {
		return err
	}
	if _, ok := f.files[p]; !ok {
		return &remote.RemoteError{Op: "delete", Path: p, Status: 404}
	}
	delete(f.files, p)
	return nil
}

// mutations returns upload and delete calls only.
func (f *fakeStore) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "upload ") || strings.HasPrefix(c, "delete ") {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeStore) callsOf(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, op+" ") {
			out = append(out, strings.TrimPrefix(c, op+" "))
		}
	}
	return out
}

func (f *fakeStore) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeStore) snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.files))
	for k, v := range f.files {
		out[k] = v
	}
	return out
}
