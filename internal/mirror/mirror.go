// Package mirror keeps a remote folder equal to a local directory.
// Each pass lists both sides, plans uploads and deletes by content hash and applies the plan.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/diskmirror/internal/config"
	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/spf13/afero"
)

// Options configures a Mirror.
type Options struct {
	Store     remote.Store
	LocalDir  string
	RemoteDir string
	// Match is config.MatchPath (default) or config.MatchName.
	Match string
	// Workers bounds parallel uploads and deletes. 1 applies the plan sequentially.
	Workers int
	// Fs is where the local directory lives. Defaults to the OS filesystem.
	Fs afero.Fs
	// Ignore overrides the ignore list built from LocalDir and Exclude.
	Ignore  *IgnoreList
	Exclude []string
	Logger  *slog.Logger
}

// Mirror reconciles one local directory with one remote folder.
type Mirror struct {
	store     remote.Store
	localDir  string
	remoteDir string
	match     string
	workers   int
	fs        afero.Fs
	ignore    *IgnoreList
	scanner   *Scanner
	logger    *slog.Logger
	muSync    sync.Mutex
}

func New(opts *Options) (*Mirror, error) {
	if opts == nil || opts.Store == nil {
		return nil, errors.New("mirror: store is required")
	}
	if opts.LocalDir == "" || opts.RemoteDir == "" {
		return nil, errors.New("mirror: local and remote directories are required")
	}

	match := opts.Match
	if match == "" {
		match = config.MatchPath
	}
	if match != config.MatchPath && match != config.MatchName {
		return nil, fmt.Errorf("mirror: unknown match mode %q", match)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	logger := utils.LoggerOrDefault(opts.Logger).With("component", "mirror")

	ignore := opts.Ignore
	if ignore == nil {
		var err error
		ignore, err = NewIgnoreList(fsys, opts.LocalDir, opts.Exclude, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("mirror: %w", err)
		}
		ignore.Load()
	}

	return &Mirror{
		store:     opts.Store,
		localDir:  opts.LocalDir,
		remoteDir: opts.RemoteDir,
		match:     match,
		workers:   workers,
		fs:        fsys,
		ignore:    ignore,
		scanner:   NewScanner(fsys, opts.LocalDir, ignore, logger),
		logger:    logger,
	}, nil
}

// EnsureRemoteFolder creates the remote root if it does not exist.
func (m *Mirror) EnsureRemoteFolder(ctx context.Context) error {
	if err := m.store.EnsureFolder(ctx, m.remoteDir); err != nil {
		return fmt.Errorf("ensure remote folder %s: %w", m.remoteDir, err)
	}
	return nil
}

// Sync runs one pass. Per-file failures are reported in the Result, not as an error.
// A *PassError is returned when the pass could not plan: the remote listing or local scan failed.
func (m *Mirror) Sync(ctx context.Context) (*Result, error) {
	if !m.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer m.muSync.Unlock()

	passID := uuid.NewString()[:8]
	logger := m.logger.With("pass", passID)
	result := &Result{PassID: passID, Started: time.Now()}
	defer func() { result.Duration = time.Since(result.Started) }()

	// refresh ignore rules from disk every pass
	m.ignore.Load()

	tRemote := time.Now()
	listing, err := m.listRemote(ctx, logger)
	if err != nil {
		logger.Debug("remote listing failed, skipping pass", "error", err)
		return result, &PassError{PassID: passID, Stage: "list remote", Err: err}
	}
	tRemoteState := time.Since(tRemote)

	tLocal := time.Now()
	scan, err := m.scanner.Scan(ctx)
	if err != nil {
		logger.Debug("local scan failed, skipping pass", "error", err)
		return result, &PassError{PassID: passID, Stage: "scan local", Err: err}
	}
	tLocalState := time.Since(tLocal)

	pl := &planner{remoteDir: m.remoteDir, match: m.match, ignore: m.ignore}
	plan := pl.build(scan, listing)
	result.Plan = plan

	if plan.HasChanges() {
		logger.Debug("sync plan",
			"uploads", len(plan.ToUpload),
			"uploadSize", humanize.Bytes(uint64(plan.UploadBytes())),
			"deletes", len(plan.ToDelete),
			"upToDate", len(plan.UpToDate),
			"skipped", len(plan.Skipped),
		)

		a := &applier{
			store:     m.store,
			remoteDir: m.remoteDir,
			workers:   m.workers,
			logger:    logger,
			folders:   m.knownFolders(listing),
		}
		result.Actions = a.apply(ctx, plan)
	}

	if plan.HasChanges() || len(plan.Skipped) > 0 {
		logger.Info("sync pass",
			"uploaded", result.Uploaded(),
			"deleted", result.Deleted(),
			"verified", result.Verified(),
			"failed", result.Failed(),
			"upToDate", len(plan.UpToDate),
			"skipped", len(plan.Skipped),
			"ignored", plan.Ignored,
			"bytes", humanize.Bytes(uint64(result.BytesUploaded())),
			"hashed", len(scan.Files),
			"tsRemoteState", tRemoteState,
			"tsLocalState", tLocalState,
			"tsTotal", time.Since(result.Started),
		)
	} else {
		logger.Debug("in sync", "files", len(plan.UpToDate), "tsTotal", time.Since(result.Started))
	}

	if err := ctx.Err(); err != nil {
		return result, &PassError{PassID: passID, Stage: "apply", Err: err}
	}
	return result, nil
}

func (m *Mirror) listRemote(ctx context.Context, logger *slog.Logger) ([]*remote.Entry, error) {
	recursive := m.match == config.MatchPath
	listing, err := m.store.ListFolder(ctx, m.remoteDir, recursive)
	if err == nil {
		return listing, nil
	}
	if !errors.Is(err, remote.ErrNotFound) {
		return nil, err
	}

	// the remote root was removed behind our back
	logger.Warn("remote folder missing, recreating", "path", m.remoteDir)
	if err := m.EnsureRemoteFolder(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Mirror) knownFolders(listing []*remote.Entry) mapset.Set[string] {
	folders := mapset.NewSet[string](m.remoteDir)
	for _, e := range listing {
		if e.Kind == remote.KindFolder && e.RelPath != "" {
			folders.Add(utils.JoinRemote(m.remoteDir, e.RelPath))
		}
	}
	return folders
}
