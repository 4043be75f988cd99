// Package daemon runs the mirror as a long lived process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/flock"
	"github.com/openmined/diskmirror/internal/config"
	"github.com/openmined/diskmirror/internal/mirror"
	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

var ErrInstanceLocked = errors.New("another diskmirror instance is running")

// Daemon owns the instance lock and the poll loop.
type Daemon struct {
	cfg    *config.Config
	store  remote.Store
	mirror *mirror.Mirror
	poller *mirror.Poller
	flock  *flock.Flock
	logger *slog.Logger
}

// New wires the mirror for cfg on top of store. Local files are read from fsys.
func New(cfg *config.Config, store remote.Store, fsys afero.Fs, logger *slog.Logger) (*Daemon, error) {
	logger = utils.LoggerOrDefault(logger)

	m, err := mirror.New(&mirror.Options{
		Store:     store,
		LocalDir:  cfg.LocalDir,
		RemoteDir: cfg.RemoteDir,
		Match:     cfg.Match,
		Workers:   cfg.Workers,
		Exclude:   cfg.Exclude,
		Fs:        fsys,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var lock *flock.Flock
	if cfg.LockFile != "" {
		lock = flock.New(cfg.LockFile)
	}

	return &Daemon{
		cfg:    cfg,
		store:  store,
		mirror: m,
		poller: mirror.NewPoller(m, cfg.Interval, logger),
		flock:  lock,
		logger: logger.With("component", "daemon"),
	}, nil
}

// Start blocks until ctx is canceled. Startup failures are returned before the loop begins.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.unlock()

	d.logger.Info("daemon start",
		"backend", d.store.Name(),
		"local", d.cfg.LocalDir,
		"remote", d.cfg.RemoteDir,
		"match", d.cfg.Match,
		"interval", d.cfg.Interval,
		"workers", d.cfg.Workers,
	)

	if err := d.mirror.EnsureRemoteFolder(ctx); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return d.poller.Run(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		d.logger.Info("received interrupt signal, stopping daemon")
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("daemon failure", "error", err)
		return err
	}

	d.logger.Info("daemon stopped")
	return nil
}

// RunOnce performs a single pass, for the `once` command.
func (d *Daemon) RunOnce(ctx context.Context) (*mirror.Result, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.unlock()

	if err := d.mirror.EnsureRemoteFolder(ctx); err != nil {
		return nil, err
	}
	return d.poller.RunOnce(ctx)
}

func (d *Daemon) lock() error {
	if d.flock == nil {
		return nil
	}
	if err := utils.EnsureParent(d.flock.Path()); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	locked, err := d.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", d.flock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w (lock file %s)", ErrInstanceLocked, d.flock.Path())
	}
	return nil
}

func (d *Daemon) unlock() {
	// only the holder removes the lock file
	if d.flock == nil || !d.flock.Locked() {
		return
	}
	if err := d.flock.Unlock(); err != nil {
		d.logger.Warn("unlock failed", "error", err)
		return
	}
	_ = os.Remove(d.flock.Path())
}
