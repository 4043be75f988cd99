// Package backend builds the remote.Store selected by the configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/openmined/diskmirror/internal/config"
	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/remote/localfs"
	"github.com/openmined/diskmirror/internal/remote/s3store"
	"github.com/openmined/diskmirror/internal/remote/yadisk"
	"github.com/spf13/afero"
)

// Factory creates a Store from the configuration.
type Factory func(ctx context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (remote.Store, error)

var factories = map[string]Factory{
	config.BackendYandexDisk: newYandexDisk,
	config.BackendS3:         newS3,
	config.BackendDir:        newDir,
}

// Names lists the registered backends.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the Store for cfg.Backend. Local files are read from fsys.
func New(ctx context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (remote.Store, error) {
	factory, ok := factories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q (available: %v)", config.ErrConfig, cfg.Backend, Names())
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	store, err := factory(ctx, cfg, fsys, logger)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Backend, err)
	}
	return store, nil
}

func newYandexDisk(_ context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (remote.Store, error) {
	client, err := yadisk.New(&yadisk.Options{
		Token:   cfg.Token,
		BaseURL: cfg.APIURL,
		Retries: cfg.Retries,
		Timeout: cfg.RequestTimeout,
		Fs:      fsys,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newS3(ctx context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (remote.Store, error) {
	store, err := s3store.New(ctx, &s3store.Options{
		Bucket:     cfg.S3.Bucket,
		Region:     cfg.S3.Region,
		Endpoint:   cfg.S3.Endpoint,
		AccessKey:  cfg.S3.AccessKey,
		SecretKey:  cfg.S3.SecretKey,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Fs:         fsys,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newDir(_ context.Context, _ *config.Config, fsys afero.Fs, logger *slog.Logger) (remote.Store, error) {
	return localfs.New(&localfs.Options{
		Root:   "/",
		Target: afero.NewOsFs(),
		Source: fsys,
		Logger: logger,
	}), nil
}
