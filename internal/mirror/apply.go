package mirror

import (
	"context"
	"errors"
	"log/slog"
	"path"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/openmined/diskmirror/internal/remote"
	"github.com/openmined/diskmirror/internal/utils"
	"golang.org/x/sync/errgroup"
)

// applier executes a plan against the store.
type applier struct {
	store     remote.Store
	remoteDir string
	workers   int
	logger    *slog.Logger
	// folders known to exist on the remote during this pass
	folders mapset.Set[string]
}

func (a *applier) apply(ctx context.Context, plan *Plan) []ActionResult {
	tasks := make([]func(context.Context) ActionResult, 0, len(plan.ToUpload)+len(plan.ToDelete))
	for _, u := range plan.ToUpload {
		u := u
		tasks = append(tasks, func(ctx context.Context) ActionResult { return a.upload(ctx, u) })
	}
	for _, e := range plan.ToDelete {
		e := e
		tasks = append(tasks, func(ctx context.Context) ActionResult { return a.delete(ctx, e) })
	}

	results := make([]ActionResult, len(tasks))

	if a.workers <= 1 {
		for i, task := range tasks {
			results[i] = task(ctx)
		}
		return results
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.workers)
	for i, task := range tasks {
		i, task := i, task
		eg.Go(func() error {
			results[i] = task(egCtx)
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

func (a *applier) upload(ctx context.Context, u *PlannedUpload) ActionResult {
	res := ActionResult{Action: ActionUpload, Path: u.RemotePath, Size: u.File.Size}
	if err := ctx.Err(); err != nil {
		res.Outcome, res.Err = remote.OutcomeCanceled, err
		return res
	}

	// another pass or client may already have written this content
	current, err := a.store.GetRemoteHash(ctx, u.RemotePath)
	switch {
	case err == nil && current == u.File.Hash:
		a.logger.Debug("remote already current", "path", u.RemotePath)
		res.Action = ActionVerified
		return res
	case err != nil && !errors.Is(err, remote.ErrNotFound):
		if remote.Classify(err) == remote.OutcomeCanceled {
			res.Outcome, res.Err = remote.OutcomeCanceled, err
			return res
		}
		a.logger.Debug("remote hash unknown, uploading", "path", u.RemotePath, "error", err)
	}

	if err := a.ensureParents(ctx, u.File.RelPath); err != nil {
		a.logger.Error("upload failed", "path", u.RemotePath, "error", err)
		res.Outcome, res.Err = remote.Classify(err), err
		return res
	}

	if err := a.store.Upload(ctx, u.File.AbsPath, u.RemotePath); err != nil {
		res.Outcome, res.Err = remote.Classify(err), err
		a.logger.Error("upload failed", "path", u.RemotePath, "outcome", res.Outcome, "error", err)
		return res
	}

	a.logger.Info("uploaded", "path", u.RemotePath, "reason", u.Reason, "size", humanize.Bytes(uint64(u.File.Size)))
	return res
}

func (a *applier) delete(ctx context.Context, e *remote.Entry) ActionResult {
	res := ActionResult{Action: ActionDelete, Path: e.Path, Size: e.Size}
	if err := ctx.Err(); err != nil {
		res.Outcome, res.Err = remote.OutcomeCanceled, err
		return res
	}

	if err := a.store.Delete(ctx, e.Path); err != nil {
		res.Outcome, res.Err = remote.Classify(err), err
		a.logger.Error("delete failed", "path", e.Path, "outcome", res.Outcome, "error", err)
		return res
	}

	a.logger.Info("deleted", "path", e.Path)
	return res
}

// ensureParents creates the remote folders between the remote root and the file, top-down.
func (a *applier) ensureParents(ctx context.Context, relPath string) error {
	dir := path.Dir(relPath)
	if dir == "." || dir == "/" {
		return nil
	}

	var chain []string
	for d := dir; d != "." && d != "/"; d = path.Dir(d) {
		chain = append(chain, d)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		folder := utils.JoinRemote(a.remoteDir, chain[i])
		if a.folders.Contains(folder) {
			continue
		}
		if err := a.store.EnsureFolder(ctx, folder); err != nil {
			return err
		}
		a.folders.Add(folder)
	}
	return nil
}
