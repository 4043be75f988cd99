package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/openmined/diskmirror/internal/utils"
)

// Syncer runs one reconciliation pass.
type Syncer interface {
	Sync(ctx context.Context) (*Result, error)
}

// Poller invokes a Syncer at a fixed cadence until its context is canceled.
// A failed or panicking pass is logged and the loop carries on.
type Poller struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(syncer Syncer, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		syncer:   syncer,
		interval: interval,
		logger:   utils.LoggerOrDefault(logger).With("component", "poller"),
	}
}

// Run performs a pass right away and then one per interval. It returns nil once ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("polling started", "interval", p.interval)

	// a timer and not a ticker, so a pass slower than the interval does not queue ticks
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped")
			return nil
		case <-timer.C:
			if ctx.Err() != nil {
				continue
			}
			p.logPass(p.RunOnce(ctx))
			timer.Reset(p.interval)
		}
	}
}

// RunOnce performs a single pass. Panics are converted into a *PassError.
func (p *Poller) RunOnce(ctx context.Context) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("pass panicked", "stack", string(debug.Stack()))
			result, err = nil, &PassError{PassID: "-", Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()
	return p.syncer.Sync(ctx)
}

func (p *Poller) logPass(_ *Result, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, ErrSyncAlreadyRunning):
		p.logger.Debug("previous pass still running")
	default:
		p.logger.Error("sync pass failed", "error", err)
	}
}
