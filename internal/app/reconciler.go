package app

import (
	"context"
	"time"

	"github.com/anyportal/tproxyctl/pkg/log"
)

// StatusRefresher forces a fresh probe of the tunnel.
type StatusRefresher interface {
	RefreshStatus(ctx context.Context) (bool, error)
}

// maxBackoffFactor caps the retry delay at this multiple of the interval.
const maxBackoffFactor = 8

// Reconciler periodically probes the driver so the controller notices
// when the tunnel process changes state on its own.
type Reconciler struct {
	refresher StatusRefresher
	interval  time.Duration
	logger    log.Logger
	backoff   *backoff
}

// NewReconciler creates a reconciler. A non-positive interval disables it.
func NewReconciler(refresher StatusRefresher, interval time.Duration, logger log.Logger) *Reconciler {
	return &Reconciler{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
		backoff:   newBackoff(interval, interval*maxBackoffFactor),
	}
}

// Run probes every interval until ctx is cancelled. After a failed probe
// the delay grows exponentially and resets on the next success.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		wait := r.interval
		running, err := r.refresher.RefreshStatus(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			wait = r.backoff.next()
			r.logger.Warn("reconcile probe failed", log.Err(err), log.Duration("retry_in", wait))
		default:
			r.backoff.reset()
			r.logger.Debug("reconciled", log.Bool("running", running))
		}

		timer.Reset(wait)
	}
}
