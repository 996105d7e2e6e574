package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/deadline"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/internal/ports"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Default driver timeouts.
const (
	DefaultDriverTimeout = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ShutdownTimeout is the default time to wait for queued requests on shutdown.
const ShutdownTimeout = 30 * time.Second

// ControllerConfig bounds the time spent waiting on the driver.
type ControllerConfig struct {
	DriverTimeout time.Duration
	ProbeTimeout  time.Duration
}

func (c *ControllerConfig) setDefaults() {
	if c.DriverTimeout <= 0 {
		c.DriverTimeout = DefaultDriverTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
}

// intent is a start or stop queued behind an in-flight transition.
type intent uint8

const (
	intentNone intent = iota
	intentStart
	intentStop
)

func (i intent) String() string {
	switch i {
	case intentStart:
		return "start"
	case intentStop:
		return "stop"
	default:
		return "none"
	}
}

// Controller drives the tunnel lifecycle. Start and stop requests are
// serialized through mu, which is never held across a driver call, so
// QueryRunning stays non-blocking regardless of driver latency.
type Controller struct {
	mu      sync.Mutex
	pending intent

	store  *Store
	driver ports.Driver
	logger log.Logger
	cfg    ControllerConfig

	wg sync.WaitGroup
}

// NewController creates a controller over the given driver and store.
func NewController(driver ports.Driver, store *Store, logger log.Logger, cfg ControllerConfig) *Controller {
	cfg.setDefaults()
	return &Controller{
		store:  store,
		driver: driver,
		logger: logger,
		cfg:    cfg,
	}
}

// Snapshot returns the current tunnel state.
func (c *Controller) Snapshot() domain.TunnelState {
	return c.store.Snapshot()
}

// QueryRunning reports whether the tunnel is believed to be running.
// It reflects the last reconciled state and never waits on the driver.
func (c *Controller) QueryRunning() bool {
	return c.store.Snapshot().Running()
}

// RequestStart starts the tunnel.
//
// From Stopped it invokes the driver and returns its outcome. Starting
// and Running are no-ops and leave any queued stop in place. From Stopping
// the start is queued and runs once the stop completes. From Error it
// returns ErrResetRequired.
func (c *Controller) RequestStart(ctx context.Context) error {
	c.mu.Lock()
	st := c.store.Snapshot()

	switch st.Phase {
	case domain.PhaseStarting, domain.PhaseRunning:
		c.mu.Unlock()
		return nil
	case domain.PhaseStopping:
		c.queue(intentStart)
		c.mu.Unlock()
		return nil
	case domain.PhaseError:
		c.mu.Unlock()
		if st.LastError == nil {
			return domain.ErrResetRequired
		}
		return fmt.Errorf("%w: %w", domain.ErrResetRequired, st.LastError)
	}

	next, err := c.store.Apply(Transition{To: domain.PhaseStarting, Reason: "start requested"})
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.drive(ctx, "start", next.Generation, c.driver.Start, domain.PhaseRunning)
}

// RequestStop stops the tunnel.
//
// From Running it invokes the driver. Stopped and Stopping are no-ops and
// leave any queued start in place.
// From Starting the stop is queued and runs once the start completes.
// From Error it resets to Stopped without calling the driver.
func (c *Controller) RequestStop(ctx context.Context) error {
	c.mu.Lock()
	st := c.store.Snapshot()

	switch st.Phase {
	case domain.PhaseStopped, domain.PhaseStopping:
		c.mu.Unlock()
		return nil
	case domain.PhaseStarting:
		c.queue(intentStop)
		c.mu.Unlock()
		return nil
	case domain.PhaseError:
		c.pending = intentNone
		_, err := c.store.Apply(Transition{To: domain.PhaseStopped, Reason: "reset"})
		c.mu.Unlock()
		return err
	}

	next, err := c.store.Apply(Transition{To: domain.PhaseStopping, Reason: "stop requested"})
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.drive(ctx, "stop", next.Generation, c.driver.Stop, domain.PhaseStopped)
}

// RefreshStatus probes the driver and reconciles the reply.
//
// A reply is applied only if no transition happened since the probe was
// issued and the phase is Stopped or Running. Otherwise the reply is stale
// and the current belief is returned instead. Probe failures leave the
// state unchanged and are returned to the caller.
func (c *Controller) RefreshStatus(ctx context.Context) (bool, error) {
	req := newStatusRequest(c.store.Snapshot().Generation)

	var reply probeReply
	err := c.withDeadline(ctx, c.cfg.ProbeTimeout, func(ctx context.Context) error {
		c.driver.Probe(ctx, req.resolve)
		select {
		case reply = <-req.reply:
			return reply.err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.QueryRunning(), ctxErr
		}
		c.logger.Warn("probe failed", log.Err(err), log.Uint64("generation", req.Generation))
		return c.QueryRunning(), &domain.DriverError{Op: "probe", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.store.Snapshot()
	if cur.Generation != req.Generation || !cur.Phase.Settled() {
		c.logger.Debug("dropping probe reply",
			log.Err(domain.ErrStaleReply),
			log.Uint64("issued", req.Generation),
			log.Uint64("current", cur.Generation),
			log.String("phase", cur.Phase.String()),
		)
		return cur.Running(), nil
	}

	observed := domain.PhaseStopped
	if reply.running {
		observed = domain.PhaseRunning
	}
	if observed != cur.Phase {
		if _, err := c.store.Apply(Transition{To: observed, Reason: "probe observed " + observed.String()}); err != nil {
			return cur.Running(), err
		}
	}
	return reply.running, nil
}

// RefreshStatusAsync runs RefreshStatus on a tracked goroutine and
// delivers the result to callback.
func (c *Controller) RefreshStatusAsync(ctx context.Context, callback func(running bool, err error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		callback(c.RefreshStatus(ctx))
	}()
}

// Wait blocks until queued requests and async refreshes have finished.
// Returns ErrShutdownTimeout if the timeout expires.
func (c *Controller) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		c.logger.Warn("queued requests still running", log.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}

// drive runs a driver start or stop for the transition at generation and
// settles the outcome. A queued follow-up is scheduled afterwards.
func (c *Controller) drive(ctx context.Context, op string, generation uint64, call func(context.Context) error, success domain.Phase) error {
	started := time.Now()
	callErr := c.withDeadline(ctx, c.cfg.DriverTimeout, call)

	c.mu.Lock()
	cur := c.store.Snapshot()
	if cur.Generation != generation {
		c.mu.Unlock()
		c.logger.Warn("driver reply superseded",
			log.String("op", op),
			log.Uint64("issued", generation),
			log.Uint64("current", cur.Generation),
		)
		if callErr != nil {
			return &domain.DriverError{Op: op, Err: callErr}
		}
		return nil
	}

	var result error
	if callErr != nil {
		result = &domain.DriverError{Op: op, Err: callErr}
		_, err := c.store.Apply(Transition{To: domain.PhaseError, Err: result, Reason: op + " failed"})
		if err != nil {
			c.logger.Error("failed to record driver failure", log.Err(err))
		}
	} else if _, err := c.store.Apply(Transition{To: success, Reason: op + " confirmed"}); err != nil {
		c.logger.Error("failed to record driver success", log.Err(err))
	}
	follow := c.pending
	c.pending = intentNone
	c.mu.Unlock()

	if callErr != nil {
		c.logger.Error("driver call failed", log.String("op", op), log.Err(callErr), log.Duration("took", time.Since(started)))
	} else {
		c.logger.Debug("driver call done", log.String("op", op), log.Duration("took", time.Since(started)))
	}

	c.schedule(ctx, follow)
	return result
}

// schedule runs a queued request on a tracked goroutine. The caller's
// context may already be done by then, so only its values are kept.
func (c *Controller) schedule(ctx context.Context, next intent) {
	if next == intentNone {
		return
	}
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		var err error
		switch next {
		case intentStart:
			err = c.RequestStart(ctx)
		case intentStop:
			err = c.RequestStop(ctx)
		}
		if err != nil {
			c.logger.Warn("queued request failed", log.String("intent", next.String()), log.Err(err))
		}
	}()
}

// queue records a follow-up request. Must be called with mu held.
func (c *Controller) queue(next intent) {
	if c.pending != next {
		c.logger.Info("request queued", log.String("intent", next.String()))
	}
	c.pending = next
}

// withDeadline runs call with a context that is cancelled when timeout
// expires. Expiry is reported as ErrDriverTimeout.
func (c *Controller) withDeadline(ctx context.Context, timeout time.Duration, call func(context.Context) error) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := deadline.New(timeout).Run(func(stopper <-chan struct{}) error {
		go func() {
			select {
			case <-stopper:
				cancel()
			case <-callCtx.Done():
			}
		}()
		return call(callCtx)
	})
	if errors.Is(err, deadline.ErrTimedOut) {
		return domain.ErrDriverTimeout
	}
	return err
}
