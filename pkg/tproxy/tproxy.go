package tproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anyportal/tproxyctl/internal/adapters/command"
	"github.com/anyportal/tproxyctl/internal/adapters/fs"
	"github.com/anyportal/tproxyctl/internal/adapters/watch"
	"github.com/anyportal/tproxyctl/internal/app"
	"github.com/anyportal/tproxyctl/internal/endpoint"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Reply is the result of a control channel request. Result is nil for
// acknowledgements and set for status queries.
type Reply = endpoint.Reply

// Service owns the tunnel lifecycle. Use New to create one, then Run to
// start its background workers.
type Service struct {
	config     Config
	controller *app.Controller
	endpoint   *endpoint.Endpoint
	recorder   *fs.StateFileRecorder
	reconciler *app.Reconciler
	watcher    *watch.PIDFileWatcher
	logger     log.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Service in the Stopped phase.
// Returns an error if configuration is invalid.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}

	driver := o.driver
	if driver == nil {
		d, err := command.New(command.Config{
			Start:  cfg.StartCommand,
			Stop:   cfg.StopCommand,
			Status: cfg.StatusCommand,
		}, o.logger)
		if err != nil {
			return nil, err
		}
		driver = d
	}

	recorder := fs.NewStateFileRecorder(cfg.StateDir)
	emitter := &stateEmitter{recorder: recorder, handler: o.eventHandler, logger: o.logger}
	store := app.NewStore(o.logger, emitter)
	controller := app.NewController(driver, store, o.logger, app.ControllerConfig{
		DriverTimeout: cfg.DriverTimeout,
		ProbeTimeout:  cfg.ProbeTimeout,
	})

	s := &Service{
		config:     cfg,
		controller: controller,
		endpoint:   endpoint.New(controller),
		recorder:   recorder,
		reconciler: app.NewReconciler(controller, cfg.RefreshInterval, o.logger),
		logger:     o.logger,
	}
	if cfg.PIDFile != "" {
		s.watcher = watch.NewPIDFileWatcher(cfg.PIDFile, cfg.PIDDebounce, controller, o.logger)
	}
	return s, nil
}

// Run records the initial state, probes the tunnel once and runs the
// background workers until ctx is cancelled or a worker fails. A PID file
// watcher that cannot start is returned as an error. On return it waits for
// queued requests, returning ErrShutdownTimeout if they do not finish in time.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.recorder.Record(ctx, s.controller.Snapshot()); err != nil {
		s.logger.Warn("failed to record initial state", log.Err(err))
	}
	if running, err := s.controller.RefreshStatus(ctx); err != nil {
		s.logger.Warn("initial probe failed", log.Err(err))
	} else {
		s.logger.Info("initial probe", log.Bool("running", running))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.reconciler.Run(gctx) })
	if s.watcher != nil {
		g.Go(func() error {
			if err := s.watcher.Run(gctx); err != nil {
				return fmt.Errorf("pid file watcher: %w", err)
			}
			return nil
		})
	}

	// Workers may finish early (no refresh interval), so the service
	// lives until ctx is cancelled or a worker fails.
	<-gctx.Done()
	err := g.Wait()

	if waitErr := s.controller.Wait(app.ShutdownTimeout); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}

// RequestStart starts the tunnel. See the package docs for phase rules.
func (s *Service) RequestStart(ctx context.Context) error {
	return s.controller.RequestStart(ctx)
}

// RequestStop stops the tunnel, or clears the Error phase.
func (s *Service) RequestStop(ctx context.Context) error {
	return s.controller.RequestStop(ctx)
}

// QueryRunning reports the controller's belief without waiting.
func (s *Service) QueryRunning() bool {
	return s.controller.QueryRunning()
}

// RefreshStatus probes the tunnel and reconciles the controller's belief.
func (s *Service) RefreshStatus(ctx context.Context) (bool, error) {
	return s.controller.RefreshStatus(ctx)
}

// Snapshot returns the current state.
func (s *Service) Snapshot() State {
	return s.controller.Snapshot()
}

// Handle dispatches a control channel request by method name.
func (s *Service) Handle(ctx context.Context, method string) (Reply, error) {
	return s.endpoint.Handle(ctx, method)
}

// Wait blocks until queued requests have finished or timeout expires.
func (s *Service) Wait(timeout time.Duration) error {
	return s.controller.Wait(timeout)
}

// StatePath returns the location of status.json.
func (s *Service) StatePath() string {
	return s.recorder.Path()
}
