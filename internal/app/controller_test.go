package app

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/anyportal/tproxyctl/internal/domain"
)

func TestController_StartScenario(t *testing.T) {
	d := &fakeDriver{startGate: make(chan struct{})}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- c.RequestStart(ctx) }()

	waitFor(t, "Starting", phaseIs(c, domain.PhaseStarting))
	if starts, _, _ := d.counts(); starts != 1 {
		t.Errorf("driver starts = %d, want 1", starts)
	}
	if c.QueryRunning() {
		t.Error("QueryRunning() = true while Starting")
	}

	d.startGate <- struct{}{}
	if err := <-errCh; err != nil {
		t.Fatalf("RequestStart() error = %v", err)
	}

	if got := c.Snapshot().Phase; got != domain.PhaseRunning {
		t.Errorf("phase = %v, want Running", got)
	}
	if !c.QueryRunning() {
		t.Error("QueryRunning() = false after confirmed start")
	}
}

func TestController_RequestStart_Idempotent(t *testing.T) {
	d := &fakeDriver{startGate: make(chan struct{})}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- c.RequestStart(ctx) }()
	waitFor(t, "Starting", phaseIs(c, domain.PhaseStarting))

	for i := 0; i < 2; i++ {
		if err := c.RequestStart(ctx); err != nil {
			t.Errorf("RequestStart() while Starting = %v, want nil", err)
		}
	}

	close(d.startGate)
	if err := <-errCh; err != nil {
		t.Fatalf("RequestStart() error = %v", err)
	}
	if err := c.RequestStart(ctx); err != nil {
		t.Errorf("RequestStart() while Running = %v, want nil", err)
	}

	if starts, _, _ := d.counts(); starts != 1 {
		t.Errorf("driver starts = %d, want 1", starts)
	}
}

func TestController_QueryRunning_NeverBlocks(t *testing.T) {
	d := &fakeDriver{startGate: make(chan struct{})}
	c := newTestController(d, nil, ControllerConfig{})
	defer close(d.startGate)

	go func() { _ = c.RequestStart(context.Background()) }()
	waitFor(t, "Starting", phaseIs(c, domain.PhaseStarting))

	done := make(chan bool, 1)
	go func() { done <- c.QueryRunning() }()

	select {
	case running := <-done:
		if running {
			t.Error("QueryRunning() = true while driver is blocked")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("QueryRunning() blocked on the driver")
	}
}

func TestController_StopWithQueuedStart(t *testing.T) {
	d := &fakeDriver{}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	if err := c.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart() error = %v", err)
	}

	d.set(func(d *fakeDriver) {
		d.stopGate = make(chan struct{})
		d.startGate = make(chan struct{})
	})

	stopErr := make(chan error, 1)
	go func() { stopErr <- c.RequestStop(ctx) }()
	waitFor(t, "Stopping", phaseIs(c, domain.PhaseStopping))

	if err := c.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart() while Stopping = %v, want nil", err)
	}
	if got := c.Snapshot().Phase; got != domain.PhaseStopping {
		t.Errorf("phase = %v after queued start, want Stopping", got)
	}
	if starts, stops, _ := d.counts(); starts != 1 || stops != 1 {
		t.Errorf("driver starts/stops = %d/%d, want 1/1", starts, stops)
	}

	d.stopGate <- struct{}{}
	if err := <-stopErr; err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}

	waitFor(t, "queued start", phaseIs(c, domain.PhaseStarting))
	if starts, _, _ := d.counts(); starts != 2 {
		t.Errorf("driver starts = %d, want 2", starts)
	}

	d.startGate <- struct{}{}
	waitFor(t, "Running", phaseIs(c, domain.PhaseRunning))
	if err := c.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestController_StartFailure_RequiresReset(t *testing.T) {
	boom := errors.New("network extension refused")
	d := &fakeDriver{startErr: boom}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	err := c.RequestStart(ctx)
	if !errors.Is(err, domain.ErrDriver) || !errors.Is(err, boom) {
		t.Fatalf("RequestStart() error = %v, want DriverError wrapping cause", err)
	}

	st := c.Snapshot()
	if st.Phase != domain.PhaseError {
		t.Errorf("phase = %v, want Error", st.Phase)
	}
	if !errors.Is(st.LastError, boom) {
		t.Errorf("LastError = %v, want %v", st.LastError, boom)
	}

	err = c.RequestStart(ctx)
	if !errors.Is(err, domain.ErrResetRequired) {
		t.Errorf("RequestStart() in Error = %v, want ErrResetRequired", err)
	}
	if starts, _, _ := d.counts(); starts != 1 {
		t.Errorf("driver starts = %d, want 1", starts)
	}

	if err := c.RequestStop(ctx); err != nil {
		t.Fatalf("RequestStop() reset error = %v", err)
	}
	st = c.Snapshot()
	if st.Phase != domain.PhaseStopped || st.LastError != nil {
		t.Errorf("after reset: phase %v, LastError %v", st.Phase, st.LastError)
	}
	if _, stops, _ := d.counts(); stops != 0 {
		t.Errorf("reset called driver stop %d times, want 0", stops)
	}

	d.set(func(d *fakeDriver) { d.startErr = nil })
	if err := c.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart() after reset = %v", err)
	}
	if !c.QueryRunning() {
		t.Error("QueryRunning() = false after restart")
	}
}

func TestController_StopFailure(t *testing.T) {
	d := &fakeDriver{}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	_ = c.RequestStart(ctx)
	d.set(func(d *fakeDriver) { d.stopErr = errors.New("busy") })

	err := c.RequestStop(ctx)
	var de *domain.DriverError
	if !errors.As(err, &de) || de.Op != "stop" {
		t.Fatalf("RequestStop() error = %v, want stop DriverError", err)
	}
	if got := c.Snapshot().Phase; got != domain.PhaseError {
		t.Errorf("phase = %v, want Error", got)
	}
}

func TestController_StopDuringStart_Queued(t *testing.T) {
	d := &fakeDriver{startGate: make(chan struct{})}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	startErr := make(chan error, 1)
	go func() { startErr <- c.RequestStart(ctx) }()
	waitFor(t, "Starting", phaseIs(c, domain.PhaseStarting))

	if err := c.RequestStop(ctx); err != nil {
		t.Fatalf("RequestStop() while Starting = %v, want nil", err)
	}
	if got := c.Snapshot().Phase; got != domain.PhaseStarting {
		t.Errorf("stop pre-empted the start: phase = %v", got)
	}

	d.startGate <- struct{}{}
	if err := <-startErr; err != nil {
		t.Fatalf("RequestStart() error = %v", err)
	}

	waitFor(t, "queued stop", phaseIs(c, domain.PhaseStopped))
	if _, stops, _ := d.counts(); stops != 1 {
		t.Errorf("driver stops = %d, want 1", stops)
	}
	if err := c.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestController_QueuedStopResetsFailedStart(t *testing.T) {
	d := &fakeDriver{startGate: make(chan struct{}), startErr: errors.New("boom")}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	startErr := make(chan error, 1)
	go func() { startErr <- c.RequestStart(ctx) }()
	waitFor(t, "Starting", phaseIs(c, domain.PhaseStarting))

	_ = c.RequestStop(ctx)
	d.startGate <- struct{}{}

	if err := <-startErr; !errors.Is(err, domain.ErrDriver) {
		t.Fatalf("RequestStart() error = %v, want ErrDriver", err)
	}
	waitFor(t, "reset", phaseIs(c, domain.PhaseStopped))
	if _, stops, _ := d.counts(); stops != 0 {
		t.Errorf("driver stops = %d, want 0", stops)
	}
}

func TestController_QueuedRequestNotDiscarded(t *testing.T) {
	t.Run("repeated start keeps queued stop", func(t *testing.T) {
		d := &fakeDriver{startGate: make(chan struct{})}
		c := newTestController(d, nil, ControllerConfig{})
		ctx := context.Background()

		startErr := make(chan error, 1)
		go func() { startErr <- c.RequestStart(ctx) }()
		waitFor(t, "Starting", phaseIs(c, domain.PhaseStarting))

		_ = c.RequestStop(ctx)
		if err := c.RequestStart(ctx); err != nil {
			t.Fatalf("RequestStart() while Starting = %v, want nil", err)
		}
		d.startGate <- struct{}{}
		<-startErr

		if err := c.Wait(time.Second); err != nil {
			t.Fatalf("Wait() = %v", err)
		}
		if got := c.Snapshot().Phase; got != domain.PhaseStopped {
			t.Errorf("phase = %v, want Stopped", got)
		}
		if starts, stops, _ := d.counts(); starts != 1 || stops != 1 {
			t.Errorf("driver starts/stops = %d/%d, want 1/1", starts, stops)
		}
	})

	t.Run("repeated stop keeps queued start", func(t *testing.T) {
		d := &fakeDriver{}
		c := newTestController(d, nil, ControllerConfig{})
		ctx := context.Background()
		_ = c.RequestStart(ctx)

		gate := make(chan struct{})
		d.set(func(d *fakeDriver) { d.stopGate = gate })
		stopErr := make(chan error, 1)
		go func() { stopErr <- c.RequestStop(ctx) }()
		waitFor(t, "Stopping", phaseIs(c, domain.PhaseStopping))

		_ = c.RequestStart(ctx)
		if err := c.RequestStop(ctx); err != nil {
			t.Fatalf("RequestStop() while Stopping = %v, want nil", err)
		}
		gate <- struct{}{}
		<-stopErr

		if err := c.Wait(time.Second); err != nil {
			t.Fatalf("Wait() = %v", err)
		}
		if got := c.Snapshot().Phase; got != domain.PhaseRunning {
			t.Errorf("phase = %v, want Running", got)
		}
		if starts, stops, _ := d.counts(); starts != 2 || stops != 1 {
			t.Errorf("driver starts/stops = %d/%d, want 2/1", starts, stops)
		}
	})
}

func TestController_DriverTimeout(t *testing.T) {
	d := &fakeDriver{startGate: make(chan struct{})}
	c := newTestController(d, nil, ControllerConfig{DriverTimeout: 20 * time.Millisecond})

	err := c.RequestStart(context.Background())
	if !errors.Is(err, domain.ErrDriverTimeout) {
		t.Fatalf("RequestStart() error = %v, want ErrDriverTimeout", err)
	}
	if got := c.Snapshot().Phase; got != domain.PhaseError {
		t.Errorf("phase = %v, want Error", got)
	}
}

func TestController_RefreshStatus_Reconciles(t *testing.T) {
	d := &fakeDriver{running: true}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	running, err := c.RefreshStatus(ctx)
	if err != nil || !running {
		t.Fatalf("RefreshStatus() = %v, %v; want true, nil", running, err)
	}
	if !c.QueryRunning() {
		t.Error("probe reporting active did not reconcile to Running")
	}

	d.set(func(d *fakeDriver) { d.running = false })
	running, err = c.RefreshStatus(ctx)
	if err != nil || running {
		t.Fatalf("RefreshStatus() = %v, %v; want false, nil", running, err)
	}
	if got := c.Snapshot(); got.Phase != domain.PhaseStopped || got.Generation != 2 {
		t.Errorf("state = %v/%d, want Stopped/2", got.Phase, got.Generation)
	}

	// Matching belief applies no transition.
	_, _ = c.RefreshStatus(ctx)
	if got := c.Snapshot().Generation; got != 2 {
		t.Errorf("generation = %d after no-op probe, want 2", got)
	}
}

func TestController_RefreshStatus_StaleReplyDropped(t *testing.T) {
	replies := make(chan func(bool, error), 1)
	d := &fakeDriver{probeHook: func(reply func(bool, error)) { replies <- reply }}
	c := newTestController(d, nil, ControllerConfig{})
	ctx := context.Background()

	type result struct {
		running bool
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		running, err := c.RefreshStatus(ctx)
		resCh <- result{running, err}
	}()

	reply := <-replies
	issued := c.Snapshot().Generation

	if err := c.RequestStart(ctx); err != nil {
		t.Fatalf("RequestStart() error = %v", err)
	}
	if c.Snapshot().Generation <= issued {
		t.Fatal("generation did not advance")
	}

	reply(false, nil)
	res := <-resCh
	if res.err != nil {
		t.Fatalf("RefreshStatus() error = %v", res.err)
	}
	if !res.running {
		t.Error("stale reply leaked: RefreshStatus() = false, want current belief true")
	}
	if got := c.Snapshot().Phase; got != domain.PhaseRunning {
		t.Errorf("stale reply changed phase to %v", got)
	}
}

func TestController_RefreshStatus_InTransitNotApplied(t *testing.T) {
	d := &fakeDriver{startGate: make(chan struct{}), running: true}
	c := newTestController(d, nil, ControllerConfig{})
	defer close(d.startGate)

	go func() { _ = c.RequestStart(context.Background()) }()
	waitFor(t, "Starting", phaseIs(c, domain.PhaseStarting))
	gen := c.Snapshot().Generation

	running, err := c.RefreshStatus(context.Background())
	if err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	if running {
		t.Error("RefreshStatus() = true while Starting")
	}
	if st := c.Snapshot(); st.Phase != domain.PhaseStarting || st.Generation != gen {
		t.Errorf("probe during start changed state to %v/%d", st.Phase, st.Generation)
	}
}

func TestController_RefreshStatus_ProbeError(t *testing.T) {
	unreachable := errors.New("extension unreachable")
	d := &fakeDriver{probeErr: unreachable}
	c := newTestController(d, nil, ControllerConfig{})

	_, err := c.RefreshStatus(context.Background())
	if !errors.Is(err, domain.ErrDriver) || !errors.Is(err, unreachable) {
		t.Fatalf("RefreshStatus() error = %v, want DriverError", err)
	}
	if st := c.Snapshot(); st.Phase != domain.PhaseStopped || st.Generation != 0 {
		t.Errorf("probe failure changed state to %v/%d", st.Phase, st.Generation)
	}
}

func TestController_RefreshStatus_Timeout(t *testing.T) {
	d := &fakeDriver{probeHook: func(reply func(bool, error)) {}}
	c := newTestController(d, nil, ControllerConfig{ProbeTimeout: 20 * time.Millisecond})

	_, err := c.RefreshStatus(context.Background())
	if !errors.Is(err, domain.ErrDriverTimeout) {
		t.Fatalf("RefreshStatus() error = %v, want ErrDriverTimeout", err)
	}
}

func TestController_RefreshStatus_ContextCancelled(t *testing.T) {
	d := &fakeDriver{probeHook: func(reply func(bool, error)) {}}
	c := newTestController(d, nil, ControllerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RefreshStatus(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RefreshStatus() error = %v, want context.Canceled", err)
	}
}

func TestController_RefreshStatus_DuplicateReply(t *testing.T) {
	d := &fakeDriver{probeHook: func(reply func(bool, error)) {
		reply(true, nil)
		reply(false, nil)
	}}
	c := newTestController(d, nil, ControllerConfig{})

	running, err := c.RefreshStatus(context.Background())
	if err != nil || !running {
		t.Fatalf("RefreshStatus() = %v, %v; want first reply", running, err)
	}
}

func TestController_RefreshStatusAsync(t *testing.T) {
	d := &fakeDriver{running: true}
	c := newTestController(d, nil, ControllerConfig{})

	got := make(chan bool, 1)
	c.RefreshStatusAsync(context.Background(), func(running bool, err error) {
		if err != nil {
			t.Errorf("callback error = %v", err)
		}
		got <- running
	})

	select {
	case running := <-got:
		if !running {
			t.Error("callback running = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	if err := c.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestController_Wait_Timeout(t *testing.T) {
	d := &fakeDriver{probeHook: func(reply func(bool, error)) {}}
	c := newTestController(d, nil, ControllerConfig{ProbeTimeout: time.Second})

	c.RefreshStatusAsync(context.Background(), func(bool, error) {})
	if err := c.Wait(10 * time.Millisecond); !errors.Is(err, domain.ErrShutdownTimeout) {
		t.Errorf("Wait() = %v, want ErrShutdownTimeout", err)
	}
	_ = c.Wait(2 * time.Second)
}

// TestController_Interleavings drives random concurrent requests and
// checks that every recorded transition is an allowed edge and that
// generations advance by exactly one per transition.
func TestController_Interleavings(t *testing.T) {
	emitter := &mockEmitter{}
	d := &fakeDriver{}
	c := newTestController(d, emitter, ControllerConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				switch rng.Intn(4) {
				case 0:
					_ = c.RequestStart(ctx)
				case 1:
					_ = c.RequestStop(ctx)
				case 2:
					_, _ = c.RefreshStatus(ctx)
				case 3:
					fail := rng.Intn(3) == 0
					d.set(func(d *fakeDriver) {
						if fail {
							d.startErr = errors.New("flaky")
						} else {
							d.startErr = nil
						}
					})
				}
			}
		}(int64(g))
	}
	wg.Wait()

	if err := c.Wait(5 * time.Second); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	events := emitter.Events()
	for i, ev := range events {
		if !ev.previous.Phase.CanTransitionTo(ev.current.Phase) {
			t.Errorf("event %d: disallowed transition %v -> %v", i, ev.previous.Phase, ev.current.Phase)
		}
		if ev.current.Generation != ev.previous.Generation+1 {
			t.Errorf("event %d: generation %d -> %d", i, ev.previous.Generation, ev.current.Generation)
		}
		if i > 0 && events[i-1].current.Generation != ev.previous.Generation {
			t.Errorf("event %d: events out of order", i)
		}
	}

	final := c.Snapshot()
	if final.Phase.InTransit() {
		t.Errorf("final phase %v still in transit", final.Phase)
	}
}
