package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// mockLogger implements log.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...log.Field) {}
func (mockLogger) Info(msg string, fields ...log.Field)  {}
func (mockLogger) Warn(msg string, fields ...log.Field)  {}
func (mockLogger) Error(msg string, fields ...log.Field) {}

// mockEmitter records state change events.
type mockEmitter struct {
	mu     sync.Mutex
	events []stateChangeEvent
}

type stateChangeEvent struct {
	previous domain.TunnelState
	current  domain.TunnelState
	reason   string
}

func (m *mockEmitter) OnStateChange(previous, current domain.TunnelState, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, stateChangeEvent{previous, current, reason})
}

func (m *mockEmitter) Events() []stateChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stateChangeEvent{}, m.events...)
}

// fakeDriver is a scriptable ports.Driver.
// A non-nil gate blocks each Start/Stop call until a value is received or
// the gate is closed.
type fakeDriver struct {
	mu sync.Mutex

	starts int
	stops  int
	probes int

	startErr  error
	stopErr   error
	startGate chan struct{}
	stopGate  chan struct{}

	running  bool
	probeErr error

	// probeHook, when set, replaces the default asynchronous reply.
	probeHook func(reply func(bool, error))
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	d.starts++
	gate, err := d.startGate, d.startErr
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err == nil {
		d.mu.Lock()
		d.running = true
		d.mu.Unlock()
	}
	return err
}

func (d *fakeDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stops++
	gate, err := d.stopGate, d.stopErr
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err == nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}
	return err
}

func (d *fakeDriver) Probe(ctx context.Context, reply func(bool, error)) {
	d.mu.Lock()
	d.probes++
	hook, running, err := d.probeHook, d.running, d.probeErr
	d.mu.Unlock()

	if hook != nil {
		hook(reply)
		return
	}
	go reply(running, err)
}

func (d *fakeDriver) set(fn func(d *fakeDriver)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func (d *fakeDriver) counts() (starts, stops, probes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.probes
}

func newTestController(d *fakeDriver, emitter EventEmitter, cfg ControllerConfig) *Controller {
	store := NewStore(&mockLogger{}, emitter)
	return NewController(d, store, &mockLogger{}, cfg)
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func phaseIs(c *Controller, p domain.Phase) func() bool {
	return func() bool { return c.Snapshot().Phase == p }
}
