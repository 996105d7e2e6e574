package app

import (
	"sync"
	"time"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Transition is a requested phase change.
type Transition struct {
	To domain.Phase

	// Err becomes LastError when To is PhaseError. Ignored otherwise.
	Err error

	Reason string
}

// EventEmitter is called after every applied transition.
// It runs while the controller holds its request lock, so implementations
// must not call RequestStart, RequestStop or RefreshStatus.
type EventEmitter interface {
	OnStateChange(previous, current domain.TunnelState, reason string)
}

// Store holds the tunnel state. Only the Controller mutates it.
type Store struct {
	mu           sync.RWMutex
	state        domain.TunnelState
	logger       log.Logger
	eventEmitter EventEmitter
	now          func() time.Time
}

// NewStore creates a store in PhaseStopped at generation 0.
func NewStore(logger log.Logger, emitter EventEmitter) *Store {
	return &Store{
		state:        domain.TunnelState{Phase: domain.PhaseStopped, UpdatedAt: time.Now()},
		logger:       logger,
		eventEmitter: emitter,
		now:          time.Now,
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.TunnelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Apply validates and applies a transition, bumping the generation.
// Returns ErrInvalidTransition and leaves the state untouched if the edge
// is not allowed.
func (s *Store) Apply(t Transition) (domain.TunnelState, error) {
	s.mu.Lock()
	previous := s.state

	if !previous.Phase.CanTransitionTo(t.To) {
		s.mu.Unlock()
		return previous, domain.ErrInvalidTransition
	}

	next := domain.TunnelState{
		Phase:      t.To,
		Generation: previous.Generation + 1,
		UpdatedAt:  s.now(),
	}
	if t.To == domain.PhaseError {
		next.LastError = t.Err
	}
	s.state = next
	s.mu.Unlock()

	if s.eventEmitter != nil {
		s.eventEmitter.OnStateChange(previous, next, t.Reason)
	}

	s.logger.Info("state transition",
		log.String("from", previous.Phase.String()),
		log.String("to", next.Phase.String()),
		log.Uint64("generation", next.Generation),
		log.String("reason", t.Reason),
	)

	return next, nil
}
