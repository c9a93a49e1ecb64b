package lifecycle

import (
	"context"
	"sync"

	"github.com/bft-labs/eventship/pkg/log"
)

// Manager drives a handle through its states and owns the background
// goroutines started on its behalf. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	state   State
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  log.Logger
	emitter EventEmitter
}

// NewManager returns a stopped manager. emitter may be nil.
func NewManager(logger log.Logger, emitter EventEmitter) *Manager {
	return &Manager{
		state:   StateStopped,
		logger:  log.OrNoop(logger),
		emitter: emitter,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TransitionTo moves to the given state or returns a *TransitionError.
func (m *Manager) TransitionTo(to State, reason string) error {
	m.mu.Lock()
	from, err := m.transitionLocked(to)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emit(from, to, reason)
	return nil
}

func (m *Manager) transitionLocked(to State) (State, error) {
	from := m.state
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	m.state = to
	return from, nil
}

func (m *Manager) emit(from, to State, reason string) {
	if m.emitter != nil {
		m.emitter.OnStateChange(from, to, reason)
	}
	m.logger.Info("state transition",
		log.String("from", from.String()),
		log.String("to", to.String()),
		log.String("reason", reason),
	)
}

// Start moves to Starting and derives the run context from ctx. Goroutines
// launched with Go receive the run context; Stop cancels it.
func (m *Manager) Start(ctx context.Context, reason string) error {
	m.mu.Lock()
	from, err := m.transitionLocked(StateStarting)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.emit(from, StateStarting, reason)
	return nil
}

// Go runs fn in a tracked goroutine with the run context. It must follow
// Start.
func (m *Manager) Go(fn func(ctx context.Context)) {
	m.mu.RLock()
	ctx := m.runCtx
	m.mu.RUnlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(ctx)
	}()
}

// Stop cancels the run context and moves to Stopping. It reports whether
// the transition happened; a crashed manager is cancelled but stays Crashed.
func (m *Manager) Stop(reason string) bool {
	m.mu.Lock()
	cancel := m.cancel
	from, err := m.transitionLocked(StateStopping)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err != nil {
		return false
	}
	m.emit(from, StateStopping, reason)
	return true
}

// Wait blocks until every goroutine started with Go has returned, or
// returns ctx.Err() when ctx ends first.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("background work still running", log.Err(ctx.Err()))
		return ctx.Err()
	}
}
