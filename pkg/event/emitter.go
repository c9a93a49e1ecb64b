package event

import "sync"

// Listener receives emitted values.
type Listener func(args ...any)

// Emitter fans named events out to listeners in registration order.
// Registering the same listener twice delivers twice.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]*Listener
}

// NewEmitter returns an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]*Listener)}
}

// On registers fn for name and returns a function removing this registration.
func (e *Emitter) On(name string, fn Listener) (off func()) {
	ref := &fn
	e.mu.Lock()
	e.listeners[name] = append(e.listeners[name], ref)
	e.mu.Unlock()
	return func() { e.remove(name, ref) }
}

// Off removes every listener for name.
func (e *Emitter) Off(name string) {
	e.mu.Lock()
	delete(e.listeners, name)
	e.mu.Unlock()
}

func (e *Emitter) remove(name string, ref *Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls := e.listeners[name]
	for i, l := range ls {
		if l == ref {
			e.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit calls the listeners for name. Listeners added during Emit are not
// called for that emission.
func (e *Emitter) Emit(name string, args ...any) {
	e.mu.RLock()
	ls := append([]*Listener(nil), e.listeners[name]...)
	e.mu.RUnlock()
	for _, l := range ls {
		(*l)(args...)
	}
}

// Count returns the number of listeners for name.
func (e *Emitter) Count(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}
