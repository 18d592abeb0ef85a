package emitter

import "sync"

var (
	registryMu sync.Mutex
	registry   = make(map[any]any)
)

// SelfDestructor keeps a network object (socket stream, connection,
// server) alive across asynchronous callbacks by holding a strong
// self-reference, released the first time its designated terminal event
// fires. Embed it alongside an *Emitter in any type that must outlive
// the caller who constructed it.
type SelfDestructor struct {
	mu      sync.Mutex
	armed   bool
	event   string
	emitter *Emitter
}

// Arm wires self-destruction: the first firing of event on e releases
// self. Arming an already-armed destructor is a no-op, matching the
// "arming is idempotent" contract.
func (s *SelfDestructor) Arm(e *Emitter, event string, self any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return
	}
	s.armed = true
	s.event = event
	s.emitter = e

	registryMu.Lock()
	registry[self] = self
	registryMu.Unlock()

	e.Once(event, func(args ...any) {
		registryMu.Lock()
		delete(registry, self)
		registryMu.Unlock()
	})
}

// Armed reports whether Arm has already taken effect.
func (s *SelfDestructor) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}
