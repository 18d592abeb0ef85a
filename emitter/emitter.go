// Package emitter implements the typed, multi-listener publish/subscribe
// primitive that every network object in this toolkit embeds: listener
// registration, once-only subscriptions, ordered delivery, re-entrant
// emission, error propagation, and meta-events for listener add/remove.
//
// Listener callbacks take `...any` rather than a fixed per-event
// signature — the CRTP-style "readable events"/"writable events"
// mixins from the original design become, in Go, typed wrapper methods
// on top of this single generic emitter (see netstream and httpd for
// examples), rather than a derived-type trick.
package emitter

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// ListenerID identifies a registered callback for later removal.
type ListenerID uint64

// Listener is a generic event callback.
type Listener func(args ...any)

type registration struct {
	id   ListenerID
	once bool
	fn   Listener
}

type pendingEmit struct {
	event string
	args  []any
}

// Emitter is a named-event dispatcher with once/permanent listeners, a
// max-listener guard (advisory, not enforced), re-entrant emit depth
// tracking, and "listener_added"/"listener_removed" meta-events.
type Emitter struct {
	mu           sync.Mutex
	listeners    map[string][]registration
	nextID       uint64
	maxListeners int // 0 = unlimited

	// emitDepth tracks, per event, how many Emit calls for that event are
	// currently on the stack. When a listener re-enters Emit for the same
	// event it is emitting, the nested call is queued here instead of
	// recursing, and drained FIFO once the outer pass completes — this
	// keeps delivery order stable across pathological listener chains
	// without unbounded call-stack growth.
	emitDepth map[string]*int32
	pending   map[string]*queue.Queue

	// OnFatalError receives the structured error that an unsubscribed
	// "error" event would otherwise drop silently. Tests substitute this
	// for the default (log+no terminate) to observe fatal emissions
	// without invoking os.Exit.
	OnFatalError func(args ...any)

	Log *slog.Logger
}

// New creates an Emitter. maxListeners of 0 means unlimited (listener
// counts are checked but never refused — the ceiling is advisory).
func New(maxListeners int) *Emitter {
	e := &Emitter{
		listeners:    make(map[string][]registration),
		maxListeners: maxListeners,
		emitDepth:    make(map[string]*int32),
		pending:      make(map[string]*queue.Queue),
		Log:          slog.Default(),
	}
	e.OnFatalError = e.defaultFatalHandler
	return e
}

func (e *Emitter) defaultFatalHandler(args ...any) {
	e.Log.Error("unhandled error event", "args", fmt.Sprint(args...))
}

// AddListener registers callback for event, returning its ID.
func (e *Emitter) AddListener(event string, cb Listener) ListenerID {
	return e.add(event, cb, false)
}

// Once registers a callback removed immediately before its single
// invocation, so a re-entrant Emit on the same event during that
// invocation cannot invoke it a second time.
func (e *Emitter) Once(event string, cb Listener) ListenerID {
	return e.add(event, cb, true)
}

func (e *Emitter) add(event string, cb Listener, once bool) ListenerID {
	e.mu.Lock()
	id := ListenerID(atomic.AddUint64(&e.nextID, 1))
	list := e.listeners[event]
	atMax := e.maxListeners != 0 && len(list) >= e.maxListeners
	e.listeners[event] = append(list, registration{id: id, once: once, fn: cb})
	e.mu.Unlock()

	if atMax {
		e.Log.Warn("max listeners exceeded", "event", event, "max", e.maxListeners)
	}
	if event != "listener_added" && event != "listener_removed" {
		e.emitMeta("listener_added", event, cb) // ceiling is advisory: still fires
	}
	return id
}

func (e *Emitter) emitMeta(metaEvent, event string, cb Listener) {
	e.Emit(metaEvent, event, cb)
}

// RemoveListener removes the listener with id registered for event.
func (e *Emitter) RemoveListener(event string, id ListenerID) {
	e.mu.Lock()
	list := e.listeners[event]
	out := list[:0:0]
	var removed []registration
	for _, r := range list {
		if r.id == id {
			removed = append(removed, r)
			continue
		}
		out = append(out, r)
	}
	e.listeners[event] = out
	e.mu.Unlock()

	for _, r := range removed {
		if event != "listener_added" && event != "listener_removed" {
			e.emitMeta("listener_removed", event, r.fn)
		}
	}
}

// RemoveAllListeners clears event's listeners, or every event if event
// is empty.
func (e *Emitter) RemoveAllListeners(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if event == "" {
		e.listeners = make(map[string][]registration)
		return
	}
	delete(e.listeners, event)
}

// ListenerCount returns the number of listeners currently registered for
// event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// SetMaxListeners sets the advisory ceiling; 0 disables the warning.
func (e *Emitter) SetMaxListeners(n int) { e.maxListeners = n }

// Emit invokes every listener registered for event, in registration
// order, with args. Once-listeners are removed from the stored list
// before any invocation in this pass begins. A bare "error" emission with
// no listener is handed to OnFatalError (the default handler logs it at
// Error level and does not terminate the process); every other
// unsubscribed event is a silent no-op.
func (e *Emitter) Emit(event string, args ...any) {
	e.mu.Lock()
	depthPtr, ok := e.emitDepth[event]
	if !ok {
		var d int32
		depthPtr = &d
		e.emitDepth[event] = depthPtr
	}
	if atomic.LoadInt32(depthPtr) > 0 {
		// Re-entrant emit of the same event: queue instead of recursing.
		q, ok := e.pending[event]
		if !ok {
			q = queue.New()
			e.pending[event] = q
		}
		q.Add(pendingEmit{event: event, args: args})
		e.mu.Unlock()
		return
	}
	atomic.AddInt32(depthPtr, 1)
	snapshot, hadListeners := e.snapshotAndPruneOnce(event)
	e.mu.Unlock()

	if !hadListeners {
		if event == "error" {
			e.OnFatalError(args...)
		}
	} else {
		for _, r := range snapshot {
			r.fn(args...)
		}
	}

	atomic.AddInt32(depthPtr, -1)
	e.drainPending(event)
}

// snapshotAndPruneOnce removes once-listeners from the live list and
// returns a stable snapshot to invoke, plus whether any listener existed.
func (e *Emitter) snapshotAndPruneOnce(event string) ([]registration, bool) {
	list := e.listeners[event]
	if len(list) == 0 {
		return nil, false
	}
	snapshot := make([]registration, len(list))
	copy(snapshot, list)

	kept := list[:0:0]
	for _, r := range list {
		if !r.once {
			kept = append(kept, r)
		}
	}
	e.listeners[event] = kept
	return snapshot, true
}

func (e *Emitter) drainPending(event string) {
	for {
		e.mu.Lock()
		q := e.pending[event]
		if q == nil || q.Length() == 0 {
			e.mu.Unlock()
			return
		}
		next := q.Remove().(pendingEmit)
		e.mu.Unlock()
		e.Emit(next.event, next.args...)
	}
}
