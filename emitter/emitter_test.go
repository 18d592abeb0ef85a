package emitter

import (
	"sync"
	"testing"
)

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	e := New(0)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		e.AddListener("tick", func(args ...any) { order = append(order, i) })
	}
	e.Emit("tick")
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestOnceListenerFiresAtMostOnce(t *testing.T) {
	e := New(0)
	count := 0
	e.Once("x", func(args ...any) { count++ })
	e.Emit("x")
	e.Emit("x")
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestOnceRemovedBeforeReentrantEmitOfSameEvent(t *testing.T) {
	e := New(0)
	calls := 0
	e.Once("x", func(args ...any) {
		calls++
		if calls == 1 {
			e.Emit("x") // reentrant: must not re-invoke this once listener
		}
	})
	e.Emit("x")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestErrorEventWithNoListenerIsFatal(t *testing.T) {
	e := New(0)
	var gotArgs []any
	e.OnFatalError = func(args ...any) { gotArgs = args }
	e.Emit("error", "boom")
	if len(gotArgs) != 1 || gotArgs[0] != "boom" {
		t.Fatalf("gotArgs = %v", gotArgs)
	}
}

func TestEmitWithNoListenersIsNoopExceptError(t *testing.T) {
	e := New(0)
	fataled := false
	e.OnFatalError = func(args ...any) { fataled = true }
	e.Emit("nobody_listens")
	if fataled {
		t.Fatal("non-error emit with no listeners must not be fatal")
	}
}

func TestRemoveListenerDuringEmitAffectsOnlyFutureEmissions(t *testing.T) {
	e := New(0)
	var calls int
	var id ListenerID
	id = e.AddListener("x", func(args ...any) {
		calls++
		e.RemoveListener("x", id)
	})
	e.Emit("x")
	e.Emit("x")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (removal affects only future emits, snapshot protects current pass)", calls)
	}
}

func TestAddListenerDuringEmitDoesNotReceiveCurrentEmission(t *testing.T) {
	e := New(0)
	secondCalled := false
	e.AddListener("x", func(args ...any) {
		e.AddListener("x", func(args ...any) { secondCalled = true })
	})
	e.Emit("x")
	if secondCalled {
		t.Fatal("listener added during emit must not run in the same pass")
	}
	e.Emit("x")
	if !secondCalled {
		t.Fatal("listener added during prior emit should run on the next emission")
	}
}

func TestListenerAddedMetaEvent(t *testing.T) {
	e := New(0)
	var gotEvent string
	e.AddListener("listener_added", func(args ...any) {
		gotEvent = args[0].(string)
	})
	e.AddListener("data", func(args ...any) {})
	if gotEvent != "data" {
		t.Fatalf("gotEvent = %q, want %q", gotEvent, "data")
	}
}

func TestMaxListenersIsAdvisoryNotEnforced(t *testing.T) {
	e := New(1)
	e.AddListener("x", func(args ...any) {})
	e.AddListener("x", func(args ...any) {}) // should still be appended
	if e.ListenerCount("x") != 2 {
		t.Fatalf("ListenerCount = %d, want 2 (ceiling is advisory)", e.ListenerCount("x"))
	}
}

func TestConcurrentEmitAndMutationIsSafe(t *testing.T) {
	e := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := e.AddListener("x", func(args ...any) {})
			e.RemoveListener("x", id)
		}()
		go func() {
			defer wg.Done()
			e.Emit("x")
		}()
	}
	wg.Wait()
}

func TestSelfDestructorReleasesOnTerminalEvent(t *testing.T) {
	e := New(0)
	var sd SelfDestructor
	type obj struct{}
	o := &obj{}
	sd.Arm(e, "closed", o)
	if !sd.Armed() {
		t.Fatal("expected armed")
	}
	registryMu.Lock()
	_, present := registry[o]
	registryMu.Unlock()
	if !present {
		t.Fatal("expected self-reference held before terminal event")
	}
	e.Emit("closed")
	registryMu.Lock()
	_, present = registry[o]
	registryMu.Unlock()
	if present {
		t.Fatal("expected self-reference released after terminal event")
	}
}

func TestSelfDestructorArmIsIdempotent(t *testing.T) {
	e := New(0)
	var sd SelfDestructor
	sd.Arm(e, "closed", 1)
	sd.Arm(e, "never", 1) // no-op: already armed on "closed"
	if sd.event != "closed" {
		t.Fatalf("event = %q, want %q", sd.event, "closed")
	}
}
