// Package xerr implements a structured, chainable error carrying an
// ordered sequence of key/value context pairs and an optional wrapped
// exception, matching the contract described for the toolkit's error
// value: duplicates allowed, insertion order preserved, freeze-on-attach.
package xerr

import (
	"fmt"
	"strings"
)

// KV is one ordered (name, value) context pair. Slices, not maps, carry
// the pairs so duplicate keys and insertion order both survive.
type KV struct {
	Name  string
	Value string
}

// Error is the toolkit-wide structured error type.
type Error struct {
	pairs   []KV
	child   *Error
	wrapped error
	frozen  bool
}

// New creates an Error with the required "description" pair.
func New(description string) *Error {
	return &Error{pairs: []KV{{Name: "description", Value: description}}}
}

// Wrap creates an Error around a captured Go error, preserving it in the
// wrapped slot for later retrieval via Unwrap.
func Wrap(description string, cause error) *Error {
	e := New(description)
	e.wrapped = cause
	return e
}

// hasDescription reports whether the required field is present; every
// mutating method panics with a ProgrammingError if it is missing, which
// can only happen if a caller bypasses New/Wrap.
func (e *Error) hasDescription() bool {
	for _, kv := range e.pairs {
		if kv.Name == "description" {
			return true
		}
	}
	return false
}

// Add appends a context pair in order. Duplicates are permitted.
func (e *Error) Add(name, value string) *Error {
	e.mustMutable()
	e.pairs = append(e.pairs, KV{Name: name, Value: value})
	return e
}

// Addf is Add with a formatted value.
func (e *Error) Addf(name, format string, args ...any) *Error {
	return e.Add(name, fmt.Sprintf(format, args...))
}

// Where tags the call site that observed the failure.
func (e *Error) Where(site string) *Error {
	return e.Add("where", site)
}

// Category tags the error's structural classification (Transport,
// Protocol, State, Resource, NotImplemented).
func (e *Error) Category(cat string) *Error {
	return e.Add("category", cat)
}

// Code attaches a system/protocol error code.
func (e *Error) Code(code int) *Error {
	return e.Addf("error_code", "%d", code)
}

// Get returns the first value recorded for name, if any.
func (e *Error) Get(name string) (string, bool) {
	for _, kv := range e.pairs {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// Pairs returns the ordered context pairs, including duplicates.
func (e *Error) Pairs() []KV {
	out := make([]KV, len(e.pairs))
	copy(out, e.pairs)
	return out
}

// Freeze marks the error immutable; used when attaching it as a child of
// another error, per the "frozen child" lifecycle rule.
func (e *Error) Freeze() *Error {
	e.frozen = true
	return e
}

// Frozen reports whether further mutation would fail.
func (e *Error) Frozen() bool { return e.frozen }

func (e *Error) mustMutable() {
	if !e.hasDescription() {
		panic(&ProgrammingError{Msg: "error missing required description field"})
	}
	if e.frozen {
		panic(&ProgrammingError{Msg: "attempt to change a frozen error"})
	}
}

// WithChild attaches a (now frozen) child error and returns the parent.
func (e *Error) WithChild(child *Error) *Error {
	e.mustMutable()
	child.Freeze()
	e.child = child
	return e
}

// Child returns the nested child error, or nil.
func (e *Error) Child() *Error { return e.child }

// HasException reports whether this error, or any child, wraps a Go error.
func (e *Error) HasException() bool {
	if e.wrapped != nil {
		return true
	}
	if e.child != nil {
		return e.child.HasException()
	}
	return false
}

// Unwrap exposes the wrapped cause for errors.Is/As interop.
func (e *Error) Unwrap() error { return e.wrapped }

// Error implements the error interface. An Error without a description
// pair renders as the "Invalid Error" sentinel, per contract.
func (e *Error) Error() string {
	if !e.hasDescription() {
		return "Invalid Error"
	}
	var b strings.Builder
	desc, _ := e.Get("description")
	b.WriteString(desc)
	for _, kv := range e.pairs {
		if kv.Name == "description" {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", kv.Name, kv.Value)
	}
	if e.wrapped != nil {
		fmt.Fprintf(&b, " cause=%v", e.wrapped)
	}
	if e.child != nil {
		fmt.Fprintf(&b, " | child: %s", e.child.Error())
	}
	return b.String()
}

// ProgrammingError signals misuse of the Error contract itself (mutating
// a frozen error, or omitting the description field).
type ProgrammingError struct{ Msg string }

func (p *ProgrammingError) Error() string { return p.Msg }
