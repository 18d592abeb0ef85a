package xerr

import (
	"errors"
	"testing"
)

func TestOrderedPairsPreserveInsertionAndDuplicates(t *testing.T) {
	e := New("boom").Add("a", "1").Add("b", "2").Add("a", "3")
	pairs := e.Pairs()
	want := []KV{{"description", "boom"}, {"a", "1"}, {"b", "2"}, {"a", "3"}}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i, kv := range want {
		if pairs[i] != kv {
			t.Fatalf("pair %d = %+v, want %+v", i, pairs[i], kv)
		}
	}
}

func TestFreezeRejectsMutation(t *testing.T) {
	e := New("boom").Freeze()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic mutating frozen error")
		}
	}()
	e.Add("x", "y")
}

func TestInvalidErrorSentinel(t *testing.T) {
	var e Error
	if e.Error() != "Invalid Error" {
		t.Fatalf("got %q, want sentinel", e.Error())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := Wrap("failed", cause)
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find wrapped cause")
	}
	if !e.HasException() {
		t.Fatal("expected HasException true")
	}
}

func TestChildFreezesOnAttach(t *testing.T) {
	child := New("inner")
	parent := New("outer").WithChild(child)
	if !child.Frozen() {
		t.Fatal("child should be frozen once attached")
	}
	if parent.Child() != child {
		t.Fatal("parent should retain child reference")
	}
}
