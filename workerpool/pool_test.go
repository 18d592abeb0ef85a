package workerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAllSubmittedTasksRun(t *testing.T) {
	p := New(4, 8)
	defer p.Close()

	var n int64
	const total = 200
	for i := 0; i < total; i++ {
		if err := p.Submit(func() { atomic.AddInt64(&n, 1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&n) != total && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&n); got != total {
		t.Fatalf("ran %d tasks, want %d", got, total)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := New(1, 1)
	p.Close()
	if err := p.Submit(func() {}); err != ErrClosed {
		t.Fatalf("Submit after Close: got %v, want ErrClosed", err)
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New(1, 2)
	defer p.Close()
	p.Submit(func() { panic("boom") })
	var ran int32
	p.Submit(func() { atomic.StoreInt32(&ran, 1) })
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&ran) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&ran) == 0 {
		t.Fatal("worker appears dead after panic")
	}
}
