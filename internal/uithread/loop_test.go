package uithread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type countingPumper struct{ n atomic.Int32 }

func (p *countingPumper) Pump() { p.n.Add(1) }

func startLoop(t *testing.T, l *Loop) (context.CancelFunc, chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func TestCallRunsOnSingleGoroutineInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(nil)
	cancel, done := startLoop(t, l)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		if err := l.Call(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	want := errors.New("boom")
	if err := l.Call(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("Call err = %v, want %v", err, want)
	}

	cancel()
	<-done

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestPostAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(nil)
	cancel, done := startLoop(t, l)

	ran := make(chan struct{})
	l.Post(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("posted task did not run")
	}

	cancel()
	<-done

	if err := l.Call(func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Call after stop = %v, want ErrStopped", err)
	}
	l.Post(func() { t.Errorf("task ran after stop") })
}

func TestPumperIsDrained(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &countingPumper{}
	l := New(p)
	l.pumpInterval = time.Millisecond
	cancel, done := startLoop(t, l)

	deadline := time.Now().Add(2 * time.Second)
	for p.n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if p.n.Load() == 0 {
		t.Fatalf("pumper never ran")
	}
}

func TestInline(t *testing.T) {
	var d Dispatcher = Inline{}
	called := false
	d.Post(func() { called = true })
	if !called {
		t.Fatalf("Post should run synchronously")
	}
	if err := d.Call(func() error { return nil }); err != nil {
		t.Fatalf("Call: %v", err)
	}
}
