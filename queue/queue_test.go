package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_Enqueue_And_Close(t *testing.T) {
	q := New(8)
	q.Start()
	defer q.Close()

	var count int64
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(Func(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)

	if c := atomic.LoadInt64(&count); c < 10 {
		t.Fatalf("want >=10 ops applied, got %d", c)
	}
}

func TestQueue_RunSync_ReturnsError(t *testing.T) {
	q := New(4)
	q.Start()
	defer q.Close()

	want := errors.New("boom")
	err := q.RunSync(func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := New(1)
	q.Start()
	q.Close()

	if err := q.Enqueue(Func(func(ctx context.Context) error { return nil })); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestQueue_PreservesOrder(t *testing.T) {
	q := New(16)
	q.Start()
	defer q.Close()

	var got []int
	var mu atomic.Int64
	done := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		i := i
		_ = q.Enqueue(Func(func(ctx context.Context) error {
			mu.Add(1)
			got = append(got, i)
			done <- struct{}{}
			return nil
		}))
	}
	for i := 0; i < 16; i++ {
		<-done
	}
	for i := 0; i < 16; i++ {
		if got[i] != i {
			t.Fatalf("order violated at %d: got %d", i, got[i])
		}
	}
}
