package pcm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueuePushPopOrder(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 3; i++ {
		if _, err := q.Push([]byte{byte(i)}); err != nil {
			t.Fatalf("Push(%d) error: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		frame, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() #%d returned nothing", i)
		}
		if frame[0] != byte(i) {
			t.Errorf("TryPop() #%d = %d, want %d", i, frame[0], i)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue should return false")
	}
}

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(3)
	var drops int
	for i := 0; i < 5; i++ {
		dropped, err := q.Push([]byte{byte(i)})
		if err != nil {
			t.Fatalf("Push(%d) error: %v", i, err)
		}
		if dropped {
			drops++
		}
	}

	if drops != 2 {
		t.Errorf("reported drops = %d, want 2", drops)
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", q.Dropped())
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	want := []byte{2, 3, 4}
	for _, w := range want {
		frame, _ := q.TryPop()
		if frame[0] != w {
			t.Errorf("got frame %d, want %d", frame[0], w)
		}
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(2)
	q.Push([]byte{1})
	q.Close()
	q.Close()

	if _, err := q.Push([]byte{2}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close error = %v, want ErrQueueClosed", err)
	}

	ctx := context.Background()
	frame, ok := q.Pop(ctx)
	if !ok || frame[0] != 1 {
		t.Fatalf("Pop() should drain queued frame, got %v %v", frame, ok)
	}
	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop() on closed empty queue should return false")
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue(2)
	got := make(chan byte, 1)

	go func() {
		frame, ok := q.Pop(context.Background())
		if ok {
			got <- frame[0]
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push([]byte{7})

	select {
	case b := <-got:
		if b != 7 {
			t.Errorf("Pop() = %d, want 7", b)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not wake up after Push")
	}
}

func TestQueuePopContextCancel(t *testing.T) {
	q := NewQueue(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop() should return false when context expires")
	}
}
