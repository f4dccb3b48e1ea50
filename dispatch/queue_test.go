package dispatch

import (
	"testing"
	"time"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(16)
	defer q.Stop()

	results := make(chan int, 8)
	for i := 0; i < 8; i++ {
		i := i
		q.Submit(func() { results <- i })
	}

	for i := 0; i < 8; i++ {
		select {
		case got := <-results:
			if got != i {
				t.Fatalf("expected %d, got %d", i, got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for dispatched callback")
		}
	}
}

func TestQueueStopIsIdempotent(t *testing.T) {
	q := NewQueue(1)
	q.Stop()
	q.Stop()
}
