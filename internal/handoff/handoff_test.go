// handoff_test.go tests rendezvous semantics: delivery, timeouts,
// cancellation and the absence of buffering.
package handoff

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOfferPoll_Rendezvous(t *testing.T) {
	h := New[int]()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, ok, err := h.Poll(context.Background(), time.Second)
		if err != nil {
			t.Errorf("poll error: %v", err)
			return
		}
		if !ok {
			t.Error("poll timed out")
			return
		}
		if v != 42 {
			t.Errorf("polled %d, want 42", v)
		}
	}()

	ok, err := h.Offer(context.Background(), 42, time.Second)
	if err != nil {
		t.Fatalf("offer error: %v", err)
	}
	if !ok {
		t.Fatal("offer timed out")
	}
	<-done
}

func TestOffer_TimesOutWithoutConsumer(t *testing.T) {
	h := New[int]()

	start := time.Now()
	ok, err := h.Offer(context.Background(), 1, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("offer error: %v", err)
	}
	if ok {
		t.Fatal("offer succeeded with no consumer")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("offer returned after %v, before the timeout", elapsed)
	}
}

func TestPoll_TimesOutWithoutProducer(t *testing.T) {
	h := New[int]()

	_, ok, err := h.Poll(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("poll error: %v", err)
	}
	if ok {
		t.Fatal("poll succeeded with no producer")
	}
}

func TestOffer_Cancelled(t *testing.T) {
	h := New[int]()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	ok, err := h.Offer(ctx, 1, time.Second)
	if ok {
		t.Fatal("offer succeeded after cancellation")
	}
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestPoll_Cancelled(t *testing.T) {
	h := New[int]()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, ok, err := h.Poll(ctx, time.Second)
	if ok {
		t.Fatal("poll succeeded after cancellation")
	}
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestTake_Stop(t *testing.T) {
	h := New[int]()
	stop := make(chan struct{})

	go close(stop)

	if _, ok := h.Take(stop); ok {
		t.Fatal("take returned a value after stop")
	}
}

func TestSecondOfferBlocksUntilFirstExchange(t *testing.T) {
	h := New[int]()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if ok, _ := h.Offer(context.Background(), v, time.Second); !ok {
				t.Errorf("offer of %d timed out", v)
			}
		}(i)
	}

	// Both producers are blocked; the consumer sees one value per Poll and
	// never a buffered surplus.
	for i := 0; i < 2; i++ {
		v, ok, err := h.Poll(context.Background(), time.Second)
		if err != nil || !ok {
			t.Fatalf("poll %d failed: ok=%v err=%v", i, ok, err)
		}
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
	}
	wg.Wait()

	if len(order) != 2 {
		t.Fatalf("received %d values, want 2", len(order))
	}
	if _, ok, _ := h.Poll(context.Background(), 10*time.Millisecond); ok {
		t.Fatal("received a third value from two offers")
	}
}
